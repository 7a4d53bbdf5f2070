package ui

import (
	"fmt"
	"time"

	"github.com/apexwatch/client/internal/metrics"
	"github.com/rivo/tview"
)

// StatsDashboardView displays ingest health metrics.
type StatsDashboardView struct {
	textView *tview.TextView
}

// NewStatsDashboardView creates a new stats dashboard view.
func NewStatsDashboardView() *StatsDashboardView {
	textView := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(false)

	textView.SetTitle(" Stream Health ").SetBorder(true)

	return &StatsDashboardView{
		textView: textView,
	}
}

// Widget returns the tview primitive.
func (v *StatsDashboardView) Widget() tview.Primitive {
	return v.textView
}

// Update refreshes the stats display.
func (v *StatsDashboardView) Update(snapshot metrics.Snapshot) {
	v.textView.Clear()
	fmt.Fprint(v.textView, statsText(snapshot, time.Now()))
}

func statsText(snapshot metrics.Snapshot, now time.Time) string {
	wsColor := "red"
	switch snapshot.WebSocketStatus {
	case "connected":
		wsColor = "green"
	case "connecting":
		wsColor = "yellow"
	}

	lastFrame := "never"
	if !snapshot.LastFrameAt.IsZero() {
		lastFrame = formatAgo(snapshot.LastFrameAt, now)
	}

	producer := "not probed"
	if !snapshot.ProducerProbedAt.IsZero() {
		producer = fmt.Sprintf("%s (%d signals, %s)",
			snapshot.ProducerStatus, snapshot.ProducerSignals, formatAgo(snapshot.ProducerProbedAt, now))
	}

	var ignored int64
	for _, n := range snapshot.IgnoredByType {
		ignored += n
	}

	return fmt.Sprintf(`[yellow]Connection[-]
Uptime: %s
WebSocket: [%s]%s[-]
Producer: %s
Connects: %d  Disconnects: %d  Restarts: %d

[yellow]Frames[-]
Total: %d  Rate: %.2f/s
Last frame: %s
Applied: %d  Ignored: %d  Malformed: %d
`,
		formatDuration(snapshot.Uptime),
		wsColor, snapshot.WebSocketStatus,
		producer,
		snapshot.Connects, snapshot.Disconnects, snapshot.Restarts,
		snapshot.FramesTotal, snapshot.FrameRate,
		lastFrame,
		snapshot.UpdatesApplied, ignored, snapshot.DecodeErrors,
	)
}

// formatDuration formats a duration in human-readable form.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%.0fm", d.Minutes())
	}
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh %dm", hours, minutes)
}

// formatAgo formats t relative to now as "X ago".
func formatAgo(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}

	elapsed := now.Sub(t)

	if elapsed < time.Minute {
		return fmt.Sprintf("%.0fs ago", elapsed.Seconds())
	}
	if elapsed < time.Hour {
		return fmt.Sprintf("%.0fm ago", elapsed.Minutes())
	}
	if elapsed < 24*time.Hour {
		return fmt.Sprintf("%.0fh ago", elapsed.Hours())
	}
	return fmt.Sprintf("%.0fd ago", elapsed.Hours()/24)
}
