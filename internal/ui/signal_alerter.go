package ui

import (
	"fmt"
	"time"

	"github.com/apexwatch/client/internal/derive"
	"github.com/apexwatch/client/internal/store"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// alert is a signal the dashboard saw for the first time.
type alert struct {
	seenAt time.Time
	signal store.Signal
}

// SignalAlerterView lists signals as they first appear, newest first.
type SignalAlerterView struct {
	list     *tview.List
	alerts   []alert
	seen     map[string]struct{}
	maxItems int
}

// NewSignalAlerterView creates a new signal alerter view.
func NewSignalAlerterView() *SignalAlerterView {
	list := tview.NewList().
		ShowSecondaryText(true)

	list.SetTitle(" 🚨 New Signals ").SetBorder(true)
	list.SetMainTextColor(tcell.ColorWhite)

	v := &SignalAlerterView{
		list:     list,
		alerts:   make([]alert, 0, 50),
		seen:     make(map[string]struct{}),
		maxItems: 50,
	}
	v.rebuildList()
	return v
}

// Widget returns the tview primitive.
func (v *SignalAlerterView) Widget() tview.Primitive {
	return v.list
}

// Observe records signals whose address was not in the previous update.
// It reports how many new signals were found.
func (v *SignalAlerterView) Observe(state store.ClientState, now time.Time) int {
	current := make(map[string]struct{}, len(state.Signals))
	fresh := 0
	for _, sig := range state.Signals {
		current[sig.Address] = struct{}{}
		if _, ok := v.seen[sig.Address]; ok {
			continue
		}
		v.alerts = append([]alert{{seenAt: now, signal: sig}}, v.alerts...)
		fresh++
	}
	v.seen = current

	if len(v.alerts) > v.maxItems {
		v.alerts = v.alerts[:v.maxItems]
	}
	if fresh > 0 {
		v.rebuildList()
	}
	return fresh
}

// rebuildList rebuilds the entire list from alerts.
func (v *SignalAlerterView) rebuildList() {
	v.list.Clear()

	if len(v.alerts) == 0 {
		v.list.AddItem("No signals yet", "", 0, nil)
		return
	}

	for _, a := range v.alerts {
		mainText, secondaryText := formatAlert(a)
		v.list.AddItem(mainText, secondaryText, 0, nil)
	}

	v.list.SetTitle(fmt.Sprintf(" 🚨 New Signals (%d) ", len(v.alerts)))
}

// formatAlert formats an alert for display.
func formatAlert(a alert) (string, string) {
	icon := "🟢"
	if derive.IsHighUrgency(a.signal) {
		icon = "🔴"
	}

	mainText := fmt.Sprintf("%s %s %s %s", a.seenAt.Format("15:04:05"), icon, a.signal.Symbol, a.signal.Type)
	secondaryText := fmt.Sprintf("%s | %s | %s | conf %s%%",
		derive.ShortAddress(a.signal.Address),
		derive.PriceUSD(a.signal),
		signedPercent(derive.ExpectedReturnPercent(a.signal)),
		derive.ConfidencePercent(a.signal))

	return mainText, secondaryText
}
