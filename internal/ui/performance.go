package ui

import (
	"fmt"
	"time"

	"github.com/apexwatch/client/internal/derive"
	"github.com/apexwatch/client/internal/store"
	"github.com/rivo/tview"
)

// PerformanceView displays the connection badge and aggregate producer metrics.
type PerformanceView struct {
	textView *tview.TextView
}

// NewPerformanceView creates a new performance header.
func NewPerformanceView() *PerformanceView {
	textView := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(false)

	textView.SetTitle(" APEX ").SetBorder(true)

	return &PerformanceView{
		textView: textView,
	}
}

// Widget returns the tview primitive.
func (v *PerformanceView) Widget() tview.Primitive {
	return v.textView
}

// Update refreshes the header from state.
func (v *PerformanceView) Update(state store.ClientState, session string) {
	v.textView.Clear()
	fmt.Fprint(v.textView, performanceText(state, session, time.Now()))
}

func statusColor(status store.ConnectionStatus) string {
	switch status {
	case store.StatusConnected:
		return "green"
	case store.StatusConnecting:
		return "yellow"
	default:
		return "red"
	}
}

func performanceText(state store.ClientState, session string, now time.Time) string {
	trading := state.Performance.Trading
	system := state.Performance.System

	pnlColor := "green"
	if trading.TotalPnL.IsNegative() {
		pnlColor = "red"
	}

	lastUpdate := "never"
	if !state.UpdatedAt.IsZero() {
		lastUpdate = formatAgo(state.UpdatedAt, now)
	}

	if len(session) > 8 {
		session = session[:8]
	}

	return fmt.Sprintf(`[%s::b]● %s[-::-]   session %s   last update %s
[yellow]Balance[-] [::b]%s[::-]   [yellow]PnL[-] [%s]%s[-]   [yellow]Win Rate[-] %s%%   [yellow]Trades[-] %d
[yellow]Scan Rate[-] %s   [yellow]Tokens Scanned[-] %d   [yellow]Signals[-] %d`,
		statusColor(state.ConnectionStatus), derive.StatusLabel(state),
		session, lastUpdate,
		derive.BalanceUSD(state),
		pnlColor, derive.PnLUSD(state),
		derive.WinRatePercent(state),
		trading.TotalTrades,
		derive.ScanRate(state),
		system.TokensScanned,
		derive.SignalCount(state),
	)
}
