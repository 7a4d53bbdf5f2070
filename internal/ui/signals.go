package ui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/apexwatch/client/internal/derive"
	"github.com/apexwatch/client/internal/store"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

var signalHeaders = []string{"Symbol", "Address", "Type", "Urgency", "Price", "Exp. Return", "Confidence"}

// SignalsView displays the current buy signals, one row per signal.
type SignalsView struct {
	table *tview.Table
}

// NewSignalsView creates a new signals table.
func NewSignalsView() *SignalsView {
	table := tview.NewTable().
		SetBorders(false).
		SetFixed(1, 0)

	table.SetTitle(" Live Buy Signals ").SetBorder(true)

	v := &SignalsView{table: table}
	v.setHeader()
	return v
}

// Widget returns the tview primitive.
func (v *SignalsView) Widget() tview.Primitive {
	return v.table
}

func (v *SignalsView) setHeader() {
	for col, header := range signalHeaders {
		cell := tview.NewTableCell(header).
			SetTextColor(tview.Styles.SecondaryTextColor).
			SetAlign(tview.AlignLeft).
			SetSelectable(false).
			SetExpansion(1)
		v.table.SetCell(0, col, cell)
	}
}

// Update replaces every row with the signals in state.
// An empty list shows the placeholder for the current connection status.
func (v *SignalsView) Update(state store.ClientState) {
	v.table.Clear()
	v.setHeader()

	if placeholder := derive.Placeholder(state); placeholder != "" {
		cell := tview.NewTableCell(placeholder).
			SetTextColor(tcell.ColorGray).
			SetSelectable(false)
		v.table.SetCell(1, 0, cell)
		v.table.SetTitle(" Live Buy Signals ")
		return
	}

	for i, sig := range state.Signals {
		row := i + 1
		color := urgencyColor(sig)
		for col, text := range signalRow(sig) {
			cell := tview.NewTableCell(text).
				SetAlign(tview.AlignLeft)
			if col == 3 {
				cell.SetTextColor(color)
			}
			v.table.SetCell(row, col, cell)
		}
	}

	v.table.SetTitle(fmt.Sprintf(" Live Buy Signals (%d) ", derive.SignalCount(state)))
}

// signalRow formats the table cells for one signal.
func signalRow(sig store.Signal) []string {
	return []string{
		sig.Symbol,
		derive.ShortAddress(sig.Address),
		sig.Type,
		"URGENCY " + strconv.Itoa(sig.Urgency),
		derive.PriceUSD(sig),
		signedPercent(derive.ExpectedReturnPercent(sig)),
		derive.ConfidencePercent(sig) + "%",
	}
}

func signedPercent(p string) string {
	if strings.HasPrefix(p, "-") {
		return p + "%"
	}
	return "+" + p + "%"
}

func urgencyColor(sig store.Signal) tcell.Color {
	if derive.IsHighUrgency(sig) {
		return tcell.ColorRed
	}
	return tcell.ColorGreen
}
