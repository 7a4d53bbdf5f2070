// Package derive computes display values from client state.
// Every function is pure and never mutates its input.
package derive

import (
	"math"
	"strconv"

	"github.com/apexwatch/client/internal/store"
	"github.com/shopspring/decimal"
)

// HighUrgencyThreshold is the urgency at which a signal is emphasized.
const HighUrgencyThreshold = 8

const (
	addrHead = 8
	addrTail = 6
)

// Empty-list placeholders.
const (
	PlaceholderScanning   = "Scanning for 95%+ confidence opportunities..."
	PlaceholderConnecting = "Connecting to APEX..."
)

var hundred = decimal.NewFromInt(100)

// percent scales a fraction to a percentage rounded to places decimals.
func percent(fraction float64, places int32) string {
	if math.IsNaN(fraction) || math.IsInf(fraction, 0) {
		return strconv.FormatFloat(fraction, 'f', -1, 64)
	}
	return decimal.NewFromFloat(fraction).Mul(hundred).StringFixed(places)
}

// WinRatePercent renders the win rate as a percentage with one decimal ("65.2").
func WinRatePercent(state store.ClientState) string {
	return percent(state.Performance.Trading.WinRate, 1)
}

// ExpectedReturnPercent renders the expected return as a whole percentage.
func ExpectedReturnPercent(sig store.Signal) string {
	return percent(sig.ExpectedReturn, 0)
}

// ConfidencePercent renders the confidence as a whole percentage.
func ConfidencePercent(sig store.Signal) string {
	return percent(sig.Confidence, 0)
}

// IsHighUrgency reports whether sig is in the high urgency tier.
func IsHighUrgency(sig store.Signal) bool {
	return sig.Urgency >= HighUrgencyThreshold
}

// ShortAddress keeps the first 8 and last 6 characters of addr.
// Addresses too short to truncate are returned unmodified.
func ShortAddress(addr string) string {
	r := []rune(addr)
	if len(r) < addrHead+addrTail {
		return addr
	}
	return string(r[:addrHead]) + "..." + string(r[len(r)-addrTail:])
}

// SignalCount is the number of signals currently shown.
func SignalCount(state store.ClientState) int {
	return len(state.Signals)
}

// BalanceUSD renders the current balance ("$10.00").
func BalanceUSD(state store.ClientState) string {
	return "$" + state.Performance.Trading.CurrentBalance.StringFixed(2)
}

// PnLUSD renders total profit and loss with an explicit sign.
func PnLUSD(state store.ClientState) string {
	pnl := state.Performance.Trading.TotalPnL
	if pnl.IsNegative() {
		return "-$" + pnl.Abs().StringFixed(2)
	}
	return "+$" + pnl.StringFixed(2)
}

// PriceUSD renders a signal price with six decimals.
func PriceUSD(sig store.Signal) string {
	return "$" + sig.CurrentPrice.StringFixed(6)
}

// ScanRate renders the scanner throughput ("1200/s").
func ScanRate(state store.ClientState) string {
	return strconv.FormatFloat(state.Performance.System.ScanRate, 'f', -1, 64) + "/s"
}

// StatusLabel is the short connection badge.
func StatusLabel(state store.ClientState) string {
	switch state.ConnectionStatus {
	case store.StatusConnected:
		return "LIVE"
	case store.StatusConnecting:
		return "CONNECTING"
	default:
		return "OFFLINE"
	}
}

// Placeholder returns the text shown in place of an empty signal list,
// or "" when there are signals to show.
func Placeholder(state store.ClientState) string {
	if len(state.Signals) > 0 {
		return ""
	}
	if state.ConnectionStatus == store.StatusConnected {
		return PlaceholderScanning
	}
	return PlaceholderConnecting
}
