// Package store provides the client-side data model and the state store that owns it.
package store

import (
	"time"

	"github.com/shopspring/decimal"
)

// Signal represents one trading opportunity pushed by the producer.
type Signal struct {
	// Address is the token address, unique within one snapshot
	Address string `json:"address"`

	// Symbol is the short display name
	Symbol string `json:"symbol"`

	// CurrentPrice is the token price in USD
	CurrentPrice decimal.Decimal `json:"current_price"`

	// ExpectedReturn is a fraction (0.5 = +50%)
	ExpectedReturn float64 `json:"expected_return"`

	// Confidence is a fraction in [0,1], passed through unclamped
	Confidence float64 `json:"confidence"`

	// Urgency is an integer severity, conventionally 1-10
	Urgency int `json:"urgency"`

	// Type is the producer's category tag (NEW_LISTING, MOMENTUM_BREAK, ...)
	Type string `json:"type"`
}

// SystemStats holds scanner throughput figures.
type SystemStats struct {
	TokensScanned int64   `json:"tokens_scanned"`
	ScanRate      float64 `json:"scan_rate"` // items per second
}

// TradingStats holds account and trade figures.
type TradingStats struct {
	CurrentBalance decimal.Decimal `json:"current_balance"`
	TotalPnL       decimal.Decimal `json:"total_pnl"`
	WinRate        float64         `json:"win_rate"` // fraction in [0,1]
	TotalTrades    int64           `json:"total_trades"`
}

// PerformanceSnapshot is a point-in-time view of aggregate producer metrics.
type PerformanceSnapshot struct {
	System  SystemStats  `json:"system"`
	Trading TradingStats `json:"trading"`
}

// InitialBalance is the balance shown before the producer reports one.
var InitialBalance = decimal.NewFromInt(10)

// DefaultPerformance returns the performance values a fresh client starts with.
func DefaultPerformance() PerformanceSnapshot {
	return PerformanceSnapshot{
		Trading: TradingStats{
			CurrentBalance: InitialBalance,
			TotalPnL:       decimal.Zero,
		},
	}
}

// ConnectionStatus is the lifecycle state of the streaming connection.
type ConnectionStatus int

const (
	StatusConnecting ConnectionStatus = iota
	StatusConnected
	StatusDisconnected
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// MarshalText lets the status render as a string in JSON payloads.
func (s ConnectionStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ClientState is the single authoritative view held by a Store.
type ClientState struct {
	// Signals is fully replaced on every applied update
	Signals []Signal `json:"signals"`

	// Performance is replaced only when an update carries one
	Performance PerformanceSnapshot `json:"performance"`

	// ConnectionStatus mirrors the listener lifecycle
	ConnectionStatus ConnectionStatus `json:"connection_status"`

	// UpdatedAt is the local time of the last applied update (zero before the first)
	UpdatedAt time.Time `json:"updated_at"`

	// ProducerTime is the producer's timestamp for the last applied update, if it sent one
	ProducerTime time.Time `json:"producer_time"`
}

// InitialState returns the state a client instance starts with.
func InitialState() ClientState {
	return ClientState{
		Signals:          []Signal{},
		Performance:      DefaultPerformance(),
		ConnectionStatus: StatusConnecting,
	}
}

// Update is an accepted "update" message as seen by the store.
// A nil BuySignals means the message carried no signal list; a nil
// Performance means it carried no metrics.
type Update struct {
	BuySignals   []Signal
	Performance  *PerformanceSnapshot
	ProducerTime time.Time
}
