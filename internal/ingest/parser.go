// Package ingest handles the producer WebSocket connection and message decoding.
package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/apexwatch/client/internal/store"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// MessageTypeUpdate is the only envelope type that changes client state.
const MessageTypeUpdate = "update"

// ParseError reports a frame that is not a well-formed envelope.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse envelope: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Envelope is one decoded producer message.
type Envelope struct {
	// Type is the message discriminator ("update", or anything else to ignore)
	Type string

	// BuySignals is nil when the message carried no list (absent or null)
	BuySignals []store.Signal

	// SellSignals is passed through undecoded; the client only counts them
	SellSignals []json.RawMessage

	// Performance is nil when the message carried no metrics
	Performance *store.PerformanceSnapshot

	// Timestamp is the producer send time, zero if absent
	Timestamp time.Time
}

// IsUpdate reports whether the envelope should be applied to state.
func (e Envelope) IsUpdate() bool {
	return e.Type == MessageTypeUpdate
}

// Update converts the envelope into the store's update form.
func (e Envelope) Update() store.Update {
	return store.Update{
		BuySignals:   e.BuySignals,
		Performance:  e.Performance,
		ProducerTime: e.Timestamp,
	}
}

// wireEnvelope mirrors the producer JSON.
type wireEnvelope struct {
	Type        string                     `json:"type"`
	Timestamp   *float64                   `json:"timestamp"`
	BuySignals  []wireSignal               `json:"buy_signals" validate:"dive"`
	SellSignals []json.RawMessage          `json:"sell_signals"`
	Performance *store.PerformanceSnapshot `json:"performance"`
}

// wireSignal uses pointers so that a missing field can be told apart from a zero value.
type wireSignal struct {
	Address        *string          `json:"address" validate:"required"`
	Symbol         *string          `json:"symbol" validate:"required"`
	CurrentPrice   *decimal.Decimal `json:"current_price" validate:"required"`
	ExpectedReturn *float64         `json:"expected_return" validate:"required"`
	Confidence     *float64         `json:"confidence" validate:"required"`
	Urgency        *int             `json:"urgency" validate:"required"`
	Type           *string          `json:"type" validate:"required"`
}

var validate = validator.New()

// Decode parses a raw frame into an Envelope. Any failure is returned as *ParseError.
// Envelopes with an unknown type decode successfully.
func Decode(data []byte) (Envelope, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Envelope{}, &ParseError{Err: errors.New("frame is not a JSON object")}
	}

	var msg wireEnvelope
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return Envelope{}, &ParseError{Err: fmt.Errorf("failed to unmarshal message: %w", err)}
	}

	if err := validate.Struct(msg); err != nil {
		return Envelope{}, &ParseError{Err: fmt.Errorf("incomplete signal: %w", err)}
	}

	env := Envelope{
		Type:        msg.Type,
		SellSignals: msg.SellSignals,
		Performance: msg.Performance,
		Timestamp:   parseTimestamp(msg.Timestamp),
	}

	if msg.BuySignals != nil {
		env.BuySignals = convertSignals(msg.BuySignals)
	}

	return env, nil
}

// convertSignals converts validated wire signals to store.Signal.
func convertSignals(data []wireSignal) []store.Signal {
	signals := make([]store.Signal, 0, len(data))

	for _, ws := range data {
		signals = append(signals, store.Signal{
			Address:        *ws.Address,
			Symbol:         *ws.Symbol,
			CurrentPrice:   *ws.CurrentPrice,
			ExpectedReturn: *ws.ExpectedReturn,
			Confidence:     *ws.Confidence,
			Urgency:        *ws.Urgency,
			Type:           *ws.Type,
		})
	}

	return signals
}

// parseTimestamp converts fractional unix seconds to time.Time.
func parseTimestamp(ts *float64) time.Time {
	if ts == nil || *ts <= 0 {
		return time.Time{}
	}
	sec, frac := math.Modf(*ts)
	return time.Unix(int64(sec), int64(frac*1e9))
}
