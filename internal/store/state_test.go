package store

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sig(addr string, urgency int) Signal {
	return Signal{
		Address:        addr,
		Symbol:         "TOKEN",
		CurrentPrice:   decimal.RequireFromString("0.000123"),
		ExpectedReturn: 0.5,
		Confidence:     0.9,
		Urgency:        urgency,
		Type:           "NEW_LISTING",
	}
}

func perf(balance string, winRate float64) *PerformanceSnapshot {
	return &PerformanceSnapshot{
		System: SystemStats{TokensScanned: 120, ScanRate: 900},
		Trading: TradingStats{
			CurrentBalance: decimal.RequireFromString(balance),
			TotalPnL:       decimal.Zero,
			WinRate:        winRate,
			TotalTrades:    3,
		},
	}
}

func TestInitialState(t *testing.T) {
	s := NewStore().Snapshot()

	assert.NotNil(t, s.Signals)
	assert.Empty(t, s.Signals)
	assert.Equal(t, StatusConnecting, s.ConnectionStatus)
	assert.True(t, s.Performance.Trading.CurrentBalance.Equal(decimal.NewFromInt(10)))
	assert.True(t, s.Performance.Trading.TotalPnL.IsZero())
	assert.Zero(t, s.Performance.Trading.WinRate)
	assert.Zero(t, s.Performance.System.ScanRate)
	assert.True(t, s.UpdatedAt.IsZero())
}

func TestApplyReplacesSignals(t *testing.T) {
	st := NewStore()

	st.Apply(Update{BuySignals: []Signal{sig("0xaaa", 9), sig("0xbbb", 5)}})
	st.Apply(Update{BuySignals: []Signal{sig("0xccc", 7)}})

	got := st.Snapshot().Signals
	require.Len(t, got, 1)
	assert.Equal(t, "0xccc", got[0].Address)
}

func TestApplyMissingSignalsClearsList(t *testing.T) {
	st := NewStore()
	st.Apply(Update{BuySignals: []Signal{sig("0xaaa", 9)}})

	st.Apply(Update{Performance: perf("11", 0.5)})

	got := st.Snapshot().Signals
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestApplyPerformanceFallback(t *testing.T) {
	st := NewStore()
	st.Apply(Update{Performance: perf("12.5", 0.6524)})
	before := st.Snapshot().Performance

	st.Apply(Update{BuySignals: []Signal{sig("0xaaa", 3)}})

	after := st.Snapshot().Performance
	assert.True(t, after.Trading.CurrentBalance.Equal(before.Trading.CurrentBalance))
	assert.Equal(t, before.Trading.WinRate, after.Trading.WinRate)
	assert.Equal(t, before.System, after.System)
}

func TestApplyPerformanceFallbackToDefaults(t *testing.T) {
	st := NewStore()

	st.Apply(Update{BuySignals: []Signal{}})

	p := st.Snapshot().Performance
	assert.True(t, p.Trading.CurrentBalance.Equal(InitialBalance))
}

func TestApplyKeepsStatus(t *testing.T) {
	st := NewStore()
	st.SetStatus(StatusConnected)

	st.Apply(Update{BuySignals: []Signal{sig("0xaaa", 3)}})

	assert.Equal(t, StatusConnected, st.Snapshot().ConnectionStatus)
}

func TestApplyNotifiesOncePerCall(t *testing.T) {
	st := NewStore()
	var seen []ClientState
	st.Subscribe(func(s ClientState) { seen = append(seen, s) })

	st.Apply(Update{BuySignals: []Signal{sig("0xaaa", 9)}, Performance: perf("20", 0.1)})
	st.Apply(Update{})

	require.Len(t, seen, 2)
	// first notification already carries both halves of the update
	require.Len(t, seen[0].Signals, 1)
	assert.True(t, seen[0].Performance.Trading.CurrentBalance.Equal(decimal.NewFromInt(20)))
	assert.Empty(t, seen[1].Signals)
	assert.True(t, seen[1].Performance.Trading.CurrentBalance.Equal(decimal.NewFromInt(20)))
}

func TestSetStatusNotifiesOnChangeOnly(t *testing.T) {
	st := NewStore()
	calls := 0
	st.Subscribe(func(ClientState) { calls++ })

	st.SetStatus(StatusConnecting)
	st.SetStatus(StatusConnected)
	st.SetStatus(StatusConnected)
	st.SetStatus(StatusDisconnected)

	assert.Equal(t, 2, calls)
}

func TestDisconnectKeepsLastView(t *testing.T) {
	st := NewStore()
	st.SetStatus(StatusConnected)
	st.Apply(Update{BuySignals: []Signal{sig("0xaaa", 9)}, Performance: perf("30", 0.7)})

	st.SetStatus(StatusDisconnected)

	s := st.Snapshot()
	assert.Equal(t, StatusDisconnected, s.ConnectionStatus)
	assert.Len(t, s.Signals, 1)
	assert.True(t, s.Performance.Trading.CurrentBalance.Equal(decimal.NewFromInt(30)))
}

func TestUnsubscribe(t *testing.T) {
	st := NewStore()
	calls := 0
	unsub := st.Subscribe(func(ClientState) { calls++ })

	st.Apply(Update{})
	unsub()
	unsub()
	st.Apply(Update{})

	assert.Equal(t, 1, calls)
}

func TestSnapshotIsCopy(t *testing.T) {
	st := NewStore()
	input := []Signal{sig("0xaaa", 9)}
	st.Apply(Update{BuySignals: input})

	input[0].Symbol = "MUTATED"
	snap := st.Snapshot()
	snap.Signals[0].Symbol = "ALSO_MUTATED"

	assert.Equal(t, "TOKEN", st.Snapshot().Signals[0].Symbol)
}

func TestApplyRecordsTimes(t *testing.T) {
	st := NewStore()
	fixed := time.Date(2025, 1, 4, 14, 32, 1, 0, time.UTC)
	st.now = func() time.Time { return fixed }
	producer := time.Unix(1736000000, 0)

	st.Apply(Update{ProducerTime: producer})

	s := st.Snapshot()
	assert.Equal(t, fixed, s.UpdatedAt)
	assert.True(t, s.ProducerTime.Equal(producer))
}

func TestConnectionStatusText(t *testing.T) {
	b, err := StatusDisconnected.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "disconnected", string(b))
	assert.Equal(t, "unknown", ConnectionStatus(42).String())
}
