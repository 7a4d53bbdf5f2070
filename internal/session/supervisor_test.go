package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/apexwatch/client/internal/ingest"
	"github.com/apexwatch/client/internal/metrics"
	"github.com/apexwatch/client/internal/store"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const oneSignal = `{"type":"update","buy_signals":[{"address":"0xABCDEF1234567890","symbol":"APX","type":"NEW_LISTING","confidence":0.97,"expected_return":0.5,"urgency":9,"current_price":0.00042}],"performance":{"system":{"tokens_scanned":10,"scan_rate":5},"trading":{"current_balance":11,"total_pnl":1,"win_rate":0.5,"total_trades":2}}}`

// producerServer hands every accepted connection to the test.
type producerServer struct {
	*httptest.Server
	conns chan *websocket.Conn
}

func newProducerServer(t *testing.T) *producerServer {
	t.Helper()

	p := &producerServer{conns: make(chan *websocket.Conn, 4)}
	upgrader := websocket.Upgrader{}

	p.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		p.conns <- conn
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(p.Server.Close)
	return p
}

func (p *producerServer) wsURL() string {
	return "ws" + strings.TrimPrefix(p.URL, "http")
}

func (p *producerServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-p.conns:
		return c
	case <-time.After(3 * time.Second):
		t.Fatal("no connection from client")
		return nil
	}
}

// stateLog collects every state a subscriber sees.
type stateLog struct {
	mu     sync.Mutex
	states []store.ClientState
}

func (l *stateLog) record(s store.ClientState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, s)
}

func (l *stateLog) all() []store.ClientState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]store.ClientState(nil), l.states...)
}

func startSupervisor(t *testing.T, sup *Supervisor) (cancel func(), done <-chan error) {
	t.Helper()
	ctx, cancelFn := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- sup.Run(ctx) }()
	t.Cleanup(cancelFn)
	return cancelFn, errCh
}

func TestSupervisorStreamsUpdates(t *testing.T) {
	srv := newProducerServer(t)
	sup := NewSupervisor(srv.wsURL(), zerolog.Nop())

	var seen stateLog
	sup.Subscribe(seen.record)

	startSupervisor(t, sup)
	conn := srv.accept(t)

	require.Eventually(t, func() bool {
		return sup.Snapshot().ConnectionStatus == store.StatusConnected
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(oneSignal)))
	require.Eventually(t, func() bool {
		return len(sup.Snapshot().Signals) == 1
	}, 2*time.Second, 10*time.Millisecond)

	states := seen.all()
	require.NotEmpty(t, states)
	assert.Equal(t, store.StatusConnecting, states[0].ConnectionStatus, "initial state published first")
	assert.Empty(t, states[0].Signals)

	snap := sup.Snapshot()
	assert.Equal(t, "APX", snap.Signals[0].Symbol)
	assert.Equal(t, "11", snap.Performance.Trading.CurrentBalance.String())
	assert.NotEmpty(t, sup.SessionID())
}

func TestSupervisorRestartsFromInitialState(t *testing.T) {
	srv := newProducerServer(t)
	tracker := metrics.NewTracker()
	sup := NewSupervisor(srv.wsURL(), zerolog.Nop(),
		WithRecorder(tracker),
		WithListenerOptions(ingest.WithRecoveryDelay(300*time.Millisecond)),
	)

	var seen stateLog
	sup.Subscribe(seen.record)

	startSupervisor(t, sup)
	conn := srv.accept(t)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(oneSignal)))
	require.Eventually(t, func() bool {
		return len(sup.Snapshot().Signals) == 1
	}, 2*time.Second, 10*time.Millisecond)
	firstID := sup.SessionID()

	conn.Close()

	// last view stays visible until the restart
	require.Eventually(t, func() bool {
		return sup.Snapshot().ConnectionStatus == store.StatusDisconnected
	}, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, sup.Snapshot().Signals, 1)

	conn2 := srv.accept(t)
	defer conn2.Close()

	assert.NotEqual(t, firstID, sup.SessionID())
	assert.Equal(t, 1, sup.Restarts())

	require.Eventually(t, func() bool {
		return sup.Snapshot().ConnectionStatus == store.StatusConnected
	}, 2*time.Second, 10*time.Millisecond)

	snap := sup.Snapshot()
	assert.Empty(t, snap.Signals)
	assert.True(t, snap.Performance.Trading.CurrentBalance.Equal(store.InitialBalance))

	// subscribers saw the disconnected view, then a fresh initial state
	states := seen.all()
	disconnectedAt := -1
	for i, s := range states {
		if s.ConnectionStatus == store.StatusDisconnected {
			disconnectedAt = i
			break
		}
	}
	require.GreaterOrEqual(t, disconnectedAt, 0)
	require.Greater(t, len(states), disconnectedAt+1)
	next := states[disconnectedAt+1]
	assert.Equal(t, store.StatusConnecting, next.ConnectionStatus)
	assert.Empty(t, next.Signals)

	require.Eventually(t, func() bool {
		return tracker.Snapshot().Connects == 2
	}, time.Second, 5*time.Millisecond)
	snapMetrics := tracker.Snapshot()
	assert.Equal(t, int64(1), snapMetrics.Restarts)
	assert.Equal(t, int64(1), snapMetrics.Disconnects)
}

func TestSupervisorStopsOnCancel(t *testing.T) {
	srv := newProducerServer(t)
	sup := NewSupervisor(srv.wsURL(), zerolog.Nop(),
		WithListenerOptions(ingest.WithRecoveryDelay(50*time.Millisecond)),
	)

	cancel, done := startSupervisor(t, sup)
	srv.accept(t)

	require.Eventually(t, func() bool {
		return sup.Snapshot().ConnectionStatus == store.StatusConnected
	}, 2*time.Second, 10*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 0, sup.Restarts())
	select {
	case <-srv.conns:
		t.Fatal("client reconnected after teardown")
	default:
	}
}

func TestSupervisorRunTwice(t *testing.T) {
	srv := newProducerServer(t)
	sup := NewSupervisor(srv.wsURL(), zerolog.Nop())

	startSupervisor(t, sup)
	srv.accept(t)

	assert.ErrorIs(t, sup.Run(context.Background()), ErrAlreadyRunning)
}

func TestSupervisorSnapshotBeforeRun(t *testing.T) {
	sup := NewSupervisor("ws://127.0.0.1:1/ws", zerolog.Nop())

	assert.Equal(t, store.InitialState(), sup.Snapshot())
	assert.Empty(t, sup.SessionID())
}

func TestSupervisorUnsubscribe(t *testing.T) {
	srv := newProducerServer(t)
	sup := NewSupervisor(srv.wsURL(), zerolog.Nop())

	var seen stateLog
	unsubscribe := sup.Subscribe(seen.record)
	unsubscribe()
	unsubscribe()

	startSupervisor(t, sup)
	srv.accept(t)

	require.Eventually(t, func() bool {
		return sup.Snapshot().ConnectionStatus == store.StatusConnected
	}, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, seen.all())
}
