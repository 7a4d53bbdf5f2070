package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/apexwatch/client/internal/store"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	// RecoveryDelay is how long after a disconnect the full restart fires.
	RecoveryDelay = 3 * time.Second

	// Keepalive timings
	HeartbeatTimeout = 60 * time.Second
	PongTimeout      = 10 * time.Second
	PingInterval     = 20 * time.Second

	WriteTimeout     = 10 * time.Second
	HandshakeTimeout = 10 * time.Second

	// MaxFrameBytes caps a single inbound message.
	MaxFrameBytes = 1 << 20
)

// ErrAlreadyStarted is returned by Start on a listener that was already started or stopped.
var ErrAlreadyStarted = errors.New("listener already started")

// StateSink receives the listener's state transitions. *store.Store satisfies it.
type StateSink interface {
	Apply(store.Update)
	SetStatus(store.ConnectionStatus)
}

// Recorder observes ingest events. *metrics.Tracker satisfies it.
type Recorder interface {
	FrameReceived()
	UpdateApplied(signals int)
	EnvelopeIgnored(msgType string)
	DecodeFailed()
	Connected()
	Disconnected()
}

// Option configures a Listener.
type Option func(*Listener)

// WithRecoveryAction sets the action fired once, RecoveryDelay after a disconnect.
func WithRecoveryAction(fn func()) Option {
	return func(l *Listener) { l.onRecover = fn }
}

// WithRecoveryDelay overrides RecoveryDelay.
func WithRecoveryDelay(d time.Duration) Option {
	return func(l *Listener) {
		if d > 0 {
			l.recoveryDelay = d
		}
	}
}

// WithHeartbeat overrides the read deadline and ping interval.
func WithHeartbeat(timeout, ping time.Duration) Option {
	return func(l *Listener) {
		if timeout > 0 {
			l.heartbeatTimeout = timeout
		}
		if ping > 0 {
			l.pingInterval = ping
		}
	}
}

// WithRecorder attaches an ingest event recorder.
func WithRecorder(rec Recorder) Option {
	return func(l *Listener) {
		if rec != nil {
			l.rec = rec
		}
	}
}

// Listener owns exactly one WebSocket connection to the producer.
// Its lifecycle is Connecting -> Connected -> Disconnected; it never reconnects
// in place. Recovery is delegated to the action set with WithRecoveryAction.
type Listener struct {
	url  string
	sink StateSink
	log  zerolog.Logger
	rec  Recorder

	recoveryDelay    time.Duration
	heartbeatTimeout time.Duration
	pingInterval     time.Duration
	onRecover        func()

	// parseLog throttles ws_parse_error lines
	parseLog *rate.Limiter

	mu      sync.Mutex
	started bool
	stopped bool
	closed  bool
	conn    *websocket.Conn
	timer   *time.Timer
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewListener creates a listener for url that feeds sink.
func NewListener(url string, sink StateSink, logger zerolog.Logger, opts ...Option) *Listener {
	l := &Listener{
		url:              url,
		sink:             sink,
		log:              logger,
		rec:              nopRecorder{},
		recoveryDelay:    RecoveryDelay,
		heartbeatTimeout: HeartbeatTimeout,
		pingInterval:     PingInterval,
		parseLog:         rate.NewLimiter(rate.Every(time.Second), 5),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start opens the connection in the background. A listener can be started once.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.started || l.stopped {
		return ErrAlreadyStarted
	}
	l.started = true

	ctx, l.cancel = context.WithCancel(ctx)

	l.wg.Add(1)
	go l.run(ctx)
	return nil
}

// Stop closes the connection and cancels a pending recovery action.
// After Stop returns no recovery fires and no further state is written.
func (l *Listener) Stop() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.stopped = true
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	conn := l.conn
	l.conn = nil
	cancel := l.cancel
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client teardown")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		conn.Close()
	}

	l.wg.Wait()
	l.log.Info().Msg("ws_listener_stopped")
}

// run dials, reads until the connection ends, then hands over to recovery.
func (l *Listener) run(ctx context.Context) {
	defer l.wg.Done()

	conn, err := l.connect(ctx)
	if err != nil {
		l.handleCloseOrError(ctx, err)
		return
	}

	if !l.handleOpen(conn) {
		return
	}

	done := make(chan struct{})
	l.wg.Add(1)
	go l.keepalive(ctx, conn, done)

	err = l.readLoop(conn)
	close(done)

	l.handleCloseOrError(ctx, err)
}

// connect establishes the WebSocket connection.
func (l *Listener) connect(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: HandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, l.url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial failed: %w", err)
	}
	return conn, nil
}

// handleOpen publishes the Connected status. It returns false if Stop won the race.
func (l *Listener) handleOpen(conn *websocket.Conn) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		conn.Close()
		return false
	}
	l.conn = conn
	l.mu.Unlock()

	l.sink.SetStatus(store.StatusConnected)
	l.rec.Connected()
	l.log.Info().Str("endpoint", l.url).Msg("ws_connected")
	return true
}

// readLoop reads frames one at a time; each is decoded and applied before the next read.
func (l *Listener) readLoop(conn *websocket.Conn) error {
	deadline := l.heartbeatTimeout + PongTimeout

	conn.SetReadLimit(MaxFrameBytes)
	conn.SetReadDeadline(time.Now().Add(deadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read error: %w", err)
		}

		conn.SetReadDeadline(time.Now().Add(deadline))
		l.handleFrame(message)
	}
}

// handleFrame decodes one frame and applies it if it is an update.
func (l *Listener) handleFrame(data []byte) {
	l.rec.FrameReceived()

	env, err := Decode(data)
	if err != nil {
		l.rec.DecodeFailed()
		if l.parseLog.Allow() {
			l.log.Warn().Err(err).Int("bytes", len(data)).Str("raw", truncate(string(data), 120)).Msg("ws_parse_error")
		}
		return
	}

	if !env.IsUpdate() {
		l.rec.EnvelopeIgnored(env.Type)
		l.log.Debug().Str("type", env.Type).Msg("ws_message_ignored")
		return
	}

	l.sink.Apply(env.Update())
	l.rec.UpdateApplied(len(env.BuySignals))

	l.log.Debug().
		Int("buy_signals", len(env.BuySignals)).
		Int("sell_signals", len(env.SellSignals)).
		Bool("performance", env.Performance != nil).
		Msg("update_applied")
}

// keepalive pings the producer and closes the connection when ctx ends.
func (l *Listener) keepalive(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			conn.Close()
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(WriteTimeout)); err != nil {
				l.log.Warn().Err(err).Msg("ws_ping_failed")
				conn.Close()
				return
			}
		}
	}
}

// handleCloseOrError flips the status to Disconnected and schedules the one recovery action.
func (l *Listener) handleCloseOrError(ctx context.Context, cause error) {
	l.mu.Lock()
	if l.stopped || ctx.Err() != nil {
		l.mu.Unlock()
		l.log.Info().Str("reason", "teardown").Msg("ws_loop_stopping")
		return
	}
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	if l.conn != nil {
		l.conn.Close()
		l.conn = nil
	}
	l.timer = time.AfterFunc(l.recoveryDelay, l.fireRecovery)
	l.mu.Unlock()

	l.sink.SetStatus(store.StatusDisconnected)
	l.rec.Disconnected()

	l.log.Warn().Err(cause).Msg("ws_disconnected")
	l.log.Info().Dur("delay", l.recoveryDelay).Msg("recovery_scheduled")
}

// fireRecovery runs the recovery action unless the listener was stopped meanwhile.
func (l *Listener) fireRecovery() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.timer = nil
	fn := l.onRecover
	l.mu.Unlock()

	l.log.Info().Msg("recovery_firing")
	if fn != nil {
		fn()
	}
}

// truncate shortens a string for logging.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

type nopRecorder struct{}

func (nopRecorder) FrameReceived()         {}
func (nopRecorder) UpdateApplied(int)      {}
func (nopRecorder) EnvelopeIgnored(string) {}
func (nopRecorder) DecodeFailed()          {}
func (nopRecorder) Connected()             {}
func (nopRecorder) Disconnected()          {}
