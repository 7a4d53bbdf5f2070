// Package session runs one streaming client instance at a time and replaces it
// with a fresh one whenever the current instance asks for recovery.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/apexwatch/client/internal/ingest"
	"github.com/apexwatch/client/internal/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrAlreadyRunning is returned by a second call to Run.
var ErrAlreadyRunning = errors.New("supervisor already running")

// Recorder observes ingest events and restarts. *metrics.Tracker satisfies it.
type Recorder interface {
	ingest.Recorder
	Restarted()
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithRecorder attaches a metrics recorder shared by every instance.
func WithRecorder(rec Recorder) Option {
	return func(s *Supervisor) {
		if rec != nil {
			s.rec = rec
		}
	}
}

// WithListenerOptions passes options to every listener the supervisor creates.
func WithListenerOptions(opts ...ingest.Option) Option {
	return func(s *Supervisor) {
		s.listenerOpts = append(s.listenerOpts, opts...)
	}
}

// instance is one store plus the listener feeding it.
type instance struct {
	id       string
	store    *store.Store
	listener *ingest.Listener
	unsub    func()
}

// Supervisor owns the current client instance. A restart discards the
// instance and builds a new one from initial state, so nothing from the
// old connection carries over. Subscriptions survive restarts.
type Supervisor struct {
	url          string
	log          zerolog.Logger
	rec          Recorder
	listenerOpts []ingest.Option

	restart chan string

	mu       sync.RWMutex
	current  *instance
	running  bool
	restarts int

	subMu  sync.Mutex
	subs   map[int]store.Subscriber
	nextID int
}

// NewSupervisor creates a supervisor for the producer at url.
func NewSupervisor(url string, logger zerolog.Logger, opts ...Option) *Supervisor {
	s := &Supervisor{
		url:     url,
		log:     logger,
		rec:     nopRecorder{},
		restart: make(chan string),
		subs:    make(map[int]store.Subscriber),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run starts the first instance and performs restarts until ctx is cancelled.
// On return the current instance is stopped.
func (s *Supervisor) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.running = true
	s.mu.Unlock()

	inst := s.spawn(ctx)

	for {
		select {
		case <-ctx.Done():
			s.teardown(inst)
			s.log.Info().Str("session", inst.id).Msg("supervisor_stopped")
			return nil

		case id := <-s.restart:
			if id != inst.id {
				continue
			}
			s.teardown(inst)
			s.rec.Restarted()

			s.mu.Lock()
			s.restarts++
			n := s.restarts
			s.mu.Unlock()

			s.log.Info().Str("old_session", id).Int("restarts", n).Msg("client_restart")
			inst = s.spawn(ctx)
		}
	}
}

// spawn builds a fresh instance, publishes its initial state and starts it.
func (s *Supervisor) spawn(ctx context.Context) *instance {
	id := uuid.NewString()
	logger := s.log.With().Str("session", id).Logger()

	inst := &instance{
		id:    id,
		store: store.NewStore(),
	}
	inst.unsub = inst.store.Subscribe(s.broadcast)

	opts := []ingest.Option{
		ingest.WithRecorder(s.rec),
		ingest.WithRecoveryAction(func() { s.requestRestart(ctx, id) }),
	}
	opts = append(opts, s.listenerOpts...)
	inst.listener = ingest.NewListener(s.url, inst.store, logger, opts...)

	s.mu.Lock()
	s.current = inst
	s.mu.Unlock()

	s.broadcast(inst.store.Snapshot())

	if err := inst.listener.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("listener_start_failed")
	}
	logger.Info().Str("endpoint", s.url).Msg("session_started")
	return inst
}

// requestRestart hands a recovery request to Run. It runs on the listener's timer goroutine.
func (s *Supervisor) requestRestart(ctx context.Context, id string) {
	select {
	case s.restart <- id:
	case <-ctx.Done():
	}
}

func (s *Supervisor) teardown(inst *instance) {
	inst.listener.Stop()
	inst.unsub()
}

// Snapshot returns a copy of the current instance's state.
func (s *Supervisor) Snapshot() store.ClientState {
	s.mu.RLock()
	inst := s.current
	s.mu.RUnlock()

	if inst == nil {
		return store.InitialState()
	}
	return inst.store.Snapshot()
}

// SessionID identifies the current instance, "" before Run.
func (s *Supervisor) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return ""
	}
	return s.current.id
}

// Restarts is the number of restarts performed so far.
func (s *Supervisor) Restarts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.restarts
}

// Subscribe registers fn for state changes of the current and every later instance.
func (s *Supervisor) Subscribe(fn store.Subscriber) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
		})
	}
}

func (s *Supervisor) broadcast(state store.ClientState) {
	s.subMu.Lock()
	subs := make([]store.Subscriber, 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.subMu.Unlock()

	for _, fn := range subs {
		fn(state)
	}
}

type nopRecorder struct{}

func (nopRecorder) FrameReceived()         {}
func (nopRecorder) UpdateApplied(int)      {}
func (nopRecorder) EnvelopeIgnored(string) {}
func (nopRecorder) DecodeFailed()          {}
func (nopRecorder) Connected()             {}
func (nopRecorder) Disconnected()          {}
func (nopRecorder) Restarted()             {}
