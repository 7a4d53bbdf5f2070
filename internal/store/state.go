package store

import (
	"sync"
	"time"
)

// Subscriber receives a copy of the state after every committed mutation.
type Subscriber func(ClientState)

// Store serializes all mutations of one ClientState and fans out changes to subscribers.
type Store struct {
	mu    sync.RWMutex
	state ClientState
	now   func() time.Time

	subMu  sync.Mutex
	subs   map[int]Subscriber
	nextID int
}

// NewStore creates a Store holding the initial client state.
func NewStore() *Store {
	return &Store{
		state: InitialState(),
		now:   time.Now,
		subs:  make(map[int]Subscriber),
	}
}

// Apply commits an accepted update using replace-with-fallback rules:
// signals are always replaced (an absent list means no open signals),
// performance is replaced only when the update carries one.
func (s *Store) Apply(u Update) {
	signals := u.BuySignals
	if signals == nil {
		signals = []Signal{}
	} else {
		signals = append([]Signal(nil), signals...)
	}

	s.mu.Lock()
	s.state.Signals = signals
	if u.Performance != nil {
		s.state.Performance = *u.Performance
	}
	s.state.UpdatedAt = s.now()
	s.state.ProducerTime = u.ProducerTime
	snapshot := s.copyLocked()
	s.mu.Unlock()

	s.notify(snapshot)
}

// SetStatus records a connection lifecycle change. Subscribers are only
// notified when the status actually changes.
func (s *Store) SetStatus(status ConnectionStatus) {
	s.mu.Lock()
	if s.state.ConnectionStatus == status {
		s.mu.Unlock()
		return
	}
	s.state.ConnectionStatus = status
	snapshot := s.copyLocked()
	s.mu.Unlock()

	s.notify(snapshot)
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() ClientState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyLocked()
}

// Subscribe registers fn and returns a function that removes it.
func (s *Store) Subscribe(fn Subscriber) (unsubscribe func()) {
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

// notify calls every subscriber once, outside the state lock.
func (s *Store) notify(state ClientState) {
	s.subMu.Lock()
	subs := make([]Subscriber, 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.subMu.Unlock()

	for _, fn := range subs {
		fn(state)
	}
}

// copyLocked must be called with mu held.
func (s *Store) copyLocked() ClientState {
	out := s.state
	out.Signals = append(make([]Signal, 0, len(s.state.Signals)), s.state.Signals...)
	return out
}
