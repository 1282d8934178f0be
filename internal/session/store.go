// Package session keeps one aggregator.SessionState per dashboard visitor.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"silkworm-dashboard/internal/aggregator"
)

// Session owns the state of one visitor. Operations run one at a time; reads
// see the last committed state and never wait for a running operation.
type Session struct {
	ID string

	opMu sync.Mutex

	mu       sync.RWMutex
	state    aggregator.SessionState
	lastSeen time.Time
}

// State returns the last committed state.
func (s *Session) State() aggregator.SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Do runs fn against the current state and commits its result when fn succeeds.
// Concurrent calls on one session are serialized.
func (s *Session) Do(fn func(aggregator.SessionState) (aggregator.SessionState, error)) (aggregator.SessionState, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	next, err := fn(s.State())
	if err != nil {
		return s.State(), err
	}
	s.mu.Lock()
	s.state = next
	s.mu.Unlock()
	return next, nil
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSeen
}

// Store maps session ids to sessions and expires idle ones.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	ttl       time.Duration
	threshold float64
	now       func() time.Time
	logger    *zap.SugaredLogger
}

// NewStore returns an empty store. New sessions start with threshold as their confidence.
func NewStore(ttl time.Duration, threshold float64, logger *zap.SugaredLogger) *Store {
	return &Store{
		sessions:  make(map[string]*Session),
		ttl:       ttl,
		threshold: threshold,
		now:       time.Now,
		logger:    logger,
	}
}

// Create starts a new session with an empty batch.
func (st *Store) Create() *Session {
	s := &Session{
		ID:       uuid.NewString(),
		state:    aggregator.NewSessionState(st.threshold),
		lastSeen: st.now(),
	}
	st.mu.Lock()
	st.sessions[s.ID] = s
	st.mu.Unlock()
	st.logger.Debugw("session created", "session", s.ID)
	return s
}

// Get returns the session for id and marks it as seen.
func (st *Store) Get(id string) (*Session, bool) {
	st.mu.RLock()
	s, ok := st.sessions[id]
	st.mu.RUnlock()
	if ok {
		s.touch(st.now())
	}
	return s, ok
}

// GetOrCreate returns the session for id, or a new one when id is unknown.
func (st *Store) GetOrCreate(id string) (s *Session, created bool) {
	if s, ok := st.Get(id); ok {
		return s, false
	}
	return st.Create(), true
}

// Remove discards a session.
func (st *Store) Remove(id string) {
	st.mu.Lock()
	delete(st.sessions, id)
	st.mu.Unlock()
}

// Len returns the number of live sessions.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// Sweep removes sessions idle for longer than the TTL and returns how many went.
func (st *Store) Sweep() int {
	cutoff := st.now().Add(-st.ttl)
	st.mu.Lock()
	defer st.mu.Unlock()
	removed := 0
	for id, s := range st.sessions {
		if s.idleSince().Before(cutoff) {
			delete(st.sessions, id)
			removed++
		}
	}
	return removed
}

// Run sweeps periodically until ctx is done.
func (st *Store) Run(ctx context.Context) {
	interval := st.ttl / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := st.Sweep(); n > 0 {
				st.logger.Infof("Expired %d idle sessions", n)
			}
		}
	}
}
