package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/medcall/backend/internal/logging"
)

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrDuplicateSession = errors.New("session already exists")
)

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source handed to every session.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Store is the process-wide registry of live sessions.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	now      func() time.Time
}

// NewStore returns an empty in-memory store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create registers a new active session. An empty id gets a generated one.
func (s *Store) Create(id string) (*Session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		id = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[id]; exists {
		return nil, ErrDuplicateSession
	}
	sess := newSession(id, s.now)
	s.sessions[id] = sess
	return sess, nil
}

// Get looks up a session by id.
func (s *Store) Get(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Remove drops a session from the registry.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, id)
	return nil
}

// Len returns the number of registered sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Sweep evicts sessions stopped more than retention ago and returns their
// ids. Active sessions are never evicted.
func (s *Store) Sweep(retention time.Duration) []string {
	if retention <= 0 {
		return nil
	}
	cutoff := s.now().Add(-retention)

	s.mu.Lock()
	defer s.mu.Unlock()

	var evicted []string
	for id, sess := range s.sessions {
		stoppedAt, stopped := sess.StoppedAt()
		if stopped && stoppedAt.Before(cutoff) {
			delete(s.sessions, id)
			evicted = append(evicted, id)
		}
	}
	return evicted
}

// RunJanitor sweeps the store every interval until ctx is done. A zero
// retention or interval disables it.
func (s *Store) RunJanitor(ctx context.Context, interval, retention time.Duration, onEvict func(id string)) {
	if interval <= 0 || retention <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			evicted := s.Sweep(retention)
			for _, id := range evicted {
				if onEvict != nil {
					onEvict(id)
				}
			}
			if len(evicted) > 0 {
				logging.Infow("evicted stopped sessions", "count", len(evicted), "remaining", s.Len())
			}
		}
	}
}
