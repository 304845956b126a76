// Package store provides verification session storage backends for LeadScreen.
//
// This file implements the default in-memory session store.
package store

import (
	"log/slog"
	"sync"
	"time"

	"github.com/clinicontact/leadscreen/internal/models"
)

// sweepInterval is how often the background sweeper scans for expired sessions.
const sweepInterval = time.Minute

// entry wraps a session with a per-key mutex so completion attempts on the
// same identifier serialize without blocking lookups of other identifiers.
type entry struct {
	mu      sync.Mutex
	session *models.VerificationSession // nil once consumed
}

// MemoryStore is the default in-memory session store. Expired sessions are
// dropped lazily on access and by a background sweeper.
type MemoryStore struct {
	sessions sync.Map // id -> *entry
	done     chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

// NewMemoryStore creates an in-memory session store and starts its sweeper.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		done: make(chan struct{}),
		now:  time.Now,
	}
	go s.sweep()
	return s
}

// Create stores a new session under its identifier.
func (s *MemoryStore) Create(session models.VerificationSession) error {
	sess := session
	if _, loaded := s.sessions.LoadOrStore(session.ID, &entry{session: &sess}); loaded {
		slog.Error("MemoryStore.Create: duplicate session id", "id", session.ID)
		return ErrSessionExists
	}
	slog.Debug("MemoryStore.Create: session stored", "id", session.ID, "study", session.StudyID, "expires_at", session.ExpiresAt)
	return nil
}

// Get returns a copy of the session, or nil when unknown or expired.
func (s *MemoryStore) Get(id string) (*models.VerificationSession, error) {
	v, ok := s.sessions.Load(id)
	if !ok {
		return nil, nil
	}
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil, nil
	}
	if e.session.Expired(s.now()) {
		s.expire(id, e)
		return nil, nil
	}
	copied := *e.session
	return &copied, nil
}

// Complete atomically consumes the session when the code matches. A racing
// completion on the same identifier observes the consumed entry and reports
// not found, so at most one caller receives the session.
func (s *MemoryStore) Complete(id, code string) (*models.VerificationSession, models.CompletionStatus, error) {
	v, ok := s.sessions.Load(id)
	if !ok {
		return nil, models.CompletionNotFound, nil
	}
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session == nil {
		return nil, models.CompletionNotFound, nil
	}
	if e.session.Expired(s.now()) {
		s.expire(id, e)
		return nil, models.CompletionNotFound, nil
	}
	if e.session.Code != code {
		slog.Debug("MemoryStore.Complete: code mismatch", "id", id)
		return nil, models.CompletionMismatched, nil
	}

	sess := e.session
	e.session = nil
	s.sessions.Delete(id)
	slog.Debug("MemoryStore.Complete: session consumed", "id", id, "study", sess.StudyID)
	return sess, models.CompletionMatched, nil
}

// Delete removes a session regardless of its state.
func (s *MemoryStore) Delete(id string) error {
	if v, ok := s.sessions.Load(id); ok {
		e := v.(*entry)
		e.mu.Lock()
		e.session = nil
		e.mu.Unlock()
	}
	s.sessions.Delete(id)
	return nil
}

// Close stops the background sweeper.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.done) })
	return nil
}

// expire drops an expired session; callers hold the entry lock.
func (s *MemoryStore) expire(id string, e *entry) {
	e.session = nil
	s.sessions.Delete(id)
	slog.Debug("MemoryStore: expired session dropped", "id", id)
}

// sweep periodically removes expired sessions so abandoned verifications do
// not accumulate.
func (s *MemoryStore) sweep() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			now := s.now()
			s.sessions.Range(func(key, value any) bool {
				e := value.(*entry)
				e.mu.Lock()
				if e.session != nil && e.session.Expired(now) {
					s.expire(key.(string), e)
				}
				e.mu.Unlock()
				return true
			})
		}
	}
}
