package session

import (
	"sort"
	"sync"
	"time"

	"github.com/agent-relay/backend/internal/ident"
)

// Store owns the live session table. Identity comes exclusively from the
// generational allocator, so a released or recycled id is structurally
// detectable instead of silently resolving to the wrong session.
type Store struct {
	mu       sync.RWMutex
	alloc    *ident.Allocator
	sessions map[ident.SessionID]*Session
}

// NewStore builds a store bounded to capacity live sessions (0 means the
// full id space).
func NewStore(capacity int) *Store {
	return &Store{
		alloc:    ident.NewAllocator(capacity),
		sessions: make(map[ident.SessionID]*Session),
	}
}

// Create allocates an identity and registers a new session in Created state.
func (s *Store) Create(template string, now time.Time) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.alloc.Allocate()
	if err != nil {
		return nil, err
	}
	sess := &Session{
		ID:         id,
		Template:   template,
		State:      Created,
		PrevState:  Created,
		CreatedAt:  now,
		UpdatedAt:  now,
		StateSince: now,
	}
	s.sessions[id] = sess
	return sess.Clone(), nil
}

// Discard releases a just-created session whose setup failed before it was
// ever announced. The slot returns to the free pool.
func (s *Store) Discard(id ident.SessionID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	s.alloc.Release(id)
}

// Get returns a snapshot of the session. A recycled or released id yields
// *ident.StaleError; an id whose slot was never allocated yields
// *NotFoundError.
func (s *Store) Get(id ident.SessionID) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLocked(id)
}

func (s *Store) getLocked(id ident.SessionID) (*Session, error) {
	if sess, ok := s.sessions[id]; ok {
		return sess.Clone(), nil
	}
	if s.alloc.Stale(id) {
		return nil, &ident.StaleError{ID: id}
	}
	return nil, &NotFoundError{ID: id}
}

// Put commits a mutated snapshot back into the store. The id must still be
// live; committing against a stale id is rejected the same way Get is.
func (s *Store) Put(sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.getLocked(sess.ID); err != nil {
		return err
	}
	s.sessions[sess.ID] = sess.Clone()
	return nil
}

// Remove destroys the session and frees its slot for reuse.
func (s *Store) Remove(id ident.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.getLocked(id); err != nil {
		return err
	}
	delete(s.sessions, id)
	s.alloc.Release(id)
	return nil
}

// Adopt restores a persisted session during startup recovery, re-seeding
// its slot/generation pair in the allocator.
func (s *Store) Adopt(sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.alloc.Adopt(sess.ID); err != nil {
		return err
	}
	s.sessions[sess.ID] = sess.Clone()
	return nil
}

// IsValid reports id liveness without a lookup.
func (s *Store) IsValid(id ident.SessionID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.alloc.IsValid(id)
}

// All returns snapshots of every session, ordered by slot for stable
// listings.
func (s *Store) All() []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		result = append(result, sess.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ID.Slot() < result[j].ID.Slot()
	})
	return result
}

// CountInState returns how many sessions currently sit in state.
func (s *Store) CountInState(state State) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, sess := range s.sessions {
		if sess.State == state {
			count++
		}
	}
	return count
}

// ActiveCount returns the number of non-terminal sessions.
func (s *Store) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, sess := range s.sessions {
		if !sess.State.Terminal() {
			count++
		}
	}
	return count
}
