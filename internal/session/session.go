package session

import (
	"time"

	"github.com/agent-relay/backend/internal/ident"
)

// Session is one tracked agent task. The scheduler loop is the only writer;
// everything handed out of the store is a snapshot copy.
type Session struct {
	ID        ident.SessionID `json:"id"`
	Template  string          `json:"template"`
	Channel   string          `json:"channel,omitempty"`
	State     State           `json:"state"`
	PrevState State           `json:"prevState"` // resume target while paused
	Reason    string          `json:"reason,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
	// StateSince is when the current state was entered; timeout detection
	// for tool_exec and human_input measures from here.
	StateSince time.Time `json:"stateSince"`
}

// Clone returns a copy that can be mutated independently.
func (s *Session) Clone() *Session {
	c := *s
	return &c
}

// Transition validates the edge from the session's current state to target
// and applies it. It reports whether the session changed: a stop request
// against an already-terminal session is a no-op success with changed ==
// false, every other illegal edge returns *InvalidTransitionError without
// mutating the session.
func (s *Session) Transition(target State, now time.Time) (changed bool, err error) {
	from := s.State

	if target == Stopped && from.Terminal() {
		return false, nil
	}

	if from == Paused {
		// Paused resumes only to the state it left (or stops).
		if target != Stopped && target != s.PrevState {
			return false, &InvalidTransitionError{ID: s.ID, From: from, To: target}
		}
	} else if !CanTransition(from, target) {
		return false, &InvalidTransitionError{ID: s.ID, From: from, To: target}
	}

	if target == Paused {
		s.PrevState = from
	}
	s.State = target
	s.UpdatedAt = now
	s.StateSince = now
	return true, nil
}
