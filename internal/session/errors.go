package session

import (
	"fmt"

	"github.com/agent-relay/backend/internal/ident"
)

// InvalidTransitionError names the rejected state edge. The session is left
// untouched when this is returned.
type InvalidTransitionError struct {
	ID   ident.SessionID
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("session %s: invalid transition %s -> %s", e.ID, e.From, e.To)
}

// NotFoundError reports a lookup of an id whose slot was never allocated.
type NotFoundError struct {
	ID ident.SessionID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("session %s not found", e.ID)
}
