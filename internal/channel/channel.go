// Package channel owns channel entities and channel↔session membership.
// Every successful mutation is written durably before its event is
// broadcast, so on-disk state never runs ahead of what observers were told.
package channel

import (
	"fmt"
	"sort"
	"time"

	"github.com/agent-relay/backend/internal/ident"
)

// Channel is a named grouping of sessions sharing an event stream.
type Channel struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Members     []ident.SessionID `json:"members"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

// Clone returns a copy with its own members slice.
func (c *Channel) Clone() *Channel {
	cp := *c
	cp.Members = make([]ident.SessionID, len(c.Members))
	copy(cp.Members, c.Members)
	return &cp
}

func (c *Channel) hasMember(id ident.SessionID) bool {
	for _, m := range c.Members {
		if m == id {
			return true
		}
	}
	return false
}

func (c *Channel) addMember(id ident.SessionID) {
	c.Members = append(c.Members, id)
	sort.Slice(c.Members, func(i, j int) bool { return c.Members[i] < c.Members[j] })
}

func (c *Channel) removeMember(id ident.SessionID) {
	for i, m := range c.Members {
		if m == id {
			c.Members = append(c.Members[:i], c.Members[i+1:]...)
			return
		}
	}
}

// DuplicateError reports a create collision on a channel name.
type DuplicateError struct {
	Name string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("channel %q already exists", e.Name)
}

// NotFoundError reports an operation against an unknown channel.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("channel %q not found", e.Name)
}

// AlreadyJoinedError reports an add for a session that is mapped to a
// channel already; a session belongs to at most one channel at a time.
type AlreadyJoinedError struct {
	ID      ident.SessionID
	Channel string
}

func (e *AlreadyJoinedError) Error() string {
	return fmt.Sprintf("session %s already belongs to channel %q", e.ID, e.Channel)
}
