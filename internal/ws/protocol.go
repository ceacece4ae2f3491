package ws

import (
	"encoding/json"
	"errors"

	"github.com/agent-relay/backend/internal/channel"
	"github.com/agent-relay/backend/internal/event"
	"github.com/agent-relay/backend/internal/ident"
	"github.com/agent-relay/backend/internal/persist"
	"github.com/agent-relay/backend/internal/scheduler"
	"github.com/agent-relay/backend/internal/session"
)

// Inbound operations. Every request is answered by exactly one ack carrying
// the request's correlation id; a failed operation never closes the
// connection.
const (
	OpChannelCreate = "channel:create"
	OpChannelDelete = "channel:delete"
	OpAgentInvite   = "agent:invite"
	OpAgentPause    = "agent:pause"
	OpAgentResume   = "agent:resume"
	OpAgentStop     = "agent:stop"
	OpSessionDelete = "session:delete"
	OpMessageSubmit = "message:submit"
)

// Outbound frame types.
const (
	FrameInit  = "init"
	FrameEvent = "event"
	FrameAck   = "ack"
)

// Request is one inbound control frame.
type Request struct {
	ID      string          `json:"id,omitempty"`
	Op      string          `json:"op"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Frame is one outbound message.
type Frame struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// InitPayload is sent once per connection before any live frame: the
// current channel and session tables plus the recent event window.
type InitPayload struct {
	Channels []*channel.Channel `json:"channels"`
	Sessions []*session.Session `json:"sessions"`
	Events   []event.Event      `json:"events"`
}

// Ack answers one Request.
type Ack struct {
	Type   string    `json:"type"`
	ID     string    `json:"id,omitempty"`
	Op     string    `json:"op"`
	OK     bool      `json:"ok"`
	Error  *AckError `json:"error,omitempty"`
	Result any       `json:"result,omitempty"`
}

// AckError carries a stable machine-readable code plus human detail.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Stable ack error codes.
const (
	CodeBadRequest         = "bad_request"
	CodeInvalidTransition  = "invalid_transition"
	CodeNotFound           = "not_found"
	CodeDuplicateChannel   = "duplicate_channel"
	CodeCapacityExhausted  = "capacity_exhausted"
	CodeStaleReference     = "stale_reference"
	CodePersistenceFailure = "persistence_failure"
	CodeUnknownTemplate    = "unknown_template"
	CodeInternal           = "internal"
)

type channelCreateRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type channelDeleteRequest struct {
	Name string `json:"name"`
}

type inviteRequest struct {
	Channel  string `json:"channel"`
	Template string `json:"template"`
	Prompt   string `json:"prompt,omitempty"`
}

type sessionRequest struct {
	SessionID ident.SessionID `json:"sessionId"`
}

type messageSubmitRequest struct {
	Channel string `json:"channel"`
	Agent   string `json:"agent,omitempty"`
	Content string `json:"content"`
}

// errorCode maps an operation error to its stable ack code.
func errorCode(err error) string {
	var (
		invalid *session.InvalidTransitionError
		sessNF  *session.NotFoundError
		chanNF  *channel.NotFoundError
		dup     *channel.DuplicateError
		joined  *channel.AlreadyJoinedError
		capErr  *ident.CapacityError
		stale   *ident.StaleError
		persErr *persist.Error
		unknown *scheduler.UnknownTemplateError
	)
	switch {
	case errors.As(err, &invalid):
		return CodeInvalidTransition
	case errors.As(err, &sessNF), errors.As(err, &chanNF):
		return CodeNotFound
	case errors.As(err, &dup):
		return CodeDuplicateChannel
	case errors.As(err, &joined):
		return CodeDuplicateChannel
	case errors.As(err, &capErr):
		return CodeCapacityExhausted
	case errors.As(err, &stale):
		return CodeStaleReference
	case errors.As(err, &persErr):
		return CodePersistenceFailure
	case errors.As(err, &unknown):
		return CodeUnknownTemplate
	default:
		return CodeInternal
	}
}

func ackOK(req Request, result any) Ack {
	return Ack{Type: FrameAck, ID: req.ID, Op: req.Op, OK: true, Result: result}
}

func ackErr(req Request, code, message string) Ack {
	return Ack{Type: FrameAck, ID: req.ID, Op: req.Op, Error: &AckError{Code: code, Message: message}}
}
