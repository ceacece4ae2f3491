package scheduler

import (
	"fmt"

	"github.com/agent-relay/backend/internal/ident"
)

// Kind classifies an external completion. Agent inference, tool execution
// and human interaction all happen outside this process; their outcomes are
// queued here and consumed only by the tick loop, never applied from the
// callback's own goroutine.
type Kind int

const (
	// KindToolCall reports that the agent issued a tool call (running → tool_exec).
	KindToolCall Kind = iota
	// KindToolResult reports a finished tool invocation (tool_exec → running).
	KindToolResult
	// KindInputRequest reports that the agent wants human input (running → human_input).
	KindInputRequest
	// KindInputResponse reports the human's answer (human_input → running).
	KindInputResponse
	// KindFinished reports that the agent concluded (running → success | failed).
	KindFinished
)

var kindNames = map[Kind]string{
	KindToolCall:      "tool_call",
	KindToolResult:    "tool_result",
	KindInputRequest:  "input_request",
	KindInputResponse: "input_response",
	KindFinished:      "finished",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Completion is one queued external outcome.
type Completion struct {
	SessionID ident.SessionID
	Kind      Kind
	OK        bool   // KindFinished: success or failure
	Reason    string // failure detail for KindFinished
	Payload   any    // tool result body, human response text, ...
}

// Complete queues an external completion for the next tick. The queue is
// bounded; a full queue rejects the completion so the caller can retry
// rather than block the reporting goroutine.
func (s *Scheduler) Complete(c Completion) error {
	select {
	case s.completions <- c:
		return nil
	default:
		return fmt.Errorf("completion queue full, dropped %s for session %s", c.Kind, c.SessionID)
	}
}
