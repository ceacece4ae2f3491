package session

import (
	"encoding/json"
	"fmt"
)

// State is the lifecycle position of one agent session.
type State int

const (
	Created State = iota
	Pending
	Running
	ToolExec
	HumanInput
	Paused
	Succeeded
	Failed
	Stopped
)

var stateNames = map[State]string{
	Created:    "created",
	Pending:    "pending",
	Running:    "running",
	ToolExec:   "tool_exec",
	HumanInput: "human_input",
	Paused:     "paused",
	Succeeded:  "success",
	Failed:     "failed",
	Stopped:    "stopped",
}

var stateFromName = map[string]State{
	"created":     Created,
	"pending":     Pending,
	"running":     Running,
	"tool_exec":   ToolExec,
	"human_input": HumanInput,
	"paused":      Paused,
	"success":     Succeeded,
	"failed":      Failed,
	"stopped":     Stopped,
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// ParseState maps a wire name back to a State.
func ParseState(name string) (State, bool) {
	s, ok := stateFromName[name]
	return s, ok
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *State) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	v, ok := stateFromName[name]
	if !ok {
		return fmt.Errorf("unknown session state %q", name)
	}
	*s = v
	return nil
}

// Terminal reports whether no outgoing transition exists from s.
func (s State) Terminal() bool {
	return s == Succeeded || s == Failed || s == Stopped
}

// Active reports whether s is one of the pausable in-flight states.
func (s State) Active() bool {
	switch s {
	case Pending, Running, ToolExec, HumanInput:
		return true
	default:
		return false
	}
}

// transitions is the edge table of the session state machine. Pause, resume
// and stop edges are validated separately: any active state may pause,
// paused resumes only to the state it left, and any non-terminal state may
// stop.
var transitions = map[State][]State{
	Created:    {Pending},
	Pending:    {Running},
	Running:    {ToolExec, HumanInput, Succeeded, Failed},
	ToolExec:   {Running, Failed},
	HumanInput: {Running, Failed},
	Paused:     {},
	Succeeded:  {},
	Failed:     {},
	Stopped:    {},
}

// CanTransition reports whether the edge from→to exists in the table.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == Stopped {
		return true
	}
	if to == Paused {
		return from.Active()
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
