package session

import (
	"errors"
	"testing"
	"time"
)

func newTestSession(state State) *Session {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &Session{
		ID:         1,
		Template:   "coder",
		State:      state,
		PrevState:  state,
		CreatedAt:  now,
		UpdatedAt:  now,
		StateSince: now,
	}
}

func TestTransitionValidEdge(t *testing.T) {
	sess := newTestSession(Created)
	now := sess.CreatedAt.Add(time.Second)

	changed, err := sess.Transition(Pending, now)
	if err != nil {
		t.Fatalf("Transition error: %v", err)
	}
	if !changed {
		t.Fatal("Transition should report changed")
	}
	if sess.State != Pending {
		t.Errorf("State = %v, want %v", sess.State, Pending)
	}
	if !sess.UpdatedAt.Equal(now) || !sess.StateSince.Equal(now) {
		t.Error("UpdatedAt/StateSince should advance with the transition")
	}
}

func TestTransitionInvalidEdgeLeavesSessionUntouched(t *testing.T) {
	sess := newTestSession(Succeeded)
	before := *sess

	changed, err := sess.Transition(Running, time.Now())
	if changed {
		t.Error("invalid transition must not report changed")
	}
	var invalid *InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("error = %v, want *InvalidTransitionError", err)
	}
	if invalid.From != Succeeded || invalid.To != Running {
		t.Errorf("error names %v -> %v, want %v -> %v", invalid.From, invalid.To, Succeeded, Running)
	}
	if *sess != before {
		t.Error("session mutated by rejected transition")
	}
}

func TestPauseRecordsResumeTarget(t *testing.T) {
	sess := newTestSession(ToolExec)

	if _, err := sess.Transition(Paused, time.Now()); err != nil {
		t.Fatalf("pause error: %v", err)
	}
	if sess.PrevState != ToolExec {
		t.Errorf("PrevState = %v, want %v", sess.PrevState, ToolExec)
	}

	// Resume must go back to exactly the recorded state.
	if _, err := sess.Transition(Running, time.Now()); err == nil {
		t.Error("resume to a state other than PrevState should fail")
	}
	if _, err := sess.Transition(ToolExec, time.Now()); err != nil {
		t.Errorf("resume to PrevState error: %v", err)
	}
	if sess.State != ToolExec {
		t.Errorf("State after resume = %v, want %v", sess.State, ToolExec)
	}
}

func TestPausedCanStop(t *testing.T) {
	sess := newTestSession(Running)
	sess.Transition(Paused, time.Now())

	changed, err := sess.Transition(Stopped, time.Now())
	if err != nil || !changed {
		t.Fatalf("stop from paused: changed=%v err=%v", changed, err)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	sess := newTestSession(Running)

	changed, err := sess.Transition(Stopped, time.Now())
	if err != nil || !changed {
		t.Fatalf("first stop: changed=%v err=%v", changed, err)
	}

	before := *sess
	changed, err = sess.Transition(Stopped, time.Now())
	if err != nil {
		t.Fatalf("second stop error: %v", err)
	}
	if changed {
		t.Error("second stop must be a no-op")
	}
	if *sess != before {
		t.Error("second stop mutated the session")
	}

	// Stop against other terminal states is also a quiet success.
	done := newTestSession(Succeeded)
	changed, err = done.Transition(Stopped, time.Now())
	if err != nil || changed {
		t.Errorf("stop on succeeded: changed=%v err=%v, want no-op success", changed, err)
	}
}

func TestStoppedRejectsEverythingElse(t *testing.T) {
	sess := newTestSession(Running)
	sess.Transition(Stopped, time.Now())

	for _, target := range []State{Created, Pending, Running, ToolExec, HumanInput, Paused, Succeeded, Failed} {
		if _, err := sess.Transition(target, time.Now()); err == nil {
			t.Errorf("transition %v accepted from stopped", target)
		}
	}
}

func TestFullLifecyclePath(t *testing.T) {
	sess := newTestSession(Created)
	path := []State{Pending, Running, ToolExec, Running, HumanInput, Running, Succeeded}

	for _, next := range path {
		if _, err := sess.Transition(next, time.Now()); err != nil {
			t.Fatalf("transition to %v error: %v", next, err)
		}
	}
	if sess.State != Succeeded {
		t.Errorf("final state = %v, want %v", sess.State, Succeeded)
	}
}
