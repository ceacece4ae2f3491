package mock

import (
	"testing"

	"github.com/agent-relay/backend/internal/scheduler"
	"github.com/agent-relay/backend/internal/session"
)

func TestNextBuilderFinishesClean(t *testing.T) {
	g := &Generator{}
	a := &mockAgent{script: script{pattern: "builder", steps: 3}}

	// Beats 1 and 2 work; beat 3 reaches steps and finishes.
	if c, ok := g.next(a, session.Running); ok && c.Kind == scheduler.KindFinished {
		t.Fatal("finished on first beat")
	}
	g.next(a, session.Running)
	c, ok := g.next(a, session.Running)
	if !ok || c.Kind != scheduler.KindFinished || !c.OK {
		t.Fatalf("third beat = %+v, %v, want clean finish", c, ok)
	}
}

func TestNextFlakyFinishesWithReason(t *testing.T) {
	g := &Generator{}
	a := &mockAgent{script: script{pattern: "flaky", steps: 1}}

	c, ok := g.next(a, session.Running)
	if !ok || c.Kind != scheduler.KindFinished || c.OK {
		t.Fatalf("flaky finish = %+v, %v, want failed finish", c, ok)
	}
	if c.Reason == "" {
		t.Error("flaky finish carries no reason")
	}
}

func TestNextAnswersToolAndInput(t *testing.T) {
	g := &Generator{}
	a := &mockAgent{script: script{pattern: "builder", steps: 10}}

	c, ok := g.next(a, session.ToolExec)
	if !ok || c.Kind != scheduler.KindToolResult {
		t.Errorf("tool_exec beat = %+v, %v, want tool result", c, ok)
	}

	c, ok = g.next(a, session.HumanInput)
	if !ok || c.Kind != scheduler.KindInputResponse {
		t.Errorf("human_input beat = %+v, %v, want input response", c, ok)
	}
}

func TestNextStuckNeverAnswersInput(t *testing.T) {
	g := &Generator{}
	a := &mockAgent{script: script{pattern: "stuck", steps: 4}}

	if _, ok := g.next(a, session.HumanInput); ok {
		t.Error("stuck agent answered an input request")
	}
}

func TestNextIdleStates(t *testing.T) {
	g := &Generator{}
	a := &mockAgent{script: script{pattern: "builder", steps: 10}}

	for _, st := range []session.State{session.Created, session.Pending, session.Paused} {
		if _, ok := g.next(a, st); ok {
			t.Errorf("agent reported progress from %s", st)
		}
	}
	if a.step != 0 {
		t.Errorf("idle states advanced step to %d", a.step)
	}
}

func TestNextChattyAsksTwice(t *testing.T) {
	g := &Generator{}
	a := &mockAgent{script: script{pattern: "chatty", steps: 100}}

	asks := 0
	for i := 0; i < 50; i++ {
		if c, ok := g.next(a, session.Running); ok && c.Kind == scheduler.KindInputRequest {
			asks++
		}
	}
	if asks != 2 {
		t.Errorf("chatty agent asked %d times, want 2", asks)
	}
}
