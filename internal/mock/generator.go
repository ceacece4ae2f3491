// Package mock drives scripted demo agents through the real scheduler
// pipeline. Nothing here bypasses the production path: agents are invited
// like any other session and their progress arrives as queued completions,
// so the mock run exercises persistence, events and admission for free.
package mock

import (
	"context"
	"log"
	"time"

	"github.com/agent-relay/backend/internal/ident"
	"github.com/agent-relay/backend/internal/scheduler"
	"github.com/agent-relay/backend/internal/session"
)

// Interval is the cadence of scripted progress.
const Interval = 500 * time.Millisecond

type script struct {
	channel  string
	template string
	prompt   string
	pattern  string
	// steps is how many running-state beats the agent works before its
	// pattern decides the ending.
	steps int
}

type mockAgent struct {
	script
	id    ident.SessionID
	step  int
	asked int // input requests issued so far
	done  bool
}

// Generator owns the scripted agents and their channels.
type Generator struct {
	sched  *scheduler.Scheduler
	store  *session.Store
	agents []*mockAgent
}

func NewGenerator(sched *scheduler.Scheduler, store *session.Store) *Generator {
	return &Generator{sched: sched, store: store}
}

// Start creates the demo channels, invites the scripted agents and begins
// advancing them. The scheduler loop must already be running.
func (g *Generator) Start(ctx context.Context) error {
	scripts := []script{
		{channel: "demo-build", template: "coder", prompt: "refactor the session store", pattern: "builder", steps: 12},
		{channel: "demo-build", template: "reviewer", prompt: "review the refactor", pattern: "builder", steps: 8},
		{channel: "demo-support", template: "assistant", prompt: "triage the inbox", pattern: "chatty", steps: 10},
		{channel: "demo-build", template: "tester", prompt: "run the integration suite", pattern: "flaky", steps: 6},
		{channel: "demo-support", template: "archivist", prompt: "summarize last week", pattern: "stuck", steps: 4},
	}

	channels := map[string]bool{}
	for _, sc := range scripts {
		if channels[sc.channel] {
			continue
		}
		if _, err := g.sched.CreateChannel(sc.channel, "mock demo channel"); err != nil {
			return err
		}
		channels[sc.channel] = true
	}

	for _, sc := range scripts {
		id, err := g.sched.Invite(sc.channel, sc.template, sc.prompt)
		if err != nil {
			return err
		}
		g.agents = append(g.agents, &mockAgent{script: sc, id: id})
		log.Printf("mock: invited %s into %s as session %s", sc.template, sc.channel, id)
	}

	go g.run(ctx)
	return nil
}

func (g *Generator) run(ctx context.Context) {
	ticker := time.NewTicker(Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, a := range g.agents {
				if a.done {
					continue
				}
				sess, err := g.store.Get(a.id)
				if err != nil {
					a.done = true
					continue
				}
				if sess.State.Terminal() {
					a.done = true
					continue
				}
				c, ok := g.next(a, sess.State)
				if !ok {
					continue
				}
				if err := g.sched.Complete(c); err != nil {
					log.Printf("mock: %v", err)
				}
			}
		}
	}
}

// next decides the agent's move for its current state. It returns false when
// the agent has nothing to report this beat.
func (g *Generator) next(a *mockAgent, state session.State) (scheduler.Completion, bool) {
	switch state {
	case session.Running:
		a.step++
		if a.step >= a.steps {
			return g.finish(a)
		}
		if a.pattern == "chatty" && a.step%4 == 0 && a.asked < 2 {
			a.asked++
			return scheduler.Completion{SessionID: a.id, Kind: scheduler.KindInputRequest}, true
		}
		if a.pattern == "stuck" && a.step == a.steps-1 {
			// Asks for input and never answers; the scheduler's timeout
			// eventually fails the session.
			a.asked++
			return scheduler.Completion{SessionID: a.id, Kind: scheduler.KindInputRequest}, true
		}
		// Most beats are tool calls.
		if a.step%2 == 0 {
			return scheduler.Completion{SessionID: a.id, Kind: scheduler.KindToolCall}, true
		}
		return scheduler.Completion{}, false

	case session.ToolExec:
		return scheduler.Completion{SessionID: a.id, Kind: scheduler.KindToolResult}, true

	case session.HumanInput:
		if a.pattern == "stuck" {
			return scheduler.Completion{}, false
		}
		return scheduler.Completion{SessionID: a.id, Kind: scheduler.KindInputResponse}, true

	default:
		// Created, pending or paused: nothing to report.
		return scheduler.Completion{}, false
	}
}

func (g *Generator) finish(a *mockAgent) (scheduler.Completion, bool) {
	if a.pattern == "flaky" {
		return scheduler.Completion{
			SessionID: a.id,
			Kind:      scheduler.KindFinished,
			Reason:    "integration suite exited non-zero",
		}, true
	}
	return scheduler.Completion{SessionID: a.id, Kind: scheduler.KindFinished, OK: true}, true
}
