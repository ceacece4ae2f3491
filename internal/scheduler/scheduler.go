// Package scheduler drives every live session through its state machine on
// a fixed-cadence tick. One goroutine owns all mutations: control
// operations arrive on a serialized command queue and external outcomes on
// a completion queue, both consumed only by the loop, so no two transitions
// ever interleave.
package scheduler

import (
	"context"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/agent-relay/backend/internal/channel"
	"github.com/agent-relay/backend/internal/event"
	"github.com/agent-relay/backend/internal/ident"
	"github.com/agent-relay/backend/internal/persist"
	"github.com/agent-relay/backend/internal/session"
	"github.com/agent-relay/backend/internal/stats"
	"github.com/agent-relay/backend/internal/template"
)

// Config carries the scheduler's tunables. Zero fields take defaults.
type Config struct {
	TickInterval      time.Duration // cadence of the loop, default 100ms
	MaxRunning        int           // admission limit on concurrently executing sessions, 0 = unlimited
	ToolExecTimeout   time.Duration // default limit for tool_exec, template may override
	HumanInputTimeout time.Duration // limit for human_input
	StatusInterval    time.Duration // cadence of status events, 0 disables
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = 100 * time.Millisecond
	}
	if c.ToolExecTimeout <= 0 {
		c.ToolExecTimeout = 5 * time.Minute
	}
	if c.HumanInputTimeout <= 0 {
		c.HumanInputTimeout = 30 * time.Minute
	}
	return c
}

type command struct {
	fn   func(now time.Time) error
	done chan error
}

type Scheduler struct {
	cfgMu sync.RWMutex // protects cfg for SIGHUP reload
	cfg   Config

	store     *session.Store
	registry  *channel.Registry
	templates *template.Registry
	records   *persist.Store
	bus       *event.Bus
	collector *stats.Collector

	completions chan Completion
	deferred    []Completion // completions held over to the next tick
	commands    chan command

	lastStatus time.Time
}

func New(cfg Config, store *session.Store, registry *channel.Registry, templates *template.Registry, records *persist.Store, bus *event.Bus) *Scheduler {
	return &Scheduler{
		cfg:         cfg.withDefaults(),
		store:       store,
		registry:    registry,
		templates:   templates,
		records:     records,
		bus:         bus,
		collector:   stats.NewCollector(),
		completions: make(chan Completion, 1024),
		commands:    make(chan command, 16),
	}
}

// SetConfig replaces the scheduler's tunables. Timeouts, the admission
// limit and the status cadence apply from the next tick; TickInterval
// itself requires a restart.
func (s *Scheduler) SetConfig(cfg Config) {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	s.cfg = cfg.withDefaults()
}

func (s *Scheduler) config() Config {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg
}

// Run blocks, executing ticks and queued control commands until ctx is
// done. It must be running for the exported control operations to return.
func (s *Scheduler) Run(ctx context.Context) {
	cfg := s.config()
	ticker := time.NewTicker(cfg.TickInterval)
	defer ticker.Stop()

	log.Printf("scheduler started (tick=%s maxRunning=%d)", cfg.TickInterval, cfg.MaxRunning)

	for {
		select {
		case <-ctx.Done():
			log.Println("scheduler stopped")
			return
		case cmd := <-s.commands:
			cmd.done <- cmd.fn(time.Now())
		case <-ticker.C:
			s.tick(time.Now())
		}
	}
}

// do runs fn inside the loop goroutine and returns its result.
func (s *Scheduler) do(fn func(now time.Time) error) error {
	cmd := command{fn: fn, done: make(chan error, 1)}
	s.commands <- cmd
	return <-cmd.done
}

// tick advances every live session: queued completions first, then timeout
// detection, then admission of pending sessions. At most one transition is
// applied per session per tick; a completion racing a timeout in the same
// tick wins, and the timeout is re-evaluated next tick.
func (s *Scheduler) tick(now time.Time) {
	cfg := s.config()
	applied := make(map[ident.SessionID]bool)

	s.drainCompletions(now, applied)
	s.detectTimeouts(now, cfg, applied)
	s.admitPending(now, cfg, applied)

	if cfg.StatusInterval > 0 && now.Sub(s.lastStatus) >= cfg.StatusInterval {
		s.lastStatus = now
		s.publishStatus()
	}
}

func (s *Scheduler) drainCompletions(now time.Time, applied map[ident.SessionID]bool) {
	pending := s.deferred
	s.deferred = nil
drain:
	for {
		select {
		case c := <-s.completions:
			pending = append(pending, c)
		default:
			break drain
		}
	}

	for _, c := range pending {
		if applied[c.SessionID] {
			// Second outcome for the same session this tick; hold it over.
			s.deferred = append(s.deferred, c)
			continue
		}
		if s.applyCompletion(c, now) {
			applied[c.SessionID] = true
		}
	}
}

func (s *Scheduler) applyCompletion(c Completion, now time.Time) bool {
	var target session.State
	reason := ""
	switch c.Kind {
	case KindToolCall:
		target = session.ToolExec
	case KindToolResult:
		target = session.Running
	case KindInputRequest:
		target = session.HumanInput
	case KindInputResponse:
		target = session.Running
	case KindFinished:
		if c.OK {
			target = session.Succeeded
		} else {
			target = session.Failed
			reason = c.Reason
			if reason == "" {
				reason = "agent reported failure"
			}
		}
	default:
		log.Printf("scheduler: dropping completion with unknown kind %d for session %s", c.Kind, c.SessionID)
		return false
	}

	changed, err := s.apply(c.SessionID, target, reason, now)
	if err != nil {
		log.Printf("scheduler: completion %s for session %s rejected: %v", c.Kind, c.SessionID, err)
		return false
	}
	return changed
}

func (s *Scheduler) detectTimeouts(now time.Time, cfg Config, applied map[ident.SessionID]bool) {
	for _, sess := range s.store.All() {
		if applied[sess.ID] {
			continue
		}
		var limit time.Duration
		switch sess.State {
		case session.ToolExec:
			limit = cfg.ToolExecTimeout
			if s.templates != nil {
				if tpl, ok := s.templates.Get(sess.Template); ok && tpl.ToolTimeout > 0 {
					limit = tpl.ToolTimeout
				}
			}
		case session.HumanInput:
			limit = cfg.HumanInputTimeout
		default:
			continue
		}
		if limit <= 0 || now.Sub(sess.StateSince) < limit {
			continue
		}

		reason := "timeout: no response after " + limit.String() + " in " + sess.State.String()
		if _, err := s.apply(sess.ID, session.Failed, reason, now); err != nil {
			log.Printf("scheduler: timeout transition for session %s failed: %v", sess.ID, err)
			continue
		}
		applied[sess.ID] = true
		log.Printf("scheduler: session %s failed (%s)", sess.ID, reason)
	}
}

func (s *Scheduler) admitPending(now time.Time, cfg Config, applied map[ident.SessionID]bool) {
	all := s.store.All()

	occupied := 0
	if cfg.MaxRunning > 0 {
		for _, sess := range all {
			switch sess.State {
			case session.Running, session.ToolExec, session.HumanInput:
				occupied++
			}
		}
	}

	// Oldest waiting session first.
	waiting := make([]*session.Session, 0)
	for _, sess := range all {
		if sess.State == session.Pending && !applied[sess.ID] {
			waiting = append(waiting, sess)
		}
	}
	for i := 1; i < len(waiting); i++ {
		for j := i; j > 0 && waiting[j].StateSince.Before(waiting[j-1].StateSince); j-- {
			waiting[j-1], waiting[j] = waiting[j], waiting[j-1]
		}
	}

	for _, sess := range waiting {
		if cfg.MaxRunning > 0 && occupied >= cfg.MaxRunning {
			return
		}
		if _, err := s.apply(sess.ID, session.Running, "", now); err != nil {
			log.Printf("scheduler: admission of session %s failed: %v", sess.ID, err)
			continue
		}
		applied[sess.ID] = true
		occupied++
	}
}

// apply validates and commits one transition: mutate a snapshot, write it
// durably, commit it to the store, then broadcast. A persistence failure
// leaves the store untouched and the event unpublished.
func (s *Scheduler) apply(id ident.SessionID, target session.State, reason string, now time.Time) (bool, error) {
	sess, err := s.store.Get(id)
	if err != nil {
		return false, err
	}
	old := sess.State

	changed, err := sess.Transition(target, now)
	if err != nil {
		return false, err
	}
	if !changed {
		return false, nil
	}
	if reason != "" {
		sess.Reason = reason
	}

	if err := s.records.Save(persist.KindSession, sessionKey(id), sess); err != nil {
		return false, err
	}
	if err := s.store.Put(sess); err != nil {
		return false, err
	}

	s.bus.Publish(event.New(event.TypeStateChanged).
		ForSession(id).
		InChannel(sess.Channel).
		With(event.StateChangedPayload{
			OldState: old.String(),
			NewState: sess.State.String(),
			Reason:   reason,
		}))
	return true, nil
}

func (s *Scheduler) publishStatus() {
	payload := map[string]any{
		"stats":          s.collector.Snapshot(),
		"activeSessions": s.store.ActiveCount(),
		"running":        s.store.CountInState(session.Running),
		"subscribers":    s.bus.SubscriberCount(),
	}
	s.bus.Publish(event.New(event.TypeStatus).With(payload))
}

// Status returns the payload served by the status endpoint.
func (s *Scheduler) Status() map[string]any {
	return map[string]any{
		"stats":          s.collector.Snapshot(),
		"activeSessions": s.store.ActiveCount(),
		"running":        s.store.CountInState(session.Running),
		"subscribers":    s.bus.SubscriberCount(),
	}
}

func sessionKey(id ident.SessionID) string {
	return strconv.FormatUint(uint64(id), 10)
}
