package scheduler

import (
	"fmt"
	"log"
	"time"

	"github.com/agent-relay/backend/internal/channel"
	"github.com/agent-relay/backend/internal/event"
	"github.com/agent-relay/backend/internal/ident"
	"github.com/agent-relay/backend/internal/persist"
	"github.com/agent-relay/backend/internal/session"
)

// Control operations. Each exported method runs its work inside the loop
// goroutine via the command queue, so control traffic is serialized with
// tick processing and yields exactly one reply.

// CreateChannel registers a new channel.
func (s *Scheduler) CreateChannel(name, description string) (*channel.Channel, error) {
	var created *channel.Channel
	err := s.do(func(now time.Time) error {
		ch, err := s.createChannel(name, description, now)
		created = ch
		return err
	})
	return created, err
}

func (s *Scheduler) createChannel(name, description string, now time.Time) (*channel.Channel, error) {
	if name == "" {
		return nil, fmt.Errorf("channel name is required")
	}
	return s.registry.Create(name, description, now)
}

// DeleteChannel removes a channel and its memberships. Member sessions
// stay alive; callers that want them gone stop them explicitly.
func (s *Scheduler) DeleteChannel(name string) error {
	return s.do(func(now time.Time) error {
		return s.deleteChannel(name, now)
	})
}

func (s *Scheduler) deleteChannel(name string, now time.Time) error {
	ch, err := s.registry.Get(name)
	if err != nil {
		return err
	}
	if err := s.registry.Delete(name, now); err != nil {
		return err
	}

	// Surviving members must stop naming the dead channel, or their later
	// state:changed events and the sessions listing would keep tagging it.
	for _, id := range ch.Members {
		sess, err := s.store.Get(id)
		if err != nil {
			continue
		}
		sess.Channel = ""
		sess.UpdatedAt = now
		if err := s.records.Save(persist.KindSession, sessionKey(id), sess); err != nil {
			log.Printf("scheduler: detach session %s from deleted channel %s: %v", id, name, err)
			continue
		}
		if err := s.store.Put(sess); err != nil {
			log.Printf("scheduler: detach session %s from deleted channel %s: %v", id, name, err)
		}
	}
	return nil
}

// Invite creates a session from an agent template and joins it to the
// channel. A non-empty prompt is its work submission, queueing it for
// admission; without one the session waits in created for a message.
func (s *Scheduler) Invite(channelName, templateName, prompt string) (ident.SessionID, error) {
	var id ident.SessionID
	err := s.do(func(now time.Time) error {
		sess, err := s.invite(channelName, templateName, prompt, now)
		if err != nil {
			return err
		}
		id = sess.ID
		return nil
	})
	return id, err
}

func (s *Scheduler) invite(channelName, templateName, prompt string, now time.Time) (*session.Session, error) {
	if s.templates != nil {
		if _, ok := s.templates.Get(templateName); !ok {
			return nil, &UnknownTemplateError{Name: templateName}
		}
	}
	if _, err := s.registry.Get(channelName); err != nil {
		return nil, err
	}

	sess, err := s.store.Create(templateName, now)
	if err != nil {
		return nil, err
	}
	sess.Channel = channelName

	if err := s.records.Save(persist.KindSession, sessionKey(sess.ID), sess); err != nil {
		s.store.Discard(sess.ID)
		return nil, err
	}
	if err := s.store.Put(sess); err != nil {
		return nil, err
	}
	if err := s.registry.Join(channelName, sess.ID, now); err != nil {
		s.records.Delete(persist.KindSession, sessionKey(sess.ID))
		s.store.Discard(sess.ID)
		return nil, err
	}

	// All records are durable at this point. The session is announced
	// before its membership so no observer sees a join for an unknown
	// session.
	s.bus.Publish(event.New(event.TypeSessionCreated).
		ForSession(sess.ID).
		InChannel(channelName).
		With(sess))
	s.bus.Publish(event.New(event.TypeChannelJoined).
		InChannel(channelName).
		ForSession(sess.ID))

	if prompt != "" {
		s.bus.Publish(event.New(event.TypeMessagePosted).
			ForSession(sess.ID).
			InChannel(channelName).
			With(event.MessagePayload{Agent: templateName, Content: prompt}))
		if _, err := s.apply(sess.ID, session.Pending, "", now); err != nil {
			return nil, err
		}
	}
	return sess, nil
}

// Pause suspends an active session; the state it left is recorded for
// resume.
func (s *Scheduler) Pause(id ident.SessionID) error {
	return s.do(func(now time.Time) error {
		_, err := s.apply(id, session.Paused, "", now)
		return err
	})
}

// Resume returns a paused session to the state it was paused in.
func (s *Scheduler) Resume(id ident.SessionID) error {
	return s.do(func(now time.Time) error {
		return s.resume(id, now)
	})
}

func (s *Scheduler) resume(id ident.SessionID, now time.Time) error {
	sess, err := s.store.Get(id)
	if err != nil {
		return err
	}
	if sess.State != session.Paused {
		return &session.InvalidTransitionError{ID: id, From: sess.State, To: sess.PrevState}
	}
	_, err = s.apply(id, sess.PrevState, "", now)
	return err
}

// Stop forces a session to the terminal stopped state. Stopping an
// already-terminal session is a quiet success.
func (s *Scheduler) Stop(id ident.SessionID) error {
	return s.do(func(now time.Time) error {
		_, err := s.apply(id, session.Stopped, "stopped by request", now)
		return err
	})
}

// Delete destroys a session outright: it is stopped if still live, removed
// from its channel, its record deleted and its id slot freed for reuse.
func (s *Scheduler) Delete(id ident.SessionID) error {
	return s.do(func(now time.Time) error {
		return s.deleteSession(id, now)
	})
}

func (s *Scheduler) deleteSession(id ident.SessionID, now time.Time) error {
	sess, err := s.store.Get(id)
	if err != nil {
		return err
	}
	if _, err := s.apply(id, session.Stopped, "deleted", now); err != nil {
		return err
	}
	// The record goes first: failing here leaves a stopped session that is
	// still fully consistent and retryable. Past that point teardown is
	// committed and a membership write error must not strand the session
	// half-deleted.
	if err := s.records.Delete(persist.KindSession, sessionKey(id)); err != nil {
		return err
	}
	if err := s.registry.RemoveByID(id, now); err != nil {
		log.Printf("scheduler: remove deleted session %s from channel: %v", id, err)
	}
	if err := s.store.Remove(id); err != nil {
		return err
	}

	s.bus.Publish(event.New(event.TypeSessionDeleted).
		ForSession(id).
		InChannel(sess.Channel))
	return nil
}

// SubmitMessage posts a message into a channel. Created sessions matching
// the addressed agent template (all created members when agent is empty)
// take the message as their work submission and move to pending.
func (s *Scheduler) SubmitMessage(channelName, agent, content string) error {
	return s.do(func(now time.Time) error {
		return s.submitMessage(channelName, agent, content, now)
	})
}

func (s *Scheduler) submitMessage(channelName, agent, content string, now time.Time) error {
	if content == "" {
		return fmt.Errorf("message content is required")
	}
	ch, err := s.registry.Get(channelName)
	if err != nil {
		return err
	}

	s.bus.Publish(event.New(event.TypeMessagePosted).
		InChannel(channelName).
		With(event.MessagePayload{Agent: agent, Content: content}))

	for _, id := range ch.Members {
		sess, err := s.store.Get(id)
		if err != nil || sess.State != session.Created {
			continue
		}
		if agent != "" && sess.Template != agent {
			continue
		}
		if _, err := s.apply(id, session.Pending, "", now); err != nil {
			return err
		}
	}
	return nil
}
