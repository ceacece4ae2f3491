package channel

import (
	"sort"
	"sync"
	"time"

	"github.com/agent-relay/backend/internal/event"
	"github.com/agent-relay/backend/internal/ident"
	"github.com/agent-relay/backend/internal/persist"
)

// Registry keeps the channel table and the session→channel index in
// lockstep. All mutations follow the same shape: build the mutated record,
// write it durably, commit it to memory, then publish — a failed write
// leaves memory (and therefore observers) exactly as before.
type Registry struct {
	mu        sync.RWMutex
	channels  map[string]*Channel
	bySession map[ident.SessionID]string
	store     *persist.Store
	bus       *event.Bus
}

func NewRegistry(store *persist.Store, bus *event.Bus) *Registry {
	return &Registry{
		channels:  make(map[string]*Channel),
		bySession: make(map[ident.SessionID]string),
		store:     store,
		bus:       bus,
	}
}

// Create registers a new channel. Fails with *DuplicateError if the name is
// taken.
func (r *Registry) Create(name, description string, now time.Time) (*Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.channels[name]; exists {
		return nil, &DuplicateError{Name: name}
	}

	ch := &Channel{
		Name:        name,
		Description: description,
		Members:     []ident.SessionID{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := r.store.Save(persist.KindChannel, name, ch); err != nil {
		return nil, err
	}
	r.channels[name] = ch

	r.bus.Publish(event.New(event.TypeChannelCreated).InChannel(name).With(ch.Clone()))
	return ch.Clone(), nil
}

// Delete removes the channel and every membership entry pointing at it.
// Member sessions themselves stay alive; stopping them is a caller
// decision. Fails with *NotFoundError if the channel is absent.
func (r *Registry) Delete(name string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, exists := r.channels[name]
	if !exists {
		return &NotFoundError{Name: name}
	}

	if err := r.store.Delete(persist.KindChannel, name); err != nil {
		return err
	}
	for _, id := range ch.Members {
		delete(r.bySession, id)
	}
	delete(r.channels, name)

	r.bus.Publish(event.New(event.TypeChannelDeleted).InChannel(name))
	return nil
}

// AddSession makes id a member of the named channel and announces the
// join. A session already mapped to any channel is rejected with
// *AlreadyJoinedError; both directions of the mapping change together or
// not at all.
func (r *Registry) AddSession(name string, id ident.SessionID, now time.Time) error {
	if err := r.Join(name, id, now); err != nil {
		return err
	}
	r.bus.Publish(event.New(event.TypeChannelJoined).InChannel(name).ForSession(id))
	return nil
}

// Join records the membership without announcing it. Invite uses this so
// it can publish session:created first; observers never see a join for a
// session they have not been told about.
func (r *Registry) Join(name string, id ident.SessionID, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, exists := r.channels[name]
	if !exists {
		return &NotFoundError{Name: name}
	}
	if current, mapped := r.bySession[id]; mapped {
		return &AlreadyJoinedError{ID: id, Channel: current}
	}

	next := ch.Clone()
	next.addMember(id)
	next.UpdatedAt = now
	if err := r.store.Save(persist.KindChannel, name, next); err != nil {
		return err
	}
	r.channels[name] = next
	r.bySession[id] = name
	return nil
}

// RemoveSession drops id from the named channel. Removing a session that is
// not a member fails with *NotFoundError on the channel side of the lookup.
func (r *Registry) RemoveSession(name string, id ident.SessionID, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(name, id, now)
}

// RemoveByID drops id from whatever channel it belongs to. Unmapped ids are
// a no-op success; session teardown calls this unconditionally.
func (r *Registry) RemoveByID(id ident.SessionID, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name, mapped := r.bySession[id]
	if !mapped {
		return nil
	}
	return r.removeLocked(name, id, now)
}

func (r *Registry) removeLocked(name string, id ident.SessionID, now time.Time) error {
	ch, exists := r.channels[name]
	if !exists {
		return &NotFoundError{Name: name}
	}
	if !ch.hasMember(id) {
		return &NotFoundError{Name: name}
	}

	next := ch.Clone()
	next.removeMember(id)
	next.UpdatedAt = now
	if err := r.store.Save(persist.KindChannel, name, next); err != nil {
		return err
	}
	r.channels[name] = next
	delete(r.bySession, id)

	r.bus.Publish(event.New(event.TypeChannelLeft).InChannel(name).ForSession(id))
	return nil
}

// ChannelFor returns the channel id belongs to, or false if unmapped.
func (r *Registry) ChannelFor(id ident.SessionID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.bySession[id]
	return name, ok
}

// Get returns a snapshot of the named channel.
func (r *Registry) Get(name string) (*Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ch, exists := r.channels[name]
	if !exists {
		return nil, &NotFoundError{Name: name}
	}
	return ch.Clone(), nil
}

// All returns snapshots of every channel, ordered by name.
func (r *Registry) All() []*Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		result = append(result, ch.Clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// Restore rebuilds the registry from persisted records during startup.
// keep filters membership: ids it rejects (sessions that no longer exist)
// are dropped, and a pruned record is written back. No events are
// published; restore precedes the first subscriber.
func (r *Registry) Restore(channels []*Channel, keep func(ident.SessionID) bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ch := range channels {
		restored := ch.Clone()
		pruned := restored.Members[:0]
		for _, id := range restored.Members {
			if keep == nil || keep(id) {
				pruned = append(pruned, id)
			}
		}
		dropped := len(restored.Members) - len(pruned)
		restored.Members = pruned

		if dropped > 0 {
			if err := r.store.Save(persist.KindChannel, restored.Name, restored); err != nil {
				return err
			}
		}
		r.channels[restored.Name] = restored
		for _, id := range restored.Members {
			r.bySession[id] = restored.Name
		}
	}
	return nil
}
