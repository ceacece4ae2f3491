package channel

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/agent-relay/backend/internal/event"
	"github.com/agent-relay/backend/internal/ident"
	"github.com/agent-relay/backend/internal/persist"
)

func newTestRegistry(t *testing.T) (*Registry, *event.Bus, string) {
	t.Helper()
	dir := t.TempDir()
	bus := event.NewBus(event.Options{})
	t.Cleanup(bus.Close)
	return NewRegistry(persist.NewStore(dir), bus), bus, dir
}

func TestCreateDuplicate(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	now := time.Now()

	if _, err := r.Create("dev", "dev work", now); err != nil {
		t.Fatalf("Create error: %v", err)
	}

	_, err := r.Create("dev", "again", now)
	var dup *DuplicateError
	if !errors.As(err, &dup) {
		t.Fatalf("duplicate create = %v, want *DuplicateError", err)
	}
}

func TestDeleteNotFound(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	err := r.Delete("ghost", time.Now())
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("delete missing = %v, want *NotFoundError", err)
	}
}

func TestMembershipBothDirections(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	now := time.Now()
	id := ident.SessionID(1)

	r.Create("dev", "", now)
	if err := r.AddSession("dev", id, now); err != nil {
		t.Fatalf("AddSession error: %v", err)
	}

	if name, ok := r.ChannelFor(id); !ok || name != "dev" {
		t.Errorf("ChannelFor = %q,%v, want dev,true", name, ok)
	}
	ch, _ := r.Get("dev")
	if len(ch.Members) != 1 || ch.Members[0] != id {
		t.Errorf("Members = %v, want [%v]", ch.Members, id)
	}

	if err := r.RemoveSession("dev", id, now); err != nil {
		t.Fatalf("RemoveSession error: %v", err)
	}
	if _, ok := r.ChannelFor(id); ok {
		t.Error("ChannelFor should be unmapped after removal")
	}
	ch, _ = r.Get("dev")
	if len(ch.Members) != 0 {
		t.Errorf("Members after removal = %v, want empty", ch.Members)
	}
}

func TestSessionBelongsToOneChannel(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	now := time.Now()
	id := ident.SessionID(1)

	r.Create("dev", "", now)
	r.Create("research", "", now)
	r.AddSession("dev", id, now)

	err := r.AddSession("research", id, now)
	var joined *AlreadyJoinedError
	if !errors.As(err, &joined) {
		t.Fatalf("second join = %v, want *AlreadyJoinedError", err)
	}
	if joined.Channel != "dev" {
		t.Errorf("error names channel %q, want dev", joined.Channel)
	}
}

func TestDeleteCascadesMembership(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	now := time.Now()
	a, b := ident.SessionID(1), ident.SessionID(2)

	r.Create("dev", "", now)
	r.AddSession("dev", a, now)
	r.AddSession("dev", b, now)

	if err := r.Delete("dev", now); err != nil {
		t.Fatalf("Delete error: %v", err)
	}

	for _, id := range []ident.SessionID{a, b} {
		if _, ok := r.ChannelFor(id); ok {
			t.Errorf("session %v still mapped after channel delete", id)
		}
	}

	// Re-creating the channel does not restore membership.
	r.Create("dev", "", now)
	ch, _ := r.Get("dev")
	if len(ch.Members) != 0 {
		t.Errorf("recreated channel members = %v, want empty", ch.Members)
	}
}

func TestPersistFailureRollsBack(t *testing.T) {
	dir := t.TempDir()
	bus := event.NewBus(event.Options{})
	defer bus.Close()
	r := NewRegistry(persist.NewStore(dir), bus)
	now := time.Now()

	// A file where the channels directory should be makes every durable
	// write fail.
	if err := os.WriteFile(filepath.Join(dir, persist.KindChannel), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	_, feed, cancel := bus.Subscribe()
	defer cancel()

	_, err := r.Create("dev", "", now)
	var perr *persist.Error
	if !errors.As(err, &perr) {
		t.Fatalf("Create with broken store = %v, want *persist.Error", err)
	}
	if _, err := r.Get("dev"); err == nil {
		t.Error("failed create must not leave the channel in memory")
	}

	// No event may precede a durable write.
	select {
	case ev := <-feed:
		t.Errorf("unexpected event %v after failed persist", ev.Type)
	default:
	}
}

func TestAddSessionRollbackOnPersistFailure(t *testing.T) {
	dir := t.TempDir()
	bus := event.NewBus(event.Options{})
	defer bus.Close()
	r := NewRegistry(persist.NewStore(dir), bus)
	now := time.Now()
	id := ident.SessionID(1)

	r.Create("dev", "", now)

	// Break the store after the channel exists.
	chDir := filepath.Join(dir, persist.KindChannel)
	if err := os.RemoveAll(chDir); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(chDir, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	err := r.AddSession("dev", id, now)
	var perr *persist.Error
	if !errors.As(err, &perr) {
		t.Fatalf("AddSession with broken store = %v, want *persist.Error", err)
	}

	// Neither direction of the mapping may be updated.
	if _, ok := r.ChannelFor(id); ok {
		t.Error("session mapped despite persist failure")
	}
	ch, _ := r.Get("dev")
	if len(ch.Members) != 0 {
		t.Errorf("members = %v despite persist failure", ch.Members)
	}
}

func TestEventsFollowMutations(t *testing.T) {
	r, bus, _ := newTestRegistry(t)
	now := time.Now()
	id := ident.SessionID(1)

	_, feed, cancel := bus.Subscribe()
	defer cancel()

	r.Create("dev", "", now)
	r.AddSession("dev", id, now)
	r.RemoveSession("dev", id, now)
	r.Delete("dev", now)

	want := []event.Type{
		event.TypeChannelCreated,
		event.TypeChannelJoined,
		event.TypeChannelLeft,
		event.TypeChannelDeleted,
	}
	for i, wantType := range want {
		ev := <-feed
		if ev.Type != wantType {
			t.Errorf("event %d = %v, want %v", i, ev.Type, wantType)
		}
	}
}

func TestRestorePrunesDeadMembers(t *testing.T) {
	r, _, dir := newTestRegistry(t)
	now := time.Now()

	persisted := &Channel{
		Name:      "dev",
		Members:   []ident.SessionID{1, 2, 3},
		CreatedAt: now,
		UpdatedAt: now,
	}
	alive := map[ident.SessionID]bool{2: true}

	err := r.Restore([]*Channel{persisted}, func(id ident.SessionID) bool { return alive[id] })
	if err != nil {
		t.Fatalf("Restore error: %v", err)
	}

	ch, _ := r.Get("dev")
	if len(ch.Members) != 1 || ch.Members[0] != 2 {
		t.Errorf("restored members = %v, want [2]", ch.Members)
	}
	if _, ok := r.ChannelFor(1); ok {
		t.Error("dead member still mapped after restore")
	}

	// The pruned record was written back.
	var onDisk Channel
	if err := persist.NewStore(dir).Load(persist.KindChannel, "dev", &onDisk); err != nil {
		t.Fatalf("Load pruned record error: %v", err)
	}
	if len(onDisk.Members) != 1 {
		t.Errorf("on-disk members = %v, want [2]", onDisk.Members)
	}
}
