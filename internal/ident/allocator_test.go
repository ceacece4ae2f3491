package ident

import (
	"errors"
	"testing"
)

func TestAllocateReleaseRecycle(t *testing.T) {
	a := NewAllocator(16)

	id, err := a.Allocate()
	if err != nil {
		t.Fatalf("Allocate error: %v", err)
	}
	if !a.IsValid(id) {
		t.Fatalf("freshly allocated id %s should be valid", id)
	}

	if !a.Release(id) {
		t.Fatalf("Release(%s) = false, want true", id)
	}
	if a.IsValid(id) {
		t.Errorf("released id %s should be invalid", id)
	}

	// Recycled allocation reuses the slot with a bumped generation.
	recycled, err := a.Allocate()
	if err != nil {
		t.Fatalf("Allocate error: %v", err)
	}
	if recycled.Slot() != id.Slot() {
		t.Errorf("recycled slot = %d, want %d", recycled.Slot(), id.Slot())
	}
	if recycled.Generation() != id.Generation()+1 {
		t.Errorf("recycled generation = %d, want %d", recycled.Generation(), id.Generation()+1)
	}
	if a.IsValid(id) {
		t.Errorf("stale id %s must stay invalid after slot reuse", id)
	}
	if !a.IsValid(recycled) {
		t.Errorf("recycled id %s should be valid", recycled)
	}
}

func TestReleaseInvalidIsNoOp(t *testing.T) {
	a := NewAllocator(16)

	id, _ := a.Allocate()
	if !a.Release(id) {
		t.Fatal("first Release should succeed")
	}
	if a.Release(id) {
		t.Error("second Release of same id should return false")
	}
	if a.Release(makeID(42, 0)) {
		t.Error("Release of never-allocated id should return false")
	}
}

func TestCapacityExhausted(t *testing.T) {
	a := NewAllocator(4)

	ids := make([]SessionID, 0, 4)
	for i := 0; i < 4; i++ {
		id, err := a.Allocate()
		if err != nil {
			t.Fatalf("Allocate %d error: %v", i, err)
		}
		ids = append(ids, id)
	}

	_, err := a.Allocate()
	var capErr *CapacityError
	if !errors.As(err, &capErr) {
		t.Fatalf("Allocate past capacity = %v, want *CapacityError", err)
	}
	if capErr.Capacity != 4 {
		t.Errorf("CapacityError.Capacity = %d, want 4", capErr.Capacity)
	}

	// Releasing frees capacity again.
	a.Release(ids[0])
	if _, err := a.Allocate(); err != nil {
		t.Errorf("Allocate after release error: %v", err)
	}
}

func TestLIFOReuse(t *testing.T) {
	a := NewAllocator(16)

	var ids []SessionID
	for i := 0; i < 3; i++ {
		id, _ := a.Allocate()
		ids = append(ids, id)
	}
	for _, id := range ids {
		a.Release(id)
	}

	// Last released slot comes back first.
	next, _ := a.Allocate()
	if next.Slot() != ids[2].Slot() {
		t.Errorf("reused slot = %d, want %d (LIFO)", next.Slot(), ids[2].Slot())
	}
}

func TestReleasedNeverValidAgain(t *testing.T) {
	a := NewAllocator(8)

	// Churn a single slot through many generations; every released id must
	// stay invalid forever.
	var stale []SessionID
	id, _ := a.Allocate()
	for i := 0; i < 100; i++ {
		a.Release(id)
		stale = append(stale, id)
		id, _ = a.Allocate()
	}
	for _, s := range stale {
		if a.IsValid(s) {
			t.Fatalf("stale id %s reported valid", s)
		}
	}
	if !a.IsValid(id) {
		t.Errorf("current id %s should be valid", id)
	}
}

func TestAdopt(t *testing.T) {
	a := NewAllocator(16)

	persisted := makeID(3, 7)
	if err := a.Adopt(persisted); err != nil {
		t.Fatalf("Adopt error: %v", err)
	}
	if !a.IsValid(persisted) {
		t.Fatal("adopted id should be valid")
	}

	// A second adopt of a live slot fails.
	if err := a.Adopt(makeID(3, 9)); err == nil {
		t.Error("Adopt of live slot should fail")
	}

	// Slots skipped during adoption are still allocatable.
	seen := map[uint16]bool{persisted.Slot(): true}
	for i := 0; i < 3; i++ {
		id, err := a.Allocate()
		if err != nil {
			t.Fatalf("Allocate error: %v", err)
		}
		if seen[id.Slot()] {
			t.Fatalf("slot %d handed out twice", id.Slot())
		}
		seen[id.Slot()] = true
	}
}

func TestIDPacking(t *testing.T) {
	tests := []struct {
		slot       uint16
		generation uint16
	}{
		{0, 0},
		{1, 0},
		{0, 1},
		{65535, 65535},
		{4096, 17},
	}

	for _, tt := range tests {
		id := makeID(tt.slot, tt.generation)
		if id.Slot() != tt.slot {
			t.Errorf("Slot() = %d, want %d", id.Slot(), tt.slot)
		}
		if id.Generation() != tt.generation {
			t.Errorf("Generation() = %d, want %d", id.Generation(), tt.generation)
		}
	}
}
