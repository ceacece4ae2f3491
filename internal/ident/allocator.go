// Package ident issues generational session identifiers. A SessionID packs a
// slot index and a generation counter; recycling a slot bumps its generation,
// so every previously issued id for that slot becomes detectably stale
// instead of silently addressing the new occupant.
package ident

import (
	"fmt"
	"sync"
)

// MaxSlots is the hard ceiling on live identifiers: slot indexes are 16-bit.
const MaxSlots = 1 << 16

// SessionID packs a 16-bit slot index (low bits) and a 16-bit generation
// counter (high bits) into one opaque value.
type SessionID uint32

func makeID(slot, generation uint16) SessionID {
	return SessionID(uint32(generation)<<16 | uint32(slot))
}

// Slot returns the slot index portion of the id.
func (id SessionID) Slot() uint16 {
	return uint16(id & 0xffff)
}

// Generation returns the generation counter portion of the id.
func (id SessionID) Generation() uint16 {
	return uint16(id >> 16)
}

func (id SessionID) String() string {
	return fmt.Sprintf("%d.%d", id.Slot(), id.Generation())
}

// CapacityError reports that the allocator has no free slots left.
type CapacityError struct {
	Capacity int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("session id space exhausted (%d slots)", e.Capacity)
}

// StaleError reports an operation against a released or recycled id.
type StaleError struct {
	ID SessionID
}

func (e *StaleError) Error() string {
	return fmt.Sprintf("stale session id %s", e.ID)
}

type slot struct {
	generation uint16
	live       bool
}

// Allocator hands out SessionIDs and tracks which are still live. Freed
// slots are reused LIFO so the working set stays compact.
type Allocator struct {
	mu       sync.Mutex
	slots    []slot
	free     []uint16 // LIFO stack of released slot indexes
	capacity int
}

// NewAllocator builds an allocator bounded to capacity live ids. A capacity
// of zero or anything above MaxSlots means the full 16-bit slot space.
func NewAllocator(capacity int) *Allocator {
	if capacity <= 0 || capacity > MaxSlots {
		capacity = MaxSlots
	}
	return &Allocator{capacity: capacity}
}

// Allocate returns a fresh or recycled identifier. Recycled slots come back
// with an incremented generation, invalidating every id issued for the slot
// before. Allocation past capacity fails with *CapacityError.
func (a *Allocator) Allocate() (SessionID, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n := len(a.free); n > 0 {
		idx := a.free[n-1]
		a.free = a.free[:n-1]
		s := &a.slots[idx]
		s.generation++
		s.live = true
		return makeID(idx, s.generation), nil
	}

	if len(a.slots) >= a.capacity {
		return 0, &CapacityError{Capacity: a.capacity}
	}

	idx := uint16(len(a.slots))
	a.slots = append(a.slots, slot{live: true})
	return makeID(idx, 0), nil
}

// Release marks an id dead and returns its slot to the free pool. Returns
// false if the id is already invalid; the call is then a no-op.
func (a *Allocator) Release(id SessionID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.validLocked(id) {
		return false
	}
	idx := id.Slot()
	a.slots[idx].live = false
	a.free = append(a.free, idx)
	return true
}

// IsValid reports whether id addresses a live slot with a matching
// generation. It has no side effects.
func (a *Allocator) IsValid(id SessionID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.validLocked(id)
}

// Stale reports whether id addresses a slot that has been handed out before
// but no longer matches: the slot was released or recycled. An id whose slot
// was never allocated is not stale, merely unknown.
func (a *Allocator) Stale(id SessionID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	idx := int(id.Slot())
	if idx >= len(a.slots) {
		return false
	}
	return !a.validLocked(id)
}

func (a *Allocator) validLocked(id SessionID) bool {
	idx := int(id.Slot())
	if idx >= len(a.slots) {
		return false
	}
	s := a.slots[idx]
	return s.live && s.generation == id.Generation()
}

// Adopt re-seeds a slot/generation pair from a persisted record during
// startup recovery. It fails if the slot is already live or the id lies
// outside the configured capacity.
func (a *Allocator) Adopt(id SessionID) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	idx := int(id.Slot())
	if idx >= a.capacity {
		return &CapacityError{Capacity: a.capacity}
	}
	for len(a.slots) <= idx {
		// Slots below the adopted index that were never handed out become
		// free pool entries so later Allocate calls can use them.
		a.slots = append(a.slots, slot{})
		a.free = append(a.free, uint16(len(a.slots)-1))
	}
	s := &a.slots[idx]
	if s.live {
		return fmt.Errorf("adopt %s: slot %d already live at generation %d", id, idx, s.generation)
	}
	// Drop the slot from the free pool if it was parked there.
	for i, f := range a.free {
		if int(f) == idx {
			a.free = append(a.free[:i], a.free[i+1:]...)
			break
		}
	}
	s.generation = id.Generation()
	s.live = true
	return nil
}

// Live returns the number of currently live identifiers.
func (a *Allocator) Live() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.slots) - len(a.free)
}
