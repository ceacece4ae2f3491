package event

import (
	"log"
	"sync"
)

const (
	// DefaultHistorySize bounds the ring of retained events.
	DefaultHistorySize = 1000
	// DefaultReplayCount is how many buffered events a new subscriber
	// receives before the live feed.
	DefaultReplayCount = 100
	// DefaultSubscriberBuffer is the per-subscriber channel depth.
	DefaultSubscriberBuffer = 64
)

// Options configures a Bus. Zero fields take the package defaults.
type Options struct {
	HistorySize      int
	ReplayCount      int
	SubscriberBuffer int
}

type subscriber struct {
	id uint64
	ch chan Event
}

// Bus fans published events out to subscribers in publish order and keeps a
// bounded ring of recent events for late joiners. A subscriber that cannot
// keep up is dropped rather than allowed to stall delivery to the rest.
type Bus struct {
	mu          sync.Mutex
	opts        Options
	subscribers map[uint64]*subscriber
	nextSubID   uint64
	closed      bool

	history      []Event
	historyNext  int
	historyCount int
}

func NewBus(opts Options) *Bus {
	if opts.HistorySize <= 0 {
		opts.HistorySize = DefaultHistorySize
	}
	if opts.ReplayCount <= 0 {
		opts.ReplayCount = DefaultReplayCount
	}
	if opts.SubscriberBuffer <= 0 {
		opts.SubscriberBuffer = DefaultSubscriberBuffer
	}
	return &Bus{
		opts:        opts,
		subscribers: make(map[uint64]*subscriber),
		history:     make([]Event, opts.HistorySize),
	}
}

// Publish appends the event to the history ring (evicting the oldest entry
// on overflow) and pushes it to every open subscriber. Holding the lock for
// the whole fan-out keeps per-subscriber delivery order identical to publish
// order; sends are non-blocking, so one full subscriber only loses itself.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.appendHistoryLocked(ev)

	for id, sub := range b.subscribers {
		select {
		case sub.ch <- ev:
		default:
			// Subscriber buffer full: drop the subscriber, not the event.
			log.Printf("event bus: subscriber %d too slow, dropping", id)
			delete(b.subscribers, id)
			close(sub.ch)
		}
	}
}

// Subscribe registers a new observer. It returns the most recent buffered
// events (up to the configured replay count, oldest first), a live feed
// channel, and a cancel function. The feed channel is closed on cancel, on
// bus close, or when the subscriber falls too far behind.
func (b *Bus) Subscribe() ([]Event, <-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan Event)
		close(ch)
		return nil, ch, func() {}
	}

	b.nextSubID++
	sub := &subscriber{
		id: b.nextSubID,
		ch: make(chan Event, b.opts.SubscriberBuffer),
	}
	b.subscribers[sub.id] = sub

	history := b.snapshotLocked(b.opts.ReplayCount)
	id := sub.id
	return history, sub.ch, func() { b.unsubscribe(id) }
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		close(sub.ch)
	}
}

// History returns up to count retained events, oldest first. count <= 0
// returns the whole retained window.
func (b *Bus) History(count int) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked(count)
}

// SubscriberCount returns the number of open subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// Close drops all subscribers and rejects further publishes.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subscribers {
		delete(b.subscribers, id)
		close(sub.ch)
	}
}

func (b *Bus) appendHistoryLocked(ev Event) {
	b.history[b.historyNext] = ev
	if b.historyCount < len(b.history) {
		b.historyCount++
	}
	b.historyNext = (b.historyNext + 1) % len(b.history)
}

func (b *Bus) snapshotLocked(count int) []Event {
	if b.historyCount == 0 {
		return nil
	}
	total := b.historyCount
	if count <= 0 || count > total {
		count = total
	}
	var start int
	if total == len(b.history) {
		start = (b.historyNext - count + len(b.history)) % len(b.history)
	} else {
		start = total - count
	}

	events := make([]Event, 0, count)
	for i := 0; i < count; i++ {
		events = append(events, b.history[(start+i)%len(b.history)])
	}
	return events
}
