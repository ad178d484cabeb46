// Package progress generalizes the teacher's single-callback
// ProgressTracker (app/query/progress.go) into a multi-subscriber
// broadcaster of state snapshots, per spec §4.8: "Progress surfaces are
// specified as streams of state snapshots rather than deltas; this
// simplifies resumption and avoids lost-update hazards if the
// subscriber reconnects."
package progress

import (
	"sync"
	"time"
)

// Broadcaster fans a sequence of snapshots out to any number of
// subscribers. Each subscriber has its own single-slot "latest wins"
// channel: a slow subscriber never blocks the publisher and never sees
// progress go backwards, it just misses intermediate values (spec §4.8:
// "the design permits the server to skip values but never to decrease
// them").
type Broadcaster[T any] struct {
	mu          sync.Mutex
	subscribers map[int]chan T
	nextID      int
	last        T
	hasLast     bool
}

// New creates an empty broadcaster.
func New[T any]() *Broadcaster[T] {
	return &Broadcaster[T]{subscribers: make(map[int]chan T)}
}

// Subscribe registers a new subscriber and returns its channel plus an
// unsubscribe function. If a snapshot has already been published, the
// subscriber immediately receives it so a late-joining subscriber (or
// one that reconnects) observes current state rather than nothing.
func (b *Broadcaster[T]) Subscribe() (<-chan T, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan T, 1)
	if b.hasLast {
		ch <- b.last
	}
	b.subscribers[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(c)
		}
	}
	return ch, cancel
}

// Publish delivers snapshot to every current subscriber. Delivery is
// non-blocking: if a subscriber's single-slot buffer is full (it hasn't
// drained the previous snapshot yet), the stale value is dropped in
// favor of the new one rather than blocking the producer.
func (b *Broadcaster[T]) Publish(snapshot T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.last = snapshot
	b.hasLast = true

	for _, ch := range b.subscribers {
		select {
		case ch <- snapshot:
		default:
			// Drain the stale snapshot and replace it so subscribers
			// always see the most recent state, never a stacked queue.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snapshot:
			default:
			}
		}
	}
}

// Last returns the most recently published snapshot, if any.
func (b *Broadcaster[T]) Last() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last, b.hasLast
}

// Close unsubscribes and closes every subscriber channel, used when the
// underlying job/session is torn down.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subscribers {
		delete(b.subscribers, id)
		close(ch)
	}
}

// Throttle wraps publish so that calls arriving faster than minInterval
// apart are dropped, the same idea as the teacher's
// ThrottledProgressCallback (app/query/progress.go) generalized from a
// single callback to any publish func. The terminal call should bypass
// the throttle by calling publish directly so a final state is never
// lost.
func Throttle[T any](publish func(T), minInterval time.Duration) func(T) {
	var mu sync.Mutex
	var last time.Time
	return func(v T) {
		mu.Lock()
		now := time.Now()
		if now.Sub(last) < minInterval {
			mu.Unlock()
			return
		}
		last = now
		mu.Unlock()
		publish(v)
	}
}
