// Package query bounds concurrent heavy reads against session-backed
// stores with a counting semaphore and propagates cancellation,
// grounded in the teacher's "acquire a slot, do the blocking call,
// release" worker idiom (app/query/pipeline.go, app/query/progress.go).
package query

import "context"

// defaultQuerySemaphore is the default concurrent-heavy-query cap
// (spec §5, "QuerySemaphore... default 3").
const defaultQuerySemaphore = 3

// semaphore is a *sync.WaitGroup-free counting semaphore built on a
// buffered channel: acquiring blocks until a slot is free or ctx is
// cancelled, releasing always succeeds.
type semaphore struct {
	slots chan struct{}
}

func newSemaphore(capacity int) *semaphore {
	if capacity < 1 {
		capacity = 1
	}
	return &semaphore{slots: make(chan struct{}, capacity)}
}

func (s *semaphore) acquire(ctx context.Context) error {
	select {
	case s.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *semaphore) release() {
	<-s.slots
}
