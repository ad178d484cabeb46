package query

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestSemaphore_BoundsConcurrency(t *testing.T) {
	sem := newSemaphore(2)
	var current, maxSeen int32

	release := func() {
		atomic.AddInt32(&current, -1)
		sem.release()
	}

	acquireAndHold := func(t *testing.T) func() {
		if err := sem.acquire(context.Background()); err != nil {
			t.Fatalf("acquire: %v", err)
		}
		n := atomic.AddInt32(&current, 1)
		for {
			old := atomic.LoadInt32(&maxSeen)
			if n <= old || atomic.CompareAndSwapInt32(&maxSeen, old, n) {
				break
			}
		}
		return release
	}

	done := make(chan struct{}, 5)
	for i := 0; i < 5; i++ {
		go func() {
			rel := acquireAndHold(t)
			time.Sleep(20 * time.Millisecond)
			rel()
			done <- struct{}{}
		}()
	}
	for i := 0; i < 5; i++ {
		<-done
	}

	if maxSeen > 2 {
		t.Fatalf("observed %d concurrent holders, want <= 2", maxSeen)
	}
}

func TestSemaphore_AcquireRespectsCancellation(t *testing.T) {
	sem := newSemaphore(1)
	if err := sem.acquire(context.Background()); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	defer sem.release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := sem.acquire(ctx); err == nil {
		t.Fatalf("expected acquire to fail once the context deadline passes")
	}
}
