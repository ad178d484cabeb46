package progress

import (
	"testing"
	"time"
)

func TestBroadcaster_SubscribeReceivesLastPublished(t *testing.T) {
	b := New[int]()
	b.Publish(1)
	b.Publish(2)

	ch, cancel := b.Subscribe()
	defer cancel()

	select {
	case v := <-ch:
		if v != 2 {
			t.Fatalf("got %d, want 2 (the latest published value)", v)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for the replayed snapshot")
	}
}

func TestBroadcaster_SubscribeBeforeAnyPublish(t *testing.T) {
	b := New[int]()
	ch, cancel := b.Subscribe()
	defer cancel()

	select {
	case <-ch:
		t.Fatalf("expected no value before the first Publish")
	default:
	}

	b.Publish(5)
	select {
	case v := <-ch:
		if v != 5 {
			t.Fatalf("got %d, want 5", v)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for published value")
	}
}

func TestBroadcaster_FanOutToMultipleSubscribers(t *testing.T) {
	b := New[string]()
	ch1, cancel1 := b.Subscribe()
	defer cancel1()
	ch2, cancel2 := b.Subscribe()
	defer cancel2()

	b.Publish("hello")

	for i, ch := range []<-chan string{ch1, ch2} {
		select {
		case v := <-ch:
			if v != "hello" {
				t.Fatalf("subscriber %d got %q, want hello", i, v)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d: timed out", i)
		}
	}
}

func TestBroadcaster_SlowSubscriberDropsStaleNotLatest(t *testing.T) {
	b := New[int]()
	ch, cancel := b.Subscribe()
	defer cancel()

	// The subscriber never drains, so each Publish must overwrite the
	// single-slot buffer instead of blocking.
	b.Publish(1)
	b.Publish(2)
	b.Publish(3)

	select {
	case v := <-ch:
		if v != 3 {
			t.Fatalf("got %d, want the most recent value 3", v)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out; Publish must not block on a full subscriber channel")
	}
}

func TestBroadcaster_Last(t *testing.T) {
	b := New[int]()
	if _, ok := b.Last(); ok {
		t.Fatalf("expected no last value on an empty broadcaster")
	}
	b.Publish(42)
	v, ok := b.Last()
	if !ok || v != 42 {
		t.Fatalf("Last() = (%v, %v), want (42, true)", v, ok)
	}
}

func TestBroadcaster_CloseClosesSubscriberChannels(t *testing.T) {
	b := New[int]()
	ch, _ := b.Subscribe()
	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("expected channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for channel close")
	}
}

func TestThrottle_DropsCallsWithinInterval(t *testing.T) {
	var calls []int
	publish := Throttle(func(v int) { calls = append(calls, v) }, 50*time.Millisecond)

	publish(1)
	publish(2) // within the interval, should be dropped
	if len(calls) != 1 {
		t.Fatalf("calls = %v, want only the first call to pass through", calls)
	}

	time.Sleep(60 * time.Millisecond)
	publish(3)
	if len(calls) != 2 || calls[1] != 3 {
		t.Fatalf("calls = %v, want a third call to pass through after the interval elapses", calls)
	}
}
