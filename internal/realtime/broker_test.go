package realtime

import (
	"testing"
	"time"
)

func recv(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case evt := <-ch:
		return evt
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestPublishReachesAllSubscribers(t *testing.T) {
	t.Parallel()

	b := NewBroker()
	ch1, cancel1 := b.Subscribe()
	defer cancel1()
	ch2, cancel2 := b.Subscribe()
	defer cancel2()

	b.Publish(Event{Type: TypeRunStarted, JobName: "backup", JobGroup: "DEFAULT", RunID: "r-1"})

	for _, ch := range []<-chan Event{ch1, ch2} {
		evt := recv(t, ch)
		if evt.Type != TypeRunStarted || evt.RunID != "r-1" {
			t.Fatalf("unexpected event: %+v", evt)
		}
		if evt.ID == 0 || evt.At.IsZero() {
			t.Fatalf("expected assigned ID and timestamp, got %+v", evt)
		}
	}
}

func TestEventIDsIncrease(t *testing.T) {
	t.Parallel()

	b := NewBroker()
	ch, cancel := b.Subscribe()
	defer cancel()

	b.Publish(Event{Type: TypeJobPaused})
	b.Publish(Event{Type: TypeJobResumed})

	first := recv(t, ch)
	second := recv(t, ch)
	if second.ID <= first.ID {
		t.Fatalf("IDs must increase: %d then %d", first.ID, second.ID)
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	t.Parallel()

	b := NewBroker()
	ch, cancel := b.Subscribe()
	cancel()
	cancel() // idempotent

	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after cancel")
	}

	// Publishing after cancel must not panic.
	b.Publish(Event{Type: TypeRunCompleted})
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	t.Parallel()

	b := NewBroker()
	_, cancel := b.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ { // more than the channel buffer
			b.Publish(Event{Type: TypeRunStarted})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}
}
