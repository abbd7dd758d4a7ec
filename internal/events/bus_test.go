package events

import (
	"sync"
	"testing"
	"time"
)

func TestBus_PublishDeliversToSubscriber(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	received := make(chan Event, 1)
	bus.Subscribe(EventJobQueued, func(e Event) {
		received <- e
	})

	bus.Publish(EventJobQueued, JobPayload{JobID: "j-1"})

	select {
	case e := <-received:
		if e.Type != EventJobQueued {
			t.Errorf("Type = %q, want %q", e.Type, EventJobQueued)
		}
		payload, ok := e.Payload.(JobPayload)
		if !ok {
			t.Fatalf("Payload type = %T, want JobPayload", e.Payload)
		}
		if payload.JobID != "j-1" {
			t.Errorf("JobID = %q, want j-1", payload.JobID)
		}
		if e.Timestamp.IsZero() {
			t.Error("Timestamp not stamped")
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestBus_SubscriberOnlySeesItsType(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	var mu sync.Mutex
	var got []EventType
	done := make(chan struct{}, 1)
	bus.Subscribe(EventJobCompleted, func(e Event) {
		mu.Lock()
		got = append(got, e.Type)
		mu.Unlock()
		done <- struct{}{}
	})

	bus.Publish(EventJobStarted, JobPayload{JobID: "j-1"})
	bus.Publish(EventJobCompleted, JobPayload{JobID: "j-1"})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != EventJobCompleted {
		t.Errorf("received = %v, want [job:completed]", got)
	}
}

func TestBus_SubscribeAllSeesEveryType(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	received := make(chan EventType, 2)
	bus.SubscribeAll(func(e Event) {
		received <- e.Type
	})

	bus.Publish(EventJobQueued, JobPayload{})
	bus.Publish(EventProgressLog, LogPayload{})

	for i := 0; i < 2; i++ {
		select {
		case <-received:
		case <-time.After(time.Second):
			t.Fatalf("event %d not delivered", i)
		}
	}
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	received := make(chan Event, 10)
	unsubscribe := bus.Subscribe(EventJobQueued, func(e Event) {
		received <- e
	})

	bus.Publish(EventJobQueued, JobPayload{JobID: "before"})
	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("first event not delivered")
	}

	unsubscribe()
	bus.Publish(EventJobQueued, JobPayload{JobID: "after"})

	select {
	case e := <-received:
		t.Errorf("received event after unsubscribe: %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_PanickingSubscriberDoesNotDisruptOthers(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	bus.Subscribe(EventJobQueued, func(e Event) {
		panic("bad subscriber")
	})
	received := make(chan Event, 1)
	bus.Subscribe(EventJobQueued, func(e Event) {
		received <- e
	})

	bus.Publish(EventJobQueued, JobPayload{})

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("healthy subscriber did not receive event")
	}
}

func TestBus_PublishAfterCloseIsNoop(t *testing.T) {
	bus := NewBus(10)
	bus.Subscribe(EventJobQueued, func(e Event) {})
	bus.Close()

	// Must not panic on closed channels
	bus.Publish(EventJobQueued, JobPayload{})
	bus.Close()
}
