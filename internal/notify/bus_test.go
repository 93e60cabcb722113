package notify

import (
	"testing"
	"time"
)

func TestBus_PublishDelivers(t *testing.T) {
	bus := NewBus()
	events, cancel := bus.Subscribe()
	defer cancel()

	bus.Publish(Event{
		Kind:       KindQueueDepth,
		QueueDepth: &QueueDepth{GPS: 3, Completions: 1, Total: 4},
	})

	select {
	case ev := <-events:
		if ev.Kind != KindQueueDepth || ev.QueueDepth.Total != 4 {
			t.Errorf("event = %+v", ev)
		}
		if ev.At.IsZero() {
			t.Error("At was not stamped")
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestBus_PublishNeverBlocks(t *testing.T) {
	bus := NewBus()
	events, cancel := bus.Subscribe()
	defer cancel()

	// Flood past the buffer; the publisher must not stall.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.Publish(Event{Kind: KindSyncState, SyncState: &SyncState{Syncing: true}})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}

	// The subscriber still sees the buffered prefix.
	if ev := <-events; ev.Kind != KindSyncState {
		t.Errorf("event kind = %v", ev.Kind)
	}
}

func TestBus_CancelTwice(t *testing.T) {
	bus := NewBus()
	_, cancel := bus.Subscribe()
	cancel()
	cancel() // must not panic

	// Publishing to a bus with no subscribers is fine.
	bus.Publish(Event{Kind: KindConnectivity, Connectivity: &Connectivity{Online: true}})
}

func TestBus_MultipleSubscribers(t *testing.T) {
	bus := NewBus()
	a, cancelA := bus.Subscribe()
	defer cancelA()
	b, cancelB := bus.Subscribe()
	defer cancelB()

	bus.Publish(Event{Kind: KindConnectivity, Connectivity: &Connectivity{Online: true}})

	for name, ch := range map[string]<-chan Event{"a": a, "b": b} {
		select {
		case ev := <-ch:
			if !ev.Connectivity.Online {
				t.Errorf("subscriber %s got %+v", name, ev)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %s missed the event", name)
		}
	}
}
