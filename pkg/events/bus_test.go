package events

import (
	"sync"
	"testing"
	"time"
)

func TestAsyncBus_DeliversToTopicAndWildcard(t *testing.T) {
	bus := NewAsyncBus(16)

	var mu sync.Mutex
	var topical, all []string

	bus.Subscribe(TopicLimitDenied, func(ev Event) {
		mu.Lock()
		topical = append(topical, ev.Payload.(string))
		mu.Unlock()
	})
	bus.Subscribe("*", func(ev Event) {
		mu.Lock()
		all = append(all, ev.Topic)
		mu.Unlock()
	})

	bus.Publish(TopicLimitDenied, "user-1")
	bus.Publish(TopicConnectionOpened, "conn-1")
	bus.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(topical) != 1 || topical[0] != "user-1" {
		t.Errorf("topic handler got %v, want [user-1]", topical)
	}
	if len(all) != 2 {
		t.Errorf("wildcard handler got %d events, want 2", len(all))
	}
}

func TestAsyncBus_PublishNeverBlocks(t *testing.T) {
	bus := NewAsyncBus(1)
	block := make(chan struct{})
	bus.Subscribe("slow", func(Event) { <-block })

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.Publish("slow", i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}

	if bus.Dropped() == 0 {
		t.Error("expected dropped events with a full buffer")
	}
	close(block)
	bus.Close()
}

func TestAsyncBus_HandlerPanicIsContained(t *testing.T) {
	bus := NewAsyncBus(4)
	got := make(chan struct{}, 1)
	bus.Subscribe("x", func(Event) { panic("boom") })
	bus.Subscribe("x", func(Event) { got <- struct{}{} })

	bus.Publish("x", nil)

	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatal("second handler not invoked after panic")
	}
	bus.Close()
}

func TestAsyncBus_PublishAfterClose(t *testing.T) {
	bus := NewAsyncBus(4)
	bus.Close()
	bus.Publish("x", nil)
	if bus.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", bus.Dropped())
	}
}
