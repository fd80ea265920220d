// Package events provides the notification fan-out used by the limiter,
// scoring engine and connection pool to report state changes to
// observability and billing collaborators.
//
// Publishers never block on subscribers: events are queued on a bounded
// buffer and delivered by a single background goroutine. When the buffer is
// full the event is dropped and counted.
package events

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Topics published by relay components.
const (
	TopicLimitDenied       = "limits.denied"
	TopicLimitsUpdated     = "limits.updated"
	TopicWeightsAdapted    = "scoring.weights_adapted"
	TopicConnectionOpened  = "pool.connection_opened"
	TopicConnectionClosed  = "pool.connection_closed"
	TopicAcquireTimeout    = "pool.acquire_timeout"
	TopicProviderToggled   = "pool.provider_toggled"
	TopicDispatchCompleted = "dispatch.completed"
)

// Event is a single published message.
type Event struct {
	Topic     string
	Payload   any
	Timestamp time.Time
}

// Handler consumes events. Handlers run on the bus goroutine and should
// return quickly.
type Handler func(Event)

// Bus publishes events to interested subscribers.
type Bus interface {
	Publish(topic string, payload any)
}

// Nop discards every event.
type Nop struct{}

// Publish implements Bus.
func (Nop) Publish(string, any) {}

// AsyncBus is a buffered, non-blocking Bus implementation.
type AsyncBus struct {
	entries chan Event
	dropped atomic.Int64

	mu       sync.RWMutex
	handlers map[string][]Handler
	wildcard []Handler

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
	logger   *slog.Logger
}

// NewAsyncBus creates a bus with the given buffer size and starts its
// delivery goroutine. Call Close to stop it.
func NewAsyncBus(bufferSize int) *AsyncBus {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	b := &AsyncBus{
		entries:  make(chan Event, bufferSize),
		handlers: make(map[string][]Handler),
		stopCh:   make(chan struct{}),
		logger:   slog.Default().With("component", "events"),
	}
	b.wg.Add(1)
	go b.run()
	return b
}

// Subscribe registers h for topic. The topic "*" receives every event.
func (b *AsyncBus) Subscribe(topic string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if topic == "*" {
		b.wildcard = append(b.wildcard, h)
		return
	}
	b.handlers[topic] = append(b.handlers[topic], h)
}

// Publish enqueues an event. It never blocks.
func (b *AsyncBus) Publish(topic string, payload any) {
	select {
	case <-b.stopCh:
		b.dropped.Add(1)
		return
	default:
	}

	select {
	case b.entries <- Event{Topic: topic, Payload: payload, Timestamp: time.Now()}:
	default:
		b.dropped.Add(1)
	}
}

// Dropped returns how many events were discarded because the buffer was full
// or the bus was closed.
func (b *AsyncBus) Dropped() int64 {
	return b.dropped.Load()
}

// Close stops delivery after draining queued events.
func (b *AsyncBus) Close() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
		b.wg.Wait()
	})
}

func (b *AsyncBus) run() {
	defer b.wg.Done()
	for {
		select {
		case <-b.stopCh:
			for {
				select {
				case ev := <-b.entries:
					b.deliver(ev)
				default:
					return
				}
			}
		case ev := <-b.entries:
			b.deliver(ev)
		}
	}
}

func (b *AsyncBus) deliver(ev Event) {
	b.mu.RLock()
	hs := append([]Handler(nil), b.handlers[ev.Topic]...)
	hs = append(hs, b.wildcard...)
	b.mu.RUnlock()

	for _, h := range hs {
		b.safeCall(h, ev)
	}
}

func (b *AsyncBus) safeCall(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", "topic", ev.Topic, "panic", r)
		}
	}()
	h(ev)
}
