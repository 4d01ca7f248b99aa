package bus

import (
	"context"
	"sync"
)

// Subscriber receives events published on an EventBus.
type Subscriber func(ctx context.Context, event Event)

// EventBus is an in-process publish/subscribe hub for core → plugin
// notifications (§4.4). Publish is non-blocking for the publisher;
// delivery to each subscriber happens on that subscriber's own worker
// goroutine, which guarantees in-order delivery per subscriber without
// serializing delivery across subscribers.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[string]*mailbox
}

type mailbox struct {
	fn Subscriber
	ch chan task
}

type task struct {
	ctx   context.Context
	event Event
}

// NewEventBus creates an empty EventBus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string]*mailbox)}
}

// Subscribe registers fn under name and starts its dedicated delivery
// worker. Re-subscribing the same name replaces the prior subscriber and
// stops its worker.
func (b *EventBus) Subscribe(name string, fn Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if existing, ok := b.subscribers[name]; ok {
		close(existing.ch)
	}

	mb := &mailbox{fn: fn, ch: make(chan task, 256)}
	b.subscribers[name] = mb
	go func() {
		for t := range mb.ch {
			mb.fn(t.ctx, t.event)
		}
	}()
}

// Unsubscribe removes name's subscriber and stops its worker.
func (b *EventBus) Unsubscribe(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if mb, ok := b.subscribers[name]; ok {
		close(mb.ch)
		delete(b.subscribers, name)
	}
}

// Publish fans event out to every subscriber without blocking the caller.
// Each subscriber observes events from successive Publish calls in the
// order Publish was invoked, because delivery is queued onto that
// subscriber's own single-worker mailbox (§4.4's in-order-per-subscriber
// guarantee). There is no ordering guarantee across different subscribers.
func (b *EventBus) Publish(ctx context.Context, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, mb := range b.subscribers {
		select {
		case mb.ch <- task{ctx: ctx, event: event}:
		default:
			// mailbox full: drop rather than block the publisher — Publish
			// must never suspend (§5, "publish does not suspend the
			// publisher").
		}
	}
}

// SubscriberCount reports the number of active subscribers, for tests and
// observability.
func (b *EventBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
