package events

import (
	"log/slog"
	"sync"
)

const subscriberBuffer = 16

// Topic fans one event type out to any number of subscribers. Each
// subscriber owns a buffered channel; publishes never block the
// producer, events overflowing a slow subscriber are dropped.
type Topic[T any] struct {
	name string
	mu   sync.RWMutex
	subs map[uint64]chan T
	next uint64
}

func NewTopic[T any](name string) *Topic[T] {
	return &Topic[T]{
		name: name,
		subs: make(map[uint64]chan T),
	}
}

// Subscribe registers a new subscriber. The returned cancel func
// detaches it and closes the channel; calling it more than once is a no-op.
func (t *Topic[T]) Subscribe() (<-chan T, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.next
	t.next++
	ch := make(chan T, subscriberBuffer)
	t.subs[id] = ch

	cancel := func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if sub, ok := t.subs[id]; ok {
			delete(t.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers v to every current subscriber without blocking.
func (t *Topic[T]) Publish(v T) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for id, ch := range t.subs {
		select {
		case ch <- v:
		default:
			slog.Warn("event dropped", "topic", t.name, "subscriber", id)
		}
	}
}

// Subscribers returns the number of attached subscribers.
func (t *Topic[T]) Subscribers() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs)
}
