package pubsub

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

const defaultBufferSize = 64

type subscription[T any] struct {
	ch chan Event[T]
}

// Broker delivers each published event to every subscriber in the order
// they subscribed. A subscriber sees events in publish order; a full buffer
// skips the event for that subscriber only.
type Broker[T any] struct {
	mu         sync.RWMutex
	subs       []*subscription[T]
	closed     bool
	done       chan struct{}
	bufferSize int

	seq     atomic.Uint64
	dropped atomic.Uint64
}

// NewBroker creates a broker whose subscribers buffer 64 events.
func NewBroker[T any]() *Broker[T] {
	return NewBrokerWithBuffer[T](defaultBufferSize)
}

// NewBrokerWithBuffer creates a broker whose subscribers buffer size events.
// Sizes below one fall back to the default.
func NewBrokerWithBuffer[T any](size int) *Broker[T] {
	if size < 1 {
		size = defaultBufferSize
	}
	return &Broker[T]{
		done:       make(chan struct{}),
		bufferSize: size,
	}
}

// Subscribe registers a subscriber. Its channel closes when ctx is done or
// the broker closes; subscribing to a closed broker yields a closed channel.
func (b *Broker[T]) Subscribe(ctx context.Context) <-chan Event[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan Event[T])
		close(ch)
		return ch
	}

	sub := &subscription[T]{ch: make(chan Event[T], b.bufferSize)}
	b.subs = append(b.subs, sub)

	go func() {
		select {
		case <-ctx.Done():
			b.unsubscribe(sub)
		case <-b.done:
		}
	}()
	return sub.ch
}

func (b *Broker[T]) unsubscribe(sub *subscription[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	i := slices.Index(b.subs, sub)
	if i < 0 {
		return
	}
	b.subs = slices.Delete(b.subs, i, i+1)
	close(sub.ch)
}

// Publish stamps the next sequence number on payload and offers it to every
// subscriber without blocking. It returns the number that accepted it.
func (b *Broker[T]) Publish(eventType EventType, payload T) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0
	}

	event := Event[T]{
		Type:      eventType,
		Seq:       b.seq.Add(1),
		Payload:   payload,
		Timestamp: time.Now(),
	}

	delivered := 0
	for _, sub := range b.subs {
		select {
		case sub.ch <- event:
			delivered++
		default:
			b.dropped.Add(1)
		}
	}
	return delivered
}

// Dropped returns the number of deliveries skipped across all subscribers.
func (b *Broker[T]) Dropped() uint64 {
	return b.dropped.Load()
}

// Close closes every subscriber channel. Later calls do nothing.
func (b *Broker[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	close(b.done)
	for _, sub := range b.subs {
		close(sub.ch)
	}
	b.subs = nil
}

// SubscriberCount returns the number of open subscriptions.
func (b *Broker[T]) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
