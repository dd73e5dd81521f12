// Package pubsub fans typed events out to buffered subscribers. The session
// fabric carries encoded frames on it, the cluster publishes lifecycle
// transitions and the logger publishes every written entry.
package pubsub

import (
	"context"
	"time"
)

// EventType tags what an event carries.
type EventType string

const (
	FrameEvent     EventType = "frame"
	LifecycleEvent EventType = "lifecycle"
	LogEvent       EventType = "log"
)

// Event is one published payload. Seq increases by one per Publish on the
// same broker, so a subscriber can tell when it missed events.
type Event[T any] struct {
	Type      EventType
	Seq       uint64
	Payload   T
	Timestamp time.Time
}

// Subscriber hands out event channels that close with ctx.
type Subscriber[T any] interface {
	Subscribe(ctx context.Context) <-chan Event[T]
}

// Publisher delivers a payload and reports how many subscribers took it.
type Publisher[T any] interface {
	Publish(eventType EventType, payload T) int
}
