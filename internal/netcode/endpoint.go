package netcode

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/levelsync/internal/log"
	"github.com/zjrosen/levelsync/internal/metrics"
	"github.com/zjrosen/levelsync/internal/pubsub"
)

// Handler processes one received frame.
type Handler interface {
	Handle(ctx context.Context, f Frame) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, f Frame) error

// Handle calls fn.
func (fn HandlerFunc) Handle(ctx context.Context, f Frame) error {
	return fn(ctx, f)
}

// Middleware wraps a handler.
type Middleware func(next Handler) Handler

// Endpoint is one participant's connection to the hub. Received frames are
// queued until Step or Run dispatches them; handlers never run concurrently.
type Endpoint struct {
	id     PeerID
	isHost bool
	hub    *Hub
	inbox  <-chan pubsub.Event[[]byte]
	cancel context.CancelFunc

	mu         sync.RWMutex
	handlers   map[string]Handler
	middleware []Middleware

	dispatchMu sync.Mutex
	seq        atomic.Uint64
	closed     atomic.Bool

	metrics *metrics.Metrics
}

// ID returns the participant's peer id.
func (e *Endpoint) ID() PeerID {
	return e.id
}

// IsHost reports whether this participant is the session authority.
func (e *Endpoint) IsHost() bool {
	return e.isHost
}

// Handle registers h for frames of kind, replacing any previous handler.
func (e *Endpoint) Handle(kind string, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[kind] = h
}

// HandleFunc registers fn for frames of kind.
func (e *Endpoint) HandleFunc(kind string, fn func(ctx context.Context, f Frame) error) {
	e.Handle(kind, HandlerFunc(fn))
}

// Use appends middleware applied to every dispatched frame. The first
// middleware added is the outermost.
func (e *Endpoint) Use(mw ...Middleware) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.middleware = append(e.middleware, mw...)
}

// ServerRPC sends payload to the host. A host calling it reaches itself.
func (e *Endpoint) ServerRPC(ctx context.Context, kind string, payload any) error {
	host := e.hub.Host()
	if host == "" {
		return ErrNoHost
	}
	return e.send(ctx, host, kind, payload)
}

// ClientRPC broadcasts payload to every participant, the host included.
// Only the host may call it.
func (e *Endpoint) ClientRPC(ctx context.Context, kind string, payload any) error {
	if !e.isHost {
		return fmt.Errorf("client rpc %s: %w", kind, ErrNotHost)
	}
	return e.send(ctx, Everyone, kind, payload)
}

func (e *Endpoint) send(ctx context.Context, to PeerID, kind string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.closed.Load() {
		return ErrClosed
	}

	f := Frame{From: e.id, To: to, Kind: kind, Seq: e.seq.Add(1)}
	if payload != nil {
		raw, err := Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode %s payload: %w", kind, err)
		}
		f.Payload = raw
	}
	f.setSpanContext(trace.SpanContextFromContext(ctx))

	data, err := Marshal(f)
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", kind, err)
	}
	delivered, err := e.hub.publish(data)
	if err != nil {
		return err
	}
	log.Debug(log.CatNet, "frame sent", "kind", kind, "from", e.id, "to", to, "seq", f.Seq, "delivered", delivered)
	return nil
}

// Step dispatches every frame already queued for this participant and
// returns how many were handled. It does not block waiting for frames.
func (e *Endpoint) Step(ctx context.Context) int {
	handled := 0
	for {
		select {
		case event, ok := <-e.inbox:
			if !ok {
				return handled
			}
			if e.dispatch(ctx, event.Payload) {
				handled++
			}
		default:
			return handled
		}
	}
}

// Run dispatches frames as they arrive until ctx is cancelled or the
// endpoint is disconnected.
func (e *Endpoint) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-e.inbox:
			if !ok {
				return ErrClosed
			}
			e.dispatch(ctx, event.Payload)
		}
	}
}

func (e *Endpoint) dispatch(ctx context.Context, data []byte) bool {
	var f Frame
	if err := Unmarshal(data, &f); err != nil {
		log.ErrorErr(log.CatNet, "undecodable frame", err, "peer", e.id)
		e.metrics.DroppedFrame()
		return false
	}
	if !f.addressedTo(e.id) {
		return false
	}

	e.mu.RLock()
	h, ok := e.handlers[f.Kind]
	chain := e.middleware
	e.mu.RUnlock()
	if !ok {
		log.Warn(log.CatNet, "no handler for frame", "kind", f.Kind, "from", f.From, "peer", e.id)
		e.metrics.DroppedFrame()
		return false
	}
	for i := len(chain) - 1; i >= 0; i-- {
		h = chain[i](h)
	}

	if sc := f.spanContext(); sc.IsValid() {
		ctx = trace.ContextWithRemoteSpanContext(ctx, sc)
	}

	e.dispatchMu.Lock()
	defer e.dispatchMu.Unlock()
	if err := h.Handle(ctx, f); err != nil {
		log.ErrorErr(log.CatNet, "handler failed", err, "kind", f.Kind, "from", f.From, "peer", e.id)
	}
	return true
}

// Close disconnects the endpoint from the hub.
func (e *Endpoint) Close() {
	if e.closed.Swap(true) {
		return
	}
	e.cancel()
	e.hub.leave(e)
}
