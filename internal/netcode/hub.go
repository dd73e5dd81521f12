package netcode

import (
	"context"
	"fmt"
	"sync"

	"github.com/zjrosen/levelsync/internal/log"
	"github.com/zjrosen/levelsync/internal/metrics"
	"github.com/zjrosen/levelsync/internal/pubsub"
)

// Hub connects the participants of one session. Every encoded frame is
// published on a single broker, so frames from one sender reach each
// receiver in send order. A receiver whose inbox is full loses the frame.
type Hub struct {
	broker *pubsub.Broker[[]byte]

	mu     sync.Mutex
	host   PeerID
	peers  map[PeerID]*Endpoint
	closed bool
}

// NewHub creates a hub whose per-participant inbox holds bufferSize frames.
func NewHub(bufferSize int) *Hub {
	return &Hub{
		broker: pubsub.NewBrokerWithBuffer[[]byte](bufferSize),
		peers:  make(map[PeerID]*Endpoint),
	}
}

// JoinOption configures an endpoint at join time.
type JoinOption func(*Endpoint)

// WithMetrics records dropped and undecodable frames on m.
func WithMetrics(m *metrics.Metrics) JoinOption {
	return func(e *Endpoint) {
		e.metrics = m
	}
}

// Join attaches a participant. At most one participant may join as host.
// The endpoint receives frames until ctx is cancelled or it is closed.
func (h *Hub) Join(ctx context.Context, id PeerID, isHost bool, opts ...JoinOption) (*Endpoint, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrClosed
	}
	if _, exists := h.peers[id]; exists {
		return nil, fmt.Errorf("join %s: %w", id, ErrDuplicatePeer)
	}
	if isHost && h.host != "" {
		return nil, fmt.Errorf("join %s as host (host is %s): %w", id, h.host, ErrDuplicatePeer)
	}

	ctx, cancel := context.WithCancel(ctx)
	e := &Endpoint{
		id:       id,
		isHost:   isHost,
		hub:      h,
		inbox:    h.broker.Subscribe(ctx),
		cancel:   cancel,
		handlers: make(map[string]Handler),
	}
	for _, opt := range opts {
		opt(e)
	}

	h.peers[id] = e
	if isHost {
		h.host = id
	}
	log.Debug(log.CatNet, "peer joined", "peer", id, "host", isHost)
	return e, nil
}

// Host returns the host's peer id, or "" when none has joined.
func (h *Hub) Host() PeerID {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.host
}

// Peers returns the number of joined participants.
func (h *Hub) Peers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

// Dropped returns the number of frame deliveries lost to full inboxes.
func (h *Hub) Dropped() uint64 {
	return h.broker.Dropped()
}

// Close disconnects every participant.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	peers := make([]*Endpoint, 0, len(h.peers))
	for _, e := range h.peers {
		peers = append(peers, e)
	}
	h.mu.Unlock()

	for _, e := range peers {
		e.cancel()
	}
	h.broker.Close()
}

func (h *Hub) leave(e *Endpoint) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.peers[e.id] != e {
		return
	}
	delete(h.peers, e.id)
	if h.host == e.id {
		h.host = ""
	}
	log.Debug(log.CatNet, "peer left", "peer", e.id)
}

func (h *Hub) publish(data []byte) (int, error) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return 0, ErrClosed
	}
	return h.broker.Publish(pubsub.FrameEvent, data), nil
}
