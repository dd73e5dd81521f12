// Package replication sequences template registration and the readiness
// barrier against the session lifecycle. The Manager owns one participant's
// TemplateRegistry and SpawnBarrier.
package replication

import (
	"context"
	"sync"

	"github.com/zjrosen/levelsync/internal/barrier"
	"github.com/zjrosen/levelsync/internal/content"
	"github.com/zjrosen/levelsync/internal/log"
	"github.com/zjrosen/levelsync/internal/metrics"
	"github.com/zjrosen/levelsync/internal/pubsub"
	"github.com/zjrosen/levelsync/internal/registry"
)

// Content is a parsed content package.
type Content interface {
	Source() *content.Source
	Templates() []*content.Template
	References() []*content.Reference
}

// Manager coordinates registration and readiness for one participant.
type Manager struct {
	registry *registry.Registry
	barrier  *barrier.Barrier
	isHost   bool
	spawner  barrier.Spawner
	metrics  *metrics.Metrics

	mu             sync.Mutex
	queued         []*content.Template
	singletons     map[string]*barrier.Singleton
	networkStarted bool
	state          State
	hasState       bool
}

// Option configures a Manager.
type Option func(*Manager)

// AsHost marks the participant as the session authority.
func AsHost() Option {
	return func(m *Manager) { m.isHost = true }
}

// WithSpawner sets how the host instantiates singletons.
func WithSpawner(s barrier.Spawner) Option {
	return func(m *Manager) { m.spawner = s }
}

// WithMetrics records registry and barrier metrics on mt.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// New creates a manager with a fresh registry and barrier.
func New(opts ...Option) *Manager {
	m := &Manager{
		singletons: make(map[string]*barrier.Singleton),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.registry = registry.New(registry.WithMetrics(m.metrics))
	m.barrier = barrier.New(barrier.WithMetrics(m.metrics))
	return m
}

// SetSpawner replaces the spawner used by the next drain.
func (m *Manager) SetSpawner(s barrier.Spawner) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spawner = s
}

// Registry returns the participant's template registry.
func (m *Manager) Registry() *registry.Registry { return m.registry }

// Barrier returns the participant's readiness barrier.
func (m *Manager) Barrier() *barrier.Barrier { return m.barrier }

// IsHost reports whether this participant is the host.
func (m *Manager) IsHost() bool { return m.isHost }

// RegisterBaseline registers the fixed baseline set. It must run before any
// package content.
func (m *Manager) RegisterBaseline(templates []*content.Template) {
	m.registry.RegisterBaseline(templates)
}

// RegisterTemplate registers one package template.
func (m *Manager) RegisterTemplate(source *content.Source, t *content.Template) bool {
	return m.registry.Register(source, t)
}

// RegisterContent registers every template and reference slot of c and
// returns how many new identities were admitted.
func (m *Manager) RegisterContent(c Content) int {
	if c == nil {
		return 0
	}
	src := c.Source()
	admitted := 0
	for _, t := range c.Templates() {
		if m.registry.Register(src, t) {
			admitted++
		}
	}
	for _, ref := range c.References() {
		if m.registry.RegisterReference(src, ref) {
			admitted++
		}
	}
	log.Debug(log.CatRegistry, "content registered", "source", src, "admitted", admitted)
	return admitted
}

// CreateSingleton queues the singleton's internal template for registration
// when the network starts and enqueues its spawn request.
func (m *Manager) CreateSingleton(req barrier.SpawnRequest) *barrier.Singleton {
	m.mu.Lock()
	if existing, ok := m.singletons[req.Name]; ok {
		m.mu.Unlock()
		log.Warn(log.CatBarrier, "singleton already created", "name", req.Name)
		return existing
	}
	if m.networkStarted {
		m.mu.Unlock()
		log.Warn(log.CatRegistry, "attempted to create singleton after the network started", "name", req.Name)
		return nil
	}
	t := content.NewTemplate(content.Internal, req.Name)
	m.queued = append(m.queued, t)
	m.mu.Unlock()

	s := m.barrier.Enqueue(req)
	if s == nil {
		return nil
	}

	m.mu.Lock()
	m.singletons[req.Name] = s
	m.mu.Unlock()
	return s
}

// Singleton returns the handle created for name.
func (m *Manager) Singleton(name string) (*barrier.Singleton, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.singletons[name]
	return s, ok
}

// ResolveNetworkID finds a template by network identity in the registry or
// among internal templates not yet registered.
func (m *Manager) ResolveNetworkID(id content.NetworkID) (*content.Template, bool) {
	if e, ok := m.registry.LookupNetworkID(id); ok {
		return e.Template, true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.queued {
		if t.NetworkID == id {
			return t, true
		}
	}
	return nil, false
}

// HandleLifecycle applies a session lifecycle signal. Repeating the
// current state is a no-op.
func (m *Manager) HandleLifecycle(ctx context.Context, state State) {
	m.mu.Lock()
	if m.hasState && m.state == state {
		m.mu.Unlock()
		log.Debug(log.CatSession, "lifecycle state unchanged", "state", state)
		return
	}
	prev := m.state
	m.state = state
	m.hasState = true
	spawner := m.spawner
	m.mu.Unlock()

	log.Info(log.CatSession, "lifecycle transition", "from", prev, "to", state, "host", m.isHost)

	switch state {
	case PreLobby:
		m.barrier.Reset()
		m.registry.Unseal()
	case Lobby:
		m.startNetwork()
		m.registry.Seal()
		if !m.barrier.Drained() {
			m.barrier.Drain(ctx, m.isHost, spawner)
		}
	case ActiveRound:
		if !m.IsReady() {
			log.Warn(log.CatSession, "round started before the session network was ready", "pending", m.barrier.Pending())
		}
	}
}

// startNetwork registers queued internal templates the first time the
// network starts.
func (m *Manager) startNetwork() {
	m.mu.Lock()
	if m.networkStarted {
		m.mu.Unlock()
		return
	}
	queued := m.queued
	m.networkStarted = true
	m.mu.Unlock()

	for _, t := range queued {
		m.registry.Register(content.Internal, t)
	}
	log.Debug(log.CatRegistry, "internal templates registered", "count", len(queued))
}

// State returns the last applied lifecycle state.
func (m *Manager) State() (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.hasState
}

// IsReady reports whether every scheduled singleton is live here.
func (m *Manager) IsReady() bool {
	return m.barrier.Ready()
}

// Watch applies lifecycle signals from sub until ctx is cancelled or the
// subscription closes.
func (m *Manager) Watch(ctx context.Context, sub pubsub.Subscriber[State]) {
	events := sub.Subscribe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			m.HandleLifecycle(ctx, event.Payload)
		}
	}
}
