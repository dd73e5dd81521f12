// Package barrier implements the session readiness barrier: singleton spawn
// requests are queued, drained once per session into a countdown, and the
// participant becomes ready when every scheduled instance is confirmed live.
package barrier

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/zjrosen/levelsync/internal/log"
	"github.com/zjrosen/levelsync/internal/metrics"
)

// State is the readiness state of a session.
type State int

const (
	NotReady State = iota
	Ready
)

func (s State) String() string {
	if s == Ready {
		return "ready"
	}
	return "not_ready"
}

// SpawnRequest describes one singleton service to instantiate on the host.
type SpawnRequest struct {
	Type                 string
	Name                 string
	DontDestroyWithOwner bool
	SceneMigration       bool
	DestroyWithScene     bool
}

// NewSpawnRequest returns a request with the default replication flags.
func NewSpawnRequest(typ, name string) SpawnRequest {
	return SpawnRequest{
		Type:             typ,
		Name:             name,
		SceneMigration:   true,
		DestroyWithScene: true,
	}
}

// Singleton is the handle returned by Enqueue. It is bound to a live
// instance once the spawn is confirmed on this participant.
type Singleton struct {
	Request SpawnRequest

	mu       sync.Mutex
	instance uuid.UUID
	live     bool
}

// Instance returns the bound instance id, if the singleton is live.
func (s *Singleton) Instance() (uuid.UUID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.instance, s.live
}

// Bind records the instance that fulfils this singleton locally.
func (s *Singleton) Bind(instance uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instance = instance
	s.live = true
}

func (s *Singleton) unbind() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instance = uuid.Nil
	s.live = false
}

// Spawner instantiates a scheduled singleton and marks it for replication.
type Spawner interface {
	Spawn(ctx context.Context, s *Singleton) error
}

// Barrier is the NotReady -> Ready state machine for one participant.
type Barrier struct {
	mu        sync.Mutex
	queue     []*Singleton
	scheduled []*Singleton
	drained   bool
	early     int
	confirmed map[uuid.UUID]struct{}
	done      chan struct{}

	// session advances on every Reset. Confirmations tagged with a later
	// session wait in future until this participant resets into it.
	session uint64
	future  map[uint64][]heldConfirm

	pending atomic.Int64
	ready   atomic.Bool

	metrics *metrics.Metrics
}

// Option configures a Barrier.
type Option func(*Barrier)

// WithMetrics records pending confirmations and readiness on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Barrier) {
		b.metrics = m
	}
}

// New returns an empty barrier in the NotReady state.
func New(opts ...Option) *Barrier {
	b := &Barrier{
		confirmed: make(map[uuid.UUID]struct{}),
		done:      make(chan struct{}),
		future:    make(map[uint64][]heldConfirm),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Enqueue appends req to the spawn queue and returns its handle. Requests
// arriving after the session drained are rejected with a warning.
func (b *Barrier) Enqueue(req SpawnRequest) *Singleton {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.drained {
		log.Warn(log.CatBarrier, "spawn request enqueued after drain, ignoring", "name", req.Name, "type", req.Type)
		return nil
	}
	s := &Singleton{Request: req}
	b.queue = append(b.queue, s)
	return s
}

// Drain snapshots the queue into the readiness counter and moves the queued
// requests into this session's schedule. Only the host spawns; other
// participants take the snapshot and wait for confirmations.
func (b *Barrier) Drain(ctx context.Context, isHost bool, spawner Spawner) {
	b.mu.Lock()
	if b.drained {
		b.mu.Unlock()
		log.Warn(log.CatBarrier, "barrier already drained this session")
		return
	}
	b.drained = true
	b.scheduled = b.queue
	b.queue = nil

	total := len(b.scheduled)
	if b.early > total {
		b.mu.Unlock()
		panic(fmt.Sprintf("barrier: %d confirmations received for %d scheduled spawns", b.early, total))
	}
	remaining := total - b.early
	b.pending.Store(int64(remaining))
	scheduled := append([]*Singleton(nil), b.scheduled...)
	if remaining == 0 {
		b.markReady()
	}
	b.mu.Unlock()

	b.metrics.SetPendingSpawns(remaining)
	log.Info(log.CatBarrier, "barrier drained", "scheduled", total, "pending", remaining, "host", isHost)

	if !isHost || spawner == nil {
		return
	}
	for _, s := range scheduled {
		if err := spawner.Spawn(ctx, s); err != nil {
			log.ErrorErr(log.CatBarrier, "failed to spawn singleton", err, "name", s.Request.Name)
		}
	}
}

// Confirm records that instance became live on this participant. Each
// instance is counted once; a confirmation beyond the scheduled count is an
// internal-consistency failure and panics.
func (b *Barrier) Confirm(instance uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.confirm(instance)
}

type heldConfirm struct {
	singleton *Singleton
	instance  uuid.UUID
}

// ConfirmSession is Confirm for a spawn the host made in session, binding
// singleton (when non-nil) to instance once the confirmation counts. A
// confirmation from an earlier session is dropped with a warning; one from
// a later session is held until Reset moves this barrier into it.
func (b *Barrier) ConfirmSession(session uint64, singleton *Singleton, instance uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case session < b.session:
		log.Warn(log.CatBarrier, "stale spawn confirmation from an earlier session, ignoring",
			"instance", instance, "session", session, "current", b.session)
	case session > b.session:
		b.future[session] = append(b.future[session], heldConfirm{singleton: singleton, instance: instance})
		log.Debug(log.CatBarrier, "confirmation for a later session held", "instance", instance, "session", session, "current", b.session)
	default:
		if singleton != nil {
			singleton.Bind(instance)
		}
		b.confirm(instance)
	}
}

// confirm must be called with mu held.
func (b *Barrier) confirm(instance uuid.UUID) {
	if _, seen := b.confirmed[instance]; seen {
		log.Warn(log.CatBarrier, "instance confirmed twice, ignoring", "instance", instance)
		return
	}
	b.confirmed[instance] = struct{}{}

	if !b.drained {
		b.early++
		log.Debug(log.CatBarrier, "confirmation before drain", "instance", instance, "early", b.early)
		return
	}

	if b.ready.Load() {
		panic(fmt.Sprintf("barrier: confirmation for %s after all %d spawns were live", instance, len(b.scheduled)))
	}
	remaining := b.pending.Add(-1)
	if remaining < 0 {
		panic(fmt.Sprintf("barrier: readiness counter went negative (%d)", remaining))
	}
	b.metrics.SetPendingSpawns(int(remaining))
	if remaining == 0 {
		b.markReady()
	}
}

// Session returns the current session number. It starts at zero and
// advances by one on every Reset.
func (b *Barrier) Session() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.session
}

// markReady must be called with mu held.
func (b *Barrier) markReady() {
	b.ready.Store(true)
	close(b.done)
	b.metrics.SetReady(true)
	log.Info(log.CatBarrier, "session network ready", "singletons", len(b.scheduled))
}

// Ready reports whether every scheduled singleton is confirmed live.
func (b *Barrier) Ready() bool {
	return b.ready.Load()
}

// State returns the current readiness state.
func (b *Barrier) State() State {
	if b.Ready() {
		return Ready
	}
	return NotReady
}

// Pending returns the outstanding confirmations. Before drain it is zero.
func (b *Barrier) Pending() int {
	return int(b.pending.Load())
}

// Drained reports whether the current session has been drained.
func (b *Barrier) Drained() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.drained
}

// Done returns a channel closed when the barrier becomes ready.
func (b *Barrier) Done() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.done
}

// Wait blocks until the barrier is ready or ctx is cancelled.
func (b *Barrier) Wait(ctx context.Context) error {
	select {
	case <-b.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Scheduled returns this session's drained singletons in enqueue order.
func (b *Barrier) Scheduled() []*Singleton {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Singleton(nil), b.scheduled...)
}

// Reset returns the barrier to NotReady for the next session. Scheduled
// requests go back on the queue so the next drain spawns them again, and
// confirmations held for the new session count as early.
func (b *Barrier) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, s := range b.scheduled {
		s.unbind()
	}
	b.queue = append(b.scheduled, b.queue...)
	b.scheduled = nil
	b.drained = false
	b.early = 0
	b.confirmed = make(map[uuid.UUID]struct{})
	b.pending.Store(0)
	if b.ready.Swap(false) {
		b.done = make(chan struct{})
	}
	b.metrics.SetPendingSpawns(0)
	b.metrics.SetReady(false)

	b.session++
	held := b.future[b.session]
	for session := range b.future {
		if session <= b.session {
			delete(b.future, session)
		}
	}
	for _, h := range held {
		if h.singleton != nil {
			h.singleton.Bind(h.instance)
		}
		b.confirm(h.instance)
	}
	log.Debug(log.CatBarrier, "barrier reset", "queued", len(b.queue), "session", b.session, "held", len(held))
}
