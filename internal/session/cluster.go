// Package session assembles a host and its clients on one in-process
// fabric and drives them through the lifecycle together.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/levelsync/internal/barrier"
	"github.com/zjrosen/levelsync/internal/config"
	"github.com/zjrosen/levelsync/internal/content"
	"github.com/zjrosen/levelsync/internal/log"
	"github.com/zjrosen/levelsync/internal/netcode"
	"github.com/zjrosen/levelsync/internal/pubsub"
	"github.com/zjrosen/levelsync/internal/replication"
	"github.com/zjrosen/levelsync/internal/syncproto"
	"github.com/zjrosen/levelsync/internal/tracing"
)

var (
	// ErrSettleTimeout is returned when frames are still being handled
	// after the settle timeout.
	ErrSettleTimeout = errors.New("session: frames did not settle")
	// ErrUnknownLevel is returned when a participant does not know the requested level.
	ErrUnknownLevel = errors.New("session: unknown level")
)

// DefaultSingletons are the services every session spawns before it is ready.
var DefaultSingletons = []barrier.SpawnRequest{
	barrier.NewSpawnRequest("NetworkManager", "LevelSyncNetworkManager"),
}

// Options shapes a Cluster.
type Options struct {
	Clients        int
	BufferSize     int
	SettleTimeout  time.Duration
	FallbackFlow   content.Ref
	FallbackWeight int
	// Seed pins the host's draw seed. Zero draws a fresh seed every request.
	Seed       uint64
	Store      syncproto.OverrideSource
	Tracer     trace.Tracer
	Singletons []barrier.SpawnRequest
}

// OptionsFromConfig maps the session, sync and transport sections of cfg.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		Clients:        cfg.Session.Clients,
		BufferSize:     cfg.Transport.BufferSize,
		SettleTimeout:  cfg.Session.SettleTimeout,
		FallbackFlow:   content.Ref{ID: cfg.Sync.FallbackFlow},
		FallbackWeight: cfg.Sync.FallbackWeight,
		Seed:           cfg.Sync.Seed,
		Singletons:     DefaultSingletons,
	}
}

// Cluster is a host plus clients joined to one hub.
type Cluster struct {
	opts         Options
	hub          *netcode.Hub
	participants []*Participant
	lifecycle    *pubsub.Broker[replication.State]
}

// New loads content once per participant and joins the host followed by
// opts.Clients clients.
func New(ctx context.Context, load Loader, opts Options) (*Cluster, error) {
	if opts.BufferSize <= 0 {
		opts.BufferSize = config.Defaults().Transport.BufferSize
	}
	if opts.SettleTimeout <= 0 {
		opts.SettleTimeout = config.Defaults().Session.SettleTimeout
	}
	if opts.FallbackFlow.IsZero() {
		opts.FallbackFlow = syncproto.DefaultFallbackFlow
		opts.FallbackWeight = syncproto.DefaultFallbackWeight
	}

	c := &Cluster{
		opts:      opts,
		hub:       netcode.NewHub(opts.BufferSize),
		lifecycle: pubsub.NewBroker[replication.State](),
	}
	for i := 0; i <= opts.Clients; i++ {
		id, isHost := HostID, i == 0
		if !isHost {
			id = ClientID(i)
		}
		cnt, err := load()
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("loading content for %s: %w", id, err)
		}
		p, err := newParticipant(ctx, c.hub, id, isHost, cnt, opts)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.participants = append(c.participants, p)
	}
	log.Info(log.CatSession, "cluster assembled", "clients", opts.Clients)
	return c, nil
}

// Host returns the host participant.
func (c *Cluster) Host() *Participant {
	return c.participants[0]
}

// Clients returns every client participant in join order.
func (c *Cluster) Clients() []*Participant {
	return c.participants[1:]
}

// Participants returns the host followed by the clients.
func (c *Cluster) Participants() []*Participant {
	return c.participants
}

// Hub returns the fabric the participants share.
func (c *Cluster) Hub() *netcode.Hub {
	return c.hub
}

// Subscribe implements pubsub.Subscriber for the lifecycle signals the
// cluster applies.
func (c *Cluster) Subscribe(ctx context.Context) <-chan pubsub.Event[replication.State] {
	return c.lifecycle.Subscribe(ctx)
}

// Transition applies state on every participant, host first, then settles
// the frames the transition produced.
func (c *Cluster) Transition(ctx context.Context, state replication.State) error {
	var span trace.Span
	if c.opts.Tracer != nil {
		ctx, span = tracing.StartLifecycle(ctx, c.opts.Tracer, state.String())
		defer span.End()
	}

	for _, p := range c.participants {
		p.Manager.HandleLifecycle(ctx, state)
	}
	c.lifecycle.Publish(pubsub.LifecycleEvent, state)

	if err := c.Settle(ctx); err != nil {
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return fmt.Errorf("transition to %s: %w", state, err)
	}
	return nil
}

// Settle steps every participant until a full pass handles no frame.
func (c *Cluster) Settle(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.SettleTimeout)
	defer cancel()

	for passes := 0; ; passes++ {
		handled := 0
		for _, p := range c.participants {
			handled += p.Endpoint.Step(ctx)
		}
		if handled == 0 {
			log.Debug(log.CatSession, "frames settled", "passes", passes)
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%w within %s", ErrSettleTimeout, c.opts.SettleTimeout)
		}
	}
}

// SelectLevel routes every participant to name. An empty name keeps the
// current level.
func (c *Cluster) SelectLevel(name string) error {
	if name == "" {
		name = c.Host().Levels.Current()
	}
	for _, p := range c.participants {
		if !p.selectLevel(name) {
			return fmt.Errorf("%w %q on %s", ErrUnknownLevel, name, p.ID)
		}
	}
	return nil
}

// Synchronize runs every exchange: the host asks for the size multiplier
// and a flow selection and replays stored overrides, and each client
// refreshes weather.
func (c *Cluster) Synchronize(ctx context.Context) error {
	host := c.Host()
	host.Protocol.RequestDungeonSize(ctx)
	host.Protocol.RequestFlowSelection(ctx)
	if c.opts.Store != nil {
		for _, id := range host.Index.IDs() {
			host.Protocol.SyncStoredOverrides(ctx, id)
		}
	}
	for _, p := range c.Clients() {
		p.Protocol.RequestWeatherSync(ctx)
	}
	return c.Settle(ctx)
}

// RunRound takes the session from the lobby through one round on level and
// back to the lobby, returning the state every participant ended in.
func (c *Cluster) RunRound(ctx context.Context, round int, level string) (RoundReport, error) {
	if err := c.Transition(ctx, replication.Lobby); err != nil {
		return RoundReport{}, err
	}
	if err := c.SelectLevel(level); err != nil {
		return RoundReport{}, err
	}
	if err := c.Synchronize(ctx); err != nil {
		return RoundReport{}, fmt.Errorf("round %d: %w", round, err)
	}
	if err := c.Transition(ctx, replication.ActiveRound); err != nil {
		return RoundReport{}, err
	}

	report, err := c.Report(round)
	if err != nil {
		return RoundReport{}, err
	}
	if err := c.Transition(ctx, replication.Lobby); err != nil {
		return RoundReport{}, err
	}
	return report, nil
}

// Close disconnects every participant.
func (c *Cluster) Close() {
	for _, p := range c.participants {
		p.Endpoint.Close()
	}
	c.hub.Close()
	c.lifecycle.Close()
}
