package session

import (
	"context"
	"fmt"

	"github.com/zjrosen/levelsync/internal/metrics"
	"github.com/zjrosen/levelsync/internal/netcode"
	"github.com/zjrosen/levelsync/internal/replication"
	"github.com/zjrosen/levelsync/internal/syncproto"
	"github.com/zjrosen/levelsync/internal/tracing"
	"github.com/zjrosen/levelsync/internal/world"
)

// HostID is the peer id of the cluster's host.
const HostID netcode.PeerID = "host"

// ClientID returns the peer id of the i-th client, counting from 1.
func ClientID(i int) netcode.PeerID {
	return netcode.PeerID(fmt.Sprintf("client-%d", i))
}

// Participant is one process in the session: its endpoint, its replication
// state and the world its exchanges act on.
type Participant struct {
	ID        netcode.PeerID
	Endpoint  *netcode.Endpoint
	Manager   *replication.Manager
	Protocol  *syncproto.Protocol
	Levels    *world.Levels
	Index     *world.Index
	Generator *world.Generator
	Metrics   *metrics.Metrics
	Content   Content
}

// IsHost reports whether the participant is the session authority.
func (p *Participant) IsHost() bool {
	return p.Manager.IsHost()
}

func newParticipant(ctx context.Context, hub *netcode.Hub, id netcode.PeerID, isHost bool, c Content, opts Options) (*Participant, error) {
	m := metrics.New(string(id))
	ep, err := hub.Join(ctx, id, isHost, netcode.WithMetrics(m))
	if err != nil {
		return nil, err
	}
	if opts.Tracer != nil {
		ep.Use(tracing.FrameMiddleware(opts.Tracer, id))
	}

	levels := world.NewLevels()
	index := world.NewIndex()
	for _, pkg := range c.all() {
		pkg.Populate(levels, index)
	}
	gen := world.NewGenerator(levels.Flows(levels.Current())...)

	mgrOpts := []replication.Option{replication.WithMetrics(m)}
	if isHost {
		mgrOpts = append(mgrOpts, replication.AsHost())
	}
	mgr := replication.New(mgrOpts...)
	replication.NewNetworkSpawner(ep, mgr)

	if c.Baseline != nil {
		mgr.RegisterBaseline(c.Baseline.Templates())
	}
	for _, pkg := range c.Packages {
		mgr.RegisterContent(pkg)
	}
	for _, req := range opts.Singletons {
		mgr.CreateSingleton(req)
	}

	protoOpts := []syncproto.Option{
		syncproto.WithCandidateSource(levels),
		syncproto.WithGenerator(gen),
		syncproto.WithLevels(levels),
		syncproto.WithContentIndex(index),
		syncproto.WithReadiness(mgr),
		syncproto.WithMetrics(m),
		syncproto.WithFallback(opts.FallbackFlow, opts.FallbackWeight),
	}
	if opts.Tracer != nil {
		protoOpts = append(protoOpts, syncproto.WithTracer(opts.Tracer))
	}
	if isHost {
		protoOpts = append(protoOpts, syncproto.WithSizeSource(levelSize{levels: levels, sizes: c.sizes()}))
		if opts.Store != nil {
			protoOpts = append(protoOpts, syncproto.WithOverrideSource(opts.Store))
		}
		if opts.Seed != 0 {
			seed := opts.Seed
			protoOpts = append(protoOpts, syncproto.WithSeedSource(func() (uint64, error) { return seed, nil }))
		}
	}

	return &Participant{
		ID:        id,
		Endpoint:  ep,
		Manager:   mgr,
		Protocol:  syncproto.New(ep, protoOpts...),
		Levels:    levels,
		Index:     index,
		Generator: gen,
		Metrics:   m,
		Content:   c,
	}, nil
}

// selectLevel routes the participant to name and configures the generator
// with the level's flow table.
func (p *Participant) selectLevel(name string) bool {
	if !p.Levels.SetCurrent(name) {
		return false
	}
	p.Generator.SetCandidates(p.Levels.Flows(name))
	return true
}
