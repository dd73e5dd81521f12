package syncproto

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/zjrosen/levelsync/internal/content"
	"github.com/zjrosen/levelsync/internal/log"
	"github.com/zjrosen/levelsync/internal/metrics"
	"github.com/zjrosen/levelsync/internal/netcode"
	"github.com/zjrosen/levelsync/internal/tracing"
)

// DefaultFallbackWeight is the nominal weight of the fallback flow.
const DefaultFallbackWeight = 300

// DefaultFallbackFlow is the always-valid flow used when no candidate is valid.
var DefaultFallbackFlow = content.Ref{ID: "baseline.flow.facility"}

// Protocol wires the synchronization exchanges onto one participant's
// transport. Request methods are fire-and-forget; effects happen in the
// frame handlers when the participant next steps.
type Protocol struct {
	transport  Transport
	candidates CandidateSource
	generator  Generator
	size       SizeSource
	levels     LevelSet
	index      ContentIndex
	store      OverrideSource
	readiness  Readiness
	metrics    *metrics.Metrics
	tracer     trace.Tracer

	fallback Choice
	seed     func() (uint64, error)

	mu       sync.Mutex
	lastFlow *Choice
}

// Option configures a Protocol.
type Option func(*Protocol)

// WithCandidateSource sets where the host gets valid flows.
func WithCandidateSource(c CandidateSource) Option {
	return func(p *Protocol) { p.candidates = c }
}

// WithGenerator sets the participant's level generator.
func WithGenerator(g Generator) Option {
	return func(p *Protocol) { p.generator = g }
}

// WithSizeSource sets where the host gets the generation size.
func WithSizeSource(s SizeSource) Option {
	return func(p *Protocol) { p.size = s }
}

// WithLevels sets the participant's known levels.
func WithLevels(l LevelSet) Option {
	return func(p *Protocol) { p.levels = l }
}

// WithContentIndex sets how override targets are resolved.
func WithContentIndex(idx ContentIndex) Option {
	return func(p *Protocol) { p.index = idx }
}

// WithOverrideSource sets the host's persisted override store.
func WithOverrideSource(s OverrideSource) Option {
	return func(p *Protocol) { p.store = s }
}

// WithReadiness gates weather requests on session readiness.
func WithReadiness(r Readiness) Option {
	return func(p *Protocol) { p.readiness = r }
}

// WithMetrics records exchanges and divergences on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Protocol) { p.metrics = m }
}

// WithTracer starts a span around every outgoing call so handlers on other
// participants run as its children.
func WithTracer(t trace.Tracer) Option {
	return func(p *Protocol) { p.tracer = t }
}

// WithFallback overrides the fallback flow and its weight.
func WithFallback(ref content.Ref, weight int) Option {
	return func(p *Protocol) { p.fallback = Choice{Ref: ref, Weight: max(weight, 0)} }
}

// WithSeedSource replaces the host's draw seed generator.
func WithSeedSource(fn func() (uint64, error)) Option {
	return func(p *Protocol) { p.seed = fn }
}

// New registers the exchange handlers on t.
func New(t Transport, opts ...Option) *Protocol {
	p := &Protocol{
		transport: t,
		fallback:  Choice{Ref: DefaultFallbackFlow, Weight: DefaultFallbackWeight},
		seed:      NewSeed,
		tracer:    noop.NewTracerProvider().Tracer("syncproto"),
	}
	for _, opt := range opts {
		opt(p)
	}

	t.HandleFunc(KindFlowRequest, p.handleFlowRequest)
	t.HandleFunc(KindFlowSelect, p.handleFlowSelect)
	t.HandleFunc(KindWeatherRequest, p.handleWeatherRequest)
	t.HandleFunc(KindWeatherUpdate, p.handleWeatherUpdate)
	t.HandleFunc(KindOverridePush, p.handleOverridePush)
	t.HandleFunc(KindOverrideApply, p.handleOverrideApply)
	t.HandleFunc(KindSizeRequest, p.handleSizeRequest)
	t.HandleFunc(KindSizeUpdate, p.handleSizeUpdate)
	return p
}

// Fallback returns the configured fallback choice.
func (p *Protocol) Fallback() Choice {
	return p.fallback
}

// LastFlow returns the flow most recently drawn on this participant.
func (p *Protocol) LastFlow() (Choice, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastFlow == nil {
		return Choice{}, false
	}
	return *p.lastFlow, true
}

func (p *Protocol) serverRPC(ctx context.Context, kind string, payload any) {
	ctx, span := p.startRPC(ctx, kind, tracing.DirectionServer)
	defer span.End()
	if err := p.transport.ServerRPC(ctx, kind, payload); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.ErrorErr(log.CatSync, "server rpc failed", err, "kind", kind)
	}
}

func (p *Protocol) clientRPC(ctx context.Context, kind string, payload any) {
	ctx, span := p.startRPC(ctx, kind, tracing.DirectionClient)
	defer span.End()
	if err := p.transport.ClientRPC(ctx, kind, payload); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.ErrorErr(log.CatSync, "client rpc failed", err, "kind", kind)
	}
}

func (p *Protocol) startRPC(ctx context.Context, kind, direction string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, tracing.SpanPrefixRPC+kind,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String(tracing.AttrFrameKind, kind),
			attribute.String(tracing.AttrRPCDirection, direction),
			attribute.Bool(tracing.AttrPeerHost, p.transport.IsHost()),
		),
	)
}

// === (a) Flow selection ===

// RequestFlowSelection asks the host for the weighted flow list.
func (p *Protocol) RequestFlowSelection(ctx context.Context) {
	log.Debug(log.CatSync, "requesting flow selection")
	p.serverRPC(ctx, KindFlowRequest, nil)
}

func (p *Protocol) handleFlowRequest(ctx context.Context, f netcode.Frame) error {
	if !p.transport.IsHost() {
		return nil
	}

	var choices []Choice
	if p.candidates != nil {
		choices = clampWeights(p.candidates.ValidFlows(ctx))
	}
	if len(choices) == 0 {
		log.Error(log.CatSync, "no valid flows, broadcasting fallback to prevent a stalled load", "fallback", p.fallback.Ref, "requested_by", f.From)
		p.metrics.FallbackSelection()
		choices = []Choice{p.fallback}
	}

	seed, err := p.seed()
	if err != nil {
		log.ErrorErr(log.CatSync, "seed generation failed, using clock", err)
		seed = uint64(time.Now().UnixNano())
	}

	log.Debug(log.CatSync, "broadcasting flow candidates", "count", len(choices), "seed", seed)
	p.clientRPC(ctx, KindFlowSelect, FlowCandidates{Seed: seed, Choices: choices})
	return nil
}

func (p *Protocol) handleFlowSelect(ctx context.Context, f netcode.Frame) error {
	var msg FlowCandidates
	if err := f.Decode(&msg); err != nil {
		return err
	}
	p.metrics.Exchange(ExchangeFlow)

	choices := msg.Choices
	if len(choices) == 0 {
		log.Error(log.CatSync, "received empty flow list, using fallback", "fallback", p.fallback.Ref)
		p.metrics.FallbackSelection()
		choices = []Choice{p.fallback}
	}
	winner, _ := Draw(choices, msg.Seed)

	p.mu.Lock()
	p.lastFlow = &winner
	p.mu.Unlock()
	log.Info(log.CatSync, "flow selected", "flow", winner.Ref, "weight", winner.Weight, "candidates", len(choices))

	if p.generator == nil {
		return nil
	}
	return generateWith(ctx, p.generator, winner)
}

// generateWith builds the level from winner alone, restoring the
// generator's configured candidates afterwards even if generation fails.
func generateWith(ctx context.Context, g Generator, winner Choice) error {
	saved := slices.Clone(g.Candidates())
	defer g.SetCandidates(saved)

	g.SetCandidates([]Choice{winner})
	if err := g.GenerateNow(ctx); err != nil {
		return fmt.Errorf("generate with %s: %w", winner.Ref, err)
	}
	return nil
}

// === (b) Weather ===

// RequestWeatherSync asks the host for every level's current weather. It
// is skipped until the session network is ready.
func (p *Protocol) RequestWeatherSync(ctx context.Context) {
	if p.readiness != nil && !p.readiness.IsReady() {
		log.Debug(log.CatSync, "session not ready, skipping weather refresh")
		return
	}
	p.serverRPC(ctx, KindWeatherRequest, nil)
}

func (p *Protocol) handleWeatherRequest(ctx context.Context, _ netcode.Frame) error {
	if !p.transport.IsHost() {
		return nil
	}

	var state WeatherState
	if p.levels != nil {
		for _, l := range p.levels.Levels() {
			state.Names = append(state.Names, l.Name())
			state.Weathers = append(state.Weathers, l.Weather())
		}
	}
	p.clientRPC(ctx, KindWeatherUpdate, state)
	return nil
}

func (p *Protocol) handleWeatherUpdate(_ context.Context, f netcode.Frame) error {
	var state WeatherState
	if err := f.Decode(&state); err != nil {
		return err
	}
	p.metrics.Exchange(ExchangeWeather)

	if p.levels == nil {
		return nil
	}
	changed := ReconcileWeather(p.levels, state)
	for i := 0; i < changed; i++ {
		p.metrics.Divergence(ExchangeWeather)
	}
	return nil
}

// ReconcileWeather overwrites local weather that differs from state and
// returns how many levels changed. Names unknown locally are ignored.
func ReconcileWeather(levels LevelSet, state WeatherState) int {
	if len(state.Names) != len(state.Weathers) {
		log.Warn(log.CatSync, "malformed weather payload, ignoring", "names", len(state.Names), "weathers", len(state.Weathers))
		return 0
	}

	byName := make(map[string]Level)
	for _, l := range levels.Levels() {
		byName[l.Name()] = l
	}

	changed := 0
	for i, name := range state.Names {
		l, ok := byName[name]
		if !ok {
			continue
		}
		host := state.Weathers[i]
		if local := l.Weather(); local != host {
			log.Warn(log.CatSync, "client had differing current weather, syncing", "level", name, "local", local, "host", host)
			l.SetWeather(host)
			changed++
		}
	}
	return changed
}

// === (c) Overrides ===

// PushOverrides asks every participant to adopt record. The push is routed
// through the host, which only broadcasts records it can resolve.
func (p *Protocol) PushOverrides(ctx context.Context, record OverrideRecord) {
	p.serverRPC(ctx, KindOverridePush, record)
}

// SyncStoredOverrides loads the persisted record for uniqueID and pushes it.
// Only the host holds the store.
func (p *Protocol) SyncStoredOverrides(ctx context.Context, uniqueID string) {
	if !p.transport.IsHost() {
		log.Warn(log.CatSync, "stored overrides can only be synced by the host", "unique_id", uniqueID)
		return
	}
	if p.store == nil {
		log.Warn(log.CatSync, "no override store configured", "unique_id", uniqueID)
		return
	}

	record, found, err := p.store.LoadOverrides(ctx, uniqueID)
	if err != nil {
		log.ErrorErr(log.CatSync, "failed to load stored overrides", err, "unique_id", uniqueID)
		return
	}
	if !found {
		log.Debug(log.CatSync, "no stored overrides", "unique_id", uniqueID)
		return
	}
	p.PushOverrides(ctx, record)
}

func (p *Protocol) handleOverridePush(ctx context.Context, f netcode.Frame) error {
	if !p.transport.IsHost() {
		return nil
	}
	var record OverrideRecord
	if err := f.Decode(&record); err != nil {
		return err
	}
	if !p.resolves(record.UniqueID) {
		log.Info(log.CatSync, "failed to send override values, content not found on host", "unique_id", record.UniqueID, "from", f.From)
		return nil
	}
	p.clientRPC(ctx, KindOverrideApply, record)
	return nil
}

func (p *Protocol) handleOverrideApply(_ context.Context, f netcode.Frame) error {
	var record OverrideRecord
	if err := f.Decode(&record); err != nil {
		return err
	}
	p.metrics.Exchange(ExchangeOverride)

	if p.transport.IsHost() {
		return nil
	}
	if p.index == nil {
		log.Info(log.CatSync, "failed to apply override values, no content index", "unique_id", record.UniqueID)
		return nil
	}
	target, ok := p.index.LookupContent(record.UniqueID)
	if !ok {
		log.Info(log.CatSync, "failed to apply override values, content not found", "unique_id", record.UniqueID)
		return nil
	}
	changed := ReconcileOverrides(target, record)
	for i := 0; i < changed; i++ {
		p.metrics.Divergence(ExchangeOverride)
	}
	return nil
}

func (p *Protocol) resolves(uniqueID string) bool {
	if p.index == nil {
		return false
	}
	_, ok := p.index.LookupContent(uniqueID)
	return ok
}

// ReconcileOverrides makes target's fields match record and returns how
// many fields were written. Fields target has but record lacks are kept.
func ReconcileOverrides(target Overridable, record OverrideRecord) int {
	local := target.Overrides()
	fields := make([]string, 0, len(record.Fields))
	for field := range record.Fields {
		fields = append(fields, field)
	}
	slices.Sort(fields)

	changed := 0
	for _, field := range fields {
		host := record.Fields[field]
		current, ok := local[field]
		if ok && current.Equal(host) {
			continue
		}
		if ok {
			log.Warn(log.CatSync, "client had differing override value, syncing", "unique_id", record.UniqueID, "field", field, "local", current, "host", host)
		}
		target.SetOverride(field, host)
		changed++
	}
	return changed
}

// === (d) Generation size ===

// RequestDungeonSize asks the host for the generation size multiplier.
func (p *Protocol) RequestDungeonSize(ctx context.Context) {
	p.serverRPC(ctx, KindSizeRequest, nil)
}

func (p *Protocol) handleSizeRequest(ctx context.Context, _ netcode.Frame) error {
	if !p.transport.IsHost() {
		return nil
	}
	if p.size == nil {
		log.Warn(log.CatSync, "no size source on host, ignoring size request")
		return nil
	}
	p.clientRPC(ctx, KindSizeUpdate, SizeUpdate{Multiplier: p.size.ClampedSize()})
	return nil
}

func (p *Protocol) handleSizeUpdate(ctx context.Context, f netcode.Frame) error {
	var msg SizeUpdate
	if err := f.Decode(&msg); err != nil {
		return err
	}
	p.metrics.Exchange(ExchangeSize)

	if p.generator == nil {
		return nil
	}
	p.generator.SetLengthMultiplier(msg.Multiplier)
	if err := p.generator.GenerateNow(ctx); err != nil {
		return fmt.Errorf("generate at size %g: %w", msg.Multiplier, err)
	}
	return nil
}
