// Package world provides in-memory implementations of the game-side
// collaborators the synchronization exchanges act on: levels and their
// weather, per-level flow tables, a recording generator and an index of
// content items carrying persisted overrides.
package world

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"

	"github.com/zjrosen/levelsync/internal/content"
	"github.com/zjrosen/levelsync/internal/syncproto"
)

// ErrNoCandidates is returned when generation runs with an empty flow list.
var ErrNoCandidates = errors.New("world: no flow candidates configured")

// Level is a moon the session can route to.
type Level struct {
	mu      sync.Mutex
	name    string
	weather syncproto.Weather
}

// NewLevel creates a level with its starting weather.
func NewLevel(name string, weather syncproto.Weather) *Level {
	return &Level{name: name, weather: weather}
}

func (l *Level) Name() string { return l.name }

func (l *Level) Weather() syncproto.Weather {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.weather
}

func (l *Level) SetWeather(w syncproto.Weather) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.weather = w
}

// Levels is an ordered level set with a current level and per-level flows.
type Levels struct {
	mu      sync.RWMutex
	order   []*Level
	byName  map[string]*Level
	flows   map[string][]syncproto.Choice
	current string
}

// NewLevels returns an empty level set.
func NewLevels() *Levels {
	return &Levels{
		byName: make(map[string]*Level),
		flows:  make(map[string][]syncproto.Choice),
	}
}

// Add appends l with its weighted flow table. The first level added
// becomes current. Adding a known name replaces its flows only.
func (s *Levels) Add(l *Level, flows ...syncproto.Choice) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byName[l.Name()]; !exists {
		s.order = append(s.order, l)
		s.byName[l.Name()] = l
	}
	s.flows[l.Name()] = slices.Clone(flows)
	if s.current == "" {
		s.current = l.Name()
	}
}

// Get returns the named level.
func (s *Levels) Get(name string) (*Level, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.byName[name]
	return l, ok
}

// SetCurrent routes the session to name. Unknown names are ignored.
func (s *Levels) SetCurrent(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byName[name]; !ok {
		return false
	}
	s.current = name
	return true
}

// Current returns the current level's name.
func (s *Levels) Current() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Levels implements syncproto.LevelSet.
func (s *Levels) Levels() []syncproto.Level {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]syncproto.Level, 0, len(s.order))
	for _, l := range s.order {
		out = append(out, l)
	}
	return out
}

// ValidFlows implements syncproto.CandidateSource for the current level.
// Zero-weight flows are not valid.
func (s *Levels) ValidFlows(_ context.Context) []syncproto.Choice {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var valid []syncproto.Choice
	for _, c := range s.flows[s.current] {
		if c.Weight > 0 {
			valid = append(valid, c)
		}
	}
	return valid
}

// Flows returns the configured flow table for name.
func (s *Levels) Flows(name string) []syncproto.Choice {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.flows[name])
}

// Generation is one recorded GenerateNow call.
type Generation struct {
	Candidates []syncproto.Choice
	Multiplier float64
}

// Generator records what it was asked to build.
type Generator struct {
	mu         sync.Mutex
	candidates []syncproto.Choice
	multiplier float64
	history    []Generation
}

// NewGenerator returns a generator configured with candidates.
func NewGenerator(candidates ...syncproto.Choice) *Generator {
	return &Generator{candidates: slices.Clone(candidates), multiplier: 1}
}

func (g *Generator) Candidates() []syncproto.Choice {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.candidates)
}

func (g *Generator) SetCandidates(choices []syncproto.Choice) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.candidates = slices.Clone(choices)
}

func (g *Generator) SetLengthMultiplier(m float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.multiplier = m
}

// LengthMultiplier returns the configured size multiplier.
func (g *Generator) LengthMultiplier() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.multiplier
}

// GenerateNow records a generation from the current candidates.
func (g *Generator) GenerateNow(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.candidates) == 0 {
		return ErrNoCandidates
	}
	g.history = append(g.history, Generation{
		Candidates: slices.Clone(g.candidates),
		Multiplier: g.multiplier,
	})
	return nil
}

// History returns every recorded generation in order.
func (g *Generator) History() []Generation {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.history)
}

// Size clamps a level's size factor to its flow's bounds.
type Size struct {
	Factor float64
	Min    float64
	Max    float64
}

// ClampedSize implements syncproto.SizeSource.
func (s Size) ClampedSize() float64 {
	lo, hi := s.Min, s.Max
	if hi < lo {
		lo, hi = hi, lo
	}
	if hi == 0 && lo == 0 {
		return s.Factor
	}
	return min(max(s.Factor, lo), hi)
}

// Item is a content item with persisted override fields.
type Item struct {
	mu     sync.Mutex
	id     string
	fields map[string]syncproto.Value
}

// NewItem creates an item holding fields.
func NewItem(uniqueID string, fields map[string]syncproto.Value) *Item {
	f := maps.Clone(fields)
	if f == nil {
		f = make(map[string]syncproto.Value)
	}
	return &Item{id: uniqueID, fields: f}
}

func (i *Item) UniqueID() string { return i.id }

func (i *Item) Overrides() map[string]syncproto.Value {
	i.mu.Lock()
	defer i.mu.Unlock()
	return maps.Clone(i.fields)
}

func (i *Item) SetOverride(field string, v syncproto.Value) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.fields[field] = v
}

// Index resolves content items by unique id.
type Index struct {
	mu    sync.RWMutex
	items map[string]*Item
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{items: make(map[string]*Item)}
}

// Add indexes item, replacing any item with the same id.
func (x *Index) Add(item *Item) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.items[item.UniqueID()] = item
}

// Item returns the concrete item for uniqueID.
func (x *Index) Item(uniqueID string) (*Item, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	item, ok := x.items[uniqueID]
	return item, ok
}

// LookupContent implements syncproto.ContentIndex.
func (x *Index) LookupContent(uniqueID string) (syncproto.Overridable, bool) {
	item, ok := x.Item(uniqueID)
	if !ok {
		return nil, false
	}
	return item, true
}

// IDs returns every indexed unique id in sorted order.
func (x *Index) IDs() []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return slices.Sorted(maps.Keys(x.items))
}

// Len returns the number of indexed items.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.items)
}

// FlowRef names a flow by source and flow name.
func FlowRef(source *content.Source, name string) content.Ref {
	return content.Ref{ID: source.String() + ".flow." + name}
}
