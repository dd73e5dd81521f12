package syncproto

import (
	"context"

	"github.com/zjrosen/levelsync/internal/netcode"
)

// Transport is the participant's connection to the session fabric.
type Transport interface {
	IsHost() bool
	ServerRPC(ctx context.Context, kind string, payload any) error
	ClientRPC(ctx context.Context, kind string, payload any) error
	HandleFunc(kind string, fn func(ctx context.Context, f netcode.Frame) error)
}

// CandidateSource computes the currently valid flows for the active level.
type CandidateSource interface {
	ValidFlows(ctx context.Context) []Choice
}

// Generator builds a level from its configured candidate list.
type Generator interface {
	Candidates() []Choice
	SetCandidates(choices []Choice)
	GenerateNow(ctx context.Context) error
	SetLengthMultiplier(m float64)
}

// SizeSource reports the host's clamped generation size.
type SizeSource interface {
	ClampedSize() float64
}

// Level is a content instance carrying environmental state.
type Level interface {
	Name() string
	Weather() Weather
	SetWeather(w Weather)
}

// LevelSet lists the participant's known levels.
type LevelSet interface {
	Levels() []Level
}

// Overridable is a content item with persisted override fields.
type Overridable interface {
	UniqueID() string
	Overrides() map[string]Value
	SetOverride(field string, v Value)
}

// ContentIndex resolves unique content identifiers.
type ContentIndex interface {
	LookupContent(uniqueID string) (Overridable, bool)
}

// OverrideSource loads persisted override records.
type OverrideSource interface {
	LoadOverrides(ctx context.Context, uniqueID string) (OverrideRecord, bool, error)
}

// Readiness reports whether the session network is ready.
type Readiness interface {
	IsReady() bool
}
