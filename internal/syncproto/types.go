// Package syncproto implements the host-authoritative exchanges that keep
// session choices identical on every participant: weighted flow selection,
// weather reconciliation, persisted-override reconciliation and the
// generation size multiplier.
package syncproto

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/zjrosen/levelsync/internal/content"
)

// Frame kinds carried on the participant fabric.
const (
	KindFlowRequest    = "sync.flow.request"
	KindFlowSelect     = "sync.flow.select"
	KindWeatherRequest = "sync.weather.request"
	KindWeatherUpdate  = "sync.weather.update"
	KindOverridePush   = "sync.override.push"
	KindOverrideApply  = "sync.override.apply"
	KindSizeRequest    = "sync.size.request"
	KindSizeUpdate     = "sync.size.update"
)

// Exchange names used for metrics and spans.
const (
	ExchangeFlow     = "flow"
	ExchangeWeather  = "weather"
	ExchangeOverride = "override"
	ExchangeSize     = "size"
)

// Choice is a candidate paired with its selection weight.
type Choice struct {
	Ref    content.Ref `cbor:"1,keyasint"`
	Weight int         `cbor:"2,keyasint"`
}

func (c Choice) String() string {
	return fmt.Sprintf("%s(%d)", c.Ref, c.Weight)
}

// FlowCandidates is the host's flow broadcast. Every participant draws from
// Choices with Seed, so the list and seed must arrive byte-identical.
type FlowCandidates struct {
	Seed    uint64   `cbor:"1,keyasint"`
	Choices []Choice `cbor:"2,keyasint"`
}

// Weather is the enumerated environmental state of a level.
type Weather int

const (
	WeatherNone Weather = iota - 1
	WeatherDustClouds
	WeatherRainy
	WeatherStormy
	WeatherFoggy
	WeatherFlooded
	WeatherEclipsed
)

var weatherNames = map[Weather]string{
	WeatherNone:       "None",
	WeatherDustClouds: "DustClouds",
	WeatherRainy:      "Rainy",
	WeatherStormy:     "Stormy",
	WeatherFoggy:      "Foggy",
	WeatherFlooded:    "Flooded",
	WeatherEclipsed:   "Eclipsed",
}

func (w Weather) String() string {
	if name, ok := weatherNames[w]; ok {
		return name
	}
	return "Weather(" + strconv.Itoa(int(w)) + ")"
}

// ParseWeather converts a case-insensitive weather name.
func ParseWeather(s string) (Weather, error) {
	for w, name := range weatherNames {
		if strings.EqualFold(name, s) {
			return w, nil
		}
	}
	return WeatherNone, fmt.Errorf("unknown weather %q", s)
}

// WeatherState is the host's weather broadcast: parallel arrays of level
// names and their current weather.
type WeatherState struct {
	Names    []string  `cbor:"1,keyasint"`
	Weathers []Weather `cbor:"2,keyasint"`
}

// OverrideRecord is the persisted field bag for one content item.
type OverrideRecord struct {
	UniqueID string           `cbor:"1,keyasint"`
	Fields   map[string]Value `cbor:"2,keyasint"`
}

// SizeUpdate is the host's generation size broadcast.
type SizeUpdate struct {
	Multiplier float64 `cbor:"1,keyasint"`
}
