package world

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/levelsync/internal/content"
	"github.com/zjrosen/levelsync/internal/syncproto"
)

func choice(id string, weight int) syncproto.Choice {
	return syncproto.Choice{Ref: content.Ref{ID: id}, Weight: weight}
}

func TestLevels_ValidFlowsForCurrentLevel(t *testing.T) {
	levels := NewLevels()
	levels.Add(NewLevel("Experimentation", syncproto.WeatherNone), choice("facility", 300))
	levels.Add(NewLevel("Vow", syncproto.WeatherRainy), choice("facility", 0), choice("mansion", 70))

	require.Equal(t, "Experimentation", levels.Current())
	require.Equal(t, []syncproto.Choice{choice("facility", 300)}, levels.ValidFlows(context.Background()))

	require.True(t, levels.SetCurrent("Vow"))
	require.Equal(t, []syncproto.Choice{choice("mansion", 70)}, levels.ValidFlows(context.Background()))
	require.Len(t, levels.Flows("Vow"), 2)

	require.False(t, levels.SetCurrent("Titan"))
	require.Equal(t, "Vow", levels.Current())
}

func TestLevels_AddKnownNameKeepsOrder(t *testing.T) {
	levels := NewLevels()
	vow := NewLevel("Vow", syncproto.WeatherRainy)
	levels.Add(vow)
	levels.Add(NewLevel("March", syncproto.WeatherFoggy))
	levels.Add(vow, choice("mansion", 10))

	names := []string{}
	for _, l := range levels.Levels() {
		names = append(names, l.Name())
	}
	require.Equal(t, []string{"Vow", "March"}, names)
	require.Equal(t, []syncproto.Choice{choice("mansion", 10)}, levels.Flows("Vow"))
}

func TestGenerator_RecordsAndCopies(t *testing.T) {
	g := NewGenerator(choice("facility", 300))
	g.SetLengthMultiplier(1.5)
	require.NoError(t, g.GenerateNow(context.Background()))

	candidates := g.Candidates()
	candidates[0].Weight = 1
	require.Equal(t, 300, g.Candidates()[0].Weight, "Candidates returns a copy")

	history := g.History()
	require.Len(t, history, 1)
	require.Equal(t, 1.5, history[0].Multiplier)
}

func TestGenerator_EmptyCandidates(t *testing.T) {
	g := NewGenerator()
	require.ErrorIs(t, g.GenerateNow(context.Background()), ErrNoCandidates)
}

func TestGenerator_CancelledContext(t *testing.T) {
	g := NewGenerator(choice("facility", 1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, g.GenerateNow(ctx), context.Canceled)
	require.Empty(t, g.History())
}

func TestSize_ClampedSize(t *testing.T) {
	tests := []struct {
		name string
		size Size
		want float64
	}{
		{"within bounds", Size{Factor: 1.2, Min: 1, Max: 2}, 1.2},
		{"below min", Size{Factor: 0.5, Min: 1, Max: 2}, 1},
		{"above max", Size{Factor: 3, Min: 1, Max: 2}, 2},
		{"swapped bounds", Size{Factor: 3, Min: 2, Max: 1}, 2},
		{"unbounded", Size{Factor: 2.5}, 2.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.size.ClampedSize())
		})
	}
}

func TestIndex_LookupContent(t *testing.T) {
	idx := NewIndex()
	idx.Add(NewItem("pkg.moons.level.vow", map[string]syncproto.Value{"route_price": syncproto.IntValue(120)}))

	target, ok := idx.LookupContent("pkg.moons.level.vow")
	require.True(t, ok)
	require.Equal(t, syncproto.IntValue(120), target.Overrides()["route_price"])

	_, ok = idx.LookupContent("missing")
	require.False(t, ok)
	require.Equal(t, 1, idx.Len())
}

func TestIndex_IDsSorted(t *testing.T) {
	idx := NewIndex()
	idx.Add(NewItem("b", nil))
	idx.Add(NewItem("a", nil))
	idx.Add(NewItem("c", nil))
	require.Equal(t, []string{"a", "b", "c"}, idx.IDs())
}

func TestItem_OverridesIsCopy(t *testing.T) {
	item := NewItem("x", nil)
	item.SetOverride("price", syncproto.IntValue(1))
	fields := item.Overrides()
	fields["price"] = syncproto.IntValue(2)
	require.Equal(t, syncproto.IntValue(1), item.Overrides()["price"])
}

func TestFlowRef(t *testing.T) {
	require.Equal(t, syncproto.DefaultFallbackFlow, FlowRef(content.Baseline, "facility"))
}
