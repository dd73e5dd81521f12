package syncproto

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/zjrosen/levelsync/internal/content"
)

func flow(id string, weight int) Choice {
	return Choice{Ref: content.Ref{ID: id}, Weight: weight}
}

func TestDraw_Empty(t *testing.T) {
	_, ok := Draw(nil, 1)
	require.False(t, ok)
}

func TestDraw_SingleCandidate(t *testing.T) {
	got, ok := Draw([]Choice{flow("facility", 300)}, 99)
	require.True(t, ok)
	require.Equal(t, flow("facility", 300), got)
}

func TestDraw_AllZeroWeightsPicksFirst(t *testing.T) {
	choices := []Choice{flow("a", 0), flow("b", 0), flow("c", -4)}
	for seed := uint64(0); seed < 50; seed++ {
		got, _ := Draw(choices, seed)
		require.Equal(t, "a", got.Ref.ID)
	}
}

func TestDraw_NeverPicksZeroWeight(t *testing.T) {
	choices := []Choice{flow("never", 0), flow("always", 5), flow("negative", -10)}
	for seed := uint64(0); seed < 500; seed++ {
		got, _ := Draw(choices, seed)
		require.Equal(t, "always", got.Ref.ID)
	}
}

func TestDraw_RespectsWeights(t *testing.T) {
	choices := []Choice{flow("A", 70), flow("B", 30)}
	const n = 20000
	hits := 0
	for seed := uint64(0); seed < n; seed++ {
		if got, _ := Draw(choices, seed); got.Ref.ID == "A" {
			hits++
		}
	}
	ratio := float64(hits) / n
	require.InDelta(t, 0.70, ratio, 0.02)
}

func TestDraw_HugeWeightsDoNotOverflow(t *testing.T) {
	choices := []Choice{flow("a", math.MaxInt), flow("b", math.MaxInt)}
	seen := map[string]bool{}
	for seed := uint64(0); seed < 200; seed++ {
		got, ok := Draw(choices, seed)
		require.True(t, ok)
		seen[got.Ref.ID] = true
	}
	require.True(t, seen["a"] && seen["b"], "equal capped weights both get drawn")

	got, ok := Draw([]Choice{flow("zero", 0), flow("huge", math.MaxInt)}, 3)
	require.True(t, ok)
	require.Equal(t, "huge", got.Ref.ID)
}

func TestClampWeights(t *testing.T) {
	in := []Choice{flow("a", -1), flow("b", 3)}
	out := clampWeights(in)
	require.Equal(t, []Choice{flow("a", 0), flow("b", 3)}, out)
	require.Equal(t, -1, in[0].Weight, "input is not modified")
}

func TestNewSeed(t *testing.T) {
	a, err := NewSeed()
	require.NoError(t, err)
	b, err := NewSeed()
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

// TestDraw_Property_Deterministic checks that identical lists and seeds give
// identical winners and that the winner is a member with positive weight
// unless every weight is zero.
func TestDraw_Property_Deterministic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 12).Draw(t, "n")
		choices := make([]Choice, n)
		total := 0
		for i := range choices {
			w := rapid.IntRange(-5, 500).Draw(t, "weight")
			choices[i] = flow(rapid.StringMatching(`[a-z]{3,6}`).Draw(t, "id"), w)
			total += max(w, 0)
		}
		seed := rapid.Uint64().Draw(t, "seed")

		first, ok := Draw(choices, seed)
		if !ok {
			t.Fatal("non-empty list reported no winner")
		}
		copied := append([]Choice(nil), choices...)
		second, _ := Draw(copied, seed)
		if first != second {
			t.Fatalf("same input drew %v then %v", first, second)
		}
		if total > 0 && first.Weight <= 0 {
			t.Fatalf("drew non-positive weight %v from %v", first, choices)
		}
		if total == 0 && first != choices[0] {
			t.Fatalf("all-zero list drew %v, want first", first)
		}
	})
}
