package syncproto

import (
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"math"
	"math/rand/v2"
)

// drawStream fixes the second PCG word so a seed maps to one sequence.
const drawStream = 0x9e3779b97f4a7c15

// maxDrawWeight bounds a single weight so the running total fits in a uint64.
const maxDrawWeight = math.MaxInt32

// Draw picks one choice with probability proportional to its weight. The
// result depends only on choices (including order) and seed. Negative
// weights count as zero and weights above math.MaxInt32 count as
// math.MaxInt32; when every weight is zero the first choice wins. It reports
// false only for an empty list.
func Draw(choices []Choice, seed uint64) (Choice, bool) {
	if len(choices) == 0 {
		return Choice{}, false
	}

	var total uint64
	for _, c := range choices {
		total += drawWeight(c.Weight)
	}
	if total == 0 {
		return choices[0], true
	}

	rng := rand.New(rand.NewPCG(seed, drawStream))
	n := rng.Uint64N(total)
	for _, c := range choices {
		w := drawWeight(c.Weight)
		if n < w {
			return c, true
		}
		n -= w
	}
	return choices[len(choices)-1], true
}

func drawWeight(w int) uint64 {
	return uint64(min(max(w, 0), maxDrawWeight))
}

// NewSeed returns a random draw seed from crypto/rand.
func NewSeed() (uint64, error) {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("read random seed: %w", err)
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

// clampWeights returns a copy of choices with negative weights set to zero.
func clampWeights(choices []Choice) []Choice {
	out := make([]Choice, len(choices))
	for i, c := range choices {
		if c.Weight < 0 {
			c.Weight = 0
		}
		out[i] = c
	}
	return out
}
