package sim

import "math/rand/v2"

// Rand is the random source used for jitter, incident selection and every
// success draw. *rand.Rand from math/rand/v2 satisfies it.
type Rand interface {
	// Float64 returns a number in [0.0, 1.0).
	Float64() float64

	// IntN returns a number in [0, n). It panics if n <= 0.
	IntN(n int) int
}

// NewRand returns a seeded PCG source. The same seed replays the same session
// given the same intents at the same instants.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// chance draws once and reports whether the draw fell under p.
// A p of 1 or more always succeeds.
func chance(r Rand, p float64) bool {
	return r.Float64() < p
}
