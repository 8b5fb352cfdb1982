package roleplay

import "math/rand/v2"

// Selector returns an index in [0, n). It is called with n > 0 only. Tests
// inject a fixed Selector to make prompt composition deterministic.
type Selector func(n int) int

// RandomSelector picks uniformly at random.
func RandomSelector(n int) int {
	return rand.IntN(n)
}

// FixedSelector always returns i.
func FixedSelector(i int) Selector {
	return func(int) int { return i }
}
