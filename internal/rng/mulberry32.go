// Package rng implements the reproducible pseudo-random generator used for
// scenario-driven randomness (demand shocks, randomized initial
// allocations). It is never consulted by the matching engine or the tick
// controller for ordering, tie-breaking, or matching priority — determinism
// there comes strictly from the ordered action log and receive sequence.
package rng

import "math/big"

// Mulberry32 is a 32-bit seeded generator. The state update and output
// formulas are fixed by contract: two implementations given the same seed
// must produce the same stream of floats, forever, on any platform.
type Mulberry32 struct {
	state uint32
}

// New creates a generator seeded with the given 32-bit value.
func New(seed uint32) *Mulberry32 {
	return &Mulberry32{state: seed}
}

// nextUint32 advances the generator and returns the next raw 32-bit output.
func (m *Mulberry32) nextUint32() uint32 {
	m.state += 0x6D2B79F5
	t := m.state
	t = imul(t^(t>>15), t|1)
	t ^= imul(t^(t>>7), t|61) + t
	return t ^ (t >> 14)
}

// imul performs 32-bit wrapping multiplication, matching JavaScript's
// Math.imul used by the reference Mulberry32 formula.
func imul(a, b uint32) uint32 {
	return a * b
}

// Float64 returns a uniform real in [0, 1).
func (m *Mulberry32) Float64() float64 {
	return float64(m.nextUint32()) / 4294967296.0
}

// IntRange returns a uniform integer in [lo, hi] inclusive.
func (m *Mulberry32) IntRange(lo, hi int64) int64 {
	if hi < lo {
		lo, hi = hi, lo
	}
	span := hi - lo + 1
	return lo + int64(m.Float64()*float64(span))
}

// BigIntRange returns a uniform big integer in [lo, hi] inclusive, built by
// drawing 32-bit chunks from the generator rather than by converting a
// single float64, so the result stays exact over ranges wider than a
// float64's mantissa.
func (m *Mulberry32) BigIntRange(lo, hi *big.Int) *big.Int {
	if lo.Cmp(hi) > 0 {
		lo, hi = hi, lo
	}
	span := new(big.Int).Sub(hi, lo)
	span.Add(span, big.NewInt(1))
	if span.Sign() <= 0 {
		return new(big.Int).Set(lo)
	}

	byteLen := (span.BitLen() + 7) / 8
	if byteLen == 0 {
		byteLen = 1
	}
	buf := make([]byte, byteLen+4)
	for i := 0; i < len(buf); i += 4 {
		chunk := m.nextUint32()
		end := i + 4
		if end > len(buf) {
			end = len(buf)
		}
		for j := i; j < end; j++ {
			buf[j] = byte(chunk >> (8 * uint(j-i)))
		}
	}

	raw := new(big.Int).SetBytes(buf)
	offset := new(big.Int).Mod(raw, span)
	return new(big.Int).Add(lo, offset)
}

// Shuffle performs an in-place Fisher-Yates shuffle of n elements, calling
// swap(i, j) to exchange positions i and j.
func (m *Mulberry32) Shuffle(n int, swap func(i, j int)) {
	for i := n - 1; i > 0; i-- {
		j := int(m.IntRange(0, int64(i)))
		swap(i, j)
	}
}

// Pick returns a uniformly random index in [0, n).
func (m *Mulberry32) Pick(n int) int {
	if n <= 0 {
		return 0
	}
	return int(m.IntRange(0, int64(n-1)))
}

// Chance returns true with probability p (a Bernoulli draw), where p is
// clamped to [0, 1].
func (m *Mulberry32) Chance(p float64) bool {
	if p <= 0 {
		return false
	}
	if p >= 1 {
		return true
	}
	return m.Float64() < p
}
