// Package hll implements HyperLogLog cardinality estimation.
//
// HyperLogLog (HLL) is a probabilistic data structure that estimates the
// number of distinct elements in a multiset using a fixed amount of
// memory, regardless of the true cardinality. Each item is hashed to a
// 64-bit value; the top p bits pick one of m=2^p registers, and the
// remaining 64-p bits are used to compute a "rank": one plus the number
// of leading zero bits in that remainder, clamped so it always fits in
// the register. Each register stores the maximum rank observed for items
// that hash into it. Cardinality is recovered from the harmonic mean of
// 2^(-register) across all registers, corrected for the small- and
// large-range regimes where the harmonic-mean estimator is biased.
//
// This follows the classical Flajolet/Heule-Nunkesser-Hall estimator
// (with the small-range linear-counting correction and the large-range
// 2^64 correction), not the newer Ertl histogram estimator some
// HyperLogLog implementations use — the exact thresholds below
// (E <= 2.5*m, E > 2^64/30) are load-bearing for this repository's
// accuracy tests and must match the classical formulas bit for bit.
//
// A sketch is mutated only by its owning goroutine between merges; there
// is no internal locking. Cross-goroutine aggregation happens exclusively
// through Merge, which the pipeline's reducer performs while the source
// sketches are quiescent (see internal/pipeline).
package hll

import (
	"math"
	"math/bits"

	"streamsketch.dev/internal/result"
	"streamsketch.dev/internal/xhash"
)

const (
	minP = 4
	maxP = 20

	// twoPow64 is 2^64 as a float64 literal, used verbatim (rather than
	// math.Pow(2, 64)) so the large-range correction matches the
	// reference implementation numerically bit for bit.
	twoPow64 = 18446744073709551616.0
)

// alpha returns the bias-correction constant for m registers, per the
// classical HyperLogLog paper.
func alpha(m uint64) float64 {
	switch m {
	case 16:
		return 0.673
	case 32:
		return 0.697
	case 64:
		return 0.709
	default:
		return 0.7213 / (1 + 1.079/float64(m))
	}
}

// HLL is a HyperLogLog sketch with precision p (4..20 inclusive) and
// m=2^p one-byte registers. Registers hold a rank in 1..=(64-p+1).
type HLL struct {
	p         uint8
	m         uint64
	hash      xhash.HashConfig
	registers []uint8
}

// New constructs an HLL with precision p and the given hash configuration.
// p must be in [4, 20]; anything else is an InvalidArgument error.
func New(p uint8, hash xhash.HashConfig) result.Result[*HLL] {
	if p < minP || p > maxP {
		return result.Err[*HLL](result.New(result.InvalidArgument, "hll: p out of range [4,20]"))
	}
	m := uint64(1) << p
	return result.Ok(&HLL{
		p:         p,
		m:         m,
		hash:      hash,
		registers: make([]uint8, m),
	})
}

// P returns the sketch's precision.
func (h *HLL) P() uint8 { return h.p }

// M returns the sketch's register count (2^P).
func (h *HLL) M() uint64 { return h.m }

// HashConfig returns the hash configuration this sketch was constructed
// with, part of the {add_item, merge_from, hash_config} capability set
// shared by every sketch in this repository.
func (h *HLL) HashConfig() xhash.HashConfig { return h.hash }

// Registers exposes the raw register bytes read-only, for snapshotting
// and tests. Callers must not mutate the returned slice.
func (h *HLL) Registers() []uint8 { return h.registers }

// maxRank is the maximum rank value a register can hold: 64 - p + 1.
func (h *HLL) maxRank() uint8 { return uint8(64 - int(h.p) + 1) }

// Add incorporates one item into the estimate.
func (h *HLL) Add(item []byte) {
	x := xhash.Hash64(item, h.hash)
	idx := x >> (64 - h.p)

	// Remaining 64-p bits, shifted so bit 63 is their MSB, so leading
	// zero counting on the full 64-bit word gives the correct rank
	// contribution regardless of p.
	remainder := x << h.p
	rank := uint8(bits.LeadingZeros64(remainder)) + 1
	if maxRank := h.maxRank(); rank > maxRank {
		rank = maxRank
	}

	if rank > h.registers[idx] {
		h.registers[idx] = rank
	}
}

// AddItem is the pipeline's generic sketch capability name for adding an item.
func (h *HLL) AddItem(item []byte) { h.Add(item) }

// Estimate returns the approximate cardinality, applying the classical
// small-range (linear counting) and large-range corrections.
func (h *HLL) Estimate() uint64 {
	sum := 0.0
	zeros := 0
	for _, r := range h.registers {
		sum += 1.0 / float64(uint64(1)<<r)
		if r == 0 {
			zeros++
		}
	}

	m := float64(h.m)
	E := alpha(h.m) * m * m / sum

	if E <= 2.5*m && zeros > 0 {
		return uint64(math.Round(m * math.Log(m/float64(zeros))))
	}

	if E > twoPow64/30 {
		return uint64(math.Round(-twoPow64 * math.Log(1-E/twoPow64)))
	}

	return uint64(math.Round(E))
}

// Merge folds other's registers into h with elementwise maximum. Both
// sketches must share (p, HashConfig); otherwise Merge returns
// InvalidArgument and leaves h unchanged.
func (h *HLL) Merge(other *HLL) *result.Error {
	if h.p != other.p || h.hash != other.hash {
		return result.New(result.InvalidArgument, "hll: merge requires identical (p, hash config)")
	}
	for i, r := range other.registers {
		if r > h.registers[i] {
			h.registers[i] = r
		}
	}
	return nil
}

// MergeFrom is the pipeline's generic sketch capability name for merging another sketch in.
func (h *HLL) MergeFrom(other *HLL) *result.Error { return h.Merge(other) }

// Reset zeroes every register in place, so a worker can hand its sketch
// back to the pool at a bucket boundary without reallocating.
func (h *HLL) Reset() {
	for i := range h.registers {
		h.registers[i] = 0
	}
}

// Clone returns a fresh HLL with the same construction parameters and an
// independent, zeroed register array. Used by the reducer when it needs a
// scratch accumulator shaped like an existing sketch.
func (h *HLL) Clone() *HLL {
	return &HLL{p: h.p, m: h.m, hash: h.hash, registers: make([]uint8, h.m)}
}
