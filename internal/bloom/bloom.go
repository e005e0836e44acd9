// Package bloom implements a fixed-capacity Bloom filter with
// configurable false-positive rate.
//
// A Bloom filter is a probabilistic set: Add(x) never has to be undone,
// MightContain(x) never returns false for an x that was previously
// added (no false negatives), but it may return true for an x that was
// never added (a false positive), at a rate controlled by the filter's
// bit count m and hash count k.
//
// # Double hashing
//
// Rather than computing k independent hashes, this filter derives k bit
// positions from two base hashes via the Kirsch-Mitzenmacher
// double-hashing scheme: h1 = hash64(x, cfg), h2 = hash64(x, cfg with
// seed XOR phi64), then bit_i = (h1 + i*(h2|1)) mod m for i in 0..k-1.
// Forcing h2 odd (the `|1`) avoids short cycles through the bit array
// when m has small factors of two, since gcd(h2, m) would otherwise
// sometimes exceed 1 and repeat positions early.
//
// The filter is a flat bit array: this package has no persistence
// layer and no stable wire format.
package bloom

import (
	"math"
	"math/bits"

	"streamsketch.dev/internal/result"
	"streamsketch.dev/internal/xhash"
)

// phi64 mirrors xhash's golden-ratio constant, used to derive the second
// double-hashing seed.
const phi64 = 0x9E3779B97F4A7C15

// DefaultK is the fixed hash count used by ByMemory.
const DefaultK = 7

// Filter is a fixed-size Bloom filter backed by a []uint64 bit array.
type Filter struct {
	bits []uint64
	m    uint64 // bit count, a multiple of 64, >= 64
	k    uint8  // hash count, 1..32
	hash xhash.HashConfig
}

// ByMemory constructs a filter with m = 8*memBytes bits (rounded up to a
// whole 64-bit word) and the fixed default hash count DefaultK.
func ByMemory(memBytes uint64, hash xhash.HashConfig) result.Result[*Filter] {
	if memBytes == 0 {
		return result.Err[*Filter](result.New(result.InvalidArgument, "bloom: memory must be > 0"))
	}
	m := memBytes * 8
	return newFilter(m, DefaultK, hash)
}

// ByFalsePositive constructs a filter sized to hold capacityHint items at
// approximately fpRate false-positive probability. fpRate must lie in
// (0, 1).
func ByFalsePositive(fpRate float64, capacityHint uint64, hash xhash.HashConfig) result.Result[*Filter] {
	if !(fpRate > 0 && fpRate < 1) {
		return result.Err[*Filter](result.New(result.InvalidArgument, "bloom: false positive rate must be in (0,1)"))
	}
	if capacityHint == 0 {
		return result.Err[*Filter](result.New(result.InvalidArgument, "bloom: capacity hint must be > 0"))
	}

	ln2 := math.Ln2
	k := int(math.Round(-math.Log(fpRate) / ln2))
	if k < 1 {
		k = 1
	}
	if k > 32 {
		k = 32
	}

	m := uint64(math.Ceil(float64(capacityHint) * -math.Log(fpRate) / (ln2 * ln2)))
	return newFilter(m, uint8(k), hash)
}

func newFilter(m uint64, k uint8, hash xhash.HashConfig) result.Result[*Filter] {
	if m < 64 {
		m = 64
	}
	// Round up to a whole 64-bit word.
	words := (m + 63) / 64
	m = words * 64

	return result.Ok(&Filter{
		bits: make([]uint64, words),
		m:    m,
		k:    k,
		hash: hash,
	})
}

// Cap returns the filter's bit count and hash count.
func (f *Filter) Cap() (m uint64, k uint8) { return f.m, f.k }

// HashConfig returns the hash configuration this filter was constructed
// with.
func (f *Filter) HashConfig() xhash.HashConfig { return f.hash }

func (f *Filter) positions(item []byte) (h1, h2 uint64) {
	h1 = xhash.Hash64(item, f.hash)
	h2 = xhash.Hash64(item, f.hash.WithSeed(f.hash.Seed^phi64))
	h2 |= 1
	return h1, h2
}

func (f *Filter) setBit(pos uint64) {
	f.bits[pos/64] |= 1 << (pos % 64)
}

func (f *Filter) getBit(pos uint64) bool {
	return f.bits[pos/64]&(1<<(pos%64)) != 0
}

// Add inserts item into the filter. Add is monotonic in bit population:
// it only ever sets bits, never clears them.
func (f *Filter) Add(item []byte) {
	h1, h2 := f.positions(item)
	for i := uint64(0); i < uint64(f.k); i++ {
		pos := (h1 + i*h2) % f.m
		f.setBit(pos)
	}
}

// AddItem is the pipeline's generic sketch capability name for adding an item.
func (f *Filter) AddItem(item []byte) { f.Add(item) }

// MightContain reports whether item may be in the set. It never returns
// false for an item previously Add-ed.
func (f *Filter) MightContain(item []byte) bool {
	h1, h2 := f.positions(item)
	for i := uint64(0); i < uint64(f.k); i++ {
		pos := (h1 + i*h2) % f.m
		if !f.getBit(pos) {
			return false
		}
	}
	return true
}

// CheckAndAdd queries and inserts item in one pass, reusing the same
// pair of base hashes for both: it reports whether item is newly added
// (was not already a match for all k bits), then sets those bits
// regardless. Equivalent to `wasNew := !f.MightContain(x); f.Add(x)` but
// without hashing item twice, for the query-then-insert dedup loop a
// streaming "emit each distinct item once" mode needs.
func (f *Filter) CheckAndAdd(item []byte) bool {
	h1, h2 := f.positions(item)
	alreadyPresent := true
	for i := uint64(0); i < uint64(f.k); i++ {
		pos := (h1 + i*h2) % f.m
		if !f.getBit(pos) {
			alreadyPresent = false
		}
		f.setBit(pos)
	}
	return !alreadyPresent
}

// Merge ORs other's bit array into f. Both filters must share
// (m, k, hash config); otherwise Merge returns InvalidArgument and leaves
// f unchanged.
func (f *Filter) Merge(other *Filter) *result.Error {
	if f.m != other.m || f.k != other.k || f.hash != other.hash {
		return result.New(result.InvalidArgument, "bloom: merge requires identical (m, k, hash config)")
	}
	for i, w := range other.bits {
		f.bits[i] |= w
	}
	return nil
}

// MergeFrom is the pipeline's generic sketch capability name for merging another sketch in.
func (f *Filter) MergeFrom(other *Filter) *result.Error { return f.Merge(other) }

// Reset clears every bit in place, for reuse across bucket boundaries.
func (f *Filter) Reset() {
	for i := range f.bits {
		f.bits[i] = 0
	}
}

// Clone returns a fresh Filter with the same construction parameters and
// an independent, zeroed bit array.
func (f *Filter) Clone() *Filter {
	return &Filter{bits: make([]uint64, len(f.bits)), m: f.m, k: f.k, hash: f.hash}
}

// PopCount returns the number of set bits, useful for diagnostics and for
// estimating the filter's current fill ratio.
func (f *Filter) PopCount() uint64 {
	var n uint64
	for _, w := range f.bits {
		n += uint64(bits.OnesCount64(w))
	}
	return n
}
