package xhash

import "encoding/binary"

// xxHash64 tuning primes, as specified by the xxHash64 algorithm.
const (
	xxP1 uint64 = 0x9E3779B185EBCA87
	xxP2 uint64 = 0xC2B2AE3D27D4EB4F
	xxP3 uint64 = 0x165667B19E3779F9
	xxP4 uint64 = 0x85EBCA77C2B2AE63
	xxP5 uint64 = 0x27D4EB2F165667C5
)

func xxRound(acc, input uint64) uint64 {
	acc += input * xxP2
	acc = rotl64(acc, 31)
	acc *= xxP1
	return acc
}

func xxMergeRound(acc, val uint64) uint64 {
	val = xxRound(0, val)
	acc ^= val
	acc = acc*xxP1 + xxP4
	return acc
}

// xxHash64 implements the xxHash64-style hash family described in the
// package doc: four accumulators for inputs >= 32 bytes, recombined via
// rotl1/7/12/18, followed by the standard 8/4/1-byte tail and the
// two-shift-and-multiply avalanche finalizer.
func xxHash64(data []byte, seed uint64) uint64 {
	n := len(data)
	var h uint64

	p := data
	if n >= 32 {
		v1 := seed + xxP1 + xxP2
		v2 := seed + xxP2
		v3 := seed
		v4 := seed - xxP1

		for len(p) >= 32 {
			v1 = xxRound(v1, binary.LittleEndian.Uint64(p[0:8]))
			v2 = xxRound(v2, binary.LittleEndian.Uint64(p[8:16]))
			v3 = xxRound(v3, binary.LittleEndian.Uint64(p[16:24]))
			v4 = xxRound(v4, binary.LittleEndian.Uint64(p[24:32]))
			p = p[32:]
		}

		h = rotl64(v1, 1) + rotl64(v2, 7) + rotl64(v3, 12) + rotl64(v4, 18)
		h = xxMergeRound(h, v1)
		h = xxMergeRound(h, v2)
		h = xxMergeRound(h, v3)
		h = xxMergeRound(h, v4)
	} else {
		h = seed + xxP5
	}

	h += uint64(n)

	for len(p) >= 8 {
		k1 := xxRound(0, binary.LittleEndian.Uint64(p[0:8]))
		h ^= k1
		h = rotl64(h, 27)*xxP1 + xxP4
		p = p[8:]
	}

	if len(p) >= 4 {
		h ^= uint64(binary.LittleEndian.Uint32(p[0:4])) * xxP1
		h = rotl64(h, 23)*xxP2 + xxP3
		p = p[4:]
	}

	for len(p) > 0 {
		h ^= uint64(p[0]) * xxP5
		h = rotl64(h, 11) * xxP1
		p = p[1:]
	}

	// Final avalanche mix.
	h ^= h >> 33
	h *= xxP2
	h ^= h >> 29
	h *= xxP3
	h ^= h >> 32

	return h
}
