package xhash

import (
	"bytes"
	"testing"
)

func TestHash64Deterministic(t *testing.T) {
	cfg := HashConfig{Kind: WY, Seed: 42}
	b := []byte("the quick brown fox")

	if Hash64(b, cfg) != Hash64(b, cfg) {
		t.Fatal("hash64 must be deterministic for identical (bytes, config)")
	}
}

func TestHash64SeedChangesOutput(t *testing.T) {
	b := []byte("distinguishing input")
	h1 := Hash64(b, HashConfig{Kind: WY, Seed: 1})
	h2 := Hash64(b, HashConfig{Kind: WY, Seed: 2})

	if h1 == h2 {
		t.Fatal("changing seed must change the hash")
	}
}

func TestHash64KindChangesOutput(t *testing.T) {
	b := []byte("distinguishing input")
	wy := Hash64(b, HashConfig{Kind: WY, Seed: 7})
	xx := Hash64(b, HashConfig{Kind: XX, Seed: 7})

	if wy == xx {
		t.Fatal("changing kind between WY and XX must change the hash")
	}
}

func TestHash64EmbeddedNULAffectsOutput(t *testing.T) {
	cfg := HashConfig{Kind: XX, Seed: 3}
	a := []byte("abc")
	b := []byte("abc\x00")

	if Hash64(a, cfg) == Hash64(b, cfg) {
		t.Fatal("an embedded NUL byte must change the hash")
	}
}

// TestHash64BoundaryLengths checks that adjacent tail-length boundaries
// (0,1,4,8,16,32) don't collide for constant fill, for either family.
func TestHash64BoundaryLengths(t *testing.T) {
	lengths := []int{0, 1, 2, 7, 8, 9, 15, 16, 17, 31, 32, 33, 63, 64, 65}

	for _, kind := range []Kind{WY, XX} {
		cfg := HashConfig{Kind: kind, Seed: 99}
		seen := map[uint64]int{}
		for _, l := range lengths {
			data := bytes.Repeat([]byte{'a'}, l)
			h := Hash64(data, cfg)
			if prev, ok := seen[h]; ok {
				t.Errorf("%s: length %d collided with length %d", kind, l, prev)
			}
			seen[h] = l
		}
	}
}

func TestHash64EffectiveSeedIsXOR(t *testing.T) {
	base := HashConfig{Kind: WY, Seed: 0x1234, ThreadSalt: 0}
	salted := HashConfig{Kind: WY, Seed: 0x1234 ^ 0xABCD, ThreadSalt: 0}
	viaSalt := HashConfig{Kind: WY, Seed: 0x1234, ThreadSalt: 0xABCD}

	b := []byte("payload")
	if Hash64(b, salted) != Hash64(b, viaSalt) {
		t.Fatal("effective seed must equal Seed XOR ThreadSalt")
	}
	if Hash64(b, base) == Hash64(b, viaSalt) {
		t.Fatal("a nonzero thread salt must change the hash")
	}
}

func TestDeriveThreadSaltDistinctAndReproducible(t *testing.T) {
	base := uint64(0xDEADBEEF)

	s1 := DeriveThreadSalt(base, 1)
	s2 := DeriveThreadSalt(base, 2)
	if s1 == s2 {
		t.Fatal("distinct worker indices must produce distinct salts")
	}

	if DeriveThreadSalt(base, 1) != s1 {
		t.Fatal("identical (base, i) must reproduce the same salt")
	}
}

func TestKindString(t *testing.T) {
	if WY.String() != "wy" || XX.String() != "xx" {
		t.Fatalf("unexpected Kind.String() values: %q %q", WY, XX)
	}
}
