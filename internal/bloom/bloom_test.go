package bloom

import (
	"fmt"
	"math"
	"testing"

	"streamsketch.dev/internal/xhash"
)

func TestByMemoryNoFalseNegatives(t *testing.T) {
	f, err := ByMemory(16*1024, xhash.HashConfig{Kind: xhash.WY, Seed: 1}).Unwrap()
	if err != nil {
		t.Fatalf("construction failed: %v", err)
	}

	for i := 0; i < 5000; i++ {
		f.Add([]byte(fmt.Sprintf("key-%d", i)))
	}
	for i := 0; i < 5000; i++ {
		if !f.MightContain([]byte(fmt.Sprintf("key-%d", i))) {
			t.Fatalf("false negative for key-%d", i)
		}
	}
}

// TestFalsePositiveRateWithinTolerance: with by_memory=16KiB, k=7
// (DefaultK), adding 20,000 items then querying
// 20,000 disjoint items should approximate
// (1 - e^(-k*n/m))^k within 3*binomial-sigma + 0.002 absolute.
func TestFalsePositiveRateWithinTolerance(t *testing.T) {
	f, err := ByMemory(16*1024, xhash.HashConfig{Kind: xhash.XX, Seed: 42}).Unwrap()
	if err != nil {
		t.Fatalf("construction failed: %v", err)
	}

	n := 20000
	for i := 0; i < n; i++ {
		f.Add([]byte(fmt.Sprintf("A-%d", i)))
	}

	falsePositives := 0
	queries := 20000
	for i := 0; i < queries; i++ {
		if f.MightContain([]byte(fmt.Sprintf("B-%d", 1000000+i))) {
			falsePositives++
		}
	}

	m, k := f.Cap()
	expected := math.Pow(1-math.Exp(-float64(k)*float64(n)/float64(m)), float64(k))
	observed := float64(falsePositives) / float64(queries)

	sigma := math.Sqrt(expected * (1 - expected) / float64(queries))
	tolerance := 3*sigma + 0.002

	if math.Abs(observed-expected) > tolerance {
		t.Fatalf("observed FP rate %v too far from expected %v (tolerance %v)", observed, expected, tolerance)
	}
}

func TestByFalsePositiveRejectsBadParams(t *testing.T) {
	cfg := xhash.HashConfig{Kind: xhash.WY}
	if _, err := ByFalsePositive(0, 1000, cfg).Unwrap(); err == nil {
		t.Fatal("expected error for p=0")
	}
	if _, err := ByFalsePositive(1, 1000, cfg).Unwrap(); err == nil {
		t.Fatal("expected error for p=1")
	}
	if _, err := ByFalsePositive(0.01, 0, cfg).Unwrap(); err == nil {
		t.Fatal("expected error for zero capacity hint")
	}
}

func TestMergeIsBitwiseUnion(t *testing.T) {
	cfg := xhash.HashConfig{Kind: xhash.WY, Seed: 5}
	a, _ := ByMemory(1024, cfg).Unwrap()
	b, _ := ByMemory(1024, cfg).Unwrap()

	a.Add([]byte("alpha"))
	b.Add([]byte("beta"))

	if err := a.Merge(b); err != nil {
		t.Fatalf("merge failed: %v", err)
	}

	if !a.MightContain([]byte("alpha")) || !a.MightContain([]byte("beta")) {
		t.Fatal("merged filter must contain elements from both inputs")
	}
}

func TestMergeRejectsMismatchedParams(t *testing.T) {
	cfgA := xhash.HashConfig{Kind: xhash.WY, Seed: 1}
	cfgB := xhash.HashConfig{Kind: xhash.WY, Seed: 2}

	a, _ := ByMemory(1024, cfgA).Unwrap()
	b, _ := ByMemory(1024, cfgB).Unwrap()
	if err := a.Merge(b); err == nil {
		t.Fatal("expected InvalidArgument for mismatched hash config")
	}

	c, _ := ByMemory(2048, cfgA).Unwrap()
	if err := a.Merge(c); err == nil {
		t.Fatal("expected InvalidArgument for mismatched m")
	}
}

func TestAddIsMonotonicInPopulation(t *testing.T) {
	f, _ := ByMemory(1024, xhash.HashConfig{Kind: xhash.WY}).Unwrap()
	before := f.PopCount()
	f.Add([]byte("monotonic"))
	after := f.PopCount()
	if after < before {
		t.Fatal("PopCount must never decrease after Add")
	}
}
