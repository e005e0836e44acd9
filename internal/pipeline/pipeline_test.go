package pipeline

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"streamsketch.dev/internal/bloom"
	"streamsketch.dev/internal/hll"
	"streamsketch.dev/internal/xhash"
)

func hllFactory(cfg xhash.HashConfig) func(int) *hll.HLL {
	return func(workerIndex int) *hll.HLL {
		return hll.New(10, cfg).Must()
	}
}

func TestStopAfterLimitsProcessedLines(t *testing.T) {
	ResetGlobalStop()

	var sb strings.Builder
	for i := 0; i < 10000; i++ {
		fmt.Fprintf(&sb, "line-%d\n", i)
	}

	cfg := xhash.HashConfig{Kind: xhash.WY, Seed: 1}
	p := New(Config{Threads: 4, StopAfter: 1234}, cfg, hllFactory(cfg), nil)

	done := make(chan struct{})
	var finalCalled bool
	err := p.Run(context.Background(), strings.NewReader(sb.String()), nil, func(h *hll.HLL) {
		finalCalled = true
		close(done)
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	<-done

	if !finalCalled {
		t.Fatal("onFinal was never called")
	}
	if got := p.Processed(); got != 1234 {
		t.Fatalf("processed = %d, want 1234 (stop_after cap)", got)
	}
}

func TestNonBucketModeMergesAllWorkers(t *testing.T) {
	ResetGlobalStop()

	var sb strings.Builder
	n := 20000
	for i := 0; i < n; i++ {
		fmt.Fprintf(&sb, "k-%d\n", i)
	}

	cfg := xhash.HashConfig{Kind: xhash.WY, Seed: 2}
	factory := func(workerIndex int) *hll.HLL { return hll.New(12, cfg).Must() }
	p := New(Config{Threads: 8}, cfg, factory, nil)

	var result *hll.HLL
	var wg sync.WaitGroup
	wg.Add(1)
	err := p.Run(context.Background(), strings.NewReader(sb.String()), nil, func(h *hll.HLL) {
		result = h
		wg.Done()
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	wg.Wait()

	est := float64(result.Estimate())
	lo, hi := 0.85*float64(n), 1.20*float64(n)
	if est < lo || est > hi {
		t.Fatalf("merged estimate %v outside plausible bound [%v, %v]", est, lo, hi)
	}
}

// pacedReader emits `n` distinct lines spread evenly across `total`, then
// EOF. It lets bucket-rotation tests exercise real wall-clock time without
// needing multi-second sleeps.
type pacedReader struct {
	n, sent int
	total   time.Duration
	start   time.Time
	buf     []byte
}

func newPacedReader(n int, total time.Duration) *pacedReader {
	return &pacedReader{n: n, total: total}
}

func (r *pacedReader) Read(p []byte) (int, error) {
	if r.start.IsZero() {
		r.start = time.Now()
	}
	if len(r.buf) == 0 {
		if r.sent >= r.n {
			return 0, io.EOF
		}
		elapsedTarget := time.Duration(r.sent) * r.total / time.Duration(r.n)
		if wait := elapsedTarget - time.Since(r.start); wait > 0 {
			time.Sleep(wait)
		}
		r.buf = []byte(fmt.Sprintf("item-%d\n", r.sent))
		r.sent++
	}
	k := copy(p, r.buf)
	r.buf = r.buf[k:]
	return k, nil
}

func TestBucketRotationEmitsSnapshotsCoveringAllLines(t *testing.T) {
	ResetGlobalStop()

	cfg := xhash.HashConfig{Kind: xhash.WY, Seed: 3}
	factory := func(workerIndex int) *hll.HLL { return hll.New(10, cfg).Must() }
	p := New(Config{Threads: 4, BucketNS: 80 * time.Millisecond}, cfg, factory, nil)

	var mu sync.Mutex
	var snapshots []Snapshot[*hll.HLL]

	total := 300 * time.Millisecond
	n := 900
	src := newPacedReader(n, total)

	err := p.Run(context.Background(), src, func(s Snapshot[*hll.HLL]) {
		mu.Lock()
		snapshots = append(snapshots, s)
		mu.Unlock()
	}, nil)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if len(snapshots) < 2 {
		t.Fatalf("expected multiple snapshots, got %d", len(snapshots))
	}

	sumEstimate := 0.0
	for i, s := range snapshots {
		if i > 0 && !s.BucketStartWall.After(snapshots[i-1].BucketStartWall) {
			t.Fatalf("bucket %d start not after bucket %d start", i, i-1)
		}
		sumEstimate += float64(s.Sketch.Estimate())
	}

	if sumEstimate < 0.7*float64(n) || sumEstimate > 1.3*float64(n) {
		t.Fatalf("sum of bucket estimates %v too far from total lines %d", sumEstimate, n)
	}
}

func TestBloomDedupSharding(t *testing.T) {
	ResetGlobalStop()

	cfg := xhash.HashConfig{Kind: xhash.WY, Seed: 4}
	factory := func(workerIndex int) *bloom.Filter {
		return bloom.ByMemory(8*1024, cfg).Must()
	}
	p := New(Config{Threads: 4}, cfg, factory, nil)

	var sb strings.Builder
	for i := 0; i < 500; i++ {
		fmt.Fprintf(&sb, "dup-%d\n", i%50) // 50 distinct values, repeated
	}

	var final *bloom.Filter
	var wg sync.WaitGroup
	wg.Add(1)
	err := p.Run(context.Background(), strings.NewReader(sb.String()), nil, func(f *bloom.Filter) {
		final = f
		wg.Done()
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	wg.Wait()

	for i := 0; i < 50; i++ {
		if !final.MightContain([]byte(fmt.Sprintf("dup-%d", i))) {
			t.Fatalf("expected dup-%d to be present", i)
		}
	}
}

// TestOnUniqueEmitsEachDistinctLineExactlyOnce exercises the dedup
// capability end to end: with OnUnique wired in, a stream of 500 lines
// drawn from 50 distinct values must emit each distinct value exactly
// once, from whichever worker's shard first observes it, serialized
// through the shared emit mutex.
func TestOnUniqueEmitsEachDistinctLineExactlyOnce(t *testing.T) {
	ResetGlobalStop()

	cfg := xhash.HashConfig{Kind: xhash.WY, Seed: 5}
	factory := func(workerIndex int) *bloom.Filter {
		return bloom.ByMemory(8*1024, cfg).Must()
	}
	p := New(Config{Threads: 4}, cfg, factory, nil)

	var sb strings.Builder
	const distinct = 50
	for i := 0; i < 500; i++ {
		fmt.Fprintf(&sb, "dup-%d\n", i%distinct)
	}

	var mu sync.Mutex
	counts := make(map[string]int)
	p.OnUnique(func(item []byte) {
		mu.Lock()
		counts[string(item)]++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	wg.Add(1)
	err := p.Run(context.Background(), strings.NewReader(sb.String()), nil, func(f *bloom.Filter) {
		wg.Done()
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	wg.Wait()

	if len(counts) != distinct {
		t.Fatalf("emitted %d distinct values, want %d", len(counts), distinct)
	}
	for v, n := range counts {
		if n != 1 {
			t.Fatalf("value %q emitted %d times, want exactly once", v, n)
		}
	}
}
