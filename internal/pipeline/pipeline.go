// Package pipeline implements the sharded ingest pipeline: one reader,
// N workers, and (in bucket mode) one reducer, coordinated by
// single-producer/single-consumer ring buffers and an epoch-style
// pause/merge protocol.
//
// Nothing else in this codebase runs a one-shot ingest pipeline like
// this one, but it reuses the same concurrency idioms found elsewhere
// here: sync.WaitGroup to join goroutines on shutdown, atomic.Bool/
// atomic.Uint64 flags for cooperative coordination between goroutines
// without a mutex, and a ticker-style background loop for the reducer's
// sleep-and-check cycle.
package pipeline

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"streamsketch.dev/internal/result"
	"streamsketch.dev/internal/ring"
	"streamsketch.dev/internal/timeutil"
	"streamsketch.dev/internal/xhash"
)

// Sketch is the capability set every worker's thread-local accumulator
// must provide: incrementing, merging, resetting, and cloning. The
// self-referential type parameter lets *hll.HLL,
// *bloom.Filter, and *cms.CMS all satisfy Sketch[Self] without a shared
// base type or runtime dispatch.
type Sketch[Self any] interface {
	AddItem(item []byte)
	MergeFrom(other Self) *result.Error
	Reset()
	Clone() Self
}

// Deduper is an optional capability a Sketch can implement: reporting,
// as it inserts an item, whether that item was new. A Pipeline with
// OnUnique set requires its sketch type to implement this — currently
// only *bloom.Filter does — since deduped emission needs a
// query-then-insert primitive AddItem alone can't provide.
type Deduper interface {
	CheckAndAdd(item []byte) bool
}

// tuning constants for the reader/worker backoff loops and the
// reducer's epoch quantum.
const (
	spinThreshold    = 16
	backoffSleep     = 50 * time.Microsecond
	reducerQuantum   = 20 * time.Millisecond
	defaultRingCap   = 16384
	defaultStatsTick = 5 * time.Second
)

// globalStop is the process-wide, signal-handler-reachable stop flag: a
// deliberate "dangerous global", lock-free readable from any goroutine,
// but never the sole synchronization between the reader and workers —
// each Pipeline's own `done` flag remains authoritative, set from
// globalStop (among other triggers) by that pipeline's reader.
var globalStop atomic.Bool

// RequestStop sets the process-wide stop flag, typically from a signal
// handler. Every running Pipeline observes it on its next reader
// iteration and winds down cooperatively.
func RequestStop() { globalStop.Store(true) }

// ResetGlobalStop clears the process-wide stop flag. Exists for tests
// that run multiple pipelines in one process.
func ResetGlobalStop() { globalStop.Store(false) }

// Config carries the subset of CLI options the core consumes
// directly. Fields left zero take the documented defaults.
type Config struct {
	Threads       int           // 0 => runtime.NumCPU()
	StopAfter     uint64        // 0 => unlimited
	RingCapacity  int           // 0 => defaultRingCap
	BucketNS      time.Duration // 0 => non-bucket mode
	StatsInterval time.Duration // 0 => stats disabled
}

// Snapshot is handed to the bucket-mode snapshot callback.
type Snapshot[S any] struct {
	BucketStartWall time.Time
	Sketch          S
}

// StatsSample is handed to the optional, advisory stats callback.
type StatsSample struct {
	Processed uint64
	Elapsed   time.Duration
}

// Pipeline runs one reader/workers/(reducer) invocation over a Sketch
// type S. A Pipeline value is single-use: call Run exactly once.
type Pipeline[S Sketch[S]] struct {
	cfg       Config
	shardHash xhash.HashConfig
	newSketch func(workerIndex int) S
	logger    *slog.Logger
	timebase  timeutil.Timebase

	rings          []*ring.Ring[[]byte]
	done           atomic.Bool
	merging        atomic.Bool
	paused         atomic.Int32
	workersEnded   atomic.Int32
	processedTotal atomic.Uint64

	onUnique func(item []byte)
	emitMu   sync.Mutex
}

// OnUnique switches the pipeline into deduped-emission mode: each
// worker calls Deduper.CheckAndAdd instead of AddItem, and fn is
// invoked once, synchronously, for every item its sketch had not
// already seen. Calls to fn are serialized behind a single mutex shared
// by all workers, safe for fn to write to a shared sink like stdout
// without its own locking. Must be called before Run; S must implement
// Deduper or each worker panics as soon as Run starts it, before any
// item is read.
func (p *Pipeline[S]) OnUnique(fn func(item []byte)) {
	p.onUnique = fn
}

// New constructs a Pipeline. shardHash is used only to route lines to
// worker rings; newSketch is called once per worker at startup to build
// that worker's thread-local sketch (callers decide there whether to
// apply xhash.DeriveThreadSalt, since that decision is sketch-kind
// specific: CMS and sharded Bloom benefit from decorrelated per-worker
// salts, HLL needs the pipeline's hash config verbatim so a later global
// merge stays valid).
func New[S Sketch[S]](cfg Config, shardHash xhash.HashConfig, newSketch func(workerIndex int) S, logger *slog.Logger) *Pipeline[S] {
	if cfg.RingCapacity <= 0 {
		cfg.RingCapacity = defaultRingCap
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline[S]{
		cfg:       cfg,
		shardHash: shardHash,
		newSketch: newSketch,
		logger:    logger,
		timebase:  timeutil.NewTimebase(),
	}
}

// Run drives the pipeline to completion. In bucket mode (cfg.BucketNS >
// 0), onSnapshot is invoked once per rotated bucket, including a final
// snapshot for the in-progress bucket at shutdown; onFinal is never
// called. In non-bucket mode, onFinal is invoked exactly once with the
// fully merged sketch and onSnapshot is never called.
func (p *Pipeline[S]) Run(ctx context.Context, src io.Reader, onSnapshot func(Snapshot[S]), onFinal func(S)) *result.Error {
	threads := p.cfg.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
		if threads < 1 {
			threads = 1
		}
	}

	p.rings = make([]*ring.Ring[[]byte], threads)
	for i := range p.rings {
		p.rings[i] = ring.New[[]byte](p.cfg.RingCapacity)
	}

	sketches := make([]S, threads)
	for i := range sketches {
		sketches[i] = p.newSketch(i)
	}

	var wg sync.WaitGroup
	wg.Add(threads)
	for i := 0; i < threads; i++ {
		go p.worker(i, sketches[i], &wg)
	}

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		p.readLines(ctx, src, threads)
	}()

	if p.cfg.StatsInterval > 0 {
		statsCtx, cancelStats := context.WithCancel(context.Background())
		defer cancelStats()
		go p.runStats(statsCtx)
	}

	if p.cfg.BucketNS > 0 {
		reducerDone := make(chan struct{})
		go func() {
			defer close(reducerDone)
			p.reduce(sketches, threads, onSnapshot)
		}()
		<-readerDone
		<-reducerDone
		wg.Wait()
		return nil
	}

	<-readerDone
	wg.Wait()

	accumulator := sketches[0].Clone()
	for _, s := range sketches {
		if err := accumulator.MergeFrom(s); err != nil {
			return result.New(result.Internal, "pipeline: final merge failed").With(err.Error())
		}
	}
	if onFinal != nil {
		onFinal(accumulator)
	}
	return nil
}

// readLines is the reader role. It hashes each line to pick a shard,
// pushes it into that shard's ring with spin-then-sleep backoff on a
// full ring, and stops after StopAfter lines, EOF, a canceled context, or
// the process-wide stop flag.
func (p *Pipeline[S]) readLines(ctx context.Context, src io.Reader, threads int) {
	defer p.done.Store(true)

	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	var count uint64
	for scanner.Scan() {
		if ctx.Err() != nil || globalStop.Load() {
			return
		}
		if p.cfg.StopAfter > 0 && count >= p.cfg.StopAfter {
			return
		}

		// Copy out of the scanner's reused buffer before handing the
		// line to a worker: the scanner overwrites it on the next Scan.
		line := append([]byte(nil), scanner.Bytes()...)
		shard := xhash.Hash64(line, p.shardHash) % uint64(threads)

		spins := 0
		for !p.rings[shard].TryPush(line) {
			spins++
			if spins < spinThreshold {
				runtime.Gosched()
			} else {
				time.Sleep(backoffSleep)
			}
		}
		count++
	}

	if err := scanner.Err(); err != nil {
		p.logger.Error("pipeline: input read error", "error", err)
	}
}

// worker is one shard's consumer. It pops items with spin-then-sleep
// backoff on an empty ring, applies them to its thread-local sketch, and
// cooperates with the reducer's epoch protocol: on observing `merging`,
// it records one pause per epoch and idles until `merging` clears.
func (p *Pipeline[S]) worker(idx int, sketch S, wg *sync.WaitGroup) {
	defer wg.Done()

	var dedupe Deduper
	if p.onUnique != nil {
		var ok bool
		dedupe, ok = any(sketch).(Deduper)
		if !ok {
			panic("pipeline: OnUnique requires a sketch implementing Deduper")
		}
	}

	r := p.rings[idx]
	spins := 0
	pausedThisEpoch := false

	for {
		if p.merging.Load() {
			if !pausedThisEpoch {
				p.paused.Add(1)
				pausedThisEpoch = true
			}
			for p.merging.Load() {
				time.Sleep(backoffSleep)
			}
			pausedThisEpoch = false
			continue
		}

		item, ok := r.TryPop()
		if !ok {
			if p.done.Load() {
				p.workersEnded.Add(1)
				return
			}
			spins++
			if spins < spinThreshold {
				runtime.Gosched()
			} else {
				time.Sleep(backoffSleep)
			}
			continue
		}

		spins = 0
		if dedupe != nil {
			if dedupe.CheckAndAdd(item) {
				p.emitMu.Lock()
				p.onUnique(item)
				p.emitMu.Unlock()
			}
		} else {
			sketch.AddItem(item)
		}
		p.processedTotal.Add(1)
	}
}

// reduce is the reducer role, active only in bucket mode. It implements
// the epoch protocol: sleep a quantum, decide whether to rotate, pause
// all workers, merge, emit, reset, and resume — except
// on the final rotation, where workers have already exited and the pause
// handshake is skipped.
func (p *Pipeline[S]) reduce(sketches []S, threads int, onSnapshot func(Snapshot[S])) {
	accumulator := sketches[0].Clone()
	bucketStart := time.Now()
	bucketEnd := bucketStart.Add(p.cfg.BucketNS)

	for {
		time.Sleep(reducerQuantum)

		finishing := p.done.Load() && int(p.workersEnded.Load()) == threads
		rotate := !time.Now().Before(bucketEnd) || finishing
		if !rotate {
			continue
		}

		if !finishing {
			p.merging.Store(true)
			// Wait for every still-live worker to pause, not for `threads`
			// pauses: a worker that has already exited (its ring drained
			// after `done` was set, independently of this rotation) will
			// never observe `merging` again and so never increments
			// `paused`. Re-reading `workersEnded` on every spin, rather
			// than snapshotting it once before the wait, also covers a
			// worker that exits in the gap between this goroutine's last
			// `merging.Load()` check and setting `merging` true: it drops
			// out of `paused`'s target by joining `workersEnded` instead.
			for int(p.paused.Load())+int(p.workersEnded.Load()) < threads {
				runtime.Gosched()
			}
		}

		for _, s := range sketches {
			if err := accumulator.MergeFrom(s); err != nil {
				p.logger.Error("pipeline: bucket merge failed", "error", err)
			}
		}

		if onSnapshot != nil {
			snap := accumulator.Clone()
			if err := snap.MergeFrom(accumulator); err != nil {
				p.logger.Error("pipeline: snapshot copy failed", "error", err)
			}
			onSnapshot(Snapshot[S]{
				BucketStartWall: p.timebase.ToWall(bucketStart),
				Sketch:          snap,
			})
		}

		for _, s := range sketches {
			s.Reset()
		}
		accumulator.Reset()

		if !finishing {
			p.paused.Store(0)
			p.merging.Store(false)
		}

		bucketStart = bucketEnd
		bucketEnd = bucketStart.Add(p.cfg.BucketNS)

		if finishing {
			return
		}
	}
}

// runStats periodically reports a relaxed snapshot of the processed-line
// counter. It is advisory only and never affects pipeline correctness.
func (p *Pipeline[S]) runStats(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.StatsInterval)
	defer ticker.Stop()

	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.logger.Info("pipeline stats",
				"processed", p.processedTotal.Load(),
				"elapsed", time.Since(start))
		}
	}
}

// Processed returns the current processed-line counter. Safe to call
// concurrently with Run; the value is advisory, for stats reporting only.
func (p *Pipeline[S]) Processed() uint64 {
	return p.processedTotal.Load()
}
