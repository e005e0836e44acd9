package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"streamsketch.dev/cmd/streamsketch/internal/config"
	"streamsketch.dev/cmd/streamsketch/internal/emit"
	"streamsketch.dev/cmd/streamsketch/internal/format"
	"streamsketch.dev/cmd/streamsketch/internal/report"
	"streamsketch.dev/cmd/streamsketch/internal/stats"
	"streamsketch.dev/internal/bloom"
	"streamsketch.dev/internal/cms"
	"streamsketch.dev/internal/hll"
	"streamsketch.dev/internal/pipeline"
	"streamsketch.dev/internal/result"
	"streamsketch.dev/internal/timeutil"
	"streamsketch.dev/internal/xhash"
)

// exitCode maps the closed error-kind taxonomy onto the CLI's
// documented exit-code taxonomy: 0 success, 2 argument/general error, 3
// I/O, 5 configuration.
func exitCode(err *result.Error) int {
	if err == nil {
		return 0
	}
	switch err.Kind {
	case result.IO:
		return 3
	case result.InvalidArgument, result.ParseError:
		return 5
	default:
		return 2
	}
}

// NewRunCommand builds the "run" subcommand: reads a stream of lines
// (a file, or standard input when --file is empty or "-"), feeds it
// through the ingest pipeline for the selected sketch kind, and reports
// results through the selected formatter, an optional stats printer,
// and an optional Prometheus textfile emitter.
func NewRunCommand() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:           "run",
		Short:         "Ingest a line stream and summarize it with a HyperLogLog, Bloom, or Count-Min sketch",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Flags(), configFile)
			if err != nil {
				os.Exit(5)
			}
			return runInvocation(cmd, cfg)
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&configFile, "config", "", "Path to an optional YAML config file")
	fs.String("file", "", `Input file path ("" or "-" for standard input)`)
	fs.String("format", "human", "Output format: human or json")
	fs.String("prom-file", "", "Optional Prometheus textfile emitter output path")
	fs.Int("threads", 0, "Worker count (0 = hardware concurrency)")
	fs.Uint64("stop-after", 0, "Stop after this many lines (0 = unlimited)")
	fs.String("bucket", "", `Bucket rotation duration, e.g. "1s" (empty disables bucket mode)`)
	fs.String("hash-kind", "WY", "Hash family: WY or XX")
	fs.Uint64("hash-seed", 0, "Base hash seed")
	fs.Bool("stats", false, "Enable the periodic terminal stats printer")
	fs.Int("stats-interval-seconds", 5, "Stats printer refresh interval")
	fs.String("sketch", "hll", "Sketch kind: hll, bloom, or cms")
	fs.Uint8("hll-p", 14, "HyperLogLog precision (4..20)")
	fs.Float64("bloom-fp", 0.01, "Bloom filter target false-positive rate")
	fs.Uint64("bloom-capacity-hint", 100000, "Bloom filter expected item count")
	fs.Uint64("bloom-mem-bytes", 0, "Bloom filter fixed memory budget in bytes (overrides fp/capacity-hint when nonzero)")
	fs.Bool("dedup", false, "Bloom sketch only: emit each distinct line to standard output at most once (a false positive can suppress a line's first occurrence)")
	fs.Float64("cms-eps", 1e-3, "Count-Min Sketch epsilon (relative error)")
	fs.Float64("cms-delta", 1e-4, "Count-Min Sketch delta (confidence)")
	fs.Int("cms-topk", 0, "Track this many top-K candidates (0 disables)")

	return cmd
}

func runInvocation(cmd *cobra.Command, cfg *config.Config) error {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	src, closeSrc, err := openInput(cfg.FilePath)
	if err != nil {
		logger.Error("failed to open input", "error", err)
		os.Exit(3)
	}
	defer closeSrc()

	formatter := format.New(cfg.Format, os.Stdout)

	var emitter *emit.Emitter
	if cfg.PromFile != "" {
		emitter = emit.New(cfg.PromFile)
	}

	hashCfg := xhash.HashConfig{Kind: hashKind(cfg.HashKind), Seed: cfg.HashSeed}

	bucketNS, perr := parseBucket(cfg.Bucket)
	if perr != nil {
		logger.Error("invalid bucket duration", "error", perr)
		os.Exit(5)
	}

	pcfg := pipeline.Config{
		Threads:   cfg.Threads,
		StopAfter: cfg.StopAfter,
		BucketNS:  bucketNS,
	}
	if cfg.Stats {
		pcfg.StatsInterval = time.Duration(cfg.StatsIntervalSeconds) * time.Second
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	go func() {
		<-ctx.Done()
		pipeline.RequestStop()
	}()

	var runErr *result.Error
	switch cfg.Sketch {
	case "bloom":
		runErr = runBloom(ctx, pcfg, hashCfg, cfg, logger, src, formatter, emitter)
	case "cms":
		runErr = runCMS(ctx, pcfg, hashCfg, cfg, logger, src, formatter, emitter)
	default:
		runErr = runHLL(ctx, pcfg, hashCfg, cfg, logger, src, formatter, emitter)
	}

	if runErr != nil {
		logger.Error("run failed", "kind", runErr.Kind.String(), "error", runErr.Error())
		os.Exit(exitCode(runErr))
	}
	return nil
}

func openInput(path string) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}

func hashKind(s string) xhash.Kind {
	if s == "XX" || s == "xx" {
		return xhash.XX
	}
	return xhash.WY
}

func parseBucket(s string) (time.Duration, *result.Error) {
	if s == "" {
		return 0, nil
	}
	d, err := timeutil.ParseDuration(s).Unwrap()
	if err != nil {
		return 0, err
	}
	return d, nil
}

func maybeStartStats(ctx context.Context, cfg *config.Config, processed func() uint64) context.CancelFunc {
	if !cfg.Stats {
		return func() {}
	}
	statsCtx, cancel := context.WithCancel(ctx)
	printer := stats.New(os.Stderr, time.Duration(cfg.StatsIntervalSeconds)*time.Second, processed)
	go printer.Run(statsCtx)
	return cancel
}

func runHLL(ctx context.Context, pcfg pipeline.Config, hashCfg xhash.HashConfig, cfg *config.Config, logger *slog.Logger, src io.Reader, formatter format.Formatter, emitter *emit.Emitter) *result.Error {
	if _, err := hll.New(cfg.HLLPrecision, hashCfg).Unwrap(); err != nil {
		return err
	}
	factory := func(int) *hll.HLL { return hll.New(cfg.HLLPrecision, hashCfg).Must() }
	p := pipeline.New(pcfg, hashCfg, factory, logger)
	stopStats := maybeStartStats(ctx, cfg, p.Processed)
	defer stopStats()

	onSnapshot := func(s pipeline.Snapshot[*hll.HLL]) {
		emitReport(hllReport(s.Sketch, timeutil.FormatUTCISO8601(s.BucketStartWall)), formatter, emitter, true, logger)
	}
	onFinal := func(h *hll.HLL) {
		emitReport(hllReport(h, ""), formatter, emitter, false, logger)
	}
	return p.Run(ctx, src, onSnapshot, onFinal)
}

func runBloom(ctx context.Context, pcfg pipeline.Config, hashCfg xhash.HashConfig, cfg *config.Config, logger *slog.Logger, src io.Reader, formatter format.Formatter, emitter *emit.Emitter) *result.Error {
	var validateErr *result.Error
	if cfg.BloomMemBytes > 0 {
		_, validateErr = bloom.ByMemory(cfg.BloomMemBytes, hashCfg).Unwrap()
	} else {
		_, validateErr = bloom.ByFalsePositive(cfg.BloomFP, cfg.BloomCapacityHint, hashCfg).Unwrap()
	}
	if validateErr != nil {
		return validateErr
	}
	factory := func(int) *bloom.Filter {
		if cfg.BloomMemBytes > 0 {
			return bloom.ByMemory(cfg.BloomMemBytes, hashCfg).Must()
		}
		return bloom.ByFalsePositive(cfg.BloomFP, cfg.BloomCapacityHint, hashCfg).Must()
	}
	p := pipeline.New(pcfg, hashCfg, factory, logger)

	var passed atomic.Uint64
	if cfg.BloomDedup {
		// Route the summary table/JSON off to stderr so it never
		// interleaves with the deduped lines this pipeline streams to
		// stdout as it runs.
		formatter = format.New(cfg.Format, os.Stderr)
		p.OnUnique(func(item []byte) {
			passed.Add(1)
			os.Stdout.Write(item)
			os.Stdout.Write([]byte("\n"))
		})
	}

	stopStats := maybeStartStats(ctx, cfg, p.Processed)
	defer stopStats()

	onSnapshot := func(s pipeline.Snapshot[*bloom.Filter]) {
		emitReport(bloomReport(s.Sketch, cfg.BloomDedup, p.Processed(), passed.Load(), timeutil.FormatUTCISO8601(s.BucketStartWall)), formatter, emitter, true, logger)
	}
	onFinal := func(f *bloom.Filter) {
		emitReport(bloomReport(f, cfg.BloomDedup, p.Processed(), passed.Load(), ""), formatter, emitter, false, logger)
	}
	return p.Run(ctx, src, onSnapshot, onFinal)
}

func runCMS(ctx context.Context, pcfg pipeline.Config, hashCfg xhash.HashConfig, cfg *config.Config, logger *slog.Logger, src io.Reader, formatter format.Formatter, emitter *emit.Emitter) *result.Error {
	if _, err := cms.ByEpsDelta(cfg.CMSEps, cfg.CMSDelta, hashCfg).Unwrap(); err != nil {
		return err
	}
	factory := func(int) *cms.CMS {
		c := cms.ByEpsDelta(cfg.CMSEps, cfg.CMSDelta, hashCfg).Must()
		if cfg.CMSTopK > 0 {
			c.EnableTopK(cfg.CMSTopK)
		}
		return c
	}
	p := pipeline.New(pcfg, hashCfg, factory, logger)
	stopStats := maybeStartStats(ctx, cfg, p.Processed)
	defer stopStats()

	onSnapshot := func(s pipeline.Snapshot[*cms.CMS]) {
		emitReport(cmsReport(s.Sketch, cfg.CMSTopK, timeutil.FormatUTCISO8601(s.BucketStartWall)), formatter, emitter, true, logger)
	}
	onFinal := func(c *cms.CMS) {
		emitReport(cmsReport(c, cfg.CMSTopK, ""), formatter, emitter, false, logger)
	}
	return p.Run(ctx, src, onSnapshot, onFinal)
}

func hllReport(h *hll.HLL, bucketStart string) report.Report {
	r := report.Report{Kind: "hll", BucketStart: bucketStart}
	r.AddUint("estimate", h.Estimate())
	r.AddUint("precision", uint64(h.P()))
	r.AddUint("registers", h.M())
	return r
}

func bloomReport(f *bloom.Filter, dedup bool, seen, passed uint64, bucketStart string) report.Report {
	m, k := f.Cap()
	r := report.Report{Kind: "bloom", BucketStart: bucketStart}
	r.AddUint("bits", m)
	r.AddUint("hash_rounds", uint64(k))
	r.AddUint("popcount", f.PopCount())
	if m > 0 {
		r.AddFloat("fill_ratio", float64(f.PopCount())/float64(m))
	}
	if dedup {
		r.AddUint("seen", seen)
		r.AddUint("passed", passed)
	}
	return r
}

func cmsReport(c *cms.CMS, topK int, bucketStart string) report.Report {
	r := report.Report{Kind: "cms", BucketStart: bucketStart}
	r.AddUint("depth", uint64(c.Depth()))
	r.AddUint("width", uint64(c.Width()))
	if topK > 0 {
		for i, pair := range c.TopK(topK) {
			r.AddString(fmt.Sprintf("top_%d_key", i+1), pair.Key)
			r.AddUint(fmt.Sprintf("top_%d_estimate", i+1), pair.Estimate)
		}
	}
	return r
}

func emitReport(r report.Report, formatter format.Formatter, emitter *emit.Emitter, snapshot bool, logger *slog.Logger) {
	var err error
	if snapshot {
		err = formatter.WriteSnapshot(r)
	} else {
		err = formatter.WriteFinal(r)
	}
	if err != nil {
		logger.Error("formatter write failed", "error", err)
	}
	if emitter != nil {
		if err := emitter.Write(r); err != nil {
			logger.Error("prometheus textfile emit failed", "error", err)
		}
	}
}
