package commands

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"streamsketch.dev/internal/hll"
	"streamsketch.dev/internal/pipeline"
	"streamsketch.dev/internal/xhash"
)

// syntheticReader feeds the pipeline reader n freshly generated,
// newline-terminated keys drawn from a fixed-size cardinality domain,
// without touching a file or stdin. It exists so the epoch/bucket
// protocol and worker fan-out can be exercised end-to-end without any
// external input, packaged as a runnable subcommand rather than a go
// test benchmark.
type syntheticReader struct {
	remaining uint64
	domain    uint64
	buf       []byte
}

func newSyntheticReader(n, domain uint64) *syntheticReader {
	return &syntheticReader{remaining: n, domain: domain}
}

func (r *syntheticReader) Read(p []byte) (int, error) {
	if len(r.buf) == 0 {
		if r.remaining == 0 {
			return 0, io.EOF
		}
		r.buf = r.nextLine()
		r.remaining--
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

func (r *syntheticReader) nextLine() []byte {
	key := make([]byte, 9)
	_, _ = rand.Read(key)
	if r.domain > 0 {
		// Fold the random key into a fixed domain so repeated keys
		// occur at the requested cardinality instead of being unique
		// every time.
		v := uint64(0)
		for _, b := range key {
			v = v*31 + uint64(b)
		}
		v %= r.domain
		return fmt.Appendf(nil, "bench-key-%d\n", v)
	}
	enc := base64.RawURLEncoding.EncodeToString(key)
	return append([]byte(enc), '\n')
}

// NewBenchCommand builds the "bench" subcommand: it drives the ingest
// pipeline against synthetic, in-process input instead of a file or
// standard input, useful for validating the bucket-rotation protocol
// and measuring end-to-end throughput without depending on external
// data.
func NewBenchCommand() *cobra.Command {
	var (
		lines    uint64
		domain   uint64
		threads  int
		bucketS  string
		hllP     uint8
		hashKind string
	)

	cmd := &cobra.Command{
		Use:           "bench",
		Short:         "Drive the ingest pipeline against synthetic in-process input",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBench(cmd, lines, domain, threads, bucketS, hllP, hashKind)
		},
	}

	fs := cmd.Flags()
	fs.Uint64Var(&lines, "lines", 1_000_000, "Number of synthetic lines to generate")
	fs.Uint64Var(&domain, "domain", 0, "Cardinality domain (0 = every line unique)")
	fs.IntVar(&threads, "threads", 0, "Worker count (0 = hardware concurrency)")
	fs.StringVar(&bucketS, "bucket", "", `Bucket rotation duration, e.g. "100ms" (empty disables bucket mode)`)
	fs.Uint8Var(&hllP, "hll-p", 14, "HyperLogLog precision (4..20)")
	fs.StringVar(&hashKind, "hash-kind", "WY", "Hash family: WY or XX")

	return cmd
}

func runBench(cmd *cobra.Command, lines, domain uint64, threads int, bucketS string, hllP uint8, hashKindName string) error {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	hashCfg := xhash.HashConfig{Kind: hashKind(hashKindName)}

	if _, err := hll.New(hllP, hashCfg).Unwrap(); err != nil {
		logger.Error("invalid hll precision", "error", err)
		os.Exit(5)
	}

	bucketNS, perr := parseBucket(bucketS)
	if perr != nil {
		logger.Error("invalid bucket duration", "error", perr)
		os.Exit(5)
	}

	pcfg := pipeline.Config{Threads: threads, BucketNS: bucketNS}
	factory := func(int) *hll.HLL { return hll.New(hllP, hashCfg).Must() }
	p := pipeline.New(pcfg, hashCfg, factory, logger)

	var buckets, final uint64
	onSnapshot := func(s pipeline.Snapshot[*hll.HLL]) { buckets++ }
	onFinal := func(h *hll.HLL) { final = h.Estimate() }

	src := newSyntheticReader(lines, domain)

	start := time.Now()
	runErr := p.Run(cmd.Context(), src, onSnapshot, onFinal)
	elapsed := time.Since(start)

	if runErr != nil {
		logger.Error("bench run failed", "kind", runErr.Kind.String(), "error", runErr.Error())
		os.Exit(exitCode(runErr))
	}

	rate := float64(p.Processed()) / elapsed.Seconds()
	fmt.Fprintf(os.Stdout, "processed %s lines in %s (%s lines/s), %d bucket rotations, final estimate %s\n",
		humanize.Comma(int64(p.Processed())), elapsed.Round(time.Millisecond),
		humanize.Comma(int64(rate)), buckets, humanize.Comma(int64(final)))
	return nil
}
