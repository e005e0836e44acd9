// Package stats implements the periodic, advisory-only terminal stats
// printer named among the CLI's supplemented features: a go-pretty
// table refreshed on a ticker, each one preceded by a bold blank
// separator line, reading nothing but the pipeline's relaxed
// processed-line counter. The table itself is not colored.
package stats

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
)

// Printer polls a processed-line counter on an interval and renders a
// one-row table with the running total and throughput. It never touches
// pipeline internals directly — Processed is just p.Processed bound by
// the caller — so it stays a pure external collaborator.
type Printer struct {
	w         io.Writer
	interval  time.Duration
	processed func() uint64
}

// New builds a Printer. processed is typically a *pipeline.Pipeline's
// Processed method value.
func New(w io.Writer, interval time.Duration, processed func() uint64) *Printer {
	return &Printer{w: w, interval: interval, processed: processed}
}

// Run blocks, printing one refreshed table per tick, until ctx is
// canceled. It is meant to be run in its own goroutine alongside a
// pipeline invocation.
func (p *Printer) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	start := time.Now()
	bold := color.New(color.Bold)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			elapsed := time.Since(start)
			n := p.processed()
			rate := float64(n) / elapsed.Seconds()

			tbl := table.NewWriter()
			tbl.SetOutputMirror(p.w)
			tbl.SetStyle(table.StyleLight)
			tbl.AppendHeader(table.Row{"elapsed", "processed", "rate"})
			tbl.AppendRow(table.Row{
				elapsed.Round(time.Second),
				humanize.Comma(int64(n)),
				fmt.Sprintf("%s/s", humanize.Comma(int64(rate))),
			})
			bold.Fprintln(p.w)
			tbl.Render()
		}
	}
}
