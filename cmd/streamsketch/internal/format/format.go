// Package format implements the two output formatter collaborators
// named as "thin wrappers" outside the core: a human-readable table
// renderer and a machine-readable JSON-lines encoder. Both satisfy the
// same Formatter interface so a run command can select one by name and
// pass it through unchanged to the pipeline's snapshot/final callbacks.
package format

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"

	"streamsketch.dev/cmd/streamsketch/internal/report"
)

// Formatter renders one Report, either a bucket-mode snapshot or a
// non-bucket-mode final result.
type Formatter interface {
	WriteSnapshot(r report.Report) error
	WriteFinal(r report.Report) error
}

// New resolves a formatter by name ("human" or "json"). An unrecognized
// name falls back to "human", matching the option table's own default.
func New(name string, w io.Writer) Formatter {
	if name == "json" {
		return &JSONFormatter{w: w}
	}
	return &HumanFormatter{w: w}
}

// HumanFormatter renders each Report as a two-column (metric, value)
// go-pretty table titled with the bucket start or "final" and the
// sketch kind.
type HumanFormatter struct {
	w io.Writer
}

func (f *HumanFormatter) WriteSnapshot(r report.Report) error {
	return f.write(r, fmt.Sprintf("bucket @ %s", r.BucketStart))
}

func (f *HumanFormatter) WriteFinal(r report.Report) error {
	return f.write(r, "final")
}

func (f *HumanFormatter) write(r report.Report, title string) error {
	tbl := table.NewWriter()
	tbl.SetOutputMirror(f.w)
	tbl.SetStyle(table.StyleLight)
	tbl.SetTitle(fmt.Sprintf("%s [%s]", title, r.Kind))
	tbl.AppendHeader(table.Row{"metric", "value"})
	for _, m := range r.Metrics {
		tbl.AppendRow(table.Row{m.Name, m.Value})
	}
	tbl.Render()
	return nil
}

// JSONFormatter renders each Report as a single line of JSON, one
// object per snapshot or final result — friendly to log aggregators and
// jq-style postprocessing.
type JSONFormatter struct {
	w io.Writer
}

type jsonReport struct {
	Kind        string            `json:"kind"`
	BucketStart string            `json:"bucket_start,omitempty"`
	Metrics     map[string]string `json:"metrics"`
}

func (f *JSONFormatter) WriteSnapshot(r report.Report) error { return f.write(r) }
func (f *JSONFormatter) WriteFinal(r report.Report) error    { return f.write(r) }

func (f *JSONFormatter) write(r report.Report) error {
	metrics := make(map[string]string, len(r.Metrics))
	for _, m := range r.Metrics {
		metrics[m.Name] = m.Value
	}
	enc := json.NewEncoder(f.w)
	return enc.Encode(jsonReport{Kind: r.Kind, BucketStart: r.BucketStart, Metrics: metrics})
}
