// Package emit implements the optional Prometheus textfile emitter
// collaborator: after each bucket snapshot (or once, at the end of a
// non-bucket run), it writes the report's numeric fields as gauges to a
// .prom file a node_exporter textfile collector can scrape.
package emit

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"streamsketch.dev/cmd/streamsketch/internal/report"
)

// Emitter writes one Report at a time to a fixed textfile path.
type Emitter struct {
	path string
}

// New returns an Emitter targeting path. path is typically watched by a
// node_exporter --collector.textfile.directory scrape target.
func New(path string) *Emitter {
	return &Emitter{path: path}
}

// Write renders r's numeric fields as gauges into a fresh registry and
// atomically replaces the target file: written to a sibling temp file,
// fsynced, then renamed into place so a concurrent scrape never observes
// a half-written file.
func (e *Emitter) Write(r report.Report) error {
	registry := prometheus.NewRegistry()

	for _, m := range r.Metrics {
		if !m.Numeric {
			continue
		}
		gauge := prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "streamsketch_" + r.Kind + "_" + m.Name,
			Help: "streamsketch " + r.Kind + " " + m.Name,
		})
		f, err := strconv.ParseFloat(m.Value, 64)
		if err != nil {
			continue
		}
		gauge.Set(f)
		registry.MustRegister(gauge)
	}

	families, err := registry.Gather()
	if err != nil {
		return err
	}

	dir := filepath.Dir(e.path)
	tmp, err := os.CreateTemp(dir, ".streamsketch-*.prom.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(tmp, mf); err != nil {
			tmp.Close()
			os.Remove(tmpName)
			return err
		}
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}

	return os.Rename(tmpName, e.path)
}
