// Package report defines the sketch-kind-agnostic shape the CLI's
// formatter, stats printer, and Prometheus emitter collaborators all
// consume. The core pipeline never imports this package: it hands the
// CLI a concrete *hll.HLL, *bloom.Filter, or *cms.CMS, and the run
// command (the one place that knows which sketch kind is in play)
// flattens it into a Report before handing it to any of these
// collaborators.
package report

import "strconv"

// Metric is one named numeric or string field of a Report. Kept as an
// ordered slice rather than a map so formatters render fields in a
// stable, predictable order.
type Metric struct {
	Name    string
	Value   string
	Numeric bool // true when Value parses as plain base-10, so the
	// Prometheus emitter can skip fields that don't (a hash kind name).
}

// Report is a snapshot of one sketch at one point in time: either a
// bucket-mode rotation or the final non-bucket-mode merge.
type Report struct {
	Kind        string // "hll", "bloom", or "cms"
	BucketStart string // ISO-8601 UTC; empty for a non-bucket final report
	Metrics     []Metric
}

// AddString appends a non-numeric field.
func (r *Report) AddString(name, value string) {
	r.Metrics = append(r.Metrics, Metric{Name: name, Value: value})
}

// AddUint appends a numeric field carrying an unsigned integer.
func (r *Report) AddUint(name string, value uint64) {
	r.Metrics = append(r.Metrics, Metric{Name: name, Value: strconv.FormatUint(value, 10), Numeric: true})
}

// AddFloat appends a numeric field carrying a float, formatted with
// fixed precision.
func (r *Report) AddFloat(name string, value float64) {
	r.Metrics = append(r.Metrics, Metric{Name: name, Value: strconv.FormatFloat(value, 'f', 4, 64), Numeric: true})
}
