// Package timeutil implements the small set of time helpers the ingest
// pipeline needs: a strict duration grammar for the "bucket" flag, a
// monotonic-to-wall mapping so emitted timestamps never jump backwards
// even under wall-clock adjustments, and UTC ISO-8601 formatting.
package timeutil

import (
	"strconv"
	"time"

	"streamsketch.dev/internal/result"
)

// ParseDuration accepts "<unsigned int><unit>" with unit in
// {ms, s, m, h}. Unlike time.ParseDuration, it rejects signs, decimals,
// and compound durations like "1h30m" — this grammar is a strict
// subset, and silently accepting the wider stdlib grammar would let
// inputs through that this package's own property tests must reject.
func ParseDuration(s string) result.Result[time.Duration] {
	if s == "" {
		return result.Err[time.Duration](result.New(result.ParseError, "timeutil: empty duration string"))
	}

	unitLen := 1
	switch {
	case len(s) >= 2 && s[len(s)-2:] == "ms":
		unitLen = 2
	case len(s) >= 1 && (s[len(s)-1] == 's' || s[len(s)-1] == 'm' || s[len(s)-1] == 'h'):
		unitLen = 1
	default:
		return result.Err[time.Duration](result.New(result.ParseError, "timeutil: unknown or missing unit"))
	}

	numPart := s[:len(s)-unitLen]
	unit := s[len(s)-unitLen:]

	if numPart == "" {
		return result.Err[time.Duration](result.New(result.ParseError, "timeutil: missing number"))
	}
	for _, c := range numPart {
		if c < '0' || c > '9' {
			return result.Err[time.Duration](result.New(result.ParseError, "timeutil: number must be unsigned digits"))
		}
	}

	n, err := strconv.ParseUint(numPart, 10, 64)
	if err != nil {
		return result.Err[time.Duration](result.New(result.Overflow, "timeutil: numeric overflow parsing duration"))
	}

	var unitDur time.Duration
	switch unit {
	case "ms":
		unitDur = time.Millisecond
	case "s":
		unitDur = time.Second
	case "m":
		unitDur = time.Minute
	case "h":
		unitDur = time.Hour
	}

	total := n * uint64(unitDur)
	if unitDur != 0 && total/uint64(unitDur) != n {
		return result.Err[time.Duration](result.New(result.Overflow, "timeutil: duration overflows int64 nanoseconds"))
	}
	if total > uint64(1<<63-1) {
		return result.Err[time.Duration](result.New(result.Overflow, "timeutil: duration overflows int64 nanoseconds"))
	}

	return result.Ok(time.Duration(total))
}

// Timebase maps a monotonic clock reading back to wall-clock time,
// captured once at process start so that a burst of NTP-driven wall
// clock jumps mid-run can't make emitted timestamps go backwards.
type Timebase struct {
	wallOrigin      time.Time
	monotonicOrigin time.Time // time.Now() retains a monotonic reading internally
}

// NewTimebase captures the current wall and monotonic origin.
func NewTimebase() Timebase {
	now := time.Now()
	return Timebase{wallOrigin: now, monotonicOrigin: now}
}

// ToWall computes wall_origin + (monotonicPoint - monotonic_origin). Both
// arguments are time.Time values carrying a monotonic reading (as
// produced by time.Now()); the subtraction below uses that monotonic
// component per the time package's documented behavior.
func (tb Timebase) ToWall(monotonicPoint time.Time) time.Time {
	elapsed := monotonicPoint.Sub(tb.monotonicOrigin)
	return tb.wallOrigin.Add(elapsed)
}

// FormatUTCISO8601 renders t as "YYYY-MM-DDTHH:MM:SSZ" in UTC.
func FormatUTCISO8601(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}
