// Package progress maps per-stage sub-progress onto a single 0-100 job value.
package progress

import "math"

// Stage names a step of the local conversion pipeline.
type Stage string

const (
	StageDownload Stage = "download"
	StageValidate Stage = "validate"
	StageConvert  Stage = "convert"
	StageStore    Stage = "store"
	StageComplete Stage = "complete"
)

// Range is the inclusive slice of overall progress owned by a stage.
type Range struct {
	Lo int
	Hi int
}

// Table maps stages to their output ranges.
type Table map[Stage]Range

// DefaultTable is the stage layout used by the local engine. Ranges are
// ordered and non-overlapping so stage boundaries never move progress back.
var DefaultTable = Table{
	StageDownload: {Lo: 10, Hi: 50},
	StageValidate: {Lo: 50, Hi: 55},
	StageConvert:  {Lo: 60, Hi: 90},
	StageStore:    {Lo: 90, Hi: 95},
	StageComplete: {Lo: 95, Hi: 100},
}

// Map returns round(lo + sub/100*(hi-lo)) for the stage. Sub-progress is
// clamped to [0,100]; an unknown stage maps to 0.
func (t Table) Map(stage Stage, sub float64) int {
	r, ok := t[stage]
	if !ok {
		return 0
	}
	sub = math.Max(0, math.Min(100, sub))
	return int(math.Round(float64(r.Lo) + sub/100*float64(r.Hi-r.Lo)))
}

// End returns the upper bound of a fixed-jump stage.
func (t Table) End(stage Stage) int {
	return t.Map(stage, 100)
}

// Aggregate maps through DefaultTable.
func Aggregate(stage Stage, sub float64) int {
	return DefaultTable.Map(stage, sub)
}

// Sink receives progress percentages. Implementations must be safe to call
// from the goroutine doing the work.
type Sink interface {
	Report(percent float64)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(percent float64)

func (f SinkFunc) Report(percent float64) { f(percent) }

// Discard ignores every report.
var Discard Sink = SinkFunc(func(float64) {})

// StageSink converts a stage's sub-progress into overall progress and forwards
// it to report, skipping values that would not raise the last reported one.
func (t Table) StageSink(stage Stage, report func(overall int)) Sink {
	last := -1
	return SinkFunc(func(sub float64) {
		overall := t.Map(stage, sub)
		if overall <= last {
			return
		}
		last = overall
		report(overall)
	})
}
