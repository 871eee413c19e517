package progress_test

import (
	"testing"

	"github.com/kiranshivaraju/vidaudio/internal/progress"
	"github.com/stretchr/testify/assert"
)

func TestAggregate_DefaultRanges(t *testing.T) {
	tests := []struct {
		name  string
		stage progress.Stage
		sub   float64
		want  int
	}{
		{"download start", progress.StageDownload, 0, 10},
		{"download half", progress.StageDownload, 50, 30},
		{"download end", progress.StageDownload, 100, 50},
		{"validate jump", progress.StageValidate, 100, 55},
		{"convert start", progress.StageConvert, 0, 60},
		{"convert rounding", progress.StageConvert, 33, 70},
		{"convert end", progress.StageConvert, 100, 90},
		{"store jump", progress.StageStore, 100, 95},
		{"complete", progress.StageComplete, 100, 100},
		{"clamp high", progress.StageDownload, 250, 50},
		{"clamp low", progress.StageConvert, -5, 60},
		{"unknown stage", progress.Stage("bogus"), 50, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, progress.Aggregate(tt.stage, tt.sub))
		})
	}
}

func TestAggregate_MonotonicAcrossStages(t *testing.T) {
	stages := []progress.Stage{
		progress.StageDownload, progress.StageValidate, progress.StageConvert,
		progress.StageStore, progress.StageComplete,
	}
	last := 0
	for _, st := range stages {
		for sub := 0.0; sub <= 100; sub += 5 {
			got := progress.Aggregate(st, sub)
			if st == progress.StageValidate || st == progress.StageStore {
				got = progress.DefaultTable.End(st)
			}
			assert.GreaterOrEqual(t, got, last, "stage %s sub %.0f", st, sub)
			last = got
		}
	}
	assert.Equal(t, 100, last)
}

func TestStageSink_SkipsNonIncreasing(t *testing.T) {
	var got []int
	sink := progress.DefaultTable.StageSink(progress.StageDownload, func(p int) {
		got = append(got, p)
	})

	sink.Report(0)
	sink.Report(0.5)
	sink.Report(50)
	sink.Report(40)
	sink.Report(100)

	assert.Equal(t, []int{10, 30, 50}, got)
}

func TestDiscard(t *testing.T) {
	assert.NotPanics(t, func() { progress.Discard.Report(42) })
}
