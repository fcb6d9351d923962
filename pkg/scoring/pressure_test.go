package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"grit-server/pkg/telemetry"
)

func TestLeverageNeutralStart(t *testing.T) {
	lev := Leverage(telemetry.NeutralSituation())
	// first inning, bases empty, nobody out, tied game
	assert.InDelta(t, 1.2, lev, 0.0001)
	assert.Equal(t, telemetry.PressureMedium, Bucket(lev))
}

func TestLeverageCapped(t *testing.T) {
	lev := Leverage(telemetry.Situation{Inning: 9, Outs: 2, BaseState: telemetry.BasesLoaded, ScoreDiff: 1})
	assert.Equal(t, 5.0, lev)
	assert.Equal(t, telemetry.PressureCritical, Bucket(lev))
}

func TestLeverageUnknownBaseStateDefaultsToEmpty(t *testing.T) {
	known := Leverage(telemetry.Situation{Inning: 5, Outs: 1, BaseState: telemetry.BasesEmpty, ScoreDiff: 2})
	unknown := Leverage(telemetry.Situation{Inning: 5, Outs: 1, BaseState: "dugout", ScoreDiff: 2})
	assert.Equal(t, known, unknown)
}

func TestBucketBoundaries(t *testing.T) {
	tests := []struct {
		leverage float64
		want     telemetry.PressureBucket
	}{
		{0.5, telemetry.PressureLow},
		{0.99, telemetry.PressureLow},
		{1.0, telemetry.PressureMedium},
		{1.99, telemetry.PressureMedium},
		{2.0, telemetry.PressureHigh},
		{2.99, telemetry.PressureHigh},
		{3.0, telemetry.PressureCritical},
		{5.0, telemetry.PressureCritical},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Bucket(tt.leverage), "leverage %v", tt.leverage)
	}
}

func TestLeverageMonotonicInOuts(t *testing.T) {
	sit := telemetry.Situation{Inning: 7, BaseState: telemetry.RunnerOnSecond, ScoreDiff: 1}
	var prev float64
	for outs := 0; outs <= 2; outs++ {
		sit.Outs = outs
		lev := Leverage(sit)
		assert.Greater(t, lev, prev, "outs=%d", outs)
		prev = lev
	}
}
