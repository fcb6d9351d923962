package scoring

import (
	"grit-server/pkg/telemetry"
)

// maxLeverage caps the multiplicative leverage product.
const maxLeverage = 5.0

// baseStateFactor maps base occupancy to its leverage multiplier.
var baseStateFactor = map[telemetry.BaseState]float64{
	telemetry.BasesEmpty:      1.0,
	telemetry.RunnerOnFirst:   1.2,
	telemetry.RunnerOnSecond:  1.4,
	telemetry.RunnerOnThird:   1.5,
	telemetry.RunnersFirstSec: 1.6,
	telemetry.RunnersCorners:  1.7,
	telemetry.RunnersSecThird: 1.9,
	telemetry.BasesLoaded:     2.2,
}

// Leverage maps a game situation to a numeric pressure level. The
// product of the four factors is capped at maxLeverage.
func Leverage(sit telemetry.Situation) float64 {
	base, ok := baseStateFactor[sit.BaseState]
	if !ok {
		base = 1.0
	}

	var inning float64
	switch {
	case sit.Inning <= 3:
		inning = 0.8
	case sit.Inning <= 6:
		inning = 1.0
	case sit.Inning == 7:
		inning = 1.3
	case sit.Inning == 8:
		inning = 1.6
	default:
		inning = 2.0
	}

	var outs float64
	switch sit.Outs {
	case 0:
		outs = 1.0
	case 1:
		outs = 1.3
	default:
		outs = 1.8
	}

	diff := sit.ScoreDiff
	if diff < 0 {
		diff = -diff
	}
	var closeness float64
	switch {
	case diff <= 1:
		closeness = 1.5
	case diff <= 3:
		closeness = 1.2
	default:
		closeness = 0.8
	}

	leverage := base * inning * outs * closeness
	if leverage > maxLeverage {
		leverage = maxLeverage
	}
	return leverage
}

// Bucket converts numeric leverage into its ordinal pressure label.
func Bucket(leverage float64) telemetry.PressureBucket {
	switch {
	case leverage < 1.0:
		return telemetry.PressureLow
	case leverage < 2.0:
		return telemetry.PressureMedium
	case leverage < 3.0:
		return telemetry.PressureHigh
	default:
		return telemetry.PressureCritical
	}
}
