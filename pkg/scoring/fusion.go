package scoring

import (
	"math"

	"grit-server/pkg/telemetry"
)

// Fixed design constants of the fusion algorithm. The clamping behavior
// around them is load-bearing: composite stays in [0,100] and breakdown
// risk in [0,1] for all inputs.
const (
	neutralScore = 50.0

	// facial channel weights, jaw tension is the strongest stress signal
	wtBrowFurrow   = 2.0
	wtLidTighten   = 1.5
	wtLipPress     = 1.8
	wtNostrilFlare = 1.2
	wtJawClench    = 2.2

	armSlotPenaltyRate = 2.0
	armSlotPenaltyCap  = 20.0
	stridePenaltyRate  = 1.5
	stridePenaltyCap   = 15.0
	balanceBonusCap    = 10.0

	microWeightDefault  = 0.60
	microWeightPressure = 0.65

	riskPivot = 70.0
)

// HistoryWindow is the slice of session score history the algorithm
// reads. Recent is chronological, most recent last; Early holds the
// first composites of the session for the fatigue indicator.
type HistoryWindow struct {
	Recent []float64
	Early  []float64
}

// Compute runs the fusion algorithm for one feature packet. Pure:
// identical inputs yield bit-identical output.
func Compute(pkt *telemetry.FeaturePacket, base *Baseline, sit telemetry.Situation, hist HistoryWindow) telemetry.ScorePacket {
	micro := microExpressionScore(pkt, base)
	bio := biomechScore(pkt, base)

	leverage := Leverage(sit)
	bucket := Bucket(leverage)

	microWt := microWeightDefault
	if bucket == telemetry.PressureHigh || bucket == telemetry.PressureCritical {
		microWt = microWeightPressure
	}
	bioWt := 1.0 - microWt

	composite := microWt*micro + bioWt*bio
	composite *= 1.0 + pressureAdjustment(bucket)
	composite *= consistencyFactor(hist.Recent)
	composite *= recoveryFactor()
	composite = clamp(composite, 0, 100)
	composite = round1(composite)

	risk := clamp01((riskPivot-composite)/riskPivot) * riskMultiplier(bucket)
	risk = round3(clamp01(risk))

	score := telemetry.ScorePacket{
		SessionID:     pkt.SessionID,
		Timestamp:     pkt.Timestamp,
		Composite:     composite,
		BreakdownRisk: risk,
		MicroScore:    round1(micro),
		BiomechScore:  round1(bio),
		PressureWt:    round3(leverage),
		ClutchFactor:  clutchFactor(bucket),
		Consistency:   consistencyTrend(hist.Recent),
		Fatigue:       fatigueIndicator(hist),
		Pressure:      bucket,
		Stress:        stressLevel(micro, composite),
		Explanations:  explanations(micro, bio, bucket),
	}
	return score
}

// microExpressionScore weighs facial action-unit deviations above
// baseline and inverts the normalized stress ratio. Neutral when the
// packet has no facial block or no baseline exists yet.
func microExpressionScore(pkt *telemetry.FeaturePacket, base *Baseline) float64 {
	if pkt.Facial == nil || base == nil {
		return neutralScore
	}

	au := pkt.Facial.ActionUnits
	ref := base.ActionUnits

	weighted := math.Max(0, au.BrowFurrow-ref.BrowFurrow)*wtBrowFurrow +
		math.Max(0, au.LidTighten-ref.LidTighten)*wtLidTighten +
		math.Max(0, au.LipPress-ref.LipPress)*wtLipPress +
		math.Max(0, au.NostrilFlare-ref.NostrilFlare)*wtNostrilFlare +
		math.Max(0, au.JawClench-ref.JawClench)*wtJawClench

	totalWeight := wtBrowFurrow + wtLidTighten + wtLipPress + wtNostrilFlare + wtJawClench
	stressRatio := clamp01(weighted / totalWeight)

	return 100.0 * (1.0 - stressRatio)
}

// biomechScore penalizes arm-slot and stride-length drift from baseline
// and rewards instantaneous balance and consistency, all capped.
// Neutral when the packet has no biomech block or no baseline exists.
func biomechScore(pkt *telemetry.FeaturePacket, base *Baseline) float64 {
	if pkt.Biomech == nil || base == nil {
		return neutralScore
	}

	angles := pkt.Biomech.Angles
	ref := base.Angles

	score := 100.0
	score -= math.Min(armSlotPenaltyCap, math.Abs(angles.ArmSlot-ref.ArmSlot)*armSlotPenaltyRate)
	score -= math.Min(stridePenaltyCap, math.Abs(angles.StrideLength-ref.StrideLength)*stridePenaltyRate)
	score += math.Min(balanceBonusCap, pkt.Biomech.Balance*balanceBonusCap)
	score += math.Min(balanceBonusCap, pkt.Biomech.Consistency*balanceBonusCap)

	return clamp(score, 0, 100)
}

func pressureAdjustment(bucket telemetry.PressureBucket) float64 {
	switch bucket {
	case telemetry.PressureMedium:
		return -0.02
	case telemetry.PressureHigh:
		return -0.05
	case telemetry.PressureCritical:
		return -0.10
	default:
		return 0
	}
}

// consistencyFactor dampens or boosts the composite based on the
// variance of the last five composites. Neutral for short history.
func consistencyFactor(recent []float64) float64 {
	if len(recent) < 5 {
		return 1.0
	}
	sd := stddev(recent[len(recent)-5:])
	return clamp(1.2-math.Min(sd, 50.0)/125.0, 0.8, 1.2)
}

// recoveryFactor is a reserved hook for post-event recovery modeling.
func recoveryFactor() float64 {
	return 1.0
}

func riskMultiplier(bucket telemetry.PressureBucket) float64 {
	switch bucket {
	case telemetry.PressureCritical:
		return 1.5
	case telemetry.PressureHigh:
		return 1.2
	default:
		return 1.0
	}
}

func clutchFactor(bucket telemetry.PressureBucket) float64 {
	switch bucket {
	case telemetry.PressureCritical:
		return 0.9
	case telemetry.PressureHigh:
		return 0.75
	case telemetry.PressureMedium:
		return 0.6
	default:
		return 0.5
	}
}

// consistencyTrend maps the variance of the last ten composites into
// [-1,1]; positive means steady output. Zero for short history.
func consistencyTrend(recent []float64) float64 {
	if len(recent) < 10 {
		return 0
	}
	sd := stddev(recent[len(recent)-10:])
	return round3(clamp(1.0-sd/12.5, -1, 1))
}

// fatigueIndicator is the relative drop between the session's first ten
// and most recent ten composites.
func fatigueIndicator(hist HistoryWindow) float64 {
	if len(hist.Early) < 10 || len(hist.Recent) < 10 {
		return 0
	}
	early := mean(hist.Early[:10])
	if early <= 0 {
		return 0
	}
	recent := mean(hist.Recent[len(hist.Recent)-10:])
	return round3(clamp01((early - recent) / early))
}

func explanations(micro, bio float64, bucket telemetry.PressureBucket) []string {
	var tags []string
	if micro < 40 {
		tags = append(tags, "high_stress_detected")
	}
	if bio < 50 {
		tags = append(tags, "mechanics_breaking_down")
	}
	if bucket == telemetry.PressureCritical {
		tags = append(tags, "critical_pressure_situation")
	}
	if micro < 30 {
		tags = append(tags, "micro_expression_spikes")
	}
	return tags
}

func stressLevel(micro, composite float64) telemetry.StressLevel {
	switch {
	case micro < 30 || composite < 30:
		return telemetry.StressCritical
	case micro < 50 || composite < 50:
		return telemetry.StressHigh
	case micro < 70 || composite < 70:
		return telemetry.StressModerate
	default:
		return telemetry.StressLow
	}
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stddev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	sum := 0.0
	for _, v := range values {
		d := v - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clamp01(v float64) float64 {
	return clamp(v, 0, 1)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
