package scoring

import (
	"grit-server/pkg/telemetry"
)

// WarmupPackets is the number of feature packets an actor must observe
// before the session baseline is established. Establishment happens
// exactly once per session.
const WarmupPackets = 150

// Baseline holds the per-session reference values every subsequent
// score is computed against.
type Baseline struct {
	ActionUnits   telemetry.ActionUnits `json:"action_units"`
	Angles        telemetry.JointAngles `json:"angles"`
	EstablishedAt int64                 `json:"established_at"`
	SampleCount   int                   `json:"sample_count"`
	Empirical     bool                  `json:"empirical"`
}

// ReferenceBaseline returns the fixed physiologically-typical reference
// values used for cold-start calibration.
func ReferenceBaseline(establishedAt int64) *Baseline {
	return &Baseline{
		ActionUnits: telemetry.ActionUnits{
			BrowFurrow:   0.20,
			LidTighten:   0.15,
			LipPress:     0.10,
			NostrilFlare: 0.10,
			JawClench:    0.25,
		},
		Angles: telemetry.JointAngles{
			ArmSlot:           85.0,
			StrideLength:      78.0,
			HipShoulderSep:    40.0,
			SpineTilt:         30.0,
			LeadKneeFlex:      45.0,
			ShoulderAbduction: 90.0,
		},
		EstablishedAt: establishedAt,
		SampleCount:   WarmupPackets,
	}
}

// EmpiricalBaseline averages the warm-up window instead of using fixed
// reference constants. Packets missing a block do not contribute to
// that block's averages. Falls back to the reference values for a
// block no packet carried.
func EmpiricalBaseline(window []*telemetry.FeaturePacket, establishedAt int64) *Baseline {
	base := ReferenceBaseline(establishedAt)
	base.Empirical = true
	base.SampleCount = len(window)

	var au telemetry.ActionUnits
	var angles telemetry.JointAngles
	facialN, biomechN := 0, 0

	for _, pkt := range window {
		if pkt.Facial != nil {
			au.BrowFurrow += pkt.Facial.ActionUnits.BrowFurrow
			au.LidTighten += pkt.Facial.ActionUnits.LidTighten
			au.LipPress += pkt.Facial.ActionUnits.LipPress
			au.NostrilFlare += pkt.Facial.ActionUnits.NostrilFlare
			au.JawClench += pkt.Facial.ActionUnits.JawClench
			facialN++
		}
		if pkt.Biomech != nil {
			angles.ArmSlot += pkt.Biomech.Angles.ArmSlot
			angles.StrideLength += pkt.Biomech.Angles.StrideLength
			angles.HipShoulderSep += pkt.Biomech.Angles.HipShoulderSep
			angles.SpineTilt += pkt.Biomech.Angles.SpineTilt
			angles.LeadKneeFlex += pkt.Biomech.Angles.LeadKneeFlex
			angles.ShoulderAbduction += pkt.Biomech.Angles.ShoulderAbduction
			biomechN++
		}
	}

	if facialN > 0 {
		n := float64(facialN)
		base.ActionUnits = telemetry.ActionUnits{
			BrowFurrow:   au.BrowFurrow / n,
			LidTighten:   au.LidTighten / n,
			LipPress:     au.LipPress / n,
			NostrilFlare: au.NostrilFlare / n,
			JawClench:    au.JawClench / n,
		}
	}
	if biomechN > 0 {
		n := float64(biomechN)
		base.Angles = telemetry.JointAngles{
			ArmSlot:           angles.ArmSlot / n,
			StrideLength:      angles.StrideLength / n,
			HipShoulderSep:    angles.HipShoulderSep / n,
			SpineTilt:         angles.SpineTilt / n,
			LeadKneeFlex:      angles.LeadKneeFlex / n,
			ShoulderAbduction: angles.ShoulderAbduction / n,
		}
	}

	return base
}
