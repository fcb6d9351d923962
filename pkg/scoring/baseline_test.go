package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grit-server/pkg/telemetry"
)

func TestReferenceBaseline(t *testing.T) {
	base := ReferenceBaseline(42)

	assert.Equal(t, int64(42), base.EstablishedAt)
	assert.Equal(t, WarmupPackets, base.SampleCount)
	assert.False(t, base.Empirical)
	assert.Equal(t, 0.25, base.ActionUnits.JawClench)
	assert.Equal(t, 85.0, base.Angles.ArmSlot)
}

// The empirical baseline diverges from the fixed reference constants by
// design; this test pins the divergence so it cannot be introduced or
// removed silently.
func TestEmpiricalBaselineDivergesFromReference(t *testing.T) {
	window := make([]*telemetry.FeaturePacket, WarmupPackets)
	for i := range window {
		window[i] = &telemetry.FeaturePacket{
			SessionID: "sess-1",
			Facial: &telemetry.FacialBlock{ActionUnits: telemetry.ActionUnits{
				BrowFurrow: 0.4, LidTighten: 0.3, LipPress: 0.2, NostrilFlare: 0.2, JawClench: 0.5,
			}},
			Biomech: &telemetry.BiomechBlock{Angles: telemetry.JointAngles{
				ArmSlot: 70, StrideLength: 82, HipShoulderSep: 38, SpineTilt: 28, LeadKneeFlex: 50, ShoulderAbduction: 95,
			}},
		}
	}

	base := EmpiricalBaseline(window, 42)
	require.True(t, base.Empirical)
	assert.Equal(t, len(window), base.SampleCount)
	assert.InDelta(t, 0.5, base.ActionUnits.JawClench, 0.0001)
	assert.InDelta(t, 70.0, base.Angles.ArmSlot, 0.0001)

	ref := ReferenceBaseline(42)
	assert.NotEqual(t, ref.ActionUnits, base.ActionUnits)
	assert.NotEqual(t, ref.Angles, base.Angles)
}

func TestEmpiricalBaselineFallsBackPerBlock(t *testing.T) {
	// warm-up window with facial data only
	window := make([]*telemetry.FeaturePacket, 10)
	for i := range window {
		window[i] = &telemetry.FeaturePacket{
			SessionID: "sess-1",
			Facial: &telemetry.FacialBlock{ActionUnits: telemetry.ActionUnits{
				BrowFurrow: 0.1, LidTighten: 0.1, LipPress: 0.1, NostrilFlare: 0.1, JawClench: 0.1,
			}},
		}
	}

	base := EmpiricalBaseline(window, 0)
	assert.InDelta(t, 0.1, base.ActionUnits.BrowFurrow, 0.0001)
	// no biomech packets observed, reference angles retained
	assert.Equal(t, ReferenceBaseline(0).Angles, base.Angles)
}
