package telemetry

// ActivityDomain identifies the sport a session is captured for.
type ActivityDomain string

const (
	DomainBaseball   ActivityDomain = "baseball"
	DomainSoftball   ActivityDomain = "softball"
	DomainFootball   ActivityDomain = "football"
	DomainBasketball ActivityDomain = "basketball"
)

// Valid reports whether the domain is one of the supported sports.
func (d ActivityDomain) Valid() bool {
	switch d {
	case DomainBaseball, DomainSoftball, DomainFootball, DomainBasketball:
		return true
	}
	return false
}

// SessionStatus is the lifecycle state of an analysis session.
type SessionStatus string

const (
	StatusActive     SessionStatus = "active"
	StatusCompleted  SessionStatus = "completed"
	StatusTerminated SessionStatus = "terminated"
	StatusError      SessionStatus = "error"
)

// CaptureConfig describes what the capture client is sending.
type CaptureConfig struct {
	TargetFPS       int      `json:"target_fps"`
	EnabledChannels []string `json:"enabled_channels"`
}

// SessionDescriptor is the caller-supplied description of a new session.
type SessionDescriptor struct {
	SessionID    string         `json:"session_id"`
	SubjectID    string         `json:"subject_id"`
	Domain       ActivityDomain `json:"activity_domain"`
	ConsentToken string         `json:"consent_token,omitempty"`
	Capture      CaptureConfig  `json:"capture,omitempty"`
}

// QualityConfidence qualifies how trustworthy a signal block is.
type QualityConfidence struct {
	Confidence float64 `json:"confidence"`
	Tracking   bool    `json:"tracking"`
	Occluded   bool    `json:"occluded,omitempty"`
}

// ActionUnits holds the five facial action-unit intensities the fusion
// algorithm scores. Values are normalized intensities in [0,1].
type ActionUnits struct {
	BrowFurrow   float64 `json:"brow_furrow"`
	LidTighten   float64 `json:"lid_tighten"`
	LipPress     float64 `json:"lip_press"`
	NostrilFlare float64 `json:"nostril_flare"`
	JawClench    float64 `json:"jaw_clench"`
}

// FacialBlock is the facial-signal portion of a feature packet.
type FacialBlock struct {
	Blink       bool              `json:"blink"`
	EyeAperture float64           `json:"eye_aperture"`
	Gaze        [3]float64        `json:"gaze"`
	HeadPose    [3]float64        `json:"head_pose"`
	ActionUnits ActionUnits       `json:"action_units"`
	Quality     QualityConfidence `json:"quality"`
}

// JointAngles holds the six named joint/posture angles, in degrees
// except StrideLength which is percent of subject height.
type JointAngles struct {
	ArmSlot           float64 `json:"arm_slot"`
	StrideLength      float64 `json:"stride_length"`
	HipShoulderSep    float64 `json:"hip_shoulder_sep"`
	SpineTilt         float64 `json:"spine_tilt"`
	LeadKneeFlex      float64 `json:"lead_knee_flex"`
	ShoulderAbduction float64 `json:"shoulder_abduction"`
}

// Keypoint is a single pose landmark from the capture client.
type Keypoint struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z,omitempty"`
	Confidence float64 `json:"confidence"`
}

// BiomechBlock is the biomechanical portion of a feature packet.
type BiomechBlock struct {
	Keypoints   []Keypoint        `json:"keypoints,omitempty"`
	Angles      JointAngles       `json:"angles"`
	Balance     float64           `json:"balance"`
	Consistency float64           `json:"consistency"`
	Quality     QualityConfidence `json:"quality"`
}

// DeviceMeta describes the capture device that produced a packet.
type DeviceMeta struct {
	FrameRate    int    `json:"frame_rate,omitempty"`
	Resolution   string `json:"resolution,omitempty"`
	HasFaceModel bool   `json:"has_face_model,omitempty"`
	HasPoseModel bool   `json:"has_pose_model,omitempty"`
}

// FeaturePacket is one timestamped observation from the capture client.
// Either block may be absent. Immutable once received.
type FeaturePacket struct {
	SessionID string        `json:"session_id"`
	Timestamp int64         `json:"timestamp"` // milliseconds since epoch
	Facial    *FacialBlock  `json:"facial,omitempty"`
	Biomech   *BiomechBlock `json:"biomech,omitempty"`
	Device    DeviceMeta    `json:"device,omitempty"`
}

// BaseState encodes base occupancy for diamond sports. For football and
// basketball it doubles as a coarse possession-pressure descriptor.
type BaseState string

const (
	BasesEmpty      BaseState = "empty"
	RunnerOnFirst   BaseState = "first"
	RunnerOnSecond  BaseState = "second"
	RunnerOnThird   BaseState = "third"
	RunnersFirstSec BaseState = "first_second"
	RunnersCorners  BaseState = "first_third"
	RunnersSecThird BaseState = "second_third"
	BasesLoaded     BaseState = "loaded"
)

// Situation is the mutable game-state descriptor the fusion algorithm
// reads to compute leverage. Latest-wins.
type Situation struct {
	Inning    int       `json:"inning"`
	Outs      int       `json:"outs"`
	BaseState BaseState `json:"base_state"`
	ScoreDiff int       `json:"score_diff"`
}

// NeutralSituation is the situational context a session starts with.
func NeutralSituation() Situation {
	return Situation{Inning: 1, Outs: 0, BaseState: BasesEmpty, ScoreDiff: 0}
}

// PressureBucket is the ordinal label derived from numeric leverage.
type PressureBucket string

const (
	PressureLow      PressureBucket = "low"
	PressureMedium   PressureBucket = "medium"
	PressureHigh     PressureBucket = "high"
	PressureCritical PressureBucket = "critical"
)

// StressLevel is the coarse stress label attached to a score packet.
type StressLevel string

const (
	StressLow      StressLevel = "low"
	StressModerate StressLevel = "moderate"
	StressHigh     StressLevel = "high"
	StressCritical StressLevel = "critical"
)

// ScorePacket is one fusion output per processed feature packet.
type ScorePacket struct {
	SessionID     string         `json:"session_id"`
	Timestamp     int64          `json:"timestamp"`
	Composite     float64        `json:"composite"`      // 0-100, one decimal
	BreakdownRisk float64        `json:"breakdown_risk"` // 0-1, three decimals
	MicroScore    float64        `json:"micro_score"`
	BiomechScore  float64        `json:"biomech_score"`
	PressureWt    float64        `json:"pressure_weight"`
	ClutchFactor  float64        `json:"clutch_factor"`
	Consistency   float64        `json:"consistency_trend"` // -1..1
	Fatigue       float64        `json:"fatigue_indicator"` // 0-1
	Pressure      PressureBucket `json:"pressure_context"`
	Stress        StressLevel    `json:"stress_level"`
	Explanations  []string       `json:"explanations,omitempty"`
}

// GameEvent is a discrete game occurrence reported by the caller,
// persisted to the analytical store alongside scores.
type GameEvent struct {
	SessionID string                 `json:"session_id"`
	Type      string                 `json:"type"`
	Label     string                 `json:"label,omitempty"`
	Outcome   string                 `json:"outcome,omitempty"`
	Timestamp int64                  `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}
