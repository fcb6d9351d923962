package session

import (
	"context"

	"grit-server/pkg/scoring"
	"grit-server/pkg/telemetry"
)

// Snapshot is the authoritative durable state of one session, written
// after every batch and read back on actor reactivation.
type Snapshot struct {
	Descriptor telemetry.SessionDescriptor `json:"descriptor"`
	Status     telemetry.SessionStatus     `json:"status"`
	StartTime  int64                       `json:"start_time"`
	EndTime    int64                       `json:"end_time,omitempty"`
	Baseline   *scoring.Baseline           `json:"baseline,omitempty"`
	Situation  telemetry.Situation         `json:"situation"`
	Scores     []telemetry.ScorePacket     `json:"scores"`
	Early      []float64                   `json:"early_composites"`
	Stats      Stats                       `json:"stats"`
}

// Stats are the processing counters owned by one actor. Monotonic
// except the running latency average.
type Stats struct {
	PacketsProcessed uint64  `json:"packets_processed"`
	PacketsDropped   uint64  `json:"packets_dropped"`
	FusionCount      uint64  `json:"fusion_count"`
	ErrorCount       uint64  `json:"error_count"`
	AvgLatencyMs     float64 `json:"avg_latency_ms"`
	LastPacketAt     int64   `json:"last_packet_at"`
}

// IngestResult is the response to one telemetry batch.
type IngestResult struct {
	Scores       []telemetry.ScorePacket `json:"scores"`
	ProcessedMs  float64                 `json:"processed_ms"`
	DroppedCount int                     `json:"dropped_count"`
}

// StatusSummary is the liveness view of one session.
type StatusSummary struct {
	SessionID           string                  `json:"session_id"`
	SubjectID           string                  `json:"subject_id"`
	Status              telemetry.SessionStatus `json:"status"`
	UptimeMs            int64                   `json:"uptime_ms"`
	BaselineEstablished bool                    `json:"baseline_established"`
	Situation           telemetry.Situation     `json:"situation"`
	Stats               Stats                   `json:"stats"`
	LatestScore         *telemetry.ScorePacket  `json:"latest_score,omitempty"`
}

// EndSummary is the final rollup archived when a session ends.
type EndSummary struct {
	SessionID        string                   `json:"session_id"`
	SubjectID        string                   `json:"subject_id"`
	Domain           telemetry.ActivityDomain `json:"activity_domain"`
	Status           telemetry.SessionStatus  `json:"status"`
	StartTime        int64                    `json:"start_time"`
	EndTime          int64                    `json:"end_time"`
	DurationMs       int64                    `json:"duration_ms"`
	PacketsProcessed uint64                   `json:"packets_processed"`
	AvgLatencyMs     float64                  `json:"avg_latency_ms"`
	MeanComposite    float64                  `json:"mean_composite"`
}

// StateStore is the durable per-session key/value store. Strongly
// consistent; each snapshot is owned by exactly one actor at a time.
type StateStore interface {
	Save(ctx context.Context, snap *Snapshot) error
	Load(ctx context.Context, sessionID string) (*Snapshot, error)
	Delete(ctx context.Context, sessionID string) error
}

// ScoreCache is the low-latency shared cache holding only the latest
// score batch per session, with a short TTL. May be stale or absent.
type ScoreCache interface {
	PutLatest(ctx context.Context, sessionID string, scores []telemetry.ScorePacket) error
	GetLatest(ctx context.Context, sessionID string) ([]telemetry.ScorePacket, bool, error)
	Invalidate(ctx context.Context, sessionID string) error
}

// AnalyticsSink receives score batches and game events asynchronously.
// Implementations must never block the caller; failures are logged and
// counted, never surfaced to ingestion.
type AnalyticsSink interface {
	EnqueueScores(sessionID string, scores []telemetry.ScorePacket)
	EnqueueEvent(event telemetry.GameEvent)
}

// Archiver writes the final session summary blob. Write-once.
type Archiver interface {
	ArchiveSummary(ctx context.Context, summary *EndSummary) error
}

// Broadcaster pushes new scores to live subscribers of a session.
type Broadcaster interface {
	BroadcastScores(sessionID string, scores []telemetry.ScorePacket)
	CloseSession(sessionID string)
}

// Deps bundles the persistence and fan-out collaborators an actor uses.
// Any nil member disables that path.
type Deps struct {
	Store       StateStore
	Cache       ScoreCache
	Analytics   AnalyticsSink
	Archiver    Archiver
	Broadcaster Broadcaster
}
