package session

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"grit-server/pkg/metrics"
	"grit-server/pkg/scoring"
	"grit-server/pkg/telemetry"
)

// maxStoreFailures is the number of consecutive durable-write failures
// after which a session is considered unrecoverable and transitions to
// the error terminal state.
const maxStoreFailures = 3

// Options tune one actor's buffers and lifecycle.
type Options struct {
	PacketHistorySize int
	ScoreHistorySize  int
	MaxSessionAge     time.Duration
	EmpiricalBaseline bool
}

// Actor is the exclusive owner of one session's mutable state. Every
// operation acquires the actor mutex, so all mutation of a session's
// baseline, history, and context is strictly serialized. Different
// sessions have independent actors and no shared locks.
type Actor struct {
	mu sync.Mutex

	logger *logrus.Logger
	deps   Deps
	opts   Options

	descriptor telemetry.SessionDescriptor
	status     telemetry.SessionStatus
	startTime  time.Time

	baseline  *scoring.Baseline
	situation telemetry.Situation

	packets     *packetRing
	scores      *scoreRing
	early       []float64
	packetsSeen int

	compositeSum   float64
	compositeCount uint64

	stats         Stats
	storeFailures int
	ended         bool

	lifetime *time.Timer
}

// newActor initializes actor state for a fresh session. The caller
// (manager) persists the initial snapshot and owns registry membership.
func newActor(desc telemetry.SessionDescriptor, deps Deps, opts Options, logger *logrus.Logger, onExpire func(sessionID string)) *Actor {
	a := &Actor{
		logger:     logger,
		deps:       deps,
		opts:       opts,
		descriptor: desc,
		status:     telemetry.StatusActive,
		startTime:  time.Now(),
		situation:  telemetry.NeutralSituation(),
		packets:    newPacketRing(opts.PacketHistorySize),
		scores:     newScoreRing(opts.ScoreHistorySize),
	}

	// Safety net against orphaned sessions.
	if opts.MaxSessionAge > 0 && onExpire != nil {
		id := desc.SessionID
		a.lifetime = time.AfterFunc(opts.MaxSessionAge, func() {
			logger.WithField("session_id", id).Warn("Session exceeded maximum lifetime, terminating")
			onExpire(id)
		})
	}

	return a
}

// restoreActor rebuilds an actor from a durable snapshot.
func restoreActor(snap *Snapshot, deps Deps, opts Options, logger *logrus.Logger, onExpire func(sessionID string)) *Actor {
	a := newActor(snap.Descriptor, deps, opts, logger, onExpire)
	a.status = snap.Status
	a.startTime = time.UnixMilli(snap.StartTime)
	a.baseline = snap.Baseline
	a.situation = snap.Situation
	a.early = append([]float64(nil), snap.Early...)
	a.stats = snap.Stats
	// Only processed packets count toward the warm-up window; drops
	// never advance it on the live path either.
	a.packetsSeen = int(snap.Stats.PacketsProcessed)
	for i := range snap.Scores {
		a.scores.push(snap.Scores[i])
		a.compositeSum += snap.Scores[i].Composite
		a.compositeCount++
	}
	return a
}

// Ingest processes one batch of feature packets: baseline bookkeeping,
// fusion, history append, durable write, cache refresh, async fan-out.
// Packets for other sessions are silently dropped.
func (a *Actor) Ingest(ctx context.Context, packets []*telemetry.FeaturePacket) (*IngestResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.ended {
		return nil, errSessionGone(a.descriptor.SessionID)
	}

	start := time.Now()
	result := &IngestResult{Scores: make([]telemetry.ScorePacket, 0, len(packets))}

	for _, pkt := range packets {
		if pkt == nil || pkt.SessionID != a.descriptor.SessionID {
			a.stats.PacketsDropped++
			result.DroppedCount++
			metrics.RecordPacketDropped(a.descriptor.SessionID, "cross_session")
			continue
		}

		score, ok := a.processPacket(pkt)
		if !ok {
			continue
		}
		result.Scores = append(result.Scores, score)
	}

	// Durable write is synchronous and best-effort: a failure is
	// counted and logged but the computed scores are still returned.
	if a.deps.Store != nil {
		if err := a.deps.Store.Save(ctx, a.snapshotLocked()); err != nil {
			a.stats.ErrorCount++
			a.storeFailures++
			metrics.RecordStoreWrite("error")
			a.logger.WithError(err).WithField("session_id", a.descriptor.SessionID).
				Error("Failed to persist session state")
			if a.storeFailures >= maxStoreFailures && a.status == telemetry.StatusActive {
				a.status = telemetry.StatusError
				a.logger.WithFields(logrus.Fields{
					"session_id": a.descriptor.SessionID,
					"failures":   a.storeFailures,
				}).Error("Session entering error state after repeated persistence failures")
			}
		} else {
			a.storeFailures = 0
			metrics.RecordStoreWrite("ok")
		}
	}

	if len(result.Scores) > 0 {
		if a.deps.Cache != nil {
			if err := a.deps.Cache.PutLatest(ctx, a.descriptor.SessionID, result.Scores); err != nil {
				a.logger.WithError(err).WithField("session_id", a.descriptor.SessionID).
					Warn("Failed to update hot cache")
			}
		}
		if a.deps.Analytics != nil {
			a.deps.Analytics.EnqueueScores(a.descriptor.SessionID, result.Scores)
		}
		if a.deps.Broadcaster != nil {
			a.deps.Broadcaster.BroadcastScores(a.descriptor.SessionID, result.Scores)
		}
	}

	result.ProcessedMs = float64(time.Since(start).Microseconds()) / 1000.0
	return result, nil
}

// processPacket runs fusion for one packet under the actor lock. A
// panic while scoring skips the packet and increments the error count;
// the batch continues.
func (a *Actor) processPacket(pkt *telemetry.FeaturePacket) (score telemetry.ScorePacket, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			a.stats.ErrorCount++
			metrics.RecordProcessingError(a.descriptor.SessionID)
			a.logger.WithFields(logrus.Fields{
				"session_id": a.descriptor.SessionID,
				"recover":    r,
			}).Error("Recovered from panic while scoring packet")
			ok = false
		}
	}()

	a.packets.push(pkt)
	a.packetsSeen++

	// Baseline establishment: exactly once, never before the warm-up
	// window is full, regardless of batch sizing.
	if a.baseline == nil && a.packetsSeen >= scoring.WarmupPackets {
		if a.opts.EmpiricalBaseline {
			a.baseline = scoring.EmpiricalBaseline(a.packets.items(), pkt.Timestamp)
		} else {
			a.baseline = scoring.ReferenceBaseline(pkt.Timestamp)
		}
		a.logger.WithFields(logrus.Fields{
			"session_id": a.descriptor.SessionID,
			"empirical":  a.baseline.Empirical,
			"samples":    a.packetsSeen,
		}).Info("Baseline established")
	}

	fusionStart := time.Now()
	score = scoring.Compute(pkt, a.baseline, a.situation, scoring.HistoryWindow{
		Recent: a.scores.composites(),
		Early:  a.early,
	})
	fusionDur := time.Since(fusionStart)
	metrics.RecordFusionLatency(a.descriptor.SessionID, fusionDur)

	a.scores.push(score)
	if len(a.early) < 10 {
		a.early = append(a.early, score.Composite)
	}
	a.compositeSum += score.Composite
	a.compositeCount++

	a.stats.PacketsProcessed++
	a.stats.FusionCount++
	a.stats.LastPacketAt = pkt.Timestamp
	latencyMs := float64(fusionDur.Microseconds()) / 1000.0
	n := float64(a.stats.PacketsProcessed)
	a.stats.AvgLatencyMs += (latencyMs - a.stats.AvgLatencyMs) / n
	metrics.RecordPacketProcessed(a.descriptor.SessionID)

	return score, true
}

// UpdateSituation replaces the current situational context. History is
// not rescored.
func (a *Actor) UpdateSituation(ctx context.Context, sit telemetry.Situation) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.ended {
		return errSessionGone(a.descriptor.SessionID)
	}

	a.situation = sit

	if a.deps.Store != nil {
		if err := a.deps.Store.Save(ctx, a.snapshotLocked()); err != nil {
			a.stats.ErrorCount++
			a.logger.WithError(err).Warn("Failed to persist situation update")
		}
	}
	if a.deps.Analytics != nil {
		a.deps.Analytics.EnqueueEvent(telemetry.GameEvent{
			SessionID: a.descriptor.SessionID,
			Type:      "situation_change",
			Timestamp: time.Now().UnixMilli(),
			Metadata: map[string]interface{}{
				"inning":     sit.Inning,
				"outs":       sit.Outs,
				"base_state": string(sit.BaseState),
				"score_diff": sit.ScoreDiff,
			},
		})
	}
	return nil
}

// RecordEvent forwards a caller-reported game event to analytics.
func (a *Actor) RecordEvent(event telemetry.GameEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.ended {
		return errSessionGone(a.descriptor.SessionID)
	}
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	if a.deps.Analytics != nil {
		a.deps.Analytics.EnqueueEvent(event)
	}
	return nil
}

// Failed reports whether the session has entered the error terminal
// state.
func (a *Actor) Failed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status == telemetry.StatusError
}

// Scores returns a page of score history, most recent first.
func (a *Actor) Scores(limit, offset int) []telemetry.ScorePacket {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.scores.pageMostRecentFirst(limit, offset)
}

// Status returns the session's liveness summary.
func (a *Actor) Status() *StatusSummary {
	a.mu.Lock()
	defer a.mu.Unlock()

	summary := &StatusSummary{
		SessionID:           a.descriptor.SessionID,
		SubjectID:           a.descriptor.SubjectID,
		Status:              a.status,
		UptimeMs:            time.Since(a.startTime).Milliseconds(),
		BaselineEstablished: a.baseline != nil,
		Situation:           a.situation,
		Stats:               a.stats,
	}
	if latest, ok := a.scores.latest(); ok {
		summary.LatestScore = &latest
	}
	return summary
}

// End computes the final rollup, archives it, releases per-session
// state, and cancels the lifetime timer. Returns a client error when
// the session has already ended.
func (a *Actor) End(ctx context.Context, status telemetry.SessionStatus) (*EndSummary, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.ended {
		return nil, errSessionGone(a.descriptor.SessionID)
	}
	a.ended = true
	a.status = status

	if a.lifetime != nil {
		a.lifetime.Stop()
	}

	now := time.Now()
	summary := &EndSummary{
		SessionID:        a.descriptor.SessionID,
		SubjectID:        a.descriptor.SubjectID,
		Domain:           a.descriptor.Domain,
		Status:           status,
		StartTime:        a.startTime.UnixMilli(),
		EndTime:          now.UnixMilli(),
		DurationMs:       now.Sub(a.startTime).Milliseconds(),
		PacketsProcessed: a.stats.PacketsProcessed,
		AvgLatencyMs:     a.stats.AvgLatencyMs,
	}
	if a.compositeCount > 0 {
		summary.MeanComposite = a.compositeSum / float64(a.compositeCount)
	}

	if a.deps.Archiver != nil {
		if err := a.deps.Archiver.ArchiveSummary(ctx, summary); err != nil {
			metrics.RecordArchiveWrite("error")
			a.logger.WithError(err).WithField("session_id", a.descriptor.SessionID).
				Error("Failed to archive session summary")
		} else {
			metrics.RecordArchiveWrite("ok")
		}
	}
	if a.deps.Cache != nil {
		if err := a.deps.Cache.Invalidate(ctx, a.descriptor.SessionID); err != nil {
			a.logger.WithError(err).Warn("Failed to invalidate hot cache")
		}
	}
	if a.deps.Store != nil {
		if err := a.deps.Store.Delete(ctx, a.descriptor.SessionID); err != nil {
			a.logger.WithError(err).Warn("Failed to delete durable session state")
		}
	}
	if a.deps.Broadcaster != nil {
		a.deps.Broadcaster.CloseSession(a.descriptor.SessionID)
	}

	a.logger.WithFields(logrus.Fields{
		"session_id": a.descriptor.SessionID,
		"status":     status,
		"packets":    summary.PacketsProcessed,
		"duration":   now.Sub(a.startTime),
	}).Info("Session ended")

	return summary, nil
}

// snapshotLocked builds the durable snapshot. Caller holds the mutex.
func (a *Actor) snapshotLocked() *Snapshot {
	return &Snapshot{
		Descriptor: a.descriptor,
		Status:     a.status,
		StartTime:  a.startTime.UnixMilli(),
		Baseline:   a.baseline,
		Situation:  a.situation,
		Scores:     a.scores.all(),
		Early:      append([]float64(nil), a.early...),
		Stats:      a.stats,
	}
}
