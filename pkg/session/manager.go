package session

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"grit-server/pkg/errors"
	"grit-server/pkg/metrics"
	"grit-server/pkg/telemetry"
)

// Manager routes every operation for a session id to that session's one
// actor. The registry is the ownership scheme: a session id maps to at
// most one actor at any instant, and all mutation goes through it.
type Manager struct {
	mu     sync.RWMutex
	actors map[string]*Actor

	deps   Deps
	opts   Options
	logger *logrus.Logger
}

// NewManager creates an empty session registry.
func NewManager(deps Deps, opts Options, logger *logrus.Logger) *Manager {
	return &Manager{
		actors: make(map[string]*Actor),
		deps:   deps,
		opts:   opts,
		logger: logger,
	}
}

// StartSession creates and registers the actor for a new session.
// Rejects a session id that is already active.
func (m *Manager) StartSession(ctx context.Context, desc telemetry.SessionDescriptor) error {
	if desc.SessionID == "" {
		return errors.NewInvalidInput("session_id is required")
	}
	if !desc.Domain.Valid() {
		return errors.NewInvalidInput("unknown activity domain").
			WithField("activity_domain", string(desc.Domain))
	}

	m.mu.Lock()
	if _, exists := m.actors[desc.SessionID]; exists {
		m.mu.Unlock()
		return errors.NewSessionExists(desc.SessionID)
	}
	actor := newActor(desc, m.deps, m.opts, m.logger, m.expireSession)
	m.actors[desc.SessionID] = actor
	m.mu.Unlock()

	// Initial durable snapshot. A failure here is fatal for start:
	// an unpersistable session must not accept telemetry.
	if m.deps.Store != nil {
		actor.mu.Lock()
		snap := actor.snapshotLocked()
		actor.mu.Unlock()
		if err := m.deps.Store.Save(ctx, snap); err != nil {
			m.mu.Lock()
			delete(m.actors, desc.SessionID)
			m.mu.Unlock()
			if actor.lifetime != nil {
				actor.lifetime.Stop()
			}
			return errors.Wrap(errors.ErrStorageFailure, "failed to persist new session").
				WithField("session_id", desc.SessionID)
		}
	}

	metrics.RecordSessionStarted()
	m.logger.WithFields(logrus.Fields{
		"session_id": desc.SessionID,
		"subject_id": desc.SubjectID,
		"domain":     desc.Domain,
	}).Info("Session started")

	return nil
}

// RestoreSession reactivates a session from a durable snapshot found at
// startup. A live actor with the same id wins; the snapshot is skipped.
func (m *Manager) RestoreSession(snap *Snapshot) error {
	if snap == nil || snap.Descriptor.SessionID == "" {
		return errors.NewInvalidInput("snapshot missing session_id")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.actors[snap.Descriptor.SessionID]; exists {
		return errors.NewSessionExists(snap.Descriptor.SessionID)
	}
	m.actors[snap.Descriptor.SessionID] = restoreActor(snap, m.deps, m.opts, m.logger, m.expireSession)
	metrics.RecordSessionRestored()

	m.logger.WithFields(logrus.Fields{
		"session_id": snap.Descriptor.SessionID,
		"packets":    snap.Stats.PacketsProcessed,
	}).Info("Session restored from durable state")
	return nil
}

// Ingest routes a telemetry batch to the owning actor. A session that
// entered the error terminal state during the batch is ended with that
// status; the computed scores are still returned.
func (m *Manager) Ingest(ctx context.Context, sessionID string, packets []*telemetry.FeaturePacket) (*IngestResult, error) {
	actor, err := m.actor(sessionID)
	if err != nil {
		return nil, err
	}
	result, err := actor.Ingest(ctx, packets)
	if err != nil {
		return nil, err
	}
	if actor.Failed() {
		if _, endErr := m.endSession(ctx, sessionID, telemetry.StatusError); endErr != nil {
			m.logger.WithError(endErr).WithField("session_id", sessionID).
				Debug("Failed session already removed")
		}
	}
	return result, nil
}

// UpdateSituation routes a situational-context update to the owning actor.
func (m *Manager) UpdateSituation(ctx context.Context, sessionID string, sit telemetry.Situation) error {
	actor, err := m.actor(sessionID)
	if err != nil {
		return err
	}
	return actor.UpdateSituation(ctx, sit)
}

// RecordEvent routes a game event to the owning actor.
func (m *Manager) RecordEvent(sessionID string, event telemetry.GameEvent) error {
	actor, err := m.actor(sessionID)
	if err != nil {
		return err
	}
	event.SessionID = sessionID
	return actor.RecordEvent(event)
}

// Scores returns a page of score history, most recent first.
func (m *Manager) Scores(sessionID string, limit, offset int) ([]telemetry.ScorePacket, error) {
	actor, err := m.actor(sessionID)
	if err != nil {
		return nil, err
	}
	return actor.Scores(limit, offset), nil
}

// Status returns the liveness summary for a session.
func (m *Manager) Status(sessionID string) (*StatusSummary, error) {
	actor, err := m.actor(sessionID)
	if err != nil {
		return nil, err
	}
	return actor.Status(), nil
}

// EndSession ends a session normally and removes its actor. Ending an
// unknown or already-ended session is a client error, never a crash.
func (m *Manager) EndSession(ctx context.Context, sessionID string) (*EndSummary, error) {
	return m.endSession(ctx, sessionID, telemetry.StatusCompleted)
}

// AbortSession ends a session in the error terminal state, distinct
// from normal completion. Used when a session hits an unrecoverable
// failure.
func (m *Manager) AbortSession(ctx context.Context, sessionID string) (*EndSummary, error) {
	return m.endSession(ctx, sessionID, telemetry.StatusError)
}

// ActiveSessions returns the number of registered actors.
func (m *Manager) ActiveSessions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.actors)
}

// Shutdown stops lifetime timers without ending sessions; durable
// snapshots survive for reactivation.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, actor := range m.actors {
		if actor.lifetime != nil {
			actor.lifetime.Stop()
		}
	}
}

func (m *Manager) endSession(ctx context.Context, sessionID string, status telemetry.SessionStatus) (*EndSummary, error) {
	m.mu.Lock()
	actor, exists := m.actors[sessionID]
	if exists {
		delete(m.actors, sessionID)
	}
	m.mu.Unlock()

	if !exists {
		return nil, errors.NewSessionNotFound(sessionID)
	}

	summary, err := actor.End(ctx, status)
	if err != nil {
		return nil, err
	}

	metrics.RecordSessionEnded(string(status))
	return summary, nil
}

// expireSession is the lifetime-timer callback for orphaned sessions.
func (m *Manager) expireSession(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := m.endSession(ctx, sessionID, telemetry.StatusTerminated); err != nil {
		m.logger.WithError(err).WithField("session_id", sessionID).
			Debug("Safety-net expiry found no live session")
	}
}

func (m *Manager) actor(sessionID string) (*Actor, error) {
	m.mu.RLock()
	actor, exists := m.actors[sessionID]
	m.mu.RUnlock()
	if !exists {
		return nil, errors.NewSessionNotFound(sessionID)
	}
	return actor, nil
}

// errSessionGone is returned by actor operations after End.
func errSessionGone(sessionID string) error {
	return errors.NewSessionEnded(sessionID)
}
