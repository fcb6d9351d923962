package session

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "grit-server/pkg/errors"
	"grit-server/pkg/telemetry"
)

func newTestManager(deps Deps) *Manager {
	return NewManager(deps, testOptions(), testLogger())
}

func TestStartSessionValidation(t *testing.T) {
	m := newTestManager(Deps{})

	err := m.StartSession(context.Background(), telemetry.SessionDescriptor{})
	assert.Error(t, err, "missing session_id must be rejected")

	err = m.StartSession(context.Background(), telemetry.SessionDescriptor{
		SessionID: "sess-1",
		Domain:    "cricket",
	})
	assert.Error(t, err, "unknown activity domain must be rejected")
	assert.Equal(t, 0, m.ActiveSessions())
}

func TestStartSessionDuplicate(t *testing.T) {
	m := newTestManager(Deps{})

	require.NoError(t, m.StartSession(context.Background(), testDescriptor("sess-1")))
	err := m.StartSession(context.Background(), testDescriptor("sess-1"))
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrSessionAlreadyExist))
	assert.Equal(t, 1, m.ActiveSessions())
}

func TestStartSessionStoreFailureRollsBack(t *testing.T) {
	store := newFakeStore()
	store.failSave = true
	m := newTestManager(Deps{Store: store})

	err := m.StartSession(context.Background(), testDescriptor("sess-1"))
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrStorageFailure))
	assert.Equal(t, 0, m.ActiveSessions())

	// Once the store recovers the same id is usable again.
	store.failSave = false
	require.NoError(t, m.StartSession(context.Background(), testDescriptor("sess-1")))
	assert.Equal(t, 1, m.ActiveSessions())
}

func TestRouteToUnknownSession(t *testing.T) {
	m := newTestManager(Deps{})

	_, err := m.Ingest(context.Background(), "nope", nil)
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrSessionNotFound))

	_, err = m.Status("nope")
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrSessionNotFound))

	_, err = m.Scores("nope", 10, 0)
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrSessionNotFound))

	err = m.UpdateSituation(context.Background(), "nope", telemetry.NeutralSituation())
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrSessionNotFound))

	_, err = m.EndSession(context.Background(), "nope")
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrSessionNotFound))
}

func TestSessionIsolation(t *testing.T) {
	m := newTestManager(Deps{})
	require.NoError(t, m.StartSession(context.Background(), testDescriptor("sess-a")))
	require.NoError(t, m.StartSession(context.Background(), testDescriptor("sess-b")))

	var wg sync.WaitGroup
	ingest := func(id string, count int) {
		defer wg.Done()
		for i := 0; i < count; i++ {
			_, err := m.Ingest(context.Background(), id, []*telemetry.FeaturePacket{
				testPacket(id, int64(1000+i)),
			})
			assert.NoError(t, err)
		}
	}
	wg.Add(2)
	go ingest("sess-a", 40)
	go ingest("sess-b", 25)
	wg.Wait()

	statusA, err := m.Status("sess-a")
	require.NoError(t, err)
	statusB, err := m.Status("sess-b")
	require.NoError(t, err)

	assert.Equal(t, uint64(40), statusA.Stats.PacketsProcessed)
	assert.Equal(t, uint64(25), statusB.Stats.PacketsProcessed)

	// Ending one session leaves the other untouched.
	_, err = m.EndSession(context.Background(), "sess-a")
	require.NoError(t, err)
	assert.Equal(t, 1, m.ActiveSessions())
	_, err = m.Status("sess-b")
	assert.NoError(t, err)
}

func TestEndSessionRemovesActor(t *testing.T) {
	archiver := &fakeArchiver{}
	m := newTestManager(Deps{Archiver: archiver})
	require.NoError(t, m.StartSession(context.Background(), testDescriptor("sess-1")))

	summary, err := m.EndSession(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, telemetry.StatusCompleted, summary.Status)
	assert.Equal(t, 0, m.ActiveSessions())
	assert.Len(t, archiver.summaries, 1)

	// Repeating the end is a client error and archives nothing more.
	_, err = m.EndSession(context.Background(), "sess-1")
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrSessionNotFound))
	assert.Len(t, archiver.summaries, 1)
}

func TestRestoreSession(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(Deps{Store: store})
	require.NoError(t, m.StartSession(context.Background(), testDescriptor("sess-1")))
	_, err := m.Ingest(context.Background(), "sess-1", []*telemetry.FeaturePacket{
		testPacket("sess-1", 1000),
		testPacket("sess-1", 1001),
	})
	require.NoError(t, err)

	snap, err := store.Load(context.Background(), "sess-1")
	require.NoError(t, err)
	require.NotNil(t, snap)

	// A second manager picks up the snapshot, as after a restart.
	m2 := newTestManager(Deps{Store: store})
	require.NoError(t, m2.RestoreSession(snap))
	assert.Equal(t, 1, m2.ActiveSessions())

	status, err := m2.Status("sess-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), status.Stats.PacketsProcessed)

	// Restoring over a live session is rejected.
	err = m2.RestoreSession(snap)
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrSessionAlreadyExist))
}

func TestRecordEventForwarded(t *testing.T) {
	analytics := newFakeAnalytics()
	m := newTestManager(Deps{Analytics: analytics})
	require.NoError(t, m.StartSession(context.Background(), testDescriptor("sess-1")))

	err := m.RecordEvent("sess-1", telemetry.GameEvent{Type: "pitch", Outcome: "strike"})
	require.NoError(t, err)

	require.Len(t, analytics.events, 1)
	assert.Equal(t, "sess-1", analytics.events[0].SessionID)
	assert.NotZero(t, analytics.events[0].Timestamp)
}

func TestRepeatedStoreFailureEndsSessionInError(t *testing.T) {
	store := newFakeStore()
	archiver := &fakeArchiver{}
	m := newTestManager(Deps{Store: store, Archiver: archiver})
	require.NoError(t, m.StartSession(context.Background(), testDescriptor("sess-1")))

	store.failSave = true
	for i := 0; i < maxStoreFailures; i++ {
		result, err := m.Ingest(context.Background(), "sess-1", []*telemetry.FeaturePacket{
			testPacket("sess-1", int64(1000+i)),
		})
		require.NoError(t, err)
		require.Len(t, result.Scores, 1)
	}

	// The final consecutive failure moves the session to the error
	// terminal state and removes it from the registry.
	assert.Equal(t, 0, m.ActiveSessions())
	_, err := m.Status("sess-1")
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrSessionNotFound))
	require.Len(t, archiver.summaries, 1)
	assert.Equal(t, telemetry.StatusError, archiver.summaries[0].Status)
}

func TestAbortSessionEndsWithErrorStatus(t *testing.T) {
	archiver := &fakeArchiver{}
	m := newTestManager(Deps{Archiver: archiver})
	require.NoError(t, m.StartSession(context.Background(), testDescriptor("sess-1")))

	summary, err := m.AbortSession(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, telemetry.StatusError, summary.Status)
	assert.Equal(t, 0, m.ActiveSessions())
	require.Len(t, archiver.summaries, 1)
}
