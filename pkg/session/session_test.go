package session

import (
	"context"
	"sync"

	"grit-server/pkg/telemetry"
)

// In-memory fakes for the persistence and fan-out collaborators.

type fakeStore struct {
	mu        sync.Mutex
	snaps     map[string]*Snapshot
	saveCalls int
	failSave  bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{snaps: make(map[string]*Snapshot)}
}

func (f *fakeStore) Save(_ context.Context, snap *Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saveCalls++
	if f.failSave {
		return errFakeStore
	}
	f.snaps[snap.Descriptor.SessionID] = snap
	return nil
}

func (f *fakeStore) Load(_ context.Context, sessionID string) (*Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snaps[sessionID], nil
}

func (f *fakeStore) Delete(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.snaps, sessionID)
	return nil
}

type fakeCache struct {
	mu      sync.Mutex
	entries map[string][]telemetry.ScorePacket
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string][]telemetry.ScorePacket)}
}

func (f *fakeCache) PutLatest(_ context.Context, sessionID string, scores []telemetry.ScorePacket) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[sessionID] = scores
	return nil
}

func (f *fakeCache) GetLatest(_ context.Context, sessionID string) ([]telemetry.ScorePacket, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	scores, ok := f.entries[sessionID]
	return scores, ok, nil
}

func (f *fakeCache) Invalidate(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, sessionID)
	return nil
}

type fakeAnalytics struct {
	mu     sync.Mutex
	scores map[string]int
	events []telemetry.GameEvent
}

func newFakeAnalytics() *fakeAnalytics {
	return &fakeAnalytics{scores: make(map[string]int)}
}

func (f *fakeAnalytics) EnqueueScores(sessionID string, scores []telemetry.ScorePacket) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scores[sessionID] += len(scores)
}

func (f *fakeAnalytics) EnqueueEvent(event telemetry.GameEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

type fakeArchiver struct {
	mu        sync.Mutex
	summaries []*EndSummary
}

func (f *fakeArchiver) ArchiveSummary(_ context.Context, summary *EndSummary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries = append(f.summaries, summary)
	return nil
}

type fakeBroadcaster struct {
	mu        sync.Mutex
	delivered map[string]int
	closed    []string
}

func newFakeBroadcaster() *fakeBroadcaster {
	return &fakeBroadcaster{delivered: make(map[string]int)}
}

func (f *fakeBroadcaster) BroadcastScores(sessionID string, scores []telemetry.ScorePacket) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered[sessionID] += len(scores)
}

func (f *fakeBroadcaster) CloseSession(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, sessionID)
}

var errFakeStore = errSaveFailed{}

type errSaveFailed struct{}

func (errSaveFailed) Error() string { return "simulated store failure" }

// testPacket builds a well-formed packet with both signal blocks.
func testPacket(sessionID string, ts int64) *telemetry.FeaturePacket {
	return &telemetry.FeaturePacket{
		SessionID: sessionID,
		Timestamp: ts,
		Facial: &telemetry.FacialBlock{
			EyeAperture: 0.8,
			ActionUnits: telemetry.ActionUnits{
				BrowFurrow:   0.20,
				LidTighten:   0.15,
				LipPress:     0.10,
				NostrilFlare: 0.10,
				JawClench:    0.25,
			},
			Quality: telemetry.QualityConfidence{Confidence: 0.95, Tracking: true},
		},
		Biomech: &telemetry.BiomechBlock{
			Angles: telemetry.JointAngles{
				ArmSlot:           85,
				StrideLength:      78,
				HipShoulderSep:    40,
				SpineTilt:         30,
				LeadKneeFlex:      45,
				ShoulderAbduction: 90,
			},
			Balance:     0.9,
			Consistency: 0.9,
			Quality:     telemetry.QualityConfidence{Confidence: 0.9, Tracking: true},
		},
		Device: telemetry.DeviceMeta{FrameRate: 60},
	}
}

func testDescriptor(sessionID string) telemetry.SessionDescriptor {
	return telemetry.SessionDescriptor{
		SessionID: sessionID,
		SubjectID: "athlete-1",
		Domain:    telemetry.DomainBaseball,
	}
}

func testOptions() Options {
	return Options{
		PacketHistorySize: 1000,
		ScoreHistorySize:  300,
	}
}
