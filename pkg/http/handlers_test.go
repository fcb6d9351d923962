package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grit-server/pkg/auth"
	"grit-server/pkg/config"
	"grit-server/pkg/session"
	"grit-server/pkg/telemetry"
)

type memCache struct {
	entries map[string][]telemetry.ScorePacket
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string][]telemetry.ScorePacket)}
}

func (c *memCache) PutLatest(_ context.Context, sessionID string, scores []telemetry.ScorePacket) error {
	c.entries[sessionID] = scores
	return nil
}

func (c *memCache) GetLatest(_ context.Context, sessionID string) ([]telemetry.ScorePacket, bool, error) {
	scores, ok := c.entries[sessionID]
	return scores, ok, nil
}

func (c *memCache) Invalidate(_ context.Context, sessionID string) error {
	delete(c.entries, sessionID)
	return nil
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type testGateway struct {
	server *Server
	cache  *memCache
	secret string
	issuer string
}

func newTestGateway(t *testing.T, devBypass bool) *testGateway {
	t.Helper()
	logger := testLogger()

	cache := newMemCache()
	manager := session.NewManager(session.Deps{Cache: cache}, session.Options{
		PacketHistorySize: 1000,
		ScoreHistorySize:  300,
	}, logger)

	authCfg := config.AuthConfig{JWTSecret: "test-secret", Issuer: "grit-server", DevBypass: devBypass}
	verifier := auth.NewVerifier(authCfg, logger)
	hub := NewScoreHub(logger)

	server := NewServer(config.HTTPConfig{Port: 0}, manager, cache, hub, verifier, logger)
	return &testGateway{server: server, cache: cache, secret: "test-secret", issuer: "grit-server"}
}

func (g *testGateway) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	g.server.Handler().ServeHTTP(rec, req)
	return rec
}

func startBody(sessionID string) map[string]interface{} {
	return map[string]interface{}{
		"session_id":      sessionID,
		"subject_id":      "athlete-1",
		"activity_domain": "baseball",
	}
}

func packetBody(sessionID string, n int) map[string]interface{} {
	packets := make([]interface{}, 0, n)
	for i := 0; i < n; i++ {
		packets = append(packets, map[string]interface{}{
			"session_id": sessionID,
			"timestamp":  1000 + i,
			"facial": map[string]interface{}{
				"eye_aperture": 0.8,
				"action_units": map[string]interface{}{
					"brow_furrow": 0.2, "lid_tighten": 0.15, "lip_press": 0.1,
					"nostril_flare": 0.1, "jaw_clench": 0.25,
				},
				"quality": map[string]interface{}{"confidence": 0.95, "tracking": true},
			},
		})
	}
	return map[string]interface{}{"session_id": sessionID, "packets": packets}
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	g := newTestGateway(t, true)

	rec := g.do(t, http.MethodPost, "/api/session/start", startBody("sess-1"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = g.do(t, http.MethodPost, "/api/session/telemetry", packetBody("sess-1", 3))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var ingest struct {
		Scores           []telemetry.ScorePacket `json:"scores"`
		GatewayLatencyMs float64                 `json:"gateway_latency_ms"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ingest))
	assert.Len(t, ingest.Scores, 3)
	assert.Greater(t, ingest.GatewayLatencyMs, 0.0)

	rec = g.do(t, http.MethodGet, "/api/session/status?session_id=sess-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status session.StatusSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, uint64(3), status.Stats.PacketsProcessed)

	rec = g.do(t, http.MethodDelete, "/api/session?session_id=sess-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// The session is gone afterwards.
	rec = g.do(t, http.MethodGet, "/api/session/status?session_id=sess-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStartSessionRejectsBadPayloads(t *testing.T) {
	g := newTestGateway(t, true)

	cases := []map[string]interface{}{
		{"subject_id": "athlete-1", "activity_domain": "baseball"},           // missing session_id
		{"session_id": "s", "subject_id": "a", "activity_domain": "cricket"}, // unknown domain
		{"session_id": "s", "subject_id": "a", "activity_domain": "baseball", "extra": true},
	}
	for i, body := range cases {
		rec := g.do(t, http.MethodPost, "/api/session/start", body)
		assert.Equalf(t, http.StatusBadRequest, rec.Code, "case %d: %s", i, rec.Body.String())
	}
}

func TestValidationNamesOffendingFields(t *testing.T) {
	g := newTestGateway(t, true)

	rec := g.do(t, http.MethodPost, "/api/session/start", map[string]interface{}{
		"session_id":      "s",
		"subject_id":      "a",
		"activity_domain": "baseball",
		"bogus_field":     1,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "fields")
}

func TestDuplicateSessionConflicts(t *testing.T) {
	g := newTestGateway(t, true)

	rec := g.do(t, http.MethodPost, "/api/session/start", startBody("sess-1"))
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = g.do(t, http.MethodPost, "/api/session/start", startBody("sess-1"))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestTelemetryForUnknownSession(t *testing.T) {
	g := newTestGateway(t, true)
	rec := g.do(t, http.MethodPost, "/api/session/telemetry", packetBody("ghost", 1))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestScoresServedFromCacheFirst(t *testing.T) {
	g := newTestGateway(t, true)

	rec := g.do(t, http.MethodPost, "/api/session/start", startBody("sess-1"))
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = g.do(t, http.MethodPost, "/api/session/telemetry", packetBody("sess-1", 2))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = g.do(t, http.MethodGet, "/api/session/scores?session_id=sess-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Source string                  `json:"source"`
		Scores []telemetry.ScorePacket `json:"scores"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, "cache", page.Source)
	assert.Len(t, page.Scores, 2)

	// Paged reads bypass the cache and hit the session history.
	rec = g.do(t, http.MethodGet, "/api/session/scores?session_id=sess-1&offset=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, "session", page.Source)
}

func TestSituationUpdateOverHTTP(t *testing.T) {
	g := newTestGateway(t, true)

	rec := g.do(t, http.MethodPost, "/api/session/start", startBody("sess-1"))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = g.do(t, http.MethodPost, "/api/session/situation", map[string]interface{}{
		"session_id": "sess-1",
		"situation": map[string]interface{}{
			"inning": 9, "outs": 2, "base_state": "loaded", "score_diff": -1,
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Out-of-range outs is rejected before reaching the session.
	rec = g.do(t, http.MethodPost, "/api/session/situation", map[string]interface{}{
		"session_id": "sess-1",
		"situation": map[string]interface{}{
			"inning": 9, "outs": 3, "base_state": "loaded",
		},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthRequiredWithoutBypass(t *testing.T) {
	g := newTestGateway(t, false)

	rec := g.do(t, http.MethodPost, "/api/session/start", startBody("sess-1"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Health probes stay open.
	rec = g.do(t, http.MethodGet, "/health/live", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthAcceptsValidBearer(t *testing.T) {
	g := newTestGateway(t, false)
	logger := testLogger()
	verifier := auth.NewVerifier(config.AuthConfig{JWTSecret: g.secret, Issuer: g.issuer}, logger)
	token, err := verifier.IssueToken("coach-1", "athlete-1", []string{"sessions:write"}, time.Hour)
	require.NoError(t, err)

	body, _ := json.Marshal(startBody("sess-1"))
	req := httptest.NewRequest(http.MethodPost, "/api/session/start", bytes.NewReader(body))
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", token))
	rec := httptest.NewRecorder()
	g.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestCorrelationIDPropagated(t *testing.T) {
	g := newTestGateway(t, true)

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set("X-Correlation-ID", "abc-123")
	rec := httptest.NewRecorder()
	g.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Correlation-ID"))

	// A fresh id is minted when the client sends none.
	rec = g.do(t, http.MethodGet, "/health/live", nil)
	assert.NotEmpty(t, rec.Header().Get("X-Correlation-ID"))
}

func TestMethodNotAllowed(t *testing.T) {
	g := newTestGateway(t, true)
	rec := g.do(t, http.MethodGet, "/api/session/start", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestSystemHealthEndpoint(t *testing.T) {
	g := newTestGateway(t, true)
	rec := g.do(t, http.MethodGet, "/api/system/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestCachedScoresAreMostRecentFirst(t *testing.T) {
	g := newTestGateway(t, true)

	rec := g.do(t, http.MethodPost, "/api/session/start", startBody("sess-1"))
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = g.do(t, http.MethodPost, "/api/session/telemetry", packetBody("sess-1", 3))
	require.Equal(t, http.StatusOK, rec.Code)

	var page struct {
		Source string                  `json:"source"`
		Scores []telemetry.ScorePacket `json:"scores"`
	}

	// Cache hit and actor fallback must order the same page identically.
	rec = g.do(t, http.MethodGet, "/api/session/scores?session_id=sess-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Equal(t, "cache", page.Source)
	require.Len(t, page.Scores, 3)
	assert.Equal(t, int64(1002), page.Scores[0].Timestamp)
	assert.Equal(t, int64(1000), page.Scores[2].Timestamp)

	g.cache.Invalidate(context.Background(), "sess-1")
	rec = g.do(t, http.MethodGet, "/api/session/scores?session_id=sess-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Equal(t, "session", page.Source)
	require.Len(t, page.Scores, 3)
	assert.Equal(t, int64(1002), page.Scores[0].Timestamp)
}

func TestCachedScoresRespectLimit(t *testing.T) {
	g := newTestGateway(t, true)

	rec := g.do(t, http.MethodPost, "/api/session/start", startBody("sess-1"))
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = g.do(t, http.MethodPost, "/api/session/telemetry", packetBody("sess-1", 4))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = g.do(t, http.MethodGet, "/api/session/scores?session_id=sess-1&limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Source string                  `json:"source"`
		Scores []telemetry.ScorePacket `json:"scores"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Equal(t, "cache", page.Source)
	require.Len(t, page.Scores, 2)
	assert.Equal(t, int64(1003), page.Scores[0].Timestamp)
	assert.Equal(t, int64(1002), page.Scores[1].Timestamp)
}

func TestEndSessionAcceptsBodySessionID(t *testing.T) {
	g := newTestGateway(t, true)

	rec := g.do(t, http.MethodPost, "/api/session/start", startBody("sess-1"))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = g.do(t, http.MethodDelete, "/api/session", map[string]interface{}{"session_id": "sess-1"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = g.do(t, http.MethodGet, "/api/session/status?session_id=sess-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
