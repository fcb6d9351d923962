package http

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"grit-server/pkg/errors"
	"grit-server/pkg/metrics"
	"grit-server/pkg/telemetry"
)

const maxBodyBytes = 4 << 20

// startSessionRequest mirrors the start_session schema.
type startSessionRequest struct {
	SessionID      string                  `json:"session_id"`
	SubjectID      string                  `json:"subject_id"`
	ActivityDomain string                  `json:"activity_domain"`
	ConsentToken   string                  `json:"consent_token"`
	Capture        telemetry.CaptureConfig `json:"capture"`
}

type telemetryRequest struct {
	SessionID string                     `json:"session_id"`
	Packets   []*telemetry.FeaturePacket `json:"packets"`
}

type situationRequest struct {
	SessionID string              `json:"session_id"`
	Situation telemetry.Situation `json:"situation"`
}

type eventRequest struct {
	SessionID string              `json:"session_id"`
	Event     telemetry.GameEvent `json:"event"`
}

type endSessionRequest struct {
	SessionID string `json:"session_id"`
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req startSessionRequest
	if err := s.decodeValidated(r, compiledStartSchema, &req); err != nil {
		errors.WriteError(w, err)
		return
	}

	desc := telemetry.SessionDescriptor{
		SessionID:    req.SessionID,
		SubjectID:    req.SubjectID,
		Domain:       telemetry.ActivityDomain(req.ActivityDomain),
		ConsentToken: req.ConsentToken,
		Capture:      req.Capture,
	}
	if err := s.sessions.StartSession(r.Context(), desc); err != nil {
		s.writeFailure(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"session_id":         req.SessionID,
		"status":             telemetry.StatusActive,
		"gateway_latency_ms": elapsedMs(start),
	})
}

func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req telemetryRequest
	if err := s.decodeValidated(r, compiledTelemetrySchema, &req); err != nil {
		errors.WriteError(w, err)
		return
	}

	result, err := s.sessions.Ingest(r.Context(), req.SessionID, req.Packets)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id":         req.SessionID,
		"scores":             result.Scores,
		"dropped_count":      result.DroppedCount,
		"processed_ms":       result.ProcessedMs,
		"gateway_latency_ms": elapsedMs(start),
	})
}

func (s *Server) handleSituation(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req situationRequest
	if err := s.decodeValidated(r, compiledSituationSchema, &req); err != nil {
		errors.WriteError(w, err)
		return
	}

	if err := s.sessions.UpdateSituation(r.Context(), req.SessionID, req.Situation); err != nil {
		s.writeFailure(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id":         req.SessionID,
		"situation":          req.Situation,
		"gateway_latency_ms": elapsedMs(start),
	})
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req eventRequest
	if err := s.decodeValidated(r, compiledEventSchema, &req); err != nil {
		errors.WriteError(w, err)
		return
	}

	if err := s.sessions.RecordEvent(req.SessionID, req.Event); err != nil {
		s.writeFailure(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"session_id":         req.SessionID,
		"gateway_latency_ms": elapsedMs(start),
	})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	// The session id comes in the request body; a query parameter is
	// accepted as a fallback for clients that cannot send DELETE bodies.
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		var req endSessionRequest
		if body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes)); err == nil && len(body) > 0 {
			if err := json.Unmarshal(body, &req); err == nil {
				sessionID = req.SessionID
			}
		}
	}
	if sessionID == "" {
		errors.WriteError(w, errors.NewInvalidInput("session_id is required"))
		return
	}

	summary, err := s.sessions.EndSession(r.Context(), sessionID)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"summary":            summary,
		"gateway_latency_ms": elapsedMs(start),
	})
}

// handleScores is cache-first: a hot-cache hit for the first page skips
// the actor entirely. Anything else falls through to the actor's ring.
func (s *Server) handleScores(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		errors.WriteError(w, errors.NewInvalidInput("session_id query parameter is required"))
		return
	}
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	if offset == 0 && s.cache != nil {
		cached, found, err := s.cache.GetLatest(r.Context(), sessionID)
		metrics.RecordCacheLookup(err == nil && found)
		if err == nil && found {
			// The cache stores the batch in chronological order; the
			// page contract is most-recent-first.
			page := make([]telemetry.ScorePacket, 0, len(cached))
			for i := len(cached) - 1; i >= 0; i-- {
				page = append(page, cached[i])
				if limit > 0 && len(page) == limit {
					break
				}
			}
			s.writeJSON(w, http.StatusOK, map[string]interface{}{
				"session_id":         sessionID,
				"scores":             page,
				"source":             "cache",
				"gateway_latency_ms": elapsedMs(start),
			})
			return
		}
	}

	scores, err := s.sessions.Scores(sessionID, limit, offset)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id":         sessionID,
		"scores":             scores,
		"source":             "session",
		"gateway_latency_ms": elapsedMs(start),
	})
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		errors.WriteError(w, errors.NewInvalidInput("session_id query parameter is required"))
		return
	}

	status, err := s.sessions.Status(sessionID)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

// decodeValidated reads the body, schema-checks it, then unmarshals
// into the typed request.
func (s *Server) decodeValidated(r *http.Request, schema *jsonschema.Schema, dst interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return errors.NewInvalidInput("failed to read request body")
	}
	if err := validateBody(schema, body); err != nil {
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return errors.NewInvalidInput("request body failed to decode")
	}
	return nil
}

// writeFailure maps an error to its HTTP response, logging server-side
// failures with the correlation id.
func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	if errors.HTTPStatusFromError(err) >= http.StatusInternalServerError {
		s.logger.WithError(err).WithFields(map[string]interface{}{
			"path":           r.URL.Path,
			"correlation_id": CorrelationID(r.Context()),
		}).Error("Request failed")
		metrics.RecordRequestError(r.URL.Path)
	}
	errors.WriteError(w, err)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.WithError(err).Debug("Failed to write response body")
	}
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}

func elapsedMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
