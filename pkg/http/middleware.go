package http

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"grit-server/pkg/auth"
	"grit-server/pkg/metrics"
	"grit-server/pkg/version"
)

type contextKey string

const (
	correlationIDKey contextKey = "correlation_id"
	callerKey        contextKey = "caller"

	correlationHeader = "X-Correlation-ID"
)

// CorrelationID returns the request's correlation id, empty if the
// middleware did not run.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey).(string)
	return id
}

// CallerFromContext returns the authenticated caller, nil on exempt
// paths.
func CallerFromContext(ctx context.Context) *auth.CallerInfo {
	caller, _ := ctx.Value(callerKey).(*auth.CallerInfo)
	return caller
}

// correlationMiddleware tags every request with a correlation id,
// honoring one supplied by the client.
func correlationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(correlationHeader)
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set(correlationHeader, id)
		w.Header().Set("Server", version.ServerHeader())
		ctx := context.WithValue(r.Context(), correlationIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// statusRecorder captures the response status for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// metricsMiddleware records per-route request counts and latency.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		metrics.RecordRequest(r.URL.Path, strconv.Itoa(recorder.status), time.Since(start))
	})
}

// authMiddleware enforces bearer authentication on the API surface.
// Health, liveness, and metrics endpoints stay open for probes and
// scrapers. Websocket clients pass the token as a query parameter
// because browsers cannot set headers on websocket upgrades.
type authMiddleware struct {
	verifier *auth.Verifier
	logger   *logrus.Logger
}

func (m *authMiddleware) exempt(path string) bool {
	return path == "/health" ||
		strings.HasPrefix(path, "/health/") ||
		path == "/metrics"
}

func (m *authMiddleware) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.exempt(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token := bearerToken(r)
		if token == "" && strings.HasPrefix(r.URL.Path, "/ws/") {
			token = r.URL.Query().Get("token")
		}

		caller, err := m.verifier.Verify(token)
		if err != nil {
			m.logger.WithFields(logrus.Fields{
				"path":           r.URL.Path,
				"correlation_id": CorrelationID(r.Context()),
			}).Warn("Rejected unauthenticated request")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error": "authentication required"}`))
			return
		}

		ctx := context.WithValue(r.Context(), callerKey, caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}
