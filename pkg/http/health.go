package http

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"grit-server/pkg/metrics"
)

// HealthStatus is the response body of the deep health endpoint.
type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp string                 `json:"timestamp"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]CheckResult `json:"checks"`
	System    SystemInfo             `json:"system"`
}

// CheckResult is one named dependency check.
type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// SystemInfo is a coarse resource snapshot.
type SystemInfo struct {
	GoRoutines     int    `json:"goroutines"`
	MemoryMB       uint64 `json:"memory_mb"`
	CPUCount       int    `json:"cpu_count"`
	ActiveSessions int    `json:"active_sessions"`
}

// ReadinessCheck probes one dependency. Registered by the wiring code
// for whatever backends are enabled.
type ReadinessCheck func(ctx context.Context) error

// handleHealth reports overall health with per-dependency checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Checks:    make(map[string]CheckResult),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	for name, check := range s.readiness {
		if err := check(ctx); err != nil {
			health.Status = "degraded"
			health.Checks[name] = CheckResult{Status: "unhealthy", Message: err.Error()}
		} else {
			health.Checks[name] = CheckResult{Status: "healthy"}
		}
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	health.System = SystemInfo{
		GoRoutines:     runtime.NumGoroutine(),
		MemoryMB:       mem.Alloc / 1024 / 1024,
		CPUCount:       runtime.NumCPU(),
		ActiveSessions: s.sessions.ActiveSessions(),
	}

	status := http.StatusOK
	if health.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, health)
}

// handleLiveness answers as long as the process is serving.
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// handleReadiness fails when any registered dependency probe fails.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	for name, check := range s.readiness {
		if err := check(ctx); err != nil {
			s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not_ready",
				"check":  name,
				"error":  err.Error(),
			})
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleSystemHealth evaluates the alert rules over the rolling request
// window: latency, error rate, cache hit rate.
func (s *Server) handleSystemHealth(w http.ResponseWriter, r *http.Request) {
	report := s.evaluator.Evaluate()

	status := http.StatusOK
	if !report.Healthy {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"healthy":         report.Healthy,
		"alerts":          report.Alerts,
		"active_sessions": s.sessions.ActiveSessions(),
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
	})
}

// handleSystemMetrics returns the rolling request-window snapshot as
// JSON, a cheap complement to the Prometheus endpoint.
func (s *Server) handleSystemMetrics(w http.ResponseWriter, r *http.Request) {
	snapshot := metrics.DefaultWindow.SnapshotNow()
	s.writeJSON(w, http.StatusOK, snapshot)
}
