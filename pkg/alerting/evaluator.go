package alerting

import (
	"time"

	"github.com/sirupsen/logrus"

	"grit-server/pkg/metrics"
)

// Health thresholds. The service is unhealthy when the rolling average
// response time or the error rate crosses these.
const (
	maxAvgResponseTime = 5 * time.Second
	maxErrorRate       = 0.10
	minCacheHitRate    = 0.50
)

// Severity of a derived alert.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is a derived, read-only summary. No automated remediation.
type Alert struct {
	Name     string   `json:"name"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Value    float64  `json:"value"`
}

// HealthReport combines overall health with the alerts that caused it.
type HealthReport struct {
	Healthy bool    `json:"healthy"`
	Alerts  []Alert `json:"alerts"`
}

// Evaluator derives health and alerts from a metrics snapshot.
type Evaluator struct {
	logger *logrus.Logger
	window *metrics.Window
}

// NewEvaluator creates an evaluator over the given rolling window.
func NewEvaluator(logger *logrus.Logger, window *metrics.Window) *Evaluator {
	if window == nil {
		window = metrics.DefaultWindow
	}
	return &Evaluator{logger: logger, window: window}
}

// Evaluate computes the current health report.
func (e *Evaluator) Evaluate() HealthReport {
	snap := e.window.SnapshotNow()
	report := HealthReport{Healthy: true, Alerts: []Alert{}}

	if snap.AvgResponseTime > maxAvgResponseTime {
		report.Healthy = false
		report.Alerts = append(report.Alerts, Alert{
			Name:     "high_latency",
			Severity: SeverityCritical,
			Message:  "rolling average response time exceeds threshold",
			Value:    snap.AvgResponseTime.Seconds(),
		})
	}

	if snap.TotalRequests > 0 {
		errorRate := float64(snap.ErrorCount) / float64(snap.TotalRequests)
		if errorRate > maxErrorRate {
			report.Healthy = false
			report.Alerts = append(report.Alerts, Alert{
				Name:     "high_error_rate",
				Severity: SeverityCritical,
				Message:  "error rate exceeds threshold",
				Value:    errorRate,
			})
		}
	}

	lookups := snap.CacheHits + snap.CacheMisses
	if lookups > 0 {
		hitRate := float64(snap.CacheHits) / float64(lookups)
		if hitRate < minCacheHitRate {
			// Degraded UI polling, not an outage
			report.Alerts = append(report.Alerts, Alert{
				Name:     "low_cache_hit_rate",
				Severity: SeverityWarning,
				Message:  "hot-cache hit rate below threshold",
				Value:    hitRate,
			})
		}
	}

	if !report.Healthy {
		e.logger.WithField("alerts", len(report.Alerts)).Warn("Service unhealthy")
	}

	return report
}
