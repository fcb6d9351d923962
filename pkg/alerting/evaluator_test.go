package alerting

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"grit-server/pkg/metrics"
)

func alertNames(report HealthReport) []string {
	names := make([]string, 0, len(report.Alerts))
	for _, a := range report.Alerts {
		names = append(names, a.Name)
	}
	return names
}

func TestEvaluateHealthy(t *testing.T) {
	w := metrics.NewWindow()
	w.Record("/r", "200", 5*time.Millisecond)

	report := NewEvaluator(logrus.New(), w).Evaluate()
	assert.True(t, report.Healthy)
	assert.Empty(t, report.Alerts)
}

func TestEvaluateHighLatency(t *testing.T) {
	w := metrics.NewWindow()
	w.Record("/r", "200", 6*time.Second)

	report := NewEvaluator(logrus.New(), w).Evaluate()
	assert.False(t, report.Healthy)
	assert.Contains(t, alertNames(report), "high_latency")
}

func TestEvaluateHighErrorRate(t *testing.T) {
	w := metrics.NewWindow()
	for i := 0; i < 8; i++ {
		w.Record("/r", "200", time.Millisecond)
	}
	w.Record("/r", "500", time.Millisecond)
	w.Record("/r", "500", time.Millisecond)

	report := NewEvaluator(logrus.New(), w).Evaluate()
	assert.False(t, report.Healthy)
	assert.Contains(t, alertNames(report), "high_error_rate")
}

func TestEvaluateLowCacheHitRateIsWarningOnly(t *testing.T) {
	w := metrics.NewWindow()
	w.Record("/r", "200", time.Millisecond)
	w.RecordCache(false)
	w.RecordCache(false)
	w.RecordCache(true)

	report := NewEvaluator(logrus.New(), w).Evaluate()
	assert.True(t, report.Healthy)
	assert.Contains(t, alertNames(report), "low_cache_hit_rate")
}
