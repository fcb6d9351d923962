package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	registry     *prometheus.Registry
	registryOnce sync.Once

	// Request metrics
	RequestsTotal   *prometheus.CounterVec
	RequestErrors   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Session metrics
	SessionsActive  prometheus.Gauge
	SessionsStarted prometheus.Counter
	SessionsEnded   *prometheus.CounterVec

	// Telemetry metrics
	PacketsProcessed *prometheus.CounterVec
	PacketsDropped   *prometheus.CounterVec
	FusionLatency    *prometheus.HistogramVec
	ProcessingErrors *prometheus.CounterVec

	// Cache metrics
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	// Persistence metrics
	StoreWrites         *prometheus.CounterVec
	AnalyticsWrites     *prometheus.CounterVec
	AMQPPublished       *prometheus.CounterVec
	ArchiveWrites       *prometheus.CounterVec
	BroadcastsDelivered prometheus.Counter
)

// Init initializes all metrics and registers them with Prometheus
func Init(logger *logrus.Logger) {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()

		RequestsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grit_requests_total",
				Help: "Total number of gateway requests",
			},
			[]string{"route", "status"},
		)

		RequestErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grit_request_errors_total",
				Help: "Total number of gateway request errors",
			},
			[]string{"route"},
		)

		RequestDuration = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "grit_request_duration_seconds",
				Help:    "Gateway request processing time",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
			},
			[]string{"route"},
		)

		SessionsActive = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "grit_sessions_active",
				Help: "Number of active analysis sessions",
			},
		)

		SessionsStarted = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "grit_sessions_started_total",
				Help: "Total number of analysis sessions started",
			},
		)

		SessionsEnded = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grit_sessions_ended_total",
				Help: "Total number of analysis sessions ended",
			},
			[]string{"status"},
		)

		PacketsProcessed = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grit_packets_processed_total",
				Help: "Total number of feature packets processed",
			},
			[]string{"session_id"},
		)

		PacketsDropped = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grit_packets_dropped_total",
				Help: "Total number of feature packets dropped",
			},
			[]string{"session_id", "reason"},
		)

		FusionLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "grit_fusion_latency_seconds",
				Help:    "Per-packet fusion computation time",
				Buckets: prometheus.ExponentialBuckets(0.0001, 2, 10),
			},
			[]string{"session_id"},
		)

		ProcessingErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grit_processing_errors_total",
				Help: "Total number of per-packet processing errors",
			},
			[]string{"session_id"},
		)

		CacheHits = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "grit_cache_hits_total",
				Help: "Total number of hot-cache hits",
			},
		)

		CacheMisses = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "grit_cache_misses_total",
				Help: "Total number of hot-cache misses",
			},
		)

		StoreWrites = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grit_state_store_writes_total",
				Help: "Total number of durable session state writes",
			},
			[]string{"status"},
		)

		AnalyticsWrites = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grit_analytics_writes_total",
				Help: "Total number of analytical store writes",
			},
			[]string{"status"},
		)

		AMQPPublished = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grit_amqp_published_total",
				Help: "Total number of messages published to AMQP",
			},
			[]string{"status"},
		)

		ArchiveWrites = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grit_archive_writes_total",
				Help: "Total number of session summary archive writes",
			},
			[]string{"status"},
		)

		BroadcastsDelivered = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "grit_broadcasts_delivered_total",
				Help: "Total number of score packets pushed to live subscribers",
			},
		)

		registry.MustRegister(
			RequestsTotal,
			RequestErrors,
			RequestDuration,
			SessionsActive,
			SessionsStarted,
			SessionsEnded,
			PacketsProcessed,
			PacketsDropped,
			FusionLatency,
			ProcessingErrors,
			CacheHits,
			CacheMisses,
			StoreWrites,
			AnalyticsWrites,
			AMQPPublished,
			ArchiveWrites,
			BroadcastsDelivered,
		)

		logger.Info("Prometheus metrics initialized")
	})
}

// GetRegistry returns the Prometheus registry, or nil before Init
func GetRegistry() *prometheus.Registry {
	return registry
}

// RegisterHandler mounts the Prometheus scrape endpoint on the mux
func RegisterHandler(mux *http.ServeMux) {
	if registry == nil {
		return
	}
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		Registry:          registry,
	}))
}

// RecordRequest records a completed gateway request
func RecordRequest(route, status string, duration time.Duration) {
	if RequestsTotal == nil {
		return
	}
	RequestsTotal.WithLabelValues(route, status).Inc()
	RequestDuration.WithLabelValues(route).Observe(duration.Seconds())
	DefaultWindow.Record(route, status, duration)
}

// RecordRequestError records a gateway error response
func RecordRequestError(route string) {
	if RequestErrors == nil {
		return
	}
	RequestErrors.WithLabelValues(route).Inc()
}

// RecordCacheLookup records a hot-cache hit or miss
func RecordCacheLookup(hit bool) {
	if CacheHits == nil {
		return
	}
	if hit {
		CacheHits.Inc()
	} else {
		CacheMisses.Inc()
	}
	DefaultWindow.RecordCache(hit)
}

// ObserveFusion returns a function that records fusion latency when called
func ObserveFusion(sessionID string) func() {
	if FusionLatency == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		FusionLatency.WithLabelValues(sessionID).Observe(time.Since(start).Seconds())
	}
}

// RecordSessionStarted records a session start and bumps the gauge
func RecordSessionStarted() {
	if SessionsStarted == nil {
		return
	}
	SessionsStarted.Inc()
	SessionsActive.Inc()
}

// RecordSessionEnded records a session end and drops the gauge
func RecordSessionEnded(status string) {
	if SessionsEnded == nil {
		return
	}
	SessionsEnded.WithLabelValues(status).Inc()
	SessionsActive.Dec()
}

// RecordPacketProcessed records one processed feature packet
func RecordPacketProcessed(sessionID string) {
	if PacketsProcessed == nil {
		return
	}
	PacketsProcessed.WithLabelValues(sessionID).Inc()
}

// RecordPacketDropped records one dropped feature packet
func RecordPacketDropped(sessionID, reason string) {
	if PacketsDropped == nil {
		return
	}
	PacketsDropped.WithLabelValues(sessionID, reason).Inc()
}

// RecordProcessingError records one per-packet processing failure
func RecordProcessingError(sessionID string) {
	if ProcessingErrors == nil {
		return
	}
	ProcessingErrors.WithLabelValues(sessionID).Inc()
}

// RecordStoreWrite records a durable session state write outcome
func RecordStoreWrite(status string) {
	if StoreWrites == nil {
		return
	}
	StoreWrites.WithLabelValues(status).Inc()
}

// RecordAnalyticsWrite records an analytical store write outcome
func RecordAnalyticsWrite(status string) {
	if AnalyticsWrites == nil {
		return
	}
	AnalyticsWrites.WithLabelValues(status).Inc()
}

// RecordAMQPPublish records an AMQP publish outcome
func RecordAMQPPublish(status string) {
	if AMQPPublished == nil {
		return
	}
	AMQPPublished.WithLabelValues(status).Inc()
}

// RecordArchiveWrite records a session summary archive outcome
func RecordArchiveWrite(status string) {
	if ArchiveWrites == nil {
		return
	}
	ArchiveWrites.WithLabelValues(status).Inc()
}

// RecordBroadcast records score packets pushed to live subscribers
func RecordBroadcast(count int) {
	if BroadcastsDelivered == nil {
		return
	}
	BroadcastsDelivered.Add(float64(count))
}

// RecordFusionLatency records one fusion computation duration
func RecordFusionLatency(sessionID string, d time.Duration) {
	if FusionLatency == nil {
		return
	}
	FusionLatency.WithLabelValues(sessionID).Observe(d.Seconds())
}

// RecordSessionRestored bumps the active-session gauge for a session
// reactivated from durable state
func RecordSessionRestored() {
	if SessionsActive == nil {
		return
	}
	SessionsActive.Inc()
}
