package metrics

import (
	"sync"
	"time"
)

// windowSize is the number of response-time samples the rolling window
// keeps for health evaluation.
const windowSize = 1000

// DefaultWindow is the process-wide rolling window the gateway feeds.
var DefaultWindow = NewWindow()

// Snapshot is a point-in-time view of the rolling request window,
// consumed by the health evaluator and the raw-counters endpoint.
type Snapshot struct {
	TotalRequests   uint64            `json:"total_requests"`
	ErrorCount      uint64            `json:"error_count"`
	AvgResponseTime time.Duration     `json:"avg_response_time"`
	RequestsByRoute map[string]uint64 `json:"requests_by_route"`
	CacheHits       uint64            `json:"cache_hits"`
	CacheMisses     uint64            `json:"cache_misses"`
}

// Window tracks request counters and a bounded ring of response times.
// Prometheus keeps the long-term series; this window exists because the
// health rules are defined over the last thousand samples.
type Window struct {
	mu sync.Mutex

	samples [windowSize]time.Duration
	count   int
	next    int

	totalRequests   uint64
	errorCount      uint64
	requestsByRoute map[string]uint64
	cacheHits       uint64
	cacheMisses     uint64
}

// NewWindow creates an empty rolling window
func NewWindow() *Window {
	return &Window{requestsByRoute: make(map[string]uint64)}
}

// Record adds one completed request to the window
func (w *Window) Record(route, status string, duration time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.samples[w.next] = duration
	w.next = (w.next + 1) % windowSize
	if w.count < windowSize {
		w.count++
	}

	w.totalRequests++
	w.requestsByRoute[route]++
	// 4xx and 5xx both count toward the error rate
	if len(status) == 3 && (status[0] == '4' || status[0] == '5') {
		w.errorCount++
	}
}

// RecordCache adds one cache lookup to the window
func (w *Window) RecordCache(hit bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if hit {
		w.cacheHits++
	} else {
		w.cacheMisses++
	}
}

// SnapshotNow returns the current counters and rolling average
func (w *Window) SnapshotNow() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	var sum time.Duration
	for i := 0; i < w.count; i++ {
		sum += w.samples[i]
	}
	var avg time.Duration
	if w.count > 0 {
		avg = sum / time.Duration(w.count)
	}

	byRoute := make(map[string]uint64, len(w.requestsByRoute))
	for k, v := range w.requestsByRoute {
		byRoute[k] = v
	}

	return Snapshot{
		TotalRequests:   w.totalRequests,
		ErrorCount:      w.errorCount,
		AvgResponseTime: avg,
		RequestsByRoute: byRoute,
		CacheHits:       w.cacheHits,
		CacheMisses:     w.cacheMisses,
	}
}

// Reset clears all counters and samples
func (w *Window) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.count = 0
	w.next = 0
	w.totalRequests = 0
	w.errorCount = 0
	w.cacheHits = 0
	w.cacheMisses = 0
	w.requestsByRoute = make(map[string]uint64)
}
