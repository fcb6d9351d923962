package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWindowRecord(t *testing.T) {
	w := NewWindow()

	w.Record("/api/session/telemetry", "200", 10*time.Millisecond)
	w.Record("/api/session/telemetry", "200", 30*time.Millisecond)
	w.Record("/api/session/start", "409", 20*time.Millisecond)

	snap := w.SnapshotNow()
	assert.Equal(t, uint64(3), snap.TotalRequests)
	assert.Equal(t, uint64(1), snap.ErrorCount)
	assert.Equal(t, 20*time.Millisecond, snap.AvgResponseTime)
	assert.Equal(t, uint64(2), snap.RequestsByRoute["/api/session/telemetry"])
}

func TestWindowRollsOver(t *testing.T) {
	w := NewWindow()

	// Fill the window with slow samples, then push them out with fast ones.
	for i := 0; i < windowSize; i++ {
		w.Record("/r", "200", time.Second)
	}
	for i := 0; i < windowSize; i++ {
		w.Record("/r", "200", time.Millisecond)
	}

	snap := w.SnapshotNow()
	assert.Equal(t, uint64(2*windowSize), snap.TotalRequests)
	assert.Equal(t, time.Millisecond, snap.AvgResponseTime)
}

func TestWindowCacheCounters(t *testing.T) {
	w := NewWindow()
	w.RecordCache(true)
	w.RecordCache(true)
	w.RecordCache(false)

	snap := w.SnapshotNow()
	assert.Equal(t, uint64(2), snap.CacheHits)
	assert.Equal(t, uint64(1), snap.CacheMisses)
}

func TestWindowReset(t *testing.T) {
	w := NewWindow()
	w.Record("/r", "200", time.Second)
	w.Reset()

	snap := w.SnapshotNow()
	assert.Equal(t, uint64(0), snap.TotalRequests)
	assert.Equal(t, time.Duration(0), snap.AvgResponseTime)
}
