package analytics

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"grit-server/pkg/metrics"
	"grit-server/pkg/telemetry"
)

const (
	defaultQueueSize = 4096
	writeTimeout     = 5 * time.Second
	retryBackoff     = 500 * time.Millisecond
	maxWriteAttempts = 3
	drainGracePeriod = 10 * time.Second
)

// Store is the persistence surface the writer drains into.
type Store interface {
	AppendScores(ctx context.Context, sessionID string, scores []telemetry.ScorePacket) error
	InsertEvent(ctx context.Context, event telemetry.GameEvent) error
}

type writeJob struct {
	sessionID string
	scores    []telemetry.ScorePacket
	event     *telemetry.GameEvent
}

// Writer decouples ingestion from the analytical store: enqueueing never
// blocks, a background goroutine drains the queue, and failures are
// retried then counted, never surfaced to the caller.
type Writer struct {
	store  Store
	logger *logrus.Logger

	jobs chan writeJob
	done chan struct{}
	wg   sync.WaitGroup

	mu      sync.Mutex
	dropped uint64
	failed  uint64
}

// NewWriter starts the background drain goroutine.
func NewWriter(store Store, logger *logrus.Logger) *Writer {
	w := &Writer{
		store:  store,
		logger: logger,
		jobs:   make(chan writeJob, defaultQueueSize),
		done:   make(chan struct{}),
	}
	w.wg.Add(1)
	go w.drain()
	return w
}

// EnqueueScores queues a score batch for the analytical store. When the
// queue is full the batch is dropped and counted; ingestion never waits.
func (w *Writer) EnqueueScores(sessionID string, scores []telemetry.ScorePacket) {
	if len(scores) == 0 {
		return
	}
	batch := make([]telemetry.ScorePacket, len(scores))
	copy(batch, scores)

	select {
	case w.jobs <- writeJob{sessionID: sessionID, scores: batch}:
	default:
		w.recordDrop()
		w.logger.WithField("session_id", sessionID).Warn("Analytics queue full, dropping score batch")
	}
}

// EnqueueEvent queues a game event, same non-blocking contract.
func (w *Writer) EnqueueEvent(event telemetry.GameEvent) {
	select {
	case w.jobs <- writeJob{event: &event}:
	default:
		w.recordDrop()
		w.logger.WithField("session_id", event.SessionID).Warn("Analytics queue full, dropping event")
	}
}

// Stats returns the cumulative dropped and failed job counts.
func (w *Writer) Stats() (dropped, failed uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dropped, w.failed
}

// Close drains remaining jobs and stops the background goroutine. Safe
// to call once; enqueues after Close are dropped.
func (w *Writer) Close() {
	close(w.done)

	finished := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(drainGracePeriod):
		w.logger.Warn("Analytics writer shutdown timed out with jobs remaining")
	}
}

func (w *Writer) drain() {
	defer w.wg.Done()
	for {
		select {
		case job := <-w.jobs:
			w.write(job)
		case <-w.done:
			// Flush whatever is still queued before exiting.
			for {
				select {
				case job := <-w.jobs:
					w.write(job)
				default:
					return
				}
			}
		}
	}
}

func (w *Writer) write(job writeJob) {
	var err error
	for attempt := 1; attempt <= maxWriteAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if job.event != nil {
			err = w.store.InsertEvent(ctx, *job.event)
		} else {
			err = w.store.AppendScores(ctx, job.sessionID, job.scores)
		}
		cancel()

		if err == nil {
			metrics.RecordAnalyticsWrite("ok")
			return
		}
		if attempt < maxWriteAttempts {
			time.Sleep(retryBackoff * time.Duration(attempt))
		}
	}

	w.mu.Lock()
	w.failed++
	w.mu.Unlock()
	metrics.RecordAnalyticsWrite("error")
	w.logger.WithError(err).WithFields(logrus.Fields{
		"session_id": job.sessionID,
		"attempts":   maxWriteAttempts,
	}).Error("Analytical store write failed, giving up")
}

func (w *Writer) recordDrop() {
	w.mu.Lock()
	w.dropped++
	w.mu.Unlock()
	metrics.RecordAnalyticsWrite("dropped")
}
