package analytics

import (
	"github.com/sirupsen/logrus"

	"grit-server/pkg/telemetry"
)

// Publisher is the event-bus surface the fanout forwards to.
type Publisher interface {
	PublishScoreBatch(sessionID string, scores []telemetry.ScorePacket) error
	PublishEvent(event telemetry.GameEvent) error
}

// Fanout forwards score batches and events to the analytical writer and
// the event bus. Both paths are fire-and-forget; either may be nil.
type Fanout struct {
	writer    *Writer
	publisher Publisher
	logger    *logrus.Logger
}

// NewFanout bundles the analytical writer and bus publisher into one
// sink for session actors.
func NewFanout(writer *Writer, publisher Publisher, logger *logrus.Logger) *Fanout {
	return &Fanout{writer: writer, publisher: publisher, logger: logger}
}

// EnqueueScores never blocks: the writer has a bounded queue and the bus
// publish runs on its own goroutine with internal timeouts.
func (f *Fanout) EnqueueScores(sessionID string, scores []telemetry.ScorePacket) {
	if f.writer != nil {
		f.writer.EnqueueScores(sessionID, scores)
	}
	if f.publisher != nil {
		batch := make([]telemetry.ScorePacket, len(scores))
		copy(batch, scores)
		go func() {
			if err := f.publisher.PublishScoreBatch(sessionID, batch); err != nil {
				f.logger.WithError(err).WithField("session_id", sessionID).
					Debug("Score batch not published to event bus")
			}
		}()
	}
}

// EnqueueEvent forwards one game event, same contract.
func (f *Fanout) EnqueueEvent(event telemetry.GameEvent) {
	if f.writer != nil {
		f.writer.EnqueueEvent(event)
	}
	if f.publisher != nil {
		go func() {
			if err := f.publisher.PublishEvent(event); err != nil {
				f.logger.WithError(err).WithField("session_id", event.SessionID).
					Debug("Event not published to event bus")
			}
		}()
	}
}
