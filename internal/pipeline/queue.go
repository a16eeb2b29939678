package pipeline

import (
	"log/slog"
	"sync"
	"time"

	"mamacare/internal/domain"
)

const publishTimeout = 10 * time.Second

// Queue is the bounded buffer between webhook ingestion and the workers, so
// a burst of inbound events cannot spawn unbounded concurrent provider calls.
type Queue struct {
	events chan domain.InboundEvent
	mu     sync.RWMutex
	closed bool
	logger *slog.Logger
}

func NewQueue(size int, logger *slog.Logger) *Queue {
	if size <= 0 {
		size = 256
	}
	return &Queue{
		events: make(chan domain.InboundEvent, size),
		logger: logger,
	}
}

// Publish enqueues an event. When the queue is full it blocks up to
// publishTimeout instead of dropping immediately.
func (q *Queue) Publish(ev domain.InboundEvent) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.logger.Warn("attempted to publish to closed queue", "event_id", ev.ProviderMessageID)
		return
	}

	select {
	case q.events <- ev:
	default:
		q.logger.Warn("inbound queue full, waiting", "event_id", ev.ProviderMessageID)
		timer := time.NewTimer(publishTimeout)
		defer timer.Stop()
		select {
		case q.events <- ev:
			q.logger.Info("event enqueued after wait", "event_id", ev.ProviderMessageID)
		case <-timer.C:
			q.logger.Error("event dropped: queue full for 10s",
				"event_id", ev.ProviderMessageID,
				"sender", ev.SenderAddress,
			)
		}
	}
}

func (q *Queue) Subscribe() <-chan domain.InboundEvent {
	return q.events
}

func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.events)
	}
}
