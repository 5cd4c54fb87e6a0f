package consumer

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"example.com/activitysync/internal/domain"
)

// ErrSinkFull is returned when the inline queue cannot take another event.
var ErrSinkFull = errors.New("inline event queue full")

// ErrSinkClosed is returned once the inline sink has stopped.
var ErrSinkClosed = errors.New("inline event sink stopped")

// ErrSinkStarted is returned by Run on a sink that already ran. A sink is single-use.
var ErrSinkStarted = errors.New("inline event sink already started")

// InlineTopic labels events that never left the process.
const InlineTopic = "inline"

// InlineSink applies webhook events in-process when no broker is configured.
// Events are sharded by object id so that one activity's events run serially.
type InlineSink struct {
	handler Handler
	logger  *slog.Logger
	queues  []chan domain.CanonicalEvent

	mu      sync.RWMutex
	started bool
	stopped bool
}

// NewInlineSink constructs an InlineSink with the given worker count and per-worker queue depth.
func NewInlineSink(handler Handler, workers, depth int, logger *slog.Logger) *InlineSink {
	if workers <= 0 {
		workers = 1
	}
	if depth <= 0 {
		depth = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	queues := make([]chan domain.CanonicalEvent, workers)
	for i := range queues {
		queues[i] = make(chan domain.CanonicalEvent, depth)
	}
	return &InlineSink{handler: handler, logger: logger, queues: queues}
}

// Publish enqueues the event without blocking.
func (s *InlineSink) Publish(_ context.Context, event domain.CanonicalEvent) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return ErrSinkClosed
	}

	shard := event.ObjectID % int64(len(s.queues))
	if shard < 0 {
		shard = -shard
	}
	select {
	case s.queues[shard] <- event:
		return nil
	default:
		return ErrSinkFull
	}
}

// Run drives the workers until ctx is cancelled, then drains what was already queued.
// It may be called once.
func (s *InlineSink) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrSinkStarted
	}
	s.started = true
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, q := range s.queues {
		wg.Add(1)
		go func(q chan domain.CanonicalEvent) {
			defer wg.Done()
			for event := range q {
				s.handle(ctx, event)
			}
		}(q)
	}

	<-ctx.Done()
	s.mu.Lock()
	s.stopped = true
	for _, q := range s.queues {
		close(q)
	}
	s.mu.Unlock()

	wg.Wait()
	return ctx.Err()
}

func (s *InlineSink) handle(ctx context.Context, event domain.CanonicalEvent) {
	msg := Message{Topic: InlineTopic, Timestamp: event.ReceivedAt, Event: event}
	// Queued events still run after shutdown begins; they are lost otherwise.
	if err := s.handler.Handle(context.WithoutCancel(ctx), msg); err != nil {
		s.logger.Error("inline event handling failed",
			"kind", event.Kind,
			"athlete_id", event.AthleteID,
			"object_id", event.ObjectID,
			"error", err)
		recordHandlerError(msg)
		return
	}
	recordProcessed(msg)
}
