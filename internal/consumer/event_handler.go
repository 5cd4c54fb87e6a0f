package consumer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"example.com/activitysync/internal/domain"
	"example.com/activitysync/internal/reconcile"
)

// Applier reconciles one event.
type Applier interface {
	Apply(ctx context.Context, event domain.CanonicalEvent) (reconcile.Outcome, error)
}

// Failure describes an event that will not be applied.
type Failure struct {
	Event    domain.CanonicalEvent
	Attempts int
	Reason   string
	FailedAt time.Time
}

// FailureRecorder keeps failed events visible to operators.
type FailureRecorder interface {
	RecordFailure(ctx context.Context, failure Failure) error
}

// EventHandler applies events with bounded retries. Events that still fail are
// handed to the FailureRecorder and acknowledged.
type EventHandler struct {
	applier    Applier
	failures   FailureRecorder
	logger     *slog.Logger
	maxRetries uint64
	baseDelay  time.Duration
	now        func() time.Time
}

// EventHandlerOption customises an EventHandler.
type EventHandlerOption func(*EventHandler)

// WithHandlerLogger overrides the handler logger.
func WithHandlerLogger(logger *slog.Logger) EventHandlerOption {
	return func(h *EventHandler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithRetry sets the retry budget and the first backoff interval.
func WithRetry(maxRetries int, baseDelay time.Duration) EventHandlerOption {
	return func(h *EventHandler) {
		if maxRetries >= 0 {
			h.maxRetries = uint64(maxRetries)
		}
		if baseDelay > 0 {
			h.baseDelay = baseDelay
		}
	}
}

// NewEventHandler constructs an EventHandler.
func NewEventHandler(applier Applier, failures FailureRecorder, opts ...EventHandlerOption) *EventHandler {
	h := &EventHandler{
		applier:    applier,
		failures:   failures,
		logger:     slog.Default(),
		maxRetries: 5,
		baseDelay:  time.Second,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle implements Handler.
func (h *EventHandler) Handle(ctx context.Context, msg Message) error {
	event := msg.Event
	attempts := 0

	op := func() error {
		attempts++
		if attempts > 1 {
			recordRetry(string(event.Kind))
		}
		outcome, err := h.applier.Apply(ctx, event)
		if err == nil {
			h.logger.Debug("event applied",
				"kind", event.Kind,
				"athlete_id", event.AthleteID,
				"object_id", event.ObjectID,
				"outcome", outcome)
			return nil
		}
		if domain.IsRetryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = h.baseDelay
	policy.MaxElapsedTime = 0
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, h.maxRetries), ctx))
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	if errors.Is(err, domain.ErrUnknownAthlete) {
		h.logger.Debug("event for unknown athlete dropped", "athlete_id", event.AthleteID, "object_id", event.ObjectID)
		return nil
	}

	reason := failureReason(err)
	recordFailure(string(event.Kind), reason)
	h.logger.Warn("event failed",
		"kind", event.Kind,
		"athlete_id", event.AthleteID,
		"object_id", event.ObjectID,
		"attempts", attempts,
		"reason", reason,
		"error", err)

	return h.failures.RecordFailure(ctx, Failure{
		Event:    event,
		Attempts: attempts,
		Reason:   err.Error(),
		FailedAt: h.now(),
	})
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrReauthenticationRequired):
		return "reauthentication_required"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrProviderUnavailable):
		return "provider_unavailable"
	case errors.Is(err, domain.ErrAthleteMismatch):
		return "athlete_mismatch"
	case errors.Is(err, domain.ErrStorageConflict):
		return "storage_conflict"
	default:
		return "internal"
	}
}

// LogFailureRecorder writes failures to the log only. It backs deployments without Postgres.
type LogFailureRecorder struct {
	Logger *slog.Logger
}

// RecordFailure implements FailureRecorder.
func (r LogFailureRecorder) RecordFailure(_ context.Context, failure Failure) error {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Error("webhook event abandoned",
		"provider_event_id", failure.Event.ProviderEventID,
		"athlete_id", failure.Event.AthleteID,
		"object_id", failure.Event.ObjectID,
		"attempts", failure.Attempts,
		"reason", failure.Reason)
	return nil
}
