package consumer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/activitysync/internal/domain"
	"example.com/activitysync/internal/reconcile"
)

type scriptedApplier struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (a *scriptedApplier) Apply(context.Context, domain.CanonicalEvent) (reconcile.Outcome, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if len(a.errs) == 0 {
		return reconcile.OutcomeUpserted, nil
	}
	err := a.errs[0]
	a.errs = a.errs[1:]
	return "", err
}

type memoryFailures struct {
	mu       sync.Mutex
	failures []Failure
	err      error
}

func (m *memoryFailures) RecordFailure(_ context.Context, f Failure) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.failures = append(m.failures, f)
	return nil
}

func handlerMessage() Message {
	return Message{Topic: "webhook_events", Event: domain.CanonicalEvent{
		ObjectID:        999,
		AthleteID:       555,
		Kind:            domain.EventCreate,
		ProviderEventID: "activity:999:create:1",
	}}
}

func TestEventHandlerRetriesTransientFailures(t *testing.T) {
	applier := &scriptedApplier{errs: []error{
		fmt.Errorf("%w: 503", domain.ErrProviderUnavailable),
		fmt.Errorf("%w: eventual consistency", domain.ErrNotFound),
	}}
	failures := &memoryFailures{}
	handler := NewEventHandler(applier, failures, WithRetry(3, time.Millisecond), WithHandlerLogger(testLogger(t)))

	require.NoError(t, handler.Handle(context.Background(), handlerMessage()))
	require.Equal(t, 3, applier.calls)
	require.Empty(t, failures.failures)
}

func TestEventHandlerRecordsExhaustedRetries(t *testing.T) {
	transient := fmt.Errorf("%w: 503", domain.ErrProviderUnavailable)
	applier := &scriptedApplier{errs: []error{transient, transient, transient}}
	failures := &memoryFailures{}
	handler := NewEventHandler(applier, failures, WithRetry(2, time.Millisecond), WithHandlerLogger(testLogger(t)))

	require.NoError(t, handler.Handle(context.Background(), handlerMessage()))
	require.Equal(t, 3, applier.calls)
	require.Len(t, failures.failures, 1)
	require.Equal(t, 3, failures.failures[0].Attempts)
	require.Equal(t, int64(999), failures.failures[0].Event.ObjectID)
	require.Contains(t, failures.failures[0].Reason, "provider unavailable")
}

func TestEventHandlerDoesNotRetryTerminalFailures(t *testing.T) {
	applier := &scriptedApplier{errs: []error{fmt.Errorf("%w: revoked", domain.ErrReauthenticationRequired)}}
	failures := &memoryFailures{}
	handler := NewEventHandler(applier, failures, WithRetry(5, time.Millisecond), WithHandlerLogger(testLogger(t)))

	require.NoError(t, handler.Handle(context.Background(), handlerMessage()))
	require.Equal(t, 1, applier.calls)
	require.Len(t, failures.failures, 1)
}

func TestEventHandlerDropsUnknownAthlete(t *testing.T) {
	applier := &scriptedApplier{errs: []error{fmt.Errorf("%w: athlete 555", domain.ErrUnknownAthlete)}}
	failures := &memoryFailures{}
	handler := NewEventHandler(applier, failures, WithRetry(5, time.Millisecond), WithHandlerLogger(testLogger(t)))

	require.NoError(t, handler.Handle(context.Background(), handlerMessage()))
	require.Equal(t, 1, applier.calls)
	require.Empty(t, failures.failures)
}

func TestEventHandlerSurfacesRecorderFailure(t *testing.T) {
	applier := &scriptedApplier{errs: []error{errors.New("boom")}}
	failures := &memoryFailures{err: errors.New("db down")}
	handler := NewEventHandler(applier, failures, WithRetry(0, time.Millisecond), WithHandlerLogger(testLogger(t)))

	require.Error(t, handler.Handle(context.Background(), handlerMessage()))
}

func TestEventHandlerStopsOnCancellation(t *testing.T) {
	transient := fmt.Errorf("%w: 503", domain.ErrProviderUnavailable)
	applier := &scriptedApplier{errs: []error{transient, transient, transient, transient}}
	failures := &memoryFailures{}
	handler := NewEventHandler(applier, failures, WithRetry(3, time.Hour), WithHandlerLogger(testLogger(t)))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	err := handler.Handle(ctx, handlerMessage())
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, failures.failures)
}
