package consumer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/activitysync/internal/domain"
)

type orderRecorder struct {
	mu   sync.Mutex
	seen map[int64][]domain.EventKind
}

func (o *orderRecorder) Handle(_ context.Context, msg Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seen[msg.Event.ObjectID] = append(o.seen[msg.Event.ObjectID], msg.Event.Kind)
	return nil
}

func TestInlineSinkKeepsPerObjectOrder(t *testing.T) {
	recorder := &orderRecorder{seen: map[int64][]domain.EventKind{}}
	sink := NewInlineSink(recorder, 4, 16, testLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sink.Run(ctx) }()

	kinds := []domain.EventKind{domain.EventCreate, domain.EventUpdate, domain.EventDelete}
	for id := int64(1); id <= 5; id++ {
		for _, kind := range kinds {
			require.NoError(t, sink.Publish(context.Background(), domain.CanonicalEvent{ObjectID: id, AthleteID: 1, Kind: kind}))
		}
	}

	require.Eventually(t, func() bool {
		recorder.mu.Lock()
		defer recorder.mu.Unlock()
		return len(recorder.seen) == 5 && len(recorder.seen[5]) == 3
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	for id := int64(1); id <= 5; id++ {
		require.Equal(t, kinds, recorder.seen[id])
	}
	require.ErrorIs(t, sink.Publish(context.Background(), domain.CanonicalEvent{ObjectID: 1}), ErrSinkClosed)
}

func TestInlineSinkRejectsWhenFull(t *testing.T) {
	sink := NewInlineSink(&stubHandler{}, 1, 1, testLogger(t))

	require.NoError(t, sink.Publish(context.Background(), domain.CanonicalEvent{ObjectID: 1}))
	require.ErrorIs(t, sink.Publish(context.Background(), domain.CanonicalEvent{ObjectID: 2}), ErrSinkFull)
}

func TestInlineSinkRunsOnce(t *testing.T) {
	sink := NewInlineSink(&stubHandler{}, 2, 4, testLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, sink.Run(ctx), context.Canceled)

	require.NotPanics(t, func() {
		require.ErrorIs(t, sink.Run(context.Background()), ErrSinkStarted)
	})
	require.ErrorIs(t, sink.Publish(context.Background(), domain.CanonicalEvent{ObjectID: 1}), ErrSinkClosed)
}
