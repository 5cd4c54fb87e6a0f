//go:build integration

package consumer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	kafkaContainer "github.com/testcontainers/testcontainers-go/modules/kafka"

	"example.com/activitysync/internal/domain"
	"example.com/activitysync/internal/reconcile"
	"example.com/activitysync/internal/webhook"
)

type collectingApplier struct {
	mu     sync.Mutex
	events []domain.CanonicalEvent
}

func (a *collectingApplier) Apply(_ context.Context, event domain.CanonicalEvent) (reconcile.Outcome, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return reconcile.OutcomeUpserted, nil
}

func (a *collectingApplier) snapshot() []domain.CanonicalEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domain.CanonicalEvent(nil), a.events...)
}

func TestKafkaSinkEventsReachEngineInOrder(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Minute)
	defer cancel()

	kafkaC, err := kafkaContainer.RunContainer(ctx, testcontainers.WithEnv(map[string]string{
		"KAFKA_AUTO_CREATE_TOPICS_ENABLE": "true",
	}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = kafkaC.Terminate(context.Background()) })

	brokers, err := kafkaC.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	broker := brokers[0]

	topic := "webhook_events"

	conn, err := kafka.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     3,
		ReplicationFactor: 1,
	}))

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     []string{broker},
		GroupID:     "activity-sync-integration",
		Topic:       topic,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
	})
	defer reader.Close()

	applier := &collectingApplier{}
	handler := NewEventHandler(applier, LogFailureRecorder{Logger: testLogger(t)}, WithHandlerLogger(testLogger(t)))

	consumerCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		_ = NewProcessor(reader, handler, WithLogger(testLogger(t))).Run(consumerCtx)
	}()

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(broker),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	defer writer.Close()

	sink := webhook.NewKafkaSink(writer, topic)
	kinds := []domain.EventKind{domain.EventCreate, domain.EventUpdate, domain.EventDelete, domain.EventDelete}
	for _, kind := range kinds {
		require.NoError(t, sink.Publish(ctx, domain.CanonicalEvent{
			ObjectID:   999,
			AthleteID:  555,
			Kind:       kind,
			ReceivedAt: time.Now().UTC(),
		}))
	}

	require.Eventually(t, func() bool {
		return len(applier.snapshot()) == len(kinds)
	}, 60*time.Second, 500*time.Millisecond)

	for i, event := range applier.snapshot() {
		require.Equal(t, kinds[i], event.Kind)
		require.Equal(t, int64(555), event.AthleteID)
	}
}
