//go:build integration

package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	kafkaContainer "github.com/testcontainers/testcontainers-go/modules/kafka"

	"example.com/activitysync/internal/platform/events"
)

func TestDLQManagerQuarantinesExhaustedEntries(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgres(t, ctx)
	defer cleanup()

	require.NotZero(t, seedOutbox(t, ctx, pool, 555, 1, events.ActivityUpsertedType))
	dispatcher := NewDispatcher(pool, &stubProducer{err: errors.New("down")}, &stubRegistry{}, time.Millisecond, 10)
	require.NoError(t, dispatcher.processBatch(ctx))

	_, err := pool.Exec(ctx, `UPDATE outbox_dlq SET retry_count = 3`)
	require.NoError(t, err)

	before := testutil.ToFloat64(dlqEntriesCounter.WithLabelValues(events.ActivityUpsertedType, dlqOutcomeQuarantined))
	manager := NewDLQManager(pool, 3, time.Second, nil)
	requeued, err := manager.RunOnce(ctx, 10)
	require.NoError(t, err)
	require.Zero(t, requeued)
	require.InDelta(t, before+1, testutil.ToFloat64(dlqEntriesCounter.WithLabelValues(events.ActivityUpsertedType, dlqOutcomeQuarantined)), 0.0001)

	var quarantined int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_dlq WHERE quarantined_at IS NOT NULL`).Scan(&quarantined))
	require.Equal(t, 1, quarantined)
	require.Zero(t, testutil.ToFloat64(dlqBacklogGauge.WithLabelValues("pending")))
}

func TestDLQManagerSchedulesRetryForUnknownEvents(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgres(t, ctx)
	defer cleanup()

	require.NotZero(t, seedOutbox(t, ctx, pool, 555, 1, "activity.unknown"))
	dispatcher := NewDispatcher(pool, &stubProducer{}, &stubRegistry{}, time.Millisecond, 10)
	require.NoError(t, dispatcher.processBatch(ctx))

	manager := NewDLQManager(pool, 3, time.Minute, nil)
	requeued, err := manager.RunOnce(ctx, 10)
	require.NoError(t, err)
	require.Zero(t, requeued)

	var (
		retries int
		due     bool
	)
	require.NoError(t, pool.QueryRow(ctx, `SELECT retry_count, next_retry_at > NOW() FROM outbox_dlq`).Scan(&retries, &due))
	require.Equal(t, 1, retries)
	require.True(t, due)
	require.InDelta(t, 1, testutil.ToFloat64(dlqBacklogGauge.WithLabelValues("pending")), 0.0001)
}

func TestDLQReplayReachesKafka(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Minute)
	defer cancel()

	pool, cleanup := setupPostgres(t, ctx)
	defer cleanup()

	require.NotZero(t, seedOutbox(t, ctx, pool, 555, 999, events.ActivityDeletedType))
	registry := &stubRegistry{id: 100}

	// 1. Initial dispatch fails and moves the message to DLQ.
	failing := NewDispatcher(pool, &stubProducer{err: errors.New("upstream kafka unavailable")}, registry, 5*time.Millisecond, 10)
	require.NoError(t, failing.processBatch(ctx))

	// 2. Requeue the DLQ entry.
	manager := NewDLQManager(pool, 5, time.Second, nil)
	requeued, err := manager.RunOnce(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, requeued)

	var dlqCount int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_dlq`).Scan(&dlqCount))
	require.Zero(t, dlqCount, "expected DLQ cleared after requeue")

	// 3. Dispatch again against a real broker.
	kContainer, err := kafkaContainer.RunContainer(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = kContainer.Terminate(context.Background()) })

	brokers, err := kContainer.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)

	conn, err := kafka.Dial("tcp", brokers[0])
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.CreateTopics(kafka.TopicConfig{Topic: testTopic, NumPartitions: 1, ReplicationFactor: 1}))

	producer := NewKafkaProducer(brokers, 5*time.Millisecond)
	defer producer.Close()
	require.NoError(t, NewDispatcher(pool, producer, registry, 5*time.Millisecond, 10).processBatch(ctx))

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       testTopic,
		Partition:   0,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
	})
	defer reader.Close()

	readCtx, readCancel := context.WithTimeout(ctx, time.Minute)
	defer readCancel()
	msg, err := reader.ReadMessage(readCtx)
	require.NoError(t, err)
	require.Equal(t, "555", string(msg.Key))
	require.JSONEq(t, `{"activity_id":999,"athlete_id":555}`, stripDeletedAt(t, msg.Value[5:]))
}

func stripDeletedAt(t *testing.T, payload []byte) string {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(payload, &body))
	delete(body, "deleted_at")
	out, err := json.Marshal(body)
	require.NoError(t, err)
	return string(out)
}
