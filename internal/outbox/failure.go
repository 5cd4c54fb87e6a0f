package outbox

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const insertDLQ = `INSERT INTO outbox_dlq (athlete_id, event_id, event_type, topic, payload, reason, aggregate_type, aggregate_id, schema_subject, partition_key, next_retry_at)
                   VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10, NOW())`

// DLQWriter parks outbox messages that could not be published. Parked entries are
// due for replay immediately; the DLQManager applies backoff from there.
type DLQWriter struct {
	pool *pgxpool.Pool
}

// NewDLQWriter creates a DLQWriter.
func NewDLQWriter(pool *pgxpool.Pool) *DLQWriter {
	return &DLQWriter{pool: pool}
}

// WriteBatch parks every message in one round trip. reason is annotated with each
// message's topic.
func (w *DLQWriter) WriteBatch(ctx context.Context, messages []Message, reason string) error {
	if len(messages) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, msg := range messages {
		batch.Queue(insertDLQ,
			msg.AthleteID, msg.EventID, msg.EventType, msg.Topic, msg.Payload,
			fmt.Sprintf("%s (topic=%s)", reason, msg.Topic),
			msg.AggregateType, msg.AggregateID, msg.SchemaSubject, msg.PartitionKey,
		)
	}

	results := w.pool.SendBatch(ctx, batch)
	for _, msg := range messages {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("park event %d: %w", msg.EventID, err)
		}
	}
	return results.Close()
}
