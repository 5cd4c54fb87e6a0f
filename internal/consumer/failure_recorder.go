package consumer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresFailureRecorder writes abandoned events into webhook_event_failures.
type PostgresFailureRecorder struct {
	pool *pgxpool.Pool
}

// NewPostgresFailureRecorder constructs a recorder backed by the provided pool.
func NewPostgresFailureRecorder(pool *pgxpool.Pool) *PostgresFailureRecorder {
	return &PostgresFailureRecorder{pool: pool}
}

// RecordFailure implements FailureRecorder.
func (r *PostgresFailureRecorder) RecordFailure(ctx context.Context, failure Failure) error {
	payload, err := json.Marshal(failure.Event)
	if err != nil {
		return fmt.Errorf("marshal failed event: %w", err)
	}

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	_, err = conn.Exec(ctx,
		`INSERT INTO webhook_event_failures (provider_event_id, athlete_id, object_id, event_kind, attempts, reason, payload, failed_at)
         VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		failure.Event.ProviderEventID,
		failure.Event.AthleteID,
		failure.Event.ObjectID,
		string(failure.Event.Kind),
		failure.Attempts,
		failure.Reason,
		payload,
		failure.FailedAt,
	)
	if err != nil {
		return fmt.Errorf("record event failure: %w", err)
	}
	return nil
}
