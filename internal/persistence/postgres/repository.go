// Package postgres implements the domain stores on PostgreSQL.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/activitysync/internal/domain"
	platformevents "example.com/activitysync/internal/platform/events"
)

const (
	pgUniqueViolation       = "23505"
	pgForeignKeyViolation   = "23503"
	pgInsufficientPrivilege = "42501"
)

// Repository provides Postgres-backed persistence for users, credentials,
// activities, sync status and outbox events.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var (
	_ domain.CredentialStore = (*Repository)(nil)
	_ domain.ActivityStore   = (*Repository)(nil)
	_ domain.SyncStatusStore = (*Repository)(nil)
	_ domain.UserStore       = (*Repository)(nil)
)

// inAthleteTx runs fn in a transaction whose row-level security scope is the athlete.
func (r *Repository) inAthleteTx(ctx context.Context, athleteID int64, fn func(pgx.Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT set_config('app.athlete_id', $1, true)", strconv.FormatInt(athleteID, 10)); err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) insertOutbox(ctx context.Context, tx pgx.Tx, athleteID, activityID int64, eventType string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	meta, ok := eventCatalog[eventType]
	if !ok {
		return fmt.Errorf("unknown event type: %s", eventType)
	}

	aggregateID := strconv.FormatInt(activityID, 10)
	dedupeKey := fmt.Sprintf("%s:%s", aggregateID, eventType)

	const stmt = `INSERT INTO outbox (athlete_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	_, err = tx.Exec(ctx, stmt,
		athleteID,
		"activity",
		aggregateID,
		eventType,
		meta.Topic,
		meta.SchemaSubject,
		meta.PartitionKeyFn(athleteID, activityID),
		body,
		dedupeKey,
	)
	return err
}

// EventMetadata describes how to route an outbox event. Subjects follow the
// topic-record naming strategy since both event types share one topic.
type EventMetadata struct {
	Topic          string
	SchemaSubject  string
	PartitionKeyFn func(athleteID, activityID int64) string
}

// ActivityChangesTopic receives every activity change event.
const ActivityChangesTopic = "activity_changes"

func athletePartitionKey(athleteID, _ int64) string {
	return strconv.FormatInt(athleteID, 10)
}

var eventCatalog = map[string]EventMetadata{
	platformevents.ActivityUpsertedType: {
		Topic:          ActivityChangesTopic,
		SchemaSubject:  ActivityChangesTopic + "-" + platformevents.ActivityUpsertedType,
		PartitionKeyFn: athletePartitionKey,
	},
	platformevents.ActivityDeletedType: {
		Topic:          ActivityChangesTopic,
		SchemaSubject:  ActivityChangesTopic + "-" + platformevents.ActivityDeletedType,
		PartitionKeyFn: athletePartitionKey,
	},
}

func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func nullableJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
