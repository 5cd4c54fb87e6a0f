package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"example.com/activitysync/internal/domain"
)

// BeginSync stamps the sweep start and resets progress. last_sync_date keeps the
// previous completion until this sweep completes.
func (r *Repository) BeginSync(ctx context.Context, userID uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO user_sync_status (user_id, sync_started, sync_completed, total_activities_synced)
         VALUES ($1, $2, FALSE, 0)
         ON CONFLICT (user_id) DO UPDATE SET sync_started = $2, sync_completed = FALSE, total_activities_synced = 0`,
		userID, at.UTC(),
	)
	return err
}

// RecordSyncProgress stores the running total of the current sweep.
func (r *Repository) RecordSyncProgress(ctx context.Context, userID uuid.UUID, total int) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO user_sync_status (user_id, sync_completed, total_activities_synced)
         VALUES ($1, FALSE, $2)
         ON CONFLICT (user_id) DO UPDATE SET total_activities_synced = $2`,
		userID, total,
	)
	return err
}

// CompleteSync flips the sweep to completed and stamps last_sync_date.
func (r *Repository) CompleteSync(ctx context.Context, userID uuid.UUID, total int, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO user_sync_status (user_id, sync_completed, last_sync_date, total_activities_synced)
         VALUES ($1, TRUE, $2, $3)
         ON CONFLICT (user_id) DO UPDATE SET sync_completed = TRUE, last_sync_date = $2, total_activities_synced = $3`,
		userID, at.UTC(), total,
	)
	return err
}

// GetSyncStatus returns nil when the user never started a sweep.
func (r *Repository) GetSyncStatus(ctx context.Context, userID uuid.UUID) (*domain.SyncStatus, error) {
	status := domain.SyncStatus{UserID: userID}
	err := r.pool.QueryRow(ctx,
		`SELECT sync_started, sync_completed, last_sync_date, total_activities_synced FROM user_sync_status WHERE user_id=$1`,
		userID,
	).Scan(&status.Started, &status.Completed, &status.LastSync, &status.Total)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &status, nil
}
