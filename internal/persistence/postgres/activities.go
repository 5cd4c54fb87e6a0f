package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"example.com/activitysync/internal/domain"
	"example.com/activitysync/internal/observability"
	platformevents "example.com/activitysync/internal/platform/events"
)

const activityColumns = `id, athlete_id, name, type, sport_type, distance, moving_time, elapsed_time, total_elevation_gain,
        start_date, timezone, average_speed, max_speed, average_heartrate, max_heartrate, details, fetched_at, created_at, updated_at`

// UpsertActivity inserts or wholesale replaces the activity and records an
// activity.upserted outbox event in the same transaction. A row owned by another
// athlete is never touched.
func (r *Repository) UpsertActivity(ctx context.Context, athleteID int64, activity domain.Activity) error {
	if activity.AthleteID != athleteID {
		return fmt.Errorf("%w: activity %d carries athlete %d, scope is %d", domain.ErrAthleteMismatch, activity.ID, activity.AthleteID, athleteID)
	}

	const stmt = `INSERT INTO activities (id, athlete_id, name, type, sport_type, distance, moving_time, elapsed_time, total_elevation_gain,
            start_date, timezone, average_speed, max_speed, average_heartrate, max_heartrate, details, fetched_at, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,NOW(),NOW())
        ON CONFLICT (id) DO UPDATE SET
            name = EXCLUDED.name,
            type = EXCLUDED.type,
            sport_type = EXCLUDED.sport_type,
            distance = EXCLUDED.distance,
            moving_time = EXCLUDED.moving_time,
            elapsed_time = EXCLUDED.elapsed_time,
            total_elevation_gain = EXCLUDED.total_elevation_gain,
            start_date = EXCLUDED.start_date,
            timezone = EXCLUDED.timezone,
            average_speed = EXCLUDED.average_speed,
            max_speed = EXCLUDED.max_speed,
            average_heartrate = EXCLUDED.average_heartrate,
            max_heartrate = EXCLUDED.max_heartrate,
            details = EXCLUDED.details,
            fetched_at = EXCLUDED.fetched_at,
            updated_at = NOW()
        WHERE activities.athlete_id = EXCLUDED.athlete_id`

	err := r.inAthleteTx(ctx, athleteID, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, stmt,
			activity.ID,
			athleteID,
			activity.Name,
			activity.Type,
			activity.SportType,
			activity.Distance,
			activity.MovingTime,
			activity.ElapsedTime,
			activity.TotalElevationGain,
			activity.StartDate.UTC(),
			activity.Timezone,
			activity.AverageSpeed,
			activity.MaxSpeed,
			activity.AverageHeartrate,
			activity.MaxHeartrate,
			nullableJSON(activity.Details),
			activity.FetchedAt.UTC(),
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: activity %d is owned by another athlete", domain.ErrAthleteMismatch, activity.ID)
		}

		return r.insertOutbox(ctx, tx, athleteID, activity.ID, platformevents.ActivityUpsertedType, platformevents.ActivityUpserted{
			ActivityID: activity.ID,
			AthleteID:  athleteID,
			Name:       activity.Name,
			SportType:  activity.SportType,
			StartDate:  activity.StartDate.UTC(),
			Distance:   activity.Distance,
			MovingTime: activity.MovingTime,
			FetchedAt:  activity.FetchedAt.UTC(),
		})
	})
	if err != nil {
		switch pgErrorCode(err) {
		case pgInsufficientPrivilege:
			return fmt.Errorf("%w: activity %d is owned by another athlete", domain.ErrAthleteMismatch, activity.ID)
		case pgUniqueViolation:
			return fmt.Errorf("%w: %v", domain.ErrStorageConflict, err)
		}
		return err
	}

	observability.RecordActivityPersisted(time.Now().UTC())
	return nil
}

// DeleteActivity removes the activity when the athlete owns it and records an
// activity.deleted outbox event. Deleting an absent activity succeeds with false.
func (r *Repository) DeleteActivity(ctx context.Context, athleteID, activityID int64) (bool, error) {
	removed := false
	err := r.inAthleteTx(ctx, athleteID, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM activities WHERE id=$1 AND athlete_id=$2`, activityID, athleteID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		removed = true
		return r.insertOutbox(ctx, tx, athleteID, activityID, platformevents.ActivityDeletedType, platformevents.ActivityDeleted{
			ActivityID: activityID,
			AthleteID:  athleteID,
			DeletedAt:  time.Now().UTC(),
		})
	})
	if err != nil {
		return false, err
	}
	return removed, nil
}

// GetActivity retrieves an activity by ID, returning nil when the athlete has none.
func (r *Repository) GetActivity(ctx context.Context, athleteID, activityID int64) (*domain.Activity, error) {
	query := `SELECT ` + activityColumns + ` FROM activities WHERE athlete_id=$1 AND id=$2`

	var out *domain.Activity
	err := r.inAthleteTx(ctx, athleteID, func(tx pgx.Tx) error {
		activity, err := scanActivity(tx.QueryRow(ctx, query, athleteID, activityID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return err
		}
		out = &activity
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListActivities returns an athlete's activities ordered by start date, newest first.
func (r *Repository) ListActivities(ctx context.Context, athleteID int64, cursor *domain.Cursor, limit int) ([]domain.Activity, *domain.Cursor, error) {
	args := []interface{}{athleteID, limit}
	query := `SELECT ` + activityColumns + ` FROM activities WHERE athlete_id=$1`

	if cursor != nil {
		query += ` AND (start_date, id) < ($3, $4)`
		args = append(args, cursor.StartDate, cursor.ID)
	}

	query += ` ORDER BY start_date DESC, id DESC LIMIT $2`

	results := make([]domain.Activity, 0, limit)
	err := r.inAthleteTx(ctx, athleteID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			activity, err := scanActivity(rows)
			if err != nil {
				return err
			}
			results = append(results, activity)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, nil, err
	}

	var nextCursor *domain.Cursor
	if len(results) == limit && limit > 0 {
		last := results[len(results)-1]
		nextCursor = &domain.Cursor{StartDate: last.StartDate, ID: last.ID}
	}
	return results, nextCursor, nil
}

// CountActivities returns the number of stored activities for the athlete.
func (r *Repository) CountActivities(ctx context.Context, athleteID int64) (int, error) {
	var count int
	err := r.inAthleteTx(ctx, athleteID, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, `SELECT COUNT(*) FROM activities WHERE athlete_id=$1`, athleteID).Scan(&count)
	})
	return count, err
}

func scanActivity(row pgx.Row) (domain.Activity, error) {
	var a domain.Activity
	var details []byte
	err := row.Scan(
		&a.ID,
		&a.AthleteID,
		&a.Name,
		&a.Type,
		&a.SportType,
		&a.Distance,
		&a.MovingTime,
		&a.ElapsedTime,
		&a.TotalElevationGain,
		&a.StartDate,
		&a.Timezone,
		&a.AverageSpeed,
		&a.MaxSpeed,
		&a.AverageHeartrate,
		&a.MaxHeartrate,
		&details,
		&a.FetchedAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return domain.Activity{}, err
	}
	a.Details = details
	return a, nil
}
