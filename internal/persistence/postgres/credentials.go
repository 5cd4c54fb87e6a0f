package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"example.com/activitysync/internal/domain"
)

const credentialColumns = `id, user_id, athlete_id, access_token, refresh_token, expires_at, scope, connected_at, updated_at, revoked_at, revoked_reason, version`

// GetCredential returns the user's most recent connection, revoked or not.
func (r *Repository) GetCredential(ctx context.Context, userID uuid.UUID) (*domain.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM strava_connections WHERE user_id=$1 ORDER BY id DESC LIMIT 1`
	_, cred, err := scanCredential(r.pool.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrCredentialNotFound
		}
		return nil, err
	}
	return &cred, nil
}

// GetCredentialByAthlete returns the connected credential for the athlete.
func (r *Repository) GetCredentialByAthlete(ctx context.Context, athleteID int64) (*domain.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM strava_connections WHERE athlete_id=$1 AND revoked_at IS NULL`
	_, cred, err := scanCredential(r.pool.QueryRow(ctx, query, athleteID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrCredentialNotFound
		}
		return nil, err
	}
	return &cred, nil
}

// SaveCredential stores a newly connected credential. Any connection held by the
// same user or athlete is revoked in the same transaction.
func (r *Repository) SaveCredential(ctx context.Context, cred domain.Credential) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE strava_connections SET revoked_at = NOW(), revoked_reason = 'replaced', version = version + 1
          WHERE revoked_at IS NULL AND (user_id = $1 OR athlete_id = $2)`,
		cred.UserID, cred.AthleteID,
	); err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO strava_connections (user_id, athlete_id, access_token, refresh_token, expires_at, scope, connected_at, updated_at, version)
         VALUES ($1,$2,$3,$4,$5,$6,COALESCE($7, NOW()),NOW(),1)`,
		cred.UserID,
		cred.AthleteID,
		cred.AccessToken,
		cred.RefreshToken,
		cred.ExpiresAt.UTC(),
		cred.Scope,
		nullableTime(cred.ConnectedAt),
	)
	if err != nil {
		switch pgErrorCode(err) {
		case pgForeignKeyViolation:
			return domain.ErrUserNotFound
		case pgUniqueViolation:
			return fmt.Errorf("%w: %v", domain.ErrStorageConflict, err)
		}
		return err
	}
	return tx.Commit(ctx)
}

// RefreshCredential locks the user's connected row, hands the current value to
// fn and writes fn's replacement guarded by the row version. Concurrent
// refreshers in other processes block on the row lock and then observe the
// replacement, so they can skip their own exchange.
func (r *Repository) RefreshCredential(ctx context.Context, userID uuid.UUID, fn func(domain.Credential) (*domain.Credential, error)) (*domain.Credential, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	query := `SELECT ` + credentialColumns + ` FROM strava_connections WHERE user_id=$1 AND revoked_at IS NULL FOR UPDATE`
	rowID, current, err := scanCredential(tx.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrCredentialNotFound
		}
		return nil, err
	}

	next, err := fn(current)
	if err != nil {
		return nil, err
	}
	if next == nil {
		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}
		return &current, nil
	}

	update := `UPDATE strava_connections
           SET access_token = $1, refresh_token = $2, expires_at = $3, scope = $4, updated_at = NOW(), version = version + 1
         WHERE id = $5 AND version = $6
        RETURNING ` + credentialColumns
	_, updated, err := scanCredential(tx.QueryRow(ctx, update,
		next.AccessToken,
		next.RefreshToken,
		next.ExpiresAt.UTC(),
		next.Scope,
		rowID,
		current.Version,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: credential version moved during refresh", domain.ErrStorageConflict)
		}
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &updated, nil
}

// RevokeCredential marks the user's connected credential revoked.
func (r *Repository) RevokeCredential(ctx context.Context, userID uuid.UUID, reason string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE strava_connections SET revoked_at = NOW(), revoked_reason = $2, version = version + 1
          WHERE user_id = $1 AND revoked_at IS NULL`,
		userID, reason,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrCredentialNotFound
	}
	return nil
}

func scanCredential(row pgx.Row) (int64, domain.Credential, error) {
	var (
		id     int64
		cred   domain.Credential
		reason *string
	)
	err := row.Scan(
		&id,
		&cred.UserID,
		&cred.AthleteID,
		&cred.AccessToken,
		&cred.RefreshToken,
		&cred.ExpiresAt,
		&cred.Scope,
		&cred.ConnectedAt,
		&cred.UpdatedAt,
		&cred.RevokedAt,
		&reason,
		&cred.Version,
	)
	if err != nil {
		return 0, domain.Credential{}, err
	}
	if reason != nil {
		cred.RevokedReason = *reason
	}
	return id, cred, nil
}
