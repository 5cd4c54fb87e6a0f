package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"example.com/activitysync/internal/domain"
)

// EnsureUser creates the user on first login and stamps last_login on later ones.
func (r *Repository) EnsureUser(ctx context.Context, email string) (*domain.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}

	row := r.pool.QueryRow(ctx,
		`INSERT INTO users (id, email, created_at, last_login, active)
         VALUES ($1, $2, NOW(), NOW(), TRUE)
         ON CONFLICT (email) DO UPDATE SET last_login = NOW(), active = TRUE
         RETURNING id, email, created_at, last_login, active`,
		uuid.New(), email,
	)
	return scanUser(row)
}

// GetUser returns the user or domain.ErrUserNotFound.
func (r *Repository) GetUser(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, email, created_at, last_login, active FROM users WHERE id=$1`, userID)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

// DeactivateUser flags the user inactive. Users are never hard-deleted.
func (r *Repository) DeactivateUser(ctx context.Context, userID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET active = FALSE WHERE id=$1`, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var user domain.User
	if err := row.Scan(&user.ID, &user.Email, &user.CreatedAt, &user.LastLogin, &user.Active); err != nil {
		return nil, err
	}
	return &user, nil
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
