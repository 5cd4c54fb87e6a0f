package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// CredentialStore persists OAuth credentials.
type CredentialStore interface {
	// GetCredential returns the most recent credential for the user, revoked or not.
	GetCredential(ctx context.Context, userID uuid.UUID) (*Credential, error)
	// GetCredentialByAthlete returns the connected (non-revoked) credential for the athlete.
	GetCredentialByAthlete(ctx context.Context, athleteID int64) (*Credential, error)
	// SaveCredential stores a freshly connected credential, revoking any it replaces.
	SaveCredential(ctx context.Context, cred Credential) error
	// RefreshCredential runs fn while holding the user's refresh lock. fn sees the
	// latest stored credential; a nil result leaves it unchanged.
	RefreshCredential(ctx context.Context, userID uuid.UUID, fn func(Credential) (*Credential, error)) (*Credential, error)
	// RevokeCredential marks the user's connected credential revoked.
	RevokeCredential(ctx context.Context, userID uuid.UUID, reason string) error
}

// ActivityStore persists activities. Every call is scoped by athlete id.
type ActivityStore interface {
	UpsertActivity(ctx context.Context, athleteID int64, activity Activity) error
	DeleteActivity(ctx context.Context, athleteID, activityID int64) (bool, error)
	GetActivity(ctx context.Context, athleteID, activityID int64) (*Activity, error)
	ListActivities(ctx context.Context, athleteID int64, cursor *Cursor, limit int) ([]Activity, *Cursor, error)
	CountActivities(ctx context.Context, athleteID int64) (int, error)
}

// SyncStatusStore persists historical sweep progress.
type SyncStatusStore interface {
	BeginSync(ctx context.Context, userID uuid.UUID, at time.Time) error
	RecordSyncProgress(ctx context.Context, userID uuid.UUID, total int) error
	CompleteSync(ctx context.Context, userID uuid.UUID, total int, at time.Time) error
	GetSyncStatus(ctx context.Context, userID uuid.UUID) (*SyncStatus, error)
}

// UserStore persists application accounts.
type UserStore interface {
	EnsureUser(ctx context.Context, email string) (*User, error)
	GetUser(ctx context.Context, userID uuid.UUID) (*User, error)
	DeactivateUser(ctx context.Context, userID uuid.UUID) error
}
