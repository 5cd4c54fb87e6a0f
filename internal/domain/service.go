// Package domain defines the entities, errors and storage ports of the activity sync service.
package domain

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// Service serves read-side queries over the activity store.
type Service struct {
	activities  ActivityStore
	credentials CredentialStore
	syncs       SyncStatusStore
}

// NewService constructs a Service.
func NewService(activities ActivityStore, credentials CredentialStore, syncs SyncStatusStore) *Service {
	return &Service{activities: activities, credentials: credentials, syncs: syncs}
}

// SyncOverview pairs the sweep status with the number of stored activities.
type SyncOverview struct {
	Status        SyncStatus
	AthleteID     int64
	ActivityCount int
}

// GetActivity fetches one activity owned by the athlete.
func (s *Service) GetActivity(ctx context.Context, athleteID, activityID int64) (*Activity, error) {
	activity, err := s.activities.GetActivity(ctx, athleteID, activityID)
	if err != nil {
		return nil, err
	}
	if activity == nil {
		return nil, ErrActivityNotFound
	}
	return activity, nil
}

// ListActivities fetches an athlete's activities with cursor pagination.
func (s *Service) ListActivities(ctx context.Context, athleteID int64, cursor *Cursor, limit int) ([]Activity, *Cursor, error) {
	return s.activities.ListActivities(ctx, athleteID, cursor, limit)
}

// SyncOverview reports the user's sweep status and, when connected, the stored activity count.
func (s *Service) SyncOverview(ctx context.Context, userID uuid.UUID) (*SyncOverview, error) {
	overview := &SyncOverview{Status: SyncStatus{UserID: userID}}

	status, err := s.syncs.GetSyncStatus(ctx, userID)
	if err != nil {
		return nil, err
	}
	if status != nil {
		overview.Status = *status
	}

	cred, err := s.credentials.GetCredential(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			return overview, nil
		}
		return nil, err
	}
	if cred.Revoked() {
		return overview, nil
	}

	count, err := s.activities.CountActivities(ctx, cred.AthleteID)
	if err != nil {
		return nil, err
	}
	overview.AthleteID = cred.AthleteID
	overview.ActivityCount = count
	return overview, nil
}
