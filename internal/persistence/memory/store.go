// Package memory provides in-process implementations of the domain stores. It backs
// local development when POSTGRES_URL is unset and the engine's unit tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"example.com/activitysync/internal/domain"
	"example.com/activitysync/internal/persistence"
)

// Store keeps users, credentials, activities and sync status in memory.
type Store struct {
	mu          sync.RWMutex
	users       map[uuid.UUID]domain.User
	credentials []*domain.Credential
	activities  map[int64]domain.Activity
	syncs       map[uuid.UUID]domain.SyncStatus

	lockMu      sync.Mutex
	refreshLock map[uuid.UUID]*sync.Mutex

	now func() time.Time
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		users:       make(map[uuid.UUID]domain.User),
		activities:  make(map[int64]domain.Activity),
		syncs:       make(map[uuid.UUID]domain.SyncStatus),
		refreshLock: make(map[uuid.UUID]*sync.Mutex),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

var (
	_ domain.CredentialStore = (*Store)(nil)
	_ domain.ActivityStore   = (*Store)(nil)
	_ domain.SyncStatusStore = (*Store)(nil)
	_ domain.UserStore       = (*Store)(nil)
)

// EnsureUser returns the user with the e-mail, creating it on first login.
func (s *Store) EnsureUser(_ context.Context, email string) (*domain.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for id, user := range s.users {
		if user.Email == email {
			user.LastLogin = &now
			user.Active = true
			s.users[id] = user
			return &user, nil
		}
	}

	user := domain.User{ID: uuid.New(), Email: email, CreatedAt: now, LastLogin: &now, Active: true}
	s.users[user.ID] = user
	return &user, nil
}

// GetUser returns the user or domain.ErrUserNotFound.
func (s *Store) GetUser(_ context.Context, userID uuid.UUID) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[userID]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return &user, nil
}

// DeactivateUser flags the user inactive.
func (s *Store) DeactivateUser(_ context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return domain.ErrUserNotFound
	}
	user.Active = false
	s.users[userID] = user
	return nil
}

// GetCredential returns the latest credential for the user.
func (s *Store) GetCredential(_ context.Context, userID uuid.UUID) (*domain.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.credentials) - 1; i >= 0; i-- {
		if s.credentials[i].UserID == userID {
			cred := *s.credentials[i]
			return &cred, nil
		}
	}
	return nil, domain.ErrCredentialNotFound
}

// GetCredentialByAthlete returns the connected credential for the athlete.
func (s *Store) GetCredentialByAthlete(_ context.Context, athleteID int64) (*domain.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.credentials {
		if c.AthleteID == athleteID && !c.Revoked() {
			cred := *c
			return &cred, nil
		}
	}
	return nil, domain.ErrCredentialNotFound
}

// SaveCredential stores a new connection and revokes whatever it replaces.
func (s *Store) SaveCredential(_ context.Context, cred domain.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[cred.UserID]; !ok {
		return domain.ErrUserNotFound
	}

	now := s.now()
	for _, c := range s.credentials {
		if !c.Revoked() && (c.UserID == cred.UserID || c.AthleteID == cred.AthleteID) {
			revokedAt := now
			c.RevokedAt = &revokedAt
			c.RevokedReason = "replaced"
		}
	}

	stored := cred
	if stored.ConnectedAt.IsZero() {
		stored.ConnectedAt = now
	}
	stored.UpdatedAt = now
	stored.RevokedAt = nil
	stored.RevokedReason = ""
	stored.Version = 1
	s.credentials = append(s.credentials, &stored)
	return nil
}

// RefreshCredential holds the user's refresh lock while fn decides on a replacement.
func (s *Store) RefreshCredential(ctx context.Context, userID uuid.UUID, fn func(domain.Credential) (*domain.Credential, error)) (*domain.Credential, error) {
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	current, err := s.activeCredential(userID)
	if err != nil {
		return nil, err
	}

	next, err := fn(current)
	if err != nil {
		return nil, err
	}
	if next == nil {
		return &current, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.credentials {
		if c.UserID == userID && !c.Revoked() {
			if c.Version != current.Version {
				return nil, fmt.Errorf("%w: credential version moved during refresh", domain.ErrStorageConflict)
			}
			updated := *next
			updated.UserID = c.UserID
			updated.AthleteID = c.AthleteID
			updated.ConnectedAt = c.ConnectedAt
			updated.UpdatedAt = s.now()
			updated.Version = c.Version + 1
			*c = updated
			out := updated
			return &out, nil
		}
	}
	return nil, domain.ErrCredentialNotFound
}

// RevokeCredential marks the user's connected credential revoked.
func (s *Store) RevokeCredential(_ context.Context, userID uuid.UUID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.credentials {
		if c.UserID == userID && !c.Revoked() {
			now := s.now()
			c.RevokedAt = &now
			c.RevokedReason = reason
			c.Version++
			return nil
		}
	}
	return domain.ErrCredentialNotFound
}

func (s *Store) activeCredential(userID uuid.UUID) (domain.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.credentials {
		if c.UserID == userID && !c.Revoked() {
			return *c, nil
		}
	}
	return domain.Credential{}, domain.ErrCredentialNotFound
}

func (s *Store) userLock(userID uuid.UUID) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()

	lock, ok := s.refreshLock[userID]
	if !ok {
		lock = &sync.Mutex{}
		s.refreshLock[userID] = lock
	}
	return lock
}

// UpsertActivity replaces the stored activity wholesale. The owning athlete never changes.
func (s *Store) UpsertActivity(_ context.Context, athleteID int64, activity domain.Activity) error {
	if activity.AthleteID != athleteID {
		return fmt.Errorf("%w: activity %d carries athlete %d, scope is %d", domain.ErrAthleteMismatch, activity.ID, activity.AthleteID, athleteID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	stored := activity
	stored.Details = append([]byte(nil), activity.Details...)
	stored.CreatedAt = now
	if existing, ok := s.activities[activity.ID]; ok {
		if existing.AthleteID != athleteID {
			return fmt.Errorf("%w: activity %d is owned by athlete %d", domain.ErrAthleteMismatch, activity.ID, existing.AthleteID)
		}
		stored.CreatedAt = existing.CreatedAt
	}
	stored.UpdatedAt = now
	s.activities[activity.ID] = stored
	return nil
}

// DeleteActivity removes the activity if the athlete owns it. It reports whether a row was removed.
func (s *Store) DeleteActivity(_ context.Context, athleteID, activityID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.activities[activityID]
	if !ok || existing.AthleteID != athleteID {
		return false, nil
	}
	delete(s.activities, activityID)
	return true, nil
}

// GetActivity returns nil when the athlete has no such activity.
func (s *Store) GetActivity(_ context.Context, athleteID, activityID int64) (*domain.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	activity, ok := s.activities[activityID]
	if !ok || activity.AthleteID != athleteID {
		return nil, nil
	}
	return &activity, nil
}

// ListActivities returns the athlete's activities newest first.
func (s *Store) ListActivities(_ context.Context, athleteID int64, cursor *domain.Cursor, limit int) ([]domain.Activity, *domain.Cursor, error) {
	s.mu.RLock()
	matched := make([]domain.Activity, 0)
	for _, activity := range s.activities {
		if activity.AthleteID == athleteID && persistence.Before(activity, cursor) {
			matched = append(matched, activity)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].StartDate.Equal(matched[j].StartDate) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].StartDate.After(matched[j].StartDate)
	})

	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	var next *domain.Cursor
	if limit > 0 && len(matched) == limit {
		last := matched[len(matched)-1]
		next = &domain.Cursor{StartDate: last.StartDate, ID: last.ID}
	}
	return matched, next, nil
}

// CountActivities returns the number of stored activities for the athlete.
func (s *Store) CountActivities(_ context.Context, athleteID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, activity := range s.activities {
		if activity.AthleteID == athleteID {
			count++
		}
	}
	return count, nil
}

// BeginSync stamps a new sweep start and resets its progress. The last completion
// time survives until the new sweep completes.
func (s *Store) BeginSync(_ context.Context, userID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := s.syncs[userID]
	s.syncs[userID] = domain.SyncStatus{UserID: userID, Started: &at, LastSync: status.LastSync}
	return nil
}

// RecordSyncProgress stores the running total for the current sweep.
func (s *Store) RecordSyncProgress(_ context.Context, userID uuid.UUID, total int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := s.syncs[userID]
	status.UserID = userID
	status.Total = total
	s.syncs[userID] = status
	return nil
}

// CompleteSync marks the sweep complete at the given time.
func (s *Store) CompleteSync(_ context.Context, userID uuid.UUID, total int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := s.syncs[userID]
	status.UserID = userID
	status.Completed = true
	status.Total = total
	status.LastSync = &at
	s.syncs[userID] = status
	return nil
}

// GetSyncStatus returns nil when no sweep was ever started.
func (s *Store) GetSyncStatus(_ context.Context, userID uuid.UUID) (*domain.SyncStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status, ok := s.syncs[userID]
	if !ok {
		return nil, nil
	}
	return &status, nil
}
