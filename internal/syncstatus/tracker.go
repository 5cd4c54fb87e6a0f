// Package syncstatus records progress of a user's historical sweep.
package syncstatus

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"example.com/activitysync/internal/domain"
)

// Tracker stamps sweep transitions with the current time and persists them.
type Tracker struct {
	store domain.SyncStatusStore
	now   func() time.Time
}

// NewTracker constructs a Tracker. A nil clock uses UTC wall time.
func NewTracker(store domain.SyncStatusStore, now func() time.Time) *Tracker {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Tracker{store: store, now: now}
}

// Begin starts a new sweep, clearing completion and the running total.
func (t *Tracker) Begin(ctx context.Context, userID uuid.UUID) error {
	if err := t.store.BeginSync(ctx, userID, t.now()); err != nil {
		return fmt.Errorf("begin sync for %s: %w", userID, err)
	}
	return nil
}

// RecordProgress stores the running total after a page.
func (t *Tracker) RecordProgress(ctx context.Context, userID uuid.UUID, total int) error {
	if err := t.store.RecordSyncProgress(ctx, userID, total); err != nil {
		return fmt.Errorf("record sync progress for %s: %w", userID, err)
	}
	return nil
}

// Complete marks the sweep finished with its final total and stamps the completion time.
func (t *Tracker) Complete(ctx context.Context, userID uuid.UUID, total int) error {
	if err := t.store.CompleteSync(ctx, userID, total, t.now()); err != nil {
		return fmt.Errorf("complete sync for %s: %w", userID, err)
	}
	return nil
}

// GetStatus returns the stored status, or a zero status when no sweep has run.
func (t *Tracker) GetStatus(ctx context.Context, userID uuid.UUID) (domain.SyncStatus, error) {
	status, err := t.store.GetSyncStatus(ctx, userID)
	if err != nil {
		return domain.SyncStatus{}, fmt.Errorf("get sync status for %s: %w", userID, err)
	}
	if status == nil {
		return domain.SyncStatus{UserID: userID}, nil
	}
	return *status, nil
}
