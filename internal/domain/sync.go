package domain

import (
	"time"

	"github.com/google/uuid"
)

// SyncStatus tracks one user's historical sweep. Started is when the current sweep
// began; LastSync is when a sweep last completed.
type SyncStatus struct {
	UserID    uuid.UUID
	Started   *time.Time
	Completed bool
	LastSync  *time.Time
	Total     int
}

// HasStarted reports whether a sweep was ever begun for the user.
func (s SyncStatus) HasStarted() bool {
	return s.Started != nil
}
