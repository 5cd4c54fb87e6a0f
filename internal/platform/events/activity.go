// Package events defines the activity change payloads published through the outbox.
package events

import "time"

const (
	// ActivityUpsertedType names the event emitted after a create or update is applied.
	ActivityUpsertedType = "activity.upserted"
	// ActivityDeletedType names the event emitted after a stored activity is removed.
	ActivityDeletedType = "activity.deleted"
)

// ActivityUpserted tells downstream readers an activity row now holds a new snapshot.
type ActivityUpserted struct {
	ActivityID int64     `json:"activity_id"`
	AthleteID  int64     `json:"athlete_id"`
	Name       string    `json:"name"`
	SportType  string    `json:"sport_type"`
	StartDate  time.Time `json:"start_date"`
	Distance   float64   `json:"distance"`
	MovingTime int       `json:"moving_time"`
	FetchedAt  time.Time `json:"fetched_at"`
}

// ActivityDeleted tells downstream readers to drop an activity.
type ActivityDeleted struct {
	ActivityID int64     `json:"activity_id"`
	AthleteID  int64     `json:"athlete_id"`
	DeletedAt  time.Time `json:"deleted_at"`
}
