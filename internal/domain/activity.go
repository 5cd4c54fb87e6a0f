package domain

import (
	"encoding/json"
	"time"
)

// Activity is the canonical record stored for one provider activity. ID is the
// provider's external identifier and doubles as the idempotency key.
type Activity struct {
	ID                 int64
	AthleteID          int64
	Name               string
	Type               string
	SportType          string
	Distance           float64
	MovingTime         int
	ElapsedTime        int
	TotalElevationGain float64
	StartDate          time.Time
	Timezone           string
	AverageSpeed       float64
	MaxSpeed           float64
	AverageHeartrate   *float64
	MaxHeartrate       *float64
	Details            json.RawMessage
	FetchedAt          time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Cursor models the pagination token for activity listings.
type Cursor struct {
	StartDate time.Time
	ID        int64
}
