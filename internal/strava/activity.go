package strava

import (
	"encoding/json"
	"fmt"
	"time"

	"example.com/activitysync/internal/domain"
)

type activityPayload struct {
	ID      int64 `json:"id"`
	Athlete struct {
		ID int64 `json:"id"`
	} `json:"athlete"`
	Name               string    `json:"name"`
	Type               string    `json:"type"`
	SportType          string    `json:"sport_type"`
	Distance           float64   `json:"distance"`
	MovingTime         int       `json:"moving_time"`
	ElapsedTime        int       `json:"elapsed_time"`
	TotalElevationGain float64   `json:"total_elevation_gain"`
	StartDate          time.Time `json:"start_date"`
	Timezone           string    `json:"timezone"`
	AverageSpeed       float64   `json:"average_speed"`
	MaxSpeed           float64   `json:"max_speed"`
	AverageHeartrate   *float64  `json:"average_heartrate"`
	MaxHeartrate       *float64  `json:"max_heartrate"`
}

func decodeActivity(raw json.RawMessage) (domain.Activity, error) {
	var p activityPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return domain.Activity{}, fmt.Errorf("%w: decode activity: %v", domain.ErrProviderUnavailable, err)
	}
	if p.ID == 0 {
		return domain.Activity{}, fmt.Errorf("%w: activity payload without id", domain.ErrProviderUnavailable)
	}
	return domain.Activity{
		ID:                 p.ID,
		AthleteID:          p.Athlete.ID,
		Name:               p.Name,
		Type:               p.Type,
		SportType:          p.SportType,
		Distance:           p.Distance,
		MovingTime:         p.MovingTime,
		ElapsedTime:        p.ElapsedTime,
		TotalElevationGain: p.TotalElevationGain,
		StartDate:          p.StartDate.UTC(),
		Timezone:           p.Timezone,
		AverageSpeed:       p.AverageSpeed,
		MaxSpeed:           p.MaxSpeed,
		AverageHeartrate:   p.AverageHeartrate,
		MaxHeartrate:       p.MaxHeartrate,
		Details:            append(json.RawMessage(nil), raw...),
	}, nil
}
