package api

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"example.com/activitysync/internal/domain"
)

// UserView exposes an application account.
type UserView struct {
	UserID    uuid.UUID  `json:"user_id"`
	Email     string     `json:"email"`
	CreatedAt time.Time  `json:"created_at"`
	LastLogin *time.Time `json:"last_login,omitempty"`
	Active    bool       `json:"active"`
}

// TokenResponse carries a provider access token valid for at least the refresh margin.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// SyncStatusView reports historical sweep progress for a user.
type SyncStatusView struct {
	UserID        uuid.UUID  `json:"user_id"`
	SyncStarted   *time.Time `json:"sync_started,omitempty"`
	SyncCompleted bool       `json:"sync_completed"`
	Running       bool       `json:"running"`
	LastSyncDate  *time.Time `json:"last_sync_date,omitempty"`
	TotalSynced   int        `json:"total_activities_synced"`
	AthleteID     int64      `json:"athlete_id,omitempty"`
	ActivityCount int        `json:"activity_count"`
}

// ActivityView exposes a stored activity.
type ActivityView struct {
	ActivityID         int64           `json:"id"`
	AthleteID          int64           `json:"athlete_id"`
	Name               string          `json:"name"`
	Type               string          `json:"type"`
	SportType          string          `json:"sport_type,omitempty"`
	Distance           float64         `json:"distance"`
	MovingTime         int             `json:"moving_time"`
	ElapsedTime        int             `json:"elapsed_time"`
	TotalElevationGain float64         `json:"total_elevation_gain"`
	StartDate          time.Time       `json:"start_date"`
	Timezone           string          `json:"timezone,omitempty"`
	AverageSpeed       float64         `json:"average_speed"`
	MaxSpeed           float64         `json:"max_speed"`
	AverageHeartrate   *float64        `json:"average_heartrate,omitempty"`
	MaxHeartrate       *float64        `json:"max_heartrate,omitempty"`
	Details            json.RawMessage `json:"details,omitempty"`
	FetchedAt          time.Time       `json:"fetched_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// ListActivitiesResponse packages list results.
type ListActivitiesResponse struct {
	Items      []ActivityView `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// ConnectResponse reports the outcome of the OAuth callback.
type ConnectResponse struct {
	Status    string `json:"status"`
	UserID    string `json:"user_id"`
	AthleteID int64  `json:"athlete_id"`
	Scope     string `json:"scope"`
	Sync      string `json:"sync"`
}

func toUserView(u domain.User) UserView {
	return UserView{
		UserID:    u.ID,
		Email:     u.Email,
		CreatedAt: u.CreatedAt,
		LastLogin: u.LastLogin,
		Active:    u.Active,
	}
}

func toSyncStatusView(o domain.SyncOverview, running bool) SyncStatusView {
	return SyncStatusView{
		UserID:        o.Status.UserID,
		SyncStarted:   o.Status.Started,
		SyncCompleted: o.Status.Completed,
		Running:       running,
		LastSyncDate:  o.Status.LastSync,
		TotalSynced:   o.Status.Total,
		AthleteID:     o.AthleteID,
		ActivityCount: o.ActivityCount,
	}
}

func toActivityView(a domain.Activity) ActivityView {
	return ActivityView{
		ActivityID:         a.ID,
		AthleteID:          a.AthleteID,
		Name:               a.Name,
		Type:               a.Type,
		SportType:          a.SportType,
		Distance:           a.Distance,
		MovingTime:         a.MovingTime,
		ElapsedTime:        a.ElapsedTime,
		TotalElevationGain: a.TotalElevationGain,
		StartDate:          a.StartDate,
		Timezone:           a.Timezone,
		AverageSpeed:       a.AverageSpeed,
		MaxSpeed:           a.MaxSpeed,
		AverageHeartrate:   a.AverageHeartrate,
		MaxHeartrate:       a.MaxHeartrate,
		Details:            a.Details,
		FetchedAt:          a.FetchedAt,
		UpdatedAt:          a.UpdatedAt,
	}
}
