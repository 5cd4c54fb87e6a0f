package domain

import (
	"fmt"
	"time"
)

// EventKind classifies a normalized webhook event.
type EventKind string

const (
	EventCreate      EventKind = "create"
	EventUpdate      EventKind = "update"
	EventDelete      EventKind = "delete"
	EventDeauthorize EventKind = "deauthorize"
)

// CanonicalEvent is the provider-independent form of a webhook delivery.
// It is transient and never persisted as-is.
type CanonicalEvent struct {
	ObjectID        int64             `json:"object_id"`
	AthleteID       int64             `json:"athlete_id"`
	Kind            EventKind         `json:"kind"`
	ProviderEventID string            `json:"provider_event_id"`
	SubscriptionID  int64             `json:"subscription_id,omitempty"`
	EventTime       time.Time         `json:"event_time"`
	ReceivedAt      time.Time         `json:"received_at"`
	Updates         map[string]string `json:"updates,omitempty"`
}

// ProviderEventKey derives a stable identifier for a delivery from its content, used
// for logging and failure records since the provider sends no delivery id.
func ProviderEventKey(objectType string, objectID int64, aspect string, eventTime int64) string {
	return fmt.Sprintf("%s:%d:%s:%d", objectType, objectID, aspect, eventTime)
}
