package webhook

import (
	"encoding/json"
	"fmt"
	"time"

	"example.com/activitysync/internal/domain"
)

type deliveryPayload struct {
	AspectType     *string                `json:"aspect_type"`
	EventTime      *int64                 `json:"event_time"`
	ObjectID       *int64                 `json:"object_id"`
	ObjectType     *string                `json:"object_type"`
	OwnerID        *int64                 `json:"owner_id"`
	SubscriptionID *int64                 `json:"subscription_id"`
	Updates        map[string]interface{} `json:"updates"`
}

// Normalize maps a raw delivery into a CanonicalEvent. Activity create, update and
// delete map one to one; an athlete update revoking authorization becomes a
// deauthorize event. Other object types are unsupported.
func Normalize(raw []byte) (domain.CanonicalEvent, error) {
	var p deliveryPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return domain.CanonicalEvent{}, fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
	}
	switch {
	case p.ObjectType == nil || *p.ObjectType == "":
		return domain.CanonicalEvent{}, fmt.Errorf("%w: missing object_type", domain.ErrMalformedEvent)
	case p.AspectType == nil || *p.AspectType == "":
		return domain.CanonicalEvent{}, fmt.Errorf("%w: missing aspect_type", domain.ErrMalformedEvent)
	case p.ObjectID == nil:
		return domain.CanonicalEvent{}, fmt.Errorf("%w: missing object_id", domain.ErrMalformedEvent)
	case p.OwnerID == nil:
		return domain.CanonicalEvent{}, fmt.Errorf("%w: missing owner_id", domain.ErrMalformedEvent)
	}

	event := domain.CanonicalEvent{
		ObjectID:  *p.ObjectID,
		AthleteID: *p.OwnerID,
		Updates:   stringifyUpdates(p.Updates),
	}
	var eventTime int64
	if p.EventTime != nil {
		eventTime = *p.EventTime
		event.EventTime = time.Unix(eventTime, 0).UTC()
	}
	if p.SubscriptionID != nil {
		event.SubscriptionID = *p.SubscriptionID
	}
	event.ProviderEventID = domain.ProviderEventKey(*p.ObjectType, *p.ObjectID, *p.AspectType, eventTime)

	switch *p.ObjectType {
	case "activity":
		switch *p.AspectType {
		case "create":
			event.Kind = domain.EventCreate
		case "update":
			event.Kind = domain.EventUpdate
		case "delete":
			event.Kind = domain.EventDelete
		default:
			return domain.CanonicalEvent{}, fmt.Errorf("%w: activity aspect %q", domain.ErrUnsupportedEvent, *p.AspectType)
		}
	case "athlete":
		if *p.AspectType == "update" && event.Updates["authorized"] == "false" {
			event.Kind = domain.EventDeauthorize
			return event, nil
		}
		return domain.CanonicalEvent{}, fmt.Errorf("%w: athlete %s", domain.ErrUnsupportedEvent, *p.AspectType)
	default:
		return domain.CanonicalEvent{}, fmt.Errorf("%w: object type %q", domain.ErrUnsupportedEvent, *p.ObjectType)
	}
	return event, nil
}

func stringifyUpdates(in map[string]interface{}) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		switch t := v.(type) {
		case string:
			out[k] = t
		case nil:
			out[k] = ""
		default:
			out[k] = fmt.Sprint(t)
		}
	}
	return out
}
