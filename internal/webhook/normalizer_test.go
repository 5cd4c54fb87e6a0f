package webhook

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/activitysync/internal/domain"
)

func TestNormalizeActivityAspects(t *testing.T) {
	for aspect, kind := range map[string]domain.EventKind{
		"create": domain.EventCreate,
		"update": domain.EventUpdate,
		"delete": domain.EventDelete,
	} {
		raw := []byte(`{"aspect_type":"` + aspect + `","event_time":1516126040,"object_id":1360128428,"object_type":"activity","owner_id":134815,"subscription_id":120475,"updates":{"title":"Messy","private":true}}`)
		event, err := Normalize(raw)
		require.NoError(t, err, aspect)
		require.Equal(t, kind, event.Kind)
		require.Equal(t, int64(1360128428), event.ObjectID)
		require.Equal(t, int64(134815), event.AthleteID)
		require.Equal(t, int64(120475), event.SubscriptionID)
		require.Equal(t, time.Unix(1516126040, 0).UTC(), event.EventTime)
		require.Equal(t, "activity:1360128428:"+aspect+":1516126040", event.ProviderEventID)
		require.Equal(t, "Messy", event.Updates["title"])
		require.Equal(t, "true", event.Updates["private"])
	}
}

func TestNormalizeDeauthorization(t *testing.T) {
	event, err := Normalize([]byte(`{"aspect_type":"update","event_time":1516126040,"object_id":134815,"object_type":"athlete","owner_id":134815,"subscription_id":120475,"updates":{"authorized":"false"}}`))
	require.NoError(t, err)
	require.Equal(t, domain.EventDeauthorize, event.Kind)
	require.Equal(t, int64(134815), event.AthleteID)
}

func TestNormalizeUnsupported(t *testing.T) {
	for _, raw := range []string{
		`{"aspect_type":"update","object_id":1,"object_type":"athlete","owner_id":1,"updates":{"firstname":"x"}}`,
		`{"aspect_type":"create","object_id":1,"object_type":"route","owner_id":1}`,
		`{"aspect_type":"archive","object_id":1,"object_type":"activity","owner_id":1}`,
	} {
		_, err := Normalize([]byte(raw))
		require.ErrorIs(t, err, domain.ErrUnsupportedEvent, raw)
	}
}

func TestNormalizeMalformed(t *testing.T) {
	for _, raw := range []string{
		`{`,
		`{"aspect_type":"create","object_id":1,"owner_id":1}`,
		`{"object_type":"activity","object_id":1,"owner_id":1}`,
		`{"aspect_type":"create","object_type":"activity","owner_id":1}`,
		`{"aspect_type":"create","object_type":"activity","object_id":1}`,
		`{"aspect_type":"create","object_type":"activity","object_id":"abc","owner_id":1}`,
	} {
		_, err := Normalize([]byte(raw))
		require.ErrorIs(t, err, domain.ErrMalformedEvent, raw)
	}
}
