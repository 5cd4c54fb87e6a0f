package strava

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/activitysync/internal/domain"
)

func TestExchangeCodeReadsAthleteAndExpiry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/oauth/token", r.URL.Path)
		require.NoError(t, r.ParseForm())
		require.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
		require.Equal(t, "client-1", r.PostForm.Get("client_id"))
		require.Equal(t, "secret-1", r.PostForm.Get("client_secret"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"token_type":"Bearer","access_token":"a1","refresh_token":"r1","expires_at":1893456000,"expires_in":21600,"athlete":{"id":555}}`)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	grant, err := client.ExchangeCode(context.Background(), "code-1")
	require.NoError(t, err)
	require.Equal(t, "a1", grant.AccessToken)
	require.Equal(t, "r1", grant.RefreshToken)
	require.Equal(t, int64(555), grant.AthleteID)
	require.Equal(t, time.Unix(1893456000, 0).UTC(), grant.ExpiresAt)
}

func TestRefreshTokenKeepsPreviousTokenWhenNotRotated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		require.Equal(t, "r-old", r.PostForm.Get("refresh_token"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"token_type":"Bearer","access_token":"a2","expires_in":21600}`)
	}))
	defer srv.Close()

	grant, err := newTestClient(srv.URL).RefreshToken(context.Background(), "r-old")
	require.NoError(t, err)
	require.Equal(t, "a2", grant.AccessToken)
	require.Equal(t, "r-old", grant.RefreshToken)
	require.WithinDuration(t, time.Now().Add(6*time.Hour), grant.ExpiresAt, time.Minute)
}

func TestRefreshTokenInvalidGrantRequiresReauthentication(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"message":"Bad Request","errors":[{"resource":"RefreshToken","field":"refresh_token","code":"invalid"}]}`)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).RefreshToken(context.Background(), "revoked")
	require.ErrorIs(t, err, domain.ErrReauthenticationRequired)
}

func TestRefreshTokenServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).RefreshToken(context.Background(), "r")
	require.ErrorIs(t, err, domain.ErrProviderUnavailable)
	require.NotErrorIs(t, err, domain.ErrReauthenticationRequired)
}

func TestGetActivityMapsStatusCodes(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, domain.ErrReauthenticationRequired},
		{http.StatusNotFound, domain.ErrNotFound},
		{http.StatusTooManyRequests, domain.ErrProviderUnavailable},
		{http.StatusServiceUnavailable, domain.ErrProviderUnavailable},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, `{"message":"nope"}`)
			}))
			defer srv.Close()

			_, err := newTestClient(srv.URL).GetActivity(context.Background(), "token", 999)
			require.ErrorIs(t, err, tc.want)
			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			require.Equal(t, tc.status, apiErr.StatusCode)
		})
	}
}

func TestGetActivityDecodesDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/activities/999", r.URL.Path)
		require.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `{"id":999,"athlete":{"id":555},"name":"Lunch Run","type":"Run","sport_type":"Run","distance":5000.5,"moving_time":1500,"elapsed_time":1600,"start_date":"2024-05-01T12:00:00Z","average_heartrate":151.2}`)
	}))
	defer srv.Close()

	activity, err := newTestClient(srv.URL).GetActivity(context.Background(), "token", 999)
	require.NoError(t, err)
	require.Equal(t, int64(999), activity.ID)
	require.Equal(t, int64(555), activity.AthleteID)
	require.Equal(t, 5000.5, activity.Distance)
	require.NotNil(t, activity.AverageHeartrate)
	require.Nil(t, activity.MaxHeartrate)
	require.Contains(t, string(activity.Details), "Lunch Run")
}

func TestListActivitiesSendsPaging(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/athlete/activities", r.URL.Path)
		require.Equal(t, "2", r.URL.Query().Get("page"))
		require.Equal(t, "30", r.URL.Query().Get("per_page"))
		_, _ = io.WriteString(w, `[{"id":1,"athlete":{"id":5},"start_date":"2024-05-01T12:00:00Z"},{"id":2,"athlete":{"id":5},"start_date":"2024-05-02T12:00:00Z"}]`)
	}))
	defer srv.Close()

	page, err := newTestClient(srv.URL).ListActivities(context.Background(), "token", 2, 30)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, int64(2), page[1].ID)
}

func TestClientWaitsOnLimiter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[]`)
	}))
	defer srv.Close()

	limiter := &countingLimiter{}
	client := newTestClient(srv.URL, WithLimiter(limiter))
	_, err := client.ListActivities(context.Background(), "token", 1, 30)
	require.NoError(t, err)
	require.Equal(t, int32(1), limiter.calls.Load())

	limiter.err = fmt.Errorf("redis down")
	_, err = client.ListActivities(context.Background(), "token", 1, 30)
	require.ErrorIs(t, err, domain.ErrProviderUnavailable)
}

func TestAuthCodeURLCarriesScope(t *testing.T) {
	client := newTestClient("https://provider.test")
	raw := client.AuthCodeURL("state-1", "read,activity:read_all")
	parsed, err := url.Parse(raw)
	require.NoError(t, err)
	require.Equal(t, "read,activity:read_all", parsed.Query().Get("scope"))
	require.Equal(t, "state-1", parsed.Query().Get("state"))
	require.Equal(t, "code", parsed.Query().Get("response_type"))
}

func TestCreateSubscriptionPostsForm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v3/push_subscriptions", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		values, err := url.ParseQuery(string(body))
		require.NoError(t, err)
		require.Equal(t, "https://hooks.test/webhook", values.Get("callback_url"))
		require.Equal(t, "verify-me", values.Get("verify_token"))
		require.True(t, strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded"))
		_, _ = io.WriteString(w, `{"id":4242}`)
	}))
	defer srv.Close()

	id, err := newTestClient(srv.URL).CreateSubscription(context.Background(), "https://hooks.test/webhook", "verify-me")
	require.NoError(t, err)
	require.Equal(t, int64(4242), id)
}

type countingLimiter struct {
	calls atomic.Int32
	err   error
}

func (l *countingLimiter) Wait(context.Context, string) error {
	l.calls.Add(1)
	return l.err
}

func newTestClient(baseURL string, opts ...Option) *Client {
	return NewClient(Config{
		ClientID:       "client-1",
		ClientSecret:   "secret-1",
		RedirectURL:    "https://app.test/oauth/callback",
		AuthURL:        baseURL + "/oauth/authorize",
		TokenURL:       baseURL + "/oauth/token",
		DeauthorizeURL: baseURL + "/oauth/deauthorize",
		APIBaseURL:     baseURL + "/api/v3",
		Timeout:        2 * time.Second,
	}, opts...)
}
