package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	authlib "example.com/activitysync/internal/platform/auth"
)

var testConfig = Config{Secret: "test-secret", Issuer: "activity-sync"}

func TestStateRoundTrip(t *testing.T) {
	signer := NewStateSigner(testConfig, time.Minute)
	userID := uuid.New()

	state, err := signer.Issue(userID, "read_all")
	require.NoError(t, err)

	gotUser, scope, err := signer.Verify(state)
	require.NoError(t, err)
	require.Equal(t, userID, gotUser)
	require.Equal(t, "read_all", scope)
}

func TestStateIsNotABearerToken(t *testing.T) {
	signer := NewStateSigner(testConfig, time.Minute)
	state, err := signer.Issue(uuid.New(), "read")
	require.NoError(t, err)

	_, err = authlib.Parse(state, testConfig)
	require.Error(t, err)

	bearer, err := authlib.Issue(testConfig, uuid.NewString(), nil, time.Minute)
	require.NoError(t, err)
	_, _, err = signer.Verify(bearer)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestCanActAs(t *testing.T) {
	owner := &Claims{Subject: "u1", Scopes: map[string]struct{}{}}
	service := &Claims{Subject: "svc", Scopes: map[string]struct{}{ScopeInternal: {}}}

	require.True(t, CanActAs(owner, "u1"))
	require.False(t, CanActAs(owner, "u2"))
	require.True(t, CanActAs(service, "u2"))
	require.False(t, CanActAs(nil, "u1"))
}

func TestMiddlewareSkipsProviderEndpoints(t *testing.T) {
	handler := NewMiddleware(testConfig)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for _, path := range []string{"/webhook", "/oauth/callback", "/healthz", "/metrics"} {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, path, nil))
		require.Equal(t, http.StatusOK, rr.Code, path)
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/users/u1/sync", nil))
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestUserID(t *testing.T) {
	id := uuid.New()
	got, err := UserID(&Claims{Subject: id.String()})
	require.NoError(t, err)
	require.Equal(t, id, got)

	_, err = UserID(&Claims{Subject: "ingest-worker"})
	require.ErrorIs(t, err, ErrNotAUser)
	_, err = UserID(nil)
	require.ErrorIs(t, err, ErrNotAUser)
}
