package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

var testConfig = Config{Secret: "test-secret", Issuer: "activity-sync"}

func TestIssueThenParse(t *testing.T) {
	token, err := Issue(testConfig, "user-1", []string{"activities:read", "sync:write"}, time.Minute)
	require.NoError(t, err)

	claims, err := Parse(token, testConfig)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.Subject)
	require.True(t, claims.HasScope("activities:read"))
	require.True(t, claims.HasScope("sync:write"))
	require.False(t, claims.HasScope("tokens:read"))
}

func TestParseRejectsBadTokens(t *testing.T) {
	expired, err := Issue(testConfig, "user-1", nil, -time.Minute)
	require.NoError(t, err)
	_, err = Parse(expired, testConfig)
	require.ErrorIs(t, err, ErrInvalidToken)

	otherIssuer, err := Issue(Config{Secret: testConfig.Secret, Issuer: "someone-else"}, "user-1", nil, time.Minute)
	require.NoError(t, err)
	_, err = Parse(otherIssuer, testConfig)
	require.ErrorIs(t, err, ErrInvalidToken)

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": testConfig.Issuer,
		"exp": time.Now().Add(time.Minute).Unix(),
	}).SignedString([]byte(testConfig.Secret))
	require.NoError(t, err)
	_, err = Parse(noSubject, testConfig)
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = Parse("  ", testConfig)
	require.ErrorIs(t, err, ErrMissingToken)
}

func TestParseEnforcesAudience(t *testing.T) {
	stateCfg := testConfig
	stateCfg.Audience = "oauth-state"

	token, err := Issue(stateCfg, "user-1", []string{"read"}, time.Minute)
	require.NoError(t, err)
	_, err = Parse(token, stateCfg)
	require.NoError(t, err)

	bearer, err := Issue(testConfig, "user-1", nil, time.Minute)
	require.NoError(t, err)
	_, err = Parse(bearer, stateCfg)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestMiddlewareStoresClaims(t *testing.T) {
	token, err := Issue(testConfig, "user-1", []string{"activities:read"}, time.Minute)
	require.NoError(t, err)

	var seen *Claims
	authn := NewAuthenticator(testConfig, "test", func(r *http.Request) bool { return r.URL.Path == "/healthz" })
	handler := authn.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/x", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Equal(t, "user-1", seen.Subject)

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/x", nil))
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Equal(t, `Bearer realm="test"`, rr.Header().Get("WWW-Authenticate"))

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusNoContent, rr.Code)
}

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := BearerToken(req)
	require.ErrorIs(t, err, ErrMissingToken)

	req.Header.Set("Authorization", "Basic abc")
	_, err = BearerToken(req)
	require.ErrorIs(t, err, ErrInvalidToken)

	req.Header.Set("Authorization", "bearer  abc.def ")
	token, err := BearerToken(req)
	require.NoError(t, err)
	require.Equal(t, "abc.def", token)
}
