package auth

import (
	"net/http"
	"strings"

	authlib "example.com/activitysync/internal/platform/auth"
)

const realm = "activity-sync"

// NewMiddleware returns bearer-token authentication for the API router. Provider
// facing endpoints authenticate by other means and are skipped.
func NewMiddleware(cfg Config) func(http.Handler) http.Handler {
	return authlib.NewAuthenticator(cfg, realm, publicPath).Handler
}

func publicPath(r *http.Request) bool {
	switch r.URL.Path {
	case "/healthz", "/metrics", "/webhook", "/oauth/callback":
		return true
	}
	return r.Method == http.MethodOptions && strings.HasPrefix(r.URL.Path, "/v1/")
}
