package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

type claimsKey struct{}

// WithClaims returns a copy of ctx carrying claims.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// FromContext returns the claims attached by the Authenticator.
func FromContext(ctx context.Context) (*Claims, bool) {
	claims, _ := ctx.Value(claimsKey{}).(*Claims)
	return claims, claims != nil
}

// BearerToken extracts the token from the Authorization header. The scheme is
// matched case-insensitively.
func BearerToken(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", ErrMissingToken
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", fmt.Errorf("%w: expected bearer scheme", ErrInvalidToken)
	}
	return strings.TrimSpace(token), nil
}

// Skipper reports requests that authenticate by other means.
type Skipper func(r *http.Request) bool

// Authenticator rejects requests without a valid bearer token and attaches the
// parsed claims to the request context.
type Authenticator struct {
	cfg   Config
	realm string
	skip  Skipper
}

// NewAuthenticator builds an Authenticator. skip may be nil.
func NewAuthenticator(cfg Config, realm string, skip Skipper) *Authenticator {
	if realm == "" {
		realm = cfg.Issuer
	}
	return &Authenticator{cfg: cfg, realm: realm, skip: skip}
}

// Handler is the middleware function, usable with chi's Use.
func (a *Authenticator) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.skip != nil && a.skip(r) {
			next.ServeHTTP(w, r)
			return
		}
		token, err := BearerToken(r)
		if err != nil {
			a.reject(w, err)
			return
		}
		claims, err := Parse(token, a.cfg)
		if err != nil {
			a.reject(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

func (a *Authenticator) reject(w http.ResponseWriter, err error) {
	w.Header().Set("WWW-Authenticate", fmt.Sprintf("Bearer realm=%q", a.realm))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"type": "unauthorized", "detail": err.Error()})
}
