package auth

import (
	"context"
	"errors"

	"github.com/google/uuid"

	authlib "example.com/activitysync/internal/platform/auth"
)

type (
	// Claims is the verified caller identity.
	Claims = authlib.Claims
	// Config holds bearer-token verification settings.
	Config = authlib.Config
)

// ErrNotAUser is returned when the caller's subject is a service name rather than a user id.
var ErrNotAUser = errors.New("token subject is not a user id")

// WithClaims attaches claims to ctx.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return authlib.WithClaims(ctx, claims)
}

// FromContext returns the caller's claims.
func FromContext(ctx context.Context) (*Claims, bool) {
	return authlib.FromContext(ctx)
}

// UserID returns the application user the token was issued to.
func UserID(claims *Claims) (uuid.UUID, error) {
	if claims == nil {
		return uuid.Nil, ErrNotAUser
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, ErrNotAUser
	}
	return id, nil
}

// CanActAs reports whether the caller may operate on the given user's resources.
// Internal callers may act for anyone.
func CanActAs(claims *Claims, userID string) bool {
	if claims == nil {
		return false
	}
	return claims.Subject == userID || claims.HasScope(ScopeInternal)
}
