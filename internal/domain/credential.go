package domain

import (
	"time"

	"github.com/google/uuid"
)

// Credential is the OAuth token set linking a user to a provider athlete.
// The whole set is replaced on refresh, never patched field by field.
type Credential struct {
	UserID        uuid.UUID
	AthleteID     int64
	AccessToken   string
	RefreshToken  string
	ExpiresAt     time.Time
	Scope         string
	ConnectedAt   time.Time
	UpdatedAt     time.Time
	RevokedAt     *time.Time
	RevokedReason string
	Version       int64
}

// ValidFor reports whether the access token stays valid for at least margin past now.
func (c Credential) ValidFor(now time.Time, margin time.Duration) bool {
	return c.AccessToken != "" && c.ExpiresAt.After(now.Add(margin))
}

// Revoked reports whether the credential can no longer be refreshed.
func (c Credential) Revoked() bool {
	return c.RevokedAt != nil
}

// TokenGrant is what the provider token endpoint returns for a code exchange or refresh.
type TokenGrant struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Scope        string
	AthleteID    int64
}

// Apply replaces the token fields of c with the grant. A grant without a rotated
// refresh token keeps the previous one.
func (c Credential) Apply(grant TokenGrant, now time.Time) Credential {
	next := c
	next.AccessToken = grant.AccessToken
	if grant.RefreshToken != "" {
		next.RefreshToken = grant.RefreshToken
	}
	next.ExpiresAt = grant.ExpiresAt.UTC()
	if grant.Scope != "" {
		next.Scope = grant.Scope
	}
	next.UpdatedAt = now
	return next
}

// User is an application account. Users are deactivated, never deleted.
type User struct {
	ID        uuid.UUID
	Email     string
	CreatedAt time.Time
	LastLogin *time.Time
	Active    bool
}
