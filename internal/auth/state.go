package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	authlib "example.com/activitysync/internal/platform/auth"
)

const stateAudience = "oauth-state"

// DefaultStateTTL bounds how long a user has to finish the provider consent screen.
const DefaultStateTTL = 10 * time.Minute

// ErrInvalidState rejects a callback whose state was not issued by us or has expired.
var ErrInvalidState = errors.New("invalid oauth state")

// StateSigner issues and verifies the signed state parameter of the OAuth connect flow.
type StateSigner struct {
	cfg Config
	ttl time.Duration
}

// NewStateSigner derives a state signer from the bearer config. State tokens carry
// their own audience so they can never be replayed as bearer tokens.
func NewStateSigner(cfg Config, ttl time.Duration) *StateSigner {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	cfg.Audience = stateAudience
	return &StateSigner{cfg: cfg, ttl: ttl}
}

// Issue binds the connect attempt to userID and the requested provider scope.
func (s *StateSigner) Issue(userID uuid.UUID, scope string) (string, error) {
	return authlib.Issue(s.cfg, userID.String(), []string{scope}, s.ttl)
}

// Verify returns the user and scope a state token was issued for.
func (s *StateSigner) Verify(state string) (uuid.UUID, string, error) {
	claims, err := authlib.Parse(state, s.cfg)
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("%w: subject %q", ErrInvalidState, claims.Subject)
	}
	return userID, claims.FirstScope(), nil
}
