package domain

import (
	"context"
	"errors"
)

var (
	// ErrAuthentication rejects a subscription handshake with a bad mode or verify token.
	ErrAuthentication = errors.New("subscription handshake rejected")
	// ErrAuthenticity rejects an event delivery that fails the authenticity policy.
	ErrAuthenticity = errors.New("event authenticity check failed")
	// ErrMalformedEvent marks a payload missing required fields or not valid JSON.
	ErrMalformedEvent = errors.New("malformed event")
	// ErrUnsupportedEvent marks an event for an object type the engine ignores.
	ErrUnsupportedEvent = errors.New("unsupported event")
	// ErrReauthenticationRequired means the refresh token is invalid or revoked; the user must reconnect.
	ErrReauthenticationRequired = errors.New("reauthentication required")
	// ErrProviderUnavailable covers timeouts, rate limiting and 5xx from the provider.
	ErrProviderUnavailable = errors.New("provider unavailable")
	// ErrNotFound is returned when the provider has no such activity.
	ErrNotFound = errors.New("provider resource not found")
	// ErrUnknownAthlete means no connected credential exists for the athlete.
	ErrUnknownAthlete = errors.New("unknown athlete")
	// ErrAthleteMismatch means an activity would change owner.
	ErrAthleteMismatch = errors.New("activity belongs to another athlete")
	// ErrStorageConflict is a violated storage invariant.
	ErrStorageConflict = errors.New("storage conflict")
	// ErrCredentialNotFound is returned when a user has no stored credential.
	ErrCredentialNotFound = errors.New("credential not found")
	// ErrUserNotFound is returned when a user cannot be located.
	ErrUserNotFound = errors.New("user not found")
	// ErrActivityNotFound is returned when a stored activity cannot be located.
	ErrActivityNotFound = errors.New("activity not found")
	// ErrSyncInProgress rejects a second concurrent sweep for one user.
	ErrSyncInProgress = errors.New("historical sync already running")
)

// IsRetryable reports whether a failed event may succeed on a later attempt.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrProviderUnavailable) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, context.DeadlineExceeded)
}
