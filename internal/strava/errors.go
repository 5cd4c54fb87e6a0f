package strava

import (
	"fmt"
	"net/http"

	"example.com/activitysync/internal/domain"
)

// APIError is a non-2xx answer from the provider REST API.
type APIError struct {
	StatusCode int
	Body       string
	Path       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider %s returned %d: %s", e.Path, e.StatusCode, truncate(e.Body))
}

// Unwrap classifies the status into the domain error taxonomy.
func (e *APIError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusUnauthorized:
		return domain.ErrReauthenticationRequired
	case e.StatusCode == http.StatusNotFound:
		return domain.ErrNotFound
	case e.StatusCode == http.StatusTooManyRequests, e.StatusCode >= 500:
		return domain.ErrProviderUnavailable
	}
	return nil
}
