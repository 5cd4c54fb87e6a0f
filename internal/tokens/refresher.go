// Package tokens keeps per-user OAuth access tokens valid.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"example.com/activitysync/internal/domain"
	"example.com/activitysync/internal/observability"
)

// DefaultMargin is how close to expiry a token may get before it is refreshed.
const DefaultMargin = 5 * time.Minute

// Provider exchanges a refresh token for a new grant.
type Provider interface {
	RefreshToken(ctx context.Context, refreshToken string) (domain.TokenGrant, error)
}

// Option configures optional behaviour for the Refresher.
type Option func(*Refresher)

// WithLogger overrides the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Refresher) {
		r.logger = logger
	}
}

// WithMargin overrides the refresh safety margin.
func WithMargin(margin time.Duration) Option {
	return func(r *Refresher) {
		if margin >= 0 {
			r.margin = margin
		}
	}
}

// WithRefreshTimeout bounds a shared refresh independently of any one caller.
func WithRefreshTimeout(timeout time.Duration) Option {
	return func(r *Refresher) {
		if timeout > 0 {
			r.timeout = timeout
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Refresher) {
		r.now = now
	}
}

// Refresher hands out valid access tokens, refreshing them at most once per user
// at a time. Concurrent callers in this process share one exchange; callers in
// other processes are fenced by the credential store's refresh lock.
type Refresher struct {
	store    domain.CredentialStore
	provider Provider
	group    singleflight.Group
	margin   time.Duration
	timeout  time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// NewRefresher constructs a Refresher.
func NewRefresher(store domain.CredentialStore, provider Provider, opts ...Option) *Refresher {
	r := &Refresher{
		store:    store,
		provider: provider,
		margin:   DefaultMargin,
		timeout:  15 * time.Second,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GetValidAccessToken returns an access token for the user that stays valid for
// at least the safety margin.
func (r *Refresher) GetValidAccessToken(ctx context.Context, userID uuid.UUID) (string, error) {
	cred, err := r.store.GetCredential(ctx, userID)
	if err != nil {
		return "", err
	}
	if cred.Revoked() {
		return "", fmt.Errorf("%w: credential revoked (%s)", domain.ErrReauthenticationRequired, cred.RevokedReason)
	}
	if cred.ValidFor(r.now(), r.margin) {
		return cred.AccessToken, nil
	}
	return r.refresh(ctx, userID.String(), userID, r.unexpired)
}

// ForceRefresh exchanges the refresh token even though the access token has not
// expired, for when the provider rejected that token. If another caller already
// replaced the rejected token, the replacement is returned without a new exchange.
func (r *Refresher) ForceRefresh(ctx context.Context, userID uuid.UUID, rejected string) (string, error) {
	cred, err := r.store.GetCredential(ctx, userID)
	if err != nil {
		return "", err
	}
	if cred.Revoked() {
		return "", fmt.Errorf("%w: credential revoked (%s)", domain.ErrReauthenticationRequired, cred.RevokedReason)
	}
	return r.refresh(ctx, forceKey(userID), userID, func(current domain.Credential) bool {
		return current.AccessToken != rejected && r.unexpired(current)
	})
}

// AccessTokenForAthlete resolves the athlete's connected user and returns a valid token.
func (r *Refresher) AccessTokenForAthlete(ctx context.Context, athleteID int64) (string, error) {
	cred, err := r.store.GetCredentialByAthlete(ctx, athleteID)
	if err != nil {
		if errors.Is(err, domain.ErrCredentialNotFound) {
			return "", fmt.Errorf("%w: athlete %d", domain.ErrUnknownAthlete, athleteID)
		}
		return "", err
	}
	if cred.ValidFor(r.now(), r.margin) {
		return cred.AccessToken, nil
	}
	return r.refresh(ctx, cred.UserID.String(), cred.UserID, r.unexpired)
}

// Invalidate marks the user's credential revoked after the provider rejected it.
func (r *Refresher) Invalidate(ctx context.Context, userID uuid.UUID, reason string) error {
	r.group.Forget(userID.String())
	r.group.Forget(forceKey(userID))
	err := r.store.RevokeCredential(ctx, userID, reason)
	if errors.Is(err, domain.ErrCredentialNotFound) {
		return nil
	}
	return err
}

func forceKey(userID uuid.UUID) string {
	return "force:" + userID.String()
}

func (r *Refresher) unexpired(cred domain.Credential) bool {
	return cred.ValidFor(r.now(), r.margin)
}

// refresh runs one exchange per key at a time. usable is re-checked under the
// store's refresh lock so a token replaced by another process is reused.
func (r *Refresher) refresh(ctx context.Context, key string, userID uuid.UUID, usable func(domain.Credential) bool) (string, error) {
	ch := r.group.DoChan(key, func() (interface{}, error) {
		// The exchange outlives a cancelled first caller so the others still get a token.
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		return r.exchange(shared, userID, usable)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (r *Refresher) exchange(ctx context.Context, userID uuid.UUID, usable func(domain.Credential) bool) (string, error) {
	start := time.Now()
	exchanged := false

	cred, err := r.store.RefreshCredential(ctx, userID, func(current domain.Credential) (*domain.Credential, error) {
		if usable(current) {
			return nil, nil
		}
		grant, err := r.provider.RefreshToken(ctx, current.RefreshToken)
		if err != nil {
			return nil, err
		}
		exchanged = true
		next := current.Apply(grant, r.now())
		return &next, nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrCredentialNotFound) {
			return "", fmt.Errorf("%w: no connected credential", domain.ErrReauthenticationRequired)
		}
		if errors.Is(err, domain.ErrReauthenticationRequired) {
			observability.RecordTokenRefresh("reauth_required", time.Since(start))
			r.logger.Warn("refresh token rejected, revoking credential", "user_id", userID, "error", err)
			if revokeErr := r.store.RevokeCredential(ctx, userID, "refresh_rejected"); revokeErr != nil && !errors.Is(revokeErr, domain.ErrCredentialNotFound) {
				r.logger.Error("revoke credential failed", "user_id", userID, "error", revokeErr)
			}
			return "", err
		}
		observability.RecordTokenRefresh("failed", time.Since(start))
		return "", fmt.Errorf("refresh credential for user %s: %w", userID, err)
	}

	if exchanged {
		observability.RecordTokenRefresh("refreshed", time.Since(start))
		r.logger.Info("access token refreshed", "user_id", userID, "expires_at", cred.ExpiresAt)
	} else {
		observability.RecordTokenRefresh("reused", time.Since(start))
	}
	return cred.AccessToken, nil
}
