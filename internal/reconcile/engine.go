// Package reconcile applies provider events and historical sweeps to the activity store.
//
// Every mutation goes through one path: fetch the full activity from the provider with
// a valid token for the owning user, force the athlete id from the stored credential
// and upsert the record wholesale. Whichever fetch succeeds last wins, so replays and
// out-of-order deliveries converge on the provider's current state.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"example.com/activitysync/internal/domain"
	"example.com/activitysync/internal/observability"
	"example.com/activitysync/internal/syncstatus"
)

// Outcome describes what Apply did.
type Outcome string

const (
	OutcomeUpserted          Outcome = "upserted"
	OutcomeDeleted           Outcome = "deleted"
	OutcomeAlreadyAbsent     Outcome = "already_absent"
	OutcomeCredentialRevoked Outcome = "credential_revoked"
)

// Provider reads activities on behalf of a user.
type Provider interface {
	GetActivity(ctx context.Context, accessToken string, activityID int64) (domain.Activity, error)
	ListActivities(ctx context.Context, accessToken string, page, perPage int) ([]domain.Activity, error)
}

// TokenSource hands out valid access tokens and revokes rejected credentials.
type TokenSource interface {
	GetValidAccessToken(ctx context.Context, userID uuid.UUID) (string, error)
	ForceRefresh(ctx context.Context, userID uuid.UUID, rejected string) (string, error)
	Invalidate(ctx context.Context, userID uuid.UUID, reason string) error
}

// DefaultPageSize is the provider list page size used by historical sweeps.
const DefaultPageSize = 30

// Option configures optional behaviour for the Engine.
type Option func(*Engine)

// WithLogger overrides the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithPageSize overrides the sweep page size.
func WithPageSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.pageSize = n
		}
	}
}

// WithPageRetry configures how a failed sweep page is retried.
func WithPageRetry(initial time.Duration, maxRetries uint64) Option {
	return func(e *Engine) {
		if initial > 0 {
			e.retryInitial = initial
		}
		e.pageRetries = maxRetries
	}
}

// WithClock overrides the time source used for fetched_at stamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// Engine reconciles provider state into the activity store.
type Engine struct {
	credentials domain.CredentialStore
	activities  domain.ActivityStore
	tokens      TokenSource
	provider    Provider
	tracker     *syncstatus.Tracker
	logger      *slog.Logger
	now         func() time.Time

	pageSize     int
	retryInitial time.Duration
	pageRetries  uint64

	base    context.Context
	stop    context.CancelFunc
	mu      sync.Mutex
	running map[uuid.UUID]*sweep
	wg      sync.WaitGroup
}

type sweep struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewEngine constructs an Engine.
func NewEngine(credentials domain.CredentialStore, activities domain.ActivityStore, tokens TokenSource, provider Provider, tracker *syncstatus.Tracker, opts ...Option) *Engine {
	base, stop := context.WithCancel(context.Background())
	e := &Engine{
		credentials:  credentials,
		activities:   activities,
		tokens:       tokens,
		provider:     provider,
		tracker:      tracker,
		logger:       slog.Default(),
		now:          func() time.Time { return time.Now().UTC() },
		pageSize:     DefaultPageSize,
		retryInitial: 500 * time.Millisecond,
		pageRetries:  4,
		base:         base,
		stop:         stop,
		running:      make(map[uuid.UUID]*sweep),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Apply reconciles one normalized event.
func (e *Engine) Apply(ctx context.Context, event domain.CanonicalEvent) (Outcome, error) {
	outcome, err := e.apply(ctx, event)
	result := string(outcome)
	if err != nil {
		result = "error"
	}
	observability.RecordEventApplied(string(event.Kind), result)
	return outcome, err
}

func (e *Engine) apply(ctx context.Context, event domain.CanonicalEvent) (Outcome, error) {
	cred, err := e.credentials.GetCredentialByAthlete(ctx, event.AthleteID)
	if err != nil {
		if errors.Is(err, domain.ErrCredentialNotFound) {
			return "", fmt.Errorf("%w: athlete %d", domain.ErrUnknownAthlete, event.AthleteID)
		}
		return "", fmt.Errorf("resolve athlete %d: %w", event.AthleteID, err)
	}

	switch event.Kind {
	case domain.EventCreate, domain.EventUpdate:
		if err := e.fetchAndStore(ctx, *cred, event.ObjectID); err != nil {
			return "", err
		}
		return OutcomeUpserted, nil
	case domain.EventDelete:
		deleted, err := e.activities.DeleteActivity(ctx, cred.AthleteID, event.ObjectID)
		if err != nil {
			return "", fmt.Errorf("delete activity %d: %w", event.ObjectID, err)
		}
		if !deleted {
			return OutcomeAlreadyAbsent, nil
		}
		return OutcomeDeleted, nil
	case domain.EventDeauthorize:
		e.CancelSync(cred.UserID)
		if err := e.tokens.Invalidate(ctx, cred.UserID, "deauthorized"); err != nil {
			return "", fmt.Errorf("revoke credential for athlete %d: %w", cred.AthleteID, err)
		}
		e.logger.Info("athlete deauthorized", "athlete_id", cred.AthleteID, "user_id", cred.UserID)
		return OutcomeCredentialRevoked, nil
	default:
		return "", fmt.Errorf("%w: kind %q", domain.ErrUnsupportedEvent, event.Kind)
	}
}

func (e *Engine) fetchAndStore(ctx context.Context, cred domain.Credential, activityID int64) error {
	var activity domain.Activity
	err := e.withToken(ctx, cred, func(token string) error {
		var err error
		activity, err = e.provider.GetActivity(ctx, token, activityID)
		return err
	})
	if err != nil {
		return err
	}
	return e.store(ctx, cred, activity)
}

// withToken runs call with the user's access token. When the provider rejects the
// token, it is refreshed once and the call retried. The credential is revoked only
// if the refresh token is rejected or the fresh access token is rejected as well.
func (e *Engine) withToken(ctx context.Context, cred domain.Credential, call func(token string) error) error {
	token, err := e.tokens.GetValidAccessToken(ctx, cred.UserID)
	if err != nil {
		return err
	}
	err = call(token)
	if !errors.Is(err, domain.ErrReauthenticationRequired) {
		return err
	}

	e.logger.Info("access token rejected, forcing refresh", "user_id", cred.UserID, "athlete_id", cred.AthleteID)
	token, err = e.tokens.ForceRefresh(ctx, cred.UserID, token)
	if err != nil {
		return err
	}
	err = call(token)
	if errors.Is(err, domain.ErrReauthenticationRequired) {
		if revokeErr := e.tokens.Invalidate(ctx, cred.UserID, "provider_rejected"); revokeErr != nil {
			e.logger.Error("revoke rejected credential failed", "user_id", cred.UserID, "error", revokeErr)
		}
	}
	return err
}

func (e *Engine) store(ctx context.Context, cred domain.Credential, activity domain.Activity) error {
	if activity.AthleteID != 0 && activity.AthleteID != cred.AthleteID {
		err := fmt.Errorf("%w: activity %d reported for athlete %d, credential is athlete %d",
			domain.ErrAthleteMismatch, activity.ID, activity.AthleteID, cred.AthleteID)
		e.reportViolation(err, cred, activity.ID)
		return err
	}
	activity.AthleteID = cred.AthleteID
	if activity.FetchedAt.IsZero() {
		activity.FetchedAt = e.now()
	}

	if err := e.activities.UpsertActivity(ctx, cred.AthleteID, activity); err != nil {
		if errors.Is(err, domain.ErrAthleteMismatch) || errors.Is(err, domain.ErrStorageConflict) {
			e.reportViolation(err, cred, activity.ID)
		}
		return fmt.Errorf("upsert activity %d: %w", activity.ID, err)
	}
	return nil
}

func (e *Engine) reportViolation(err error, cred domain.Credential, activityID int64) {
	observability.ReportInvariantViolation(e.logger, err, map[string]string{
		"athlete_id":  strconv.FormatInt(cred.AthleteID, 10),
		"activity_id": strconv.FormatInt(activityID, 10),
	})
}
