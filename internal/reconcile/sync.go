package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"example.com/activitysync/internal/domain"
	"example.com/activitysync/internal/observability"
)

// RunHistoricalSync walks the user's full provider history page by page through the
// same upsert path as live events. The sweep is complete only after a short page; an
// interrupted sweep leaves the status incomplete and a rerun starts from page one.
func (e *Engine) RunHistoricalSync(ctx context.Context, userID uuid.UUID) (int, error) {
	cred, err := e.credentials.GetCredential(ctx, userID)
	if err != nil {
		return 0, err
	}
	if cred.Revoked() {
		return 0, fmt.Errorf("%w: credential revoked", domain.ErrReauthenticationRequired)
	}

	if err := e.tracker.Begin(ctx, userID); err != nil {
		return 0, err
	}
	e.logger.Info("historical sync started", "user_id", userID, "athlete_id", cred.AthleteID)

	total := 0
	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		items, err := e.fetchPage(ctx, *cred, page)
		if err != nil {
			observability.RecordSyncPage("failed")
			e.logger.Warn("historical sync page failed", "user_id", userID, "page", page, "error", err)
			return total, err
		}

		for _, item := range items {
			if err := e.store(ctx, *cred, item); err != nil {
				observability.RecordSyncPage("failed")
				return total, err
			}
		}
		total += len(items)
		observability.RecordSyncPage("ok")

		if err := e.tracker.RecordProgress(ctx, userID, total); err != nil {
			return total, err
		}
		if len(items) < e.pageSize {
			break
		}
	}

	if err := e.tracker.Complete(ctx, userID, total); err != nil {
		return total, err
	}
	observability.RecordSyncCompleted(e.now())
	e.logger.Info("historical sync completed", "user_id", userID, "total", total)
	return total, nil
}

func (e *Engine) fetchPage(ctx context.Context, cred domain.Credential, page int) ([]domain.Activity, error) {
	var items []domain.Activity
	op := func() error {
		err := e.withToken(ctx, cred, func(token string) error {
			var err error
			items, err = e.provider.ListActivities(ctx, token, page, e.pageSize)
			return err
		})
		if err != nil {
			return classify(err)
		}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = e.retryInitial
	policy.MaxElapsedTime = 0
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, e.pageRetries), ctx))
	if err != nil {
		return nil, err
	}
	return items, nil
}

func classify(err error) error {
	if domain.IsRetryable(err) {
		return err
	}
	return backoff.Permanent(err)
}

// TriggerHistoricalSync starts a background sweep for the user.
func (e *Engine) TriggerHistoricalSync(_ context.Context, userID uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.running[userID]; ok {
		return fmt.Errorf("%w: user %s", domain.ErrSyncInProgress, userID)
	}
	return e.startLocked(userID)
}

// RestartHistoricalSync stops any sweep running for the user, waits for it to exit
// and starts a new one. A reconnected account uses it so the new credential gets
// its own sweep.
func (e *Engine) RestartHistoricalSync(ctx context.Context, userID uuid.UUID) error {
	for {
		e.mu.Lock()
		s, ok := e.running[userID]
		if !ok {
			err := e.startLocked(userID)
			e.mu.Unlock()
			return err
		}
		s.cancel()
		e.mu.Unlock()

		if err := s.wait(ctx); err != nil {
			return err
		}
	}
}

// StopSync cancels the user's sweep and waits for it to exit.
func (e *Engine) StopSync(ctx context.Context, userID uuid.UUID) error {
	e.mu.Lock()
	s, ok := e.running[userID]
	if ok {
		s.cancel()
	}
	e.mu.Unlock()
	if !ok {
		return nil
	}
	return s.wait(ctx)
}

func (s *sweep) wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// startLocked launches a sweep. e.mu must be held.
func (e *Engine) startLocked(userID uuid.UUID) error {
	if err := e.base.Err(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(e.base)
	s := &sweep{cancel: cancel, done: make(chan struct{})}
	e.running[userID] = s
	e.wg.Add(1)

	go func() {
		defer e.wg.Done()
		defer close(s.done)
		defer cancel()
		defer e.finish(userID, s)

		total, err := e.RunHistoricalSync(ctx, userID)
		switch {
		case err == nil:
		case errors.Is(err, context.Canceled):
			e.logger.Info("historical sync cancelled", "user_id", userID, "synced", total)
		default:
			e.logger.Error("historical sync failed", "user_id", userID, "synced", total, "error", err)
		}
	}()
	return nil
}

func (e *Engine) finish(userID uuid.UUID, s *sweep) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running[userID] == s {
		delete(e.running, userID)
	}
}

// SyncRunning reports whether a background sweep is active for the user.
func (e *Engine) SyncRunning(userID uuid.UUID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.running[userID]
	return ok
}

// CancelSync stops the user's background sweep, if any.
func (e *Engine) CancelSync(userID uuid.UUID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.running[userID]
	if ok {
		s.cancel()
	}
	return ok
}

// Shutdown cancels every running sweep and waits for them to exit.
func (e *Engine) Shutdown() {
	e.stop()
	e.Wait()
}

// Wait blocks until all background sweeps have returned.
func (e *Engine) Wait() {
	e.wg.Wait()
}
