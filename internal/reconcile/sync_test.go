package reconcile

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/activitysync/internal/domain"
)

func seedHistory(f *fixture, athleteID int64, n int) {
	for i := 1; i <= n; i++ {
		f.provider.put(activity(int64(i), athleteID, float64(i*100)))
	}
}

func TestHistoricalSyncPagesUntilShortPage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	userID := f.connect(t, 555)
	seedHistory(f, 555, 65)

	total, err := f.engine.RunHistoricalSync(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, 65, total)
	require.Equal(t, 3, f.provider.listCalls)

	status, err := f.tracker.GetStatus(ctx, userID)
	require.NoError(t, err)
	require.True(t, status.HasStarted())
	require.True(t, status.Completed)
	require.Equal(t, 65, status.Total)
	require.NotNil(t, status.LastSync)

	count, err := f.store.CountActivities(ctx, 555)
	require.NoError(t, err)
	require.Equal(t, 65, count)
}

func TestHistoricalSyncFullLastPageNeedsEmptyPage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, WithPageSize(10))
	userID := f.connect(t, 555)
	seedHistory(f, 555, 20)

	total, err := f.engine.RunHistoricalSync(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, 20, total)
	require.Equal(t, 3, f.provider.listCalls)
}

func TestHistoricalSyncRetriesTransientPageFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	userID := f.connect(t, 555)
	seedHistory(f, 555, 5)
	f.provider.listErrs = []error{
		fmt.Errorf("%w: 429", domain.ErrProviderUnavailable),
		fmt.Errorf("%w: 503", domain.ErrProviderUnavailable),
	}

	total, err := f.engine.RunHistoricalSync(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, 5, total)
	require.Equal(t, 3, f.provider.listCalls)
}

func TestInterruptedSyncRestartsFromFirstPage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	userID := f.connect(t, 555)
	seedHistory(f, 555, 65)
	f.provider.failPage = 2

	total, err := f.engine.RunHistoricalSync(ctx, userID)
	require.Error(t, err)
	require.Equal(t, 30, total)

	status, err := f.tracker.GetStatus(ctx, userID)
	require.NoError(t, err)
	require.True(t, status.HasStarted())
	require.False(t, status.Completed)
	require.Equal(t, 30, status.Total)

	f.provider.failPage = 0
	total, err = f.engine.RunHistoricalSync(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, 65, total)

	status, err = f.tracker.GetStatus(ctx, userID)
	require.NoError(t, err)
	require.True(t, status.Completed)
	require.Equal(t, 65, status.Total)

	count, err := f.store.CountActivities(ctx, 555)
	require.NoError(t, err)
	require.Equal(t, 65, count)
}

func TestHistoricalSyncRequiresConnectedCredential(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	userID := f.connect(t, 555)
	require.NoError(t, f.store.RevokeCredential(ctx, userID, "test"))

	_, err := f.engine.RunHistoricalSync(ctx, userID)
	require.ErrorIs(t, err, domain.ErrReauthenticationRequired)
}

func TestTriggerHistoricalSyncRunsOncePerUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	userID := f.connect(t, 555)
	seedHistory(f, 555, 3)
	f.provider.block = make(chan struct{})

	require.NoError(t, f.engine.TriggerHistoricalSync(ctx, userID))
	require.True(t, f.engine.SyncRunning(userID))
	require.ErrorIs(t, f.engine.TriggerHistoricalSync(ctx, userID), domain.ErrSyncInProgress)

	close(f.provider.block)
	f.engine.Wait()
	require.False(t, f.engine.SyncRunning(userID))

	status, err := f.tracker.GetStatus(ctx, userID)
	require.NoError(t, err)
	require.True(t, status.Completed)
	require.Equal(t, 3, status.Total)
}

func TestDeauthorizeCancelsRunningSync(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	userID := f.connect(t, 555)
	seedHistory(f, 555, 3)
	f.provider.block = make(chan struct{})

	require.NoError(t, f.engine.TriggerHistoricalSync(ctx, userID))
	require.Eventually(t, func() bool {
		status, err := f.tracker.GetStatus(ctx, userID)
		return err == nil && status.HasStarted()
	}, time.Second, 5*time.Millisecond)

	_, err := f.engine.Apply(ctx, event(domain.EventDeauthorize, 555, 555))
	require.NoError(t, err)
	f.engine.Wait()

	require.False(t, f.engine.SyncRunning(userID))
	status, err := f.tracker.GetStatus(ctx, userID)
	require.NoError(t, err)
	require.False(t, status.Completed)
}

func TestRestartAfterReconnectSweepsNewAthlete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	userID := f.connect(t, 555)
	seedHistory(f, 555, 3)
	f.provider.block = make(chan struct{})

	require.NoError(t, f.engine.TriggerHistoricalSync(ctx, userID))
	require.Eventually(t, func() bool {
		status, err := f.tracker.GetStatus(ctx, userID)
		return err == nil && status.HasStarted()
	}, time.Second, 5*time.Millisecond)

	// The user reconnects a different provider account while the first sweep waits.
	for id := int64(1); id <= 3; id++ {
		f.provider.remove(id)
	}
	for id := int64(101); id <= 105; id++ {
		f.provider.put(activity(id, 777, 100))
	}
	require.NoError(t, f.store.SaveCredential(ctx, domain.Credential{
		UserID:       userID,
		AthleteID:    777,
		AccessToken:  "access-777",
		RefreshToken: "refresh-777",
		ExpiresAt:    time.Now().Add(time.Hour),
	}))

	require.ErrorIs(t, f.engine.TriggerHistoricalSync(ctx, userID), domain.ErrSyncInProgress)
	require.NoError(t, f.engine.RestartHistoricalSync(ctx, userID))
	require.True(t, f.engine.SyncRunning(userID))

	close(f.provider.block)
	f.engine.Wait()

	status, err := f.tracker.GetStatus(ctx, userID)
	require.NoError(t, err)
	require.True(t, status.Completed)
	require.Equal(t, 5, status.Total)

	count, err := f.store.CountActivities(ctx, 777)
	require.NoError(t, err)
	require.Equal(t, 5, count)
	count, err = f.store.CountActivities(ctx, 555)
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestStopSyncWaitsForSweepToExit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	userID := f.connect(t, 555)
	seedHistory(f, 555, 3)
	f.provider.block = make(chan struct{})
	defer close(f.provider.block)

	require.NoError(t, f.engine.TriggerHistoricalSync(ctx, userID))
	require.NoError(t, f.engine.StopSync(ctx, userID))
	require.False(t, f.engine.SyncRunning(userID))
	require.NoError(t, f.engine.StopSync(ctx, userID))
}

func TestHistoricalSyncRefreshesRejectedToken(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	userID := f.connect(t, 555)
	seedHistory(f, 555, 4)
	f.provider.rejected["access"] = true

	total, err := f.engine.RunHistoricalSync(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, 4, total)
	require.Equal(t, 1, f.refresh.count())

	cred, err := f.store.GetCredential(ctx, userID)
	require.NoError(t, err)
	require.False(t, cred.Revoked())
}
