// Package app assembles the stores, provider client and reconciliation services
// shared by the service binaries.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"example.com/activitysync/internal/config"
	"example.com/activitysync/internal/consumer"
	"example.com/activitysync/internal/domain"
	"example.com/activitysync/internal/persistence/memory"
	"example.com/activitysync/internal/persistence/postgres"
	"example.com/activitysync/internal/ratelimit"
	"example.com/activitysync/internal/reconcile"
	"example.com/activitysync/internal/strava"
	"example.com/activitysync/internal/syncstatus"
	"example.com/activitysync/internal/tokens"
)

// Stores bundles the storage ports. Pool is nil on the in-memory backend.
type Stores struct {
	Users       domain.UserStore
	Credentials domain.CredentialStore
	Activities  domain.ActivityStore
	Syncs       domain.SyncStatusStore
	Pool        *pgxpool.Pool
}

// Close releases the connection pool, if any.
func (s *Stores) Close() {
	if s.Pool != nil {
		s.Pool.Close()
	}
}

// OpenStores connects to Postgres, or falls back to the in-memory store when no URL is configured.
func OpenStores(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Stores, error) {
	if cfg.PostgresURL == "" {
		logger.Warn("POSTGRES_URL not set, using in-memory store")
		store := memory.NewStore()
		return &Stores{Users: store, Credentials: store, Activities: store, Syncs: store}, nil
	}

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	repo := postgres.NewRepository(pool)
	return &Stores{Users: repo, Credentials: repo, Activities: repo, Syncs: repo, Pool: pool}, nil
}

// FailureRecorder persists abandoned events when Postgres is available.
func (s *Stores) FailureRecorder(logger *slog.Logger) consumer.FailureRecorder {
	if s.Pool != nil {
		return consumer.NewPostgresFailureRecorder(s.Pool)
	}
	return consumer.LogFailureRecorder{Logger: logger}
}

// NewProviderClient builds the provider client. With REDIS_URL set, every provider
// call draws from a bucket shared by all replicas.
func NewProviderClient(cfg config.Config, logger *slog.Logger) (*strava.Client, func(), error) {
	opts := []strava.Option{strava.WithLogger(logger)}
	closer := func() {}

	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(redisOpts)
		bucket := ratelimit.NewBucket(rdb, ratelimit.Config{
			Prefix:         "provider",
			Capacity:       cfg.ProviderRateCapacity,
			RefillTokens:   cfg.ProviderRateRefill,
			RefillInterval: cfg.ProviderRateInterval,
		}, logger)
		opts = append(opts, strava.WithLimiter(bucket))
		closer = func() {
			if err := rdb.Close(); err != nil {
				logger.Warn("redis close failed", "error", err)
			}
		}
	}

	client := strava.NewClient(strava.Config{
		ClientID:       cfg.Provider.ClientID,
		ClientSecret:   cfg.Provider.ClientSecret,
		RedirectURL:    cfg.Provider.RedirectURL,
		AuthURL:        cfg.Provider.AuthURL,
		TokenURL:       cfg.Provider.TokenURL,
		DeauthorizeURL: cfg.Provider.DeauthorizeURL,
		APIBaseURL:     cfg.Provider.APIBaseURL,
		Timeout:        cfg.Provider.Timeout,
	}, opts...)
	return client, closer, nil
}

// Reconciler groups the credential and reconciliation services built over one store set.
type Reconciler struct {
	Refresher *tokens.Refresher
	Tracker   *syncstatus.Tracker
	Engine    *reconcile.Engine
}

// NewReconciler wires the token refresher, sync tracker and reconciliation engine.
func NewReconciler(cfg config.Config, stores *Stores, provider *strava.Client, logger *slog.Logger) *Reconciler {
	refresher := tokens.NewRefresher(stores.Credentials, provider,
		tokens.WithLogger(logger),
		tokens.WithMargin(cfg.TokenRefreshMargin),
		tokens.WithRefreshTimeout(cfg.Provider.Timeout),
	)
	tracker := syncstatus.NewTracker(stores.Syncs, nil)
	engine := reconcile.NewEngine(stores.Credentials, stores.Activities, refresher, provider, tracker,
		reconcile.WithLogger(logger),
		reconcile.WithPageSize(cfg.SyncPageSize),
	)
	return &Reconciler{Refresher: refresher, Tracker: tracker, Engine: engine}
}

// NewEventHandler builds the retrying event handler in front of the engine.
func (r *Reconciler) NewEventHandler(cfg config.Config, failures consumer.FailureRecorder, logger *slog.Logger) *consumer.EventHandler {
	return consumer.NewEventHandler(r.Engine, failures,
		consumer.WithHandlerLogger(logger),
		consumer.WithRetry(cfg.EventMaxRetries, cfg.EventRetryBaseDelay),
	)
}
