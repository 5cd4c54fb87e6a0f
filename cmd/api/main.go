package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/segmentio/kafka-go"

	"example.com/activitysync/internal/api"
	"example.com/activitysync/internal/app"
	"example.com/activitysync/internal/auth"
	"example.com/activitysync/internal/config"
	"example.com/activitysync/internal/consumer"
	"example.com/activitysync/internal/domain"
	"example.com/activitysync/internal/observability"
	"example.com/activitysync/internal/outbox"
	httptransport "example.com/activitysync/internal/transport/http"
	"example.com/activitysync/internal/webhook"
)

func main() {
	cfg := config.Load()
	logger := observability.NewLogger("activity-sync-api", cfg.LogLevel)

	if err := observability.InitSentry(observability.SentryConfig{
		DSN:         cfg.SentryDSN,
		Environment: cfg.Environment,
		ServerName:  "activity-sync-api",
	}, logger); err != nil {
		logger.Error("sentry init failed", "error", err)
	}
	defer observability.FlushSentry(2 * time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores, err := app.OpenStores(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open stores", "error", err)
		os.Exit(1)
	}
	defer stores.Close()

	provider, closeProvider, err := app.NewProviderClient(cfg, logger)
	if err != nil {
		logger.Error("failed to build provider client", "error", err)
		os.Exit(1)
	}
	defer closeProvider()

	rec := app.NewReconciler(cfg, stores, provider, logger)

	var (
		sink    webhook.Sink
		workers sync.WaitGroup
	)
	sinkCtx, stopSink := context.WithCancel(context.Background())
	defer stopSink()

	if cfg.UseKafka() {
		// The sink sets the topic per message, so the writer must not.
		writer := &kafka.Writer{
			Addr:         kafka.TCP(cfg.KafkaBrokers...),
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 10 * time.Millisecond,
		}
		defer writer.Close()
		sink = webhook.NewKafkaSink(writer, cfg.WebhookTopic)
		logger.Info("webhook events published to kafka", "topic", cfg.WebhookTopic)
	} else {
		inline := consumer.NewInlineSink(
			rec.NewEventHandler(cfg, stores.FailureRecorder(logger), logger),
			cfg.InlineWorkers, cfg.InlineQueueDepth, logger,
		)
		sink = inline
		workers.Add(1)
		go func() {
			defer workers.Done()
			_ = inline.Run(sinkCtx)
		}()
		logger.Info("webhook events applied in-process", "workers", cfg.InlineWorkers)
	}

	var dispatcher *outbox.Dispatcher
	if stores.Pool != nil && cfg.UseKafka() {
		producer := outbox.NewKafkaProducer(cfg.KafkaBrokers, 50*time.Millisecond)
		defer producer.Close()
		registry := outbox.NewSchemaRegistryClient(cfg.SchemaRegistryURL, nil)
		dispatcher = outbox.NewDispatcher(stores.Pool, producer, registry, cfg.OutboxPollInterval, cfg.OutboxBatchSize, outbox.WithLogger(logger))
		go dispatcher.Start(ctx)
	}

	verifier := webhook.NewVerifier(webhook.VerifierConfig{
		VerifyToken:    cfg.Webhook.VerifyToken,
		SubscriptionID: cfg.Webhook.SubscriptionID,
		SigningSecret:  cfg.Webhook.SigningSecret,
	})
	if cfg.Webhook.VerifyToken == "" {
		logger.Warn("WEBHOOK_VERIFY_TOKEN not set, subscription handshakes will be rejected")
	}

	authCfg := auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}
	handler := api.NewHandler(api.Dependencies{
		Service:     domain.NewService(stores.Activities, stores.Credentials, stores.Syncs),
		Users:       stores.Users,
		Credentials: stores.Credentials,
		Tokens:      rec.Refresher,
		Syncs:       rec.Engine,
		OAuth:       provider,
		States:      auth.NewStateSigner(authCfg, auth.DefaultStateTTL),
		Webhook: webhook.NewHandler(verifier, sink,
			webhook.WithLogger(logger),
			webhook.WithMaxBodyBytes(cfg.Webhook.MaxBodyBytes),
		),
		Logger: logger,
	})

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(httptransport.RequestLogger(logger))
	router.Use(httptransport.CORS(cfg.CORSOrigin))
	router.Use(auth.NewMiddleware(authCfg))
	handler.RegisterRoutes(router)

	server := httptransport.NewServer(httptransport.DefaultServerConfig(cfg.HTTPAddress), router)

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("activity-sync api listening", "address", cfg.HTTPAddress)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			shutdownCh <- syscall.SIGTERM
		}
	}()

	<-shutdownCh
	logger.Info("shutdown requested")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}

	// Queued webhook events drain before background sweeps are cancelled.
	stopSink()
	workers.Wait()
	rec.Engine.Shutdown()

	cancel()
	if dispatcher != nil {
		dispatcher.Wait()
	}
}
