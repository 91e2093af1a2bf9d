package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/SAP-F-2025/attempt-tracking-service/internal/cache"
	"github.com/SAP-F-2025/attempt-tracking-service/internal/events"
	"github.com/SAP-F-2025/attempt-tracking-service/internal/handlers"
	"github.com/SAP-F-2025/attempt-tracking-service/internal/middleware"
	"github.com/SAP-F-2025/attempt-tracking-service/internal/repositories/postgres"
	"github.com/SAP-F-2025/attempt-tracking-service/internal/services"
	"github.com/SAP-F-2025/attempt-tracking-service/internal/utils"
	"github.com/SAP-F-2025/attempt-tracking-service/internal/validator"
	"github.com/SAP-F-2025/attempt-tracking-service/pkg"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the response consumer and the sweeper",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := pkg.InitDatabase(cfg)
	if err != nil {
		return err
	}
	if err := postgres.AutoMigrate(db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	repo := postgres.NewRepository(db)

	attemptCache := newAttemptCache(ctx)

	publisher, err := cfg.Events.CreateEventPublisher(logger)
	if err != nil {
		return fmt.Errorf("create event publisher: %w", err)
	}
	defer publisher.Close()

	serviceManager := services.NewServiceManager(repo, attemptCache, publisher, validator.New(), logger, serviceConfig())

	verifier, err := middleware.NewTokenVerifier(cfg)
	if err != nil {
		return fmt.Errorf("create token verifier: %w", err)
	}

	appLogger := utils.NewSlogLogger(logger)
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RequestID(), utils.LoggerMiddleware(appLogger), utils.ContextLogger(appLogger), gin.Recovery())
	handlers.NewHandlerManager(serviceManager, appLogger).
		WithCacheStatus(attemptCache.Status).
		SetupRoutes(router, middleware.OptionalAuth(verifier, appLogger))

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var subscriber message.Subscriber
	if cfg.Events.Enabled && cfg.Events.ConsumeResponses && cfg.Events.Publisher == "kafka" {
		subscriber, err = events.NewKafkaSubscriber(cfg.Events.CreateResponseSubscriberConfig(logger))
		if err != nil {
			return err
		}
		defer subscriber.Close()
	}

	if cfg.Sweep.Enabled {
		stopSweeper, err := serviceManager.Sweeper().Start(ctx, cfg.Sweep.Interval)
		if err != nil {
			return err
		}
		defer stopSweeper()
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server listening", "port", cfg.Port, "environment", cfg.Environment)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		logger.Info("Shutting down HTTP server")
		return server.Shutdown(shutdownCtx)
	})

	if subscriber != nil {
		consumer := events.NewResponseCreatedConsumer(serviceManager.Attempt(), logger)
		g.Go(func() error {
			return consumer.Run(gctx, subscriber, cfg.Events.ResponseTopic)
		})
	}

	return g.Wait()
}

// newAttemptCache connects redis behind the circuit breaker. Without redis
// the service runs uncached.
func newAttemptCache(ctx context.Context) *cache.AttemptCache {
	if !cfg.Cache.Enabled {
		logger.Info("Attempt cache disabled")
		return cache.NewAttemptCache(nil, cfg.Cache.AttemptTTL, logger)
	}

	client, err := pkg.NewRedisClient(ctx, cfg)
	if err != nil {
		logger.Warn("Redis unavailable, running without attempt cache", "error", err)
		return cache.NewAttemptCache(nil, cfg.Cache.AttemptTTL, logger)
	}

	guarded := cache.NewGuardedCache(cache.NewRedisCache(client, logger), cache.GuardedCacheConfig{
		Timeout: cfg.Cache.OperationTimeout,
		Breaker: cache.CircuitBreakerConfig{
			FailureThreshold:    cfg.Cache.BreakerFailures,
			ResetTimeout:        cfg.Cache.BreakerReset,
			HalfOpenMaxRequests: cfg.Cache.BreakerHalfOpenMax,
			SuccessThreshold:    cfg.Cache.BreakerSuccessCount,
		},
	}, logger)
	return cache.NewAttemptCache(guarded, cfg.Cache.AttemptTTL, logger)
}

func serviceConfig() services.ServiceManagerConfig {
	return services.ServiceManagerConfig{
		Attempt: services.AttemptServiceConfig{
			Thresholds: services.AbuseThresholds{
				Resume:    cfg.Abuse.ResumeThreshold,
				FocusLoss: cfg.Abuse.FocusLossThreshold,
				CopyPaste: cfg.Abuse.CopyPasteThreshold,
			},
			TimeSpentSlack: cfg.Abuse.TimeSpentSlack,
		},
		Sweep: services.SweeperConfig{
			IdleTimeout: cfg.Sweep.IdleTimeout,
			MaxDuration: cfg.Sweep.MaxDuration,
		},
	}
}
