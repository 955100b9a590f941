package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/cropflow/internal/api"
	"github.com/dunamismax/cropflow/internal/config"
	"github.com/dunamismax/cropflow/internal/encoder"
	"github.com/dunamismax/cropflow/internal/logging"
	"github.com/dunamismax/cropflow/internal/queue"
	"github.com/dunamismax/cropflow/internal/ratelimit"
	"github.com/dunamismax/cropflow/internal/storage"
	"github.com/dunamismax/cropflow/internal/store"
	"github.com/dunamismax/cropflow/internal/telemetry"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load("cropflow-api", os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	logger := logging.Setup(cfg.Log, "api")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "cropflow-api",
		Exporter:     cfg.Tracing.Exporter,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		OTLPInsecure: cfg.Tracing.OTLPInsecure,
		SampleRatio:  1,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("setup tracing")
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn().Err(err).Msg("tracing shutdown")
		}
	}()

	jobStore, closeStore, err := store.Open(ctx, cfg.Database.DSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("open job store")
	}
	defer closeStore()

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name, queue.EnqueuePolicy{
		MaxRetry:  cfg.Queue.MaxRetry,
		Timeout:   cfg.Queue.TaskTimeout,
		Retention: cfg.Queue.Retention,
	})
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Warn().Err(err).Msg("queue client close")
		}
	}()

	registry, err := encoder.NewRegistry(cfg.Crop.JPEGEngine)
	if err != nil {
		logger.Fatal().Err(err).Msg("build encoder registry")
	}

	apiCfg := api.Config{
		Queue:        queueClient,
		Jobs:         jobStore,
		PresignTTL:   cfg.API.PresignTTL,
		Container:    cfg.Crop.Container(),
		UserIDHeader: cfg.RateLimit.UserIDHeader,
		MimeTypes:    registry.MimeTypes(),
	}

	storageClient, err := storage.NewClient(storage.Config{
		Endpoint: cfg.Storage.Endpoint,
		Access:   cfg.Storage.AccessKey,
		Secret:   cfg.Storage.SecretKey,
		Bucket:   cfg.Storage.Bucket,
		UseSSL:   cfg.Storage.UseSSL,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("object storage unavailable; s3_presigned jobs will fail")
	} else {
		apiCfg.Storage = storageClient
	}

	limiter, closeLimiter, err := newRateLimiter(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("setup rate limiter")
	}
	defer closeLimiter()
	apiCfg.RateLimiter = limiter

	app := api.NewServer(logger, apiCfg)
	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.API.Addr).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info().Msg("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}

// newRateLimiter returns a nil limiter when rate limiting is disabled.
func newRateLimiter(cfg config.Config, logger zerolog.Logger) (ratelimit.Limiter, func(), error) {
	noop := func() {}
	if cfg.RateLimit.Requests <= 0 {
		logger.Info().Msg("rate limiting disabled")
		return nil, noop, nil
	}

	if cfg.RateLimit.Backend == "memory" {
		limiter, err := ratelimit.NewMemoryLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
		return limiter, noop, err
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Queue.RedisAddr,
		Password: cfg.Queue.RedisPassword,
		DB:       cfg.Queue.RedisDB,
	})
	limiter, err := ratelimit.NewRedisLimiter(client, cfg.RateLimit.Requests, cfg.RateLimit.Window, "")
	if err != nil {
		_ = client.Close()
		return nil, noop, err
	}
	return limiter, func() { _ = client.Close() }, nil
}
