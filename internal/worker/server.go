package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dunamismax/cropflow/internal/config"
	"github.com/dunamismax/cropflow/internal/domain"
	"github.com/dunamismax/cropflow/internal/encoder"
	"github.com/dunamismax/cropflow/internal/pipeline"
	"github.com/dunamismax/cropflow/internal/queue"
	"github.com/dunamismax/cropflow/internal/store"
	"github.com/dunamismax/cropflow/internal/webhook"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type processor interface {
	Process(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

type Server struct {
	log             zerolog.Logger
	server          *asynq.Server
	sem             chan struct{}
	container       domain.Dimensions
	localProcessor  processor
	objectProcessor processor
	webhookClient   webhookSender
	jobStore        store.JobStore
	usageStore      store.UsageStore
	metrics         *metrics
	tracer          trace.Tracer
}

// Deps are the collaborators a worker needs beyond configuration. Cache may
// be nil.
type Deps struct {
	Storage    pipeline.ObjectStore
	Webhooks   *webhook.Client
	Jobs       store.JobStore
	Usage      store.UsageStore
	Cache      pipeline.ArtifactCache
	OutputRoot string
}

func NewServer(logger zerolog.Logger, cfg config.Config, deps Deps) (*Server, error) {
	if deps.Storage == nil {
		return nil, errors.New("storage client is required")
	}

	encoders, err := encoder.NewRegistry(cfg.Crop.JPEGEngine)
	if err != nil {
		return nil, fmt.Errorf("initialize encoders: %w", err)
	}
	strategy, err := encoder.ParseStrategy(cfg.Crop.QualitySearch)
	if err != nil {
		return nil, err
	}

	m := newMetrics()
	search := encoder.NewBudgeted(
		encoder.WithStrategy(strategy),
		encoder.WithObserver(func(mimeType string, _ int, _ int, elapsed time.Duration) {
			m.encodeSeconds.WithLabelValues(mimeType).Observe(elapsed.Seconds())
		}),
	)

	opts := []pipeline.Option{pipeline.WithEncoders(encoders), pipeline.WithSearch(search)}
	if deps.Cache != nil {
		opts = append(opts, pipeline.WithCache(deps.Cache))
	}

	localProcessor, err := pipeline.NewProcessor(
		pipeline.LocalFileFetcher{MaxBytes: cfg.Crop.MaxSourceBytes},
		pipeline.LocalFileEmitter{OutputDir: cfg.Worker.LocalOutputDir},
		opts...,
	)
	if err != nil {
		return nil, fmt.Errorf("initialize local processor: %w", err)
	}

	objectProcessor, err := pipeline.NewObjectStoreProcessor(deps.Storage, deps.OutputRoot, cfg.Crop.MaxSourceBytes, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialize object-store processor: %w", err)
	}

	usageStore := deps.Usage
	if usageStore == nil {
		if jobAndUsageStore, ok := deps.Jobs.(store.UsageStore); ok {
			usageStore = jobAndUsageStore
		}
	}

	workerLog := logger.With().Str("component", "worker").Logger()
	s := &Server{
		log: workerLog,
		server: asynq.NewServer(
			cfg.Queue.RedisClientOpt(),
			asynq.Config{
				Concurrency: cfg.Worker.Concurrency,
				Queues: map[string]int{
					cfg.Queue.Name: 1,
				},
				LogLevel: asynq.WarnLevel,
				BaseContext: func() context.Context {
					return workerLog.WithContext(context.Background())
				},
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					retried, _ := asynq.GetRetryCount(ctx)
					maxRetry, _ := asynq.GetMaxRetry(ctx)
					workerLog.Warn().
						Err(err).
						Str("task_type", task.Type()).
						Int("retry", retried).
						Int("max_retry", maxRetry).
						Msg("task failed")
				}),
			},
		),
		sem:             make(chan struct{}, max(1, cfg.Worker.MaxActiveJobs)),
		container:       cfg.Crop.Container(),
		localProcessor:  localProcessor,
		objectProcessor: objectProcessor,
		jobStore:        deps.Jobs,
		usageStore:      usageStore,
		metrics:         m,
		tracer:          otel.Tracer("cropflow/worker"),
	}
	if deps.Webhooks != nil {
		s.webhookClient = deps.Webhooks
	}
	return s, nil
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeCropApply, s.handleCropApply)
	return s.server.Run(mux)
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleCropApply(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := domain.JobStatusFailed

	payload, err := queue.ParseCropApplyPayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.crop_apply", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.String("job.source_type", payload.SourceType),
		attribute.String("job.mime_type", payload.Constraints.MimeType),
		attribute.Int("job.max_bytes", payload.Constraints.MaxBytes),
		attribute.Int("job.intents", len(payload.Intents)),
	)
	defer span.End()
	defer func() {
		s.metrics.jobDuration.WithLabelValues(payload.SourceType, outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.jobsTotal.WithLabelValues(payload.SourceType, outcome).Inc()
	}()

	log := s.log.With().Str("job_id", payload.JobID).Str("source_type", payload.SourceType).Logger()
	ctx = log.WithContext(ctx)

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.metrics.activeJobs.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeJobs.Dec()
	}()

	log.Info().
		Str("object_key", payload.ObjectKey).
		Str("crop_box", payload.CropBox.Dimensions().String()).
		Int("max_bytes", payload.Constraints.MaxBytes).
		Msg("processing crop job")

	if s.alreadySucceeded(ctx, payload.JobID) {
		log.Info().Msg("job already succeeded; skipping redelivered task")
		outcome = domain.JobStatusSucceeded
		span.SetStatus(codes.Ok, "already processed")
		return nil
	}
	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusProcessing)

	result, err := s.processorFor(payload.SourceType).Process(ctx, s.request(payload))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "crop failed")
		return s.handleFailure(ctx, payload, err)
	}

	log.Info().
		Str("location", result.Location).
		Float64("quality", result.Artifact.Quality).
		Int("size_bytes", result.Artifact.SizeBytes).
		Int("attempts", result.Artifact.Attempts).
		Bool("cache_hit", result.CacheHit).
		Msg("crop job completed")

	s.completeJob(ctx, payload.JobID, result)
	s.recordUsage(ctx, payload.JobID, result, time.Since(startedAt))
	if result.CacheHit {
		s.metrics.cacheHitsTotal.Inc()
	} else {
		s.metrics.encodeAttempts.WithLabelValues(result.Artifact.MimeType).Observe(float64(result.Artifact.Attempts))
	}

	if err := s.dispatchWebhook(ctx, payload, webhook.EventJobCompleted, map[string]any{
		"job_id":         payload.JobID,
		"status":         domain.JobStatusSucceeded,
		"source_type":    payload.SourceType,
		"object_key":     payload.ObjectKey,
		"requested_at":   payload.RequestedAt,
		"completed_at":   time.Now().UTC(),
		"result":         jobResult(result),
		"classification": result.Classification,
	}); err != nil {
		// The job is stored and billed; a retry would process it again.
		span.RecordError(err)
		log.Warn().Err(err).Msg("completion webhook not delivered")
	}

	outcome = domain.JobStatusSucceeded
	span.SetStatus(codes.Ok, "processed")
	return nil
}

// handleFailure records a failed attempt. Permanent failures skip asynq
// retries; transient ones only mark the job failed on the last retry.
func (s *Server) handleFailure(ctx context.Context, payload queue.CropApplyPayload, err error) error {
	log := zerolog.Ctx(ctx)

	var budgetErr *domain.BudgetUnreachableError
	if errors.As(err, &budgetErr) {
		s.metrics.budgetFailures.WithLabelValues(payload.Constraints.MimeType).Inc()
	}

	permanent := domain.Permanent(err) || errors.Is(err, pipeline.ErrUnsupportedSourceType)
	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	if !permanent && retried < maxRetry {
		log.Warn().Err(err).Int("retry", retried).Msg("crop job failed; will retry")
		s.updateJobStatus(ctx, payload.JobID, domain.JobStatusQueued)
		return fmt.Errorf("crop job: %w", err)
	}

	log.Error().Err(err).Bool("permanent", permanent).Msg("crop job failed")
	s.failJob(ctx, payload.JobID, err)
	if whErr := s.dispatchWebhook(ctx, payload, webhook.EventJobFailed, map[string]any{
		"job_id":       payload.JobID,
		"status":       domain.JobStatusFailed,
		"source_type":  payload.SourceType,
		"object_key":   payload.ObjectKey,
		"requested_at": payload.RequestedAt,
		"failed_at":    time.Now().UTC(),
		"error":        err.Error(),
	}); whErr != nil {
		log.Warn().Err(whErr).Msg("failure webhook not delivered")
	}

	if permanent {
		return fmt.Errorf("crop job: %v: %w", err, asynq.SkipRetry)
	}
	return fmt.Errorf("crop job: %w", err)
}

func (s *Server) processorFor(sourceType string) processor {
	if strings.EqualFold(sourceType, domain.SourceTypeLocalFile) {
		return s.localProcessor
	}
	return s.objectProcessor
}

func (s *Server) request(payload queue.CropApplyPayload) pipeline.Request {
	container := s.container
	if payload.Container != nil {
		container = *payload.Container
	}
	return pipeline.Request{
		JobID:       payload.JobID,
		SourceType:  payload.SourceType,
		ObjectKey:   payload.ObjectKey,
		CropBox:     payload.CropBox,
		Constraints: payload.Constraints,
		Container:   container,
		Intents:     payload.Intents,
	}
}

func jobResult(result pipeline.Result) domain.JobResult {
	return domain.JobResult{
		ObjectKey:      result.Location,
		MimeType:       result.Artifact.MimeType,
		Quality:        result.Artifact.Quality,
		SizeBytes:      result.Artifact.SizeBytes,
		Attempts:       result.Artifact.Attempts,
		Classification: result.Classification,
	}
}

func (s *Server) alreadySucceeded(ctx context.Context, jobID string) bool {
	if s.jobStore == nil {
		return false
	}
	job, ok, err := s.jobStore.Get(ctx, jobID)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("job lookup failed")
		return false
	}
	return ok && job.Status == domain.JobStatusSucceeded
}

func (s *Server) updateJobStatus(ctx context.Context, jobID, status string) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.UpdateStatus(ctx, jobID, status); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("status", status).Msg("job status update failed")
	}
}

func (s *Server) completeJob(ctx context.Context, jobID string, result pipeline.Result) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.Complete(ctx, jobID, jobResult(result)); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("job completion update failed")
	}
}

func (s *Server) failJob(ctx context.Context, jobID string, cause error) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.Fail(ctx, jobID, cause.Error()); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("job failure update failed")
	}
}

func (s *Server) dispatchWebhook(ctx context.Context, payload queue.CropApplyPayload, event string, body map[string]any) error {
	if payload.WebhookURL == "" || s.webhookClient == nil {
		return nil
	}

	if err := s.webhookClient.Send(ctx, payload.WebhookURL, event, body); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("event", event).Msg("webhook delivery failed")
		return fmt.Errorf("dispatch webhook: %w", err)
	}
	return nil
}

func (s *Server) recordUsage(ctx context.Context, jobID string, result pipeline.Result, computeDuration time.Duration) {
	if s.usageStore == nil {
		return
	}

	userID := "anonymous"
	if s.jobStore != nil {
		job, ok, err := s.jobStore.Get(ctx, jobID)
		if err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("usage lookup failed")
		} else if ok && strings.TrimSpace(job.UserID) != "" {
			userID = job.UserID
		}
	}

	pixelsProcessed := int64(result.Artifact.Width) * int64(result.Artifact.Height)
	bytesSaved := max(int64(result.SourceBytes-result.Artifact.SizeBytes), 0)
	computeTimeMS := max(computeDuration.Milliseconds(), 1)

	usage := domain.UsageLog{
		UserID:          userID,
		JobID:           jobID,
		PixelsProcessed: pixelsProcessed,
		BytesSaved:      bytesSaved,
		EncodeAttempts:  result.Artifact.Attempts,
		ComputeTimeMS:   computeTimeMS,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.usageStore.CreateUsageLog(ctx, usage); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("usage log write failed")
		return
	}

	s.metrics.pixelsProcessed.Add(float64(pixelsProcessed))
	s.metrics.bytesSavedTotal.Add(float64(bytesSaved))
	s.metrics.computeTimeMSTotal.Add(float64(computeTimeMS))
}
