package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dunamismax/cropflow/internal/domain"
	"github.com/dunamismax/cropflow/internal/id"
	"github.com/dunamismax/cropflow/internal/queue"
	"github.com/dunamismax/cropflow/internal/ratelimit"
	"github.com/dunamismax/cropflow/internal/store"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

type queueEnqueuer interface {
	EnqueueCropApply(ctx context.Context, payload queue.CropApplyPayload) (*asynq.TaskInfo, error)
}

type objectStorage interface {
	PresignedPutURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
	PresignedGetURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
	ObjectExists(ctx context.Context, objectKey string) (bool, error)
}

// Config wires the api server. Storage and RateLimiter may be nil.
type Config struct {
	Queue        queueEnqueuer
	Jobs         store.JobStore
	Storage      objectStorage
	RateLimiter  ratelimit.Limiter
	PresignTTL   time.Duration
	Container    domain.Dimensions
	UserIDHeader string
	// MimeTypes lists the output formats the workers can encode. Empty
	// accepts every format the request validation accepts.
	MimeTypes []string
}

type Server struct {
	log                   zerolog.Logger
	queueClient           queueEnqueuer
	jobStore              store.JobStore
	storage               objectStorage
	presignTTL            time.Duration
	container             domain.Dimensions
	mimeTypes             map[string]bool
	rateLimiter           ratelimit.Limiter
	rateLimitUserIDHeader string
	metrics               *metrics
	tracer                trace.Tracer
	mux                   *http.ServeMux
}

func NewServer(logger zerolog.Logger, cfg Config) *Server {
	if cfg.PresignTTL <= 0 {
		cfg.PresignTTL = 15 * time.Minute
	}
	if cfg.Storage == nil {
		cfg.Storage = unavailableObjectStorage{}
	}
	if !cfg.Container.Valid() {
		cfg.Container = domain.Dimensions{Width: 800, Height: 600}
	}
	if strings.TrimSpace(cfg.UserIDHeader) == "" {
		cfg.UserIDHeader = "X-User-ID"
	}

	var mimeTypes map[string]bool
	if len(cfg.MimeTypes) > 0 {
		mimeTypes = make(map[string]bool, len(cfg.MimeTypes))
		for _, m := range cfg.MimeTypes {
			mimeTypes[strings.ToLower(m)] = true
		}
	}

	s := &Server{
		log:                   logger.With().Str("component", "api").Logger(),
		queueClient:           cfg.Queue,
		jobStore:              cfg.Jobs,
		storage:               cfg.Storage,
		presignTTL:            cfg.PresignTTL,
		container:             cfg.Container,
		mimeTypes:             mimeTypes,
		rateLimiter:           cfg.RateLimiter,
		rateLimitUserIDHeader: cfg.UserIDHeader,
		metrics:               newMetrics(),
		tracer:                otel.Tracer("cropflow/api"),
		mux:                   http.NewServeMux(),
	}
	s.routes()
	return s
}

type unavailableObjectStorage struct{}

func (unavailableObjectStorage) PresignedPutURL(context.Context, string, time.Duration) (string, error) {
	return "", errors.New("object storage is unavailable")
}

func (unavailableObjectStorage) PresignedGetURL(context.Context, string, time.Duration) (string, error) {
	return "", errors.New("object storage is unavailable")
}

func (unavailableObjectStorage) ObjectExists(context.Context, string) (bool, error) {
	return false, errors.New("object storage is unavailable")
}

func (s *Server) Handler() http.Handler {
	return s.instrument(s.limit(s.mux))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", s.metrics.handler())
	s.mux.HandleFunc("POST /v1/jobs", s.handleCreateJob)
	s.mux.HandleFunc("POST /v1/jobs/{id}/start", s.handleStartJob)
	s.mux.HandleFunc("GET /v1/jobs/{id}", s.handleGetJob)
	s.mux.HandleFunc("POST /v1/fit", s.handleFit)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	log := zerolog.Ctx(r.Context())

	var req domain.CreateJobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Constraints.MimeType) == "" {
		req.Constraints.MimeType = domain.MimeJPEG
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.mimeTypes != nil && !s.mimeTypes[strings.ToLower(req.Constraints.MimeType)] {
		writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("%s: %s", domain.ErrUnsupportedMime, req.Constraints.MimeType))
		return
	}

	now := time.Now().UTC()
	jobID := id.New()
	sourceType := strings.ToLower(strings.TrimSpace(req.SourceType))
	objectKey := strings.TrimSpace(req.ObjectKey)
	uploadState := "not_required"
	presignedPutURL := ""

	if sourceType == domain.SourceTypeS3Presigned {
		objectKey = fmt.Sprintf("uploads/%s/source", jobID)
		url, err := s.storage.PresignedPutURL(r.Context(), objectKey, s.presignTTL)
		if err != nil {
			log.Error().Err(err).Str("job_id", jobID).Msg("generate presigned url failed")
			writeError(w, http.StatusInternalServerError, "failed to generate upload URL")
			return
		}
		presignedPutURL = url
		uploadState = "ready"
	}

	job := domain.Job{
		ID:          jobID,
		UserID:      strings.TrimSpace(r.Header.Get(s.rateLimitUserIDHeader)),
		Status:      domain.JobStatusCreated,
		SourceType:  sourceType,
		WebhookURL:  req.WebhookURL,
		ObjectKey:   objectKey,
		CropBox:     req.CropBox,
		Constraints: req.Constraints,
		Container:   req.Container,
		Intents:     req.Intents,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.jobStore.Create(r.Context(), job); err != nil {
		log.Error().Err(err).Str("job_id", job.ID).Msg("create job failed")
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	log.Info().Str("job_id", job.ID).Str("source_type", sourceType).Msg("job created")
	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id": job.ID,
		"status": job.Status,
		"upload": map[string]string{
			"object_key":          job.ObjectKey,
			"presigned_put_url":   presignedPutURL,
			"presigned_url_state": uploadState,
		},
		"start_url": fmt.Sprintf("/v1/jobs/%s/start", job.ID),
	})
}

func (s *Server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	log := zerolog.Ctx(r.Context())
	jobID := strings.TrimSpace(r.PathValue("id"))

	job, ok := s.loadJob(w, r, jobID)
	if !ok {
		return
	}
	if job.Status != domain.JobStatusCreated {
		writeError(w, http.StatusConflict, fmt.Sprintf("job already %s", job.Status))
		return
	}

	if err := s.verifySourceExists(r.Context(), job); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	taskInfo, err := s.queueClient.EnqueueCropApply(r.Context(), queue.PayloadFromJob(job, time.Now()))
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		writeError(w, http.StatusConflict, "job already started")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("job_id", job.ID).Msg("enqueue failed")
		writeError(w, http.StatusInternalServerError, "failed to enqueue job")
		return
	}
	s.metrics.queueEnqueued.WithLabelValues(taskInfo.Queue).Inc()

	if _, err := s.jobStore.UpdateStatus(r.Context(), job.ID, domain.JobStatusQueued); err != nil {
		log.Warn().Err(err).Str("job_id", job.ID).Msg("update status failed")
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":      job.ID,
		"status":      domain.JobStatusQueued,
		"queue":       taskInfo.Queue,
		"task_id":     taskInfo.ID,
		"state":       taskInfo.State.String(),
		"enqueued_at": taskInfo.NextProcessAt,
	})
}

type jobView struct {
	ID          string                   `json:"job_id"`
	Status      string                   `json:"status"`
	SourceType  string                   `json:"source_type"`
	ObjectKey   string                   `json:"object_key"`
	CropBox     domain.CropBoxSpec       `json:"crop_box"`
	Constraints domain.EncodeConstraints `json:"constraints"`
	Result      *domain.JobResult        `json:"result,omitempty"`
	DownloadURL string                   `json:"download_url,omitempty"`
	Error       string                   `json:"error,omitempty"`
	CreatedAt   time.Time                `json:"created_at"`
	UpdatedAt   time.Time                `json:"updated_at"`
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r, strings.TrimSpace(r.PathValue("id")))
	if !ok {
		return
	}

	view := jobView{
		ID:          job.ID,
		Status:      job.Status,
		SourceType:  job.SourceType,
		ObjectKey:   job.ObjectKey,
		CropBox:     job.CropBox,
		Constraints: job.Constraints,
		Result:      job.Result,
		Error:       job.Error,
		CreatedAt:   job.CreatedAt,
		UpdatedAt:   job.UpdatedAt,
	}
	if job.Result != nil && job.SourceType == domain.SourceTypeS3Presigned {
		url, err := s.storage.PresignedGetURL(r.Context(), job.Result.ObjectKey, s.presignTTL)
		if err != nil {
			zerolog.Ctx(r.Context()).Warn().Err(err).Str("job_id", job.ID).Msg("presign download failed")
		} else {
			view.DownloadURL = url
		}
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) loadJob(w http.ResponseWriter, r *http.Request, jobID string) (domain.Job, bool) {
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job id is required")
		return domain.Job{}, false
	}

	job, ok, err := s.jobStore.Get(r.Context(), jobID)
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("job_id", jobID).Msg("fetch job failed")
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return domain.Job{}, false
	}
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return domain.Job{}, false
	}
	return job, true
}

func (s *Server) verifySourceExists(ctx context.Context, job domain.Job) error {
	switch job.SourceType {
	case domain.SourceTypeLocalFile:
		if _, err := os.Stat(job.ObjectKey); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("source object is missing: %s", job.ObjectKey)
			}
			return fmt.Errorf("source object check failed: %w", err)
		}
		return nil
	default:
		exists, err := s.storage.ObjectExists(ctx, job.ObjectKey)
		if err != nil {
			return fmt.Errorf("source object check failed: %w", err)
		}
		if !exists {
			return fmt.Errorf("source object is missing: %s", job.ObjectKey)
		}
		return nil
	}
}

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 1 << 20
	limited := io.LimitReader(r.Body, maxBodyBytes)
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
