package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dunamismax/cropflow/internal/domain"
	_ "github.com/lib/pq"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS crop_jobs (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	source_type TEXT NOT NULL,
	webhook_url TEXT NOT NULL DEFAULT '',
	object_key TEXT NOT NULL,
	crop_box JSONB NOT NULL,
	constraints JSONB NOT NULL,
	container JSONB,
	intents JSONB NOT NULL DEFAULT '[]',
	result JSONB,
	error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS usage_logs (
	id BIGSERIAL PRIMARY KEY,
	user_id TEXT NOT NULL,
	job_id TEXT NOT NULL,
	pixels_processed BIGINT NOT NULL,
	bytes_saved BIGINT NOT NULL,
	encode_attempts INTEGER NOT NULL,
	compute_time_ms BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
`

const selectJobSQL = `SELECT id, user_id, status, source_type, webhook_url, object_key, crop_box, constraints,
	container, intents, result, error, created_at, updated_at
 FROM crop_jobs
 WHERE id = $1`

type PostgresJobStore struct {
	db *sql.DB
}

func NewPostgresJobStore(ctx context.Context, dsn string) (*PostgresJobStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresJobStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *PostgresJobStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure crop schema: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) Close() error {
	return s.db.Close()
}

func (s *PostgresJobStore) Create(ctx context.Context, job domain.Job) error {
	cols, err := encodeJobColumns(job)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO crop_jobs (id, user_id, status, source_type, webhook_url, object_key, crop_box, constraints,
			container, intents, result, error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		job.ID,
		job.UserID,
		job.Status,
		job.SourceType,
		job.WebhookURL,
		job.ObjectKey,
		cols.cropBox,
		cols.constraints,
		nullableJSON(cols.container),
		cols.intents,
		nullableJSON(cols.result),
		job.Error,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) Get(ctx context.Context, id string) (domain.Job, bool, error) {
	var (
		job  domain.Job
		cols jobColumns
	)
	err := s.db.QueryRowContext(ctx, selectJobSQL, id).Scan(
		&job.ID,
		&job.UserID,
		&job.Status,
		&job.SourceType,
		&job.WebhookURL,
		&job.ObjectKey,
		&cols.cropBox,
		&cols.constraints,
		&cols.container,
		&cols.intents,
		&cols.result,
		&job.Error,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Job{}, false, nil
		}
		return domain.Job{}, false, fmt.Errorf("query job: %w", err)
	}

	if err := cols.decodeInto(&job); err != nil {
		return domain.Job{}, false, err
	}
	return job, true, nil
}

func (s *PostgresJobStore) UpdateStatus(ctx context.Context, id, status string) (domain.Job, error) {
	return s.exec(ctx, id,
		`UPDATE crop_jobs SET status = $1, updated_at = $2 WHERE id = $3`,
		status, time.Now().UTC(), id,
	)
}

func (s *PostgresJobStore) Complete(ctx context.Context, id string, result domain.JobResult) (domain.Job, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return domain.Job{}, fmt.Errorf("marshal job result: %w", err)
	}
	return s.exec(ctx, id,
		`UPDATE crop_jobs SET status = $1, result = $2, error = '', updated_at = $3 WHERE id = $4`,
		domain.JobStatusSucceeded, raw, time.Now().UTC(), id,
	)
}

func (s *PostgresJobStore) Fail(ctx context.Context, id, reason string) (domain.Job, error) {
	return s.exec(ctx, id,
		`UPDATE crop_jobs SET status = $1, error = $2, updated_at = $3 WHERE id = $4`,
		domain.JobStatusFailed, reason, time.Now().UTC(), id,
	)
}

func (s *PostgresJobStore) CreateUsageLog(ctx context.Context, usage domain.UsageLog) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO usage_logs (user_id, job_id, pixels_processed, bytes_saved, encode_attempts, compute_time_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		usage.UserID,
		usage.JobID,
		usage.PixelsProcessed,
		usage.BytesSaved,
		usage.EncodeAttempts,
		usage.ComputeTimeMS,
		usage.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert usage log: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) exec(ctx context.Context, id, query string, args ...any) (domain.Job, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return domain.Job{}, fmt.Errorf("update job %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.Job{}, ErrJobNotFound
	}

	job, ok, err := s.Get(ctx, id)
	if err != nil {
		return domain.Job{}, err
	}
	if !ok {
		return domain.Job{}, ErrJobNotFound
	}
	return job, nil
}

// jobColumns holds the JSONB columns of a crop job row.
type jobColumns struct {
	cropBox     []byte
	constraints []byte
	container   []byte
	intents     []byte
	result      []byte
}

func encodeJobColumns(job domain.Job) (jobColumns, error) {
	var (
		cols jobColumns
		err  error
	)
	if cols.cropBox, err = json.Marshal(job.CropBox); err != nil {
		return cols, fmt.Errorf("marshal crop box: %w", err)
	}
	if cols.constraints, err = json.Marshal(job.Constraints); err != nil {
		return cols, fmt.Errorf("marshal constraints: %w", err)
	}
	if job.Container != nil {
		if cols.container, err = json.Marshal(job.Container); err != nil {
			return cols, fmt.Errorf("marshal container: %w", err)
		}
	}
	intents := job.Intents
	if intents == nil {
		intents = []domain.Intent{}
	}
	if cols.intents, err = json.Marshal(intents); err != nil {
		return cols, fmt.Errorf("marshal intents: %w", err)
	}
	if job.Result != nil {
		if cols.result, err = json.Marshal(job.Result); err != nil {
			return cols, fmt.Errorf("marshal result: %w", err)
		}
	}
	return cols, nil
}

// nullableJSON maps an absent document to SQL NULL.
func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

func (c jobColumns) decodeInto(job *domain.Job) error {
	if err := json.Unmarshal(c.cropBox, &job.CropBox); err != nil {
		return fmt.Errorf("unmarshal crop box: %w", err)
	}
	if err := json.Unmarshal(c.constraints, &job.Constraints); err != nil {
		return fmt.Errorf("unmarshal constraints: %w", err)
	}
	if len(c.container) > 0 {
		job.Container = &domain.Dimensions{}
		if err := json.Unmarshal(c.container, job.Container); err != nil {
			return fmt.Errorf("unmarshal container: %w", err)
		}
	}
	if len(c.intents) > 0 {
		if err := json.Unmarshal(c.intents, &job.Intents); err != nil {
			return fmt.Errorf("unmarshal intents: %w", err)
		}
	}
	if len(c.result) > 0 {
		job.Result = &domain.JobResult{}
		if err := json.Unmarshal(c.result, job.Result); err != nil {
			return fmt.Errorf("unmarshal result: %w", err)
		}
	}
	return nil
}
