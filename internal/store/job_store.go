package store

import (
	"context"
	"errors"
	"strings"

	"github.com/dunamismax/cropflow/internal/domain"
)

var ErrJobNotFound = errors.New("job not found")

type JobStore interface {
	Create(ctx context.Context, job domain.Job) error
	Get(ctx context.Context, id string) (domain.Job, bool, error)
	UpdateStatus(ctx context.Context, id, status string) (domain.Job, error)
	// Complete marks the job succeeded and records its artifact.
	Complete(ctx context.Context, id string, result domain.JobResult) (domain.Job, error)
	// Fail marks the job failed with a human-readable reason.
	Fail(ctx context.Context, id, reason string) (domain.Job, error)
}

type UsageStore interface {
	CreateUsageLog(ctx context.Context, usage domain.UsageLog) error
}

// Store records jobs and their usage.
type Store interface {
	JobStore
	UsageStore
}

// Open returns a Postgres store for a non-empty DSN and an in-memory store
// otherwise. The returned close function is never nil.
func Open(ctx context.Context, dsn string) (Store, func() error, error) {
	if strings.TrimSpace(dsn) == "" {
		return NewMemoryJobStore(), func() error { return nil }, nil
	}
	pg, err := NewPostgresJobStore(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}
	return pg, pg.Close, nil
}
