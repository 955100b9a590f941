package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// EnqueuePolicy controls retries and lifetime of crop tasks.
type EnqueuePolicy struct {
	MaxRetry  int
	Timeout   time.Duration
	Retention time.Duration
}

// DefaultPolicy is used when a zero EnqueuePolicy is supplied.
var DefaultPolicy = EnqueuePolicy{
	MaxRetry:  5,
	Timeout:   3 * time.Minute,
	Retention: 24 * time.Hour,
}

func (p EnqueuePolicy) options(queueName, taskID string) []asynq.Option {
	opts := []asynq.Option{
		asynq.Queue(queueName),
		asynq.TaskID(taskID),
		asynq.MaxRetry(p.MaxRetry),
	}
	if p.Timeout > 0 {
		opts = append(opts, asynq.Timeout(p.Timeout))
	}
	if p.Retention > 0 {
		opts = append(opts, asynq.Retention(p.Retention))
	}
	return opts
}

// Client enqueues crop tasks onto a single asynq queue.
type Client struct {
	client *asynq.Client
	queue  string
	policy EnqueuePolicy
}

func NewClient(redisOpt asynq.RedisClientOpt, queueName string, policy EnqueuePolicy) *Client {
	if policy == (EnqueuePolicy{}) {
		policy = DefaultPolicy
	}
	return &Client{
		client: asynq.NewClient(redisOpt),
		queue:  queueName,
		policy: policy,
	}
}

// EnqueueCropApply schedules a crop job. The job ID is the task ID, so a job
// that is still queued or retained is rejected with asynq.ErrTaskIDConflict.
func (c *Client) EnqueueCropApply(ctx context.Context, payload CropApplyPayload) (*asynq.TaskInfo, error) {
	task, err := NewCropApplyTask(payload)
	if err != nil {
		return nil, err
	}
	info, err := c.client.EnqueueContext(ctx, task, c.policy.options(c.queue, payload.JobID)...)
	if err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", payload.JobID, err)
	}
	return info, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}
