package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dunamismax/cropflow/internal/domain"
	"github.com/hibiken/asynq"
)

const TypeCropApply = "crop:apply"

type CropApplyPayload struct {
	JobID       string                   `json:"job_id"`
	SourceType  string                   `json:"source_type"`
	WebhookURL  string                   `json:"webhook_url,omitempty"`
	ObjectKey   string                   `json:"object_key"`
	CropBox     domain.CropBoxSpec       `json:"crop_box"`
	Constraints domain.EncodeConstraints `json:"constraints"`
	Container   *domain.Dimensions       `json:"container,omitempty"`
	Intents     []domain.Intent          `json:"intents,omitempty"`
	RequestedAt time.Time                `json:"requested_at"`
}

// PayloadFromJob copies the crop parameters of a stored job.
func PayloadFromJob(job domain.Job, requestedAt time.Time) CropApplyPayload {
	return CropApplyPayload{
		JobID:       job.ID,
		SourceType:  job.SourceType,
		WebhookURL:  job.WebhookURL,
		ObjectKey:   job.ObjectKey,
		CropBox:     job.CropBox,
		Constraints: job.Constraints,
		Container:   job.Container,
		Intents:     job.Intents,
		RequestedAt: requestedAt.UTC(),
	}
}

func NewCropApplyTask(payload CropApplyPayload) (*asynq.Task, error) {
	if payload.JobID == "" {
		return nil, errors.New("crop payload requires job_id")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal crop payload: %w", err)
	}
	return asynq.NewTask(TypeCropApply, body), nil
}

func ParseCropApplyPayload(task *asynq.Task) (CropApplyPayload, error) {
	var payload CropApplyPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return CropApplyPayload{}, fmt.Errorf("unmarshal crop payload: %w", err)
	}
	if payload.JobID == "" {
		return CropApplyPayload{}, errors.New("crop payload missing job_id")
	}
	return payload, nil
}
