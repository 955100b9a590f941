package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	JobStatusCreated    = "created"
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusSucceeded  = "succeeded"
	JobStatusFailed     = "failed"

	SourceTypeLocalFile   = "local_file"
	SourceTypeS3Presigned = "s3_presigned"

	IntentZoomIn  = "zoom_in"
	IntentZoomOut = "zoom_out"
	IntentZoom    = "zoom"
	IntentPan     = "pan"
	IntentRefit   = "refit"
)

// Intent is a recorded user gesture replayed against a session before apply.
type Intent struct {
	Type  string  `json:"type"`
	Value float64 `json:"value,omitempty"`
	DX    float64 `json:"dx,omitempty"`
	DY    float64 `json:"dy,omitempty"`
}

type CreateJobRequest struct {
	SourceType  string            `json:"source_type"`
	WebhookURL  string            `json:"webhook_url,omitempty"`
	ObjectKey   string            `json:"object_key,omitempty"`
	CropBox     CropBoxSpec       `json:"crop_box"`
	Constraints EncodeConstraints `json:"constraints"`
	Container   *Dimensions       `json:"container,omitempty"`
	Intents     []Intent          `json:"intents,omitempty"`
}

type JobResult struct {
	ObjectKey      string         `json:"object_key"`
	MimeType       string         `json:"mime_type"`
	Quality        float64        `json:"quality"`
	SizeBytes      int            `json:"size_bytes"`
	Attempts       int            `json:"attempts"`
	Classification Classification `json:"classification"`
}

type Job struct {
	ID          string
	UserID      string
	Status      string
	SourceType  string
	WebhookURL  string
	ObjectKey   string
	CropBox     CropBoxSpec
	Constraints EncodeConstraints
	Container   *Dimensions
	Intents     []Intent
	Result      *JobResult
	Error       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// UsageLog is written once per successful job for billing and reporting.
// BytesSaved is source size minus artifact size, never negative.
type UsageLog struct {
	UserID          string
	JobID           string
	PixelsProcessed int64
	BytesSaved      int64
	EncodeAttempts  int
	ComputeTimeMS   int64
	CreatedAt       time.Time
}

func (r CreateJobRequest) Validate() error {
	sourceType := strings.ToLower(strings.TrimSpace(r.SourceType))
	if sourceType == "" {
		return errors.New("source_type is required")
	}
	if sourceType != SourceTypeLocalFile && sourceType != SourceTypeS3Presigned {
		return fmt.Errorf("unsupported source_type: %s", r.SourceType)
	}
	if sourceType == SourceTypeLocalFile && strings.TrimSpace(r.ObjectKey) == "" {
		return errors.New("object_key is required for source_type=local_file")
	}
	if err := r.CropBox.Validate(); err != nil {
		return fmt.Errorf("crop_box: %w", err)
	}
	if err := r.Constraints.Validate(); err != nil {
		return fmt.Errorf("constraints: %w", err)
	}
	if r.Container != nil && !r.Container.Valid() {
		return errors.New("container must be positive when set")
	}
	for i, intent := range r.Intents {
		if err := intent.Validate(); err != nil {
			return fmt.Errorf("intents[%d]: %w", i, err)
		}
	}
	return nil
}

func (i Intent) Validate() error {
	switch strings.ToLower(strings.TrimSpace(i.Type)) {
	case IntentZoomIn, IntentZoomOut, IntentRefit, IntentPan:
		return nil
	case IntentZoom:
		if i.Value <= 0 {
			return errors.New("zoom intent requires value > 0")
		}
		return nil
	case "":
		return errors.New("type is required")
	default:
		return fmt.Errorf("unsupported intent type: %s", i.Type)
	}
}
