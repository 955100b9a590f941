package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/dunamismax/cropflow/internal/domain"
	"github.com/dunamismax/cropflow/internal/logging"
	"github.com/hibiken/asynq"
)

// Config is shared by the api and worker binaries. Every field can be set by
// flag or environment variable.
type Config struct {
	Log       logging.Config  `embed:"" prefix:"log-"`
	API       APIConfig       `embed:"" prefix:"api-"`
	Queue     QueueConfig     `embed:"" prefix:"queue-"`
	Worker    WorkerConfig    `embed:"" prefix:"worker-"`
	Crop      CropConfig      `embed:"" prefix:"crop-"`
	Storage   StorageConfig   `embed:"" prefix:"storage-"`
	Database  DatabaseConfig  `embed:"" prefix:"db-"`
	Cache     CacheConfig     `embed:"" prefix:"cache-"`
	Webhook   WebhookConfig   `embed:"" prefix:"webhook-"`
	Tracing   TracingConfig   `embed:"" prefix:"tracing-"`
	RateLimit RateLimitConfig `embed:"" prefix:"rate-limit-"`
}

type APIConfig struct {
	Addr       string        `help:"HTTP listen address." env:"CROPFLOW_API_ADDR" default:":8080"`
	PresignTTL time.Duration `help:"Lifetime of presigned upload URLs." env:"CROPFLOW_PRESIGN_TTL" default:"15m"`
}

type QueueConfig struct {
	RedisAddr     string        `help:"Redis address for the task queue." env:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string        `help:"Redis password." env:"REDIS_PASSWORD"`
	RedisDB       int           `help:"Redis database index." env:"REDIS_DB" default:"0"`
	Name          string        `help:"Queue name." env:"ASYNC_QUEUE" default:"default"`
	MaxRetry      int           `help:"Retries for transient crop failures." env:"QUEUE_MAX_RETRY" default:"5"`
	TaskTimeout   time.Duration `help:"Deadline for one crop attempt." env:"QUEUE_TASK_TIMEOUT" default:"3m"`
	Retention     time.Duration `help:"How long finished tasks keep their job ID reserved." env:"QUEUE_RETENTION" default:"24h"`
}

func (q QueueConfig) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

type WorkerConfig struct {
	Concurrency    int    `help:"asynq worker concurrency (0 = NumCPU, at least 2)." env:"WORKER_CONCURRENCY" default:"0"`
	MaxActiveJobs  int    `help:"Crop jobs allowed to encode at once (0 = NumCPU/2)." env:"WORKER_MAX_ACTIVE_JOBS" default:"0"`
	LocalOutputDir string `help:"Output directory for local_file jobs." env:"WORKER_LOCAL_OUTPUT_DIR" default:"./.cropflow-output"`
	MetricsAddr    string `help:"Listen address for worker metrics." env:"WORKER_METRICS_ADDR" default:":9091"`
}

// CropConfig holds encoder and geometry defaults for jobs that omit them.
type CropConfig struct {
	JPEGEngine      string `help:"JPEG encoder (std or jpegli)." env:"CROPFLOW_JPEG_ENGINE" default:"std" enum:"std,jpegli"`
	QualitySearch   string `help:"Quality search strategy (linear or binary)." env:"CROPFLOW_QUALITY_SEARCH" default:"linear" enum:"linear,binary"`
	ContainerWidth  int    `help:"Default viewport width in pixels." env:"CROPFLOW_CONTAINER_WIDTH" default:"800"`
	ContainerHeight int    `help:"Default viewport height in pixels." env:"CROPFLOW_CONTAINER_HEIGHT" default:"600"`
	MaxSourceBytes  int64  `help:"Largest accepted source object." env:"CROPFLOW_MAX_SOURCE_BYTES" default:"52428800"`
}

func (c CropConfig) Container() domain.Dimensions {
	return domain.Dimensions{Width: c.ContainerWidth, Height: c.ContainerHeight}
}

type StorageConfig struct {
	Endpoint  string `help:"S3-compatible endpoint." env:"MINIO_ENDPOINT" default:"localhost:9000"`
	AccessKey string `help:"Access key." env:"MINIO_ACCESS_KEY" default:"minioadmin"`
	SecretKey string `help:"Secret key." env:"MINIO_SECRET_KEY" default:"minioadmin"`
	Bucket    string `help:"Bucket for sources and artifacts." env:"MINIO_BUCKET" default:"cropflow-jobs"`
	UseSSL    bool   `help:"Use TLS for the storage endpoint." env:"MINIO_USE_SSL"`
}

type DatabaseConfig struct {
	DSN string `help:"Postgres DSN. Empty keeps jobs in memory." env:"POSTGRES_DSN"`
}

type CacheConfig struct {
	Enabled bool          `help:"Cache encoded artifacts in Redis." env:"ARTIFACT_CACHE_ENABLED"`
	TTL     time.Duration `help:"Artifact cache entry lifetime." env:"ARTIFACT_CACHE_TTL" default:"24h"`
}

type WebhookConfig struct {
	SigningSecret  string        `help:"HMAC secret for webhook signatures." env:"WEBHOOK_SIGNING_SECRET"`
	Timeout        time.Duration `help:"Per-attempt webhook timeout." env:"WEBHOOK_TIMEOUT" default:"10s"`
	MaxAttempts    int           `help:"Webhook delivery attempts." env:"WEBHOOK_MAX_ATTEMPTS" default:"3"`
	InitialBackoff time.Duration `help:"First retry delay." env:"WEBHOOK_INITIAL_BACKOFF" default:"1s"`
	MaxBackoff     time.Duration `help:"Retry delay cap." env:"WEBHOOK_MAX_BACKOFF" default:"10s"`
}

type TracingConfig struct {
	Exporter     string `help:"Trace exporter (none, stdout, otlp)." env:"OTEL_TRACES_EXPORTER" default:"none" enum:"none,stdout,otlp"`
	OTLPEndpoint string `help:"OTLP HTTP endpoint host:port." env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure bool   `help:"Disable TLS for OTLP." env:"OTEL_EXPORTER_OTLP_INSECURE"`
}

type RateLimitConfig struct {
	Backend      string        `help:"Limiter backend (redis or memory)." env:"RATE_LIMIT_BACKEND" default:"redis" enum:"redis,memory"`
	Requests     int           `help:"Requests allowed per window and user (0 disables)." env:"RATE_LIMIT_REQUESTS" default:"60"`
	Window       time.Duration `help:"Rate limit window." env:"RATE_LIMIT_WINDOW" default:"1m"`
	UserIDHeader string        `help:"Header identifying the caller." env:"RATE_LIMIT_USER_HEADER" default:"X-User-ID"`
}

// Load parses args and the environment into a Config.
func Load(name string, args []string) (Config, error) {
	var cfg Config
	parser, err := kong.New(&cfg,
		kong.Name(name),
		kong.Description("Crop and encode images to a byte budget."),
		kong.UsageOnError(),
	)
	if err != nil {
		return Config{}, fmt.Errorf("build config parser: %w", err)
	}
	if _, err := parser.Parse(args); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	if c.Worker.Concurrency <= 0 {
		c.Worker.Concurrency = max(2, runtime.NumCPU())
	}
	if c.Worker.MaxActiveJobs <= 0 {
		c.Worker.MaxActiveJobs = max(1, runtime.NumCPU()/2)
	}
	c.Queue.Name = strings.TrimSpace(c.Queue.Name)
	if c.Queue.Name == "" {
		c.Queue.Name = "default"
	}
}

func (c Config) validate() error {
	if !c.Crop.Container().Valid() {
		return fmt.Errorf("container must be positive, got %s", c.Crop.Container())
	}
	if c.Crop.MaxSourceBytes <= 0 {
		return fmt.Errorf("max source bytes must be positive")
	}
	if c.Queue.MaxRetry < 0 {
		return fmt.Errorf("queue max retry must not be negative")
	}
	if c.Tracing.Exporter == "otlp" && strings.TrimSpace(c.Tracing.OTLPEndpoint) == "" {
		return fmt.Errorf("otlp tracing requires OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	return nil
}
