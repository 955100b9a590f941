package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("test", nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.API.Addr != ":8080" {
		t.Fatalf("expected :8080, got %s", cfg.API.Addr)
	}
	if cfg.Queue.Name != "default" {
		t.Fatalf("expected default queue, got %s", cfg.Queue.Name)
	}
	if cfg.Worker.Concurrency < 2 || cfg.Worker.MaxActiveJobs < 1 {
		t.Fatalf("expected runtime worker defaults, got %+v", cfg.Worker)
	}
	if got := cfg.Crop.Container(); got.Width != 800 || got.Height != 600 {
		t.Fatalf("expected 800x600 container, got %s", got)
	}
	if cfg.Crop.JPEGEngine != "std" || cfg.Crop.QualitySearch != "linear" {
		t.Fatalf("unexpected crop defaults: %+v", cfg.Crop)
	}
	if cfg.API.PresignTTL != 15*time.Minute {
		t.Fatalf("expected 15m presign ttl, got %s", cfg.API.PresignTTL)
	}
}

func TestLoadEnvironmentAndFlags(t *testing.T) {
	t.Setenv("REDIS_ADDR", "redis:6380")
	t.Setenv("WORKER_CONCURRENCY", "7")
	t.Setenv("CROPFLOW_JPEG_ENGINE", "jpegli")

	cfg, err := Load("test", []string{"--crop-quality-search=binary", "--api-addr=:9000"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Queue.RedisAddr != "redis:6380" {
		t.Fatalf("expected redis:6380, got %s", cfg.Queue.RedisAddr)
	}
	if cfg.Worker.Concurrency != 7 {
		t.Fatalf("expected concurrency 7, got %d", cfg.Worker.Concurrency)
	}
	if cfg.Crop.JPEGEngine != "jpegli" || cfg.Crop.QualitySearch != "binary" {
		t.Fatalf("unexpected crop config: %+v", cfg.Crop)
	}
	if cfg.API.Addr != ":9000" {
		t.Fatalf("expected :9000, got %s", cfg.API.Addr)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	if _, err := Load("test", []string{"--crop-jpeg-engine=mozjpeg"}); err == nil {
		t.Fatal("expected enum violation")
	}
	if _, err := Load("test", []string{"--crop-container-width=0"}); err == nil {
		t.Fatal("expected container validation error")
	}
	if _, err := Load("test", []string{"--tracing-exporter=otlp"}); err == nil {
		t.Fatal("expected otlp endpoint error")
	}
}
