// Package pipeline runs a crop session headlessly: fetch the source, replay
// recorded intents, apply, and emit the artifact.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/dunamismax/cropflow/internal/cache"
	"github.com/dunamismax/cropflow/internal/domain"
	"github.com/dunamismax/cropflow/internal/encoder"
	"github.com/dunamismax/cropflow/internal/raster"
	"github.com/dunamismax/cropflow/internal/session"
	"github.com/rs/zerolog"
)

const SourceTypeLocalFile = domain.SourceTypeLocalFile

var ErrUnsupportedSourceType = errors.New("unsupported source_type")

type Request struct {
	JobID       string
	SourceType  string
	ObjectKey   string
	CropBox     domain.CropBoxSpec
	Constraints domain.EncodeConstraints
	Container   domain.Dimensions
	Intents     []domain.Intent
}

type Result struct {
	// Location is a file path or object key, depending on the emitter.
	Location       string
	Artifact       domain.EncodedArtifact
	Classification domain.Classification
	SourceBytes    int
	CacheHit       bool
}

type Fetcher interface {
	Fetch(ctx context.Context, req Request) ([]byte, error)
}

type Emitter interface {
	Emit(ctx context.Context, req Request, artifact domain.EncodedArtifact) (string, error)
}

type ArtifactCache interface {
	Get(ctx context.Context, key string) (domain.EncodedArtifact, bool, error)
	Put(ctx context.Context, key string, artifact domain.EncodedArtifact) error
}

type Processor struct {
	fetcher  Fetcher
	emitter  Emitter
	encoders *encoder.Registry
	search   *encoder.Budgeted
	cache    ArtifactCache
}

type Option func(*Processor)

func WithEncoders(r *encoder.Registry) Option {
	return func(p *Processor) { p.encoders = r }
}

func WithSearch(b *encoder.Budgeted) Option {
	return func(p *Processor) { p.search = b }
}

func WithCache(c ArtifactCache) Option {
	return func(p *Processor) { p.cache = c }
}

func NewProcessor(fetcher Fetcher, emitter Emitter, opts ...Option) (*Processor, error) {
	if fetcher == nil || emitter == nil {
		return nil, errors.New("fetcher and emitter are required")
	}

	p := &Processor{fetcher: fetcher, emitter: emitter}
	for _, opt := range opts {
		opt(p)
	}
	if p.encoders == nil {
		registry, err := encoder.NewRegistry(encoder.JPEGEngineStd)
		if err != nil {
			return nil, fmt.Errorf("build encoder registry: %w", err)
		}
		p.encoders = registry
	}
	if p.search == nil {
		p.search = encoder.NewBudgeted()
	}
	return p, nil
}

func NewLocalProcessor(outputDir string, opts ...Option) (*Processor, error) {
	return NewProcessor(LocalFileFetcher{}, LocalFileEmitter{OutputDir: outputDir}, opts...)
}

func (p *Processor) Process(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.JobID) == "" {
		return Result{}, errors.New("job_id is required")
	}
	if err := req.CropBox.Validate(); err != nil {
		return Result{}, fmt.Errorf("%w: %v", domain.ErrInvalidGeometry, err)
	}
	if !req.Container.Valid() {
		return Result{}, fmt.Errorf("container %s: %w", req.Container, domain.ErrInvalidGeometry)
	}

	log := zerolog.Ctx(ctx).With().Str("job_id", req.JobID).Logger()
	ctx = log.WithContext(ctx)

	source, err := p.fetcher.Fetch(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("fetch stage: %w", err)
	}

	result := Result{SourceBytes: len(source)}
	cacheKey := ""
	if p.cache != nil {
		cacheKey = cache.Key(source, p.fingerprint(req)...)
		artifact, ok, err := p.cache.Get(ctx, cacheKey)
		if err != nil {
			log.Warn().Err(err).Msg("artifact cache read failed")
		} else if ok {
			dims, err := raster.Probe(source)
			if err == nil {
				result.Artifact = artifact
				result.Classification = raster.Classify(dims, req.CropBox)
				result.CacheHit = true
				log.Debug().Str("cache_key", cacheKey).Msg("artifact cache hit")
			}
		}
	}

	if !result.CacheHit {
		artifact, class, err := p.crop(ctx, req, source)
		if err != nil {
			return Result{}, err
		}
		result.Artifact = artifact
		result.Classification = class

		if p.cache != nil {
			if err := p.cache.Put(ctx, cacheKey, artifact); err != nil {
				log.Warn().Err(err).Msg("artifact cache write failed")
			}
		}
	}

	location, err := p.emitter.Emit(ctx, req, result.Artifact)
	if err != nil {
		return Result{}, fmt.Errorf("emit stage: %w", err)
	}
	result.Location = location
	return result, nil
}

func (p *Processor) crop(ctx context.Context, req Request, source []byte) (domain.EncodedArtifact, domain.Classification, error) {
	sess, err := session.New(session.Config{
		CropBox:     req.CropBox,
		Container:   req.Container,
		Constraints: req.Constraints,
		Encoders:    p.encoders,
		Search:      p.search,
		Logger:      zerolog.Ctx(ctx),
	})
	if err != nil {
		return domain.EncodedArtifact{}, domain.Croppable, err
	}
	defer sess.Cancel()

	if err := sess.Load(ctx, source, ""); err != nil {
		return domain.EncodedArtifact{}, domain.Croppable, err
	}
	class, err := sess.Fit()
	if err != nil {
		return domain.EncodedArtifact{}, class, err
	}

	for i, intent := range req.Intents {
		if err := sess.Dispatch(intent); err != nil {
			return domain.EncodedArtifact{}, class, fmt.Errorf("replay intent %d (%s): %w", i, intent.Type, err)
		}
	}

	artifact, err := sess.Apply(ctx)
	if err != nil {
		return domain.EncodedArtifact{}, class, err
	}
	return artifact, class, nil
}

// fingerprint lists every request parameter that changes the encoded bytes.
func (p *Processor) fingerprint(req Request) []string {
	parts := []string{
		req.CropBox.Dimensions().String(),
		req.Container.String(),
		raster.NormalizeMimeType(req.Constraints.MimeType),
		strconv.Itoa(req.Constraints.MaxBytes),
		p.search.Strategy().String(),
		encoder.Backend(),
	}
	if enc, err := p.encoders.ForMime(req.Constraints.MimeType); err == nil {
		parts = append(parts, fmt.Sprintf("%T", enc))
	}
	for _, in := range req.Intents {
		parts = append(parts, fmt.Sprintf("%s:%g:%g:%g", strings.ToLower(in.Type), in.Value, in.DX, in.DY))
	}
	return parts
}

// ArtifactName is the content-addressed name of an artifact within a job.
func ArtifactName(jobID string, artifact domain.EncodedArtifact) string {
	ext := raster.FormatForMime(artifact.MimeType)
	if ext == "" {
		ext = "bin"
	}
	return fmt.Sprintf("%s/%016x.%s", sanitizePathToken(jobID), xxhash.Sum64(artifact.Bytes), ext)
}

type LocalFileFetcher struct {
	MaxBytes int64
}

func (f LocalFileFetcher) Fetch(ctx context.Context, req Request) ([]byte, error) {
	if !strings.EqualFold(req.SourceType, SourceTypeLocalFile) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if f.MaxBytes > 0 {
		info, err := os.Stat(req.ObjectKey)
		if err != nil {
			return nil, fmt.Errorf("stat input file %s: %w", req.ObjectKey, err)
		}
		if info.Size() > f.MaxBytes {
			return nil, fmt.Errorf("input file %s is %d bytes, limit is %d", req.ObjectKey, info.Size(), f.MaxBytes)
		}
	}

	data, err := os.ReadFile(req.ObjectKey)
	if err != nil {
		return nil, fmt.Errorf("read input file %s: %w", req.ObjectKey, err)
	}
	return data, nil
}

type LocalFileEmitter struct {
	OutputDir string
}

func (e LocalFileEmitter) Emit(_ context.Context, req Request, artifact domain.EncodedArtifact) (string, error) {
	if strings.TrimSpace(e.OutputDir) == "" {
		return "", errors.New("output directory is required")
	}

	fullPath := filepath.Join(e.OutputDir, filepath.FromSlash(ArtifactName(req.JobID, artifact)))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	if err := os.WriteFile(fullPath, artifact.Bytes, 0o644); err != nil {
		return "", fmt.Errorf("write output file: %w", err)
	}
	return fullPath, nil
}

func sanitizePathToken(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
