package encoder

import (
	"context"
	"fmt"
	"image"
	"strings"
	"time"

	"github.com/dunamismax/cropflow/internal/domain"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Quality is searched in hundredths: 100 is 1.0 and MinQuality is the
// lowest value ever tried.
const (
	MaxQuality = 100
	MinQuality = 3
)

// Strategy selects how the quality space below 1.0 is explored.
type Strategy int

const (
	// Linear steps down one hundredth at a time and stops at the first fit.
	Linear Strategy = iota
	// Binary bisects [MinQuality, MaxQuality-1]. It selects the same quality
	// as Linear whenever output size is monotone in quality.
	Binary
)

func (s Strategy) String() string {
	switch s {
	case Binary:
		return "binary"
	default:
		return "linear"
	}
}

func ParseStrategy(raw string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "linear":
		return Linear, nil
	case "binary":
		return Binary, nil
	default:
		return Linear, fmt.Errorf("unknown quality search strategy %q", raw)
	}
}

// Observer receives one call per encode attempt.
type Observer func(mimeType string, quality int, size int, elapsed time.Duration)

// Budgeted finds the highest quality whose encoding fits a byte budget.
type Budgeted struct {
	strategy Strategy
	observe  Observer
}

type BudgetedOption func(*Budgeted)

func WithStrategy(s Strategy) BudgetedOption {
	return func(b *Budgeted) { b.strategy = s }
}

func WithObserver(fn Observer) BudgetedOption {
	return func(b *Budgeted) { b.observe = fn }
}

func NewBudgeted(opts ...BudgetedOption) *Budgeted {
	b := &Budgeted{strategy: Linear}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Budgeted) Strategy() Strategy { return b.strategy }

type search struct {
	ctx      context.Context
	enc      Encoder
	img      image.Image
	maxBytes int
	observe  Observer
	log      *zerolog.Logger

	attempts int
	minSize  int
}

func (s *search) try(quality int) ([]byte, error) {
	if err := s.ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	data, err := s.enc.Encode(s.img, quality)
	if err != nil {
		return nil, fmt.Errorf("encode at quality %d: %w", quality, err)
	}
	elapsed := time.Since(start)

	s.attempts++
	if s.minSize == 0 || len(data) < s.minSize {
		s.minSize = len(data)
	}
	if s.observe != nil {
		s.observe(s.enc.MimeType(), quality, len(data), elapsed)
	}
	s.log.Debug().
		Int("quality", quality).
		Int("size_bytes", len(data)).
		Int("max_bytes", s.maxBytes).
		Dur("elapsed", elapsed).
		Msg("encode attempt")
	return data, nil
}

func (s *search) fits(data []byte) bool {
	return len(data) <= s.maxBytes
}

// Encode runs the quality search for img. The first attempt is always at
// full quality and succeeds immediately if it fits. On failure the returned
// error is a *domain.BudgetUnreachableError, a context error, or an encoder
// failure.
func (b *Budgeted) Encode(ctx context.Context, enc Encoder, img image.Image, maxBytes int) (domain.EncodedArtifact, error) {
	if enc == nil {
		return domain.EncodedArtifact{}, fmt.Errorf("%w: nil encoder", domain.ErrUnsupportedMime)
	}
	if img == nil {
		return domain.EncodedArtifact{}, fmt.Errorf("%w: nil image", domain.ErrInvalidGeometry)
	}
	if maxBytes < 1 {
		return domain.EncodedArtifact{}, fmt.Errorf("max bytes must be at least 1, got %d", maxBytes)
	}

	ctx, span := otel.Tracer("cropflow/encoder").Start(ctx, "encoder.budgeted_search")
	defer span.End()
	span.SetAttributes(
		attribute.String("encoder.mime_type", enc.MimeType()),
		attribute.String("encoder.strategy", b.strategy.String()),
		attribute.Int("encoder.max_bytes", maxBytes),
	)

	s := &search{
		ctx:      ctx,
		enc:      enc,
		img:      img,
		maxBytes: maxBytes,
		observe:  b.observe,
		log:      zerolog.Ctx(ctx),
	}

	quality, data, err := b.run(s)
	span.SetAttributes(attribute.Int("encoder.attempts", s.attempts))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.EncodedArtifact{}, err
	}
	span.SetAttributes(
		attribute.Int("encoder.quality", quality),
		attribute.Int("encoder.size_bytes", len(data)),
	)

	bounds := img.Bounds()
	return domain.EncodedArtifact{
		Bytes:     data,
		MimeType:  enc.MimeType(),
		Quality:   float64(quality) / MaxQuality,
		SizeBytes: len(data),
		Width:     bounds.Dx(),
		Height:    bounds.Dy(),
		Attempts:  s.attempts,
	}, nil
}

func (b *Budgeted) run(s *search) (int, []byte, error) {
	data, err := s.try(MaxQuality)
	if err != nil {
		return 0, nil, err
	}
	if s.fits(data) {
		return MaxQuality, data, nil
	}
	if !s.enc.Lossy() {
		return 0, nil, s.unreachable()
	}

	if b.strategy == Binary {
		return s.bisect()
	}
	return s.linear()
}

func (s *search) linear() (int, []byte, error) {
	for q := MaxQuality - 1; q >= MinQuality; q-- {
		data, err := s.try(q)
		if err != nil {
			return 0, nil, err
		}
		if s.fits(data) {
			return q, data, nil
		}
	}
	return 0, nil, s.unreachable()
}

func (s *search) bisect() (int, []byte, error) {
	lo, hi := MinQuality, MaxQuality-1
	best := -1
	var bestData []byte

	for lo <= hi {
		mid := lo + (hi-lo)/2
		data, err := s.try(mid)
		if err != nil {
			return 0, nil, err
		}
		if s.fits(data) {
			best, bestData = mid, data
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}

	if best < 0 {
		return 0, nil, s.unreachable()
	}
	return best, bestData, nil
}

func (s *search) unreachable() error {
	return &domain.BudgetUnreachableError{MinAchievedBytes: s.minSize, MaxBytes: s.maxBytes}
}
