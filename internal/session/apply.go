package session

import (
	"context"
	"errors"
	"time"

	"github.com/dunamismax/cropflow/internal/domain"
	"github.com/dunamismax/cropflow/internal/encoder"
	"github.com/dunamismax/cropflow/internal/extract"
	"github.com/dunamismax/cropflow/internal/geometry"
	"github.com/dunamismax/cropflow/internal/raster"
)

// Outcome is the result of an asynchronous apply.
type Outcome struct {
	Artifact domain.EncodedArtifact
	Err      error
}

// snapshot is the immutable input of one apply.
type snapshot struct {
	seq         uint64
	buf         *raster.Buffer
	class       domain.Classification
	transform   geometry.Transform
	cropBox     geometry.Rect
	spec        domain.CropBoxSpec
	constraints domain.EncodeConstraints
}

// Apply extracts the crop under the current transform and runs the quality
// search. Only one apply may be in flight; a second call fails with
// domain.ErrApplyInFlight. If ctx is cancelled the session returns to
// Fitting.
func (s *Session) Apply(ctx context.Context) (domain.EncodedArtifact, error) {
	snap, runCtx, err := s.begin(ctx, "apply")
	if err != nil {
		return domain.EncodedArtifact{}, err
	}
	artifact, err := s.run(runCtx, snap)
	return s.finish(ctx, snap, artifact, err)
}

// ApplyAsync starts an apply and returns immediately. The channel receives
// exactly one Outcome. Admission errors such as domain.ErrApplyInFlight are
// delivered on the channel as well.
func (s *Session) ApplyAsync(ctx context.Context) <-chan Outcome {
	out := make(chan Outcome, 1)

	snap, runCtx, err := s.begin(ctx, "apply async")
	if err != nil {
		out <- Outcome{Err: err}
		close(out)
		return out
	}

	go func() {
		defer close(out)
		artifact, err := s.run(runCtx, snap)
		artifact, err = s.finish(ctx, snap, artifact, err)
		out <- Outcome{Artifact: artifact, Err: err}
	}()
	return out
}

func (s *Session) begin(ctx context.Context, op string) (snapshot, context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.require(op, Fitting); err != nil {
		return snapshot{}, nil, err
	}

	s.applySeq++
	snap := snapshot{
		seq:         s.applySeq,
		buf:         s.buf,
		class:       s.class,
		transform:   s.geo.Transform(),
		cropBox:     s.geo.CropBox(),
		spec:        s.spec,
		constraints: s.constraints,
	}

	runCtx, cancel := context.WithCancel(s.log.WithContext(ctx))
	s.applyCancel = cancel
	s.artifact = nil
	s.transitionLocked(Encoding)
	return snap, runCtx, nil
}

func (s *Session) run(ctx context.Context, snap snapshot) (domain.EncodedArtifact, error) {
	start := time.Now()

	enc, err := s.encoders.ForMime(snap.constraints.MimeType)
	if err != nil {
		return domain.EncodedArtifact{}, domain.StageFailure(domain.StageEncode, err)
	}

	var pixels *raster.Buffer
	if snap.class == domain.ExactFit {
		if artifact, ok := passthrough(snap, enc); ok {
			s.log.Debug().Int("size_bytes", artifact.SizeBytes).Msg("source already fits budget; passing through")
			return artifact, nil
		}
		pixels = extract.Identity(snap.buf)
	} else {
		pixels, err = s.extractor.Extract(snap.buf, snap.transform, snap.cropBox, snap.spec)
		if err != nil {
			return domain.EncodedArtifact{}, domain.StageFailure(domain.StageExtract, err)
		}
	}

	if err := ctx.Err(); err != nil {
		return domain.EncodedArtifact{}, err
	}

	artifact, err := s.search.Encode(ctx, enc, pixels.Image(), snap.constraints.MaxBytes)
	if err != nil {
		if ctx.Err() != nil {
			return domain.EncodedArtifact{}, ctx.Err()
		}
		return domain.EncodedArtifact{}, domain.StageFailure(domain.StageEncode, err)
	}

	s.log.Info().
		Str("mime_type", artifact.MimeType).
		Float64("quality", artifact.Quality).
		Int("size_bytes", artifact.SizeBytes).
		Int("max_bytes", snap.constraints.MaxBytes).
		Int("attempts", artifact.Attempts).
		Dur("elapsed", time.Since(start)).
		Msg("crop encoded")
	return artifact, nil
}

// passthrough returns the original bytes when an exact-size source already
// satisfies the constraints. Sources whose EXIF orientation was applied on
// decode are re-encoded, since their stored pixel grid differs.
func passthrough(snap snapshot, enc encoder.Encoder) (domain.EncodedArtifact, bool) {
	src := snap.buf.Source()
	if len(src) == 0 || len(src) > snap.constraints.MaxBytes || snap.buf.Reoriented() {
		return domain.EncodedArtifact{}, false
	}
	if raster.NormalizeMimeType(snap.buf.MimeType()) != enc.MimeType() {
		return domain.EncodedArtifact{}, false
	}

	dims := snap.buf.Dimensions()
	return domain.EncodedArtifact{
		Bytes:     src,
		MimeType:  enc.MimeType(),
		Quality:   1.0,
		SizeBytes: len(src),
		Width:     dims.Width,
		Height:    dims.Height,
	}, true
}

func (s *Session) finish(callerCtx context.Context, snap snapshot, artifact domain.EncodedArtifact, runErr error) (domain.EncodedArtifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Cancel() ended the session while the apply was running.
	if s.applySeq != snap.seq || s.state != Encoding {
		return domain.EncodedArtifact{}, domain.ErrSessionCancelled
	}
	if s.applyCancel != nil {
		s.applyCancel()
		s.applyCancel = nil
	}

	switch {
	case runErr == nil:
		s.artifact = &artifact
		s.transitionLocked(Done)
		return artifact, nil
	case callerCtx.Err() != nil && (errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded)):
		s.transitionLocked(Fitting)
		return domain.EncodedArtifact{}, runErr
	default:
		s.failLocked(runErr)
		if domain.Recoverable(runErr) {
			s.log.Info().Err(runErr).Msg("apply failed; crop or budget can be adjusted")
		} else {
			s.log.Error().Err(runErr).Msg("apply failed")
		}
		return domain.EncodedArtifact{}, runErr
	}
}
