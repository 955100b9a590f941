// Package session drives one crop: load, fit, interactive zoom and pan, then
// a single extraction and budgeted encode.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dunamismax/cropflow/internal/domain"
	"github.com/dunamismax/cropflow/internal/encoder"
	"github.com/dunamismax/cropflow/internal/extract"
	"github.com/dunamismax/cropflow/internal/geometry"
	"github.com/dunamismax/cropflow/internal/raster"
	"github.com/rs/zerolog"
)

// Renderer draws the session geometry. It is called after every change,
// outside the session lock.
type Renderer interface {
	Render(geometry.Viewport)
}

type Config struct {
	CropBox     domain.CropBoxSpec
	Container   domain.Dimensions
	Constraints domain.EncodeConstraints

	// Optional. Defaults are the std encoder registry, a linear quality
	// search and the Catmull-Rom extractor.
	Encoders  *encoder.Registry
	Search    *encoder.Budgeted
	Extractor *extract.Extractor
	Renderer  Renderer
	Logger    *zerolog.Logger
}

// Session is safe for concurrent use. Geometry is owned by the session; an
// apply works on a snapshot taken when it starts.
type Session struct {
	mu sync.Mutex

	spec        domain.CropBoxSpec
	container   domain.Dimensions
	constraints domain.EncodeConstraints

	encoders  *encoder.Registry
	search    *encoder.Budgeted
	extractor extract.Extractor
	renderer  Renderer
	log       zerolog.Logger

	state    State
	buf      *raster.Buffer
	class    domain.Classification
	geo      *geometry.State
	err      error
	artifact *domain.EncodedArtifact

	applySeq    uint64
	applyCancel context.CancelFunc
}

func New(cfg Config) (*Session, error) {
	if err := cfg.CropBox.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidGeometry, err)
	}
	if !cfg.Container.Valid() {
		return nil, fmt.Errorf("container %s: %w", cfg.Container, domain.ErrInvalidGeometry)
	}
	if strings.TrimSpace(cfg.Constraints.MimeType) == "" {
		cfg.Constraints.MimeType = domain.MimeJPEG
	}
	if err := cfg.Constraints.Validate(); err != nil {
		return nil, err
	}

	s := &Session{
		spec:        cfg.CropBox,
		container:   cfg.Container,
		constraints: cfg.Constraints,
		encoders:    cfg.Encoders,
		search:      cfg.Search,
		extractor:   extract.Default,
		renderer:    cfg.Renderer,
		log:         zerolog.Nop(),
	}
	if cfg.Extractor != nil {
		s.extractor = *cfg.Extractor
	}
	if cfg.Logger != nil {
		s.log = *cfg.Logger
	}
	if s.search == nil {
		s.search = encoder.NewBudgeted()
	}
	if s.encoders == nil {
		registry, err := encoder.NewRegistry(encoder.JPEGEngineStd)
		if err != nil {
			return nil, err
		}
		s.encoders = registry
	}
	if _, err := s.encoders.ForMime(s.constraints.MimeType); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the failure that moved the session into Error, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) Artifact() (domain.EncodedArtifact, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.artifact == nil {
		return domain.EncodedArtifact{}, false
	}
	return *s.artifact, true
}

func (s *Session) Classification() domain.Classification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.class
}

func (s *Session) Constraints() domain.EncodeConstraints {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.constraints
}

func (s *Session) Viewport() (geometry.Viewport, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.geo == nil {
		return geometry.Viewport{}, false
	}
	return s.geo.Viewport(), true
}

// Load decodes a new source image. It replaces any previous image unless the
// session is encoding or has ended.
func (s *Session) Load(ctx context.Context, data []byte, mimeType string) error {
	s.mu.Lock()
	if err := s.require("load", Idle, Loaded, Fitting); err != nil && !s.recoverableLocked() {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	buf, decodeErr := raster.Decode(data, mimeType)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.require("load", Idle, Loaded, Fitting); err != nil && !s.recoverableLocked() {
		return err
	}
	if decodeErr != nil {
		s.failLocked(domain.StageFailure(domain.StageDecode, decodeErr))
		return s.err
	}

	s.buf = buf
	s.class = raster.Classify(buf.Dimensions(), s.spec)
	s.geo = nil
	s.err = nil
	s.artifact = nil
	s.transitionLocked(Loaded)
	s.log.Debug().
		Str("mime_type", buf.MimeType()).
		Str("dimensions", buf.Dimensions().String()).
		Str("classification", s.class.String()).
		Msg("source loaded")
	return nil
}

// Fit computes the initial cover transform. TooSmall is returned as an
// advisory classification alongside a nil error.
func (s *Session) Fit() (domain.Classification, error) {
	s.mu.Lock()
	if err := s.require("fit", Loaded); err != nil {
		s.mu.Unlock()
		return s.class, err
	}

	geo, err := geometry.NewState(s.buf.Dimensions(), s.container, s.spec)
	if err != nil {
		s.failLocked(domain.StageFailure(domain.StageFit, err))
		err = s.err
		s.mu.Unlock()
		return s.class, err
	}
	s.geo = geo
	s.transitionLocked(Fitting)
	if s.class == domain.TooSmall {
		s.log.Warn().
			Str("source", s.buf.Dimensions().String()).
			Str("crop_box", s.spec.Dimensions().String()).
			Msg("source smaller than crop box; output will be upscaled")
	}
	class := s.class
	vp := geo.Viewport()
	s.mu.Unlock()

	s.render(vp)
	return class, nil
}

func (s *Session) ZoomIn() (bool, error) {
	var changed bool
	err := s.mutate("zoom in", func(g *geometry.State) error {
		changed = g.ZoomIn()
		return nil
	})
	return changed, err
}

func (s *Session) ZoomOut() (bool, error) {
	var changed bool
	err := s.mutate("zoom out", func(g *geometry.State) error {
		changed = g.ZoomOut()
		return nil
	})
	return changed, err
}

func (s *Session) SetZoom(z float64) (bool, error) {
	var changed bool
	err := s.mutate("zoom", func(g *geometry.State) error {
		changed = g.SetZoom(z)
		return nil
	})
	return changed, err
}

// Pan moves the image and returns the translation actually applied after
// clamping.
func (s *Session) Pan(dx, dy float64) (float64, float64, error) {
	var ax, ay float64
	err := s.mutate("pan", func(g *geometry.State) error {
		ax, ay = g.Pan(dx, dy)
		return nil
	})
	return ax, ay, err
}

func (s *Session) Refit() error {
	return s.mutate("refit", func(g *geometry.State) error {
		return g.Refit()
	})
}

func (s *Session) SetContainer(container domain.Dimensions) error {
	return s.mutate("resize container", func(g *geometry.State) error {
		if err := g.SetContainer(container); err != nil {
			return err
		}
		s.container = container
		return nil
	})
}

// Dispatch applies one recorded intent.
func (s *Session) Dispatch(in domain.Intent) error {
	if err := in.Validate(); err != nil {
		return err
	}
	return s.mutate(in.Type, func(g *geometry.State) error {
		return g.Apply(in)
	})
}

// SetConstraints replaces the output mime type and byte budget.
func (s *Session) SetConstraints(c domain.EncodeConstraints) error {
	if strings.TrimSpace(c.MimeType) == "" {
		c.MimeType = domain.MimeJPEG
	}
	if err := c.Validate(); err != nil {
		return err
	}
	if _, err := s.encoders.ForMime(c.MimeType); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.require("set constraints", Idle, Loaded, Fitting); err != nil && !s.recoverableLocked() {
		return err
	}
	s.constraints = c
	return nil
}

// Retry returns a session that failed with a recoverable error to Fitting.
func (s *Session) Retry() error {
	s.mu.Lock()
	if !s.recoverableLocked() {
		err := s.stateError("retry")
		s.mu.Unlock()
		return err
	}
	s.err = nil
	s.transitionLocked(Fitting)
	vp := s.geo.Viewport()
	s.mu.Unlock()

	s.render(vp)
	return nil
}

// Cancel aborts any in-flight apply and ends the session. It is a no-op once
// the session has ended.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminalLocked() {
		return
	}
	if s.applyCancel != nil {
		s.applyCancel()
		s.applyCancel = nil
	}
	s.buf = nil
	s.geo = nil
	s.failLocked(domain.ErrSessionCancelled)
	s.log.Debug().Msg("session cancelled")
}

func (s *Session) mutate(op string, fn func(*geometry.State) error) error {
	s.mu.Lock()
	if err := s.require(op, Fitting, Encoding); err != nil {
		s.mu.Unlock()
		return err
	}
	if err := fn(s.geo); err != nil {
		s.mu.Unlock()
		return domain.StageFailure(domain.StageFit, err)
	}
	vp := s.geo.Viewport()
	s.mu.Unlock()

	s.render(vp)
	return nil
}

func (s *Session) render(vp geometry.Viewport) {
	if s.renderer != nil {
		s.renderer.Render(vp)
	}
}

func (s *Session) require(op string, allowed ...State) error {
	for _, st := range allowed {
		if s.state == st {
			return nil
		}
	}
	return s.stateError(op)
}

func (s *Session) stateError(op string) error {
	if s.state == Error && errors.Is(s.err, domain.ErrSessionCancelled) {
		return domain.ErrSessionCancelled
	}
	if s.state == Encoding && (op == "apply" || op == "apply async") {
		return domain.ErrApplyInFlight
	}
	return fmt.Errorf("%w: %s in state %s", domain.ErrSessionState, op, s.state)
}

func (s *Session) recoverableLocked() bool {
	return s.state == Error && domain.Recoverable(s.err)
}

func (s *Session) terminalLocked() bool {
	return s.state == Done || (s.state == Error && !domain.Recoverable(s.err))
}

func (s *Session) failLocked(err error) {
	s.err = err
	s.transitionLocked(Error)
}

func (s *Session) transitionLocked(next State) {
	if s.state != next {
		s.log.Debug().Str("from", s.state.String()).Str("to", next.String()).Msg("session transition")
	}
	s.state = next
}
