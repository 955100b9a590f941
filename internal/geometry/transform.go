package geometry

import (
	"fmt"
	"math"
	"strings"

	"github.com/dunamismax/cropflow/internal/domain"
)

// Zoom is a normalized slider value; 50 means a multiplicative scale of 1.
const (
	MinZoom  = 0.5
	MaxZoom  = 100.0
	ZoomStep = 0.5

	zoomUnit = 50.0
)

// Viewport is what a renderer needs to draw the current session geometry.
type Viewport struct {
	Image     domain.Dimensions `json:"image"`
	Container domain.Dimensions `json:"container"`
	CropBox   Rect              `json:"crop_box"`
	Transform Transform         `json:"transform"`
	Zoom      float64           `json:"zoom"`
}

// State is the mutable zoom/pan state of one crop session. It is not safe
// for concurrent use; the owning session serializes access.
type State struct {
	image     domain.Dimensions
	container domain.Dimensions
	spec      domain.CropBoxSpec
	cropBox   Rect
	t         Transform
}

func NewState(img, container domain.Dimensions, spec domain.CropBoxSpec) (*State, error) {
	s := &State{image: img, spec: spec}
	if err := s.SetContainer(container); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *State) Transform() Transform { return s.t }
func (s *State) CropBox() Rect        { return s.cropBox }
func (s *State) Zoom() float64        { return s.t.Scale * zoomUnit }

func (s *State) Viewport() Viewport {
	return Viewport{
		Image:     s.image,
		Container: s.container,
		CropBox:   s.cropBox,
		Transform: s.t,
		Zoom:      s.Zoom(),
	}
}

// Apply replays one recorded intent. Zoom and pan requests are clamped as
// usual; only an invalid intent or a failed refit returns an error.
func (s *State) Apply(in domain.Intent) error {
	if err := in.Validate(); err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(in.Type)) {
	case domain.IntentZoomIn:
		s.ZoomIn()
	case domain.IntentZoomOut:
		s.ZoomOut()
	case domain.IntentZoom:
		s.SetZoom(in.Value)
	case domain.IntentPan:
		s.Pan(in.DX, in.DY)
	default:
		return s.Refit()
	}
	return nil
}

// Refit restores the initial cover fit.
func (s *State) Refit() error {
	t, err := Fit(s.image, s.container, s.cropBox)
	if err != nil {
		return err
	}
	s.t = t
	return nil
}

// SetContainer re-centers the crop box in a resized container and refits.
func (s *State) SetContainer(container domain.Dimensions) error {
	if !container.Valid() {
		return fmt.Errorf("container %s: %w", container, domain.ErrInvalidGeometry)
	}
	s.container = container
	s.cropBox = CropBoxInContainer(container, s.spec)
	return s.Refit()
}

func (s *State) ZoomIn() bool {
	z := s.Zoom()
	if z >= MaxZoom {
		return false
	}
	return s.zoomTo(math.Min(z+ZoomStep, MaxZoom))
}

func (s *State) ZoomOut() bool {
	z := s.Zoom()
	if z <= MinZoom {
		return false
	}
	return s.zoomTo(math.Max(z-ZoomStep, MinZoom))
}

// SetZoom jumps to an absolute zoom value. Values outside [MinZoom, MaxZoom]
// are ignored.
func (s *State) SetZoom(z float64) bool {
	if z < MinZoom || z > MaxZoom || math.IsNaN(z) {
		return false
	}
	return s.zoomTo(z)
}

// zoomTo rescales around the image center and keeps the result only if the
// crop box stays covered.
func (s *State) zoomTo(z float64) bool {
	scale := z / zoomUnit
	if scale <= 0 || scale == s.t.Scale {
		return false
	}

	cx := s.t.OriginX + float64(s.image.Width)*s.t.Scale/2
	cy := s.t.OriginY + float64(s.image.Height)*s.t.Scale/2
	next := Transform{
		Scale:   scale,
		OriginX: cx - float64(s.image.Width)*scale/2,
		OriginY: cy - float64(s.image.Height)*scale/2,
	}
	if !Covers(next, s.image, s.cropBox) {
		return false
	}
	s.t = next
	return true
}

// Pan moves the image by (dx, dy) container units, clamped so the crop box
// stays covered. It returns the translation actually applied.
func (s *State) Pan(dx, dy float64) (float64, float64) {
	if math.IsNaN(dx) || math.IsNaN(dy) {
		return 0, 0
	}
	w := float64(s.image.Width) * s.t.Scale
	h := float64(s.image.Height) * s.t.Scale

	x := clamp(s.t.OriginX+dx, s.cropBox.Right()-w, s.cropBox.X)
	y := clamp(s.t.OriginY+dy, s.cropBox.Bottom()-h, s.cropBox.Y)

	appliedX, appliedY := x-s.t.OriginX, y-s.t.OriginY
	s.t.OriginX, s.t.OriginY = x, y
	return appliedX, appliedY
}

func clamp(v, lo, hi float64) float64 {
	if lo > hi {
		// image narrower than the crop box on this axis
		return hi
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
