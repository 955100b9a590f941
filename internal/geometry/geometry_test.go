package geometry

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/dunamismax/cropflow/internal/domain"
)

func TestFitScenario(t *testing.T) {
	img := domain.Dimensions{Width: 2000, Height: 1500}
	container := domain.Dimensions{Width: 800, Height: 600}
	box := CropBoxInContainer(container, domain.CropBoxSpec{Width: 300, Height: 250})

	if box != (Rect{X: 250, Y: 175, W: 300, H: 250}) {
		t.Fatalf("unexpected crop box placement %+v", box)
	}

	tr, err := Fit(img, container, box)
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	if math.Abs(tr.Scale-250.0/1500.0) > 1e-12 {
		t.Fatalf("expected scale 0.1667, got %f", tr.Scale)
	}
	wantX := 400 - 2000*tr.Scale/2
	wantY := 300 - 1500*tr.Scale/2
	if math.Abs(tr.OriginX-wantX) > 1e-9 || math.Abs(tr.OriginY-wantY) > 1e-9 {
		t.Fatalf("expected origin (%f,%f), got (%f,%f)", wantX, wantY, tr.OriginX, tr.OriginY)
	}
	if !Covers(tr, img, box) {
		t.Fatal("expected fit to satisfy cover invariant")
	}
}

func TestFitCoverAndMinimalityProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	container := domain.Dimensions{Width: 1000, Height: 700}

	for i := 0; i < 500; i++ {
		spec := domain.CropBoxSpec{Width: 1 + rng.Intn(899), Height: 1 + rng.Intn(599)}
		img := domain.Dimensions{
			Width:  spec.Width + rng.Intn(5000),
			Height: spec.Height + rng.Intn(5000),
		}
		box := CropBoxInContainer(container, spec)

		tr, err := Fit(img, container, box)
		if err != nil {
			t.Fatalf("fit %s into %+v: %v", img, spec, err)
		}
		if tr.Scale*float64(img.Width) < box.W-1e-9 || tr.Scale*float64(img.Height) < box.H-1e-9 {
			t.Fatalf("scale %f does not cover %+v for image %s", tr.Scale, box, img)
		}

		smaller := tr.Scale - 1e-6
		if smaller*float64(img.Width) >= box.W && smaller*float64(img.Height) >= box.H {
			t.Fatalf("scale %f is not minimal for %+v and image %s", tr.Scale, box, img)
		}
	}
}

func TestFitRejectsZeroDimensions(t *testing.T) {
	box := Rect{X: 0, Y: 0, W: 10, H: 10}
	_, err := Fit(domain.Dimensions{Width: 0, Height: 10}, domain.Dimensions{Width: 10, Height: 10}, box)
	if !errors.Is(err, domain.ErrInvalidGeometry) {
		t.Fatalf("expected ErrInvalidGeometry, got %v", err)
	}
	_, err = Fit(domain.Dimensions{Width: 10, Height: 0}, domain.Dimensions{Width: 10, Height: 10}, box)
	if !errors.Is(err, domain.ErrInvalidGeometry) {
		t.Fatalf("expected ErrInvalidGeometry, got %v", err)
	}
}

func TestCropBoxDisplayHalving(t *testing.T) {
	container := domain.Dimensions{Width: 1200, Height: 800}
	box := CropBoxInContainer(container, domain.CropBoxSpec{Width: 1200, Height: 628})
	if box.W != 600 || box.H != 314 {
		t.Fatalf("expected halved 600x314 display box, got %.0fx%.0f", box.W, box.H)
	}
	if box.X != 300 || box.Y != 243 {
		t.Fatalf("expected centered box at (300,243), got (%.0f,%.0f)", box.X, box.Y)
	}
}

func newScenarioState(t *testing.T) *State {
	t.Helper()
	s, err := NewState(
		domain.Dimensions{Width: 2000, Height: 1500},
		domain.Dimensions{Width: 800, Height: 600},
		domain.CropBoxSpec{Width: 300, Height: 250},
	)
	if err != nil {
		t.Fatalf("new state: %v", err)
	}
	return s
}

func TestZoomInKeepsCenterAndCover(t *testing.T) {
	s := newScenarioState(t)
	before := s.Transform()
	z := s.Zoom()

	if !s.ZoomIn() {
		t.Fatal("expected zoom in to change state")
	}
	if got := s.Zoom(); math.Abs(got-(z+ZoomStep)) > 1e-9 {
		t.Fatalf("expected zoom %f, got %f", z+ZoomStep, got)
	}

	after := s.Transform()
	cxBefore := before.OriginX + 2000*before.Scale/2
	cxAfter := after.OriginX + 2000*after.Scale/2
	if math.Abs(cxBefore-cxAfter) > 1e-9 {
		t.Fatalf("expected zoom to keep image center, %f != %f", cxBefore, cxAfter)
	}
	if !Covers(after, domain.Dimensions{Width: 2000, Height: 1500}, s.CropBox()) {
		t.Fatal("zoom in broke cover invariant")
	}
}

func TestZoomOutBelowFitIsRejected(t *testing.T) {
	s := newScenarioState(t)
	before := s.Transform()

	if s.ZoomOut() {
		t.Fatal("expected zoom out below cover fit to be rejected")
	}
	if s.Transform() != before {
		t.Fatal("rejected zoom must leave state unchanged")
	}

	s.ZoomIn()
	s.ZoomIn()
	if !s.ZoomOut() {
		t.Fatal("expected zoom out above fit to succeed")
	}
}

func TestZoomBounds(t *testing.T) {
	s := newScenarioState(t)

	if !s.SetZoom(MaxZoom) {
		t.Fatal("expected jump to max zoom")
	}
	before := s.Transform()
	if s.ZoomIn() {
		t.Fatal("zoom in above upper bound must be a no-op")
	}
	if s.Transform() != before {
		t.Fatal("state changed at upper bound")
	}

	if s.SetZoom(MaxZoom + 1) {
		t.Fatal("out of range SetZoom must be a no-op")
	}
	if s.SetZoom(0) || s.SetZoom(-5) {
		t.Fatal("non-positive SetZoom must be a no-op")
	}

	// A tiny image blown up past the lower bound cannot shrink further.
	tiny, err := NewState(
		domain.Dimensions{Width: 100000, Height: 100000},
		domain.Dimensions{Width: 800, Height: 600},
		domain.CropBoxSpec{Width: 10, Height: 10},
	)
	if err != nil {
		t.Fatalf("new state: %v", err)
	}
	if tiny.Zoom() >= MinZoom {
		t.Fatalf("expected fit zoom below lower bound, got %f", tiny.Zoom())
	}
	before = tiny.Transform()
	if tiny.ZoomOut() {
		t.Fatal("zoom out below lower bound must be a no-op")
	}
	if tiny.Transform() != before {
		t.Fatal("state changed below lower bound")
	}
}

func TestPanClampsToCover(t *testing.T) {
	s := newScenarioState(t)
	img := domain.Dimensions{Width: 2000, Height: 1500}

	// At fit the vertical axis is tight; the horizontal axis has slack.
	dx, dy := s.Pan(10000, 10000)
	if dy != 0 {
		t.Fatalf("expected no vertical movement at tight fit, got %f", dy)
	}
	if dx <= 0 {
		t.Fatalf("expected some horizontal movement, got %f", dx)
	}
	if s.Transform().OriginX != s.CropBox().X {
		t.Fatalf("expected left edge pinned to crop box, got %f", s.Transform().OriginX)
	}
	if !Covers(s.Transform(), img, s.CropBox()) {
		t.Fatal("pan broke cover invariant")
	}

	s.Pan(-1e9, -1e9)
	r := s.Transform().ImageRect(img)
	if math.Abs(r.Right()-s.CropBox().Right()) > 1e-9 {
		t.Fatalf("expected right edge pinned, got %f vs %f", r.Right(), s.CropBox().Right())
	}
	if !Covers(s.Transform(), img, s.CropBox()) {
		t.Fatal("pan broke cover invariant")
	}
}

func TestRefitAndSetContainer(t *testing.T) {
	s := newScenarioState(t)
	fit := s.Transform()

	s.ZoomIn()
	s.Pan(13, -7)
	if err := s.Refit(); err != nil {
		t.Fatalf("refit: %v", err)
	}
	if s.Transform() != fit {
		t.Fatalf("expected refit to restore %+v, got %+v", fit, s.Transform())
	}

	if err := s.SetContainer(domain.Dimensions{Width: 1000, Height: 1000}); err != nil {
		t.Fatalf("set container: %v", err)
	}
	if s.CropBox().X != 350 || s.CropBox().Y != 375 {
		t.Fatalf("expected re-centered crop box, got %+v", s.CropBox())
	}
	if err := s.SetContainer(domain.Dimensions{}); !errors.Is(err, domain.ErrInvalidGeometry) {
		t.Fatalf("expected ErrInvalidGeometry, got %v", err)
	}
}

func TestApplyReplaysIntents(t *testing.T) {
	s := newScenarioState(t)
	fit := s.Transform()

	if err := s.Apply(domain.Intent{Type: domain.IntentZoomIn}); err != nil {
		t.Fatalf("zoom in: %v", err)
	}
	if s.Zoom() <= fit.Scale*zoomUnit {
		t.Fatalf("expected zoom above fit, got %f", s.Zoom())
	}
	if err := s.Apply(domain.Intent{Type: domain.IntentPan, DX: 40}); err != nil {
		t.Fatalf("pan: %v", err)
	}
	if err := s.Apply(domain.Intent{Type: domain.IntentRefit}); err != nil {
		t.Fatalf("refit: %v", err)
	}
	if s.Transform() != fit {
		t.Fatalf("expected refit to restore %+v, got %+v", fit, s.Transform())
	}

	if err := s.Apply(domain.Intent{Type: "spin"}); err == nil {
		t.Fatal("expected unknown intent to fail")
	}
	if s.Transform() != fit {
		t.Fatal("expected a rejected intent to leave the transform unchanged")
	}
}
