// Package geometry holds the container-space math for positioning a source
// image under a fixed crop box. It performs no I/O.
package geometry

import (
	"fmt"
	"math"

	"github.com/dunamismax/cropflow/internal/domain"
)

const (
	displayMaxWidth  = 900
	displayMaxHeight = 600

	coverEpsilon = 1e-6
)

type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

func (r Rect) Right() float64  { return r.X + r.W }
func (r Rect) Bottom() float64 { return r.Y + r.H }

// Transform places the image in container space: pixel (0,0) lands at
// (OriginX, OriginY) and every image pixel spans Scale container units.
type Transform struct {
	Scale   float64 `json:"scale"`
	OriginX float64 `json:"origin_x"`
	OriginY float64 `json:"origin_y"`
}

func (t Transform) ImageRect(img domain.Dimensions) Rect {
	return Rect{
		X: t.OriginX,
		Y: t.OriginY,
		W: float64(img.Width) * t.Scale,
		H: float64(img.Height) * t.Scale,
	}
}

// CropBoxInContainer centers the crop box in the container. Boxes wider than
// 900 or taller than 600 are displayed at half size on that axis.
func CropBoxInContainer(container domain.Dimensions, box domain.CropBoxSpec) Rect {
	w := float64(box.Width)
	if box.Width > displayMaxWidth {
		w /= 2
	}
	h := float64(box.Height)
	if box.Height > displayMaxHeight {
		h /= 2
	}
	return Rect{
		X: float64(container.Width)/2 - w/2,
		Y: float64(container.Height)/2 - h/2,
		W: w,
		H: h,
	}
}

// Fit returns the least magnification that covers cropBox, with the image
// centered in the container.
func Fit(img, container domain.Dimensions, cropBox Rect) (Transform, error) {
	if img.Width <= 0 || img.Height <= 0 {
		return Transform{}, fmt.Errorf("image %s: %w", img, domain.ErrInvalidGeometry)
	}
	if !container.Valid() {
		return Transform{}, fmt.Errorf("container %s: %w", container, domain.ErrInvalidGeometry)
	}
	if cropBox.W <= 0 || cropBox.H <= 0 {
		return Transform{}, fmt.Errorf("crop box %.2fx%.2f: %w", cropBox.W, cropBox.H, domain.ErrInvalidGeometry)
	}

	sw := cropBox.W / float64(img.Width)
	sh := cropBox.H / float64(img.Height)
	scale := math.Max(sw, sh)

	return Transform{
		Scale:   scale,
		OriginX: float64(container.Width)/2 - float64(img.Width)*scale/2,
		OriginY: float64(container.Height)/2 - float64(img.Height)*scale/2,
	}, nil
}

// Covers reports whether the positioned image fully contains cropBox.
func Covers(t Transform, img domain.Dimensions, cropBox Rect) bool {
	if t.Scale <= 0 || img.Width <= 0 || img.Height <= 0 {
		return false
	}
	r := t.ImageRect(img)
	return r.X <= cropBox.X+coverEpsilon &&
		r.Y <= cropBox.Y+coverEpsilon &&
		r.Right() >= cropBox.Right()-coverEpsilon &&
		r.Bottom() >= cropBox.Bottom()-coverEpsilon
}
