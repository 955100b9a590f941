// Package extract rasterizes the part of a source image visible through the
// crop box into a buffer of the exact target size.
package extract

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/cropflow/internal/domain"
	"github.com/dunamismax/cropflow/internal/geometry"
	"github.com/dunamismax/cropflow/internal/raster"
	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

type Extractor struct {
	Kernel draw.Interpolator
}

// Default resamples with Catmull-Rom.
var Default = Extractor{Kernel: draw.CatmullRom}

func Extract(src *raster.Buffer, t geometry.Transform, cropBox geometry.Rect, spec domain.CropBoxSpec) (*raster.Buffer, error) {
	return Default.Extract(src, t, cropBox, spec)
}

// Extract maps the container-space crop box back onto source pixels and
// resamples that region to spec.Width x spec.Height.
func (e Extractor) Extract(src *raster.Buffer, t geometry.Transform, cropBox geometry.Rect, spec domain.CropBoxSpec) (*raster.Buffer, error) {
	if src == nil {
		return nil, fmt.Errorf("nil source buffer: %w", domain.ErrInvalidGeometry)
	}
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("%v: %w", err, domain.ErrInvalidGeometry)
	}
	if cropBox.W <= 0 || cropBox.H <= 0 {
		return nil, fmt.Errorf("crop box %.2fx%.2f: %w", cropBox.W, cropBox.H, domain.ErrInvalidGeometry)
	}
	if !geometry.Covers(t, src.Dimensions(), cropBox) {
		return nil, fmt.Errorf("transform %+v leaves crop box %+v uncovered: %w", t, cropBox, domain.ErrInvalidGeometry)
	}

	kernel := e.Kernel
	if kernel == nil {
		kernel = draw.CatmullRom
	}

	img := src.Image()
	bounds := img.Bounds()
	kx := t.Scale * float64(spec.Width) / cropBox.W
	ky := t.Scale * float64(spec.Height) / cropBox.H
	s2d := f64.Aff3{
		kx, 0, kx * ((t.OriginX-cropBox.X)/t.Scale - float64(bounds.Min.X)),
		0, ky, ky * ((t.OriginY-cropBox.Y)/t.Scale - float64(bounds.Min.Y)),
	}

	dst := image.NewRGBA(image.Rect(0, 0, spec.Width, spec.Height))
	kernel.Transform(dst, s2d, img, bounds, draw.Src, nil)

	return raster.NewBuffer(dst, src.MimeType()), nil
}

// Identity copies the source pixels unchanged, for images that already match
// the crop box.
func Identity(src *raster.Buffer) *raster.Buffer {
	return raster.NewBuffer(imaging.Clone(src.Image()), src.MimeType())
}
