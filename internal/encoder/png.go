package encoder

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/cropflow/internal/domain"
)

// PNGEncoder is lossless; quality is ignored.
type PNGEncoder struct{}

func (e *PNGEncoder) Format() string   { return "png" }
func (e *PNGEncoder) MimeType() string { return domain.MimePNG }
func (e *PNGEncoder) Lossy() bool      { return false }
func (e *PNGEncoder) Available() bool  { return true }

func (e *PNGEncoder) Encode(img image.Image, _ int) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(128 * 1024)

	if err := imaging.Encode(&buf, img, imaging.PNG, imaging.PNGCompressionLevel(png.BestCompression)); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
