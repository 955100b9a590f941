package encoder

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/cropflow/internal/domain"
	"github.com/gen2brain/jpegli"
)

// JPEGEncoder encodes baseline JPEG through imaging (Go's image/jpeg).
type JPEGEncoder struct{}

func (e *JPEGEncoder) Format() string   { return "jpeg" }
func (e *JPEGEncoder) MimeType() string { return domain.MimeJPEG }
func (e *JPEGEncoder) Lossy() bool      { return true }
func (e *JPEGEncoder) Available() bool  { return true }

func (e *JPEGEncoder) Encode(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(64 * 1024)

	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(clampQuality(quality))); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// JpegliEncoder produces JPEG with libjpegli, which is usually smaller than
// the standard encoder at equal quality.
type JpegliEncoder struct{}

func (e *JpegliEncoder) Format() string   { return "jpeg" }
func (e *JpegliEncoder) MimeType() string { return domain.MimeJPEG }
func (e *JpegliEncoder) Lossy() bool      { return true }
func (e *JpegliEncoder) Available() bool  { return true }

func (e *JpegliEncoder) Encode(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(64 * 1024)

	err := jpegli.Encode(&buf, img, &jpegli.EncodingOptions{
		Quality:           clampQuality(quality),
		ChromaSubsampling: image.YCbCrSubsampleRatio420,
	})
	if err != nil {
		return nil, fmt.Errorf("encode jpegli: %w", err)
	}
	return buf.Bytes(), nil
}
