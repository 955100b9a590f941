//go:build cgo

package encoder

import (
	"bytes"
	"fmt"
	"image"

	"github.com/chai2010/webp"
	"github.com/dunamismax/cropflow/internal/domain"
)

// WebPEncoder encodes lossy WebP through libwebp.
type WebPEncoder struct{}

func (e *WebPEncoder) Format() string   { return "webp" }
func (e *WebPEncoder) MimeType() string { return domain.MimeWebP }
func (e *WebPEncoder) Lossy() bool      { return true }
func (e *WebPEncoder) Available() bool  { return true }

func (e *WebPEncoder) Encode(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, &webp.Options{Quality: float32(clampQuality(quality))}); err != nil {
		return nil, fmt.Errorf("encode webp: %w", err)
	}
	return buf.Bytes(), nil
}
