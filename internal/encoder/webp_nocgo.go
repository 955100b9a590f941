//go:build !cgo

package encoder

import (
	"errors"
	"image"

	"github.com/dunamismax/cropflow/internal/domain"
)

type WebPEncoder struct{}

func (e *WebPEncoder) Format() string   { return "webp" }
func (e *WebPEncoder) MimeType() string { return domain.MimeWebP }
func (e *WebPEncoder) Lossy() bool      { return true }
func (e *WebPEncoder) Available() bool  { return false }

func (e *WebPEncoder) Encode(image.Image, int) ([]byte, error) {
	return nil, errors.New("webp export requires a cgo build")
}
