// Package encoder compresses pixel buffers and searches encoder quality for
// the best output that fits a byte budget.
package encoder

import (
	"image"
)

// Encoder encodes an image to a specific format.
type Encoder interface {
	// Format returns the short format name (e.g. "jpeg", "webp", "png").
	Format() string

	// MimeType returns the media type of the encoded bytes.
	MimeType() string

	// Lossy reports whether quality affects the output size. Lossless
	// encoders ignore the quality argument.
	Lossy() bool

	// Encode converts the image to bytes at the given quality (1-100).
	Encode(img image.Image, quality int) ([]byte, error)

	// Available returns true if the encoder is usable in this build.
	Available() bool
}

func clampQuality(quality int) int {
	if quality < 1 {
		return 1
	}
	if quality > 100 {
		return 100
	}
	return quality
}
