//go:build cgo

package raster

import (
	"bytes"
	"image"

	"github.com/chai2010/webp"
)

// decodeWebPFallback covers WebP features (animation, extended alpha) that
// the pure Go decoder rejects.
func decodeWebPFallback(data []byte) (image.Image, error) {
	return webp.Decode(bytes.NewReader(data))
}
