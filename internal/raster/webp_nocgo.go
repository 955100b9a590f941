//go:build !cgo

package raster

import (
	"errors"
	"image"
)

func decodeWebPFallback([]byte) (image.Image, error) {
	return nil, errors.New("webp fallback decoder requires cgo")
}
