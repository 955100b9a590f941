//go:build govips && cgo

package encoder

import (
	"bytes"
	"fmt"
	"image"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/disintegration/imaging"
	"github.com/dunamismax/cropflow/internal/domain"
)

// vipsEncoder hands the pixels to libvips. The buffer is staged as
// uncompressed PNG since govips only loads from encoded bytes.
type vipsEncoder struct {
	format string
}

func (e *vipsEncoder) Format() string { return e.format }

func (e *vipsEncoder) MimeType() string {
	switch e.format {
	case "jpeg":
		return domain.MimeJPEG
	case "webp":
		return domain.MimeWebP
	default:
		return domain.MimePNG
	}
}

func (e *vipsEncoder) Lossy() bool     { return e.format != "png" }
func (e *vipsEncoder) Available() bool { return true }

func (e *vipsEncoder) Encode(img image.Image, quality int) ([]byte, error) {
	var staged bytes.Buffer
	if err := imaging.Encode(&staged, img, imaging.PNG, imaging.PNGCompressionLevel(-1)); err != nil {
		return nil, fmt.Errorf("stage pixels for vips: %w", err)
	}

	ref, err := vips.NewImageFromBuffer(staged.Bytes())
	if err != nil {
		return nil, fmt.Errorf("load pixels into vips: %w", err)
	}
	defer ref.Close()

	quality = clampQuality(quality)
	switch e.format {
	case "jpeg":
		params := vips.NewJpegExportParams()
		params.Quality = quality
		params.StripMetadata = true
		data, _, err := ref.ExportJpeg(params)
		if err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
		return data, nil
	case "webp":
		params := vips.NewWebpExportParams()
		params.Quality = quality
		params.StripMetadata = true
		data, _, err := ref.ExportWebp(params)
		if err != nil {
			return nil, fmt.Errorf("encode webp: %w", err)
		}
		return data, nil
	case "png":
		params := vips.NewPngExportParams()
		params.Compression = 9
		params.StripMetadata = true
		data, _, err := ref.ExportPng(params)
		if err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", e.format)
	}
}
