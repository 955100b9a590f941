// Package raster decodes source images into immutable pixel buffers and
// classifies them against a crop box.
package raster

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/cropflow/internal/domain"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Buffer is a decoded image. It is never mutated after construction, so it
// may be shared between stages without locking.
type Buffer struct {
	img         image.Image
	mimeType    string
	format      string
	source      []byte
	orientation int
}

// NewBuffer wraps pixels produced by a later stage.
func NewBuffer(img image.Image, mimeType string) *Buffer {
	return &Buffer{img: img, mimeType: NormalizeMimeType(mimeType), format: FormatForMime(mimeType)}
}

func (b *Buffer) Image() image.Image { return b.img }
func (b *Buffer) MimeType() string   { return b.mimeType }
func (b *Buffer) Format() string     { return b.format }

// Source returns the encoded bytes the buffer was decoded from, or nil for
// derived buffers. The slice must not be modified.
func (b *Buffer) Source() []byte { return b.source }

// Reoriented reports whether decoding rotated or flipped the stored pixel
// grid, in which case Source does not match Image pixel for pixel.
func (b *Buffer) Reoriented() bool { return b.orientation > 1 }

func (b *Buffer) Dimensions() domain.Dimensions {
	bounds := b.img.Bounds()
	return domain.Dimensions{Width: bounds.Dx(), Height: bounds.Dy()}
}

// Decode turns raw bytes into a Buffer. An empty or generic mime type is
// replaced by the sniffed one, falling back to image/jpeg.
func Decode(data []byte, mimeType string) (*Buffer, error) {
	mimeType = resolveMimeType(data, mimeType)
	if len(data) == 0 {
		return nil, &domain.DecodeError{MimeType: mimeType, Err: errors.New("empty input")}
	}

	img, format, err := decode(data)
	if err != nil {
		return nil, &domain.DecodeError{MimeType: mimeType, Err: err}
	}

	bounds := img.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return nil, &domain.DecodeError{MimeType: mimeType, Err: fmt.Errorf("image has no pixels (%dx%d)", bounds.Dx(), bounds.Dy())}
	}

	// The decoded container wins over a mislabelled declaration.
	if actual := mimeForFormat(format); actual != "" {
		mimeType = actual
	}

	buf := &Buffer{
		img:      img,
		mimeType: mimeType,
		format:   format,
		source:   data,
	}
	if format == "jpeg" {
		buf.orientation = orientation(data)
	}
	return buf, nil
}

func decode(data []byte) (image.Image, string, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err == nil {
		_, format, cfgErr := image.DecodeConfig(bytes.NewReader(data))
		if cfgErr != nil {
			format = ""
		}
		return img, format, nil
	}

	if img, fallbackErr := decodeWebPFallback(data); fallbackErr == nil {
		return img, "webp", nil
	}
	return nil, "", err
}

// Classify compares source dimensions against the crop box.
func Classify(img domain.Dimensions, box domain.CropBoxSpec) domain.Classification {
	switch {
	case img.Width < box.Width || img.Height < box.Height:
		return domain.TooSmall
	case img.Width == box.Width && img.Height == box.Height:
		return domain.ExactFit
	default:
		return domain.Croppable
	}
}

func resolveMimeType(data []byte, declared string) string {
	declared = NormalizeMimeType(declared)
	if strings.HasPrefix(declared, "image/") {
		return declared
	}
	if len(data) > 0 {
		if sniffed := NormalizeMimeType(http.DetectContentType(data)); strings.HasPrefix(sniffed, "image/") {
			return sniffed
		}
	}
	return domain.MimeJPEG
}

func NormalizeMimeType(mimeType string) string {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	switch mimeType {
	case "image/jpg", "image/pjpeg":
		return domain.MimeJPEG
	case "image/x-png":
		return domain.MimePNG
	default:
		return mimeType
	}
}

func mimeForFormat(format string) string {
	switch format {
	case "jpeg":
		return domain.MimeJPEG
	case "png":
		return domain.MimePNG
	case "webp":
		return domain.MimeWebP
	case "gif":
		return "image/gif"
	case "bmp":
		return "image/bmp"
	case "tiff":
		return "image/tiff"
	default:
		return ""
	}
}

// Probe reads only the image header. Dimensions are reported as Decode
// would produce them, after EXIF orientation.
func Probe(data []byte) (domain.Dimensions, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return domain.Dimensions{}, &domain.DecodeError{Err: err}
	}
	if format == "jpeg" && transposed(orientation(data)) {
		return domain.Dimensions{Width: cfg.Height, Height: cfg.Width}, nil
	}
	return domain.Dimensions{Width: cfg.Width, Height: cfg.Height}, nil
}

func FormatForMime(mimeType string) string {
	switch NormalizeMimeType(mimeType) {
	case domain.MimeJPEG:
		return "jpeg"
	case domain.MimePNG:
		return "png"
	case domain.MimeWebP:
		return "webp"
	case "image/gif":
		return "gif"
	default:
		return ""
	}
}
