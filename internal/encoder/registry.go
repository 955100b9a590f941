package encoder

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dunamismax/cropflow/internal/domain"
)

const (
	JPEGEngineStd    = "std"
	JPEGEngineJpegli = "jpegli"
)

// Registry maps output media types to encoders.
type Registry struct {
	encoders map[string]Encoder
}

// NewRegistry builds the encoder set for this binary. jpegEngine selects the
// JPEG implementation when libvips is not compiled in.
func NewRegistry(jpegEngine string) (*Registry, error) {
	r := &Registry{encoders: make(map[string]Encoder)}

	jpegEngine = strings.ToLower(strings.TrimSpace(jpegEngine))
	switch jpegEngine {
	case "", JPEGEngineStd:
		r.Register(&JPEGEncoder{})
	case JPEGEngineJpegli:
		r.Register(&JpegliEncoder{})
	default:
		return nil, fmt.Errorf("unknown jpeg engine %q", jpegEngine)
	}
	r.Register(&PNGEncoder{})

	for _, enc := range platformEncoders() {
		if enc.Format() == "jpeg" && jpegEngine == JPEGEngineJpegli {
			continue
		}
		r.Register(enc)
	}
	return r, nil
}

// Register adds enc, replacing any encoder for the same media type.
// Unavailable encoders are ignored.
func (r *Registry) Register(enc Encoder) {
	if enc == nil || !enc.Available() {
		return
	}
	r.encoders[enc.MimeType()] = enc
}

// ForMime returns the encoder for mimeType. An empty type means JPEG.
func (r *Registry) ForMime(mimeType string) (Encoder, error) {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if mimeType == "" {
		mimeType = domain.MimeJPEG
	}
	if mimeType == "image/jpg" {
		mimeType = domain.MimeJPEG
	}

	enc, ok := r.encoders[mimeType]
	if !ok {
		return nil, fmt.Errorf("%w: no encoder for %q", domain.ErrUnsupportedMime, mimeType)
	}
	return enc, nil
}

// MimeTypes lists the registered media types in sorted order.
func (r *Registry) MimeTypes() []string {
	out := make([]string, 0, len(r.encoders))
	for m := range r.encoders {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
