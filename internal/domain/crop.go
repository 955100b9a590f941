package domain

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"strings"
)

const (
	MimeJPEG = "image/jpeg"
	MimePNG  = "image/png"
	MimeWebP = "image/webp"
)

type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (d Dimensions) Valid() bool {
	return d.Width > 0 && d.Height > 0
}

func (d Dimensions) String() string {
	return fmt.Sprintf("%dx%d", d.Width, d.Height)
}

// CropBoxSpec is the exact pixel size of the crop output. It does not change
// for the lifetime of a session.
type CropBoxSpec struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (c CropBoxSpec) AspectRatio() float64 {
	if c.Height == 0 {
		return 0
	}
	return float64(c.Width) / float64(c.Height)
}

func (c CropBoxSpec) Dimensions() Dimensions {
	return Dimensions{Width: c.Width, Height: c.Height}
}

func (c CropBoxSpec) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("crop box must be positive, got %dx%d", c.Width, c.Height)
	}
	return nil
}

type EncodeConstraints struct {
	MimeType string `json:"mime_type"`
	MaxBytes int    `json:"max_bytes"`
}

func (c EncodeConstraints) Validate() error {
	if c.MaxBytes < 1 {
		return errors.New("max_bytes must be at least 1")
	}
	if strings.TrimSpace(c.MimeType) == "" {
		return errors.New("mime_type is required")
	}
	return nil
}

// KilobytesToBytes converts a decimal kilobyte budget (1 KB = 1000 bytes) to bytes.
func KilobytesToBytes(kb float64) int {
	return int(math.Floor(kb * 1000))
}

// EncodedArtifact is the terminal output of a successful apply. Callers must
// treat Bytes as read-only.
type EncodedArtifact struct {
	Bytes     []byte  `json:"-"`
	MimeType  string  `json:"mime_type"`
	Quality   float64 `json:"quality"`
	SizeBytes int     `json:"size_bytes"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	Attempts  int     `json:"attempts"`
}

func (a EncodedArtifact) DataURL() string {
	var b strings.Builder
	b.Grow(len("data:;base64,") + len(a.MimeType) + base64.StdEncoding.EncodedLen(len(a.Bytes)))
	b.WriteString("data:")
	b.WriteString(a.MimeType)
	b.WriteString(";base64,")
	b.WriteString(base64.StdEncoding.EncodeToString(a.Bytes))
	return b.String()
}

type Classification int

const (
	Croppable Classification = iota
	ExactFit
	TooSmall
)

func (c Classification) String() string {
	switch c {
	case ExactFit:
		return "exact_fit"
	case TooSmall:
		return "too_small"
	default:
		return "croppable"
	}
}

func (c Classification) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Classification) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "croppable":
		*c = Croppable
	case "exact_fit":
		*c = ExactFit
	case "too_small":
		*c = TooSmall
	default:
		return fmt.Errorf("unknown classification %q", text)
	}
	return nil
}
