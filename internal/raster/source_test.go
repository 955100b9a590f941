package raster

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/dunamismax/cropflow/internal/domain"
)

func TestDecodePNG(t *testing.T) {
	data := buildTestPNG(t, 120, 80)

	buf, err := Decode(data, "image/png")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := buf.Dimensions(); got != (domain.Dimensions{Width: 120, Height: 80}) {
		t.Fatalf("expected 120x80, got %s", got)
	}
	if buf.Format() != "png" {
		t.Fatalf("expected png format, got %q", buf.Format())
	}
	if !bytes.Equal(buf.Source(), data) {
		t.Fatal("expected source bytes to be retained")
	}
}

func TestDecodeSniffsMissingMimeType(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	var out bytes.Buffer
	if err := jpeg.Encode(&out, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}

	buf, err := Decode(out.Bytes(), "")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if buf.MimeType() != domain.MimeJPEG {
		t.Fatalf("expected sniffed image/jpeg, got %s", buf.MimeType())
	}

	buf, err = Decode(buildTestPNG(t, 4, 4), "application/octet-stream")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if buf.MimeType() != domain.MimePNG {
		t.Fatalf("expected sniffed image/png, got %s", buf.MimeType())
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte("definitely not an image"), "image/png")
	var decodeErr *domain.DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("expected DecodeError, got %v", err)
	}

	_, err = Decode(nil, "")
	if !errors.As(err, &decodeErr) {
		t.Fatalf("expected DecodeError for empty input, got %v", err)
	}
	if decodeErr.MimeType != domain.MimeJPEG {
		t.Fatalf("expected image/jpeg default mime, got %s", decodeErr.MimeType)
	}
}

func TestClassify(t *testing.T) {
	box := domain.CropBoxSpec{Width: 300, Height: 250}

	cases := []struct {
		name string
		img  domain.Dimensions
		want domain.Classification
	}{
		{"too small both", domain.Dimensions{Width: 100, Height: 100}, domain.TooSmall},
		{"too small height", domain.Dimensions{Width: 4000, Height: 249}, domain.TooSmall},
		{"exact", domain.Dimensions{Width: 300, Height: 250}, domain.ExactFit},
		{"croppable", domain.Dimensions{Width: 2000, Height: 1500}, domain.Croppable},
		{"croppable one side equal", domain.Dimensions{Width: 300, Height: 900}, domain.Croppable},
	}
	for _, tc := range cases {
		if got := Classify(tc.img, box); got != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.want, got)
		}
	}
}

func TestNormalizeMimeType(t *testing.T) {
	if got := NormalizeMimeType(" Image/JPG "); got != domain.MimeJPEG {
		t.Fatalf("expected image/jpeg, got %s", got)
	}
	if got := NormalizeMimeType("image/png; charset=binary"); got != domain.MimePNG {
		t.Fatalf("expected image/png, got %s", got)
	}
	if got := FormatForMime("image/webp"); got != "webp" {
		t.Fatalf("expected webp, got %s", got)
	}
}

func buildTestPNG(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x * 255) / w),
				G: uint8((y * 255) / h),
				B: 140,
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode source png: %v", err)
	}
	return buf.Bytes()
}

func TestDecodePrefersActualFormat(t *testing.T) {
	buf, err := Decode(buildTestPNG(t, 6, 3), "image/jpeg")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if buf.MimeType() != domain.MimePNG {
		t.Fatalf("expected image/png from decoded header, got %s", buf.MimeType())
	}

	dims, err := Probe(buildTestPNG(t, 6, 3))
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if dims.Width != 6 || dims.Height != 3 {
		t.Fatalf("expected 6x3, got %s", dims)
	}
}

// withOrientation inserts an EXIF APP1 segment carrying the orientation tag
// right after the JPEG SOI marker.
func withOrientation(jpegData []byte, o uint16) []byte {
	app1 := []byte{
		0xFF, 0xE1, 0x00, 0x22,
		'E', 'x', 'i', 'f', 0x00, 0x00,
		'M', 'M', 0x00, 0x2A, 0x00, 0x00, 0x00, 0x08,
		0x00, 0x01,
		0x01, 0x12, 0x00, 0x03, 0x00, 0x00, 0x00, 0x01, byte(o >> 8), byte(o), 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
	}
	out := append([]byte{}, jpegData[:2]...)
	out = append(out, app1...)
	return append(out, jpegData[2:]...)
}

func buildTestJPEG(t *testing.T, w, h int) []byte {
	t.Helper()

	var out bytes.Buffer
	if err := jpeg.Encode(&out, image.NewRGBA(image.Rect(0, 0, w, h)), &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return out.Bytes()
}

func TestDecodeAppliesEXIFOrientation(t *testing.T) {
	plain := buildTestJPEG(t, 250, 300)
	rotated := withOrientation(plain, 6)

	buf, err := Decode(rotated, domain.MimeJPEG)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := buf.Dimensions(); got != (domain.Dimensions{Width: 300, Height: 250}) {
		t.Fatalf("expected rotated 300x250, got %s", got)
	}
	if !buf.Reoriented() {
		t.Fatal("expected buffer to report reorientation")
	}

	dims, err := Probe(rotated)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if dims != buf.Dimensions() {
		t.Fatalf("expected probe to match decode, got %s vs %s", dims, buf.Dimensions())
	}

	buf, err = Decode(plain, domain.MimeJPEG)
	if err != nil {
		t.Fatalf("decode plain: %v", err)
	}
	if buf.Reoriented() {
		t.Fatal("expected plain jpeg to keep its pixel grid")
	}
	if dims, _ := Probe(withOrientation(plain, 3)); dims != (domain.Dimensions{Width: 250, Height: 300}) {
		t.Fatalf("expected 180 degree rotation to keep 250x300, got %s", dims)
	}
}

func TestOrientationIgnoresMalformedEXIF(t *testing.T) {
	plain := buildTestJPEG(t, 8, 8)
	if got := orientation(plain); got != 1 {
		t.Fatalf("expected 1 without exif, got %d", got)
	}
	if got := orientation(withOrientation(plain, 42)); got != 1 {
		t.Fatalf("expected out-of-range orientation to read as 1, got %d", got)
	}
	if got := orientation([]byte{0xFF, 0xD8, 0xFF, 0xE1, 0xFF, 0xFF}); got != 1 {
		t.Fatalf("expected truncated segment to read as 1, got %d", got)
	}
	if got := orientation(withOrientation(plain, 8)); got != 8 {
		t.Fatalf("expected orientation 8, got %d", got)
	}
}
