package encoder

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	_ "image/jpeg"
	"math/rand"
	"testing"

	"github.com/dunamismax/cropflow/internal/domain"
)

// sizedEncoder emits sizeFn(quality) bytes and records every quality it saw.
type sizedEncoder struct {
	lossy  bool
	sizeFn func(int) int
	seen   []int
}

func (e *sizedEncoder) Format() string   { return "fake" }
func (e *sizedEncoder) MimeType() string { return domain.MimeJPEG }
func (e *sizedEncoder) Lossy() bool      { return e.lossy }
func (e *sizedEncoder) Available() bool  { return true }

func (e *sizedEncoder) Encode(_ image.Image, quality int) ([]byte, error) {
	e.seen = append(e.seen, quality)
	return make([]byte, e.sizeFn(quality)), nil
}

func linearSize(q int) int { return q * 100 }

func testImage(w, h int) image.Image {
	return image.NewRGBA(image.Rect(0, 0, w, h))
}

func TestBudgetedFullQualityFitsInOneAttempt(t *testing.T) {
	for _, strategy := range []Strategy{Linear, Binary} {
		enc := &sizedEncoder{lossy: true, sizeFn: linearSize}
		artifact, err := NewBudgeted(WithStrategy(strategy)).Encode(context.Background(), enc, testImage(30, 20), 10000)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", strategy, err)
		}
		if artifact.Quality != 1.0 {
			t.Fatalf("%s: expected quality 1.0, got %v", strategy, artifact.Quality)
		}
		if artifact.Attempts != 1 || len(enc.seen) != 1 {
			t.Fatalf("%s: expected a single attempt, got %d (%v)", strategy, artifact.Attempts, enc.seen)
		}
		if artifact.Width != 30 || artifact.Height != 20 {
			t.Fatalf("%s: expected 30x20 artifact, got %dx%d", strategy, artifact.Width, artifact.Height)
		}
	}
}

func TestBudgetedLinearStopsAtFirstFit(t *testing.T) {
	enc := &sizedEncoder{lossy: true, sizeFn: linearSize}
	artifact, err := NewBudgeted().Encode(context.Background(), enc, testImage(10, 10), 5000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if artifact.Quality != 0.5 {
		t.Fatalf("expected quality 0.5, got %v", artifact.Quality)
	}
	if artifact.SizeBytes != 5000 || len(artifact.Bytes) != 5000 {
		t.Fatalf("expected 5000 bytes, got %d", artifact.SizeBytes)
	}
	// 100, then 99 down to 50.
	if artifact.Attempts != 51 {
		t.Fatalf("expected 51 attempts, got %d", artifact.Attempts)
	}
	for i := 1; i < len(enc.seen); i++ {
		if enc.seen[i] >= enc.seen[i-1] {
			t.Fatalf("expected strictly decreasing qualities, got %v", enc.seen)
		}
	}
}

func TestBudgetedUnreachable(t *testing.T) {
	for _, strategy := range []Strategy{Linear, Binary} {
		enc := &sizedEncoder{lossy: true, sizeFn: linearSize}
		_, err := NewBudgeted(WithStrategy(strategy)).Encode(context.Background(), enc, testImage(10, 10), 250)

		var budgetErr *domain.BudgetUnreachableError
		if !errors.As(err, &budgetErr) {
			t.Fatalf("%s: expected BudgetUnreachableError, got %v", strategy, err)
		}
		if budgetErr.MaxBytes != 250 {
			t.Fatalf("%s: expected max 250, got %d", strategy, budgetErr.MaxBytes)
		}
		if budgetErr.MinAchievedBytes != MinQuality*100 {
			t.Fatalf("%s: expected min achieved %d, got %d", strategy, MinQuality*100, budgetErr.MinAchievedBytes)
		}
		for _, q := range enc.seen {
			if q < MinQuality {
				t.Fatalf("%s: quality %d below floor", strategy, q)
			}
		}
		if !domain.Recoverable(err) {
			t.Fatalf("%s: expected unreachable budget to be recoverable", strategy)
		}
	}
}

func TestBudgetedLosslessSingleAttempt(t *testing.T) {
	enc := &sizedEncoder{lossy: false, sizeFn: func(int) int { return 900 }}
	_, err := NewBudgeted().Encode(context.Background(), enc, testImage(10, 10), 800)

	var budgetErr *domain.BudgetUnreachableError
	if !errors.As(err, &budgetErr) {
		t.Fatalf("expected BudgetUnreachableError, got %v", err)
	}
	if len(enc.seen) != 1 {
		t.Fatalf("expected a single attempt for a lossless encoder, got %v", enc.seen)
	}
	if budgetErr.MinAchievedBytes != 900 {
		t.Fatalf("expected min achieved 900, got %d", budgetErr.MinAchievedBytes)
	}
}

func TestBudgetedBinaryMatchesLinear(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 200; i++ {
		// Random non-decreasing size curve with plateaus.
		sizes := make([]int, MaxQuality+1)
		for q := 1; q <= MaxQuality; q++ {
			sizes[q] = sizes[q-1] + rng.Intn(40)
		}
		sizeFn := func(q int) int { return sizes[q] + 1 }
		maxBytes := 1 + rng.Intn(sizes[MaxQuality]+10)

		linearArt, linearErr := NewBudgeted().Encode(context.Background(), &sizedEncoder{lossy: true, sizeFn: sizeFn}, testImage(4, 4), maxBytes)
		binaryEnc := &sizedEncoder{lossy: true, sizeFn: sizeFn}
		binaryArt, binaryErr := NewBudgeted(WithStrategy(Binary)).Encode(context.Background(), binaryEnc, testImage(4, 4), maxBytes)

		if (linearErr == nil) != (binaryErr == nil) {
			t.Fatalf("case %d: linear err %v, binary err %v", i, linearErr, binaryErr)
		}
		if linearErr != nil {
			continue
		}
		if linearArt.Quality != binaryArt.Quality {
			t.Fatalf("case %d: linear chose %v, binary chose %v", i, linearArt.Quality, binaryArt.Quality)
		}
		if binaryArt.SizeBytes > maxBytes {
			t.Fatalf("case %d: size %d over budget %d", i, binaryArt.SizeBytes, maxBytes)
		}
		if binaryArt.Attempts > 9 {
			t.Fatalf("case %d: expected at most 9 binary attempts, got %d", i, binaryArt.Attempts)
		}
	}
}

func TestBudgetedHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	enc := &sizedEncoder{lossy: true}
	enc.sizeFn = func(q int) int {
		if q == 90 {
			cancel()
		}
		return linearSize(q)
	}

	_, err := NewBudgeted().Encode(ctx, enc, testImage(10, 10), 100)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if last := enc.seen[len(enc.seen)-1]; last != 90 {
		t.Fatalf("expected search to stop after quality 90, last attempt was %d", last)
	}
}

func TestBudgetedRejectsBadInput(t *testing.T) {
	b := NewBudgeted()
	if _, err := b.Encode(context.Background(), &JPEGEncoder{}, testImage(4, 4), 0); err == nil {
		t.Fatal("expected error for zero budget")
	}
	if _, err := b.Encode(context.Background(), nil, testImage(4, 4), 100); !errors.Is(err, domain.ErrUnsupportedMime) {
		t.Fatalf("expected ErrUnsupportedMime, got %v", err)
	}
}

func noisyImage(seed int64, w, h int) image.Image {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{
				R: uint8((x*255)/w) ^ uint8(rng.Intn(64)),
				G: uint8((y*255)/h) ^ uint8(rng.Intn(64)),
				B: uint8(rng.Intn(256)),
				A: 255,
			})
		}
	}
	return img
}

func TestJPEGSizeDecreasesWithQuality(t *testing.T) {
	enc := &JPEGEncoder{}
	for seed := int64(1); seed <= 5; seed++ {
		img := noisyImage(seed, 96, 64)
		prev := -1
		for q := 100; q >= 10; q -= 15 {
			data, err := enc.Encode(img, q)
			if err != nil {
				t.Fatalf("encode at %d: %v", q, err)
			}
			if prev >= 0 && len(data) > prev {
				t.Fatalf("seed %d: quality %d produced %d bytes, more than %d at higher quality", seed, q, len(data), prev)
			}
			prev = len(data)
		}
	}
}

func TestBudgetedRealJPEG(t *testing.T) {
	img := noisyImage(42, 300, 250)
	enc := &JPEGEncoder{}

	full, err := enc.Encode(img, 100)
	if err != nil {
		t.Fatalf("encode full quality: %v", err)
	}
	budget := len(full) / 3

	artifact, err := NewBudgeted(WithStrategy(Binary)).Encode(context.Background(), enc, img, budget)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if artifact.SizeBytes > budget {
		t.Fatalf("expected size <= %d, got %d", budget, artifact.SizeBytes)
	}
	if artifact.Quality >= 1.0 || artifact.Quality < float64(MinQuality)/MaxQuality {
		t.Fatalf("expected quality in [0.03, 1.0), got %v", artifact.Quality)
	}
	if artifact.MimeType != domain.MimeJPEG {
		t.Fatalf("expected image/jpeg, got %s", artifact.MimeType)
	}

	decoded, _, err := image.Decode(bytes.NewReader(artifact.Bytes))
	if err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if b := decoded.Bounds(); b.Dx() != 300 || b.Dy() != 250 {
		t.Fatalf("expected 300x250, got %dx%d", b.Dx(), b.Dy())
	}
}
