package pipeline

import (
	"context"
	"fmt"
	"testing"

	"github.com/dunamismax/cropflow/internal/domain"
	"github.com/dunamismax/cropflow/internal/encoder"
)

func benchmarkProcessor(b *testing.B, strategy encoder.Strategy, maxBytes int) {
	source := buildTestPNG(b, 1920, 1080)
	processor, err := NewProcessor(staticFetcher{data: source}, discardEmitter{}, WithSearch(encoder.NewBudgeted(encoder.WithStrategy(strategy))))
	if err != nil {
		b.Fatalf("new processor: %v", err)
	}

	req := Request{
		SourceType:  SourceTypeLocalFile,
		ObjectKey:   "ignored.png",
		CropBox:     domain.CropBoxSpec{Width: 1200, Height: 628},
		Constraints: domain.EncodeConstraints{MimeType: domain.MimeJPEG, MaxBytes: maxBytes},
		Container:   domain.Dimensions{Width: 1440, Height: 900},
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		req.JobID = fmt.Sprintf("bench-%d", i)
		if _, err := processor.Process(context.Background(), req); err != nil {
			b.Fatalf("process: %v", err)
		}
	}
}

func BenchmarkProcessorFullQuality(b *testing.B) {
	benchmarkProcessor(b, encoder.Linear, 10<<20)
}

func BenchmarkProcessorLinearSearch(b *testing.B) {
	benchmarkProcessor(b, encoder.Linear, 30000)
}

func BenchmarkProcessorBinarySearch(b *testing.B) {
	benchmarkProcessor(b, encoder.Binary, 30000)
}
