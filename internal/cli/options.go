package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dunamismax/cropflow/internal/domain"
	"github.com/dunamismax/cropflow/internal/encoder"
	"github.com/dunamismax/cropflow/internal/pipeline"
	"github.com/spf13/cobra"
)

// cropOptions are the flags shared by crop and batch.
type cropOptions struct {
	width      int
	height     int
	mimeType   string
	maxKB      float64
	container  string
	strategy   string
	jpegEngine string
	outDir     string
	intents    []string
}

func (o *cropOptions) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.IntVar(&o.width, "width", 0, "crop box width in pixels")
	f.IntVar(&o.height, "height", 0, "crop box height in pixels")
	f.StringVar(&o.mimeType, "mime", domain.MimeJPEG, "output mime type")
	f.Float64Var(&o.maxKB, "max-kb", 100, "byte budget in kilobytes (1 KB = 1000 bytes)")
	f.StringVar(&o.container, "container", "800x600", "viewport size as WIDTHxHEIGHT")
	f.StringVar(&o.strategy, "strategy", "linear", "quality search (linear or binary)")
	f.StringVar(&o.jpegEngine, "jpeg-engine", encoder.JPEGEngineStd, "jpeg encoder (std or jpegli)")
	f.StringVarP(&o.outDir, "out", "o", "./cropflow_out", "output directory")
	f.StringArrayVar(&o.intents, "intent", nil, "gesture to replay: zoom_in, zoom_out, refit, zoom=VALUE, pan=DX,DY (repeatable)")
	_ = cmd.MarkFlagRequired("width")
	_ = cmd.MarkFlagRequired("height")
}

func (o *cropOptions) processor() (*pipeline.Processor, error) {
	strategy, err := encoder.ParseStrategy(o.strategy)
	if err != nil {
		return nil, err
	}
	registry, err := encoder.NewRegistry(o.jpegEngine)
	if err != nil {
		return nil, err
	}
	return pipeline.NewLocalProcessor(o.outDir,
		pipeline.WithEncoders(registry),
		pipeline.WithSearch(encoder.NewBudgeted(encoder.WithStrategy(strategy))),
	)
}

func (o *cropOptions) request(jobID, path string) (pipeline.Request, error) {
	container, err := parseDimensions(o.container)
	if err != nil {
		return pipeline.Request{}, fmt.Errorf("--container: %w", err)
	}
	intents := make([]domain.Intent, 0, len(o.intents))
	for _, raw := range o.intents {
		in, err := parseIntent(raw)
		if err != nil {
			return pipeline.Request{}, fmt.Errorf("--intent %q: %w", raw, err)
		}
		intents = append(intents, in)
	}
	if o.maxKB <= 0 {
		return pipeline.Request{}, errors.New("--max-kb must be positive")
	}

	return pipeline.Request{
		JobID:      jobID,
		SourceType: pipeline.SourceTypeLocalFile,
		ObjectKey:  path,
		CropBox:    domain.CropBoxSpec{Width: o.width, Height: o.height},
		Constraints: domain.EncodeConstraints{
			MimeType: o.mimeType,
			MaxBytes: domain.KilobytesToBytes(o.maxKB),
		},
		Container: container,
		Intents:   intents,
	}, nil
}

func parseDimensions(raw string) (domain.Dimensions, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(raw)), "x")
	if !ok {
		return domain.Dimensions{}, fmt.Errorf("expected WIDTHxHEIGHT, got %q", raw)
	}
	width, err := strconv.Atoi(w)
	if err != nil {
		return domain.Dimensions{}, fmt.Errorf("width: %w", err)
	}
	height, err := strconv.Atoi(h)
	if err != nil {
		return domain.Dimensions{}, fmt.Errorf("height: %w", err)
	}
	d := domain.Dimensions{Width: width, Height: height}
	if !d.Valid() {
		return domain.Dimensions{}, fmt.Errorf("dimensions must be positive, got %s", d)
	}
	return d, nil
}

func parseIntent(raw string) (domain.Intent, error) {
	name, arg, hasArg := strings.Cut(strings.TrimSpace(raw), "=")
	in := domain.Intent{Type: strings.ToLower(name)}

	switch in.Type {
	case domain.IntentZoom:
		if !hasArg {
			return domain.Intent{}, errors.New("zoom needs a value, e.g. zoom=75")
		}
		v, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return domain.Intent{}, fmt.Errorf("zoom value: %w", err)
		}
		in.Value = v
	case domain.IntentPan:
		dx, dy, ok := strings.Cut(arg, ",")
		if !hasArg || !ok {
			return domain.Intent{}, errors.New("pan needs DX,DY, e.g. pan=-20,10")
		}
		var err error
		if in.DX, err = strconv.ParseFloat(strings.TrimSpace(dx), 64); err != nil {
			return domain.Intent{}, fmt.Errorf("pan dx: %w", err)
		}
		if in.DY, err = strconv.ParseFloat(strings.TrimSpace(dy), 64); err != nil {
			return domain.Intent{}, fmt.Errorf("pan dy: %w", err)
		}
	default:
		if hasArg {
			return domain.Intent{}, fmt.Errorf("%s takes no value", in.Type)
		}
	}
	return in, in.Validate()
}
