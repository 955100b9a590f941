package cli

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dunamismax/cropflow/internal/domain"
	"github.com/dunamismax/cropflow/internal/pipeline"
	"github.com/spf13/cobra"
)

// cropReport is printed for every processed file.
type cropReport struct {
	Input          string                `json:"input"`
	Output         string                `json:"output"`
	Classification domain.Classification `json:"classification"`
	MimeType       string                `json:"mime_type"`
	Quality        float64               `json:"quality"`
	SizeBytes      int                   `json:"size_bytes"`
	MaxBytes       int                   `json:"max_bytes"`
	Attempts       int                   `json:"attempts"`
	DataURL        string                `json:"data_url,omitempty"`
}

func newReport(input string, req pipeline.Request, res pipeline.Result) cropReport {
	return cropReport{
		Input:          input,
		Output:         res.Location,
		Classification: res.Classification,
		MimeType:       res.Artifact.MimeType,
		Quality:        res.Artifact.Quality,
		SizeBytes:      res.Artifact.SizeBytes,
		MaxBytes:       req.Constraints.MaxBytes,
		Attempts:       res.Artifact.Attempts,
	}
}

func newCropCommand() *cobra.Command {
	opts := &cropOptions{}
	var dataURL bool

	cmd := &cobra.Command{
		Use:   "crop <input>",
		Short: "Crop and encode a single image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := args[0]
			processor, err := opts.processor()
			if err != nil {
				return err
			}
			req, err := opts.request(jobName(input), input)
			if err != nil {
				return err
			}

			res, err := processor.Process(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("crop %s: %w", input, err)
			}

			report := newReport(input, req, res)
			if dataURL {
				report.DataURL = res.Artifact.DataURL()
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
	opts.register(cmd)
	cmd.Flags().BoolVar(&dataURL, "data-url", false, "include the artifact as a data URL in the report")
	return cmd
}

// jobName derives an output directory name from the input file name.
func jobName(input string) string {
	base := filepath.Base(input)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
