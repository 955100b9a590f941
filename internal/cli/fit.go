package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dunamismax/cropflow/internal/domain"
	"github.com/dunamismax/cropflow/internal/geometry"
	"github.com/dunamismax/cropflow/internal/raster"
	"github.com/spf13/cobra"
)

type fitReport struct {
	Input          string                `json:"input"`
	Classification domain.Classification `json:"classification"`
	Viewport       geometry.Viewport     `json:"viewport"`
}

func newFitCommand() *cobra.Command {
	var width, height int
	var container string

	cmd := &cobra.Command{
		Use:   "fit <input>",
		Short: "Show how an image is classified and fitted under a crop box",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}
			dims, err := raster.Probe(data)
			if err != nil {
				return err
			}
			viewport, err := parseDimensions(container)
			if err != nil {
				return fmt.Errorf("--container: %w", err)
			}

			spec := domain.CropBoxSpec{Width: width, Height: height}
			if err := spec.Validate(); err != nil {
				return err
			}
			state, err := geometry.NewState(dims, viewport, spec)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(fitReport{
				Input:          args[0],
				Classification: raster.Classify(dims, spec),
				Viewport:       state.Viewport(),
			})
		},
	}
	cmd.Flags().IntVar(&width, "width", 0, "crop box width in pixels")
	cmd.Flags().IntVar(&height, "height", 0, "crop box height in pixels")
	cmd.Flags().StringVar(&container, "container", "800x600", "viewport size as WIDTHxHEIGHT")
	_ = cmd.MarkFlagRequired("width")
	_ = cmd.MarkFlagRequired("height")
	return cmd
}
