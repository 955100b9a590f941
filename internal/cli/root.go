// Package cli implements the cropctl command tree.
package cli

import (
	"context"
	"fmt"
	"runtime"

	"github.com/dunamismax/cropflow/internal/encoder"
	"github.com/dunamismax/cropflow/internal/logging"
	"github.com/spf13/cobra"
)

var version = "0.1.0"

var (
	encoderStartup  = encoder.Startup
	encoderShutdown = encoder.Shutdown
)

type rootOptions struct {
	logLevel  string
	logFormat string
}

// NewRootCommand builds a fresh cropctl command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "cropctl",
		Short: "Crop images to a fixed box and encode them under a byte budget",
		Long: `cropctl positions a source image under a fixed-size crop box, replays
zoom and pan gestures, and encodes the crop at the highest quality that
fits the byte budget.

Output filenames are content-addressed: <job>/<hash>.<ext>`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logger := logging.SetupWriter(logging.Config{Level: opts.logLevel, Format: opts.logFormat}, "cropctl", cmd.ErrOrStderr())
			cmd.SetContext(logger.WithContext(cmd.Context()))
			if err := encoderStartup(); err != nil {
				return fmt.Errorf("start encoder runtime: %w", err)
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "console", "log format (console or json)")
	root.SetVersionTemplate(fmt.Sprintf(
		"cropctl %s (%s/%s, %s, encoder backend %s)\n",
		version, runtime.GOOS, runtime.GOARCH, runtime.Version(), encoder.Backend(),
	))

	root.AddCommand(newCropCommand(), newBatchCommand(), newFitCommand())
	return root
}

// Execute runs cropctl and releases the encoder runtime afterwards, also
// when the command fails.
func Execute(ctx context.Context) error {
	return execute(ctx, NewRootCommand())
}

func execute(ctx context.Context, root *cobra.Command) error {
	defer encoderShutdown()
	return root.ExecuteContext(ctx)
}
