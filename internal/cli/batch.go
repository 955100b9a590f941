package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dunamismax/cropflow/internal/domain"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"
)

var batchExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
}

type batchSummary struct {
	Files      int          `json:"files"`
	Succeeded  int          `json:"succeeded"`
	Failed     int          `json:"failed"`
	InputBytes int64        `json:"input_bytes"`
	OutputSize int64        `json:"output_bytes"`
	Elapsed    string       `json:"elapsed"`
	Results    []cropReport `json:"results"`
	Errors     []string     `json:"errors,omitempty"`
}

func newBatchCommand() *cobra.Command {
	opts := &cropOptions{}
	var workers int
	var failFast bool

	cmd := &cobra.Command{
		Use:   "batch <input_dir>",
		Short: "Crop every image in a directory with the same box and budget",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := collectImages(args[0])
			if err != nil {
				return err
			}
			if len(files) == 0 {
				return fmt.Errorf("no images found in %s", args[0])
			}
			if workers <= 0 {
				workers = runtime.NumCPU()
			}

			summary, err := runBatch(cmd.Context(), opts, files, workers, failFast)
			if summary != nil {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if encErr := enc.Encode(summary); encErr != nil {
					return encErr
				}
			}
			return err
		},
	}
	opts.register(cmd)
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "parallel workers (0 = NumCPU)")
	cmd.Flags().BoolVar(&failFast, "fail-fast", false, "stop at the first failed file")
	return cmd
}

func runBatch(ctx context.Context, opts *cropOptions, files []string, workers int, failFast bool) (*batchSummary, error) {
	processor, err := opts.processor()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	log := zerolog.Ctx(ctx)
	summary := &batchSummary{Files: len(files)}
	var mu sync.Mutex

	p := pool.New().WithErrors().WithContext(ctx).WithMaxGoroutines(workers)
	if failFast {
		p = p.WithCancelOnError()
	}

	for _, file := range files {
		p.Go(func(ctx context.Context) error {
			req, err := opts.request(jobName(file), file)
			if err != nil {
				return err
			}
			res, err := processor.Process(ctx, req)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				summary.Failed++
				summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", file, err))
				log.Warn().Err(err).Bool("permanent", domain.Permanent(err)).Str("input", file).Msg("crop failed")
				return fmt.Errorf("%s: %w", file, err)
			}
			summary.Succeeded++
			summary.InputBytes += int64(res.SourceBytes)
			summary.OutputSize += int64(res.Artifact.SizeBytes)
			summary.Results = append(summary.Results, newReport(file, req, res))
			log.Info().Str("input", file).Str("output", res.Location).Msg("cropped")
			return nil
		})
	}

	err = p.Wait()
	sort.Slice(summary.Results, func(i, j int) bool { return summary.Results[i].Input < summary.Results[j].Input })
	sort.Strings(summary.Errors)
	summary.Elapsed = time.Since(start).Round(time.Millisecond).String()
	return summary, err
}

func collectImages(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if batchExtensions[strings.ToLower(filepath.Ext(path))] {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	sort.Strings(files)
	return files, nil
}
