package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/nao1215/prnuscan/internal/config"
	"github.com/nao1215/prnuscan/internal/imageio"
	"github.com/nao1215/prnuscan/internal/metrics"
	"github.com/nao1215/prnuscan/internal/model"
	"github.com/nao1215/prnuscan/internal/pipeline"
	"github.com/nao1215/prnuscan/internal/report"
)

// NewMetricsCmd creates the metrics command.
func NewMetricsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Measure anonymized images against their originals",
		Long: `Metrics recomputes PSNR, PCE and CCN for every natural image that has an
anonymized counterpart under <output>/<algorithm>/D<id>. Images without one
are skipped.

Outcomes and iteration counts recorded by an earlier anonymize run are kept.
Results are stored in the database and in metrics.json.

Examples:
  # Re-measure everything written for devices 1 to 5
  prnuscan metrics --dataset ./dataset --output ./output --devices 1-5

  # Use a wider PCE peak neighborhood
  prnuscan metrics -D 5 -a adp2 --pce-radius 5`,
		Args: cobra.NoArgs,
		RunE: runMetricsCmd,
	}

	addDatasetFlags(cmd)
	addOutputFlag(cmd)
	addAlgorithmsFlag(cmd)
	addDBFlag(cmd)
	addWorkerFlags(cmd)
	addExtractionFlags(cmd)

	return cmd
}

// runMetricsCmd executes the metrics command.
func runMetricsCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}
	layout := imageio.Layout{Dataset: cfg.Dataset, Output: cfg.Output}
	if err := resolveDevices(cfg, layout); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger := setupLogger(cmd)
	ctx, cancel := signalContext(cmd.Context(), logger)
	defer cancel()

	return runMetrics(ctx, cfg, layout, logger, cmd.OutOrStdout())
}

// runMetrics measures the anonymized output of every selected algorithm.
func runMetrics(ctx context.Context, cfg *config.Config, layout imageio.Layout, logger *slog.Logger, out io.Writer) error {
	db, _, closeAll, err := openFingerprints(cfg)
	if err != nil {
		return err
	}
	defer closeAll()

	settings := pipeline.Settings{
		Fingerprints: pipeline.NewFingerprintCache(db),
		Calculator: metrics.NewCalculator(
			metrics.WithPCERadius(cfg.PCERadius),
			metrics.WithCCNNeighbors(cfg.CCNNeighbors),
		),
		Sink:   db,
		Logger: logger,
	}

	for _, algorithm := range cfg.Algorithms {
		jobs := buildJobs(layout, algorithm, cfg.Devices, logger)
		restoreOutcomes(layout, algorithm, jobs)

		fmt.Fprintf(out, "Measuring %d images of %s (concurrency: %d)...\n\n",
			len(jobs), algorithm, cfg.Workers)
		startTime := time.Now()

		t, err := runJobs(ctx, cfg, func() *pipeline.Pipeline {
			return pipeline.MeasurePipeline(settings)
		}, jobs, logger, out)
		writeMetricsFiles(layout, algorithm, jobs, logger)
		if err != nil {
			return err
		}

		fmt.Fprintf(out, "\n")
		t.print(out, algorithm)
		fmt.Fprintf(out, "Completed in %s\n\n", time.Since(startTime).Round(time.Millisecond))
	}
	return nil
}

// restoreOutcomes copies outcome, iteration count and search statistics of
// earlier runs from metrics.json into jobs, so re-measuring does not lose them.
func restoreOutcomes(layout imageio.Layout, algorithm string, jobs []*model.Job) {
	files := make(map[string]report.MetricsFile)
	for _, job := range jobs {
		f, ok := files[job.Device]
		if !ok {
			f, _ = report.ReadMetricsFile(layout.Metrics(algorithm, job.Device))
			files[job.Device] = f
		}
		if e, ok := f[filepath.Base(job.SourcePath)]; ok {
			job.Outcome = e.Outcome
			job.Iterations = e.Iterations
			job.InitialStatistic = e.InitialStatistic
			job.FinalStatistic = e.FinalStatistic
		}
	}
}
