package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/nao1215/prnuscan/internal/config"
	"github.com/nao1215/prnuscan/internal/imageio"
	"github.com/nao1215/prnuscan/internal/metrics"
	"github.com/nao1215/prnuscan/internal/pipeline"
	"github.com/nao1215/prnuscan/internal/prnu"
)

// NewAnonymizeCmd creates the anonymize command.
func NewAnonymizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "anonymize",
		Short: "Remove the device fingerprint from natural images",
		Long: `Anonymize processes every image in <dataset>/D<id>/nat with each selected
algorithm and writes the result to <output>/<algorithm>/D<id>.

Algorithms:
  fingerprint_removal  subtract a scaled fingerprint, scale found by bisection
                       until the CCN drops below the threshold
  median_filtering     amplify the median-filter residual until the PCE drops
  adp2                 amplify the wavelet-denoiser residual until the PCE drops

Each image is then measured (PSNR, PCE and CCN before and after) and the
metrics are stored in the database and in metrics.json next to the images.
Thresholds, iteration budgets and kernels come from the configuration file.

Examples:
  # Anonymize devices 1 to 5 with every algorithm
  prnuscan anonymize --dataset ./dataset --output ./output --devices 1-5

  # Only median filtering, four images at a time
  prnuscan anonymize -D 5 -a median_filtering -w 4

  # Stop on fingerprints estimated from a disjoint image set
  prnuscan anonymize -D 5 --eval-db-dir ./eval-db`,
		Args: cobra.NoArgs,
		RunE: runAnonymizeCmd,
	}

	addDatasetFlags(cmd)
	addOutputFlag(cmd)
	addAlgorithmsFlag(cmd)
	addDBFlag(cmd)
	cmd.Flags().String(flagEvalDBDir, "",
		"Database of independent fingerprints used for the stopping statistic")
	addWorkerFlags(cmd)
	addExtractionFlags(cmd)

	return cmd
}

// runAnonymizeCmd executes the anonymize command.
func runAnonymizeCmd(cmd *cobra.Command, _ []string) error {
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

	return runAnonymize(ctx, cfg, layout, logger, cmd.OutOrStdout())
}

// runAnonymize runs every selected algorithm over the natural images of the
// selected devices.
func runAnonymize(ctx context.Context, cfg *config.Config, layout imageio.Layout, logger *slog.Logger, out io.Writer) error {
	db, eval, closeAll, err := openFingerprints(cfg)
	if err != nil {
		return err
	}
	defer closeAll()

	ex, err := prnu.NewExtractor(
		prnu.WithLevels(cfg.Levels),
		prnu.WithSigma(cfg.Sigma),
		prnu.WithExtractorLogger(logger),
	)
	if err != nil {
		return err
	}

	settings := pipeline.Settings{
		Fingerprints: pipeline.NewFingerprintCache(db),
		Evaluation:   eval,
		Calculator: metrics.NewCalculator(
			metrics.WithPCERadius(cfg.PCERadius),
			metrics.WithCCNNeighbors(cfg.CCNNeighbors),
		),
		Sink:   db,
		Logger: logger,
	}

	for _, algorithm := range cfg.Algorithms {
		attack, err := pipeline.NewAttack(algorithm, cfg.Algorithm(algorithm), ex, logger)
		if err != nil {
			return err
		}

		jobs := buildJobs(layout, algorithm, cfg.Devices, logger)
		fmt.Fprintf(out, "Anonymizing %d images with %s (concurrency: %d)...\n\n",
			len(jobs), algorithm, cfg.Workers)
		startTime := time.Now()

		t, err := runJobs(ctx, cfg, func() *pipeline.Pipeline {
			return pipeline.AnonymizePipeline(attack, settings)
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
