package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/nao1215/prnuscan/internal/config"
	"github.com/nao1215/prnuscan/internal/database"
	"github.com/nao1215/prnuscan/internal/imageio"
	"github.com/nao1215/prnuscan/internal/model"
	"github.com/nao1215/prnuscan/internal/prnu"
)

// errNoFingerprint is returned when no selected device produced a fingerprint.
var errNoFingerprint = errors.New("no fingerprint could be estimated")

// NewEstimateCmd creates the estimate command.
func NewEstimateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Estimate device fingerprints from flat-field images",
		Long: `Estimate computes the PRNU fingerprint of each selected device from the
images in <dataset>/D<id>/flat and stores it in the database, replacing any
earlier fingerprint of the same device.

Images that fail to decode, have a different size than the first usable
image of the device, or are too small to decompose are skipped and counted.

Examples:
  # Estimate fingerprints of devices 1 to 5
  prnuscan estimate --dataset ./dataset --devices 1-5

  # Use more wavelet levels and eight workers
  prnuscan estimate -d ./dataset -D all --levels 5 --workers 8`,
		Args: cobra.NoArgs,
		RunE: runEstimateCmd,
	}

	addDatasetFlags(cmd)
	addDBFlag(cmd)
	cmd.Flags().IntP(flagWorkers, "w", 0,
		"Number of concurrent extraction workers (default: number of CPUs)")
	cmd.Flags().IntP(flagLevels, "l", config.DefaultLevels,
		"Wavelet decomposition levels")
	cmd.Flags().Float64(flagEstimationSigma, config.DefaultEstimationSigma,
		"Assumed noise standard deviation of flat-field images")

	return cmd
}

// runEstimateCmd executes the estimate command.
func runEstimateCmd(cmd *cobra.Command, _ []string) error {
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

	return runEstimate(ctx, cfg, layout, logger, cmd.OutOrStdout())
}

// runEstimate estimates and stores the fingerprint of every selected device.
// A device that fails is logged and skipped; the command fails only when
// every device failed or the context was cancelled.
func runEstimate(ctx context.Context, cfg *config.Config, layout imageio.Layout, logger *slog.Logger, out io.Writer) error {
	db, err := database.Open(cfg.DBDir, database.DefaultOptions())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	ex, err := prnu.NewExtractor(
		prnu.WithLevels(cfg.Levels),
		prnu.WithSigma(cfg.EstimationSigma),
		prnu.WithExtractorLogger(logger),
	)
	if err != nil {
		return err
	}
	agg := prnu.NewAggregator(ex,
		prnu.WithWorkers(cfg.Workers),
		prnu.WithAggregatorLogger(logger),
	)

	estimated := 0
	for _, device := range cfg.Devices {
		if err := ctx.Err(); err != nil {
			return err
		}

		files, err := imageio.List(layout.Flat(device))
		if err != nil {
			logFailure(logger, "failed to list flat-field images", err, "device", device)
			continue
		}

		fmt.Fprintf(out, "Estimating D%s from %d images...\n", device, len(files))
		fp, report, err := agg.Estimate(ctx, device, len(files), fileLoader(files))
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			logFailure(logger, "fingerprint estimation failed", err, "device", device)
			continue
		}
		for _, s := range report.Skipped {
			logger.Debug("flat-field image skipped",
				"device", device,
				"file", files[s.Index],
				"reason", s.Err.Error(),
			)
		}

		if err := db.SaveFingerprint(ctx, fp); err != nil {
			return err
		}
		estimated++
		fmt.Fprintf(out, "D%s: %dx%d fingerprint from %d images (%d skipped) in %s\n",
			device, fp.Width(), fp.Height(), report.Used, len(report.Skipped),
			report.Duration.Round(time.Millisecond))
	}

	if estimated == 0 {
		return errNoFingerprint
	}
	fmt.Fprintf(out, "\nStored %d of %d fingerprints in %s\n", estimated, len(cfg.Devices), db.Path())
	return nil
}

// fileLoader adapts a file list to prnu.Loader. Images with an orientation
// that would rotate the sensor grid are rejected.
func fileLoader(files []string) prnu.Loader {
	return func(_ context.Context, i int) (*model.Image, error) {
		img, _, err := imageio.Load(files[i])
		if err != nil {
			return nil, err
		}
		return img, nil
	}
}
