package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/mdobak/go-xerrors"
	"github.com/spf13/cobra"

	"github.com/nao1215/prnuscan/internal/config"
	"github.com/nao1215/prnuscan/internal/imageio"
	plog "github.com/nao1215/prnuscan/internal/log"
)

// Flag names shared by several commands.
const (
	flagDataset         = "dataset"
	flagOutput          = "output"
	flagDevices         = "devices"
	flagAlgorithms      = "algorithms"
	flagWorkers         = "workers"
	flagTimeout         = "timeout"
	flagDBDir           = "db-dir"
	flagEvalDBDir       = "eval-db-dir"
	flagLevels          = "levels"
	flagSigma           = "sigma"
	flagEstimationSigma = "estimation-sigma"
	flagPCERadius       = "pce-radius"
	flagCCNNeighbors    = "ccn-neighbors"
	flagJSON            = "json"
	flagMarkdown        = "markdown"
	flagFile            = "file"
)

// addDatasetFlags registers the dataset root and device selection.
func addDatasetFlags(cmd *cobra.Command) {
	cmd.Flags().StringP(flagDataset, "d", config.DefaultDataset,
		"Dataset root laid out as D<id>/flat and D<id>/nat")
	cmd.Flags().StringP(flagDevices, "D", "",
		`Devices to process, e.g. "1-5,8" or "all" (default: every D<id> in the dataset)`)
}

// addOutputFlag registers the root of anonymized images.
func addOutputFlag(cmd *cobra.Command) {
	cmd.Flags().StringP(flagOutput, "o", config.DefaultOutput,
		"Root directory for anonymized images and metrics.json files")
}

// addAlgorithmsFlag registers the algorithm selection.
func addAlgorithmsFlag(cmd *cobra.Command) {
	cmd.Flags().StringSliceP(flagAlgorithms, "a", config.AlgorithmNames(),
		"Anonymization algorithms (fingerprint_removal, median_filtering, adp2)")
}

// addDBFlag registers the database directory.
func addDBFlag(cmd *cobra.Command) {
	cmd.Flags().String(flagDBDir, "",
		"Database directory (default: XDG data directory)")
}

// addWorkerFlags registers concurrency limits.
func addWorkerFlags(cmd *cobra.Command) {
	cmd.Flags().IntP(flagWorkers, "w", 0,
		"Number of images processed concurrently (default: number of CPUs)")
	cmd.Flags().DurationP(flagTimeout, "t", config.DefaultJobTimeout,
		"Processing time limit per image (0 disables the limit)")
}

// addExtractionFlags registers the residual extraction and statistic parameters.
func addExtractionFlags(cmd *cobra.Command) {
	cmd.Flags().IntP(flagLevels, "l", config.DefaultLevels,
		"Wavelet decomposition levels")
	cmd.Flags().Float64P(flagSigma, "s", config.DefaultSigma,
		"Assumed noise standard deviation for residual extraction")
	cmd.Flags().Int(flagPCERadius, config.DefaultPCERadius,
		"Half-width of the square excluded around the PCE peak")
	cmd.Flags().Int(flagCCNNeighbors, config.DefaultCCNNeighbors,
		"Number of lags excluded from the CCN background")
}

// addReportFlags registers the report format and destination.
func addReportFlags(cmd *cobra.Command) {
	cmd.Flags().BoolP(flagJSON, "j", false,
		"Output JSON report (mutually exclusive with --markdown)")
	cmd.Flags().BoolP(flagMarkdown, "m", false,
		"Output Markdown report (mutually exclusive with --json)")
	cmd.Flags().StringP(flagFile, "f", "",
		"Write report to specified file path (creates directories if needed)")
}

// getVerboseFlag retrieves the verbose flag from the command or its parent.
func getVerboseFlag(cmd *cobra.Command) bool {
	return getPersistentBool(cmd, "verbose")
}

func getPersistentBool(cmd *cobra.Command, name string) bool {
	v, err := cmd.Flags().GetBool(name)
	if err != nil {
		v, err = cmd.Root().PersistentFlags().GetBool(name)
		if err != nil {
			return false
		}
	}
	return v
}

func getPersistentString(cmd *cobra.Command, name string) string {
	v, err := cmd.Flags().GetString(name)
	if err != nil {
		v, err = cmd.Root().PersistentFlags().GetString(name)
		if err != nil {
			return ""
		}
	}
	return v
}

// buildConfig creates a Config from defaults, the configuration file, the
// environment and finally the flags the user set explicitly.
// The result is not validated.
func buildConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.NewConfig()

	if err := config.LoadEnv(""); err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", config.DefaultEnvFile, err)
	}

	// If user explicitly specified a config file path, error if not found.
	// If no path specified, silently use built-in defaults if no file found.
	cfg.ConfigFilePath = getPersistentString(cmd, "config")
	configPath := config.FindConfigFile(cfg.ConfigFilePath)
	switch {
	case configPath != "":
		file, err := config.LoadConfigFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
		if err := cfg.ApplyFile(file); err != nil {
			return nil, fmt.Errorf("config file %s: %w", configPath, err)
		}
	case cfg.ConfigFilePath != "":
		return nil, fmt.Errorf("%w: %s", config.ErrConfigNotFound, cfg.ConfigFilePath)
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}
	if err := applyFlags(cmd, cfg); err != nil {
		return nil, err
	}
	cfg.Verbose = getVerboseFlag(cmd)
	return cfg, nil
}

// applyFlags overlays the flags the user set onto cfg. Flags left at their
// defaults do not override the file or the environment.
func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	changed := func(name string) bool {
		f := flags.Lookup(name)
		return f != nil && f.Changed
	}

	var err error
	if changed(flagDataset) {
		if cfg.Dataset, err = flags.GetString(flagDataset); err != nil {
			return err
		}
	}
	if changed(flagOutput) {
		if cfg.Output, err = flags.GetString(flagOutput); err != nil {
			return err
		}
	}
	if changed(flagDevices) {
		s, err := flags.GetString(flagDevices)
		if err != nil {
			return err
		}
		if cfg.Devices, err = config.ParseDeviceList(s, cfg.DeviceMin, cfg.DeviceMax); err != nil {
			return err
		}
	}
	if changed(flagAlgorithms) {
		if cfg.Algorithms, err = flags.GetStringSlice(flagAlgorithms); err != nil {
			return err
		}
	}
	if changed(flagWorkers) {
		if cfg.Workers, err = flags.GetInt(flagWorkers); err != nil {
			return err
		}
	}
	if changed(flagTimeout) {
		if cfg.JobTimeout, err = flags.GetDuration(flagTimeout); err != nil {
			return err
		}
	}
	if changed(flagDBDir) {
		if cfg.DBDir, err = flags.GetString(flagDBDir); err != nil {
			return err
		}
	}
	if changed(flagEvalDBDir) {
		if cfg.EvalDBDir, err = flags.GetString(flagEvalDBDir); err != nil {
			return err
		}
	}
	if changed(flagLevels) {
		if cfg.Levels, err = flags.GetInt(flagLevels); err != nil {
			return err
		}
	}
	if changed(flagSigma) {
		if cfg.Sigma, err = flags.GetFloat64(flagSigma); err != nil {
			return err
		}
	}
	if changed(flagEstimationSigma) {
		if cfg.EstimationSigma, err = flags.GetFloat64(flagEstimationSigma); err != nil {
			return err
		}
	}
	if changed(flagPCERadius) {
		if cfg.PCERadius, err = flags.GetInt(flagPCERadius); err != nil {
			return err
		}
	}
	if changed(flagCCNNeighbors) {
		if cfg.CCNNeighbors, err = flags.GetInt(flagCCNNeighbors); err != nil {
			return err
		}
	}
	if changed(flagJSON) {
		if cfg.JSONReport, err = flags.GetBool(flagJSON); err != nil {
			return err
		}
	}
	if changed(flagMarkdown) {
		if cfg.MarkdownReport, err = flags.GetBool(flagMarkdown); err != nil {
			return err
		}
	}
	if changed(flagFile) {
		if cfg.ReportFile, err = flags.GetString(flagFile); err != nil {
			return err
		}
	}
	return nil
}

// resolveDevices fills cfg.Devices with the devices found in the dataset
// when none were selected.
func resolveDevices(cfg *config.Config, layout imageio.Layout) error {
	if len(cfg.Devices) > 0 {
		return nil
	}
	found, err := layout.Devices()
	if err != nil {
		return err
	}
	for _, d := range found {
		n, err := strconv.Atoi(d)
		if err != nil || n < cfg.DeviceMin || n > cfg.DeviceMax {
			continue
		}
		cfg.Devices = append(cfg.Devices, config.FormatDevice(n))
	}
	return nil
}

// setupLogger creates a structured logger based on the verbose and
// log-json flags. Logs go to the command's error stream.
func setupLogger(cmd *cobra.Command) *slog.Logger {
	verbose := getVerboseFlag(cmd)
	if getPersistentBool(cmd, "log-json") {
		return plog.NewJSONLogger(cmd.ErrOrStderr(), verbose)
	}
	return plog.NewLogger(cmd.ErrOrStderr(), verbose)
}

// logFailure logs err with a stack trace attached.
func logFailure(logger *slog.Logger, msg string, err error, attrs ...any) {
	attrs = append(attrs, slog.Any("error", xerrors.New(err)))
	logger.Error(msg, attrs...)
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context, logger *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			logger.Info("received shutdown signal, cancelling...")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigCh)
		cancel()
	}
}

// openOutput returns the report destination: path when set, otherwise
// fallback. The returned close function must always be called.
func openOutput(path string, fallback io.Writer) (io.Writer, func() error, error) {
	if path == "" {
		return fallback, func() error { return nil }, nil
	}

	// Create directories if they don't exist
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	// Reports name devices and files, keep them owner-readable only
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600) //nolint:gosec // User-provided report path is intentional
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return f, f.Close, nil
}
