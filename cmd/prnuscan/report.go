package main

import (
	"context"
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	"github.com/nao1215/prnuscan/internal/config"
	"github.com/nao1215/prnuscan/internal/database"
	"github.com/nao1215/prnuscan/internal/imageio"
	"github.com/nao1215/prnuscan/internal/model"
	"github.com/nao1215/prnuscan/internal/report"
)

// NewReportCmd creates the report command.
func NewReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarize anonymization metrics and identification results",
		Long: `Report summarizes the stored metrics: outcomes per algorithm, per-device
averages of PSNR, PCE and CCN, how often each algorithm beats the others,
and the accuracy of source identification.

Metrics are read from the database, or with --from-files from the
metrics.json files under --output. When --file is given the report is
written there and a plain summary is still printed to the terminal.

Examples:
  # Human-readable report of everything in the database
  prnuscan report

  # Markdown report of two devices written to a file
  prnuscan report --markdown -D 5,12 -f report.md

  # JSON report built from metrics.json files
  prnuscan report --json --from-files --output ./output`,
		Args: cobra.NoArgs,
		RunE: runReportCmd,
	}

	cmd.Flags().StringP(flagDevices, "D", "",
		`Devices to include, e.g. "1-5,8" (default: all)`)
	addOutputFlag(cmd)
	addAlgorithmsFlag(cmd)
	addDBFlag(cmd)
	cmd.Flags().Bool("from-files", false,
		"Read metrics.json files under --output instead of the database")
	addReportFlags(cmd)

	return cmd
}

// runReportCmd executes the report command.
func runReportCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.JSONReport && cfg.MarkdownReport {
		return fmt.Errorf("configuration error: %w", config.ErrConflictingReportFormats)
	}
	fromFiles, err := cmd.Flags().GetBool("from-files")
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var ms []model.ImageMetrics
	var attrs []report.Attribution
	if fromFiles {
		ms, err = metricsFromFiles(cfg)
		if err != nil {
			return err
		}
	} else {
		ms, attrs, err = metricsFromDB(ctx, cfg)
		if err != nil {
			return err
		}
	}

	output, closeOutput, err := openOutput(cfg.ReportFile, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer closeOutput()

	_, err = newReportWriter(cmd, cfg, output).Write(report.NewSummary(ms, attrs))
	return err
}

// newReportWriter picks the writer for the requested format. A report
// written to a file is paired with a terminal summary.
func newReportWriter(cmd *cobra.Command, cfg *config.Config, output io.Writer) report.Writer {
	var w report.Writer
	switch {
	case cfg.JSONReport:
		w = report.NewJSONWriter(output, report.WithPrettyPrint(), report.WithVersion(getVersion()))
	case cfg.MarkdownReport:
		w = report.NewMarkdownWriter(output)
	default:
		opts := []report.SimpleWriterOption{report.WithVerbose(getVerboseFlag(cmd))}
		if cfg.ReportFile != "" {
			opts = append(opts, report.WithColor(false))
		}
		w = report.NewSimpleWriter(output, opts...)
	}
	if cfg.ReportFile == "" {
		return w
	}
	return report.NewMultiWriter(w, report.NewSimpleWriter(cmd.OutOrStdout()))
}

// selected reports whether device passes the --devices filter.
func selected(cfg *config.Config, device string) bool {
	return len(cfg.Devices) == 0 || slices.Contains(cfg.Devices, device)
}

// metricsFromDB reads metrics and attributions of the selected algorithms
// and devices from the database.
func metricsFromDB(ctx context.Context, cfg *config.Config) ([]model.ImageMetrics, []report.Attribution, error) {
	opts := database.DefaultOptions()
	opts.CreateIfNotExists = false
	db, err := database.Open(cfg.DBDir, opts)
	if err != nil {
		return nil, nil, err
	}
	defer db.Close()

	groups, err := db.ListMetricsGroups(ctx)
	if err != nil {
		return nil, nil, err
	}
	var ms []model.ImageMetrics
	for _, g := range groups {
		if !slices.Contains(cfg.Algorithms, g.Algorithm) || !selected(cfg, g.Device) {
			continue
		}
		group, err := db.QueryMetrics(ctx, g.Algorithm, g.Device)
		if err != nil {
			return nil, nil, err
		}
		ms = append(ms, group...)
	}

	records, err := db.QueryAttributions(ctx, "")
	if err != nil {
		return nil, nil, err
	}
	var attrs []report.Attribution
	for _, r := range records {
		if selected(cfg, r.TrueDevice) {
			attrs = append(attrs, report.Attribution{TrueDevice: r.TrueDevice, Predicted: r.Predicted})
		}
	}
	return ms, attrs, nil
}

// metricsFromFiles reads the metrics.json files of the selected algorithms
// and devices. Algorithms without output are ignored.
func metricsFromFiles(cfg *config.Config) ([]model.ImageMetrics, error) {
	layout := imageio.Layout{Output: cfg.Output}
	var ms []model.ImageMetrics
	for _, algorithm := range cfg.Algorithms {
		devices, err := layout.AnonymizedDevices(algorithm)
		if err != nil {
			continue
		}
		for _, device := range devices {
			if !selected(cfg, device) {
				continue
			}
			f, err := report.ReadMetricsFile(layout.Metrics(algorithm, device))
			if err != nil {
				continue
			}
			ms = append(ms, f.Metrics(device, algorithm)...)
		}
	}
	return ms, nil
}
