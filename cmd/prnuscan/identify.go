package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nao1215/prnuscan/internal/config"
	"github.com/nao1215/prnuscan/internal/correlation"
	"github.com/nao1215/prnuscan/internal/database"
	"github.com/nao1215/prnuscan/internal/detection"
	"github.com/nao1215/prnuscan/internal/imageio"
	"github.com/nao1215/prnuscan/internal/model"
	"github.com/nao1215/prnuscan/internal/prnu"
	"github.com/nao1215/prnuscan/internal/report"
)

// errNoFingerprints is returned when the database holds no fingerprint to
// identify against.
var errNoFingerprints = errors.New("no fingerprints in the database (run estimate first)")

// NewIdentifyCmd creates the identify command.
func NewIdentifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identify",
		Short: "Attribute images to the device whose fingerprint matches best",
		Long: `Identify extracts the noise residual of every image of the selected devices
and computes its PCE against every stored fingerprint. The image is
attributed to the device with the highest positive PCE. The zero-lag
normalized correlation (NCC) with the source fingerprint and with the other
fingerprints is summarized as well.

By default the natural images are identified. With --algorithm the
anonymized images of that algorithm are identified instead, which shows how
well anonymization hides the source device.

Results are stored in the database and summarized by the report command.

Examples:
  # Identify the natural images of devices 1 to 5
  prnuscan identify --dataset ./dataset --devices 1-5

  # Check whether ADP2 output can still be attributed
  prnuscan identify -D 1-5 --algorithm adp2 --output ./output`,
		Args: cobra.NoArgs,
		RunE: runIdentifyCmd,
	}

	addDatasetFlags(cmd)
	addOutputFlag(cmd)
	addDBFlag(cmd)
	cmd.Flags().String("algorithm", "",
		"Identify the anonymized images of this algorithm instead of the originals")
	cmd.Flags().IntP(flagWorkers, "w", 0,
		"Number of images processed concurrently (default: number of CPUs)")
	addExtractionFlags(cmd)

	return cmd
}

// runIdentifyCmd executes the identify command.
func runIdentifyCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}
	algorithm, err := cmd.Flags().GetString("algorithm")
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

	return runIdentify(ctx, cfg, layout, algorithm, logger, cmd.OutOrStdout())
}

// identifyItem is one image to attribute.
type identifyItem struct {
	device string
	path   string
	// key is the file name stored with the result.
	key string
	// original is the source image of an anonymized file, whose EXIF
	// orientation turns the upright output back into sensor order.
	original string
}

// identifyItems lists the images of every device, original or anonymized.
func identifyItems(layout imageio.Layout, algorithm string, devices []string, logger *slog.Logger) []identifyItem {
	var items []identifyItem
	for _, device := range devices {
		dir := layout.Natural(device)
		if algorithm != "" {
			dir = layout.Anonymized(algorithm, device)
		}
		files, err := imageio.List(dir)
		if err != nil {
			logFailure(logger, "failed to list images", err, "device", device)
			continue
		}
		for _, f := range files {
			it := identifyItem{device: device, path: f, key: filepath.Base(f)}
			if algorithm != "" {
				it.key = algorithm + "/" + it.key
				it.original = filepath.Join(layout.Natural(device), filepath.Base(f))
			}
			items = append(items, it)
		}
	}
	return items
}

// runIdentify attributes every image and stores the results.
func runIdentify(ctx context.Context, cfg *config.Config, layout imageio.Layout, algorithm string, logger *slog.Logger, out io.Writer) error {
	db, err := database.Open(cfg.DBDir, database.DefaultOptions())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	fps, err := loadAllFingerprints(ctx, db)
	if err != nil {
		return err
	}

	ex, err := prnu.NewExtractor(
		prnu.WithLevels(cfg.Levels),
		prnu.WithSigma(cfg.Sigma),
		prnu.WithExtractorLogger(logger),
	)
	if err != nil {
		return err
	}

	items := identifyItems(layout, algorithm, cfg.Devices, logger)
	fmt.Fprintf(out, "Identifying %d images against %d fingerprints...\n\n", len(items), len(fps))

	results := make([]*detection.Attribution, len(items))
	nccs := make([][]float64, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for i, it := range items {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			img, _, err := imageio.Load(it.path)
			if err != nil {
				logFailure(logger, "failed to load image", err, "file", it.key)
				return nil
			}
			arr := img.ToArray()
			if it.original != "" {
				arr = imageio.ToSensor(arr, sourceOrientation(it.original))
			}
			residual, err := ex.ExtractSingle(arr)
			if err != nil {
				logFailure(logger, "failed to extract residual", err, "file", it.key)
				return nil
			}
			results[i] = detection.Identify(residual, fps, cfg.PCERadius)
			if nccs[i], err = alignedNCC(residual, fps); err != nil {
				logFailure(logger, "failed to correlate residual", err, "file", it.key)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	attrs := make([]report.Attribution, 0, len(items))
	var source, others nccMean
	for i, it := range items {
		for j, v := range nccs[i] {
			if fps[j].Device == it.device {
				source.add(v)
			} else {
				others.add(v)
			}
		}

		res := results[i]
		if res == nil {
			continue
		}
		rec := &database.AttributionRecord{
			File:       it.key,
			TrueDevice: it.device,
			Predicted:  res.Device,
			PCE:        res.PCE,
		}
		if err := db.SaveAttribution(ctx, rec); err != nil {
			return err
		}
		attrs = append(attrs, report.Attribution{TrueDevice: it.device, Predicted: res.Device})

		predicted := "none"
		if res.Device != "" {
			predicted = "D" + res.Device
		}
		mark := " "
		if rec.Correct() {
			mark = "+"
		}
		fmt.Fprintf(out, "[%s] D%s %s -> %s (PCE %.2f)\n", mark, it.device, it.key, predicted, res.PCE)
	}

	id := report.NewIdentification(attrs)
	fmt.Fprintf(out, "\n%d of %d images attributed correctly (%.1f%%), %d unattributed\n",
		id.Correct, id.Total, 100*id.Accuracy(), id.Unattributed)
	fmt.Fprintf(out, "Mean zero-lag NCC: %.4f with the source fingerprint, %.4f with other fingerprints\n",
		source.value(), others.value())
	return nil
}

// sourceOrientation returns the EXIF orientation of the image at path,
// 0 when it cannot be read.
func sourceOrientation(path string) int {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return 0
	}
	return imageio.ReadMetadata(data).Orientation
}

// alignedNCC returns the zero-lag NCC of residual with every fingerprint.
// Fingerprints of another size get NaN.
func alignedNCC(residual *model.Array, fps []*model.Fingerprint) ([]float64, error) {
	out := make([]float64, len(fps))
	var ks []*model.Array
	var idx []int
	for i, fp := range fps {
		out[i] = math.NaN()
		if fp.Matches(residual.H, residual.W) {
			ks = append(ks, fp.K)
			idx = append(idx, i)
		}
	}
	if len(ks) == 0 {
		return out, nil
	}
	m, err := correlation.Aligned([]*model.Array{residual}, ks)
	if err != nil {
		return nil, err
	}
	for j, i := range idx {
		out[i] = m.NCC[0][j]
	}
	return out, nil
}

// nccMean averages the finite NCC values it is given.
type nccMean struct {
	sum float64
	n   int
}

func (m *nccMean) add(v float64) {
	if math.IsNaN(v) {
		return
	}
	m.sum += v
	m.n++
}

// value returns the mean, or NaN when nothing was added.
func (m *nccMean) value() float64 {
	if m.n == 0 {
		return math.NaN()
	}
	return m.sum / float64(m.n)
}

// loadAllFingerprints loads every stored fingerprint.
func loadAllFingerprints(ctx context.Context, db *database.DB) ([]*model.Fingerprint, error) {
	list, err := db.ListFingerprints(ctx)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, errNoFingerprints
	}
	fps := make([]*model.Fingerprint, 0, len(list))
	for _, m := range list {
		fp, err := db.LoadFingerprint(ctx, m.Device)
		if err != nil {
			return nil, err
		}
		fps = append(fps, fp)
	}
	return fps, nil
}
