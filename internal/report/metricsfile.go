package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/nao1215/prnuscan/internal/model"
)

// MetricsEntry is one image in a metrics.json file.
type MetricsEntry struct {
	PSNR         float64       `json:"psnr"`
	InitialPCE   float64       `json:"initial_pce"`
	PCE          float64       `json:"pce"`
	InitialCCN   float64       `json:"initial_ccn"`
	CCN          float64       `json:"ccn"`
	Unmeasurable []string      `json:"unmeasurable,omitempty"`
	Outcome      model.Outcome `json:"outcome"`
	Iterations   int           `json:"iterations"`

	InitialStatistic float64 `json:"initial_statistic"`
	FinalStatistic   float64 `json:"final_statistic"`
}

// MetricsFile is the content of a per-device metrics.json: image base name
// to its metrics.
type MetricsFile map[string]MetricsEntry

// NewMetricsFile keys ms by file name. Later entries for the same file win.
func NewMetricsFile(ms []model.ImageMetrics) MetricsFile {
	f := make(MetricsFile, len(ms))
	for _, m := range ms {
		f[m.File] = MetricsEntry{
			PSNR:         m.PSNR,
			InitialPCE:   m.InitialPCE,
			PCE:          m.FinalPCE,
			InitialCCN:   m.InitialCCN,
			CCN:          m.FinalCCN,
			Unmeasurable: m.Unmeasurable,
			Outcome:      m.Outcome,
			Iterations:   m.Iterations,

			InitialStatistic: m.InitialStatistic,
			FinalStatistic:   m.FinalStatistic,
		}
	}
	return f
}

// Metrics expands the file back into per-image metrics of one device and
// algorithm, sorted by file name.
func (f MetricsFile) Metrics(device, algorithm string) []model.ImageMetrics {
	ms := make([]model.ImageMetrics, 0, len(f))
	for name, e := range f {
		ms = append(ms, model.ImageMetrics{
			File:         name,
			Device:       device,
			Algorithm:    algorithm,
			PSNR:         e.PSNR,
			InitialPCE:   e.InitialPCE,
			FinalPCE:     e.PCE,
			InitialCCN:   e.InitialCCN,
			FinalCCN:     e.CCN,
			Unmeasurable: e.Unmeasurable,
			Outcome:      e.Outcome,
			Iterations:   e.Iterations,

			InitialStatistic: e.InitialStatistic,
			FinalStatistic:   e.FinalStatistic,
		})
	}
	slices.SortFunc(ms, func(a, b model.ImageMetrics) int {
		return strings.Compare(a.File, b.File)
	})
	return ms
}

// WriteMetricsFile writes ms as an indented metrics.json at path,
// creating parent directories as needed.
func WriteMetricsFile(path string, ms []model.ImageMetrics) error {
	data, err := json.MarshalIndent(NewMetricsFile(ms), "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode metrics: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("failed to write metrics file: %w", err)
	}
	return nil
}

// ReadMetricsFile reads a metrics.json written by WriteMetricsFile.
func ReadMetricsFile(path string) (MetricsFile, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read metrics file: %w", err)
	}
	var f MetricsFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return f, nil
}
