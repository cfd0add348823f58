package imageio

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// Dataset subdirectories. Flat-field images estimate fingerprints, natural
// images are anonymized and measured.
const (
	FlatDir    = "flat"
	NaturalDir = "nat"

	// MetricsFile is the per-device metrics sink written next to the
	// anonymized images.
	MetricsFile = "metrics.json"
)

// extensions lists the file extensions Load can decode.
var extensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".tif":  true,
	".tiff": true,
	".bmp":  true,
	".webp": true,
}

// IsImage reports whether the file name has a decodable extension.
func IsImage(name string) bool {
	return extensions[strings.ToLower(filepath.Ext(name))]
}

// Layout maps devices and algorithms to directories:
//
//	<dataset>/D<id>/flat/*     reference images
//	<dataset>/D<id>/nat/*      natural images
//	<output>/<algorithm>/D<id>/ anonymized images and metrics.json
type Layout struct {
	Dataset string
	Output  string
}

// DeviceDir returns the directory name of a device, e.g. "D05".
func DeviceDir(device string) string { return "D" + device }

// Flat returns the flat-field directory of a device.
func (l Layout) Flat(device string) string {
	return filepath.Join(l.Dataset, DeviceDir(device), FlatDir)
}

// Natural returns the natural-image directory of a device.
func (l Layout) Natural(device string) string {
	return filepath.Join(l.Dataset, DeviceDir(device), NaturalDir)
}

// Anonymized returns the output directory of a device under an algorithm.
func (l Layout) Anonymized(algorithm, device string) string {
	return filepath.Join(l.Output, algorithm, DeviceDir(device))
}

// AnonymizedPath returns where the anonymized version of source is stored.
func (l Layout) AnonymizedPath(algorithm, device, source string) string {
	return filepath.Join(l.Anonymized(algorithm, device), filepath.Base(source))
}

// Metrics returns the metrics.json path of a device under an algorithm.
func (l Layout) Metrics(algorithm, device string) string {
	return filepath.Join(l.Anonymized(algorithm, device), MetricsFile)
}

// Devices lists the device IDs present in the dataset, sorted.
func (l Layout) Devices() ([]string, error) {
	return deviceDirs(l.Dataset)
}

// AnonymizedDevices lists the device IDs with output under algorithm, sorted.
func (l Layout) AnonymizedDevices(algorithm string) ([]string, error) {
	return deviceDirs(filepath.Join(l.Output, algorithm))
}

func deviceDirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), "D") && len(e.Name()) > 1 {
			ids = append(ids, strings.TrimPrefix(e.Name(), "D"))
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// List returns the decodable image files of dir in name order.
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() && IsImage(e.Name()) {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	slices.Sort(files)
	return files, nil
}
