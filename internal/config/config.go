package config

import (
	"path/filepath"
	"runtime"
	"time"

	"github.com/adrg/xdg"
)

// Default configuration values.
const (
	// AppName is the application name used for XDG directory paths.
	AppName = "prnuscan"

	// DefaultDataset is the dataset root, laid out as D<id>/flat and D<id>/nat.
	DefaultDataset = "dataset"

	// DefaultOutput is the root anonymized images are written under,
	// one directory per algorithm and device.
	DefaultOutput = "output"

	// DefaultLevels is the wavelet decomposition depth for residual extraction.
	DefaultLevels = 4

	// DefaultSigma is the noise standard deviation assumed when extracting
	// residuals for detection and anonymization.
	DefaultSigma = 5.0

	// DefaultEstimationSigma is the noise standard deviation assumed when
	// extracting residuals of flat-field images for fingerprint estimation.
	DefaultEstimationSigma = 3.0

	// DefaultPCERadius is the half-width of the square excluded around the
	// correlation peak.
	DefaultPCERadius = 2

	// DefaultCCNNeighbors is the number of lags after zero excluded from the
	// CCN background.
	DefaultCCNNeighbors = 30

	// DefaultDeviceMin and DefaultDeviceMax bound device IDs accepted by
	// ParseDeviceList. The VISION dataset numbers its cameras 1 to 35.
	DefaultDeviceMin = 1
	DefaultDeviceMax = 35

	// DefaultJobTimeout bounds one image's trip through a pipeline.
	// Zero disables the limit.
	DefaultJobTimeout = 10 * time.Minute
)

// Config holds all configuration options for prnuscan.
// It is built with NewConfig, overlaid with the YAML file (ApplyFile), the
// environment (ApplyEnv) and finally CLI flags, then checked by Validate.
type Config struct {
	// Dataset is the dataset root directory.
	Dataset string

	// Output is the root directory for anonymized images and metrics.json files.
	Output string

	// Devices is the list of zero-padded device IDs to process.
	Devices []string

	// DeviceMin and DeviceMax bound the IDs accepted in device lists.
	DeviceMin int
	DeviceMax int

	// Algorithms is the list of anonymization algorithms to run or measure.
	Algorithms []string

	// Levels is the wavelet decomposition depth.
	Levels int

	// Sigma is the noise standard deviation for detection-time extraction.
	Sigma float64

	// EstimationSigma is the noise standard deviation for fingerprint estimation.
	EstimationSigma float64

	// PCERadius is the PCE peak neighborhood radius.
	PCERadius int

	// CCNNeighbors is the number of lags excluded from the CCN background.
	CCNNeighbors int

	// Workers is the number of images processed concurrently.
	Workers int

	// JobTimeout bounds the processing time of one image. Zero means no limit.
	JobTimeout time.Duration

	// Verbose enables detailed log output using slog.LevelDebug.
	// When false, only warnings and errors are logged.
	Verbose bool

	// ConfigFilePath is the path to the configuration file.
	// If empty, the tool searches for .prnuscan in the current directory
	// and then in the user's home directory.
	ConfigFilePath string

	// File holds the configuration file contents, including per-algorithm
	// settings. Nil when no file was found.
	File *File

	// JSONReport selects JSON output for reports. Mutually exclusive with
	// MarkdownReport.
	JSONReport bool

	// MarkdownReport selects Markdown output for reports. Mutually exclusive
	// with JSONReport.
	MarkdownReport bool

	// ReportFile is the output file path for the report.
	// When empty, the report is written to stdout.
	ReportFile string

	// DBDir is the directory of the SQLite database holding fingerprints and
	// metrics. Defaults to the XDG data directory.
	DBDir string

	// EvalDBDir, when set, is a second database whose fingerprints were
	// estimated from a disjoint image set. Anonymization then evaluates its
	// stopping statistic against those instead of the driving fingerprint.
	EvalDBDir string
}

// NewConfig creates a new Config with default values.
func NewConfig() *Config {
	return &Config{
		Dataset:         DefaultDataset,
		Output:          DefaultOutput,
		DeviceMin:       DefaultDeviceMin,
		DeviceMax:       DefaultDeviceMax,
		Algorithms:      AlgorithmNames(),
		Levels:          DefaultLevels,
		Sigma:           DefaultSigma,
		EstimationSigma: DefaultEstimationSigma,
		PCERadius:       DefaultPCERadius,
		CCNNeighbors:    DefaultCCNNeighbors,
		Workers:         runtime.NumCPU(),
		JobTimeout:      DefaultJobTimeout,
		DBDir:           XDGDataDir(),
	}
}

// XDGDataDir returns the XDG data directory for prnuscan.
// On Linux: ~/.local/share/prnuscan
// On macOS: ~/Library/Application Support/prnuscan
// On Windows: %LOCALAPPDATA%\prnuscan
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the XDG config directory for prnuscan.
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// Algorithm returns the effective settings of one algorithm: built-in
// defaults, overridden by the file's defaults section, overridden by the
// file's section for that algorithm.
func (c *Config) Algorithm(name string) AlgorithmConfig {
	base := builtinAlgorithms[name]
	if c.File == nil {
		return base
	}
	return base.merge(c.File.GetAlgorithmConfig(name))
}

// Validate checks if the configuration is valid and returns the first
// violated rule.
func (c *Config) Validate() error {
	if c.Dataset == "" {
		return ErrNoDataset
	}
	if len(c.Devices) == 0 {
		return ErrNoDevices
	}
	if c.Levels < 1 {
		return ErrInvalidLevels
	}
	if c.Sigma <= 0 || c.EstimationSigma <= 0 {
		return ErrInvalidSigma
	}
	if c.PCERadius < 0 {
		return ErrInvalidPCERadius
	}
	if c.CCNNeighbors < 0 {
		return ErrInvalidCCNNeighbors
	}
	if c.Workers <= 0 {
		return ErrInvalidWorkers
	}
	if c.JobTimeout < 0 {
		return ErrInvalidTimeout
	}
	if c.JSONReport && c.MarkdownReport {
		return ErrConflictingReportFormats
	}
	for _, name := range c.Algorithms {
		if _, ok := builtinAlgorithms[name]; !ok {
			return ErrUnknownAlgorithm
		}
		if err := c.Algorithm(name).Validate(); err != nil {
			return err
		}
	}
	return nil
}
