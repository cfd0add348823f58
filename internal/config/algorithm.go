package config

// Algorithm names, matching the anonymize package.
const (
	AlgorithmFingerprintRemoval = "fingerprint_removal"
	AlgorithmMedianFiltering    = "median_filtering"
	AlgorithmADP2               = "adp2"
)

// Statistic names, matching the anonymize package.
const (
	StatisticPCE = "pce"
	StatisticCCN = "ccn"
)

// AlgorithmConfig holds the tunables of one anonymization algorithm.
// A zero field means "not set" and falls back to the next layer.
type AlgorithmConfig struct {
	// Statistic is the gate the attack drives below Threshold: "pce" or "ccn".
	Statistic string `yaml:"statistic,omitempty"`

	// Threshold is the statistic value under which an image counts as anonymized.
	Threshold float64 `yaml:"threshold,omitempty"`

	// MaxIterations bounds the search or the gain schedule.
	MaxIterations int `yaml:"maxIterations,omitempty"`

	// AlphaMin and AlphaMax are the initial dampening bracket
	// (fingerprint_removal only).
	AlphaMin float64 `yaml:"alphaMin,omitempty"`
	AlphaMax float64 `yaml:"alphaMax,omitempty"`

	// Kernel is the median window size (median_filtering only).
	Kernel int `yaml:"kernel,omitempty"`

	// Levels is the wavelet depth of the denoiser (adp2 only).
	Levels int `yaml:"levels,omitempty"`
}

// builtinAlgorithms are the settings of the reference experiments.
var builtinAlgorithms = map[string]AlgorithmConfig{
	AlgorithmFingerprintRemoval: {
		Statistic:     StatisticCCN,
		Threshold:     0.1,
		MaxIterations: 10,
		AlphaMin:      0.008,
		AlphaMax:      0.04,
	},
	AlgorithmMedianFiltering: {
		Statistic:     StatisticPCE,
		Threshold:     50,
		MaxIterations: 30,
		Kernel:        3,
	},
	AlgorithmADP2: {
		Statistic:     StatisticPCE,
		Threshold:     50,
		MaxIterations: 30,
		Levels:        4,
	},
}

// AlgorithmNames lists the known algorithms in display order.
func AlgorithmNames() []string {
	return []string{AlgorithmFingerprintRemoval, AlgorithmMedianFiltering, AlgorithmADP2}
}

// merge returns a copy of a with every non-zero field of o applied.
func (a AlgorithmConfig) merge(o AlgorithmConfig) AlgorithmConfig {
	if o.Statistic != "" {
		a.Statistic = o.Statistic
	}
	if o.Threshold != 0 {
		a.Threshold = o.Threshold
	}
	if o.MaxIterations != 0 {
		a.MaxIterations = o.MaxIterations
	}
	if o.AlphaMin != 0 {
		a.AlphaMin = o.AlphaMin
	}
	if o.AlphaMax != 0 {
		a.AlphaMax = o.AlphaMax
	}
	if o.Kernel != 0 {
		a.Kernel = o.Kernel
	}
	if o.Levels != 0 {
		a.Levels = o.Levels
	}
	return a
}

// Validate checks the settings of one algorithm.
func (a AlgorithmConfig) Validate() error {
	if a.AlphaMin < 0 || a.AlphaMax < a.AlphaMin {
		return ErrInvalidAlphaRange
	}
	if a.MaxIterations < 0 {
		return ErrInvalidMaxIterations
	}
	if a.Kernel != 0 && (a.Kernel < 1 || a.Kernel%2 == 0) {
		return ErrInvalidKernel
	}
	if a.Levels < 0 {
		return ErrInvalidLevels
	}
	switch a.Statistic {
	case StatisticPCE, StatisticCCN:
	default:
		return ErrUnknownStatistic
	}
	return nil
}

// File represents the structure of the .prnuscan configuration file.
type File struct {
	// Dataset overrides the dataset root.
	Dataset string `yaml:"dataset,omitempty"`

	// Output overrides the output root.
	Output string `yaml:"output,omitempty"`

	// Devices is a device list such as "1-5,8".
	Devices string `yaml:"devices,omitempty"`

	// Levels, Sigma and Workers override the global defaults when non-zero.
	Levels  int     `yaml:"levels,omitempty"`
	Sigma   float64 `yaml:"sigma,omitempty"`
	Workers int     `yaml:"workers,omitempty"`

	// DBDir overrides the database directory.
	DBDir string `yaml:"dbDir,omitempty"`

	// Algorithms maps algorithm names to their settings.
	Algorithms map[string]AlgorithmConfig `yaml:"algorithms,omitempty"`

	// Defaults contains settings applied to every algorithm
	// unless overridden in the algorithm-specific section.
	Defaults AlgorithmConfig `yaml:"defaults,omitempty"`
}

// GetAlgorithmConfig returns the file's settings for one algorithm,
// merging the algorithm section over the defaults section.
func (cf *File) GetAlgorithmConfig(name string) AlgorithmConfig {
	result := cf.Defaults
	if ac, ok := cf.Algorithms[name]; ok {
		result = result.merge(ac)
	}
	return result
}

// ApplyFile overlays the non-zero top-level values of the file onto the config.
func (c *Config) ApplyFile(cf *File) error {
	c.File = cf
	if cf.Dataset != "" {
		c.Dataset = cf.Dataset
	}
	if cf.Output != "" {
		c.Output = cf.Output
	}
	if cf.DBDir != "" {
		c.DBDir = cf.DBDir
	}
	if cf.Levels != 0 {
		c.Levels = cf.Levels
	}
	if cf.Sigma != 0 {
		c.Sigma = cf.Sigma
	}
	if cf.Workers != 0 {
		c.Workers = cf.Workers
	}
	if cf.Devices != "" {
		devices, err := ParseDeviceList(cf.Devices, c.DeviceMin, c.DeviceMax)
		if err != nil {
			return err
		}
		c.Devices = devices
	}
	return nil
}
