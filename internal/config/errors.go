package config

import "errors"

// Configuration validation errors.
// These errors are returned by Config.Validate() and AlgorithmConfig.Validate()
// and can be matched with errors.Is().
var (
	// ErrNoDataset is returned when the dataset directory is empty.
	ErrNoDataset = errors.New("no dataset specified: use --dataset or PRNUSCAN_DATASET")

	// ErrNoDevices is returned when the device list selects nothing.
	ErrNoDevices = errors.New("no devices selected: use --devices, e.g. 1-5,8")

	// ErrInvalidDeviceList is returned when a device list cannot be parsed.
	ErrInvalidDeviceList = errors.New("invalid device list")

	// ErrInvalidLevels is returned when the wavelet depth is below one.
	ErrInvalidLevels = errors.New("invalid wavelet levels: must be at least 1")

	// ErrInvalidSigma is returned when a noise standard deviation is not positive.
	ErrInvalidSigma = errors.New("invalid sigma: must be positive")

	// ErrInvalidPCERadius is returned when the PCE radius is negative.
	ErrInvalidPCERadius = errors.New("invalid PCE radius: must be non-negative")

	// ErrInvalidCCNNeighbors is returned when the CCN neighborhood is negative.
	ErrInvalidCCNNeighbors = errors.New("invalid CCN neighbors: must be non-negative")

	// ErrInvalidWorkers is returned when the worker count is not positive.
	ErrInvalidWorkers = errors.New("invalid worker count: must be positive")

	// ErrInvalidTimeout is returned when the job timeout is negative.
	ErrInvalidTimeout = errors.New("invalid job timeout: must be non-negative")

	// ErrConflictingReportFormats is returned when both --json and --markdown
	// are specified.
	ErrConflictingReportFormats = errors.New("conflicting report formats: --json and --markdown cannot be used together")

	// ErrUnknownAlgorithm is returned for an algorithm name with no settings.
	ErrUnknownAlgorithm = errors.New("unknown algorithm: use fingerprint_removal, median_filtering or adp2")

	// ErrInvalidAlphaRange is returned when 0 <= alphaMin <= alphaMax does not hold.
	ErrInvalidAlphaRange = errors.New("invalid alpha range: need 0 <= alphaMin <= alphaMax")

	// ErrInvalidMaxIterations is returned when the iteration budget is negative.
	ErrInvalidMaxIterations = errors.New("invalid max iterations: must be non-negative")

	// ErrInvalidKernel is returned when the median kernel is not odd and positive.
	ErrInvalidKernel = errors.New("invalid median kernel: must be odd and positive")

	// ErrUnknownStatistic is returned for a statistic other than pce or ccn.
	ErrUnknownStatistic = errors.New("unknown statistic: use pce or ccn")
)
