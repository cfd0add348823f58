package prnu

import "errors"

var (
	// ErrDecomposition is returned when an image cannot be decomposed even at a
	// single wavelet level. The image must be skipped.
	ErrDecomposition = errors.New("wavelet decomposition impossible")

	// ErrUnsupportedChannels is returned when a color conversion receives
	// something other than 1 or 3 channels.
	ErrUnsupportedChannels = errors.New("input must have 1 or 3 channels")

	// ErrNoUsableImages is returned when aggregation finishes without a single
	// image passing the size and decomposition checks.
	ErrNoUsableImages = errors.New("no usable images for fingerprint estimation")

	// ErrInvalidLevels is returned when fewer than one decomposition level is requested.
	ErrInvalidLevels = errors.New("levels must be at least 1")
)
