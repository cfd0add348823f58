package prnu

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/nao1215/prnuscan/internal/model"
	"github.com/nao1215/prnuscan/internal/wavelet"
)

const (
	// DefaultLevels is the default wavelet decomposition depth.
	DefaultLevels = 4

	// DefaultSigma is the default assumed noise standard deviation, on the 0..255 scale.
	DefaultSigma = 5.0
)

// Extractor computes noise residuals.
// The zero value is not usable; create one with NewExtractor.
type Extractor struct {
	levels int
	sigma  float64

	// wdftSigma overrides the spectral Wiener sigma of ExtractSingle when positive.
	wdftSigma float64
	logger    *slog.Logger
}

// ExtractorOption configures an Extractor.
type ExtractorOption func(*Extractor)

// WithLevels sets the requested decomposition depth.
// The depth is reduced per image when the image is too small.
func WithLevels(levels int) ExtractorOption {
	return func(e *Extractor) { e.levels = levels }
}

// WithSigma sets the assumed noise standard deviation.
func WithSigma(sigma float64) ExtractorOption {
	return func(e *Extractor) { e.sigma = sigma }
}

// WithWienerSigma fixes the sigma of the final spectral Wiener stage of
// ExtractSingle instead of using the residual's own standard deviation.
func WithWienerSigma(sigma float64) ExtractorOption {
	return func(e *Extractor) { e.wdftSigma = sigma }
}

// WithExtractorLogger sets the logger used to report level reductions.
func WithExtractorLogger(logger *slog.Logger) ExtractorOption {
	return func(e *Extractor) { e.logger = logger }
}

// NewExtractor creates an Extractor with DefaultLevels and DefaultSigma.
func NewExtractor(opts ...ExtractorOption) (*Extractor, error) {
	e := &Extractor{
		levels: DefaultLevels,
		sigma:  DefaultSigma,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.levels < 1 {
		return nil, ErrInvalidLevels
	}
	return e, nil
}

// Levels returns the requested decomposition depth.
func (e *Extractor) Levels() int { return e.levels }

// Sigma returns the assumed noise standard deviation.
func (e *Extractor) Sigma() float64 { return e.sigma }

// NoiseExtract returns the high-frequency residual of a. The output has the
// same shape as a. Each channel is decomposed independently; the depth is
// lowered until the decomposition is feasible, and ErrDecomposition is
// returned if not even one level fits.
func (e *Extractor) NoiseExtract(a *model.Array) (*model.Array, error) {
	var out *model.Array
	if a.Rank() == 2 {
		out = model.NewArray2D(a.H, a.W)
	} else {
		out = model.NewArray3D(a.H, a.W, a.Channels())
	}
	noiseVar := e.sigma * e.sigma

	for c, plane := range a.Planes {
		d, err := e.decompose(plane, a.H, a.W)
		if err != nil {
			return nil, err
		}
		for l := range d.Levels {
			for _, b := range d.Levels[l].Bands() {
				WienerAdaptive(b.Data, b.H, b.W, noiseVar)
			}
		}
		clear(d.Approx.Data)
		copy(out.Planes[c], d.Reconstruct())
	}
	return out, nil
}

// NoiseExtractImage is NoiseExtract for an 8-bit image.
func (e *Extractor) NoiseExtractImage(img *model.Image) (*model.Array, error) {
	return e.NoiseExtract(img.ToArray())
}

func (e *Extractor) decompose(plane []float64, h, w int) (*wavelet.Decomposition, error) {
	for levels := e.levels; levels > 0; levels-- {
		d, err := wavelet.Decompose(plane, h, w, levels)
		if err == nil {
			if levels != e.levels {
				e.logger.Debug("reduced wavelet levels",
					slog.Int("requested", e.levels),
					slog.Int("used", levels),
					slog.Int("height", h),
					slog.Int("width", w))
			}
			return d, nil
		}
		if !errors.Is(err, wavelet.ErrLevelInfeasible) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %dx%d", ErrDecomposition, h, w)
}

// ExtractSingle returns the single-image fingerprint estimate: the residual
// collapsed to gray, zero-meaned per sampling phase, and spectrally Wiener
// filtered. The result is a rank-2 array.
func (e *Extractor) ExtractSingle(a *model.Array) (*model.Array, error) {
	w, err := e.NoiseExtract(a)
	if err != nil {
		return nil, err
	}
	gray, err := RGB2Gray(w)
	if err != nil {
		return nil, err
	}
	gray = ZeroMeanTotal(gray)
	sigma := e.wdftSigma
	if sigma <= 0 {
		sigma = gray.Std()
	}
	return WienerDFT(gray, sigma)
}
