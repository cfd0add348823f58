package metrics

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/nao1215/prnuscan/internal/detection"
	"github.com/nao1215/prnuscan/internal/model"
)

// IdenticalPSNR is reported when two images are identical, in place of +Inf
// so the value survives JSON encoding.
const IdenticalPSNR = 9999999

// Statistic names recorded in ImageMetrics.Unmeasurable.
const (
	InitialPCE = "initial_pce"
	FinalPCE   = "pce"
	InitialCCN = "initial_ccn"
	FinalCCN   = "ccn"
)

// PSNR returns the peak signal-to-noise ratio in dB of b against a, both in
// the 0..255 domain.
func PSNR(a, b *model.Array) (float64, error) {
	if !a.SameShape(b) {
		return 0, fmt.Errorf("%w: %v vs %v", model.ErrShapeMismatch, a.Shape(), b.Shape())
	}
	var sq float64
	for c, p := range a.Planes {
		d := floats.Distance(p, b.Planes[c], 2)
		sq += d * d
	}
	if sq == 0 {
		return IdenticalPSNR, nil
	}
	mse := sq / float64(a.Size())
	return 10 * math.Log10(255*255/mse), nil
}

// Calculator measures (original, anonymized) image pairs against a device
// fingerprint.
type Calculator struct {
	radius    int
	neighbors int
}

// Option configures a Calculator.
type Option func(*Calculator)

// WithPCERadius sets the PCE peak neighborhood radius.
func WithPCERadius(r int) Option {
	return func(c *Calculator) { c.radius = r }
}

// WithCCNNeighbors sets the number of lags excluded from the CCN background.
func WithCCNNeighbors(n int) Option {
	return func(c *Calculator) { c.neighbors = n }
}

// NewCalculator creates a Calculator with the detection defaults.
func NewCalculator(opts ...Option) *Calculator {
	c := &Calculator{
		radius:    detection.DefaultPCERadius,
		neighbors: detection.DefaultCCNNeighbors,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Measure computes PSNR, PCE and CCN for one pair. Unmeasurable statistics
// are left at zero and listed in Unmeasurable; other failures are returned.
func (c *Calculator) Measure(original, anonymized, k *model.Array) (*model.ImageMetrics, error) {
	if !original.SameShape(anonymized) {
		return nil, fmt.Errorf("%w: original %v, anonymized %v",
			model.ErrShapeMismatch, original.Shape(), anonymized.Shape())
	}
	if k.H != original.H || k.W != original.W {
		return nil, fmt.Errorf("%w: fingerprint %dx%d, image %dx%d",
			model.ErrShapeMismatch, k.H, k.W, original.H, original.W)
	}

	m := &model.ImageMetrics{MeasuredAt: time.Now()}
	psnr, err := PSNR(original, anonymized)
	if err != nil {
		return nil, err
	}
	m.PSNR = psnr

	broadcast, err := k.Broadcast(original.Channels())
	if err != nil {
		return nil, err
	}

	steps := []struct {
		name string
		dst  *float64
		run  func() (float64, error)
	}{
		{InitialPCE, &m.InitialPCE, func() (float64, error) { return c.pce(original, k) }},
		{FinalPCE, &m.FinalPCE, func() (float64, error) { return c.pce(anonymized, k) }},
		{InitialCCN, &m.InitialCCN, func() (float64, error) { return detection.CCNOf(original, broadcast, c.neighbors) }},
		{FinalCCN, &m.FinalCCN, func() (float64, error) { return detection.CCNOf(anonymized, broadcast, c.neighbors) }},
	}
	for _, s := range steps {
		v, err := s.run()
		switch {
		case errors.Is(err, detection.ErrUnmeasurable):
			m.Unmeasurable = append(m.Unmeasurable, s.name)
		case err != nil:
			return nil, fmt.Errorf("%s: %w", s.name, err)
		default:
			*s.dst = v
		}
	}
	return m, nil
}

func (c *Calculator) pce(img, k *model.Array) (float64, error) {
	res, err := detection.PCEOf(img, k, c.radius)
	if err != nil {
		return 0, err
	}
	return res.Value, nil
}
