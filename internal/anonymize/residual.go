package anonymize

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/nao1215/prnuscan/internal/model"
	"github.com/nao1215/prnuscan/internal/wavelet"
)

// Residual attack defaults. The threshold is on the PCE scale.
const (
	DefaultResidualThreshold     = 50
	DefaultResidualMaxIterations = 30
	DefaultMedianKernel          = 3
	DefaultADP2Levels            = 4
)

// Denoiser returns a denoised copy of an image.
type Denoiser func(img *model.Array) *model.Array

// Schedule returns the residual gain of iteration k (0-based).
type Schedule func(k int) float64

// ResidualAttack subtracts an amplified denoising residual,
// J' = J - s_k * (J - D(J)), increasing the gain s_k until the statistic
// drops under the threshold or the iteration budget runs out.
type ResidualAttack struct {
	name          string
	denoise       Denoiser
	schedule      Schedule
	threshold     float64
	maxIterations int
	statistic     StatisticFactory
	logger        *slog.Logger
}

// ResidualOption configures a ResidualAttack.
type ResidualOption func(*ResidualAttack)

// WithResidualThreshold sets the acceptance threshold.
func WithResidualThreshold(t float64) ResidualOption {
	return func(a *ResidualAttack) { a.threshold = t }
}

// WithResidualMaxIterations sets the iteration budget.
func WithResidualMaxIterations(n int) ResidualOption {
	return func(a *ResidualAttack) { a.maxIterations = n }
}

// WithResidualLogger sets the logger.
func WithResidualLogger(logger *slog.Logger) ResidualOption {
	return func(a *ResidualAttack) { a.logger = logger }
}

// NewResidualAttack creates a residual attack from its parts.
func NewResidualAttack(name string, d Denoiser, sched Schedule, factory StatisticFactory, opts ...ResidualOption) *ResidualAttack {
	a := &ResidualAttack{
		name:          name,
		denoise:       d,
		schedule:      sched,
		threshold:     DefaultResidualThreshold,
		maxIterations: DefaultResidualMaxIterations,
		statistic:     factory,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// MedianFiltering is the residual attack with a median denoiser and the gain
// recurrence a_1 = 1.1, a_{n+1} = a_n + (a_n - a_{n-1})/10, s_k = a_1 * ... * a_{k+1}.
func MedianFiltering(kernel int, factory StatisticFactory, opts ...ResidualOption) (*ResidualAttack, error) {
	if kernel < 1 || kernel%2 == 0 {
		return nil, fmt.Errorf("median kernel must be odd and positive, got %d", kernel)
	}
	d := func(img *model.Array) *model.Array { return Median(img, kernel) }
	return NewResidualAttack(AlgorithmMedianFiltering, d, MedianSchedule, factory, opts...), nil
}

// ADP2 is the residual attack with a soft-threshold wavelet denoiser and the
// gain s_k = log10(k+1) + 1e-5.
func ADP2(levels int, factory StatisticFactory, opts ...ResidualOption) *ResidualAttack {
	d := func(img *model.Array) *model.Array { return WaveletDenoise(img, levels) }
	return NewResidualAttack(AlgorithmADP2, d, LogSchedule, factory, opts...)
}

// MedianSchedule is the cumulative gain of the median filtering attack.
func MedianSchedule(k int) float64 {
	prev, cur := 0.0, 1.0
	gain := 1.0
	for range k + 1 {
		prev, cur = cur, cur+(cur-prev)/10
		gain *= cur
	}
	return gain
}

// LogSchedule is the ADP2 gain.
func LogSchedule(k int) float64 {
	return math.Log10(float64(k)+1) + 1e-5
}

// Name implements Attack.
func (a *ResidualAttack) Name() string { return a.name }

// Anonymize implements Attack.
func (a *ResidualAttack) Anonymize(ctx context.Context, img *model.Array, ref Reference) (*Result, error) {
	if err := ref.validate(img); err != nil {
		return nil, err
	}
	ev := &evaluator{stat: a.statistic(ref.Evaluator())}
	initial, err := ev.original(ctx, img)
	if err != nil {
		return nil, err
	}
	res := &Result{
		Image:            img,
		Outcome:          model.OutcomeUnmodified,
		InitialStatistic: initial,
		FinalStatistic:   initial,
	}
	if initial < a.threshold {
		res.Outcome = model.OutcomeAlreadyBelow
		res.Evaluations = ev.count
		return res, nil
	}

	noise := a.denoise(img)
	for c, p := range noise.Planes {
		src := img.Planes[c]
		for i := range p {
			p[i] = src[i] - p[i]
		}
	}

	for k := range a.maxIterations {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res.Iterations = k + 1
		gain := a.schedule(k)
		cand := img.Clone()
		for c, p := range cand.Planes {
			n := noise.Planes[c]
			for i := range p {
				p[i] -= gain * n[i]
			}
		}
		v, err := ev.candidate(ctx, cand)
		if err != nil {
			return nil, err
		}
		a.logger.Debug("residual attack iteration",
			slog.String("algorithm", a.name),
			slog.Int("iteration", k+1),
			slog.Float64("gain", gain),
			slog.Float64("statistic", v))

		if v < a.threshold {
			res.Image, res.FinalStatistic, res.Strength, res.Outcome = cand, v, gain, model.OutcomeAnonymized
			break
		}
		if v < res.FinalStatistic {
			res.Image, res.FinalStatistic, res.Strength, res.Outcome = cand, v, gain, model.OutcomeBestEffort
		}
	}
	res.Evaluations = ev.count
	return res, nil
}

// WaveletDenoise soft-thresholds every channel with wavelet.Denoise.
func WaveletDenoise(img *model.Array, levels int) *model.Array {
	out := img.Clone()
	for c, p := range img.Planes {
		copy(out.Planes[c], wavelet.Denoise(p, img.H, img.W, levels))
	}
	return out
}
