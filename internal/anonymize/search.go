package anonymize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/nao1215/prnuscan/internal/detection"
	"github.com/nao1215/prnuscan/internal/model"
)

// Search defaults.
const (
	DefaultAlphaMin      = 0.008
	DefaultAlphaMax      = 0.04
	DefaultThreshold     = 0.1
	DefaultMaxIterations = 10
)

// ErrInvalidBracket is returned when the alpha bracket is empty or negative.
var ErrInvalidBracket = errors.New("invalid alpha bracket: need 0 <= alpha_min <= alpha_max")

// Search removes a fingerprint by multiplicative dampening,
// J' = J * (1 - alpha * K), bisecting alpha until the statistic drops under
// the threshold or the iteration budget runs out.
type Search struct {
	alphaMin      float64
	alphaMax      float64
	threshold     float64
	maxIterations int
	statistic     StatisticFactory
	logger        *slog.Logger
}

// SearchOption configures a Search.
type SearchOption func(*Search)

// WithAlphaRange sets the initial bracket.
func WithAlphaRange(lo, hi float64) SearchOption {
	return func(s *Search) { s.alphaMin, s.alphaMax = lo, hi }
}

// WithThreshold sets the statistic value under which a candidate is accepted.
func WithThreshold(t float64) SearchOption {
	return func(s *Search) { s.threshold = t }
}

// WithMaxIterations sets the iteration budget.
func WithMaxIterations(n int) SearchOption {
	return func(s *Search) { s.maxIterations = n }
}

// WithSearchLogger sets the logger.
func WithSearchLogger(logger *slog.Logger) SearchOption {
	return func(s *Search) { s.logger = logger }
}

// NewSearch creates a Search that measures candidates with statistics built
// by factory.
func NewSearch(factory StatisticFactory, opts ...SearchOption) (*Search, error) {
	s := &Search{
		alphaMin:      DefaultAlphaMin,
		alphaMax:      DefaultAlphaMax,
		threshold:     DefaultThreshold,
		maxIterations: DefaultMaxIterations,
		statistic:     factory,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.alphaMin < 0 || s.alphaMax < s.alphaMin || math.IsNaN(s.alphaMin) || math.IsNaN(s.alphaMax) {
		return nil, fmt.Errorf("%w: [%v, %v]", ErrInvalidBracket, s.alphaMin, s.alphaMax)
	}
	if s.maxIterations < 0 {
		return nil, fmt.Errorf("negative iteration budget %d", s.maxIterations)
	}
	return s, nil
}

// Name implements Attack.
func (s *Search) Name() string { return AlgorithmFingerprintRemoval }

// Anonymize implements Attack.
func (s *Search) Anonymize(ctx context.Context, img *model.Array, ref Reference) (*Result, error) {
	if err := ref.validate(img); err != nil {
		return nil, err
	}
	return s.Run(ctx, img, ref.Driver, s.statistic(ref.Evaluator()))
}

// Run executes the bracket search on img with driving fingerprint k.
//
// Each iteration re-evaluates only the side of the bracket that moved in the
// previous iteration, tests the max side then the min side against the
// threshold, and otherwise halves the bracket toward the side with the lower
// statistic, adopting that side as the best image if it beats every earlier
// one. The returned image is never worse than the original.
func (s *Search) Run(ctx context.Context, img, k *model.Array, stat Statistic) (*Result, error) {
	ev := &evaluator{stat: stat}
	initial, err := ev.original(ctx, img)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Image:            img,
		Outcome:          model.OutcomeUnmodified,
		InitialStatistic: initial,
		FinalStatistic:   initial,
		AlphaMin:         s.alphaMin,
		AlphaMax:         s.alphaMax,
	}
	if initial < s.threshold {
		res.Outcome = model.OutcomeAlreadyBelow
		res.Evaluations = ev.count
		return res, nil
	}

	lo, hi := s.alphaMin, s.alphaMax
	jMin := Dampen(img, k, lo)
	sMin, err := ev.candidate(ctx, jMin)
	if err != nil {
		return nil, err
	}
	jMax := Dampen(img, k, hi)
	sMax, err := ev.candidate(ctx, jMax)
	if err != nil {
		return nil, err
	}

	accept := func(j *model.Array, v, alpha float64, outcome model.Outcome) {
		res.Image, res.FinalStatistic, res.Strength, res.Outcome = j, v, alpha, outcome
	}

	var changedMin, changedMax bool
	for it := range s.maxIterations {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res.Iterations = it + 1

		if changedMax {
			jMax = Dampen(img, k, hi)
			if sMax, err = ev.candidate(ctx, jMax); err != nil {
				return nil, err
			}
			changedMax = false
		}
		if sMax < s.threshold {
			accept(jMax, sMax, hi, model.OutcomeAnonymized)
			break
		}

		if changedMin {
			jMin = Dampen(img, k, lo)
			if sMin, err = ev.candidate(ctx, jMin); err != nil {
				return nil, err
			}
			changedMin = false
		}
		if sMin < s.threshold {
			accept(jMin, sMin, lo, model.OutcomeAnonymized)
			break
		}

		mid := (lo + hi) / 2
		if sMin < sMax {
			if sMin < res.FinalStatistic {
				accept(jMin, sMin, lo, model.OutcomeBestEffort)
			}
			hi = mid
			changedMax = true
		} else {
			if sMax < res.FinalStatistic {
				accept(jMax, sMax, hi, model.OutcomeBestEffort)
			}
			lo = mid
			changedMin = true
		}

		s.logger.Debug("search iteration",
			slog.Int("iteration", it+1),
			slog.Float64("alpha_min", lo),
			slog.Float64("alpha_max", hi),
			slog.Float64("best", res.FinalStatistic))
	}

	res.AlphaMin, res.AlphaMax = lo, hi
	res.Evaluations = ev.count
	return res, nil
}

// Dampen returns img * (1 - alpha * k), with the rank-2 k applied to every channel.
func Dampen(img, k *model.Array, alpha float64) *model.Array {
	out := img.Clone()
	kp := k.Planes[0]
	for _, p := range out.Planes {
		for i := range p {
			p[i] *= 1 - alpha*kp[i]
		}
	}
	return out
}

// evaluator counts statistic evaluations and maps unmeasurable candidates
// to +Inf so they are never accepted or adopted.
type evaluator struct {
	stat  Statistic
	count int
}

func (e *evaluator) original(ctx context.Context, img *model.Array) (float64, error) {
	e.count++
	v, err := e.stat.Evaluate(ctx, img)
	if err != nil {
		return 0, fmt.Errorf("%s of the original image: %w", e.stat.Name(), err)
	}
	return v, nil
}

func (e *evaluator) candidate(ctx context.Context, img *model.Array) (float64, error) {
	e.count++
	v, err := e.stat.Evaluate(ctx, img)
	if errors.Is(err, detection.ErrUnmeasurable) {
		return math.Inf(1), nil
	}
	return v, err
}
