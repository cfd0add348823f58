package anonymize

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/nao1215/prnuscan/internal/detection"
	"github.com/nao1215/prnuscan/internal/model"
)

// meanStat scores a candidate by |mean|. On an all-ones image dampened by an
// all-ones fingerprint it evaluates to |1 - alpha|.
type meanStat struct {
	unmeasurable func(mean float64) bool
}

func (meanStat) Name() string { return "mean" }

func (s meanStat) Evaluate(_ context.Context, candidate *model.Array) (float64, error) {
	m := candidate.Mean()
	if s.unmeasurable != nil && s.unmeasurable(m) {
		return 0, detection.ErrUnmeasurable
	}
	return math.Abs(m), nil
}

func meanFactory(s meanStat) StatisticFactory {
	return func(*model.Array) Statistic { return s }
}

func filled(h, w, c int, v float64) *model.Array {
	var a *model.Array
	if c == 0 {
		a = model.NewArray2D(h, w)
	} else {
		a = model.NewArray3D(h, w, c)
	}
	for _, p := range a.Planes {
		for i := range p {
			p[i] = v
		}
	}
	return a
}

func mustSearch(t *testing.T, s meanStat, opts ...SearchOption) *Search {
	t.Helper()
	search, err := NewSearch(meanFactory(s), opts...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return search
}

func TestNewSearch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		opts    []SearchOption
		wantErr error
	}{
		{name: "defaults are valid"},
		{name: "degenerate bracket is valid", opts: []SearchOption{WithAlphaRange(0, 0)}},
		{name: "negative alpha_min is rejected", opts: []SearchOption{WithAlphaRange(-0.1, 0.1)}, wantErr: ErrInvalidBracket},
		{name: "reversed bracket is rejected", opts: []SearchOption{WithAlphaRange(0.5, 0.1)}, wantErr: ErrInvalidBracket},
		{name: "NaN bracket is rejected", opts: []SearchOption{WithAlphaRange(math.NaN(), 0.1)}, wantErr: ErrInvalidBracket},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewSearch(meanFactory(meanStat{}), tt.opts...)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	t.Run("negative iteration budget is rejected", func(t *testing.T) {
		t.Parallel()
		if _, err := NewSearch(meanFactory(meanStat{}), WithMaxIterations(-1)); err == nil {
			t.Error("expected an error")
		}
	})
}

func TestSearchRun(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("bisection reaches the threshold", func(t *testing.T) {
		t.Parallel()
		s := mustSearch(t, meanStat{}, WithAlphaRange(0, 1.5), WithThreshold(0.1))
		img, k := filled(4, 4, 3, 1), filled(4, 4, 0, 1)

		res, err := s.Run(ctx, img, k, meanStat{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Outcome != model.OutcomeAnonymized {
			t.Fatalf("expected anonymized, got %s", res.Outcome)
		}
		if math.Abs(res.Strength-0.9375) > 1e-12 {
			t.Errorf("expected alpha 0.9375, got %v", res.Strength)
		}
		if math.Abs(res.FinalStatistic-0.0625) > 1e-12 {
			t.Errorf("expected statistic 0.0625, got %v", res.FinalStatistic)
		}
		if res.Iterations != 4 || res.Evaluations != 6 {
			t.Errorf("expected 4 iterations and 6 evaluations, got %d and %d", res.Iterations, res.Evaluations)
		}
		if res.InitialStatistic != 1 {
			t.Errorf("expected initial statistic 1, got %v", res.InitialStatistic)
		}
	})

	t.Run("unreachable threshold returns the best candidate", func(t *testing.T) {
		t.Parallel()
		s := mustSearch(t, meanStat{}, WithAlphaRange(0, 1.5), WithThreshold(0), WithMaxIterations(3))
		img, k := filled(4, 4, 3, 1), filled(4, 4, 0, 1)

		res, err := s.Run(ctx, img, k, meanStat{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Outcome != model.OutcomeBestEffort {
			t.Fatalf("expected best effort, got %s", res.Outcome)
		}
		// one evaluation per side up front, then one per iteration after the first
		if res.Evaluations != 5 {
			t.Errorf("expected 5 evaluations, got %d", res.Evaluations)
		}
		if math.Abs(res.FinalStatistic-0.125) > 1e-12 {
			t.Errorf("expected best statistic 0.125, got %v", res.FinalStatistic)
		}
		if res.FinalStatistic >= res.InitialStatistic {
			t.Error("best candidate does not improve on the original")
		}
	})

	t.Run("no improvement leaves the image unmodified", func(t *testing.T) {
		t.Parallel()
		s := mustSearch(t, meanStat{}, WithAlphaRange(0, 0))
		img, k := filled(4, 4, 3, 1), filled(4, 4, 0, 1)

		res, err := s.Run(ctx, img, k, meanStat{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Outcome != model.OutcomeUnmodified {
			t.Errorf("expected unmodified, got %s", res.Outcome)
		}
		if res.Image != img {
			t.Error("expected the original image back")
		}
	})

	t.Run("original under the threshold returns immediately", func(t *testing.T) {
		t.Parallel()
		s := mustSearch(t, meanStat{}, WithThreshold(2))
		img, k := filled(4, 4, 3, 1), filled(4, 4, 0, 1)

		res, err := s.Run(ctx, img, k, meanStat{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Outcome != model.OutcomeAlreadyBelow || res.Evaluations != 1 || res.Iterations != 0 {
			t.Errorf("unexpected result %+v", res)
		}
	})

	t.Run("unmeasurable candidates are never adopted", func(t *testing.T) {
		t.Parallel()
		stat := meanStat{unmeasurable: func(m float64) bool { return m < 1 }}
		s := mustSearch(t, stat, WithAlphaRange(0.5, 1))
		img, k := filled(4, 4, 3, 1), filled(4, 4, 0, 1)

		res, err := s.Run(ctx, img, k, stat)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Outcome != model.OutcomeUnmodified || res.FinalStatistic != 1 {
			t.Errorf("unexpected result %+v", res)
		}
	})

	t.Run("unmeasurable original is an error", func(t *testing.T) {
		t.Parallel()
		stat := meanStat{unmeasurable: func(float64) bool { return true }}
		s := mustSearch(t, stat)
		_, err := s.Run(ctx, filled(4, 4, 3, 1), filled(4, 4, 0, 1), stat)
		if !errors.Is(err, detection.ErrUnmeasurable) {
			t.Errorf("expected ErrUnmeasurable, got %v", err)
		}
	})

	t.Run("canceled context stops the search", func(t *testing.T) {
		t.Parallel()
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		s := mustSearch(t, meanStat{}, WithAlphaRange(0, 1.5), WithThreshold(0))
		_, err := s.Run(cctx, filled(4, 4, 3, 1), filled(4, 4, 0, 1), meanStat{})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})

	t.Run("input image is not modified", func(t *testing.T) {
		t.Parallel()
		s := mustSearch(t, meanStat{}, WithAlphaRange(0, 1.5), WithThreshold(0.1))
		img, k := filled(4, 4, 3, 1), filled(4, 4, 0, 1)
		if _, err := s.Run(ctx, img, k, meanStat{}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if img.Mean() != 1 {
			t.Errorf("input mutated, mean %v", img.Mean())
		}
	})
}

func TestSearchAnonymize(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("fingerprint shape must match the image", func(t *testing.T) {
		t.Parallel()
		s := mustSearch(t, meanStat{})
		_, err := s.Anonymize(ctx, filled(4, 4, 3, 1), Reference{Driver: filled(4, 5, 0, 1)})
		if !errors.Is(err, model.ErrShapeMismatch) {
			t.Errorf("expected ErrShapeMismatch, got %v", err)
		}
	})

	t.Run("fingerprint must be rank 2", func(t *testing.T) {
		t.Parallel()
		s := mustSearch(t, meanStat{})
		_, err := s.Anonymize(ctx, filled(4, 4, 3, 1), Reference{Driver: filled(4, 4, 3, 1)})
		if !errors.Is(err, model.ErrRankMismatch) {
			t.Errorf("expected ErrRankMismatch, got %v", err)
		}
	})

	t.Run("evaluation fingerprint scores candidates", func(t *testing.T) {
		t.Parallel()
		var got *model.Array
		factory := func(k *model.Array) Statistic {
			got = k
			return meanStat{}
		}
		s, err := NewSearch(factory, WithAlphaRange(0, 1.5))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		driver, eval := filled(4, 4, 0, 1), filled(4, 4, 0, 2)
		if _, err := s.Anonymize(ctx, filled(4, 4, 3, 1), Reference{Driver: driver, Evaluation: eval}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != eval {
			t.Error("statistic was not bound to the evaluation fingerprint")
		}
	})
}

func TestDampen(t *testing.T) {
	t.Parallel()

	img := filled(2, 2, 3, 10)
	k := model.NewArray2D(2, 2)
	k.Set(0, 1, 0, 0.5)
	out := Dampen(img, k, 0.2)
	for c := range 3 {
		if out.At(0, 1, c) != 9 || out.At(0, 0, c) != 10 {
			t.Errorf("channel %d: got %v and %v", c, out.At(0, 1, c), out.At(0, 0, c))
		}
	}
}

func TestPCEStatisticOnDampenedImage(t *testing.T) {
	t.Parallel()

	// A strong multiplicative pattern dampened by itself scores lower.
	r := rand.New(rand.NewSource(7)) //nolint:gosec // deterministic test data
	h, w := 32, 32
	k := model.NewArray2D(h, w)
	img := model.NewArray3D(h, w, 3)
	for y := range h {
		for x := range w {
			v := r.NormFloat64() * 0.1
			k.Set(y, x, 0, v)
			for c := range 3 {
				img.Set(y, x, c, 120*(1+v)+r.NormFloat64())
			}
		}
	}
	stat := PCEStatistic{K: k, Radius: detection.DefaultPCERadius}
	before, err := stat.Evaluate(context.Background(), img)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	after, err := stat.Evaluate(context.Background(), Dampen(img, k, 1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if before < 100 {
		t.Errorf("expected a strong match before dampening, got %v", before)
	}
	if !(after < before/10) {
		t.Errorf("expected dampening to lower the PCE, before %v after %v", before, after)
	}
}

func TestNewStatisticFactory(t *testing.T) {
	t.Parallel()

	t.Run("pce needs no extractor", func(t *testing.T) {
		t.Parallel()
		f, err := NewStatisticFactory(StatisticPCE, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if f(filled(2, 2, 0, 1)).Name() != StatisticPCE {
			t.Error("wrong statistic")
		}
	})

	t.Run("ccn without extractor is rejected", func(t *testing.T) {
		t.Parallel()
		if _, err := NewStatisticFactory(StatisticCCN, nil); err == nil {
			t.Error("expected an error")
		}
	})

	t.Run("unknown name is rejected", func(t *testing.T) {
		t.Parallel()
		if _, err := NewStatisticFactory("ncc", nil); err == nil {
			t.Error("expected an error")
		}
	})
}
