package prnu

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/nao1215/prnuscan/internal/model"
)

func sliceLoader(imgs []*model.Image) Loader {
	return func(_ context.Context, i int) (*model.Image, error) {
		if imgs[i] == nil {
			return nil, fmt.Errorf("image %d unreadable", i)
		}
		return imgs[i], nil
	}
}

func TestAccumulatorSingleImage(t *testing.T) {
	t.Parallel()

	img := randomImage(5, 24, 24, 3)
	ex := mustExtractor(t)
	residual, err := ex.NoiseExtractImage(img)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	acc := NewAccumulator(24, 24, 3)
	if err := acc.Add(img, residual); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ratio := acc.Ratio()
	weight := Weight(img)

	for c := range 3 {
		for i := range ratio.Planes[c] {
			want := residual.Planes[c][i] * float64(img.Pix[c][i]) / 255 / (weight.Planes[c][i] + 1)
			if math.Abs(ratio.Planes[c][i]-want) > 1e-12 {
				t.Fatalf("channel %d sample %d: got %v, expected %v", c, i, ratio.Planes[c][i], want)
			}
		}
	}
}

func TestAccumulatorMerge(t *testing.T) {
	t.Parallel()

	ex := mustExtractor(t)
	imgs := []*model.Image{randomImage(1, 16, 16, 3), randomImage(2, 16, 16, 3)}

	whole := NewAccumulator(16, 16, 3)
	parts := []*Accumulator{NewAccumulator(16, 16, 3), NewAccumulator(16, 16, 3)}
	for i, img := range imgs {
		res, err := ex.NoiseExtractImage(img)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := whole.Add(img, res); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := parts[i].Add(img, res); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if err := parts[0].Merge(parts[1]); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if parts[0].Count() != 2 {
		t.Errorf("expected count 2, got %d", parts[0].Count())
	}
	a, b := whole.Ratio(), parts[0].Ratio()
	for c := range 3 {
		for i := range a.Planes[c] {
			if math.Abs(a.Planes[c][i]-b.Planes[c][i]) > 1e-12 {
				t.Fatalf("merged ratio differs at %d", i)
			}
		}
	}

	t.Run("shape mismatch is rejected", func(t *testing.T) {
		t.Parallel()
		err := NewAccumulator(16, 16, 3).Merge(NewAccumulator(8, 8, 3))
		if !errors.Is(err, model.ErrShapeMismatch) {
			t.Errorf("expected ErrShapeMismatch, got %v", err)
		}
	})
}

func TestAccumulatorFinalizeEmpty(t *testing.T) {
	t.Parallel()

	_, err := NewAccumulator(8, 8, 3).Finalize()
	if !errors.Is(err, ErrNoUsableImages) {
		t.Errorf("expected ErrNoUsableImages, got %v", err)
	}
}

func TestAggregate(t *testing.T) {
	t.Parallel()

	ex := mustExtractor(t)

	t.Run("skips unreadable and mismatched images", func(t *testing.T) {
		t.Parallel()
		imgs := []*model.Image{
			nil,
			randomImage(1, 32, 32, 3),
			randomImage(2, 32, 32, 3),
			randomImage(3, 16, 32, 3),
			nil,
			randomImage(4, 32, 32, 3),
		}
		k, report, err := NewAggregator(ex, WithWorkers(3)).Aggregate(context.Background(), len(imgs), sliceLoader(imgs))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if k.Rank() != 2 || k.H != 32 || k.W != 32 {
			t.Errorf("unexpected fingerprint shape %v", k.Shape())
		}
		if report.Used != 3 {
			t.Errorf("expected 3 images used, got %d", report.Used)
		}
		wantSkipped := []int{0, 3, 4}
		if len(report.Skipped) != len(wantSkipped) {
			t.Fatalf("expected skipped %v, got %+v", wantSkipped, report.Skipped)
		}
		for i, s := range report.Skipped {
			if s.Index != wantSkipped[i] {
				t.Errorf("skip %d: got index %d, expected %d", i, s.Index, wantSkipped[i])
			}
		}
		if !errors.Is(report.Skipped[1].Err, model.ErrShapeMismatch) {
			t.Errorf("expected ErrShapeMismatch, got %v", report.Skipped[1].Err)
		}
	})

	t.Run("result does not depend on worker count", func(t *testing.T) {
		t.Parallel()
		imgs := make([]*model.Image, 6)
		for i := range imgs {
			imgs[i] = randomImage(int64(10+i), 24, 24, 3)
		}
		k1, _, err := NewAggregator(ex, WithWorkers(1)).Aggregate(context.Background(), len(imgs), sliceLoader(imgs))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		k4, _, err := NewAggregator(ex, WithWorkers(4)).Aggregate(context.Background(), len(imgs), sliceLoader(imgs))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for i := range k1.Planes[0] {
			if math.Abs(k1.Planes[0][i]-k4.Planes[0][i]) > 1e-9 {
				t.Fatalf("sample %d: %v vs %v", i, k1.Planes[0][i], k4.Planes[0][i])
			}
		}
	})

	t.Run("no usable images", func(t *testing.T) {
		t.Parallel()
		imgs := []*model.Image{nil, nil}
		_, _, err := NewAggregator(ex).Aggregate(context.Background(), len(imgs), sliceLoader(imgs))
		if !errors.Is(err, ErrNoUsableImages) {
			t.Errorf("expected ErrNoUsableImages, got %v", err)
		}
	})

	t.Run("cancelled context stops aggregation", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		imgs := []*model.Image{randomImage(1, 16, 16, 3)}
		_, _, err := NewAggregator(ex).Aggregate(ctx, len(imgs), sliceLoader(imgs))
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestEstimate(t *testing.T) {
	t.Parallel()

	ex := mustExtractor(t, WithLevels(3), WithSigma(3))
	imgs := []*model.Image{randomImage(1, 16, 16, 3), randomImage(2, 16, 16, 3)}
	fp, _, err := NewAggregator(ex).Estimate(context.Background(), "07", len(imgs), sliceLoader(imgs))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fp.Device != "07" || fp.Images != 2 || fp.Levels != 3 || fp.Sigma != 3 {
		t.Errorf("unexpected fingerprint %+v", fp)
	}
	if !fp.Matches(16, 16) {
		t.Error("fingerprint must match its source size")
	}
}
