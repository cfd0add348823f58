package metrics

import (
	"errors"
	"math"
	"math/rand"
	"slices"
	"testing"

	"github.com/nao1215/prnuscan/internal/model"
)

func constant(h, w, c int, v float64) *model.Array {
	a := model.NewArray3D(h, w, c)
	for _, p := range a.Planes {
		for i := range p {
			p[i] = v
		}
	}
	return a
}

func TestPSNR(t *testing.T) {
	t.Parallel()

	t.Run("identical images", func(t *testing.T) {
		t.Parallel()
		a := constant(4, 4, 3, 100)
		got, err := PSNR(a, a.Clone())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != IdenticalPSNR {
			t.Errorf("expected %v, got %v", IdenticalPSNR, got)
		}
	})

	t.Run("uniform offset of one level", func(t *testing.T) {
		t.Parallel()
		got, err := PSNR(constant(4, 4, 3, 100), constant(4, 4, 3, 101))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := 20 * math.Log10(255)
		if math.Abs(got-want) > 1e-9 {
			t.Errorf("expected %v, got %v", want, got)
		}
	})

	t.Run("shape mismatch", func(t *testing.T) {
		t.Parallel()
		_, err := PSNR(constant(4, 4, 3, 0), constant(4, 5, 3, 0))
		if !errors.Is(err, model.ErrShapeMismatch) {
			t.Errorf("expected ErrShapeMismatch, got %v", err)
		}
	})
}

func TestMeasure(t *testing.T) {
	t.Parallel()

	r := rand.New(rand.NewSource(3)) //nolint:gosec // deterministic test data
	h, w := 32, 32
	k := model.NewArray2D(h, w)
	for i := range k.Planes[0] {
		k.Planes[0][i] = r.NormFloat64() * 0.1
	}
	mean := k.Mean()
	for i := range k.Planes[0] {
		k.Planes[0][i] -= mean
	}
	original := model.NewArray3D(h, w, 3)
	for _, p := range original.Planes {
		for i := range p {
			p[i] = 120*(1+k.Planes[0][i]) + r.NormFloat64()
		}
	}

	t.Run("anonymized image scores lower than the original", func(t *testing.T) {
		t.Parallel()
		anonymized := original.Clone()
		for _, p := range anonymized.Planes {
			for i := range p {
				p[i] /= 1 + k.Planes[0][i]
			}
		}
		m, err := NewCalculator().Measure(original, anonymized, k)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(m.Unmeasurable) != 0 {
			t.Fatalf("unexpected unmeasurable %v", m.Unmeasurable)
		}
		if !(m.FinalPCE < m.InitialPCE) {
			t.Errorf("PCE did not drop: %v -> %v", m.InitialPCE, m.FinalPCE)
		}
		if !(math.Abs(m.FinalCCN) < math.Abs(m.InitialCCN)) {
			t.Errorf("CCN did not drop: %v -> %v", m.InitialCCN, m.FinalCCN)
		}
		if m.PSNR <= 0 || m.PSNR == IdenticalPSNR {
			t.Errorf("unexpected PSNR %v", m.PSNR)
		}
	})

	t.Run("flat image is unmeasurable but not an error", func(t *testing.T) {
		t.Parallel()
		flat := constant(h, w, 3, 50)
		m, err := NewCalculator().Measure(flat, flat.Clone(), k)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !slices.Contains(m.Unmeasurable, FinalPCE) || !slices.Contains(m.Unmeasurable, InitialPCE) {
			t.Errorf("expected PCE to be unmeasurable, got %v", m.Unmeasurable)
		}
		if m.PSNR != IdenticalPSNR {
			t.Errorf("expected identical PSNR, got %v", m.PSNR)
		}
	})

	t.Run("fingerprint size must match", func(t *testing.T) {
		t.Parallel()
		_, err := NewCalculator().Measure(original, original, model.NewArray2D(h, w+1))
		if !errors.Is(err, model.ErrShapeMismatch) {
			t.Errorf("expected ErrShapeMismatch, got %v", err)
		}
	})
}
