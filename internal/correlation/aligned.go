package correlation

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/nao1215/prnuscan/internal/model"
)

// Matrix is the zero-lag correlation of every pair of two array sets.
type Matrix struct {
	// CC[i][j] is the dot product of the i-th and j-th arrays.
	CC [][]float64
	// NCC[i][j] is CC[i][j] divided by both L2 norms. It is NaN when either array is all zero.
	NCC [][]float64
}

// Aligned correlates every array of a with every array of b at zero lag.
// All arrays must share one shape. Used when fingerprints and residuals are
// already geometrically aligned and no search over shifts is needed.
func Aligned(a, b []*model.Array) (*Matrix, error) {
	if len(a) == 0 || len(b) == 0 {
		return &Matrix{}, nil
	}
	ref := a[0]
	for _, arr := range append(append([]*model.Array(nil), a...), b...) {
		if !arr.SameShape(ref) {
			return nil, fmt.Errorf("%w: %v vs %v", model.ErrShapeMismatch, arr.Shape(), ref.Shape())
		}
	}

	fa := flattenAll(a)
	fb := flattenAll(b)
	na := norms(fa)
	nb := norms(fb)

	m := &Matrix{CC: make([][]float64, len(a)), NCC: make([][]float64, len(a))}
	for i := range fa {
		m.CC[i] = make([]float64, len(fb))
		m.NCC[i] = make([]float64, len(fb))
		for j := range fb {
			cc := floats.Dot(fa[i], fb[j])
			m.CC[i][j] = cc
			den := na[i] * nb[j]
			if den == 0 {
				m.NCC[i][j] = math.NaN()
				continue
			}
			m.NCC[i][j] = cc / den
		}
	}
	return m, nil
}

func flattenAll(as []*model.Array) [][]float64 {
	out := make([][]float64, len(as))
	for i, a := range as {
		out[i] = a.Flatten()
	}
	return out
}

func norms(vs [][]float64) []float64 {
	out := make([]float64, len(vs))
	for i, v := range vs {
		out[i] = floats.Norm(v, 2)
	}
	return out
}
