package detection

import (
	"fmt"
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"

	"github.com/nao1215/prnuscan/internal/model"
)

// DefaultCCNNeighbors is the number of lags after zero excluded from the
// CCN denominator.
const DefaultCCNNeighbors = 30

// CCN returns the cross-correlation norm of two equally long signals.
//
// The circular cross-correlation r(m) = (1/L) sum_i x[i+m] y[i] is computed
// with FFTs. The numerator is r(0). The denominator is the root mean square
// of r(m) for m in (neighbors, L), so lags 1..neighbors after the zero lag do
// not count as background. ErrUnmeasurable is returned when no lag is left
// or the background is exactly zero.
func CCN(x, y []float64, neighbors int) (float64, error) {
	if len(x) != len(y) {
		return 0, fmt.Errorf("%w: signals of length %d and %d", model.ErrShapeMismatch, len(x), len(y))
	}
	if neighbors < 0 {
		return 0, fmt.Errorf("negative CCN neighborhood %d", neighbors)
	}
	n := len(x)
	count := n - neighbors - 1
	if count <= 0 {
		return 0, fmt.Errorf("%w: %d samples leave no background lags", ErrUnmeasurable, n)
	}
	if !finite(x) || !finite(y) {
		return 0, fmt.Errorf("%w: non-finite input", ErrUnmeasurable)
	}

	xs := fft.FFTReal(x)
	ys := fft.FFTReal(y)
	for i := range xs {
		xs[i] *= cmplx.Conj(ys[i])
	}
	r := fft.IFFT(xs)

	scale := float64(n)
	num := real(r[0]) / scale
	var background float64
	for m := neighbors + 1; m < n; m++ {
		v := real(r[m]) / scale
		background += v * v
	}
	den := math.Sqrt(background / float64(count))
	if den == 0 {
		return 0, fmt.Errorf("%w: zero background correlation", ErrUnmeasurable)
	}
	return num / den, nil
}

// CCNOf flattens two arrays of equal size and returns their CCN.
func CCNOf(a, b *model.Array, neighbors int) (float64, error) {
	if a.Size() != b.Size() {
		return 0, fmt.Errorf("%w: %v vs %v", model.ErrShapeMismatch, a.Shape(), b.Shape())
	}
	return CCN(a.Flatten(), b.Flatten(), neighbors)
}

func finite(v []float64) bool {
	for _, s := range v {
		if math.IsNaN(s) || math.IsInf(s, 0) {
			return false
		}
	}
	return true
}
