package prnu

import (
	"fmt"
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"

	"github.com/nao1215/prnuscan/internal/model"
)

// DefaultWindows are the neighborhood sizes over which local energy is averaged.
var DefaultWindows = []int{3, 5, 7, 9}

// WienerAdaptive shrinks an h x w row-major plane in place toward the noise
// component of variance noiseVar.
//
// For every sample the local energy is averaged over each window size with
// zero padding outside the plane. The signal variance estimate is the smallest
// of max(energy - noiseVar, 0) across windows, and the sample is scaled by
// noiseVar / (estimate + noiseVar). A non-positive noiseVar zeroes the plane.
func WienerAdaptive(x []float64, h, w int, noiseVar float64, windows ...int) {
	if len(windows) == 0 {
		windows = DefaultWindows
	}
	if noiseVar <= 0 {
		clear(x)
		return
	}

	integral := energyIntegral(x, h, w)
	minVar := make([]float64, len(x))
	for i := range minVar {
		minVar[i] = math.Inf(1)
	}

	stride := w + 1
	for _, size := range windows {
		r := size / 2
		area := float64(size * size)
		for y := range h {
			y0, y1 := max(y-r, 0), min(y+r, h-1)
			for xx := range w {
				x0, x1 := max(xx-r, 0), min(xx+r, w-1)
				sum := integral[(y1+1)*stride+x1+1] - integral[y0*stride+x1+1] -
					integral[(y1+1)*stride+x0] + integral[y0*stride+x0]
				v := sum/area - noiseVar
				if v < 0 {
					v = 0
				}
				if i := y*w + xx; v < minVar[i] {
					minVar[i] = v
				}
			}
		}
	}

	for i := range x {
		x[i] *= noiseVar / (minVar[i] + noiseVar)
	}
}

// energyIntegral returns the (h+1) x (w+1) summed-area table of x^2.
func energyIntegral(x []float64, h, w int) []float64 {
	stride := w + 1
	s := make([]float64, (h+1)*stride)
	for y := range h {
		var row float64
		for xx := range w {
			v := x[y*w+xx]
			row += v * v
			s[(y+1)*stride+xx+1] = s[y*stride+xx+1] + row
		}
	}
	return s
}

// WienerDFT applies WienerAdaptive to the normalized magnitude spectrum of a
// rank-2 array and keeps the phase. Frequencies with zero magnitude are zeroed.
func WienerDFT(a *model.Array, sigma float64) (*model.Array, error) {
	if a.Rank() != 2 {
		return nil, fmt.Errorf("%w: wiener dft needs rank 2, got rank %d", model.ErrRankMismatch, a.Rank())
	}
	h, w := a.H, a.W
	spec := fft.FFT2Real(a.Rows(0))

	norm := math.Sqrt(float64(h * w))
	mag := make([]float64, h*w)
	for y := range h {
		for x := range w {
			mag[y*w+x] = cmplx.Abs(spec[y][x]) / norm
		}
	}
	filtered := append([]float64(nil), mag...)
	WienerAdaptive(filtered, h, w, sigma*sigma)

	for y := range h {
		for x := range w {
			i := y*w + x
			if mag[i] == 0 {
				spec[y][x] = 0
				continue
			}
			spec[y][x] *= complex(filtered[i]/mag[i], 0)
		}
	}

	back := fft.IFFT2(spec)
	out := model.NewArray2D(h, w)
	for y := range h {
		for x := range w {
			out.Planes[0][y*w+x] = real(back[y][x])
		}
	}
	return out, nil
}
