package correlation

import (
	"fmt"

	"github.com/mjibson/go-dsp/fft"

	"github.com/nao1215/prnuscan/internal/model"
)

// CrossCorr2D returns the circular cross-correlation of two rank-2 arrays.
//
// Both inputs have their mean removed and are zero-padded to the largest
// height and width; the map is the real part of
// IFFT(FFT(a) * FFT(rot180(b))). Under this convention the zero-lag term is
// at (H-1, W-1); use Lag and ZeroLag to translate. Inputs are not modified.
func CrossCorr2D(a, b *model.Array) (*model.Array, error) {
	if a.Rank() != 2 || b.Rank() != 2 {
		return nil, fmt.Errorf("%w: CrossCorr2D needs rank 2, got %d and %d", model.ErrRankMismatch, a.Rank(), b.Rank())
	}
	h, w := max(a.H, b.H), max(a.W, b.W)
	return crossPlane(a.Planes[0], a.H, a.W, b.Planes[0], b.H, b.W, h, w), nil
}

// CrossCorr correlates two arrays of the same rank. Rank-3 arrays must have
// the same channel count; their per-channel maps are summed so that evidence
// from every channel adds up in one rank-2 map.
func CrossCorr(a, b *model.Array) (*model.Array, error) {
	if a.Rank() != b.Rank() {
		return nil, fmt.Errorf("%w: %v vs %v", model.ErrRankMismatch, a.Shape(), b.Shape())
	}
	if a.Rank() == 2 {
		return CrossCorr2D(a, b)
	}
	if a.Channels() != b.Channels() {
		return nil, fmt.Errorf("%w: %d vs %d", model.ErrChannelMismatch, a.Channels(), b.Channels())
	}

	h, w := max(a.H, b.H), max(a.W, b.W)
	out := model.NewArray2D(h, w)
	for c := range a.Planes {
		m := crossPlane(a.Planes[c], a.H, a.W, b.Planes[c], b.H, b.W, h, w)
		dst := out.Planes[0]
		for i, v := range m.Planes[0] {
			dst[i] += v
		}
	}
	return out, nil
}

// CrossCorrFingerprint correlates img with a rank-2 fingerprint k. For a
// color image k is broadcast to every channel and the maps are summed as in
// CrossCorr.
func CrossCorrFingerprint(img, k *model.Array) (*model.Array, error) {
	if k.Rank() != 2 {
		return nil, fmt.Errorf("%w: fingerprint must be rank 2, got %d", model.ErrRankMismatch, k.Rank())
	}
	if img.Rank() == 2 {
		return CrossCorr2D(img, k)
	}
	kc, err := k.Broadcast(img.Channels())
	if err != nil {
		return nil, err
	}
	return CrossCorr(img, kc)
}

// ZeroLag returns the map index of the zero-lag term of an h x w map.
func ZeroLag(h, w int) (y, x int) {
	return h - 1, w - 1
}

// Lag converts a map index of an h x w map to the circular shift (dy, dx)
// that, applied to the first input, best aligns it with the second.
// Shifts are reported in [0, h) x [0, w).
func Lag(h, w, y, x int) (dy, dx int) {
	return ((h-1-y)%h + h) % h, ((w-1-x)%w + w) % w
}

func crossPlane(a []float64, ah, aw int, b []float64, bh, bw int, h, w int) *model.Array {
	aSpec := fft.FFT2Real(rows(centered(a, ah, aw, h, w), h, w))
	bSpec := fft.FFT2Real(rows(rot180(centered(b, bh, bw, h, w)), h, w))
	for y := range h {
		for x := range w {
			aSpec[y][x] *= bSpec[y][x]
		}
	}
	back := fft.IFFT2(aSpec)
	out := model.NewArray2D(h, w)
	for y := range h {
		for x := range w {
			out.Planes[0][y*w+x] = real(back[y][x])
		}
	}
	return out
}

// centered removes the mean of a ph x pw plane and zero-pads it to h x w.
func centered(p []float64, ph, pw, h, w int) []float64 {
	var mean float64
	for _, v := range p {
		mean += v
	}
	mean /= float64(len(p))

	out := make([]float64, h*w)
	for y := range ph {
		for x := range pw {
			out[y*w+x] = p[y*pw+x] - mean
		}
	}
	return out
}

func rows(p []float64, h, w int) [][]float64 {
	r := make([][]float64, h)
	for y := range h {
		r[y] = p[y*w : (y+1)*w]
	}
	return r
}

// rot180 reverses a row-major plane, which rotates it by 180 degrees.
func rot180(p []float64) []float64 {
	out := make([]float64, len(p))
	for i, v := range p {
		out[len(p)-1-i] = v
	}
	return out
}
