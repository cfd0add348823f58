package prnu

import (
	"fmt"

	"github.com/nao1215/prnuscan/internal/model"
)

// Luma weights for R, G and B.
const (
	grayR = 0.29893602
	grayG = 0.58704307
	grayB = 0.11402090
)

// RGB2Gray collapses an array to rank 2. Rank-2 and single-channel inputs are
// copied; three-channel inputs are weighted as R, G, B.
func RGB2Gray(a *model.Array) (*model.Array, error) {
	switch {
	case a.Rank() == 2 || a.Channels() == 1:
		return model.ArrayFromPlane(a.H, a.W, append([]float64(nil), a.Planes[0]...))
	case a.Channels() == 3:
		out := model.NewArray2D(a.H, a.W)
		r, g, b := a.Planes[0], a.Planes[1], a.Planes[2]
		for i := range out.Planes[0] {
			out.Planes[0][i] = grayR*r[i] + grayG*g[i] + grayB*b[i]
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: got %d", ErrUnsupportedChannels, a.Channels())
	}
}

// ZeroMean removes from an h x w plane, in place, its mean, then its row
// means and its column means (both taken after the first subtraction).
// The result has zero mean along every row and column.
func ZeroMean(p []float64, h, w int) {
	if h == 0 || w == 0 {
		return
	}
	var mean float64
	for _, v := range p {
		mean += v
	}
	mean /= float64(h * w)

	rowMean := make([]float64, h)
	colMean := make([]float64, w)
	for y := range h {
		for x := range w {
			v := p[y*w+x] - mean
			p[y*w+x] = v
			rowMean[y] += v
			colMean[x] += v
		}
	}
	for y := range h {
		rowMean[y] /= float64(w)
	}
	for x := range w {
		colMean[x] /= float64(h)
	}
	for y := range h {
		for x := range w {
			p[y*w+x] -= rowMean[y] + colMean[x]
		}
	}
}

// ZeroMeanTotal applies ZeroMean independently to each of the four 2x2
// sampling phases of every channel. This removes periodic artifacts tied to
// the color filter array. The input is not modified.
func ZeroMeanTotal(a *model.Array) *model.Array {
	out := a.Clone()
	for _, p := range out.Planes {
		for py := range 2 {
			for px := range 2 {
				zeroMeanPhase(p, a.H, a.W, py, px)
			}
		}
	}
	return out
}

func zeroMeanPhase(p []float64, h, w, py, px int) {
	sh, sw := (h-py+1)/2, (w-px+1)/2
	if sh <= 0 || sw <= 0 {
		return
	}
	sub := make([]float64, sh*sw)
	for y := range sh {
		for x := range sw {
			sub[y*sw+x] = p[(2*y+py)*w+2*x+px]
		}
	}
	ZeroMean(sub, sh, sw)
	for y := range sh {
		for x := range sw {
			p[(2*y+py)*w+2*x+px] = sub[y*sw+x]
		}
	}
}
