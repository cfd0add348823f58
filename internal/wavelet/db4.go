package wavelet

import (
	"errors"
	"fmt"
)

// FilterLen is the number of taps of the Daubechies-4 filter bank
// (four vanishing moments, pywt "db4").
const FilterLen = 8

// ErrLevelInfeasible is returned when an image is too small to be
// decomposed to the requested depth.
var ErrLevelInfeasible = errors.New("wavelet decomposition level infeasible")

// lo is the orthonormal db4 scaling filter. hi is its quadrature mirror:
// hi[j] = (-1)^j lo[FilterLen-1-j].
var (
	lo = [FilterLen]float64{
		0.23037781330885523,
		0.7148465705525415,
		0.6308807679295904,
		-0.02798376941698385,
		-0.18703481171888114,
		0.030841381835986965,
		0.032883011666982945,
		-0.010597401784997278,
	}
	hi = func() [FilterLen]float64 {
		var g [FilterLen]float64
		for j := range FilterLen {
			g[j] = lo[FilterLen-1-j]
			if j%2 == 1 {
				g[j] = -g[j]
			}
		}
		return g
	}()
)

// Band is one row-major subband.
type Band struct {
	H, W int
	Data []float64
}

// Level holds the three detail subbands of one decomposition level.
type Level struct {
	// Horizontal is low-pass along rows and high-pass along columns.
	Horizontal Band
	// Vertical is high-pass along rows and low-pass along columns.
	Vertical Band
	// Diagonal is high-pass in both directions.
	Diagonal Band
}

// Bands returns pointers to the three detail subbands.
func (l *Level) Bands() []*Band {
	return []*Band{&l.Horizontal, &l.Vertical, &l.Diagonal}
}

// Decomposition is a multi-level 2-D wavelet decomposition.
// Levels[0] is the finest level. Approx is the coarsest approximation.
type Decomposition struct {
	Approx Band
	Levels []Level

	// sizes[l] is the unpadded input size at level l, used to crop on reconstruction.
	sizes [][2]int
}

// MaxLevel returns the deepest feasible decomposition of an h x w plane.
// A level is feasible when both dimensions at that level are at least FilterLen.
func MaxLevel(h, w int) int {
	n := 0
	for h >= FilterLen && w >= FilterLen {
		n++
		h, w = (h+1)/2, (w+1)/2
	}
	return n
}

// Decompose runs a periodized db4 decomposition of an h x w row-major plane.
// Odd dimensions are extended by repeating the last row or column.
// The input plane is not modified.
func Decompose(plane []float64, h, w, levels int) (*Decomposition, error) {
	if len(plane) != h*w {
		return nil, fmt.Errorf("plane of %d samples for %dx%d", len(plane), h, w)
	}
	if levels < 1 || levels > MaxLevel(h, w) {
		return nil, fmt.Errorf("%w: %d levels on %dx%d (max %d)", ErrLevelInfeasible, levels, h, w, MaxLevel(h, w))
	}

	d := &Decomposition{Levels: make([]Level, levels), sizes: make([][2]int, levels)}
	cur := Band{H: h, W: w, Data: append([]float64(nil), plane...)}
	for l := range levels {
		d.sizes[l] = [2]int{cur.H, cur.W}
		ll, lvl := forward2D(extendEven(cur))
		d.Levels[l] = lvl
		cur = ll
	}
	d.Approx = cur
	return d, nil
}

// Reconstruct inverts the decomposition and returns a plane with the
// original height and width.
func (d *Decomposition) Reconstruct() []float64 {
	cur := d.Approx
	for l := len(d.Levels) - 1; l >= 0; l-- {
		full := inverse2D(cur, d.Levels[l])
		cur = crop(full, d.sizes[l][0], d.sizes[l][1])
	}
	return cur.Data
}

// Size returns the original plane size.
func (d *Decomposition) Size() (h, w int) {
	return d.sizes[0][0], d.sizes[0][1]
}

func extendEven(b Band) Band {
	eh, ew := b.H+b.H%2, b.W+b.W%2
	if eh == b.H && ew == b.W {
		return b
	}
	out := Band{H: eh, W: ew, Data: make([]float64, eh*ew)}
	for y := range eh {
		sy := min(y, b.H-1)
		row := out.Data[y*ew : (y+1)*ew]
		copy(row, b.Data[sy*b.W:(sy+1)*b.W])
		if ew > b.W {
			row[ew-1] = row[b.W-1]
		}
	}
	return out
}

func crop(b Band, h, w int) Band {
	if b.H == h && b.W == w {
		return b
	}
	out := Band{H: h, W: w, Data: make([]float64, h*w)}
	for y := range h {
		copy(out.Data[y*w:(y+1)*w], b.Data[y*b.W:y*b.W+w])
	}
	return out
}

// forward2D transforms rows then columns of an even-sized band.
func forward2D(b Band) (Band, Level) {
	hh, hw := b.H/2, b.W/2

	// row pass: L and H halves, each b.H x hw
	rowLo := make([]float64, b.H*hw)
	rowHi := make([]float64, b.H*hw)
	for y := range b.H {
		analyze(b.Data[y*b.W:(y+1)*b.W], rowLo[y*hw:(y+1)*hw], rowHi[y*hw:(y+1)*hw])
	}

	ll := newBand(hh, hw)
	lvl := Level{Horizontal: newBand(hh, hw), Vertical: newBand(hh, hw), Diagonal: newBand(hh, hw)}

	col := make([]float64, b.H)
	a := make([]float64, hh)
	d := make([]float64, hh)
	for x := range hw {
		columnPass(rowLo, hw, x, col, a, d)
		for y := range hh {
			ll.Data[y*hw+x] = a[y]
			lvl.Horizontal.Data[y*hw+x] = d[y]
		}
		columnPass(rowHi, hw, x, col, a, d)
		for y := range hh {
			lvl.Vertical.Data[y*hw+x] = a[y]
			lvl.Diagonal.Data[y*hw+x] = d[y]
		}
	}
	return ll, lvl
}

func columnPass(src []float64, stride, x int, col, a, d []float64) {
	for y := range col {
		col[y] = src[y*stride+x]
	}
	analyze(col, a, d)
}

// inverse2D undoes forward2D and returns the even-sized band.
func inverse2D(ll Band, lvl Level) Band {
	hh, hw := ll.H, ll.W
	h, w := 2*hh, 2*hw

	rowLo := make([]float64, h*hw)
	rowHi := make([]float64, h*hw)
	col := make([]float64, h)
	a := make([]float64, hh)
	d := make([]float64, hh)
	for x := range hw {
		for y := range hh {
			a[y] = ll.Data[y*hw+x]
			d[y] = lvl.Horizontal.Data[y*hw+x]
		}
		synthesize(a, d, col)
		for y := range h {
			rowLo[y*hw+x] = col[y]
		}
		for y := range hh {
			a[y] = lvl.Vertical.Data[y*hw+x]
			d[y] = lvl.Diagonal.Data[y*hw+x]
		}
		synthesize(a, d, col)
		for y := range h {
			rowHi[y*hw+x] = col[y]
		}
	}

	out := newBand(h, w)
	for y := range h {
		synthesize(rowLo[y*hw:(y+1)*hw], rowHi[y*hw:(y+1)*hw], out.Data[y*w:(y+1)*w])
	}
	return out
}

// analyze splits an even-length periodic signal into approximation and detail.
func analyze(x, a, d []float64) {
	n := len(x)
	for k := range a {
		var sa, sd float64
		for j := range FilterLen {
			idx := (2*k + j) % n
			sa += lo[j] * x[idx]
			sd += hi[j] * x[idx]
		}
		a[k], d[k] = sa, sd
	}
}

// synthesize is the adjoint of analyze and, the transform being orthonormal, its inverse.
func synthesize(a, d, out []float64) {
	n := len(out)
	clear(out)
	for k := range a {
		for j := range FilterLen {
			idx := (2*k + j) % n
			out[idx] += lo[j]*a[k] + hi[j]*d[k]
		}
	}
}

func newBand(h, w int) Band {
	return Band{H: h, W: w, Data: make([]float64, h*w)}
}
