package model

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Array is a dense float64 array of shape (H, W) or (H, W, C).
// Samples are stored planar: one row-major plane per channel.
// A rank-2 array always carries exactly one plane.
//
// Arrays are the working domain of every numeric stage. They are
// never clipped or rounded except at the save boundary (see ToImage).
type Array struct {
	H, W   int
	rank   int
	Planes [][]float64
}

// NewArray2D allocates a zeroed (h, w) array.
func NewArray2D(h, w int) *Array {
	return &Array{H: h, W: w, rank: 2, Planes: [][]float64{make([]float64, h*w)}}
}

// NewArray3D allocates a zeroed (h, w, c) array.
func NewArray3D(h, w, c int) *Array {
	planes := make([][]float64, c)
	for i := range planes {
		planes[i] = make([]float64, h*w)
	}
	return &Array{H: h, W: w, rank: 3, Planes: planes}
}

// ArrayFromPlane wraps an existing row-major plane as a rank-2 array.
// The slice is not copied.
func ArrayFromPlane(h, w int, plane []float64) (*Array, error) {
	if len(plane) != h*w {
		return nil, fmt.Errorf("%w: plane of %d samples for %dx%d", ErrShapeMismatch, len(plane), h, w)
	}
	return &Array{H: h, W: w, rank: 2, Planes: [][]float64{plane}}, nil
}

// Rank returns 2 or 3.
func (a *Array) Rank() int { return a.rank }

// Channels returns the number of planes.
func (a *Array) Channels() int { return len(a.Planes) }

// Len returns the number of samples in one plane.
func (a *Array) Len() int { return a.H * a.W }

// Size returns the total number of samples.
func (a *Array) Size() int { return a.H * a.W * len(a.Planes) }

// Shape returns the array shape in (H, W[, C]) order.
func (a *Array) Shape() []int {
	if a.rank == 2 {
		return []int{a.H, a.W}
	}
	return []int{a.H, a.W, len(a.Planes)}
}

// At returns the sample at row y, column x of channel c.
func (a *Array) At(y, x, c int) float64 { return a.Planes[c][y*a.W+x] }

// Set stores v at row y, column x of channel c.
func (a *Array) Set(y, x, c int, v float64) { a.Planes[c][y*a.W+x] = v }

// Rows returns row views of channel c. The rows alias the plane.
func (a *Array) Rows(c int) [][]float64 {
	rows := make([][]float64, a.H)
	p := a.Planes[c]
	for y := range rows {
		rows[y] = p[y*a.W : (y+1)*a.W]
	}
	return rows
}

// Clone returns a deep copy.
func (a *Array) Clone() *Array {
	out := &Array{H: a.H, W: a.W, rank: a.rank, Planes: make([][]float64, len(a.Planes))}
	for i, p := range a.Planes {
		out.Planes[i] = append([]float64(nil), p...)
	}
	return out
}

// SameShape reports whether a and b have identical rank, size and channel count.
func (a *Array) SameShape(b *Array) bool {
	return a.rank == b.rank && a.H == b.H && a.W == b.W && len(a.Planes) == len(b.Planes)
}

// Flatten returns every sample in (H, W, C) row-major order, the layout
// used when an array is treated as a one-dimensional signal.
func (a *Array) Flatten() []float64 {
	c := len(a.Planes)
	out := make([]float64, a.H*a.W*c)
	for ch, p := range a.Planes {
		for i, v := range p {
			out[i*c+ch] = v
		}
	}
	return out
}

// Mean returns the mean over all samples.
func (a *Array) Mean() float64 {
	var sum float64
	for _, p := range a.Planes {
		sum += floats.Sum(p)
	}
	return sum / float64(a.Size())
}

// Std returns the sample standard deviation (N-1 denominator) over all samples.
func (a *Array) Std() float64 {
	if a.rank == 2 {
		return stat.StdDev(a.Planes[0], nil)
	}
	return stat.StdDev(a.Flatten(), nil)
}

// Scale multiplies every sample by s in place.
func (a *Array) Scale(s float64) {
	for _, p := range a.Planes {
		floats.Scale(s, p)
	}
}

// Broadcast returns a rank-3 array with c copies of a rank-2 array.
func (a *Array) Broadcast(c int) (*Array, error) {
	if a.rank != 2 {
		return nil, fmt.Errorf("%w: broadcast needs rank 2, got rank %d", ErrRankMismatch, a.rank)
	}
	out := NewArray3D(a.H, a.W, c)
	for _, p := range out.Planes {
		copy(p, a.Planes[0])
	}
	return out, nil
}

// IsFinite reports whether no sample is NaN or infinite.
func (a *Array) IsFinite() bool {
	for _, p := range a.Planes {
		for _, v := range p {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}

// ToImage converts the array to 8-bit samples by rounding and clipping to [0, 255].
// A rank-2 array becomes a single-channel image.
func (a *Array) ToImage() *Image {
	img := NewImage(a.H, a.W, len(a.Planes))
	for c, p := range a.Planes {
		dst := img.Pix[c]
		for i, v := range p {
			switch {
			case v <= 0 || math.IsNaN(v):
				dst[i] = 0
			case v >= 255:
				dst[i] = 255
			default:
				dst[i] = uint8(math.Round(v))
			}
		}
	}
	return img
}
