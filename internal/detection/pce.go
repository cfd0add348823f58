package detection

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/nao1215/prnuscan/internal/correlation"
	"github.com/nao1215/prnuscan/internal/model"
)

// DefaultPCERadius is the half-width of the square excluded around the peak.
const DefaultPCERadius = 2

// ErrUnmeasurable is returned when a statistic has no finite value: the
// correlation floor has zero energy, no floor samples remain, or the input
// holds NaN or infinity. It is distinct from a zero statistic.
var ErrUnmeasurable = errors.New("statistic unmeasurable")

// PCEResult is the peak-to-correlation-energy of a correlation map.
type PCEResult struct {
	// Value is peak^2 / floor energy, carrying the sign of the peak.
	Value float64
	// PeakY and PeakX locate the global maximum of the map.
	PeakY, PeakX int
	// PeakHeight is the map value at the peak.
	PeakHeight float64
	// LagY and LagX are the circular shift the peak corresponds to.
	LagY, LagX int
	// Energy is the mean square of the floor region.
	Energy float64
}

// PCE computes the peak-to-correlation-energy ratio of a rank-2 map.
//
// The peak is the first global maximum in row-major order. The floor is every
// sample outside the (2r+1) x (2r+1) square around the peak, clipped to the
// map, and its energy is the mean of squared samples.
func PCE(cc *model.Array, radius int) (*PCEResult, error) {
	if cc.Rank() != 2 {
		return nil, fmt.Errorf("%w: PCE needs a rank 2 map, got rank %d", model.ErrRankMismatch, cc.Rank())
	}
	if radius < 0 {
		return nil, fmt.Errorf("negative PCE radius %d", radius)
	}
	if cc.Len() == 0 || !cc.IsFinite() {
		return nil, fmt.Errorf("%w: empty or non-finite map", ErrUnmeasurable)
	}

	m := cc.Planes[0]
	idx := floats.MaxIdx(m)
	py, px := idx/cc.W, idx%cc.W
	peak := m[idx]

	y0, y1 := max(0, py-radius), min(cc.H, py+radius+1)
	x0, x1 := max(0, px-radius), min(cc.W, px+radius+1)

	var sum float64
	for y := range cc.H {
		row := m[y*cc.W : (y+1)*cc.W]
		for x, v := range row {
			if y >= y0 && y < y1 && x >= x0 && x < x1 {
				continue
			}
			sum += v * v
		}
	}
	n := cc.Len() - (y1-y0)*(x1-x0)
	if n <= 0 {
		return nil, fmt.Errorf("%w: no samples outside the peak neighborhood", ErrUnmeasurable)
	}
	energy := sum / float64(n)
	if energy <= 0 {
		return nil, fmt.Errorf("%w: zero floor energy", ErrUnmeasurable)
	}

	ly, lx := correlation.Lag(cc.H, cc.W, py, px)
	return &PCEResult{
		Value:      peak * peak / energy * sign(peak),
		PeakY:      py,
		PeakX:      px,
		PeakHeight: peak,
		LagY:       ly,
		LagX:       lx,
		Energy:     energy,
	}, nil
}

// PCEOf correlates an image (or residual) with a rank-2 fingerprint and
// returns the PCE of the resulting map.
func PCEOf(img, k *model.Array, radius int) (*PCEResult, error) {
	cc, err := correlation.CrossCorrFingerprint(img, k)
	if err != nil {
		return nil, err
	}
	return PCE(cc, radius)
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}
