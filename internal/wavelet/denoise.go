package wavelet

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// SoftThreshold shrinks every sample of b toward zero by t.
func SoftThreshold(b *Band, t float64) {
	for i, v := range b.Data {
		switch {
		case v > t:
			b.Data[i] = v - t
		case v < -t:
			b.Data[i] = v + t
		default:
			b.Data[i] = 0
		}
	}
}

// Denoise soft-thresholds every detail subband by its own sample standard
// deviation and reconstructs. levels is clamped to MaxLevel; a plane too small
// for a single level is returned unchanged.
func Denoise(plane []float64, h, w, levels int) []float64 {
	levels = min(levels, MaxLevel(h, w))
	if levels < 1 {
		return append([]float64(nil), plane...)
	}
	d, err := Decompose(plane, h, w, levels)
	if err != nil {
		return append([]float64(nil), plane...)
	}
	for l := range d.Levels {
		for _, b := range d.Levels[l].Bands() {
			t := stat.StdDev(b.Data, nil)
			if math.IsNaN(t) {
				continue
			}
			SoftThreshold(b, t)
		}
	}
	return d.Reconstruct()
}
