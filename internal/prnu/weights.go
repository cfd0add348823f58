package prnu

import (
	"math"

	"github.com/nao1215/prnuscan/internal/model"
)

const (
	// intensityKnee is the level above which pixels are attenuated as nearly saturated.
	intensityKnee = 252
	// intensitySpread is the width of the Gaussian roll-off above the knee.
	intensitySpread = 6
	// saturationFloor: images whose maximum stays below it have no saturated pixels.
	saturationFloor = 250
)

// IntenScale maps every sample to a reliability weight: v/252 below the knee
// and exp(-(v-252)^2/6) at or above it.
func IntenScale(img *model.Image) *model.Array {
	out := model.NewArray3D(img.H, img.W, img.Channels())
	for c, p := range img.Pix {
		dst := out.Planes[c]
		for i, v := range p {
			if v < intensityKnee {
				dst[i] = float64(v) / intensityKnee
				continue
			}
			d := float64(v) - intensityKnee
			dst[i] = math.Exp(-d * d / intensitySpread)
		}
	}
	return out
}

// Saturation returns a 0/1 map that is 0 where a pixel equals its channel's
// maximum (when that maximum exceeds 250) and has an equal neighbor to the
// left, right, above or below. Neighbors wrap around the image borders.
// Images whose maximum is below 250 map to all ones, and so does every
// channel whose own maximum does not exceed 250.
func Saturation(img *model.Image) *model.Array {
	c := img.Channels()
	out := model.NewArray3D(img.H, img.W, c)
	for _, p := range out.Planes {
		for i := range p {
			p[i] = 1
		}
	}

	var globalMax uint8
	for ch := range c {
		globalMax = max(globalMax, img.Max(ch))
	}
	if globalMax < saturationFloor {
		return out
	}

	h, w := img.H, img.W
	for ch, p := range img.Pix {
		peak := img.Max(ch)
		if peak <= saturationFloor {
			continue
		}
		dst := out.Planes[ch]
		for y := range h {
			up, down := (y-1+h)%h, (y+1)%h
			for x := range w {
				v := p[y*w+x]
				if v != peak {
					continue
				}
				left, right := (x-1+w)%w, (x+1)%w
				if p[y*w+left] == v || p[y*w+right] == v || p[up*w+x] == v || p[down*w+x] == v {
					dst[y*w+x] = 0
				}
			}
		}
	}
	return out
}

// Weight returns (IntenScale * Saturation)^2, the per-pixel denominator term
// of the fingerprint estimator.
func Weight(img *model.Image) *model.Array {
	is := IntenScale(img)
	sat := Saturation(img)
	for c, p := range is.Planes {
		s := sat.Planes[c]
		for i, v := range p {
			v *= s[i]
			p[i] = v * v
		}
	}
	return is
}
