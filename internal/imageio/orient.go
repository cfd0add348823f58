package imageio

import "github.com/nao1215/prnuscan/internal/model"

// ToDisplay turns an array stored in sensor order into the upright view its
// EXIF orientation describes. Orientations other than 3, 6 and 8 leave the
// array as is. The result never aliases a.
func ToDisplay(a *model.Array, orientation int) *model.Array {
	switch orientation {
	case 3:
		return rotate180(a)
	case 6:
		return rotateCW(a)
	case 8:
		return rotateCCW(a)
	default:
		return a.Clone()
	}
}

// ToSensor undoes ToDisplay.
func ToSensor(a *model.Array, orientation int) *model.Array {
	switch orientation {
	case 3:
		return rotate180(a)
	case 6:
		return rotateCCW(a)
	case 8:
		return rotateCW(a)
	default:
		return a.Clone()
	}
}

// rotated allocates an array of a's rank and channel count with swapped sides.
func rotated(a *model.Array, h, w int) *model.Array {
	if a.Rank() == 2 {
		return model.NewArray2D(h, w)
	}
	return model.NewArray3D(h, w, a.Channels())
}

func rotateCW(a *model.Array) *model.Array {
	out := rotated(a, a.W, a.H)
	for c, src := range a.Planes {
		dst := out.Planes[c]
		for y := range out.H {
			for x := range out.W {
				dst[y*out.W+x] = src[(a.H-1-x)*a.W+y]
			}
		}
	}
	return out
}

func rotateCCW(a *model.Array) *model.Array {
	out := rotated(a, a.W, a.H)
	for c, src := range a.Planes {
		dst := out.Planes[c]
		for y := range out.H {
			for x := range out.W {
				dst[y*out.W+x] = src[x*a.W+(a.W-1-y)]
			}
		}
	}
	return out
}

func rotate180(a *model.Array) *model.Array {
	out := rotated(a, a.H, a.W)
	n := a.Len()
	for c, src := range a.Planes {
		dst := out.Planes[c]
		for i, v := range src {
			dst[n-1-i] = v
		}
	}
	return out
}
