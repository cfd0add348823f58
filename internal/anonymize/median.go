package anonymize

import (
	"slices"

	"github.com/nao1215/prnuscan/internal/model"
)

// Median applies a kernel x kernel median filter to every channel.
// Borders replicate the nearest edge sample.
func Median(img *model.Array, kernel int) *model.Array {
	out := img.Clone()
	r := kernel / 2
	win := make([]float64, 0, kernel*kernel)
	h, w := img.H, img.W
	for c, src := range img.Planes {
		dst := out.Planes[c]
		for y := range h {
			for x := range w {
				win = win[:0]
				for dy := -r; dy <= r; dy++ {
					sy := min(max(y+dy, 0), h-1)
					for dx := -r; dx <= r; dx++ {
						sx := min(max(x+dx, 0), w-1)
						win = append(win, src[sy*w+sx])
					}
				}
				slices.Sort(win)
				dst[y*w+x] = win[len(win)/2]
			}
		}
	}
	return out
}
