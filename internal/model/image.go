package model

// Image is an 8-bit image of shape (H, W, C) stored as one plane per channel.
// Color images use RGB channel order.
type Image struct {
	H, W int
	Pix  [][]uint8
}

// NewImage allocates a zeroed image.
func NewImage(h, w, c int) *Image {
	pix := make([][]uint8, c)
	for i := range pix {
		pix[i] = make([]uint8, h*w)
	}
	return &Image{H: h, W: w, Pix: pix}
}

// Channels returns the number of channels.
func (m *Image) Channels() int { return len(m.Pix) }

// Len returns the number of pixels in one channel.
func (m *Image) Len() int { return m.H * m.W }

// At returns the sample at row y, column x of channel c.
func (m *Image) At(y, x, c int) uint8 { return m.Pix[c][y*m.W+x] }

// Set stores v at row y, column x of channel c.
func (m *Image) Set(y, x, c int, v uint8) { m.Pix[c][y*m.W+x] = v }

// ToArray converts the image to a rank-3 float array without rescaling.
func (m *Image) ToArray() *Array {
	out := NewArray3D(m.H, m.W, len(m.Pix))
	for c, p := range m.Pix {
		dst := out.Planes[c]
		for i, v := range p {
			dst[i] = float64(v)
		}
	}
	return out
}

// Max returns the largest sample of channel c.
func (m *Image) Max(c int) uint8 {
	var mx uint8
	for _, v := range m.Pix[c] {
		if v > mx {
			mx = v
		}
	}
	return mx
}
