package model

import "time"

// Fingerprint is the estimated sensor pattern of one camera.
// It is a rank-2 array with the height and width of the images it was built
// from, and is treated as immutable once aggregation finishes.
type Fingerprint struct {
	// Device identifies the camera, e.g. "05".
	Device string `json:"device"`

	// K is the noise pattern.
	K *Array `json:"-"`

	// Levels is the wavelet depth used for residual extraction.
	Levels int `json:"levels"`

	// Sigma is the assumed noise standard deviation used for extraction.
	Sigma float64 `json:"sigma"`

	// Images is the number of images that contributed.
	Images int `json:"images"`

	// CreatedAt is when aggregation finished.
	CreatedAt time.Time `json:"created_at"`
}

// Height returns the fingerprint height.
func (f *Fingerprint) Height() int { return f.K.H }

// Width returns the fingerprint width.
func (f *Fingerprint) Width() int { return f.K.W }

// Matches reports whether an image of size h x w can be tested against f.
func (f *Fingerprint) Matches(h, w int) bool {
	return f.K.H == h && f.K.W == w
}
