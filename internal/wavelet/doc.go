// Package wavelet implements a multi-level, periodized 2-D Daubechies-4
// (8-tap) discrete wavelet transform and its inverse.
//
// Each level transforms rows then columns. Odd sizes are extended by one
// repeated sample and cropped back on reconstruction, so Reconstruct always
// returns a plane of the original size.
package wavelet
