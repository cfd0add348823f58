// Package correlation computes cross-correlation maps between noise
// residuals and fingerprints.
//
// Maps are circular and computed in the frequency domain. The second input is
// rotated by 180 degrees before the product, which places the zero-lag term
// in the last row and column of the map.
package correlation
