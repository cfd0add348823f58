// Package anonymize suppresses camera fingerprints in images.
//
// Two attack families share the Attack interface and the Result type:
//   - Search dampens the image multiplicatively with the fingerprint and
//     bisects the dampening strength (fingerprint_removal).
//   - ResidualAttack subtracts an amplified denoising residual with a gain
//     schedule; MedianFiltering and ADP2 are its two presets.
//
// Both stop at the first candidate under the threshold, keep the best
// candidate otherwise, and never return an image scoring worse than the input.
package anonymize
