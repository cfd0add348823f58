// Package prnu extracts sensor noise residuals from images and aggregates
// them into camera fingerprints.
//
// Residual extraction decomposes each channel with a db4 wavelet, shrinks
// every detail subband with an adaptive Wiener filter, discards the
// approximation and reconstructs. Fingerprint estimation weights each residual
// by its image, normalizes by intensity and saturation weights, and
// post-processes the result (gray conversion, per-phase zero mean, spectral
// Wiener filtering) to suppress periodic artifacts that are not sensor specific.
//
// Aggregation is a fold: every worker owns its Accumulator and the partial
// accumulators are merged at the end.
package prnu
