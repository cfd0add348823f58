// Package model defines the data structures shared across prnuscan.
//
// This package contains the following main types:
//   - Image: an 8-bit planar image as decoded from disk
//   - Array: a float64 planar array of rank 2 or 3, the working domain of
//     every numeric stage
//   - Fingerprint: the estimated sensor pattern of one camera
//   - Job: one image moving through a batch pipeline
//   - ImageMetrics and DeviceSummary: measurements written to reports and storage
//
// Keeping them in one package lets prnu, correlation, detection, anonymize,
// pipeline and report share them without import cycles.
package model
