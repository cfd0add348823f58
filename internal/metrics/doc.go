// Package metrics measures how well an anonymized image hides its camera:
// PCE and CCN of the original and anonymized image against the device
// fingerprint, and PSNR between the two as the quality cost.
package metrics
