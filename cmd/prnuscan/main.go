// Package main provides the entry point for the prnuscan CLI.
//
// prnuscan estimates camera sensor fingerprints (PRNU), attributes images to
// the camera that took them, and removes the fingerprint from images while
// keeping them visually intact.
//
// Usage:
//
//	prnuscan estimate --dataset ./dataset --devices 1-5
//	prnuscan anonymize --dataset ./dataset --output ./output --devices 1-5
//	prnuscan report --markdown
//
// See --help for all available options.
package main

// main is the entry point for prnuscan.
func main() {
	Execute()
}
