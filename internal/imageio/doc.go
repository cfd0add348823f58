// Package imageio reads and writes images at the boundary of the numeric core.
//
// Decoding produces 8-bit RGB planes in stored order, and encoding rounds and
// clips working arrays back to 8 bits. EXIF metadata is read to reject
// unsupported orientations and to collect the tags that identify a device.
// Layout maps device and algorithm names to the dataset and output
// directories.
package imageio
