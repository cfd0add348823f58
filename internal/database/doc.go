// Package database provides SQLite-based storage for prnuscan.
//
// The database holds:
//   - Camera fingerprints, one per device, stored as raw float64 patterns
//   - Per-image metrics of every anonymization experiment
//   - Source camera identification results
//
// It uses modernc.org/sqlite, a CGO-free driver, so the whole store is a
// single file under the XDG data directory.
package database
