// Package report summarizes anonymization experiments and writes them out.
//
// A Summary aggregates per-image metrics into per-device averages, outcome
// counts and algorithm-against-algorithm wins, plus identification accuracy
// when attribution results are available. Writers render it as plain text
// for the terminal, JSON for tooling or Markdown for sharing.
//
// The package also reads and writes the per-device metrics.json files kept
// next to the anonymized images.
package report
