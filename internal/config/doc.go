// Package config provides configuration structures and utilities for prnuscan.
// It defines the numeric defaults of extraction, detection and the three
// anonymization algorithms, the YAML configuration file with per-algorithm
// sections, environment overrides and device list parsing.
package config
