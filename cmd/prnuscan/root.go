package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for prnuscan.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prnuscan",
		Short: "Camera fingerprint (PRNU) estimation, identification and anonymization",
		Long: `prnuscan works with the photo-response non-uniformity (PRNU) of camera
sensors: the multiplicative noise pattern every sensor leaves in its images.

It estimates a fingerprint per device from flat-field images, attributes
images to devices, and anonymizes images by pushing their correlation with
the fingerprint below a detection threshold while keeping them visually
close to the original.

The dataset is laid out as <dataset>/D<id>/flat and <dataset>/D<id>/nat.
Anonymized images and metrics.json files go to <output>/<algorithm>/D<id>.
Fingerprints, metrics and identification results are stored in a SQLite
database in the XDG data directory unless --db-dir is given.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags that apply to all commands
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().Bool("log-json", false, "Write logs as JSON")
	cmd.PersistentFlags().StringP("config", "c", "",
		"Configuration file path (default: .prnuscan in current or home directory)")

	cmd.AddCommand(NewEstimateCmd())
	cmd.AddCommand(NewAnonymizeCmd())
	cmd.AddCommand(NewMetricsCmd())
	cmd.AddCommand(NewIdentifyCmd())
	cmd.AddCommand(NewReportCmd())
	cmd.AddCommand(NewFingerprintsCmd())
	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
