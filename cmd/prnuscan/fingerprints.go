package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nao1215/prnuscan/internal/config"
	"github.com/nao1215/prnuscan/internal/database"
)

// NewFingerprintsCmd creates the fingerprints command and its subcommands.
func NewFingerprintsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fingerprints",
		Short: "List or delete stored device fingerprints",
		Long: `Fingerprints manages the device fingerprints stored in the database.

Examples:
  # List stored fingerprints
  prnuscan fingerprints list

  # Delete the fingerprints of devices 5 and 12
  prnuscan fingerprints delete 5 12`,
	}
	cmd.PersistentFlags().String(flagDBDir, "",
		"Database directory (default: XDG data directory)")

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored fingerprints",
		Args:  cobra.NoArgs,
		RunE:  runFingerprintsList,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "delete <device>...",
		Short: "Delete the fingerprints of the given devices",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runFingerprintsDelete,
	})

	return cmd
}

// openExistingDB opens the database selected by --db-dir without creating it.
func openExistingDB(cmd *cobra.Command) (*database.DB, error) {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return nil, err
	}
	opts := database.DefaultOptions()
	opts.CreateIfNotExists = false
	return database.Open(cfg.DBDir, opts)
}

func runFingerprintsList(cmd *cobra.Command, _ []string) error {
	db, err := openExistingDB(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	list, err := db.ListFingerprints(context.Background())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(list) == 0 {
		fmt.Fprintln(out, "No fingerprints found in the database.")
		fmt.Fprintln(out, "\nUse 'prnuscan estimate' to estimate device fingerprints.")
		return nil
	}

	fmt.Fprintf(out, "Stored fingerprints (%d):\n\n", len(list))
	fmt.Fprintf(out, "  %-6s  %-11s  %-6s  %-5s  %-6s  %s\n", "Device", "Size", "Levels", "Sigma", "Images", "Created")
	fmt.Fprintln(out, "  "+strings.Repeat("-", 64))
	for _, m := range list {
		fmt.Fprintf(out, "  %-6s  %-11s  %-6d  %-5.1f  %-6d  %s\n",
			"D"+m.Device,
			fmt.Sprintf("%dx%d", m.Width, m.Height),
			m.Levels,
			m.Sigma,
			m.Images,
			m.CreatedAt.Format("2006-01-02 15:04:05"),
		)
	}
	return nil
}

func runFingerprintsDelete(cmd *cobra.Command, args []string) error {
	devices, err := config.ParseDeviceList(strings.Join(args, ","), config.DefaultDeviceMin, config.DefaultDeviceMax)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		return config.ErrNoDevices
	}

	db, err := openExistingDB(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	out := cmd.OutOrStdout()
	var missing []string
	for _, d := range devices {
		err := db.DeleteFingerprint(context.Background(), d)
		switch {
		case errors.Is(err, database.ErrNotFound):
			missing = append(missing, "D"+d)
		case err != nil:
			return err
		default:
			fmt.Fprintf(out, "Deleted fingerprint of D%s\n", d)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", database.ErrNotFound, strings.Join(missing, ", "))
	}
	return nil
}
