package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/nao1215/prnuscan/internal/config"
	"github.com/nao1215/prnuscan/internal/imageio"
)

// newFlagCmd returns a command carrying every shared flag, parsed from args.
func newFlagCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "test"}
	cmd.PersistentFlags().BoolP("verbose", "v", false, "")
	cmd.PersistentFlags().Bool("log-json", false, "")
	cmd.PersistentFlags().StringP("config", "c", "", "")
	addDatasetFlags(cmd)
	addOutputFlag(cmd)
	addAlgorithmsFlag(cmd)
	addDBFlag(cmd)
	cmd.Flags().String(flagEvalDBDir, "", "")
	cmd.Flags().Float64(flagEstimationSigma, config.DefaultEstimationSigma, "")
	addWorkerFlags(cmd)
	addExtractionFlags(cmd)
	addReportFlags(cmd)
	if err := cmd.ParseFlags(args); err != nil {
		t.Fatalf("failed to parse flags: %v", err)
	}
	return cmd
}

func TestBuildConfig(t *testing.T) {
	t.Parallel()

	t.Run("defaults are kept when no flag is set", func(t *testing.T) {
		t.Parallel()

		cfg, err := buildConfig(newFlagCmd(t))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Levels != config.DefaultLevels || cfg.Sigma != config.DefaultSigma {
			t.Errorf("unexpected extraction settings %d/%v", cfg.Levels, cfg.Sigma)
		}
		if cfg.Workers <= 0 {
			t.Errorf("expected CPU count workers, got %d", cfg.Workers)
		}
		if len(cfg.Algorithms) != 3 {
			t.Errorf("expected every algorithm, got %v", cfg.Algorithms)
		}
	})

	t.Run("flags override defaults", func(t *testing.T) {
		t.Parallel()

		cmd := newFlagCmd(t,
			"--dataset", "/data",
			"--output", "/out",
			"--devices", "3,1-2",
			"--algorithms", "adp2,median_filtering",
			"--workers", "3",
			"--timeout", "30s",
			"--db-dir", "/db",
			"--eval-db-dir", "/eval",
			"--levels", "5",
			"--sigma", "2.5",
			"--estimation-sigma", "1.5",
			"--pce-radius", "4",
			"--ccn-neighbors", "10",
			"--markdown",
			"--file", "/tmp/r.md",
			"-v",
		)
		cfg, err := buildConfig(cmd)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if cfg.Dataset != "/data" || cfg.Output != "/out" || cfg.DBDir != "/db" || cfg.EvalDBDir != "/eval" {
			t.Errorf("unexpected paths %+v", cfg)
		}
		if strings.Join(cfg.Devices, ",") != "01,02,03" {
			t.Errorf("unexpected devices %v", cfg.Devices)
		}
		if strings.Join(cfg.Algorithms, ",") != "adp2,median_filtering" {
			t.Errorf("unexpected algorithms %v", cfg.Algorithms)
		}
		if cfg.Workers != 3 || cfg.JobTimeout != 30*time.Second {
			t.Errorf("unexpected limits %d/%s", cfg.Workers, cfg.JobTimeout)
		}
		if cfg.Levels != 5 || cfg.Sigma != 2.5 || cfg.EstimationSigma != 1.5 {
			t.Errorf("unexpected extraction settings %d/%v/%v", cfg.Levels, cfg.Sigma, cfg.EstimationSigma)
		}
		if cfg.PCERadius != 4 || cfg.CCNNeighbors != 10 {
			t.Errorf("unexpected statistic settings %d/%d", cfg.PCERadius, cfg.CCNNeighbors)
		}
		if !cfg.MarkdownReport || cfg.JSONReport || cfg.ReportFile != "/tmp/r.md" {
			t.Errorf("unexpected report settings %+v", cfg)
		}
		if !cfg.Verbose {
			t.Error("expected verbose")
		}
	})

	t.Run("config file is applied under flags", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "prnuscan.yaml")
		content := `dataset: /from-file
levels: 6
devices: "7"
algorithms:
  median_filtering:
    kernel: 5
`
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}

		cfg, err := buildConfig(newFlagCmd(t, "--config", path, "--levels", "3"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Dataset != "/from-file" {
			t.Errorf("expected dataset from file, got %q", cfg.Dataset)
		}
		if cfg.Levels != 3 {
			t.Errorf("expected flag to win over file, got %d", cfg.Levels)
		}
		if len(cfg.Devices) != 1 || cfg.Devices[0] != "07" {
			t.Errorf("unexpected devices %v", cfg.Devices)
		}
		if k := cfg.Algorithm(config.AlgorithmMedianFiltering).Kernel; k != 5 {
			t.Errorf("expected kernel 5, got %d", k)
		}
	})

	t.Run("explicit missing config file is an error", func(t *testing.T) {
		t.Parallel()

		_, err := buildConfig(newFlagCmd(t, "--config", filepath.Join(t.TempDir(), "missing.yaml")))
		if !errors.Is(err, config.ErrConfigNotFound) {
			t.Errorf("expected ErrConfigNotFound, got %v", err)
		}
	})

	t.Run("invalid device list is an error", func(t *testing.T) {
		t.Parallel()

		_, err := buildConfig(newFlagCmd(t, "--devices", "x-y"))
		if !errors.Is(err, config.ErrInvalidDeviceList) {
			t.Errorf("expected ErrInvalidDeviceList, got %v", err)
		}
	})
}

func TestBuildConfigEnvironment(t *testing.T) {
	t.Setenv(config.EnvDataset, "/from-env")
	t.Setenv(config.EnvDevices, "4")

	cfg, err := buildConfig(newFlagCmd(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Dataset != "/from-env" {
		t.Errorf("expected dataset from environment, got %q", cfg.Dataset)
	}
	if len(cfg.Devices) != 1 || cfg.Devices[0] != "04" {
		t.Errorf("unexpected devices %v", cfg.Devices)
	}

	cfg, err = buildConfig(newFlagCmd(t, "--dataset", "/from-flag"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Dataset != "/from-flag" {
		t.Errorf("expected flag to win over environment, got %q", cfg.Dataset)
	}
}

func TestResolveDevices(t *testing.T) {
	t.Parallel()

	t.Run("discovers devices in the dataset", func(t *testing.T) {
		t.Parallel()

		root := t.TempDir()
		for _, d := range []string{"D02", "D40", "Dx", "other"} {
			if err := os.MkdirAll(filepath.Join(root, d), 0o750); err != nil {
				t.Fatal(err)
			}
		}
		cfg := config.NewConfig()
		if err := resolveDevices(cfg, imageio.Layout{Dataset: root}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(cfg.Devices) != 1 || cfg.Devices[0] != "02" {
			t.Errorf("expected only in-range numeric devices, got %v", cfg.Devices)
		}
	})

	t.Run("keeps an explicit selection", func(t *testing.T) {
		t.Parallel()

		cfg := config.NewConfig()
		cfg.Devices = []string{"09"}
		if err := resolveDevices(cfg, imageio.Layout{Dataset: "/does/not/exist"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Devices[0] != "09" {
			t.Errorf("unexpected devices %v", cfg.Devices)
		}
	})
}

func TestSetupLogger(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		args    []string
		debug   bool
		jsonOut bool
	}{
		{name: "warn level text by default"},
		{name: "debug level when verbose", args: []string{"-v"}, debug: true},
		{name: "json output", args: []string{"--log-json", "-v"}, debug: true, jsonOut: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			cmd := newFlagCmd(t, tt.args...)
			cmd.SetErr(&buf)
			logger := setupLogger(cmd)
			logger.Debug("debug message")
			logger.Warn("warn message")

			out := buf.String()
			if got := strings.Contains(out, "debug message"); got != tt.debug {
				t.Errorf("debug logged = %v, want %v", got, tt.debug)
			}
			if !strings.Contains(out, "warn message") {
				t.Error("expected warn message")
			}
			if got := strings.HasPrefix(out, "{"); got != tt.jsonOut {
				t.Errorf("json output = %v, want %v", got, tt.jsonOut)
			}
		})
	}
}

func TestLogFailure(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	cmd := newFlagCmd(t, "--log-json")
	cmd.SetErr(&buf)
	logFailure(setupLogger(cmd), "image failed", errors.New("boom"), "device", "05")

	out := buf.String()
	for _, want := range []string{`"msg":"image failed"`, `"device":"05"`, "boom"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %s in %s", want, out)
		}
	}
}

func TestOpenOutput(t *testing.T) {
	t.Parallel()

	t.Run("falls back when no path is given", func(t *testing.T) {
		t.Parallel()

		var fallback bytes.Buffer
		w, closeFn, err := openOutput("", &fallback)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if w != &fallback {
			t.Error("expected the fallback writer")
		}
		if err := closeFn(); err != nil {
			t.Error(err)
		}
	})

	t.Run("creates parent directories", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "a", "b", "report.txt")
		w, closeFn, err := openOutput(path, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := w.Write([]byte("hello")); err != nil {
			t.Fatal(err)
		}
		if err := closeFn(); err != nil {
			t.Fatal(err)
		}
		data, err := os.ReadFile(path)
		if err != nil || string(data) != "hello" {
			t.Errorf("unexpected content %q (%v)", data, err)
		}
	})
}
