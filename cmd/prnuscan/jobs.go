package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/nao1215/prnuscan/internal/config"
	"github.com/nao1215/prnuscan/internal/database"
	"github.com/nao1215/prnuscan/internal/imageio"
	"github.com/nao1215/prnuscan/internal/model"
	"github.com/nao1215/prnuscan/internal/pipeline"
	"github.com/nao1215/prnuscan/internal/report"
)

// buildJobs creates one job per natural image of every device, paired with
// its output path under algorithm. Devices whose directory cannot be listed
// are logged and left out.
func buildJobs(layout imageio.Layout, algorithm string, devices []string, logger *slog.Logger) []*model.Job {
	var jobs []*model.Job
	for _, device := range devices {
		files, err := imageio.List(layout.Natural(device))
		if err != nil {
			logFailure(logger, "failed to list natural images", err, "device", device)
			continue
		}
		for _, f := range files {
			jobs = append(jobs, model.NewJob(device, algorithm, f, layout.AnonymizedPath(algorithm, device, f)))
		}
	}
	return jobs
}

// tally counts job results for the end-of-run summary.
type tally struct {
	done     int
	skipped  int
	failed   int
	outcomes map[model.Outcome]int
}

func newTally() *tally {
	return &tally{outcomes: make(map[model.Outcome]int)}
}

func (t *tally) add(job *model.Job) {
	switch {
	case job.Failed():
		t.failed++
	case job.Skipped:
		t.skipped++
	default:
		t.done++
		if job.Outcome != model.OutcomeUnknown {
			t.outcomes[job.Outcome]++
		}
	}
}

func (t *tally) print(out io.Writer, algorithm string) {
	fmt.Fprintf(out, "%s: %d processed, %d skipped, %d failed\n",
		report.DisplayName(algorithm), t.done, t.skipped, t.failed)
	for _, o := range model.Outcomes() {
		if n := t.outcomes[o]; n > 0 {
			fmt.Fprintf(out, "  %-14s %d\n", o.String(), n)
		}
	}
}

// runJobs pushes jobs through pipelines built by factory and prints one
// line per finished job. It returns only when the context is cancelled.
func runJobs(ctx context.Context, cfg *config.Config, factory func() *pipeline.Pipeline, jobs []*model.Job, logger *slog.Logger, out io.Writer) (*tally, error) {
	bp := pipeline.NewBatchProcessor(factory,
		pipeline.WithConcurrency(cfg.Workers),
		pipeline.WithJobTimeout(cfg.JobTimeout),
		pipeline.WithBatchLogger(logger),
	)

	t := newTally()
	var mu sync.Mutex
	err := bp.ProcessBatchWithCallback(ctx, jobs, func(job *model.Job, index int) {
		mu.Lock()
		defer mu.Unlock()

		t.add(job)
		status := job.Outcome.String()
		switch {
		case job.Failed():
			status = "failed"
			logFailure(logger, "image failed", job.Err,
				"device", job.Device,
				"algorithm", job.Algorithm,
				"file", filepath.Base(job.SourcePath),
			)
		case job.Skipped:
			status = "skipped"
		case job.Metrics != nil && job.Outcome == model.OutcomeUnknown:
			status = "measured"
		}
		fmt.Fprintf(out, "[%d/%d] D%s %s: %s\n",
			index+1, len(jobs), job.Device, filepath.Base(job.SourcePath), status)
	})
	return t, err
}

// writeMetricsFiles merges the metrics of jobs into the metrics.json of
// each device under algorithm. Entries of images not in jobs are kept.
func writeMetricsFiles(layout imageio.Layout, algorithm string, jobs []*model.Job, logger *slog.Logger) {
	byDevice := make(map[string][]model.ImageMetrics)
	for _, job := range jobs {
		if job.Metrics != nil {
			byDevice[job.Device] = append(byDevice[job.Device], *job.Metrics)
		}
	}

	for device, ms := range byDevice {
		path := layout.Metrics(algorithm, device)
		if existing, err := report.ReadMetricsFile(path); err == nil {
			ms = append(existing.Metrics(device, algorithm), ms...)
		}
		if err := report.WriteMetricsFile(path, ms); err != nil {
			logFailure(logger, "failed to write metrics file", err, "path", path)
		}
	}
}

// openFingerprints opens the fingerprint database and, when configured, the
// evaluation database. The returned close function closes both.
func openFingerprints(cfg *config.Config) (db *database.DB, eval pipeline.FingerprintSource, closeAll func(), err error) {
	db, err = database.Open(cfg.DBDir, database.DefaultOptions())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	if cfg.EvalDBDir == "" {
		return db, nil, func() { db.Close() }, nil
	}

	opts := database.DefaultOptions()
	opts.CreateIfNotExists = false
	evalDB, err := database.Open(cfg.EvalDBDir, opts)
	if err != nil {
		db.Close()
		return nil, nil, nil, fmt.Errorf("failed to open evaluation database: %w", err)
	}
	return db, pipeline.NewFingerprintCache(evalDB), func() {
		evalDB.Close()
		db.Close()
	}, nil
}
