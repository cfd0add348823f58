package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/nao1215/prnuscan/internal/model"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency is the number of jobs run at once when WithConcurrency
// is not given.
const DefaultConcurrency = 4

// BatchProcessor runs many jobs through fresh pipelines concurrently.
// It uses errgroup to manage goroutines and respect the concurrency limit.
type BatchProcessor struct {
	// pipelineFactory creates a new pipeline for each job so that step
	// state never leaks between images.
	pipelineFactory func() *Pipeline

	concurrency int

	// jobTimeout bounds one job. Zero means no limit.
	jobTimeout time.Duration

	logger *slog.Logger
}

// BatchOption configures a BatchProcessor.
type BatchOption func(*BatchProcessor)

// WithBatchLogger sets a custom logger for batch processing.
func WithBatchLogger(logger *slog.Logger) BatchOption {
	return func(b *BatchProcessor) {
		b.logger = logger
	}
}

// WithConcurrency sets the maximum number of concurrent jobs.
// Non-positive values are ignored.
func WithConcurrency(n int) BatchOption {
	return func(b *BatchProcessor) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// WithJobTimeout bounds the time one job may take.
// Non-positive values disable the limit.
func WithJobTimeout(d time.Duration) BatchOption {
	return func(b *BatchProcessor) {
		b.jobTimeout = max(d, 0)
	}
}

// NewBatchProcessor creates a new BatchProcessor.
func NewBatchProcessor(pipelineFactory func() *Pipeline, opts ...BatchOption) *BatchProcessor {
	bp := &BatchProcessor{
		pipelineFactory: pipelineFactory,
		concurrency:     DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(bp)
	}
	if bp.logger == nil {
		bp.logger = slog.Default()
	}
	return bp
}

// ProcessBatch runs every job and returns them in input order.
//
// A failing job records its error on itself and does not stop the others.
// The returned error is non-nil only when ctx was cancelled; jobs that never
// started are then marked TimedOut.
func (bp *BatchProcessor) ProcessBatch(ctx context.Context, jobs []*model.Job) ([]*model.Job, error) {
	err := bp.ProcessBatchWithCallback(ctx, jobs, func(*model.Job, int) {})
	return jobs, err
}

// ProcessBatchWithCallback runs every job and calls callback as each one
// finishes, with the job's index in jobs.
// The callback is called from worker goroutines and must be safe for
// concurrent use.
func (bp *BatchProcessor) ProcessBatchWithCallback(
	ctx context.Context,
	jobs []*model.Job,
	callback func(job *model.Job, index int),
) error {
	bp.logger.Info("starting batch processing",
		"total_jobs", len(jobs),
		"concurrency", bp.concurrency,
	)
	startTime := time.Now()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(bp.concurrency)

	for i, job := range jobs {
		g.Go(func() error {
			select {
			case <-ctx.Done():
				job.TimedOut = true
				if job.Err == nil {
					job.Err = ctx.Err()
					job.ErrorMessage = ctx.Err().Error()
				}
				return ctx.Err()
			default:
			}

			bp.run(ctx, job, i, len(jobs))
			callback(job, i)
			return nil
		})
	}

	err := g.Wait()

	bp.logger.Info("batch processing complete",
		"total_jobs", len(jobs),
		"elapsed", time.Since(startTime),
	)
	return err
}

func (bp *BatchProcessor) run(ctx context.Context, job *model.Job, index, total int) {
	if bp.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, bp.jobTimeout)
		defer cancel()
	}

	bp.logger.Debug("processing image",
		"device", job.Device,
		"algorithm", job.Algorithm,
		"file", job.SourcePath,
		"index", index+1,
		"total", total,
	)

	job.StartedAt = time.Now()
	if err := bp.pipelineFactory().Execute(ctx, job); err != nil {
		// The error is recorded on the job; the batch carries on.
		bp.logger.Warn("job failed",
			"device", job.Device,
			"file", job.SourcePath,
			"error", err,
		)
	}
}
