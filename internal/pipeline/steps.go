package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/nao1215/prnuscan/internal/anonymize"
	"github.com/nao1215/prnuscan/internal/imageio"
	"github.com/nao1215/prnuscan/internal/metrics"
	"github.com/nao1215/prnuscan/internal/model"
)

// Step names, as recorded in Job.PerformedSteps.
const (
	StepLoad           = "load"
	StepAnonymize      = "anonymize"
	StepSave           = "save"
	StepLoadAnonymized = "load_anonymized"
	StepMeasure        = "measure"
	StepStore          = "store"
)

// FingerprintSource looks up the fingerprint of a device.
// The database implements it; FingerprintCache wraps one for batch use.
type FingerprintSource interface {
	LoadFingerprint(ctx context.Context, device string) (*model.Fingerprint, error)
}

// MetricsSink persists the metrics of one image.
type MetricsSink interface {
	SaveMetrics(ctx context.Context, m *model.ImageMetrics) error
}

// FingerprintCache memoizes a FingerprintSource. Every job of a device
// shares the same immutable fingerprint, so it is loaded once per batch.
type FingerprintCache struct {
	src FingerprintSource

	mu    sync.Mutex
	cache map[string]*model.Fingerprint
}

// NewFingerprintCache wraps src.
func NewFingerprintCache(src FingerprintSource) *FingerprintCache {
	return &FingerprintCache{src: src, cache: make(map[string]*model.Fingerprint)}
}

// LoadFingerprint implements FingerprintSource.
func (c *FingerprintCache) LoadFingerprint(ctx context.Context, device string) (*model.Fingerprint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if fp, ok := c.cache[device]; ok {
		return fp, nil
	}
	fp, err := c.src.LoadFingerprint(ctx, device)
	if err != nil {
		return nil, err
	}
	c.cache[device] = fp
	return fp, nil
}

// LoadStep decodes the original image and inspects its metadata.
// Images with an orientation the fingerprint cannot be aligned with are
// skipped. Identifying EXIF tags are logged at debug level and masked by the
// logging handler.
type LoadStep struct {
	logger *slog.Logger
}

// LoadStepOption configures a LoadStep.
type LoadStepOption func(*LoadStep)

// WithLoadLogger sets a custom logger for the load step.
func WithLoadLogger(logger *slog.Logger) LoadStepOption {
	return func(s *LoadStep) {
		s.logger = logger
	}
}

// NewLoadStep creates a new load step.
func NewLoadStep(opts ...LoadStepOption) *LoadStep {
	s := &LoadStep{}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Name returns the step name.
func (s *LoadStep) Name() string { return StepLoad }

// Do executes the load step.
func (s *LoadStep) Do(_ context.Context, job *model.Job) error {
	img, meta, err := imageio.Load(job.SourcePath)
	switch {
	case errors.Is(err, imageio.ErrUnsupportedOrientation):
		s.logger.Warn("skipping image with unsupported orientation",
			"file", job.SourcePath,
			"orientation", meta.Orientation,
		)
		job.Skipped = true
		return nil
	case err != nil:
		return err
	}
	job.Original = img
	job.Orientation = meta.Orientation

	if meta.HasExif {
		attrs := []any{"file", filepath.Base(job.SourcePath), "make", meta.Make, "model", meta.Model}
		for tag, v := range meta.Identifying {
			attrs = append(attrs, tag, v)
		}
		s.logger.Debug("image metadata", attrs...)
	}
	return nil
}

// AnonymizeStep runs an attack on the original image against the device
// fingerprint.
type AnonymizeStep struct {
	attack     anonymize.Attack
	driver     FingerprintSource
	evaluation FingerprintSource
	logger     *slog.Logger
}

// AnonymizeStepOption configures an AnonymizeStep.
type AnonymizeStepOption func(*AnonymizeStep)

// WithEvaluationSource sets a second fingerprint source whose fingerprints
// the stopping statistic is measured against.
func WithEvaluationSource(src FingerprintSource) AnonymizeStepOption {
	return func(s *AnonymizeStep) {
		s.evaluation = src
	}
}

// WithAnonymizeLogger sets a custom logger for the anonymize step.
func WithAnonymizeLogger(logger *slog.Logger) AnonymizeStepOption {
	return func(s *AnonymizeStep) {
		s.logger = logger
	}
}

// NewAnonymizeStep creates a step that runs attack with fingerprints from driver.
func NewAnonymizeStep(attack anonymize.Attack, driver FingerprintSource, opts ...AnonymizeStepOption) *AnonymizeStep {
	s := &AnonymizeStep{attack: attack, driver: driver}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Name returns the step name.
func (s *AnonymizeStep) Name() string { return StepAnonymize }

// Do executes the anonymize step.
func (s *AnonymizeStep) Do(ctx context.Context, job *model.Job) error {
	if job.Original == nil {
		return fmt.Errorf("%s: no image loaded", StepAnonymize)
	}
	fp, err := s.driver.LoadFingerprint(ctx, job.Device)
	if err != nil {
		return fmt.Errorf("fingerprint of device %s: %w", job.Device, err)
	}
	if !fp.Matches(job.Original.H, job.Original.W) {
		s.logger.Warn("skipping image that does not match the fingerprint size",
			"file", job.SourcePath,
			"image", fmt.Sprintf("%dx%d", job.Original.H, job.Original.W),
			"fingerprint", fmt.Sprintf("%dx%d", fp.Height(), fp.Width()),
		)
		job.Skipped = true
		return nil
	}
	ref := anonymize.Reference{Driver: fp.K}
	if s.evaluation != nil {
		ev, err := s.evaluation.LoadFingerprint(ctx, job.Device)
		if err != nil {
			return fmt.Errorf("evaluation fingerprint of device %s: %w", job.Device, err)
		}
		ref.Evaluation = ev.K
	}

	res, err := s.attack.Anonymize(ctx, job.Original.ToArray(), ref)
	if err != nil {
		return err
	}
	job.Anonymized = res.Image
	job.Outcome = res.Outcome
	job.InitialStatistic = res.InitialStatistic
	job.FinalStatistic = res.FinalStatistic
	job.Iterations = res.Iterations

	s.logger.Info("image anonymized",
		"algorithm", s.attack.Name(),
		"file", filepath.Base(job.SourcePath),
		"outcome", res.Outcome.String(),
		"initial", res.InitialStatistic,
		"final", res.FinalStatistic,
		"iterations", res.Iterations,
	)
	return nil
}

// SaveStep writes the anonymized image to job.OutputPath, rotated upright
// when the original carried an EXIF orientation.
type SaveStep struct{}

// NewSaveStep creates a new save step.
func NewSaveStep() *SaveStep { return &SaveStep{} }

// Name returns the step name.
func (s *SaveStep) Name() string { return StepSave }

// Do executes the save step.
func (s *SaveStep) Do(_ context.Context, job *model.Job) error {
	if job.Anonymized == nil {
		return fmt.Errorf("%s: nothing to save", StepSave)
	}
	return imageio.Save(job.OutputPath, imageio.ToDisplay(job.Anonymized, job.Orientation))
}

// LoadAnonymizedStep reads a written anonymized image from job.OutputPath
// back into sensor order, using the orientation of the original.
// A missing file skips the job.
type LoadAnonymizedStep struct {
	logger *slog.Logger
}

// NewLoadAnonymizedStep creates a new step; a nil logger means slog.Default().
func NewLoadAnonymizedStep(logger *slog.Logger) *LoadAnonymizedStep {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoadAnonymizedStep{logger: logger}
}

// Name returns the step name.
func (s *LoadAnonymizedStep) Name() string { return StepLoadAnonymized }

// Do executes the step.
func (s *LoadAnonymizedStep) Do(_ context.Context, job *model.Job) error {
	img, _, err := imageio.Load(job.OutputPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		s.logger.Info("no anonymized image", "file", job.OutputPath)
		job.Skipped = true
		return nil
	case err != nil:
		return err
	}
	job.Anonymized = imageio.ToSensor(img.ToArray(), job.Orientation)
	return nil
}

// MeasureStep computes the quality and detection metrics of the job.
type MeasureStep struct {
	calc         *metrics.Calculator
	fingerprints FingerprintSource
}

// NewMeasureStep creates a step measuring against fingerprints from src.
func NewMeasureStep(calc *metrics.Calculator, src FingerprintSource) *MeasureStep {
	return &MeasureStep{calc: calc, fingerprints: src}
}

// Name returns the step name.
func (s *MeasureStep) Name() string { return StepMeasure }

// Do executes the measure step.
func (s *MeasureStep) Do(ctx context.Context, job *model.Job) error {
	if job.Original == nil || job.Anonymized == nil {
		return fmt.Errorf("%s: original and anonymized images are required", StepMeasure)
	}
	fp, err := s.fingerprints.LoadFingerprint(ctx, job.Device)
	if err != nil {
		return fmt.Errorf("fingerprint of device %s: %w", job.Device, err)
	}
	m, err := s.calc.Measure(job.Original.ToArray(), job.Anonymized, fp.K)
	if err != nil {
		return err
	}
	m.File = filepath.Base(job.SourcePath)
	m.Device = job.Device
	m.Algorithm = job.Algorithm
	m.Outcome = job.Outcome
	m.Iterations = job.Iterations
	m.InitialStatistic = job.InitialStatistic
	m.FinalStatistic = job.FinalStatistic
	job.Metrics = m
	return nil
}

// StoreStep persists job.Metrics.
type StoreStep struct {
	sink MetricsSink
}

// NewStoreStep creates a step writing to sink.
func NewStoreStep(sink MetricsSink) *StoreStep {
	return &StoreStep{sink: sink}
}

// Name returns the step name.
func (s *StoreStep) Name() string { return StepStore }

// Do executes the store step.
func (s *StoreStep) Do(ctx context.Context, job *model.Job) error {
	if job.Metrics == nil {
		return fmt.Errorf("%s: no metrics", StepStore)
	}
	return s.sink.SaveMetrics(ctx, job.Metrics)
}
