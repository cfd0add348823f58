package pipeline

import (
	"fmt"
	"log/slog"

	"github.com/nao1215/prnuscan/internal/anonymize"
	"github.com/nao1215/prnuscan/internal/config"
	"github.com/nao1215/prnuscan/internal/metrics"
	"github.com/nao1215/prnuscan/internal/prnu"
)

// NewAttack builds the named attack from its effective settings.
// The extractor is used by CCN-gated attacks to take residuals of candidates.
func NewAttack(name string, ac config.AlgorithmConfig, ex *prnu.Extractor, logger *slog.Logger) (anonymize.Attack, error) {
	if err := ac.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	factory, err := anonymize.NewStatisticFactory(ac.Statistic, ex)
	if err != nil {
		return nil, err
	}

	residualOpts := []anonymize.ResidualOption{
		anonymize.WithResidualThreshold(ac.Threshold),
		anonymize.WithResidualMaxIterations(ac.MaxIterations),
		anonymize.WithResidualLogger(logger),
	}
	switch name {
	case anonymize.AlgorithmFingerprintRemoval:
		search, err := anonymize.NewSearch(factory,
			anonymize.WithAlphaRange(ac.AlphaMin, ac.AlphaMax),
			anonymize.WithThreshold(ac.Threshold),
			anonymize.WithMaxIterations(ac.MaxIterations),
			anonymize.WithSearchLogger(logger),
		)
		if err != nil {
			return nil, err
		}
		return search, nil
	case anonymize.AlgorithmMedianFiltering:
		median, err := anonymize.MedianFiltering(ac.Kernel, factory, residualOpts...)
		if err != nil {
			return nil, err
		}
		return median, nil
	case anonymize.AlgorithmADP2:
		return anonymize.ADP2(ac.Levels, factory, residualOpts...), nil
	default:
		return nil, fmt.Errorf("%w: %q", anonymize.ErrUnknownAlgorithm, name)
	}
}

// Settings gathers what the default pipelines need beyond the attack.
type Settings struct {
	// Fingerprints supplies the driving (and measuring) fingerprints.
	Fingerprints FingerprintSource

	// Evaluation optionally supplies independent fingerprints for the
	// attack's stopping statistic.
	Evaluation FingerprintSource

	// Calculator computes the metrics of each pair.
	Calculator *metrics.Calculator

	// Sink, when set, receives the metrics of every measured job.
	Sink MetricsSink

	// Logger is shared by the pipeline and its steps.
	Logger *slog.Logger
}

// AnonymizePipeline loads, anonymizes, saves and measures one image.
// Measurement reads the saved file back so the numbers match a later
// MeasurePipeline run over the same output.
func AnonymizePipeline(attack anonymize.Attack, s Settings) *Pipeline {
	logger := s.logger()
	p := New(WithLogger(logger))

	anonOpts := []AnonymizeStepOption{WithAnonymizeLogger(logger)}
	if s.Evaluation != nil {
		anonOpts = append(anonOpts, WithEvaluationSource(s.Evaluation))
	}
	p.AddSteps(
		NewLoadStep(WithLoadLogger(logger)),
		NewAnonymizeStep(attack, s.Fingerprints, anonOpts...),
		NewSaveStep(),
	)
	if s.Calculator != nil {
		p.AddSteps(
			NewLoadAnonymizedStep(logger),
			NewMeasureStep(s.Calculator, s.Fingerprints),
		)
		if s.Sink != nil {
			p.AddStep(NewStoreStep(s.Sink))
		}
	}
	return p
}

// MeasurePipeline measures an image against its previously written
// anonymized counterpart.
func MeasurePipeline(s Settings) *Pipeline {
	logger := s.logger()
	p := New(WithLogger(logger))
	p.AddSteps(
		NewLoadStep(WithLoadLogger(logger)),
		NewLoadAnonymizedStep(logger),
		NewMeasureStep(s.Calculator, s.Fingerprints),
	)
	if s.Sink != nil {
		p.AddStep(NewStoreStep(s.Sink))
	}
	return p
}

func (s Settings) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}
