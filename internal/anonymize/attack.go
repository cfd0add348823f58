package anonymize

import (
	"context"
	"errors"
	"fmt"

	"github.com/nao1215/prnuscan/internal/model"
)

// Algorithm names, as used in configuration, output directories and storage.
const (
	AlgorithmFingerprintRemoval = "fingerprint_removal"
	AlgorithmMedianFiltering    = "median_filtering"
	AlgorithmADP2               = "adp2"
)

// Algorithms lists every algorithm name in display order.
func Algorithms() []string {
	return []string{AlgorithmFingerprintRemoval, AlgorithmMedianFiltering, AlgorithmADP2}
}

// ErrUnknownAlgorithm is returned for an algorithm name that is not registered.
var ErrUnknownAlgorithm = errors.New("unknown anonymization algorithm")

// Attack suppresses the sensor fingerprint of an image.
type Attack interface {
	// Name returns the algorithm name.
	Name() string
	// Anonymize returns an image whose statistic against ref is as low as the
	// attack can make it. The input image is not modified.
	Anonymize(ctx context.Context, img *model.Array, ref Reference) (*Result, error)
}

// Reference holds the fingerprints an attack works against.
type Reference struct {
	// Driver is the fingerprint used to construct candidates.
	Driver *model.Array
	// Evaluation, when set, is the fingerprint the statistic is measured
	// against. Using an independently estimated fingerprint here avoids
	// grading the attack with the same estimate it was built from.
	Evaluation *model.Array
}

// Evaluator returns the fingerprint to measure against.
func (r Reference) Evaluator() *model.Array {
	if r.Evaluation != nil {
		return r.Evaluation
	}
	return r.Driver
}

func (r Reference) validate(img *model.Array) error {
	if r.Driver == nil {
		return errors.New("no driving fingerprint")
	}
	for _, k := range []*model.Array{r.Driver, r.Evaluation} {
		if k == nil {
			continue
		}
		if k.Rank() != 2 {
			return fmt.Errorf("%w: fingerprint must be rank 2, got %d", model.ErrRankMismatch, k.Rank())
		}
		if k.H != img.H || k.W != img.W {
			return fmt.Errorf("%w: fingerprint %dx%d, image %dx%d", model.ErrShapeMismatch, k.H, k.W, img.H, img.W)
		}
	}
	return nil
}

// Result is the outcome of one attack on one image.
type Result struct {
	// Image is the returned image: a candidate, or the original for
	// OutcomeAlreadyBelow and OutcomeUnmodified.
	Image *model.Array

	Outcome model.Outcome

	// InitialStatistic is the statistic of the untouched image.
	InitialStatistic float64
	// FinalStatistic is the statistic of Image.
	FinalStatistic float64

	// Strength is the alpha (search) or residual gain (residual attacks) of Image.
	Strength float64

	// AlphaMin and AlphaMax are the final search bracket. Zero for residual attacks.
	AlphaMin, AlphaMax float64

	// Iterations is the number of loop iterations spent.
	Iterations int
	// Evaluations is the number of statistic evaluations, the original included.
	Evaluations int
}
