package anonymize

import (
	"context"
	"fmt"
	"math"

	"github.com/nao1215/prnuscan/internal/detection"
	"github.com/nao1215/prnuscan/internal/model"
	"github.com/nao1215/prnuscan/internal/prnu"
)

// Statistic scores how much fingerprint evidence a candidate image carries.
// Lower is more anonymous.
type Statistic interface {
	Name() string
	Evaluate(ctx context.Context, candidate *model.Array) (float64, error)
}

// StatisticFactory builds a Statistic bound to an evaluation fingerprint.
type StatisticFactory func(k *model.Array) Statistic

// Statistic names accepted by NewStatisticFactory.
const (
	StatisticPCE = "pce"
	StatisticCCN = "ccn"
)

// PCEStatistic is the PCE of the candidate correlated with K.
type PCEStatistic struct {
	K      *model.Array
	Radius int
}

// Name implements Statistic.
func (s PCEStatistic) Name() string { return StatisticPCE }

// Evaluate implements Statistic.
func (s PCEStatistic) Evaluate(_ context.Context, candidate *model.Array) (float64, error) {
	res, err := detection.PCEOf(candidate, s.K, s.Radius)
	if err != nil {
		return 0, err
	}
	return res.Value, nil
}

// CCNStatistic is |CCN(residual(J), J * K)|: the residual of the candidate
// against the fingerprint modulated by the candidate itself.
type CCNStatistic struct {
	K         *model.Array
	Extractor *prnu.Extractor
	Neighbors int
}

// Name implements Statistic.
func (s CCNStatistic) Name() string { return StatisticCCN }

// Evaluate implements Statistic.
func (s CCNStatistic) Evaluate(ctx context.Context, candidate *model.Array) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	residual, err := s.Extractor.NoiseExtract(candidate)
	if err != nil {
		return 0, err
	}
	v, err := detection.CCNOf(residual, modulate(candidate, s.K), s.Neighbors)
	if err != nil {
		return 0, err
	}
	return math.Abs(v), nil
}

// modulate returns J * K with K applied to every channel.
func modulate(img, k *model.Array) *model.Array {
	out := img.Clone()
	kp := k.Planes[0]
	for _, p := range out.Planes {
		for i := range p {
			p[i] *= kp[i]
		}
	}
	return out
}

// NewStatisticFactory returns the factory for a statistic name.
// The extractor is only used by the CCN statistic.
func NewStatisticFactory(name string, ex *prnu.Extractor) (StatisticFactory, error) {
	switch name {
	case StatisticPCE:
		return func(k *model.Array) Statistic {
			return PCEStatistic{K: k, Radius: detection.DefaultPCERadius}
		}, nil
	case StatisticCCN:
		if ex == nil {
			return nil, fmt.Errorf("statistic %q needs an extractor", name)
		}
		return func(k *model.Array) Statistic {
			return CCNStatistic{K: k, Extractor: ex, Neighbors: detection.DefaultCCNNeighbors}
		}, nil
	default:
		return nil, fmt.Errorf("unknown statistic %q", name)
	}
}
