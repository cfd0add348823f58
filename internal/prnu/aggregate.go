package prnu

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nao1215/prnuscan/internal/model"
)

// Accumulator is the running state of fingerprint estimation: the sum of
// image-weighted residuals and the sum of squared intensity/saturation weights.
// An Accumulator is owned by one goroutine; partial accumulators are combined
// with Merge.
type Accumulator struct {
	h, w, c int
	rpsum   *model.Array
	nn      *model.Array
	count   int
}

// NewAccumulator creates an empty accumulator for h x w x c images.
func NewAccumulator(h, w, c int) *Accumulator {
	return &Accumulator{
		h: h, w: w, c: c,
		rpsum: model.NewArray3D(h, w, c),
		nn:    model.NewArray3D(h, w, c),
	}
}

// Count returns the number of images added, including merged ones.
func (a *Accumulator) Count() int { return a.count }

// Add folds one image and its residual into the sums.
func (a *Accumulator) Add(img *model.Image, residual *model.Array) error {
	if img.H != a.h || img.W != a.w || img.Channels() != a.c {
		return fmt.Errorf("%w: image %dx%dx%d, expected %dx%dx%d",
			model.ErrShapeMismatch, img.H, img.W, img.Channels(), a.h, a.w, a.c)
	}
	if residual.H != a.h || residual.W != a.w || residual.Channels() != a.c {
		return fmt.Errorf("%w: residual does not match image", model.ErrShapeMismatch)
	}

	weight := Weight(img)
	for c := range a.c {
		px, res := img.Pix[c], residual.Planes[c]
		rp, nn, wt := a.rpsum.Planes[c], a.nn.Planes[c], weight.Planes[c]
		for i := range rp {
			rp[i] += res[i] * float64(px[i]) / 255
			nn[i] += wt[i]
		}
	}
	a.count++
	return nil
}

// Merge adds the sums of o into a.
func (a *Accumulator) Merge(o *Accumulator) error {
	if o.h != a.h || o.w != a.w || o.c != a.c {
		return fmt.Errorf("%w: cannot merge accumulators of different shapes", model.ErrShapeMismatch)
	}
	for c := range a.c {
		rp, orp := a.rpsum.Planes[c], o.rpsum.Planes[c]
		nn, onn := a.nn.Planes[c], o.nn.Planes[c]
		for i := range rp {
			rp[i] += orp[i]
			nn[i] += onn[i]
		}
	}
	a.count += o.count
	return nil
}

// Ratio returns RPsum / (NN + 1), the per-channel estimate before gray
// conversion. The +1 keeps the ratio finite where every weight was zero.
func (a *Accumulator) Ratio() *model.Array {
	out := model.NewArray3D(a.h, a.w, a.c)
	for c := range a.c {
		rp, nn, dst := a.rpsum.Planes[c], a.nn.Planes[c], out.Planes[c]
		for i := range dst {
			dst[i] = rp[i] / (nn[i] + 1)
		}
	}
	return out
}

// Finalize turns the sums into a rank-2 fingerprint: Ratio, gray conversion,
// per-phase zero mean, and spectral Wiener filtering with the estimate's own
// standard deviation.
func (a *Accumulator) Finalize() (*model.Array, error) {
	if a.count == 0 {
		return nil, ErrNoUsableImages
	}
	k, err := RGB2Gray(a.Ratio())
	if err != nil {
		return nil, err
	}
	k = ZeroMeanTotal(k)
	return WienerDFT(k, k.Std())
}

// Loader returns the i-th image of a set. Errors mark the image as skipped.
type Loader func(ctx context.Context, i int) (*model.Image, error)

// Skip records an image that did not contribute to a fingerprint.
type Skip struct {
	Index int
	Err   error
}

// AggregateReport describes what happened during one aggregation.
type AggregateReport struct {
	// Height, Width and Channels are the reference shape, taken from the
	// first image that loads.
	Height, Width, Channels int

	// Used is the number of images that contributed.
	Used int

	// Skipped lists the images left out, in index order.
	Skipped []Skip

	// Duration is the wall time of the aggregation.
	Duration time.Duration
}

// Aggregator estimates fingerprints from image sets.
type Aggregator struct {
	extractor *Extractor
	workers   int
	logger    *slog.Logger
}

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*Aggregator)

// WithWorkers sets the number of concurrent extraction workers.
func WithWorkers(n int) AggregatorOption {
	return func(g *Aggregator) {
		if n > 0 {
			g.workers = n
		}
	}
}

// WithAggregatorLogger sets the logger.
func WithAggregatorLogger(logger *slog.Logger) AggregatorOption {
	return func(g *Aggregator) { g.logger = logger }
}

// NewAggregator creates an Aggregator that extracts residuals with ex.
// The default worker count is runtime.NumCPU().
func NewAggregator(ex *Extractor, opts ...AggregatorOption) *Aggregator {
	g := &Aggregator{
		extractor: ex,
		workers:   runtime.NumCPU(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Aggregate estimates a fingerprint from n images fetched through load.
//
// The first image that loads fixes the reference shape. Every worker folds
// its share of the remaining images into a private Accumulator, and the
// partial accumulators are merged once all workers finish, so no sum is
// shared between goroutines. Images that fail to load, differ in shape or
// cannot be decomposed are skipped and listed in the report.
// ErrNoUsableImages is returned when nothing contributed.
func (g *Aggregator) Aggregate(ctx context.Context, n int, load Loader) (*model.Array, *AggregateReport, error) {
	start := time.Now()
	report := &AggregateReport{}

	first, acc := g.seed(ctx, n, load, report)
	if err := ctx.Err(); err != nil {
		return nil, report, err
	}
	if acc == nil {
		report.Duration = time.Since(start)
		return nil, report, ErrNoUsableImages
	}

	workers := max(1, min(g.workers, n-first-1))
	partials := make([]*Accumulator, workers)
	skips := make([][]Skip, workers)
	indices := make(chan int)

	eg, egctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		defer close(indices)
		for i := first + 1; i < n; i++ {
			select {
			case indices <- i:
			case <-egctx.Done():
				return egctx.Err()
			}
		}
		return nil
	})
	for wk := range workers {
		part := NewAccumulator(report.Height, report.Width, report.Channels)
		partials[wk] = part
		eg.Go(func() error {
			for i := range indices {
				if err := egctx.Err(); err != nil {
					return err
				}
				if err := g.fold(egctx, part, i, load); err != nil {
					if ctxErr := egctx.Err(); ctxErr != nil {
						return ctxErr
					}
					g.logger.Warn("skipping image", slog.Int("index", i), slog.String("error", err.Error()))
					skips[wk] = append(skips[wk], Skip{Index: i, Err: err})
				}
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, report, err
	}

	for wk, part := range partials {
		if err := acc.Merge(part); err != nil {
			return nil, report, err
		}
		report.Skipped = append(report.Skipped, skips[wk]...)
	}
	slices.SortFunc(report.Skipped, func(a, b Skip) int { return a.Index - b.Index })
	report.Used = acc.Count()

	k, err := acc.Finalize()
	report.Duration = time.Since(start)
	if err != nil {
		return nil, report, err
	}
	g.logger.Info("fingerprint estimated",
		slog.Int("used", report.Used),
		slog.Int("skipped", len(report.Skipped)),
		slog.Duration("duration", report.Duration))
	return k, report, nil
}

// seed folds images in index order until one succeeds and returns its index
// together with the accumulator it started. Failures before it are skipped.
func (g *Aggregator) seed(ctx context.Context, n int, load Loader, report *AggregateReport) (int, *Accumulator) {
	for i := range n {
		if ctx.Err() != nil {
			return i, nil
		}
		img, err := load(ctx, i)
		if err != nil {
			report.Skipped = append(report.Skipped, Skip{Index: i, Err: err})
			continue
		}
		acc := NewAccumulator(img.H, img.W, img.Channels())
		if err := g.addImage(acc, img); err != nil {
			report.Skipped = append(report.Skipped, Skip{Index: i, Err: err})
			continue
		}
		report.Height, report.Width, report.Channels = img.H, img.W, img.Channels()
		return i, acc
	}
	return n, nil
}

func (g *Aggregator) fold(ctx context.Context, acc *Accumulator, i int, load Loader) error {
	img, err := load(ctx, i)
	if err != nil {
		return err
	}
	return g.addImage(acc, img)
}

func (g *Aggregator) addImage(acc *Accumulator, img *model.Image) error {
	if img.H != acc.h || img.W != acc.w || img.Channels() != acc.c {
		return fmt.Errorf("%w: image %dx%dx%d, expected %dx%dx%d",
			model.ErrShapeMismatch, img.H, img.W, img.Channels(), acc.h, acc.w, acc.c)
	}
	residual, err := g.extractor.NoiseExtractImage(img)
	if err != nil {
		return err
	}
	return acc.Add(img, residual)
}

// Estimate runs Aggregate and wraps the result as a device fingerprint.
func (g *Aggregator) Estimate(ctx context.Context, device string, n int, load Loader) (*model.Fingerprint, *AggregateReport, error) {
	k, report, err := g.Aggregate(ctx, n, load)
	if err != nil {
		if errors.Is(err, ErrNoUsableImages) {
			return nil, report, fmt.Errorf("device %s: %w", device, err)
		}
		return nil, report, err
	}
	return &model.Fingerprint{
		Device:    device,
		K:         k,
		Levels:    g.extractor.Levels(),
		Sigma:     g.extractor.Sigma(),
		Images:    report.Used,
		CreatedAt: time.Now(),
	}, report, nil
}
