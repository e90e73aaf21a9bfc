// Package segmentation implements the distance-transform watershed used
// to turn a foreground mask into a map of labelled object instances.
package segmentation

import (
	"context"

	"bioimagelab/internal/models"
)

// Options configures the engine.
type Options struct {
	// SuppressionRadius merges distance peaks closer than this many
	// x-pixels into one seed
	SuppressionRadius float64

	// MinDistance is the smallest distance value a seed may have
	MinDistance float64

	// MergeFraction enables the merge pass when positive
	MergeFraction float64

	// Split enables the split-by-distance pass
	Split bool

	// SplitMinArea is the smallest region, in voxels, the split pass visits
	SplitMinArea int

	// SplitDepth bounds the recursion of the split pass
	SplitDepth int

	// SplitRadius is the suppression radius used inside the split pass;
	// zero means SuppressionRadius
	SplitRadius float64

	// CancelCheckInterval is the number of queue pops between context checks
	CancelCheckInterval int
}

// DefaultOptions returns the engine defaults.
func DefaultOptions() Options {
	return Options{
		SuppressionRadius:   3,
		MinDistance:         1,
		SplitMinArea:        50,
		SplitDepth:          1,
		CancelCheckInterval: DefaultCancelCheckInterval,
	}
}

// Result is the outcome of one segmentation call.
type Result struct {
	// Labels holds dense ids 1..Count, 0 for background and boundary
	Labels []uint32

	// Boundary marks the watershed lines
	Boundary []bool

	// Count is the number of objects
	Count int

	// Seeds are the markers of the first flooding pass
	Seeds []Seed
}

// Engine is a stateless segmenter; every call owns its buffers, so one
// Engine may serve concurrent callers.
type Engine struct {
	opts Options
}

func NewEngine(opts Options) *Engine {
	if opts.CancelCheckInterval <= 0 {
		opts.CancelCheckInterval = DefaultCancelCheckInterval
	}
	if opts.SplitDepth <= 0 {
		opts.SplitDepth = 1
	}
	return &Engine{opts: opts}
}

func (e *Engine) Options() Options { return e.opts }

// Segment labels the foreground of mask. An empty mask yields an all-zero
// result and no error; a mask without background yields
// ErrDegenerateDistance.
func (e *Engine) Segment(ctx context.Context, g Grid, mask []bool) (*Result, error) {
	first, err := e.segmentOnce(ctx, g, mask, e.opts.SuppressionRadius)
	if err != nil {
		return nil, err
	}
	labels, boundary := first.labels, first.boundary

	MergeRegions(g, labels, boundary, e.opts.MergeFraction)
	if e.opts.Split {
		if err := e.splitRegions(ctx, g, labels, boundary); err != nil {
			return nil, err
		}
	}

	lm := &models.LabelMap{Shape: models.Shape{T: 1, Z: g.Depth, C: 1, Y: g.Height, X: g.Width}, Labels: labels}
	count := lm.Relabel()
	return &Result{Labels: labels, Boundary: boundary, Count: count, Seeds: first.seeds}, nil
}

type pass struct {
	labels   []uint32
	boundary []bool
	seeds    []Seed
}

// segmentOnce detects seeds and floods without post-processing.
func (e *Engine) segmentOnce(ctx context.Context, g Grid, mask []bool, radius float64) (*pass, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dist, err := DistanceTransform(g, mask)
	if err != nil {
		return nil, err
	}
	components, count := ConnectedComponents(g, mask)
	if count == 0 {
		return &pass{labels: make([]uint32, g.Len()), boundary: make([]bool, g.Len())}, nil
	}

	seeds := SuppressSeeds(g, FindCandidates(g, dist, mask, e.opts.MinDistance), radius, components)
	elevation := make([]float64, len(dist))
	for i, d := range dist {
		elevation[i] = -d
	}
	labels, boundary, err := Flood(ctx, g, elevation, mask, seeds, e.opts.CancelCheckInterval)
	if err != nil {
		return nil, err
	}
	return &pass{labels: labels, boundary: boundary, seeds: seeds}, nil
}

func (e *Engine) splitRadius() float64 {
	if e.opts.SplitRadius > 0 {
		return e.opts.SplitRadius
	}
	return e.opts.SuppressionRadius
}
