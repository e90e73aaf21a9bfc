package segmentation

import (
	"context"
	"fmt"

	"bioimagelab/internal/models"
	"bioimagelab/pkg/pipeline"
)

var thresholdParams = []pipeline.ParamSpec{
	{Name: "channel", Kind: pipeline.Int, Default: 0, Min: pipeline.Bound(0), Help: "channel to segment"},
	{Name: "threshold", Kind: pipeline.Enum, Choices: []string{"otsu", "fixed"}, Default: "otsu"},
	{Name: "level", Kind: pipeline.Float, Default: 0.0, Help: "foreground is strictly above level when threshold is fixed"},
	{Name: "volumetric", Kind: pipeline.Bool, Default: false, Help: "treat Z as a spatial axis"},
}

// WatershedStage segments one channel by thresholding followed by the
// distance-transform watershed. When the pipeline already holds labels
// (hierarchical mode) the foreground is restricted to them.
type WatershedStage struct {
	checkEvery int
}

func NewWatershedStage(cancelCheckInterval int) *WatershedStage {
	return &WatershedStage{checkEvery: cancelCheckInterval}
}

func (s *WatershedStage) Category() pipeline.Category { return pipeline.Segmentation }

func (s *WatershedStage) Params() []pipeline.ParamSpec {
	return append(append([]pipeline.ParamSpec(nil), thresholdParams...),
		pipeline.ParamSpec{Name: "suppression_radius", Kind: pipeline.Float, Default: 3.0, Min: pipeline.Bound(0)},
		pipeline.ParamSpec{Name: "min_distance", Kind: pipeline.Float, Default: 1.0, Min: pipeline.Bound(0)},
		pipeline.ParamSpec{Name: "merge_fraction", Kind: pipeline.Float, Default: 0.0, Min: pipeline.Bound(0), Max: pipeline.Bound(1), Help: "merge neighbours whose shared boundary is at least this fraction of the smaller perimeter, 0 disables"},
		pipeline.ParamSpec{Name: "split", Kind: pipeline.Bool, Default: false},
		pipeline.ParamSpec{Name: "split_min_area", Kind: pipeline.Int, Default: 50, Min: pipeline.Bound(1)},
		pipeline.ParamSpec{Name: "split_depth", Kind: pipeline.Int, Default: 1, Min: pipeline.Bound(1), Max: pipeline.Bound(4)},
		pipeline.ParamSpec{Name: "split_radius", Kind: pipeline.Float, Default: 0.0, Min: pipeline.Bound(0)},
	)
}

func (s *WatershedStage) Apply(ctx context.Context, in *pipeline.Input, cfg pipeline.StageConfig) (*pipeline.Output, error) {
	engine := NewEngine(Options{
		SuppressionRadius:   cfg.Float("suppression_radius"),
		MinDistance:         cfg.Float("min_distance"),
		MergeFraction:       cfg.Float("merge_fraction"),
		Split:               cfg.Bool("split"),
		SplitMinArea:        cfg.Int("split_min_area"),
		SplitDepth:          cfg.Int("split_depth"),
		SplitRadius:         cfg.Float("split_radius"),
		CancelCheckInterval: s.checkEvery,
	})
	lm, err := segmentBlocks(in, cfg, func(g Grid, mask []bool) ([]uint32, int, error) {
		res, err := engine.Segment(ctx, g, mask)
		if err != nil {
			return nil, 0, err
		}
		return res.Labels, res.Count, nil
	})
	if err != nil {
		return nil, err
	}
	return &pipeline.Output{Labels: lm}, nil
}

// ThresholdStage labels the connected components of a thresholded channel.
type ThresholdStage struct{}

func (ThresholdStage) Category() pipeline.Category { return pipeline.Segmentation }

func (ThresholdStage) Params() []pipeline.ParamSpec {
	return append(append([]pipeline.ParamSpec(nil), thresholdParams...),
		pipeline.ParamSpec{Name: "min_area", Kind: pipeline.Int, Default: 1, Min: pipeline.Bound(1), Help: "drop smaller components"},
	)
}

func (ThresholdStage) Apply(ctx context.Context, in *pipeline.Input, cfg pipeline.StageConfig) (*pipeline.Output, error) {
	minArea := cfg.Int("min_area")
	lm, err := segmentBlocks(in, cfg, func(g Grid, mask []bool) ([]uint32, int, error) {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		labels, n := ConnectedComponents(g, mask)
		RemoveSmall(labels, n, minArea)
		k := (&models.LabelMap{Labels: labels}).Relabel()
		return labels, k, nil
	})
	if err != nil {
		return nil, err
	}
	return &pipeline.Output{Labels: lm}, nil
}

type blockSegmenter func(g Grid, mask []bool) ([]uint32, int, error)

// segmentBlocks thresholds the configured channel and segments each time
// point as one volume (volumetric) or each plane on its own, offsetting
// the ids so they are unique across the whole map.
func segmentBlocks(in *pipeline.Input, cfg pipeline.StageConfig, seg blockSegmenter) (*models.LabelMap, error) {
	img := in.Image
	channel := cfg.Int("channel")
	if channel >= img.Shape.C {
		return nil, fmt.Errorf("channel %d out of range, image has %d", channel, img.Shape.C)
	}
	if in.Labels != nil {
		if err := in.Labels.Matches(img); err != nil {
			return nil, err
		}
	}
	sh := img.Shape
	vs := img.Calibration.VoxelSize
	volumetric := cfg.Bool("volumetric") && sh.Z > 1
	lm := models.LabelMapFor(img)
	var offset uint32

	run := func(t, z0, depth int) error {
		g := NewGrid(sh.X, sh.Y, depth, vs.X, vs.Y, vs.Z)
		values := make([]float64, 0, g.Len())
		for z := z0; z < z0+depth; z++ {
			values = append(values, img.Plane(t, z, channel)...)
		}
		level := cfg.Float("level")
		if cfg.String("threshold") == "otsu" {
			level = OtsuLevel(values)
		}
		mask := Binarize(values, level)
		base := lm.Index(t, z0, 0, 0)
		if in.Labels != nil {
			for i := range mask {
				mask[i] = mask[i] && in.Labels.Labels[base+i] != 0
			}
		}
		labels, count, err := seg(g, mask)
		if err != nil {
			return fmt.Errorf("t=%d z=%d: %w", t, z0, err)
		}
		for i, l := range labels {
			if l != 0 {
				lm.Labels[base+i] = l + offset
			}
		}
		offset += uint32(count)
		return nil
	}

	for t := 0; t < sh.T; t++ {
		if volumetric {
			if err := run(t, 0, sh.Z); err != nil {
				return nil, err
			}
			continue
		}
		for z := 0; z < sh.Z; z++ {
			if err := run(t, z, 1); err != nil {
				return nil, err
			}
		}
	}
	return lm, nil
}
