package interpolation

import (
	"context"
	"fmt"
	"math"
	"sort"

	"bioimagelab/internal/models"
	"bioimagelab/pkg/pipeline"
)

// Method selects how a missing plane is estimated.
type Method int

const (
	// Linear blends the two bracketing planes
	Linear Method = iota
	// Kriging weights the nearest planes by ordinary kriging
	Kriging
)

// Options configures ResampleZ.
type Options struct {
	// Depth is the number of output planes
	Depth     int
	Method    Method
	Neighbors int
	Params    KrigingParams
}

// IsotropicDepth returns the plane count that makes the Z step of s equal
// to its X voxel size.
func IsotropicDepth(s *models.ImageStack) int {
	v := s.Calibration.VoxelSize
	if s.Shape.Z < 2 || v.X <= 0 {
		return s.Shape.Z
	}
	return int(math.Round(float64(s.Shape.Z-1)*v.Z/v.X)) + 1
}

// ResampleZ returns s with Depth planes spanning the same Z extent. Output
// planes that fall on an acquired plane copy it; the others are estimated
// from the acquired planes of the same time point and channel.
func ResampleZ(ctx context.Context, s *models.ImageStack, opts Options) (*models.ImageStack, error) {
	sh := s.Shape
	if opts.Depth < 1 {
		return nil, fmt.Errorf("resampled depth must be positive, got %d", opts.Depth)
	}
	if opts.Depth == sh.Z || sh.Z == 1 {
		return s.Clone(), nil
	}

	cal := s.Calibration
	step := float64(sh.Z-1) / float64(max(opts.Depth-1, 1))
	cal.VoxelSize.Z = s.Calibration.VoxelSize.Z * step
	outShape := sh
	outShape.Z = opts.Depth
	out, err := models.NewImageStack(outShape, models.Float64, cal)
	if err != nil {
		return nil, err
	}
	out.Channels = append([]string(nil), s.Channels...)

	for z := 0; z < opts.Depth; z++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pos := float64(z) * step
		planes, weights, err := planeWeights(pos, sh.Z, s.Calibration.VoxelSize.Z, opts)
		if err != nil {
			return nil, fmt.Errorf("plane %d: %w", z, err)
		}
		for t := 0; t < sh.T; t++ {
			for c := 0; c < sh.C; c++ {
				dst := out.Plane(t, z, c)
				for k, src := range planes {
					w := weights[k]
					for i, v := range s.Plane(t, src, c) {
						dst[i] += w * v
					}
				}
			}
		}
	}
	return out, nil
}

// planeWeights picks the source planes and weights for position pos,
// given in source plane units.
func planeWeights(pos float64, depth int, spacing float64, opts Options) ([]int, []float64, error) {
	if r := math.Round(pos); math.Abs(pos-r) < models.Tolerance {
		return []int{int(r)}, []float64{1}, nil
	}
	lo := int(math.Floor(pos))
	if lo >= depth-1 {
		return []int{depth - 1}, []float64{1}, nil
	}
	frac := pos - float64(lo)
	if opts.Method == Linear {
		return []int{lo, lo + 1}, []float64{1 - frac, frac}, nil
	}

	planes := nearest(pos, depth, max(opts.Neighbors, 2))
	positions := make([]float64, len(planes))
	for i, p := range planes {
		positions[i] = float64(p) * spacing
	}
	params := opts.Params
	if params.Range <= 0 {
		params.Range = float64(len(planes)) * spacing
	}
	if params.Sill <= 0 {
		params.Sill = 1
	}
	w, err := Weights(positions, pos*spacing, params)
	if err != nil {
		return nil, nil, err
	}
	for _, v := range w {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return []int{lo, lo + 1}, []float64{1 - frac, frac}, nil
		}
	}
	return planes, w, nil
}

// nearest returns the n planes closest to pos in ascending order. Ties
// prefer the lower plane.
func nearest(pos float64, depth, n int) []int {
	idx := make([]int, depth)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return math.Abs(float64(idx[a])-pos) < math.Abs(float64(idx[b])-pos)
	})
	if n > depth {
		n = depth
	}
	out := idx[:n]
	sort.Ints(out)
	return out
}

// Stage resamples Z, by default to isotropic voxels.
type Stage struct{}

func (Stage) Category() pipeline.Category { return pipeline.Correction }

func (Stage) Params() []pipeline.ParamSpec {
	return []pipeline.ParamSpec{
		{Name: "factor", Kind: pipeline.Float, Default: 0.0, Min: pipeline.Bound(0), Help: "output planes per input plane step, 0 for isotropic voxels"},
		{Name: "method", Kind: pipeline.Enum, Choices: []string{"kriging", "linear"}, Default: "kriging"},
		{Name: "neighbors", Kind: pipeline.Int, Default: 4, Min: pipeline.Bound(2), Max: pipeline.Bound(16), Help: "acquired planes used per kriging estimate"},
		{Name: "variogram", Kind: pipeline.Enum, Choices: []string{"spherical", "exponential", "gaussian"}, Default: "spherical"},
		{Name: "range", Kind: pipeline.Float, Default: 0.0, Min: pipeline.Bound(0), Help: "variogram range in calibration units, 0 spans the neighbours"},
		{Name: "sill", Kind: pipeline.Float, Default: 1.0, Min: pipeline.Bound(0)},
		{Name: "nugget", Kind: pipeline.Float, Default: 0.0, Min: pipeline.Bound(0)},
	}
}

// Resamples reports that the stage changes the Z extent and calibration.
func (Stage) Resamples(pipeline.StageConfig) bool { return true }

func (Stage) Apply(ctx context.Context, in *pipeline.Input, cfg pipeline.StageConfig) (*pipeline.Output, error) {
	model, err := ParseModel(cfg.String("variogram"))
	if err != nil {
		return nil, err
	}
	opts := Options{
		Method:    Kriging,
		Neighbors: cfg.Int("neighbors"),
		Params: KrigingParams{
			Range:  cfg.Float("range"),
			Sill:   cfg.Float("sill"),
			Nugget: cfg.Float("nugget"),
			Model:  model,
		},
	}
	if cfg.String("method") == "linear" {
		opts.Method = Linear
	}
	img := in.Image
	if f := cfg.Float("factor"); f > 0 {
		opts.Depth = int(math.Round(float64(img.Shape.Z-1)*f)) + 1
	} else {
		opts.Depth = IsotropicDepth(img)
	}
	out, err := ResampleZ(ctx, img, opts)
	if err != nil {
		return nil, err
	}
	return &pipeline.Output{Image: out}, nil
}
