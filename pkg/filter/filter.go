// Package filter provides OpenCV-backed smoothing stages applied plane by
// plane. Samples pass through 32-bit floats.
package filter

import (
	"context"
	"image"

	"gocv.io/x/gocv"

	"bioimagelab/internal/cvmat"
	"bioimagelab/internal/models"
	"bioimagelab/pkg/pipeline"
)

// oddSize bumps even kernel sizes to the next odd value; 0 is kept.
func oddSize(n int) int {
	if n > 0 && n%2 == 0 {
		return n + 1
	}
	return n
}

type planeFilter func(src gocv.Mat, dst *gocv.Mat)

// filterPlanes applies fn to every plane of a copy of img.
func filterPlanes(ctx context.Context, img *models.ImageStack, fn planeFilter) (*pipeline.Output, error) {
	out := img.Clone()
	out.DType = models.Float32
	w, h := img.Shape.X, img.Shape.Y
	err := out.EachPlane(func(_, _, _ int, plane []float64) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return cvmat.Apply(plane, w, h, fn)
	})
	if err != nil {
		return nil, err
	}
	return &pipeline.Output{Image: out}, nil
}

// Gaussian smooths with a Gaussian kernel. A ksize of 0 derives the kernel
// size from sigma.
type Gaussian struct{}

func (Gaussian) Category() pipeline.Category { return pipeline.Filter }

func (Gaussian) Params() []pipeline.ParamSpec {
	return []pipeline.ParamSpec{
		{Name: "sigma", Kind: pipeline.Float, Default: 1.0, Min: pipeline.Bound(0.1)},
		{Name: "ksize", Kind: pipeline.Int, Default: 0, Min: pipeline.Bound(0), Help: "kernel size, even values are bumped to odd"},
	}
}

func (Gaussian) Apply(ctx context.Context, in *pipeline.Input, cfg pipeline.StageConfig) (*pipeline.Output, error) {
	sigma := cfg.Float("sigma")
	k := oddSize(cfg.Int("ksize"))
	return filterPlanes(ctx, in.Image, func(src gocv.Mat, dst *gocv.Mat) {
		gocv.GaussianBlur(src, dst, image.Point{X: k, Y: k}, sigma, sigma, gocv.BorderDefault)
	})
}

// Median removes salt-and-pepper noise while keeping edges. OpenCV only
// supports apertures 3 and 5 on float samples.
type Median struct{}

func (Median) Category() pipeline.Category { return pipeline.Filter }

func (Median) Params() []pipeline.ParamSpec {
	return []pipeline.ParamSpec{
		{Name: "ksize", Kind: pipeline.Int, Default: 3, Min: pipeline.Bound(2), Max: pipeline.Bound(5), Help: "aperture, even values are bumped to odd"},
	}
}

func (Median) Apply(ctx context.Context, in *pipeline.Input, cfg pipeline.StageConfig) (*pipeline.Output, error) {
	k := oddSize(cfg.Int("ksize"))
	return filterPlanes(ctx, in.Image, func(src gocv.Mat, dst *gocv.Mat) {
		gocv.MedianBlur(src, dst, k)
	})
}

// Box is a normalised box (mean) filter.
type Box struct{}

func (Box) Category() pipeline.Category { return pipeline.Filter }

func (Box) Params() []pipeline.ParamSpec {
	return []pipeline.ParamSpec{
		{Name: "width", Kind: pipeline.Int, Default: 3, Min: pipeline.Bound(1)},
		{Name: "height", Kind: pipeline.Int, Default: 3, Min: pipeline.Bound(1)},
	}
}

func (Box) Apply(ctx context.Context, in *pipeline.Input, cfg pipeline.StageConfig) (*pipeline.Output, error) {
	size := image.Point{X: cfg.Int("width"), Y: cfg.Int("height")}
	return filterPlanes(ctx, in.Image, func(src gocv.Mat, dst *gocv.Mat) {
		gocv.Blur(src, dst, size)
	})
}

// Bilateral smooths textures inside regions while keeping their borders.
type Bilateral struct{}

func (Bilateral) Category() pipeline.Category { return pipeline.Filter }

func (Bilateral) Params() []pipeline.ParamSpec {
	return []pipeline.ParamSpec{
		{Name: "diameter", Kind: pipeline.Int, Default: 5, Min: pipeline.Bound(1), Help: "5 for fast use, 9 for offline"},
		{Name: "sigma_color", Kind: pipeline.Float, Default: 75.0, Min: pipeline.Bound(0)},
		{Name: "sigma_space", Kind: pipeline.Float, Default: 75.0, Min: pipeline.Bound(0)},
	}
}

func (Bilateral) Apply(ctx context.Context, in *pipeline.Input, cfg pipeline.StageConfig) (*pipeline.Output, error) {
	d := cfg.Int("diameter")
	sc, ss := cfg.Float("sigma_color"), cfg.Float("sigma_space")
	return filterPlanes(ctx, in.Image, func(src gocv.Mat, dst *gocv.Mat) {
		gocv.BilateralFilter(src, dst, d, sc, ss)
	})
}
