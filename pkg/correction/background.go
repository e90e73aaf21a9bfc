package correction

import (
	"context"
	"image"

	"gocv.io/x/gocv"

	"bioimagelab/internal/cvmat"
	"bioimagelab/pkg/pipeline"
)

// minBallRadius is the smallest structuring radius the estimated
// background accepts; smaller values are raised to it.
const minBallRadius = 3

// BackgroundStage removes a slowly varying additive background, either a
// measured one (max(I - B, 0)) or one estimated by rolling a ball of the
// configured radius under the intensity surface.
type BackgroundStage struct {
	load Loader
}

func NewBackgroundStage(load Loader) *BackgroundStage {
	return &BackgroundStage{load: load}
}

func (s *BackgroundStage) Category() pipeline.Category { return pipeline.Correction }

func (s *BackgroundStage) Params() []pipeline.ParamSpec {
	return append(modeParams(),
		pipeline.ParamSpec{Name: "radius", Kind: pipeline.Int, Default: 50, Min: pipeline.Bound(1), Help: "ball radius in pixels, larger than the objects to keep"},
	)
}

func (s *BackgroundStage) Prepare(cfg pipeline.StageConfig) (pipeline.StageConfig, error) {
	return prepareMethod(cfg, s.load, false)
}

func (s *BackgroundStage) Apply(ctx context.Context, in *pipeline.Input, cfg pipeline.StageConfig) (*pipeline.Output, error) {
	w, h := in.Image.Shape.X, in.Image.Shape.Y
	radius := max(cfg.Int("radius"), minBallRadius)
	m := methodOf(cfg)

	out, bg, err := correctPlanes(in, m, func(src, dst, art, ref, _ []float64) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, ok := m.(Reference); ok {
			copy(art, ref)
		} else {
			copy(art, src)
			if err := rollingBall(art, w, h, radius); err != nil {
				return err
			}
		}
		for i, v := range src {
			dst[i] = max(v-art[i], 0)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	in.Artifacts.PublishImage("background", bg)
	return &pipeline.Output{Image: out}, nil
}

// rollingBall replaces plane with its background: the grayscale opening by
// a disk of the given radius, the surface a ball of that radius reaches
// from below.
func rollingBall(plane []float64, w, h, radius int) error {
	kernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Point{X: 2*radius + 1, Y: 2*radius + 1})
	defer kernel.Close()
	return cvmat.Apply(plane, w, h, func(src gocv.Mat, dst *gocv.Mat) {
		gocv.MorphologyEx(src, dst, gocv.MorphOpen, kernel)
	})
}
