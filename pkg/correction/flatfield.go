package correction

import (
	"context"

	"bioimagelab/pkg/pipeline"
)

// FlatFieldStage corrects multiplicative illumination and sensor gain
// variations: (I - D) / (F - D) against a measured flat F and optional
// dark frame D, or I / G where G is a wide Gaussian of the image.
type FlatFieldStage struct {
	load Loader
}

// NewFlatFieldStage returns the stage; load may be nil for ReadReference.
func NewFlatFieldStage(load Loader) *FlatFieldStage {
	return &FlatFieldStage{load: load}
}

func (s *FlatFieldStage) Category() pipeline.Category { return pipeline.Correction }

func (s *FlatFieldStage) Params() []pipeline.ParamSpec {
	return append(modeParams(),
		pipeline.ParamSpec{Name: "dark", Kind: pipeline.String, Help: "dark frame subtracted from image and flat"},
		pipeline.ParamSpec{Name: "sigma", Kind: pipeline.Float, Default: 100.0, Min: pipeline.Bound(0.5), Help: "Gaussian sigma of the estimated flat"},
	)
}

func (s *FlatFieldStage) Prepare(cfg pipeline.StageConfig) (pipeline.StageConfig, error) {
	return prepareMethod(cfg, s.load, true)
}

func (s *FlatFieldStage) Apply(ctx context.Context, in *pipeline.Input, cfg pipeline.StageConfig) (*pipeline.Output, error) {
	w, h := in.Image.Shape.X, in.Image.Shape.Y
	sigma := cfg.Float("sigma")
	m := methodOf(cfg)

	out, flat, err := correctPlanes(in, m, func(src, dst, art, ref, dark []float64) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, ok := m.(Reference); ok {
			for i, v := range src {
				d := 0.0
				if dark != nil {
					d = dark[i]
				}
				den := ref[i] - d
				art[i] = den
				if den > 0 {
					dst[i] = (v - d) / den
				} else {
					dst[i] = v
				}
			}
			return nil
		}
		copy(art, gaussianBlur(src, w, h, sigma))
		for i, v := range src {
			if art[i] > 0 {
				dst[i] = v / art[i]
			} else {
				dst[i] = v
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	in.Artifacts.PublishImage("flat_field", flat)
	return &pipeline.Output{Image: out}, nil
}
