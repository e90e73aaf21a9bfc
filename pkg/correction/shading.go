package correction

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"bioimagelab/internal/models"
	"bioimagelab/pkg/pipeline"
)

// maxSurfaceSamples bounds the rows of the least-squares system; larger
// planes are sampled on a regular grid.
const maxSurfaceSamples = 1 << 16

// ShadingStage removes smooth illumination gradients when no flat field is
// available. With a reference shading map S the image is multiplied by S;
// otherwise a polynomial surface L is fitted to the image and the output
// is I / L * mean(L).
type ShadingStage struct {
	load Loader
}

func NewShadingStage(load Loader) *ShadingStage {
	return &ShadingStage{load: load}
}

func (s *ShadingStage) Category() pipeline.Category { return pipeline.Correction }

func (s *ShadingStage) Params() []pipeline.ParamSpec {
	return append(modeParams(),
		pipeline.ParamSpec{Name: "degree", Kind: pipeline.Int, Default: 2, Min: pipeline.Bound(0), Max: pipeline.Bound(6), Help: "polynomial degree of the fitted surface"},
	)
}

func (s *ShadingStage) Prepare(cfg pipeline.StageConfig) (pipeline.StageConfig, error) {
	return prepareMethod(cfg, s.load, false)
}

func (s *ShadingStage) Apply(ctx context.Context, in *pipeline.Input, cfg pipeline.StageConfig) (*pipeline.Output, error) {
	w, h := in.Image.Shape.X, in.Image.Shape.Y
	degree := cfg.Int("degree")
	m := methodOf(cfg)

	out, shading, err := correctPlanes(in, m, func(src, dst, art, ref, _ []float64) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, ok := m.(Reference); ok {
			copy(art, ref)
			for i, v := range src {
				dst[i] = v * ref[i]
			}
			return nil
		}
		surface, err := FitSurface(src, w, h, degree)
		if err != nil {
			return err
		}
		copy(art, surface)
		mean := stat.Mean(surface, nil)
		for i, v := range src {
			if surface[i] > models.Tolerance {
				dst[i] = v / surface[i] * mean
			} else {
				dst[i] = v
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	in.Artifacts.PublishImage("shading", shading)
	return &pipeline.Output{Image: out}, nil
}

// FitSurface fits a 2D polynomial of the given degree to a w*h plane by
// least squares and returns the surface evaluated at every pixel.
// Coordinates are scaled to [-1, 1] to keep the system well conditioned.
func FitSurface(plane []float64, w, h, degree int) ([]float64, error) {
	terms := (degree + 1) * (degree + 2) / 2
	step := 1
	if n := w * h; n > maxSurfaceSamples {
		step = int(math.Ceil(math.Sqrt(float64(n) / maxSurfaceSamples)))
	}
	var rows [][2]int
	for y := 0; y < h; y += step {
		for x := 0; x < w; x += step {
			rows = append(rows, [2]int{x, y})
		}
	}
	if len(rows) < terms {
		return nil, fmt.Errorf("degree %d surface needs %d samples, plane has %d", degree, terms, len(rows))
	}

	sx, sy := axisScale(w), axisScale(h)
	a := mat.NewDense(len(rows), terms, nil)
	b := mat.NewDense(len(rows), 1, nil)
	for r, p := range rows {
		a.SetRow(r, monomials(sx(p[0]), sy(p[1]), degree))
		b.Set(r, 0, plane[p[1]*w+p[0]])
	}

	var qr mat.QR
	qr.Factorize(a)
	var coef mat.Dense
	if err := qr.SolveTo(&coef, false, b); err != nil {
		return nil, fmt.Errorf("fitting surface: %w", err)
	}

	c := coef.RawMatrix()
	coeffs := make([]float64, terms)
	for i := range coeffs {
		coeffs[i] = c.Data[i*c.Stride]
	}
	out := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var v float64
			for i, m := range monomials(sx(x), sy(y), degree) {
				v += coeffs[i] * m
			}
			out[y*w+x] = v
		}
	}
	return out, nil
}

// monomials returns x^i * y^j for i+j <= degree, i outer.
func monomials(x, y float64, degree int) []float64 {
	out := make([]float64, 0, (degree+1)*(degree+2)/2)
	for i := 0; i <= degree; i++ {
		for j := 0; j <= degree-i; j++ {
			out = append(out, math.Pow(x, float64(i))*math.Pow(y, float64(j)))
		}
	}
	return out
}

func axisScale(n int) func(int) float64 {
	if n <= 1 {
		return func(int) float64 { return 0 }
	}
	return func(i int) float64 { return 2*float64(i)/float64(n-1) - 1 }
}
