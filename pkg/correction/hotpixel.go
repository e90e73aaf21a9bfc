package correction

import (
	"context"
	"sort"

	"bioimagelab/internal/models"
	"bioimagelab/pkg/pipeline"
)

// madScale converts a median absolute deviation into a standard deviation
// for normally distributed data.
const madScale = 1.4826

// HotPixelStage repairs isolated defective pixels by replacing them with
// the median of their 3x3 neighbourhood. Defects come from a reference
// defect map (non-zero marks a defect) or are detected as pixels exceeding
// the neighbourhood median by more than k robust standard deviations.
type HotPixelStage struct {
	load Loader
}

func NewHotPixelStage(load Loader) *HotPixelStage {
	return &HotPixelStage{load: load}
}

func (s *HotPixelStage) Category() pipeline.Category { return pipeline.Correction }

func (s *HotPixelStage) Params() []pipeline.ParamSpec {
	return append(modeParams(),
		pipeline.ParamSpec{Name: "k", Kind: pipeline.Float, Default: 5.0, Min: pipeline.Bound(0), Help: "detection threshold in robust standard deviations"},
	)
}

func (s *HotPixelStage) Prepare(cfg pipeline.StageConfig) (pipeline.StageConfig, error) {
	return prepareMethod(cfg, s.load, false)
}

func (s *HotPixelStage) Apply(ctx context.Context, in *pipeline.Input, cfg pipeline.StageConfig) (*pipeline.Output, error) {
	w, h := in.Image.Shape.X, in.Image.Shape.Y
	k := cfg.Float("k")
	m := methodOf(cfg)
	repaired := 0

	out, defects, err := correctPlanes(in, m, func(src, dst, art, ref, _ []float64) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		copy(dst, src)
		med := neighbourMedians(src, w, h)
		if _, ok := m.(Reference); ok {
			for i, v := range ref {
				if v != 0 {
					art[i] = 1
				}
			}
		} else {
			dev := make([]float64, len(src))
			for i, v := range src {
				dev[i] = v - med[i]
			}
			sigma := madScale * mad(dev)
			for i, d := range dev {
				if d > k*sigma+models.Tolerance {
					art[i] = 1
				}
			}
		}
		for i, flagged := range art {
			if flagged != 0 {
				dst[i] = med[i]
				repaired++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	in.Artifacts.PublishImage("hot_pixels", defects)
	in.Artifacts.Publish("hot_pixel_count", repaired)
	return &pipeline.Output{Image: out}, nil
}

// neighbourMedians returns, for every pixel, the median of its 8-neighbours
// clipped to the plane.
func neighbourMedians(plane []float64, w, h int) []float64 {
	out := make([]float64, len(plane))
	buf := make([]float64, 0, 8)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			buf = buf[:0]
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := x+dx, y+dy
					if (dx == 0 && dy == 0) || nx < 0 || ny < 0 || nx >= w || ny >= h {
						continue
					}
					buf = append(buf, plane[ny*w+nx])
				}
			}
			if len(buf) == 0 {
				out[y*w+x] = plane[y*w+x]
				continue
			}
			out[y*w+x] = median(buf)
		}
	}
	return out
}

// median returns the median of values without modifying them.
func median(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return sorted[n/2]
}

// mad returns the median absolute deviation from the median.
func mad(values []float64) float64 {
	m := median(values)
	abs := make([]float64, len(values))
	for i, v := range values {
		if v < m {
			abs[i] = m - v
		} else {
			abs[i] = v - m
		}
	}
	return median(abs)
}
