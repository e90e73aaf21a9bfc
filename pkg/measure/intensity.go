package measure

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"bioimagelab/internal/models"
	"bioimagelab/pkg/pipeline"
)

// ErrNoObjects is returned when quantification runs without records.
var ErrNoObjects = errors.New("no object records to quantify")

// IntensityStage adds per-channel intensity statistics to every existing
// record. Names are prefixed with the channel, e.g. c0_mean.
type IntensityStage struct{}

func (IntensityStage) Category() pipeline.Category { return pipeline.Quantification }

func (IntensityStage) Params() []pipeline.ParamSpec {
	return []pipeline.ParamSpec{
		{Name: "channels", Kind: pipeline.FloatList, Min: pipeline.Bound(0), Help: "channel indices, all when omitted"},
	}
}

func (IntensityStage) Apply(ctx context.Context, in *pipeline.Input, cfg pipeline.StageConfig) (*pipeline.Output, error) {
	if in.Objects == nil {
		return nil, ErrNoObjects
	}
	img, lm := in.Image, in.Labels
	if err := lm.Matches(img); err != nil {
		return nil, err
	}
	channels, err := selectChannels(cfg.FloatList("channels"), img.Shape.C)
	if err != nil {
		return nil, err
	}

	table := in.Objects.Clone()
	labels := table.Labels()
	wanted := make(map[uint32]bool, len(labels))
	for _, l := range labels {
		wanted[l] = true
	}

	sh := img.Shape
	for _, c := range channels {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		samples := make(map[uint32][]float64, len(labels))
		for t := 0; t < sh.T; t++ {
			for z := 0; z < sh.Z; z++ {
				plane := img.Plane(t, z, c)
				for i, id := range lm.Plane(t, z) {
					if wanted[id] {
						samples[id] = append(samples[id], plane[i])
					}
				}
			}
		}
		for _, l := range labels {
			for name, v := range summarize(samples[l]) {
				if err := table.SetScalar(l, fmt.Sprintf("c%d_%s", c, name), v); err != nil {
					return nil, err
				}
			}
		}
	}
	return &pipeline.Output{Objects: table}, nil
}

func selectChannels(list []float64, n int) ([]int, error) {
	if len(list) == 0 {
		out := make([]int, n)
		for i := range out {
			out[i] = i
		}
		return out, nil
	}
	out := make([]int, 0, len(list))
	for _, v := range list {
		c := int(math.Round(v))
		if math.Abs(v-float64(c)) > models.Tolerance || c < 0 || c >= n {
			return nil, fmt.Errorf("channel %v out of range, image has %d", v, n)
		}
		out = append(out, c)
	}
	return out, nil
}

// summarize returns the statistics of one object's samples. The standard
// deviation is the population one.
func summarize(values []float64) map[string]float64 {
	if len(values) == 0 {
		return map[string]float64{"mean": 0, "std": 0, "min": 0, "max": 0, "integrated": 0, "median": 0}
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mean, std := stat.PopMeanStdDev(sorted, nil)
	n := len(sorted)
	median := sorted[n/2]
	if n%2 == 0 {
		median = (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return map[string]float64{
		"mean":       mean,
		"std":        std,
		"min":        sorted[0],
		"max":        sorted[n-1],
		"integrated": floats.Sum(sorted),
		"median":     median,
	}
}
