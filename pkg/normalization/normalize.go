// Package normalization rescales channel intensities so that images taken
// with different exposure or gain become comparable.
package normalization

import (
	"context"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"bioimagelab/internal/models"
	"bioimagelab/pkg/pipeline"
)

// Method maps a group of samples to normalised values in place.
type Method func(values []float64, pLow, pHigh float64)

var methods = map[string]Method{
	"max":        MaxNorm,
	"minmax":     MinMaxNorm,
	"percentile": PercentileNorm,
	"zscore":     ZScoreNorm,
}

// MaxNorm divides by the maximum when it is positive.
func MaxNorm(values []float64, _, _ float64) {
	hi := floats.Max(values)
	if hi > 0 {
		floats.Scale(1/hi, values)
	}
}

// MinMaxNorm maps [min, max] onto [0, 1]; constant groups are unchanged.
func MinMaxNorm(values []float64, _, _ float64) {
	lo, hi := floats.Min(values), floats.Max(values)
	if hi == lo {
		return
	}
	for i, v := range values {
		values[i] = (v - lo) / (hi - lo)
	}
}

// PercentileNorm maps the pLow and pHigh percentiles onto 0 and 1 and
// clips to that range.
func PercentileNorm(values []float64, pLow, pHigh float64) {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	lo := stat.Quantile(pLow/100, stat.LinInterp, sorted, nil)
	hi := stat.Quantile(pHigh/100, stat.LinInterp, sorted, nil)
	if hi <= lo {
		return
	}
	for i, v := range values {
		values[i] = math.Min(math.Max((v-lo)/(hi-lo), 0), 1)
	}
}

// ZScoreNorm centres on the mean and divides by the population standard
// deviation; constant groups are unchanged.
func ZScoreNorm(values []float64, _, _ float64) {
	mean, std := stat.PopMeanStdDev(values, nil)
	if std <= 0 {
		return
	}
	for i, v := range values {
		values[i] = stat.StdScore(v, mean, std)
	}
}

// Stage normalises one or all channels. The scope selects the sample
// groups sharing one set of statistics: the whole channel (global), each
// Z plane across all time points (z), or each time point across all
// planes (t).
type Stage struct{}

func (Stage) Category() pipeline.Category { return pipeline.Enhancement }

func (Stage) Params() []pipeline.ParamSpec {
	return []pipeline.ParamSpec{
		{Name: "method", Kind: pipeline.Enum, Choices: []string{"max", "minmax", "percentile", "zscore"}, Default: "max"},
		{Name: "scope", Kind: pipeline.Enum, Choices: []string{"global", "z", "t"}, Default: "global"},
		{Name: "channel", Kind: pipeline.Int, Default: -1, Min: pipeline.Bound(-1), Help: "channel to normalise, -1 for all"},
		{Name: "p_low", Kind: pipeline.Float, Default: 2.0, Min: pipeline.Bound(0), Max: pipeline.Bound(100)},
		{Name: "p_high", Kind: pipeline.Float, Default: 98.0, Min: pipeline.Bound(0), Max: pipeline.Bound(100)},
		{Name: "background_artifact", Kind: pipeline.String, Help: "published image subtracted before normalising"},
	}
}

func (Stage) Prepare(cfg pipeline.StageConfig) (pipeline.StageConfig, error) {
	if cfg.String("method") == "percentile" && cfg.Float("p_low") >= cfg.Float("p_high") {
		return cfg, &pipeline.ConfigurationError{Param: "p_low", Reason: "must be below p_high"}
	}
	return cfg, nil
}

func (Stage) Apply(ctx context.Context, in *pipeline.Input, cfg pipeline.StageConfig) (*pipeline.Output, error) {
	out := in.Image.Clone()
	out.DType = models.Float64
	sh := out.Shape

	if name := cfg.String("background_artifact"); name != "" {
		bg, ok := in.Artifacts.Image(name)
		if !ok {
			return nil, fmt.Errorf("%w: %q", pipeline.ErrMissingArtifact, name)
		}
		if bg.Shape != sh {
			return nil, fmt.Errorf("artifact %q is %s, image is %s", name, bg.Shape, sh)
		}
		for i, v := range out.Data {
			out.Data[i] = math.Max(v-bg.Data[i], 0)
		}
	}

	channels := []int{cfg.Int("channel")}
	if channels[0] < 0 {
		channels = channels[:0]
		for c := 0; c < sh.C; c++ {
			channels = append(channels, c)
		}
	} else if channels[0] >= sh.C {
		return nil, fmt.Errorf("channel %d out of range, image has %d", channels[0], sh.C)
	}

	method := methods[cfg.String("method")]
	pLow, pHigh := cfg.Float("p_low"), cfg.Float("p_high")
	for _, c := range channels {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, group := range groups(sh, cfg.String("scope")) {
			normaliseGroup(out, c, group, func(v []float64) { method(v, pLow, pHigh) })
		}
	}
	return &pipeline.Output{Image: out}, nil
}

// plane addresses one (t, z) pair.
type plane struct{ t, z int }

func groups(sh models.Shape, scope string) [][]plane {
	var out [][]plane
	switch scope {
	case "z":
		for z := 0; z < sh.Z; z++ {
			var g []plane
			for t := 0; t < sh.T; t++ {
				g = append(g, plane{t, z})
			}
			out = append(out, g)
		}
	case "t":
		for t := 0; t < sh.T; t++ {
			var g []plane
			for z := 0; z < sh.Z; z++ {
				g = append(g, plane{t, z})
			}
			out = append(out, g)
		}
	default:
		var g []plane
		for t := 0; t < sh.T; t++ {
			for z := 0; z < sh.Z; z++ {
				g = append(g, plane{t, z})
			}
		}
		out = append(out, g)
	}
	return out
}

// normaliseGroup gathers the planes of channel c in group, applies fn and
// scatters the result back.
func normaliseGroup(s *models.ImageStack, c int, group []plane, fn func([]float64)) {
	n := s.Shape.Y * s.Shape.X
	values := make([]float64, 0, n*len(group))
	for _, p := range group {
		values = append(values, s.Plane(p.t, p.z, c)...)
	}
	fn(values)
	for i, p := range group {
		copy(s.Plane(p.t, p.z, c), values[i*n:(i+1)*n])
	}
}
