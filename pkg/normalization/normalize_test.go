package normalization

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bioimagelab/internal/models"
	"bioimagelab/pkg/pipeline"
)

func TestMethods(t *testing.T) {
	tests := []struct {
		name   string
		method Method
		in     []float64
		want   []float64
	}{
		{"max", MaxNorm, []float64{1, 2, 4}, []float64{0.25, 0.5, 1}},
		{"max non-positive", MaxNorm, []float64{-1, 0}, []float64{-1, 0}},
		{"minmax", MinMaxNorm, []float64{2, 4, 6}, []float64{0, 0.5, 1}},
		{"minmax constant", MinMaxNorm, []float64{3, 3}, []float64{3, 3}},
		{"zscore", ZScoreNorm, []float64{1, 3}, []float64{-1, 1}},
		{"zscore constant", ZScoreNorm, []float64{5, 5}, []float64{5, 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := append([]float64(nil), tt.in...)
			tt.method(v, 2, 98)
			assert.InDeltaSlice(t, tt.want, v, 1e-12)
		})
	}
}

func TestPercentileClips(t *testing.T) {
	v := []float64{10, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	// 20th percentile is 2 and 80th is 8 for ten samples
	PercentileNorm(v, 20, 80)
	assert.InDelta(t, 1, v[0], 1e-12)
	assert.InDelta(t, 0, v[1], 1e-12)
	assert.InDelta(t, 0.5, v[5], 1e-12)
}

func stack(t *testing.T, sh models.Shape, fn func(tt, z, c, i int) float64) *models.ImageStack {
	t.Helper()
	s, err := models.NewImageStack(sh, models.Uint16, models.DefaultCalibration())
	require.NoError(t, err)
	require.NoError(t, s.EachPlane(func(tt, z, c int, p []float64) error {
		for i := range p {
			p[i] = fn(tt, z, c, i)
		}
		return nil
	}))
	return s
}

func apply(t *testing.T, img *models.ImageStack, arts *pipeline.Artifacts, raw map[string]any) (*models.ImageStack, error) {
	t.Helper()
	var s Stage
	cfg, err := pipeline.ValidateConfig(s.Params(), raw)
	require.NoError(t, err)
	cfg, err = s.Prepare(cfg)
	require.NoError(t, err)
	if arts == nil {
		arts = pipeline.NewArtifacts()
	}
	out, err := s.Apply(context.Background(), &pipeline.Input{Image: img, Artifacts: arts}, cfg)
	if err != nil {
		return nil, err
	}
	return out.Image, nil
}

func TestScopes(t *testing.T) {
	sh := models.Shape{T: 2, Z: 2, C: 1, Y: 1, X: 2}
	// value = 1 + t*2 + z, second pixel doubled
	img := stack(t, sh, func(tt, z, _, i int) float64 { return float64((1 + tt*2 + z) * (i + 1)) })

	global, err := apply(t, img, nil, map[string]any{"scope": "global"})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, global.At(1, 1, 0, 0, 1), 1e-12)
	assert.InDelta(t, 1.0/8, global.At(0, 0, 0, 0, 0), 1e-12)

	perT, err := apply(t, img, nil, map[string]any{"scope": "t"})
	require.NoError(t, err)
	// t=0 max is 4
	assert.InDelta(t, 0.25, perT.At(0, 0, 0, 0, 0), 1e-12)
	assert.InDelta(t, 1.0, perT.At(0, 1, 0, 0, 1), 1e-12)
	// t=1 max is 8
	assert.InDelta(t, 3.0/8, perT.At(1, 0, 0, 0, 0), 1e-12)

	perZ, err := apply(t, img, nil, map[string]any{"scope": "z"})
	require.NoError(t, err)
	// z=0 max is 6
	assert.InDelta(t, 1.0/6, perZ.At(0, 0, 0, 0, 0), 1e-12)
	assert.InDelta(t, 1.0, perZ.At(1, 0, 0, 0, 1), 1e-12)

	assert.Equal(t, 1.0, img.At(0, 0, 0, 0, 0), "input must not be modified")
	assert.Equal(t, models.Float64, global.DType)
}

func TestSingleChannel(t *testing.T) {
	sh := models.Shape{T: 1, Z: 1, C: 2, Y: 1, X: 2}
	img := stack(t, sh, func(_, _, c, i int) float64 { return float64(10*c + i + 1) })
	out, err := apply(t, img, nil, map[string]any{"channel": 1, "method": "minmax"})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 0, 1}, out.Data)

	_, err = apply(t, img, nil, map[string]any{"channel": 2})
	assert.Error(t, err)
}

func TestBackgroundArtifact(t *testing.T) {
	sh := models.Shape{T: 1, Z: 1, C: 1, Y: 1, X: 3}
	img := stack(t, sh, func(_, _, _, i int) float64 { return float64(4 + 2*i) })
	bg := stack(t, sh, func(int, int, int, int) float64 { return 4 })
	arts := pipeline.NewArtifacts()
	arts.PublishImage("background", bg)

	out, err := apply(t, img, arts, map[string]any{"background_artifact": "background"})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0, 0.5, 1}, out.Data, 1e-12)

	_, err = apply(t, img, nil, map[string]any{"background_artifact": "flat_field"})
	assert.ErrorIs(t, err, pipeline.ErrMissingArtifact)
}

func TestPercentileBoundsRejected(t *testing.T) {
	var s Stage
	cfg, err := pipeline.ValidateConfig(s.Params(), map[string]any{"method": "percentile", "p_low": 90, "p_high": 10})
	require.NoError(t, err)
	_, err = s.Prepare(cfg)
	var ce *pipeline.ConfigurationError
	assert.ErrorAs(t, err, &ce)
}
