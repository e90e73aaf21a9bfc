package interpolation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bioimagelab/internal/models"
	"bioimagelab/pkg/pipeline"
)

// zStack builds a 1x depth x 1 x 3 x 4 stack whose planes hold fn(z).
func zStack(t *testing.T, depth int, vz float64, fn func(z int) float64) *models.ImageStack {
	t.Helper()
	cal := models.Calibration{VoxelSize: models.VoxelSize{X: 1, Y: 1, Z: vz}, Unit: "um"}
	s, err := models.NewImageStack(models.Shape{T: 1, Z: depth, C: 1, Y: 3, X: 4}, models.Uint16, cal)
	require.NoError(t, err)
	for z := 0; z < depth; z++ {
		p := s.Plane(0, z, 0)
		for i := range p {
			p[i] = fn(z)
		}
	}
	return s
}

func TestVariogramModels(t *testing.T) {
	for _, model := range []VariogramModel{Spherical, Exponential, Gaussian} {
		p := KrigingParams{Range: 10, Sill: 1, Nugget: 0.1, Model: model}
		assert.Zero(t, p.Variogram(0), model.String())
		prev := 0.0
		for _, h := range []float64{1, 5, 9} {
			g := p.Variogram(h)
			assert.Greater(t, g, prev, "%s must increase with distance", model)
			assert.LessOrEqual(t, g, 1.1+1e-12)
			prev = g
		}
	}
	sph := KrigingParams{Range: 10, Sill: 2, Nugget: 0.5, Model: Spherical}
	assert.Equal(t, 2.5, sph.Variogram(10))
	assert.Equal(t, 2.5, sph.Variogram(30))
}

func TestParseModel(t *testing.T) {
	for _, name := range []string{"spherical", "exponential", "gaussian"} {
		m, err := ParseModel(name)
		require.NoError(t, err)
		assert.Equal(t, name, m.String())
	}
	_, err := ParseModel("cubic")
	assert.Error(t, err)
}

func TestWeightsAreUnbiasedAndSymmetric(t *testing.T) {
	for _, model := range []VariogramModel{Spherical, Exponential, Gaussian} {
		w, err := Weights([]float64{0, 1, 2, 3}, 1.5, KrigingParams{Range: 4, Sill: 1, Model: model})
		require.NoError(t, err)
		require.Len(t, w, 4)
		assert.InDelta(t, 1.0, w[0]+w[1]+w[2]+w[3], 1e-6, model.String())
		assert.InDelta(t, w[0], w[3], 1e-6, model.String())
		assert.InDelta(t, w[1], w[2], 1e-6, model.String())
		assert.Greater(t, w[1], w[0], model.String())
	}
}

func TestWeightsHonourSamples(t *testing.T) {
	w, err := Weights([]float64{0, 2, 4}, 2, KrigingParams{Range: 6, Sill: 1, Model: Spherical})
	require.NoError(t, err)
	assert.InDelta(t, 0, w[0], 1e-6)
	assert.InDelta(t, 1, w[1], 1e-6)
	assert.InDelta(t, 0, w[2], 1e-6)
}

func TestWeightsErrors(t *testing.T) {
	_, err := Weights(nil, 0, KrigingParams{Range: 1})
	assert.Error(t, err)
	_, err = Weights([]float64{0, 1}, 0.5, KrigingParams{})
	assert.Error(t, err)

	w, err := Weights([]float64{3}, 0, KrigingParams{})
	require.NoError(t, err)
	assert.Equal(t, []float64{1}, w)
}

func TestNearest(t *testing.T) {
	assert.Equal(t, []int{0, 1}, nearest(0.5, 5, 2))
	assert.Equal(t, []int{2, 3, 4}, nearest(3.9, 5, 3))
	assert.Equal(t, []int{0, 1, 2}, nearest(1.5, 3, 8))
}

func TestIsotropicDepth(t *testing.T) {
	s := zStack(t, 5, 2, func(int) float64 { return 0 })
	s.Calibration.VoxelSize.X = 0.5
	assert.Equal(t, 17, IsotropicDepth(s))

	flat := zStack(t, 1, 2, func(int) float64 { return 0 })
	assert.Equal(t, 1, IsotropicDepth(flat))
}

func TestResampleZLinear(t *testing.T) {
	s := zStack(t, 3, 2, func(z int) float64 { return float64(10 * z) })
	out, err := ResampleZ(context.Background(), s, Options{Depth: 5, Method: Linear})
	require.NoError(t, err)
	assert.Equal(t, models.Shape{T: 1, Z: 5, C: 1, Y: 3, X: 4}, out.Shape)
	assert.Equal(t, 1.0, out.Calibration.VoxelSize.Z)
	assert.Equal(t, "um", out.Calibration.Unit)
	for z, want := range []float64{0, 5, 10, 15, 20} {
		assert.InDelta(t, want, out.At(0, z, 0, 1, 2), 1e-12, "plane %d", z)
	}
}

func TestResampleZKriging(t *testing.T) {
	s := zStack(t, 4, 1, func(z int) float64 { return float64(10 * z) })
	out, err := ResampleZ(context.Background(), s, Options{
		Depth:     7,
		Method:    Kriging,
		Neighbors: 4,
		Params:    KrigingParams{Sill: 1, Model: Spherical},
	})
	require.NoError(t, err)
	require.Equal(t, 7, out.Shape.Z)
	for _, z := range []int{0, 2, 4, 6} {
		assert.Equal(t, float64(5*z), out.At(0, z, 0, 0, 0), "acquired plane %d is copied", z)
	}
	// Every neighbour set of the centre estimate is symmetric.
	assert.InDelta(t, 15.0, out.At(0, 3, 0, 2, 3), 1e-6)

	constant := zStack(t, 4, 1, func(int) float64 { return 7 })
	out, err = ResampleZ(context.Background(), constant, Options{Depth: 10, Method: Kriging, Neighbors: 3})
	require.NoError(t, err)
	for _, v := range out.Data {
		assert.InDelta(t, 7.0, v, 1e-6)
	}
}

func TestResampleZEdgeCases(t *testing.T) {
	s := zStack(t, 3, 1, func(z int) float64 { return float64(z) })
	same, err := ResampleZ(context.Background(), s, Options{Depth: 3})
	require.NoError(t, err)
	assert.Equal(t, s.Data, same.Data)
	same.Data[0] = 42
	assert.Zero(t, s.Data[0], "result must not alias the input")

	_, err = ResampleZ(context.Background(), s, Options{Depth: 0})
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = ResampleZ(ctx, s, Options{Depth: 5})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStage(t *testing.T) {
	var st Stage
	assert.Equal(t, pipeline.Correction, st.Category())

	cfg, err := pipeline.ValidateConfig(st.Params(), map[string]any{"method": "linear"})
	require.NoError(t, err)
	assert.True(t, st.Resamples(cfg))

	s := zStack(t, 3, 2, func(z int) float64 { return float64(z) })
	out, err := st.Apply(context.Background(), &pipeline.Input{Image: s}, cfg)
	require.NoError(t, err)
	assert.Equal(t, 5, out.Image.Shape.Z, "isotropic by default")
	assert.Equal(t, 1.0, out.Image.Calibration.VoxelSize.Z)

	cfg, err = pipeline.ValidateConfig(st.Params(), map[string]any{"factor": 3, "variogram": "gaussian"})
	require.NoError(t, err)
	out, err = st.Apply(context.Background(), &pipeline.Input{Image: s}, cfg)
	require.NoError(t, err)
	assert.Equal(t, 7, out.Image.Shape.Z)
	assert.Equal(t, models.Float64, out.Image.DType)
}
