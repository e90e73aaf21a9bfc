package segmentation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bioimagelab/internal/models"
	"bioimagelab/pkg/pipeline"
)

// diskStack builds a Z-plane stack where every plane holds the two touching
// disks of the watershed scenario with intensity 100 on a background of 5.
func diskStack(t *testing.T, depth int) *models.ImageStack {
	t.Helper()
	const w, h = 60, 40
	img, err := models.NewImageStack(models.Shape{T: 1, Z: depth, C: 1, Y: h, X: w}, models.Uint8, models.DefaultCalibration())
	require.NoError(t, err)
	mask := disks(w, h, 10, [2]int{20, 20}, [2]int{35, 20})
	for z := 0; z < depth; z++ {
		p := img.Plane(0, z, 0)
		for i, m := range mask {
			p[i] = 5
			if m {
				p[i] = 100
			}
		}
	}
	return img
}

func validated(t *testing.T, s pipeline.Stage, raw map[string]any) pipeline.StageConfig {
	t.Helper()
	cfg, err := pipeline.ValidateConfig(s.Params(), raw)
	require.NoError(t, err)
	return cfg
}

func TestWatershedStagePerPlaneIDsAreUnique(t *testing.T) {
	stage := NewWatershedStage(64)
	img := diskStack(t, 3)
	out, err := stage.Apply(context.Background(), &pipeline.Input{Image: img}, validated(t, stage, map[string]any{"suppression_radius": 5}))
	require.NoError(t, err)
	require.NoError(t, out.Labels.Validate())
	assert.Equal(t, 6, out.Labels.Count())

	seen := map[uint32]int{}
	for z := 0; z < 3; z++ {
		for _, l := range out.Labels.Plane(0, z) {
			if l != 0 {
				seen[l] = z
			}
		}
	}
	assert.Len(t, seen, 6)
}

func TestWatershedStageVolumetric(t *testing.T) {
	stage := NewWatershedStage(64)
	img := diskStack(t, 3)
	out, err := stage.Apply(context.Background(), &pipeline.Input{Image: img},
		validated(t, stage, map[string]any{"suppression_radius": 5, "volumetric": true, "threshold": "fixed", "level": 50}))
	require.NoError(t, err)
	assert.Equal(t, 2, out.Labels.Count(), "cylinders spanning every plane are two objects")
	assert.Equal(t, out.Labels.At(0, 0, 20, 20), out.Labels.At(0, 2, 20, 20))
}

func TestWatershedStageHierarchicalRestriction(t *testing.T) {
	stage := NewWatershedStage(64)
	img := diskStack(t, 1)
	prior := models.LabelMapFor(img)
	for y := 0; y < 40; y++ {
		for x := 0; x < 28; x++ {
			prior.Labels[prior.Index(0, 0, y, x)] = 1
		}
	}
	out, err := stage.Apply(context.Background(), &pipeline.Input{Image: img, Labels: prior},
		validated(t, stage, map[string]any{"suppression_radius": 5}))
	require.NoError(t, err)
	assert.Equal(t, 1, out.Labels.Count())
	for y := 0; y < 40; y++ {
		for x := 28; x < 60; x++ {
			assert.Zero(t, out.Labels.At(0, 0, y, x))
		}
	}
}

func TestWatershedStageErrors(t *testing.T) {
	stage := NewWatershedStage(64)
	img := diskStack(t, 1)
	_, err := stage.Apply(context.Background(), &pipeline.Input{Image: img}, validated(t, stage, map[string]any{"channel": 2}))
	assert.Error(t, err)

	full, err := models.NewPlane(4, 4, []float64{1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1}, models.DefaultCalibration())
	require.NoError(t, err)
	_, err = stage.Apply(context.Background(), &pipeline.Input{Image: full},
		validated(t, stage, map[string]any{"threshold": "fixed", "level": 0}))
	assert.True(t, errors.Is(err, ErrDegenerateDistance))

	blank, err := models.NewPlane(4, 4, make([]float64, 16), models.DefaultCalibration())
	require.NoError(t, err)
	out, err := stage.Apply(context.Background(), &pipeline.Input{Image: blank}, validated(t, stage, nil))
	require.NoError(t, err)
	assert.Zero(t, out.Labels.Count())
}

func TestThresholdStage(t *testing.T) {
	var stage ThresholdStage
	data := []float64{
		9, 9, 0, 0, 0, 9,
		9, 9, 0, 0, 0, 0,
		0, 0, 0, 9, 9, 9,
	}
	img, err := models.NewPlane(6, 3, data, models.DefaultCalibration())
	require.NoError(t, err)

	out, err := stage.Apply(context.Background(), &pipeline.Input{Image: img}, validated(t, stage, map[string]any{"min_area": 2}))
	require.NoError(t, err)
	require.NoError(t, out.Labels.Validate())
	assert.Equal(t, []uint32{
		1, 1, 0, 0, 0, 0,
		1, 1, 0, 0, 0, 0,
		0, 0, 0, 2, 2, 2,
	}, out.Labels.Labels)
}
