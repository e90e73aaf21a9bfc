package measure

import (
	"context"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bioimagelab/internal/models"
	"bioimagelab/pkg/pipeline"
)

// fixture returns a 6x5 two-channel plane with a 2x3 object (id 1) and a
// single-pixel object (id 2) on the border.
func fixture(t *testing.T) (*models.ImageStack, *models.LabelMap) {
	t.Helper()
	cal := models.Calibration{VoxelSize: models.VoxelSize{X: 0.5, Y: 0.25, Z: 2}, Unit: "um"}
	img, err := models.NewImageStack(models.Shape{T: 1, Z: 1, C: 2, Y: 5, X: 6}, models.Uint16, cal)
	require.NoError(t, err)
	lm := models.LabelMapFor(img)
	for y := 1; y <= 2; y++ {
		for x := 1; x <= 3; x++ {
			lm.Labels[lm.Index(0, 0, y, x)] = 1
			img.Set(0, 0, 0, y, x, float64(x))
			img.Set(0, 0, 1, y, x, 10)
		}
	}
	lm.Labels[lm.Index(0, 0, 4, 5)] = 2
	img.Set(0, 0, 0, 4, 5, 7)
	return img, lm
}

func extract(t *testing.T, img *models.ImageStack, lm *models.LabelMap, raw map[string]any) *models.ObjectTable {
	t.Helper()
	var s ShapeStage
	cfg, err := pipeline.ValidateConfig(s.Params(), raw)
	require.NoError(t, err)
	out, err := s.Apply(context.Background(), &pipeline.Input{Image: img, Labels: lm}, cfg)
	require.NoError(t, err)
	require.NoError(t, out.Objects.Validate(lm))
	return out.Objects
}

func scalar(t *testing.T, tab *models.ObjectTable, label uint32, name string) float64 {
	t.Helper()
	r, ok := tab.Record(label)
	require.True(t, ok)
	v, ok := r.Scalar(name)
	require.True(t, ok, name)
	return v
}

func vector(t *testing.T, tab *models.ObjectTable, label uint32, name string) []float64 {
	t.Helper()
	r, ok := tab.Record(label)
	require.True(t, ok)
	v, ok := r.Vector(name)
	require.True(t, ok, name)
	return v
}

func TestShapeMeasurements(t *testing.T) {
	img, lm := fixture(t)
	tab := extract(t, img, lm, nil)
	assert.Equal(t, []uint32{1, 2}, tab.Labels())

	assert.Equal(t, 6.0, scalar(t, tab, 1, Area))
	assert.InDelta(t, 6*0.5*0.25, scalar(t, tab, 1, AreaPhysical), 1e-12)
	// every pixel of a 2x3 block touches the background
	assert.Equal(t, 6.0, scalar(t, tab, 1, Perimeter))
	assert.InDelta(t, math.Sqrt(24/math.Pi), scalar(t, tab, 1, EquivalentDiameter), 1e-12)
	assert.Equal(t, 0.0, scalar(t, tab, 1, Timepoint))

	if diff := cmp.Diff([]float64{0, 1.5, 2}, vector(t, tab, 1, Centroid)); diff != "" {
		t.Errorf("centroid mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float64{0, 0.375, 1}, vector(t, tab, 1, CentroidPhysical)); diff != "" {
		t.Errorf("physical centroid mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float64{0, 1, 1, 0, 2, 3}, vector(t, tab, 1, BoundingBox)); diff != "" {
		t.Errorf("bbox mismatch (-want +got):\n%s", diff)
	}
}

func TestShapeInteriorNotPerimeter(t *testing.T) {
	lm := models.NewLabelMap(1, 1, 5, 5)
	for y := 1; y <= 3; y++ {
		for x := 1; x <= 3; x++ {
			lm.Labels[lm.Index(0, 0, y, x)] = 1
		}
	}
	img, err := models.NewImageStack(models.Shape{T: 1, Z: 1, C: 1, Y: 5, X: 5}, models.Uint8, models.DefaultCalibration())
	require.NoError(t, err)
	tab := extract(t, img, lm, nil)
	assert.Equal(t, 8.0, scalar(t, tab, 1, Perimeter))
}

func TestShapeVolume(t *testing.T) {
	img, err := models.NewImageStack(models.Shape{T: 1, Z: 3, C: 1, Y: 3, X: 3}, models.Uint8,
		models.Calibration{VoxelSize: models.VoxelSize{X: 1, Y: 1, Z: 2}, Unit: "um"})
	require.NoError(t, err)
	lm := models.LabelMapFor(img)
	for z := 0; z < 3; z++ {
		for y := 0; y < 3; y++ {
			for x := 0; x < 3; x++ {
				lm.Labels[lm.Index(0, z, y, x)] = 1
			}
		}
	}
	tab := extract(t, img, lm, nil)
	assert.Equal(t, 27.0, scalar(t, tab, 1, Area))
	assert.Equal(t, 54.0, scalar(t, tab, 1, AreaPhysical))
	assert.Equal(t, 26.0, scalar(t, tab, 1, Perimeter))
	assert.InDelta(t, math.Cbrt(6*27/math.Pi), scalar(t, tab, 1, EquivalentDiameter), 1e-12)
}

func TestShapePerPlaneObjectsInStack(t *testing.T) {
	img, err := models.NewImageStack(models.Shape{T: 2, Z: 2, C: 1, Y: 4, X: 4}, models.Uint8, models.DefaultCalibration())
	require.NoError(t, err)
	lm := models.LabelMapFor(img)
	id := uint32(0)
	for tt := 0; tt < 2; tt++ {
		for z := 0; z < 2; z++ {
			id++
			for y := 1; y <= 2; y++ {
				for x := 1; x <= 2; x++ {
					lm.Labels[lm.Index(tt, z, y, x)] = id
				}
			}
		}
	}
	tab := extract(t, img, lm, nil)
	assert.Equal(t, 4, tab.Len())
	assert.Equal(t, 4.0, scalar(t, tab, 1, AreaPhysical), "single-plane objects report area")
	assert.Equal(t, 1.0, scalar(t, tab, 4, Timepoint))
	assert.Equal(t, []float64{1, 1.5, 1.5}, vector(t, tab, 2, Centroid))
}

func TestShapeExcludeBorder(t *testing.T) {
	img, lm := fixture(t)
	tab := extract(t, img, lm, map[string]any{"exclude_border": true})
	assert.Equal(t, []uint32{1}, tab.Labels())
}

func TestIntensity(t *testing.T) {
	img, lm := fixture(t)
	tab := extract(t, img, lm, nil)
	var s IntensityStage
	cfg, err := pipeline.ValidateConfig(s.Params(), nil)
	require.NoError(t, err)
	out, err := s.Apply(context.Background(), &pipeline.Input{Image: img, Labels: lm, Objects: tab}, cfg)
	require.NoError(t, err)
	res := out.Objects

	// object 1 channel 0 holds 1, 2, 3 twice
	assert.InDelta(t, 2, scalar(t, res, 1, "c0_mean"), 1e-12)
	assert.InDelta(t, math.Sqrt(2.0/3), scalar(t, res, 1, "c0_std"), 1e-12)
	assert.Equal(t, 1.0, scalar(t, res, 1, "c0_min"))
	assert.Equal(t, 3.0, scalar(t, res, 1, "c0_max"))
	assert.Equal(t, 12.0, scalar(t, res, 1, "c0_integrated"))
	assert.Equal(t, 2.0, scalar(t, res, 1, "c0_median"))
	assert.Equal(t, 10.0, scalar(t, res, 1, "c1_mean"))
	assert.Equal(t, 7.0, scalar(t, res, 2, "c0_max"))
	assert.Equal(t, 6.0, scalar(t, res, 1, Area), "extraction measurements are kept")

	_, ok := mustRecord(t, tab, 1).Scalar("c0_mean")
	assert.False(t, ok, "input table must not be modified")
}

func mustRecord(t *testing.T, tab *models.ObjectTable, label uint32) *models.ObjectRecord {
	t.Helper()
	r, ok := tab.Record(label)
	require.True(t, ok)
	return r
}

func TestIntensityChannelSelection(t *testing.T) {
	img, lm := fixture(t)
	tab := extract(t, img, lm, nil)
	var s IntensityStage
	cfg, err := pipeline.ValidateConfig(s.Params(), map[string]any{"channels": []any{1}})
	require.NoError(t, err)
	out, err := s.Apply(context.Background(), &pipeline.Input{Image: img, Labels: lm, Objects: tab}, cfg)
	require.NoError(t, err)
	r := mustRecord(t, out.Objects, 1)
	_, ok := r.Scalar("c0_mean")
	assert.False(t, ok)
	_, ok = r.Scalar("c1_mean")
	assert.True(t, ok)

	cfg, err = pipeline.ValidateConfig(s.Params(), map[string]any{"channels": []any{4}})
	require.NoError(t, err)
	_, err = s.Apply(context.Background(), &pipeline.Input{Image: img, Labels: lm, Objects: tab}, cfg)
	assert.Error(t, err)
}

func TestIntensityWithoutObjects(t *testing.T) {
	img, lm := fixture(t)
	var s IntensityStage
	cfg, err := pipeline.ValidateConfig(s.Params(), nil)
	require.NoError(t, err)
	_, err = s.Apply(context.Background(), &pipeline.Input{Image: img, Labels: lm}, cfg)
	assert.ErrorIs(t, err, ErrNoObjects)
}
