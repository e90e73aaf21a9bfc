package pipeline

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testParams = []ParamSpec{
	{Name: "radius", Kind: Float, Default: 3.0, Min: Bound(0), Max: Bound(100)},
	{Name: "iterations", Kind: Int, Default: 1, Min: Bound(1)},
	{Name: "volumetric", Kind: Bool, Default: false},
	{Name: "mode", Kind: Enum, Choices: []string{"reference", "estimated"}, Required: true},
	{Name: "reference", Kind: String},
	{Name: "weights", Kind: FloatList, Min: Bound(0)},
}

func TestValidateConfig(t *testing.T) {
	t.Parallel()
	cfg, err := ValidateConfig(testParams, map[string]any{"mode": "Estimated", "iterations": 2.0, "weights": []any{1, 0.5}})
	require.NoError(t, err)
	assert.Equal(t, 3.0, cfg.Float("radius"))
	assert.Equal(t, 2, cfg.Int("iterations"))
	assert.False(t, cfg.Bool("volumetric"))
	assert.Equal(t, "estimated", cfg.String("mode"))
	assert.Equal(t, []float64{1, 0.5}, cfg.FloatList("weights"))
	assert.False(t, cfg.Has("reference"))

	atEdge, err := ValidateConfig(testParams, map[string]any{"mode": "reference", "radius": 100 + 1e-10})
	require.NoError(t, err, "values within tolerance of a bound are accepted")
	assert.InDelta(t, 100, atEdge.Float("radius"), 1e-9)
}

func TestValidateConfigErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		raw   map[string]any
		param string
	}{
		{"unknown option", map[string]any{"mode": "reference", "sigma": 1}, "sigma"},
		{"missing required", map[string]any{"radius": 1}, "mode"},
		{"type mismatch", map[string]any{"mode": "reference", "radius": "big"}, "radius"},
		{"fractional int", map[string]any{"mode": "reference", "iterations": 1.5}, "iterations"},
		{"below minimum", map[string]any{"mode": "reference", "radius": -1}, "radius"},
		{"above maximum", map[string]any{"mode": "reference", "radius": 100.001}, "radius"},
		{"bad enum", map[string]any{"mode": "magic"}, "mode"},
		{"bad list element", map[string]any{"mode": "reference", "weights": []any{1, "x"}}, "weights"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateConfig(testParams, tt.raw)
			var ce *ConfigurationError
			require.True(t, errors.As(err, &ce), "got %v", err)
			assert.Equal(t, tt.param, ce.Param)
		})
	}
}

func TestWithResourceDoesNotMutate(t *testing.T) {
	t.Parallel()
	cfg, err := ValidateConfig(testParams, map[string]any{"mode": "reference"})
	require.NoError(t, err)
	with := cfg.WithResource("img", 42)
	_, ok := cfg.Resource("img")
	assert.False(t, ok)
	v, ok := with.Resource("img")
	assert.True(t, ok)
	assert.Equal(t, 42, v)
}

func TestParseSpec(t *testing.T) {
	t.Parallel()
	spec, err := ParseSpec([]byte(`
name: nuclei
stages:
  - stage: scale
    config:
      factor: 2.5
  - stage: mask
    name: seg
`))
	require.NoError(t, err)
	assert.Equal(t, "nuclei", spec.Name)
	require.Len(t, spec.Stages, 2)
	assert.Equal(t, 2.5, spec.Stages[0].Config["factor"])
	assert.Equal(t, "scale", spec.StepName(0))
	assert.Equal(t, "seg", spec.StepName(1))

	for name, doc := range map[string]string{
		"empty":         ``,
		"no stages":     "name: x\nstages: []\n",
		"unknown key":   "name: x\nparallel: true\nstages:\n  - stage: a\n",
		"missing stage": "stages:\n  - name: a\n",
		"not yaml":      "stages: [",
	} {
		_, err := ParseSpec([]byte(doc))
		assert.True(t, IsConfiguration(err), "%s: %v", name, err)
	}
}

func TestLoadSpecFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "p.yaml")
	require.NoError(t, os.WriteFile(path, []byte("stages:\n  - stage: scale\n"), 0o644))
	spec, err := LoadSpecFile(path)
	require.NoError(t, err)
	assert.Len(t, spec.Stages, 1)

	_, err = LoadSpecFile(filepath.Join(dir, "missing.yaml"))
	assert.True(t, IsConfiguration(err))
}

func TestCategoryTransitions(t *testing.T) {
	t.Parallel()
	reg := testRegistry(t, nil)
	tests := []struct {
		name         string
		stages       []string
		hierarchical bool
		failStep     int
	}{
		{"valid", []string{"scale", "mask", "count", "scale"}, false, 0},
		{"extraction before segmentation", []string{"count", "mask"}, false, 1},
		{"double segmentation", []string{"mask", "scale", "mask"}, false, 3},
		{"hierarchical double segmentation", []string{"mask", "mask", "count"}, true, 0},
		{"extraction reset by re-segmentation", []string{"mask", "count", "mask"}, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := &PipelineSpec{Hierarchical: tt.hierarchical}
			for _, s := range tt.stages {
				spec.Stages = append(spec.Stages, StepSpec{Stage: s})
			}
			plan, err := Compile(spec, reg)
			if tt.failStep == 0 {
				require.NoError(t, err)
				assert.Len(t, plan.Steps, len(tt.stages))
				return
			}
			var ce *ConfigurationError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, tt.failStep, ce.Step)
		})
	}
	_, err := Compile(&PipelineSpec{}, reg)
	assert.True(t, IsConfiguration(err))
}

func TestRegistry(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	require.NoError(t, reg.Register("b", scaleStage()))
	require.NoError(t, reg.Register("a", maskStage()))
	assert.Error(t, reg.Register("a", maskStage()))
	assert.Error(t, reg.Register("", maskStage()))
	assert.Equal(t, []string{"a", "b"}, reg.IDs())
	reg.Seal()
	assert.Error(t, reg.Register("c", countStage()))
	_, ok := reg.Lookup("a")
	assert.True(t, ok)
}

func TestCategoryNames(t *testing.T) {
	t.Parallel()
	for c := Correction; c <= Quantification; c++ {
		got, err := ParseCategory(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}
	_, err := ParseCategory("visualisation")
	assert.Error(t, err)
}
