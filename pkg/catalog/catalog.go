// Package catalog assembles the stage registry shipped with bioimagelab.
package catalog

import (
	"fmt"

	"bioimagelab/pkg/correction"
	"bioimagelab/pkg/filter"
	"bioimagelab/pkg/interpolation"
	"bioimagelab/pkg/measure"
	"bioimagelab/pkg/normalization"
	"bioimagelab/pkg/pipeline"
	"bioimagelab/pkg/segmentation"
)

// Options tunes the built-in stages.
type Options struct {
	// CancelCheckInterval is the number of watershed queue pops between
	// cancellation checks
	CancelCheckInterval int

	// Loader reads correction reference images; nil uses
	// correction.ReadReference
	Loader correction.Loader
}

// Builtins lists the built-in stages by identifier.
func Builtins(opts Options) map[string]pipeline.Stage {
	load := opts.Loader
	if load == nil {
		load = correction.ReadReference
	}
	return map[string]pipeline.Stage{
		"watershed": segmentation.NewWatershedStage(opts.CancelCheckInterval),
		"threshold": segmentation.ThresholdStage{},

		"flat_field":   correction.NewFlatFieldStage(load),
		"background":   correction.NewBackgroundStage(load),
		"shading":      correction.NewShadingStage(load),
		"hot_pixel":    correction.NewHotPixelStage(load),
		"registration": correction.NewRegistrationStage(load),
		"resample":     interpolation.Stage{},

		"normalize": normalization.Stage{},

		"gaussian":  filter.Gaussian{},
		"median":    filter.Median{},
		"box":       filter.Box{},
		"bilateral": filter.Bilateral{},

		"shape":     measure.ShapeStage{},
		"intensity": measure.IntensityStage{},
	}
}

// RegisterBuiltins adds every built-in stage to reg.
func RegisterBuiltins(reg *pipeline.Registry, opts Options) error {
	for id, s := range Builtins(opts) {
		if err := reg.Register(id, s); err != nil {
			return fmt.Errorf("register %s: %w", id, err)
		}
	}
	return nil
}

// NewRegistry returns a sealed registry holding the built-in stages.
func NewRegistry(opts Options) (*pipeline.Registry, error) {
	reg := pipeline.NewRegistry()
	if err := RegisterBuiltins(reg, opts); err != nil {
		return nil, err
	}
	reg.Seal()
	return reg, nil
}
