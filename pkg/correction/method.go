// Package correction implements acquisition corrections: flat field,
// background subtraction, shading, hot-pixel repair and translation
// registration. Each correction works either against measured reference
// images or against a model estimated from the image itself.
package correction

import (
	"fmt"

	"bioimagelab/internal/models"
	"bioimagelab/pkg/imageio"
	"bioimagelab/pkg/pipeline"
)

// Method selects where a correction takes its model of the artefact from.
// It is either Reference or Estimated.
type Method interface {
	method()
}

// Reference corrects against measured calibration images. Dark is nil
// when no dark frame was given.
type Reference struct {
	Image *models.ImageStack
	Dark  *models.ImageStack
}

// Estimated derives the model from the image being corrected, using the
// stage options as model configuration.
type Estimated struct{}

func (Reference) method() {}
func (Estimated) method() {}

// Loader reads a reference image.
type Loader func(path string) (*models.ImageStack, error)

// ReadReference is the default Loader.
func ReadReference(path string) (*models.ImageStack, error) {
	return imageio.ReadFile(path, models.DefaultCalibration())
}

const methodResource = "method"

func modeParams() []pipeline.ParamSpec {
	return []pipeline.ParamSpec{
		{Name: "mode", Kind: pipeline.Enum, Choices: []string{"reference", "estimated"}, Default: "estimated"},
		{Name: "reference", Kind: pipeline.String, Help: "reference image used when mode is reference"},
	}
}

// prepareMethod resolves the Method of a validated configuration, loading
// reference images once.
func prepareMethod(cfg pipeline.StageConfig, load Loader, withDark bool) (pipeline.StageConfig, error) {
	if cfg.String("mode") != "reference" {
		return cfg.WithResource(methodResource, Estimated{}), nil
	}
	if load == nil {
		load = ReadReference
	}
	path := cfg.String("reference")
	if path == "" {
		return cfg, &pipeline.ConfigurationError{Param: "reference", Reason: "required when mode is reference"}
	}
	ref := Reference{}
	var err error
	if ref.Image, err = load(path); err != nil {
		return cfg, &pipeline.ConfigurationError{Param: "reference", Reason: "loading reference image", Err: err}
	}
	if withDark && cfg.String("dark") != "" {
		if ref.Dark, err = load(cfg.String("dark")); err != nil {
			return cfg, &pipeline.ConfigurationError{Param: "dark", Reason: "loading dark frame", Err: err}
		}
		if ref.Dark.Shape != ref.Image.Shape {
			return cfg, &pipeline.ConfigurationError{Param: "dark", Reason: fmt.Sprintf("dark frame is %s, reference is %s", ref.Dark.Shape, ref.Image.Shape)}
		}
	}
	return cfg.WithResource(methodResource, ref), nil
}

func methodOf(cfg pipeline.StageConfig) Method {
	if m, ok := cfg.Resource(methodResource); ok {
		return m.(Method)
	}
	return Estimated{}
}

// referencePlane returns the plane of ref matching (t, z, c) of img. A
// reference with a single time point, Z plane or channel is broadcast
// along that axis.
func referencePlane(ref, img *models.ImageStack, t, z, c int) ([]float64, error) {
	if ref == nil {
		return nil, nil
	}
	rs, is := ref.Shape, img.Shape
	if rs.Y != is.Y || rs.X != is.X {
		return nil, fmt.Errorf("reference is %dx%d, image is %dx%d", rs.X, rs.Y, is.X, is.Y)
	}
	pick := func(axis string, n, i int) (int, error) {
		switch n {
		case 1:
			return 0, nil
		case 0:
			return 0, models.ErrEmptyStack
		}
		if i >= n {
			return 0, fmt.Errorf("reference has %d %s, image needs index %d", n, axis, i)
		}
		return i, nil
	}
	rt, err := pick("time points", rs.T, t)
	if err != nil {
		return nil, err
	}
	rz, err := pick("planes", rs.Z, z)
	if err != nil {
		return nil, err
	}
	rc, err := pick("channels", rs.C, c)
	if err != nil {
		return nil, err
	}
	return ref.Plane(rt, rz, rc), nil
}

// correctPlanes clones the input image and an artifact of the same shape
// and calls fn for every plane with the reference planes matching it.
func correctPlanes(in *pipeline.Input, m Method, fn func(src, dst, art, ref, dark []float64) error) (*models.ImageStack, *models.ImageStack, error) {
	out := in.Image.WithData()
	art := in.Image.WithData()
	out.DType, art.DType = models.Float64, models.Float64
	err := in.Image.EachPlane(func(t, z, c int, src []float64) error {
		var ref, dark []float64
		if r, ok := m.(Reference); ok {
			var err error
			if ref, err = referencePlane(r.Image, in.Image, t, z, c); err != nil {
				return err
			}
			if dark, err = referencePlane(r.Dark, in.Image, t, z, c); err != nil {
				return err
			}
		}
		return fn(src, out.Plane(t, z, c), art.Plane(t, z, c), ref, dark)
	})
	if err != nil {
		return nil, nil, err
	}
	return out, art, nil
}
