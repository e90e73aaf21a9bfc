package correction

import (
	"context"
	"fmt"
	"math"
	"math/cmplx"

	"bioimagelab/internal/models"
	"bioimagelab/pkg/pipeline"
)

// TransformParameters is the translation estimated for one time point.
// Aligned pixel (x, y) takes the moving pixel (x+DX, y+DY). The quality
// figures compare the aligned and reference projections over their
// overlap.
type TransformParameters struct {
	T           int     `yaml:"t" json:"t"`
	DX          float64 `yaml:"dx" json:"dx"`
	DY          float64 `yaml:"dy" json:"dy"`
	Peak        float64 `yaml:"peak" json:"peak"`
	RMSE        float64 `yaml:"rmse" json:"rmse"`
	Correlation float64 `yaml:"correlation" json:"correlation"`
	SSIM        float64 `yaml:"ssim" json:"ssim"`
}

// RegistrationConfig controls Register.
type RegistrationConfig struct {
	// Channel drives the estimate; the shift is applied to every channel
	Channel int
	// ReferenceT is the time point aligned to when no reference is given
	ReferenceT int
	// MaxShift bounds |DX| and |DY|; 0 leaves them unbounded
	MaxShift int
	// Crop trims the result to the region covered at every time point
	Crop bool
}

// Register estimates the translation of every time point of moving
// against reference by phase correlation of maximum-intensity projections
// and returns the aligned stack. Uncovered pixels are 0. A nil reference
// selects time point ReferenceT of moving.
func Register(ctx context.Context, moving, reference *models.ImageStack, cfg RegistrationConfig) (*models.ImageStack, []TransformParameters, error) {
	sh := moving.Shape
	w, h := sh.X, sh.Y
	if cfg.Channel < 0 || cfg.Channel >= sh.C {
		return nil, nil, fmt.Errorf("channel %d out of range, image has %d", cfg.Channel, sh.C)
	}

	var ref []float64
	if reference != nil {
		if reference.Shape.X != w || reference.Shape.Y != h {
			return nil, nil, fmt.Errorf("reference is %dx%d, image is %dx%d", reference.Shape.X, reference.Shape.Y, w, h)
		}
		c := cfg.Channel
		if c >= reference.Shape.C {
			c = 0
		}
		ref = projection(reference, 0, c)
	} else {
		if cfg.ReferenceT < 0 || cfg.ReferenceT >= sh.T {
			return nil, nil, fmt.Errorf("reference time point %d out of range, image has %d", cfg.ReferenceT, sh.T)
		}
		ref = projection(moving, cfg.ReferenceT, cfg.Channel)
	}
	refSpec := fft2D(ref, w, h)

	params := make([]TransformParameters, sh.T)
	for t := 0; t < sh.T; t++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		mov := projection(moving, t, cfg.Channel)
		dx, dy, peak := phaseCorrelate(refSpec, fft2D(mov, w, h), w, h, cfg.MaxShift)
		p := TransformParameters{T: t, DX: float64(dx), DY: float64(dy), Peak: peak}

		a, b := overlap(ref, shiftPlane(mov, w, h, dx, dy), w, h, dx, dy)
		p.RMSE, p.Correlation, p.SSIM = rmse(a, b), correlation(a, b), ssim(a, b)
		params[t] = p
	}

	x0, y0, x1, y1 := 0, 0, w, h
	if cfg.Crop {
		for _, p := range params {
			dx, dy := int(p.DX), int(p.DY)
			x0, y0 = max(x0, -dx), max(y0, -dy)
			x1, y1 = min(x1, w-dx), min(y1, h-dy)
		}
		if x1 <= x0 || y1 <= y0 {
			return nil, nil, fmt.Errorf("time points share no common region")
		}
	}

	outShape := sh
	outShape.X, outShape.Y = x1-x0, y1-y0
	out, err := models.NewImageStack(outShape, moving.DType, moving.Calibration)
	if err != nil {
		return nil, nil, err
	}
	out.Channels = append([]string(nil), moving.Channels...)
	for t := 0; t < sh.T; t++ {
		dx, dy := int(params[t].DX), int(params[t].DY)
		for z := 0; z < sh.Z; z++ {
			for c := 0; c < sh.C; c++ {
				shifted := shiftPlane(moving.Plane(t, z, c), w, h, dx, dy)
				dst := out.Plane(t, z, c)
				for y := y0; y < y1; y++ {
					copy(dst[(y-y0)*outShape.X:(y-y0+1)*outShape.X], shifted[y*w+x0:y*w+x1])
				}
			}
		}
	}
	return out, params, nil
}

// phaseCorrelate returns the integer translation of mov relative to ref
// from the peak of the normalised cross-power spectrum.
func phaseCorrelate(refSpec, movSpec []complex128, w, h, maxShift int) (dx, dy int, peak float64) {
	cross := make([]complex128, len(refSpec))
	for i := range cross {
		c := movSpec[i] * cmplx.Conj(refSpec[i])
		if mag := cmplx.Abs(c); mag > models.Tolerance {
			cross[i] = c / complex(mag, 0)
		}
	}
	surface := ifft2D(cross, w, h)

	peak = math.Inf(-1)
	for y := 0; y < h; y++ {
		sy := wrap(y, h)
		if maxShift > 0 && abs(sy) > maxShift {
			continue
		}
		for x := 0; x < w; x++ {
			sx := wrap(x, w)
			if maxShift > 0 && abs(sx) > maxShift {
				continue
			}
			if v := surface[y*w+x]; v > peak {
				peak, dx, dy = v, sx, sy
			}
		}
	}
	return dx, dy, peak
}

func wrap(i, n int) int {
	if i > n/2 {
		return i - n
	}
	return i
}

func abs(i int) int {
	if i < 0 {
		return -i
	}
	return i
}

// shiftPlane returns out(x, y) = plane(x+dx, y+dy), 0 outside the plane.
func shiftPlane(plane []float64, w, h, dx, dy int) []float64 {
	out := make([]float64, w*h)
	for y := 0; y < h; y++ {
		sy := y + dy
		if sy < 0 || sy >= h {
			continue
		}
		for x := 0; x < w; x++ {
			if sx := x + dx; sx >= 0 && sx < w {
				out[y*w+x] = plane[sy*w+sx]
			}
		}
	}
	return out
}

// overlap returns the samples of ref and aligned covered by the shifted
// moving plane.
func overlap(ref, aligned []float64, w, h, dx, dy int) (a, b []float64) {
	for y := max(0, -dy); y < min(h, h-dy); y++ {
		for x := max(0, -dx); x < min(w, w-dx); x++ {
			a = append(a, ref[y*w+x])
			b = append(b, aligned[y*w+x])
		}
	}
	return a, b
}

// projection returns the maximum-intensity projection over Z.
func projection(s *models.ImageStack, t, c int) []float64 {
	out := append([]float64(nil), s.Plane(t, 0, c)...)
	for z := 1; z < s.Shape.Z; z++ {
		for i, v := range s.Plane(t, z, c) {
			out[i] = max(out[i], v)
		}
	}
	return out
}

// RegistrationStage aligns the time points of an image to a reference
// image or to one of its own time points. The estimated parameters are
// published as the "registration" artifact.
type RegistrationStage struct {
	load Loader
}

func NewRegistrationStage(load Loader) *RegistrationStage {
	return &RegistrationStage{load: load}
}

func (s *RegistrationStage) Category() pipeline.Category { return pipeline.Correction }

func (s *RegistrationStage) Params() []pipeline.ParamSpec {
	return []pipeline.ParamSpec{
		{Name: "reference", Kind: pipeline.String, Help: "reference image; defaults to a time point of the image"},
		{Name: "reference_t", Kind: pipeline.Int, Default: 0, Min: pipeline.Bound(0)},
		{Name: "channel", Kind: pipeline.Int, Default: 0, Min: pipeline.Bound(0)},
		{Name: "max_shift", Kind: pipeline.Int, Default: 0, Min: pipeline.Bound(0), Help: "largest accepted shift in pixels, 0 for any"},
		{Name: "crop", Kind: pipeline.Bool, Default: false, Help: "trim to the region covered at every time point"},
	}
}

// Resamples reports whether the stage may change the image extent.
func (s *RegistrationStage) Resamples(cfg pipeline.StageConfig) bool { return cfg.Bool("crop") }

func (s *RegistrationStage) Prepare(cfg pipeline.StageConfig) (pipeline.StageConfig, error) {
	path := cfg.String("reference")
	if path == "" {
		return cfg, nil
	}
	load := s.load
	if load == nil {
		load = ReadReference
	}
	ref, err := load(path)
	if err != nil {
		return cfg, &pipeline.ConfigurationError{Param: "reference", Reason: "loading reference image", Err: err}
	}
	return cfg.WithResource(methodResource, Reference{Image: ref}), nil
}

func (s *RegistrationStage) Apply(ctx context.Context, in *pipeline.Input, cfg pipeline.StageConfig) (*pipeline.Output, error) {
	var ref *models.ImageStack
	if r, ok := methodOf(cfg).(Reference); ok {
		ref = r.Image
	}
	out, params, err := Register(ctx, in.Image, ref, RegistrationConfig{
		Channel:    cfg.Int("channel"),
		ReferenceT: cfg.Int("reference_t"),
		MaxShift:   cfg.Int("max_shift"),
		Crop:       cfg.Bool("crop"),
	})
	if err != nil {
		return nil, err
	}
	in.Artifacts.Publish("registration", params)
	return &pipeline.Output{Image: out}, nil
}
