package pipeline

import (
	"context"
	"sort"

	"bioimagelab/internal/models"
)

// Stage is one interchangeable processing step. Implementations must be
// safe for concurrent use: all per-image state arrives through Input.
type Stage interface {
	Category() Category
	// Params declares the recognised options
	Params() []ParamSpec
	Apply(ctx context.Context, in *Input, cfg StageConfig) (*Output, error)
}

// Preparer is implemented by stages that resolve configuration once at
// load time, e.g. by reading reference images. Errors abort the run as
// ConfigurationErrors.
type Preparer interface {
	Prepare(cfg StageConfig) (StageConfig, error)
}

// Resampler is implemented by image stages allowed to change the shape or
// calibration of the stack.
type Resampler interface {
	Resamples(cfg StageConfig) bool
}

// Input is the view of the per-image context a stage receives.
type Input struct {
	ImageID string
	Image   *models.ImageStack
	// Labels is nil before the first segmentation
	Labels *models.LabelMap
	// Objects is nil before the first extraction
	Objects *models.ObjectTable
	// Original is the calibration the image was loaded with
	Original  models.Calibration
	Artifacts *Artifacts
}

// Output carries the result matching the stage category: Image for
// image stages, Labels for segmentation, Objects for extraction and
// quantification.
type Output struct {
	Image   *models.ImageStack
	Labels  *models.LabelMap
	Objects *models.ObjectTable
}

// Artifacts holds intermediate results stages publish for later stages of
// the same image, such as an estimated background.
type Artifacts struct {
	images map[string]*models.ImageStack
	values map[string]any
}

func NewArtifacts() *Artifacts {
	return &Artifacts{images: map[string]*models.ImageStack{}, values: map[string]any{}}
}

// PublishImage stores an image artifact, replacing an earlier one.
func (a *Artifacts) PublishImage(name string, img *models.ImageStack) {
	a.images[name] = img
}

func (a *Artifacts) Image(name string) (*models.ImageStack, bool) {
	img, ok := a.images[name]
	return img, ok
}

// Publish stores a non-image artifact such as transform parameters.
func (a *Artifacts) Publish(name string, v any) {
	a.values[name] = v
}

func (a *Artifacts) Value(name string) (any, bool) {
	v, ok := a.values[name]
	return v, ok
}

// Names returns the sorted names of all image artifacts.
func (a *Artifacts) Names() []string {
	out := make([]string, 0, len(a.images))
	for n := range a.images {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
