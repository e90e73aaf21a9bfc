package pipeline

import (
	"fmt"
	"time"

	"bioimagelab/internal/models"
)

// ProvenanceEntry records one executed stage.
type ProvenanceEntry struct {
	Step     int            `yaml:"step" json:"step"`
	Name     string         `yaml:"name" json:"name"`
	StageID  string         `yaml:"stage" json:"stage"`
	Category string         `yaml:"category" json:"category"`
	Config   map[string]any `yaml:"config,omitempty" json:"config,omitempty"`
	Duration time.Duration  `yaml:"duration" json:"duration"`
}

// imageContext is the state of one image travelling through a plan. It is
// owned by a single worker.
type imageContext struct {
	id         string
	original   models.Calibration
	shape      models.Shape
	image      *models.ImageStack
	labels     *models.LabelMap
	objects    *models.ObjectTable
	artifacts  *Artifacts
	provenance []ProvenanceEntry
}

func newImageContext(id string, img *models.ImageStack) *imageContext {
	return &imageContext{
		id:        id,
		original:  img.Calibration,
		shape:     img.Shape,
		image:     img,
		artifacts: NewArtifacts(),
	}
}

func (c *imageContext) input() *Input {
	return &Input{
		ImageID:   c.id,
		Image:     c.image,
		Labels:    c.labels,
		Objects:   c.objects,
		Original:  c.original,
		Artifacts: c.artifacts,
	}
}

// accept checks out against the contract of step's category and folds it
// into the context.
func (c *imageContext) accept(step Step, out *Output) error {
	if out == nil {
		return fmt.Errorf("stage returned no output")
	}
	switch {
	case step.Category.ImageStage():
		img := out.Image
		if img == nil {
			return fmt.Errorf("%s stage returned no image", step.Category)
		}
		if err := img.Validate(); err != nil {
			return err
		}
		resamples := false
		if r, ok := step.Stage.(Resampler); ok {
			resamples = r.Resamples(step.Config)
		}
		if !resamples {
			if img.Shape != c.image.Shape {
				return fmt.Errorf("%s stage changed shape %s to %s", step.Category, c.image.Shape, img.Shape)
			}
			if !img.Calibration.Equal(c.image.Calibration) {
				return fmt.Errorf("%s stage changed calibration", step.Category)
			}
		}
		if c.labels != nil {
			if err := c.labels.Matches(img); err != nil {
				return err
			}
		}
		c.image = img

	case step.Category == Segmentation:
		if out.Labels == nil {
			return fmt.Errorf("segmentation stage returned no label map")
		}
		if err := out.Labels.Validate(); err != nil {
			return err
		}
		if err := out.Labels.Matches(c.image); err != nil {
			return err
		}
		c.labels = out.Labels
		c.objects = nil

	default:
		if out.Objects == nil {
			return fmt.Errorf("%s stage returned no object table", step.Category)
		}
		if err := out.Objects.Validate(c.labels); err != nil {
			return err
		}
		if step.Category == Quantification && c.objects != nil && out.Objects.Len() < c.objects.Len() {
			return fmt.Errorf("quantification stage dropped object records")
		}
		c.objects = out.Objects
	}
	return nil
}
