package pipeline

import (
	"fmt"
	"time"

	"bioimagelab/internal/models"
)

// Status is the outcome of one image.
type Status int

const (
	Skipped Status = iota
	Succeeded
	Failed
)

func (s Status) String() string {
	switch s {
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Skipped:
		return "skipped"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// MarshalYAML renders the status by name.
func (s Status) MarshalYAML() (any, error) { return s.String(), nil }

// ImageResult is the per-image entry of a run summary. Image, Labels and
// Objects are set only for succeeded images; Objects is frozen. Artifacts
// holds what the stages published.
type ImageResult struct {
	Index      int               `yaml:"index"`
	Source     string            `yaml:"source"`
	ImageID    string            `yaml:"imageId,omitempty"`
	Status     Status            `yaml:"status"`
	Kind       string            `yaml:"kind,omitempty"`
	FailedStep int               `yaml:"failedStep,omitempty"`
	Stage      string            `yaml:"stage,omitempty"`
	Cause      string            `yaml:"cause,omitempty"`
	Duration   time.Duration     `yaml:"duration"`
	Provenance []ProvenanceEntry `yaml:"provenance,omitempty"`

	Err       error               `yaml:"-"`
	Image     *models.ImageStack  `yaml:"-"`
	Labels    *models.LabelMap    `yaml:"-"`
	Objects   *models.ObjectTable `yaml:"-"`
	Artifacts *Artifacts          `yaml:"-"`
}

// RunSummary enumerates the outcome of every input image.
type RunSummary struct {
	RunID     string        `yaml:"runId"`
	Pipeline  string        `yaml:"pipeline"`
	Started   time.Time     `yaml:"started"`
	Finished  time.Time     `yaml:"finished"`
	Cancelled bool          `yaml:"cancelled"`
	Results   []ImageResult `yaml:"results"`
}

func (s *RunSummary) count(st Status) int {
	n := 0
	for _, r := range s.Results {
		if r.Status == st {
			n++
		}
	}
	return n
}

func (s *RunSummary) Succeeded() int { return s.count(Succeeded) }
func (s *RunSummary) Failed() int    { return s.count(Failed) }
func (s *RunSummary) Skipped() int   { return s.count(Skipped) }

// Failures returns the failed results in input order.
func (s *RunSummary) Failures() []ImageResult {
	var out []ImageResult
	for _, r := range s.Results {
		if r.Status == Failed {
			out = append(out, r)
		}
	}
	return out
}

// OK reports whether every image succeeded.
func (s *RunSummary) OK() bool {
	return !s.Cancelled && s.Succeeded() == len(s.Results)
}
