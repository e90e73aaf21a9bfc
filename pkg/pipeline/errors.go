package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"bioimagelab/internal/models"
)

// ConfigurationError reports a systemic problem with a pipeline definition.
// It is raised before any image is processed and aborts the run.
type ConfigurationError struct {
	// Step is the 1-based position of the offending entry, 0 for the
	// pipeline as a whole
	Step    int
	StageID string
	Param   string
	Reason  string
	Err     error
}

func (e *ConfigurationError) Error() string {
	var b strings.Builder
	b.WriteString("configuration error")
	if e.Step > 0 {
		fmt.Fprintf(&b, ": step %d", e.Step)
		if e.StageID != "" {
			fmt.Fprintf(&b, " (%s)", e.StageID)
		}
	}
	if e.Param != "" {
		fmt.Fprintf(&b, ": option %q", e.Param)
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// StageExecutionError records why one image failed.
type StageExecutionError struct {
	StageID string
	// Step is the 1-based position of the stage, 0 when the image failed
	// before the first stage
	Step    int
	ImageID string
	Err     error
}

func (e *StageExecutionError) Error() string {
	return fmt.Sprintf("stage %s (step %d) failed on image %s: %v", e.StageID, e.Step, e.ImageID, e.Err)
}

func (e *StageExecutionError) Unwrap() error { return e.Err }

// ErrMissingArtifact is returned by stages that depend on an artifact no
// earlier stage published.
var ErrMissingArtifact = errors.New("artifact not published by an earlier stage")

// Failure kinds reported in run summaries.
const (
	KindCancelled = "cancelled"
	KindIntegrity = "integrity"
	KindInput     = "input"
	KindStage     = "stage"
)

// FailureKind classifies a per-image error.
func FailureKind(err error) string {
	var (
		de *models.DataIntegrityError
		se *StageExecutionError
	)
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	case errors.As(err, &de):
		return KindIntegrity
	case errors.As(err, &se) && se.Step == 0:
		return KindInput
	default:
		return KindStage
	}
}
