// Package pipeline runs validated stage sequences over batches of images.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"bioimagelab/internal/models"
)

// Source supplies one decoded input image.
type Source interface {
	Name() string
	Load(ctx context.Context) (*models.ImageStack, error)
}

// StackSource is a Source over an already decoded stack.
type StackSource struct {
	ID    string
	Stack *models.ImageStack
}

func (s StackSource) Name() string { return s.ID }

func (s StackSource) Load(context.Context) (*models.ImageStack, error) {
	return s.Stack, nil
}

// Orchestrator executes a pipeline over a batch of images with a bounded
// pool of workers. Images are independent; each worker owns the context
// of the image it processes.
type Orchestrator struct {
	registry *Registry
	workers  int
	log      zerolog.Logger
}

type Option func(*Orchestrator)

// WithWorkers bounds the number of images processed concurrently.
func WithWorkers(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.workers = n
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) { o.log = l.With().Str("component", "orchestrator").Logger() }
}

func NewOrchestrator(reg *Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{registry: reg, workers: runtime.NumCPU(), log: zerolog.Nop()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run compiles spec and processes every source. A ConfigurationError is
// returned before any image is touched. Per-image failures are recorded in
// the summary and never abort the batch. Cancelling ctx stops the run
// gracefully: finished images keep their results, the images in flight
// fail with the cancellation as cause and unstarted images are skipped.
func (o *Orchestrator) Run(ctx context.Context, spec *PipelineSpec, sources []Source) (*RunSummary, error) {
	plan, err := Compile(spec, o.registry)
	if err != nil {
		return nil, err
	}
	return o.Execute(ctx, plan, sources), nil
}

// Execute processes sources with an already compiled plan.
func (o *Orchestrator) Execute(ctx context.Context, plan *Plan, sources []Source) *RunSummary {
	summary := &RunSummary{
		RunID:    uuid.NewString(),
		Pipeline: plan.Name,
		Started:  time.Now(),
		Results:  make([]ImageResult, len(sources)),
	}
	for i, src := range sources {
		summary.Results[i] = ImageResult{Index: i, Source: src.Name(), Status: Skipped}
	}
	log := o.log.With().Str("run", summary.RunID).Logger()
	log.Info().Str("pipeline", plan.Name).Int("images", len(sources)).Int("workers", o.workers).Msg("run started")

	var g errgroup.Group
	g.SetLimit(o.workers)
	for i, src := range sources {
		if ctx.Err() != nil {
			break
		}
		i, src := i, src
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			summary.Results[i] = o.process(ctx, plan, i, src, log)
			return nil
		})
	}
	_ = g.Wait()

	summary.Finished = time.Now()
	summary.Cancelled = ctx.Err() != nil
	ev := log.Info()
	if summary.Cancelled {
		ev = log.Warn()
	}
	ev.Int("succeeded", summary.Succeeded()).
		Int("failed", summary.Failed()).
		Int("skipped", summary.Skipped()).
		Bool("cancelled", summary.Cancelled).
		Dur("elapsed", summary.Finished.Sub(summary.Started)).
		Msg("run finished")
	return summary
}

func (o *Orchestrator) process(ctx context.Context, plan *Plan, index int, src Source, log zerolog.Logger) (res ImageResult) {
	start := time.Now()
	res = ImageResult{Index: index, Source: src.Name(), ImageID: uuid.NewString()}
	var ic *imageContext

	fail := func(step Step, err error) ImageResult {
		se := &StageExecutionError{StageID: step.StageID, Step: step.Index, ImageID: res.ImageID, Err: err}
		res.Status = Failed
		res.Err = se
		res.Kind = FailureKind(se)
		res.FailedStep = step.Index
		res.Stage = step.StageID
		res.Cause = se.Error()
		res.Duration = time.Since(start)
		if ic != nil {
			res.Provenance = ic.provenance
		}
		log.Error().Err(err).Str("image", res.Source).Str("stage", step.StageID).Int("step", step.Index).Str("kind", res.Kind).Msg("image failed")
		return res
	}
	current := Step{StageID: "input"}
	defer func() {
		if r := recover(); r != nil {
			res = fail(current, fmt.Errorf("panic: %v", r))
		}
	}()

	img, err := src.Load(ctx)
	if err != nil {
		return fail(current, fmt.Errorf("loading %s: %w", src.Name(), err))
	}
	if err := img.Validate(); err != nil {
		return fail(current, fmt.Errorf("invalid image %s: %w", src.Name(), err))
	}
	ic = newImageContext(res.ImageID, img)

	for _, step := range plan.Steps {
		current = step
		if err := ctx.Err(); err != nil {
			return fail(step, err)
		}
		t0 := time.Now()
		out, err := step.Stage.Apply(ctx, ic.input(), step.Config)
		if err != nil {
			return fail(step, err)
		}
		if err := ic.accept(step, out); err != nil {
			return fail(step, err)
		}
		ic.provenance = append(ic.provenance, ProvenanceEntry{
			Step:     step.Index,
			Name:     step.Name,
			StageID:  step.StageID,
			Category: step.Category.String(),
			Config:   step.Config.Options(),
			Duration: time.Since(t0),
		})
	}

	if ic.objects != nil {
		if err := ic.objects.Validate(ic.labels); err != nil {
			return fail(current, err)
		}
		ic.objects.Freeze()
	}
	res.Status = Succeeded
	res.Image = ic.image
	res.Labels = ic.labels
	res.Objects = ic.objects
	res.Artifacts = ic.artifacts
	res.Provenance = ic.provenance
	res.Duration = time.Since(start)
	log.Info().Str("image", res.Source).Dur("elapsed", res.Duration).Msg("image processed")
	return res
}

// IsConfiguration reports whether err is a ConfigurationError.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
