package pipeline

import "errors"

// Step is a resolved, validated pipeline entry.
type Step struct {
	// Index is the 1-based position in the pipeline
	Index    int
	Name     string
	StageID  string
	Stage    Stage
	Category Category
	Config   StageConfig
}

// Plan is an immutable, fully validated pipeline.
type Plan struct {
	Name         string
	Hierarchical bool
	Steps        []Step
}

// Compile resolves every entry of spec against the registry, validates the
// stage options and the category transitions, and runs Preparers. Any
// failure is a ConfigurationError.
func Compile(spec *PipelineSpec, reg *Registry) (*Plan, error) {
	if spec == nil || len(spec.Stages) == 0 {
		return nil, &ConfigurationError{Reason: "pipeline declares no stages"}
	}
	plan := &Plan{Name: spec.Name, Hierarchical: spec.Hierarchical}
	for i, entry := range spec.Stages {
		step := i + 1
		stage, ok := reg.Lookup(entry.Stage)
		if !ok {
			return nil, &ConfigurationError{Step: step, StageID: entry.Stage, Reason: "unknown stage identifier"}
		}
		cfg, err := ValidateConfig(stage.Params(), entry.Config)
		if err != nil {
			return nil, withStep(err, step, entry.Stage)
		}
		if p, ok := stage.(Preparer); ok {
			if cfg, err = p.Prepare(cfg); err != nil {
				return nil, withStep(err, step, entry.Stage)
			}
		}
		plan.Steps = append(plan.Steps, Step{
			Index:    step,
			Name:     spec.StepName(i),
			StageID:  entry.Stage,
			Stage:    stage,
			Category: stage.Category(),
			Config:   cfg,
		})
	}
	if err := checkTransitions(plan); err != nil {
		return nil, err
	}
	return plan, nil
}

func withStep(err error, step int, id string) error {
	var ce *ConfigurationError
	if errors.As(err, &ce) {
		out := *ce
		out.Step, out.StageID = step, id
		return &out
	}
	return &ConfigurationError{Step: step, StageID: id, Reason: "preparing stage", Err: err}
}

// checkTransitions enforces the category ordering: extraction needs a
// segmentation, quantification needs an extraction, and a second
// segmentation needs a hierarchical pipeline.
func checkTransitions(plan *Plan) error {
	var segmented, extracted bool
	for _, s := range plan.Steps {
		switch s.Category {
		case Segmentation:
			if segmented && !plan.Hierarchical {
				return &ConfigurationError{Step: s.Index, StageID: s.StageID, Reason: "segmentation after segmentation requires hierarchical: true"}
			}
			segmented, extracted = true, false
		case Extraction:
			if !segmented {
				return &ConfigurationError{Step: s.Index, StageID: s.StageID, Reason: "extraction requires a preceding segmentation stage"}
			}
			extracted = true
		case Quantification:
			if !extracted {
				return &ConfigurationError{Step: s.Index, StageID: s.StageID, Reason: "quantification requires a preceding extraction stage"}
			}
		}
	}
	return nil
}
