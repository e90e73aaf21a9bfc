package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// PipelineSpec is the parsed pipeline definition file.
type PipelineSpec struct {
	Name string `yaml:"name"`

	// Hierarchical allows a segmentation stage after another one; the
	// later stage is restricted to the foreground of the earlier labels
	Hierarchical bool `yaml:"hierarchical"`

	Stages []StepSpec `yaml:"stages"`
}

// StepSpec is one entry of the stage list.
type StepSpec struct {
	// Stage is the registry identifier
	Stage string `yaml:"stage"`

	// Name identifies the step in provenance; defaults to Stage
	Name string `yaml:"name,omitempty"`

	Config map[string]any `yaml:"config,omitempty"`
}

// ParseSpec decodes a pipeline definition. Unknown keys are rejected.
func ParseSpec(data []byte) (*PipelineSpec, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var spec PipelineSpec
	if err := dec.Decode(&spec); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &ConfigurationError{Reason: "pipeline definition is empty"}
		}
		return nil, &ConfigurationError{Reason: "invalid pipeline definition", Err: err}
	}
	if len(spec.Stages) == 0 {
		return nil, &ConfigurationError{Reason: "pipeline declares no stages"}
	}
	for i, s := range spec.Stages {
		if s.Stage == "" {
			return nil, &ConfigurationError{Step: i + 1, Reason: "stage identifier missing"}
		}
	}
	return &spec, nil
}

// LoadSpecFile reads and parses a pipeline definition file.
func LoadSpecFile(path string) (*PipelineSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("reading pipeline file %s", path), Err: err}
	}
	return ParseSpec(data)
}

// StepName returns the provenance name of the i-th entry.
func (s *PipelineSpec) StepName(i int) string {
	if n := s.Stages[i].Name; n != "" {
		return n
	}
	return s.Stages[i].Stage
}
