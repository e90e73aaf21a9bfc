package pipeline

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"bioimagelab/internal/models"
)

// ParamKind is the value type of a stage option.
type ParamKind int

const (
	Int ParamKind = iota
	Float
	Bool
	String
	Enum
	FloatList
)

func (k ParamKind) String() string {
	switch k {
	case Int:
		return "int"
	case Float:
		return "float"
	case Bool:
		return "bool"
	case String:
		return "string"
	case Enum:
		return "enum"
	case FloatList:
		return "float list"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParamSpec declares one recognised stage option.
type ParamSpec struct {
	Name     string
	Kind     ParamKind
	Required bool
	Default  any
	// Min and Max bound Int, Float and FloatList values when non-nil
	Min, Max *float64
	// Choices lists the accepted Enum values
	Choices []string
	Help    string
}

// Bound is a helper for ParamSpec.Min and ParamSpec.Max.
func Bound(v float64) *float64 { return &v }

// StageConfig is a validated stage configuration. Options hold normalised
// values (int, float64, bool, string, []float64); resources hold whatever
// a Preparer resolved at load time.
type StageConfig struct {
	options   map[string]any
	resources map[string]any
}

func (c StageConfig) Has(name string) bool {
	_, ok := c.options[name]
	return ok
}

func (c StageConfig) Int(name string) int {
	v, _ := c.options[name].(int)
	return v
}

func (c StageConfig) Float(name string) float64 {
	v, _ := c.options[name].(float64)
	return v
}

func (c StageConfig) Bool(name string) bool {
	v, _ := c.options[name].(bool)
	return v
}

func (c StageConfig) String(name string) string {
	v, _ := c.options[name].(string)
	return v
}

func (c StageConfig) FloatList(name string) []float64 {
	v, _ := c.options[name].([]float64)
	return append([]float64(nil), v...)
}

// Options returns a copy of the validated options.
func (c StageConfig) Options() map[string]any {
	out := make(map[string]any, len(c.options))
	for k, v := range c.options {
		if l, ok := v.([]float64); ok {
			v = append([]float64(nil), l...)
		}
		out[k] = v
	}
	return out
}

// Resource returns a value resolved by a Preparer.
func (c StageConfig) Resource(name string) (any, bool) {
	v, ok := c.resources[name]
	return v, ok
}

// WithResource returns a copy of c carrying an extra resource.
func (c StageConfig) WithResource(name string, v any) StageConfig {
	res := make(map[string]any, len(c.resources)+1)
	for k, r := range c.resources {
		res[k] = r
	}
	res[name] = v
	return StageConfig{options: c.options, resources: res}
}

// ValidateConfig checks raw options against specs, fills defaults and
// returns the normalised configuration. Errors are ConfigurationErrors
// without step information.
func ValidateConfig(specs []ParamSpec, raw map[string]any) (StageConfig, error) {
	known := make(map[string]ParamSpec, len(specs))
	for _, s := range specs {
		known[s.Name] = s
	}
	var unknown []string
	for k := range raw {
		if _, ok := known[k]; !ok {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return StageConfig{}, &ConfigurationError{Param: unknown[0], Reason: "unknown option"}
	}

	cfg := StageConfig{options: make(map[string]any, len(specs))}
	for _, s := range specs {
		v, ok := raw[s.Name]
		if !ok || v == nil {
			if s.Required {
				return StageConfig{}, &ConfigurationError{Param: s.Name, Reason: "required option missing"}
			}
			if s.Default == nil {
				continue
			}
			v = s.Default
		}
		norm, err := normalise(s, v)
		if err != nil {
			return StageConfig{}, &ConfigurationError{Param: s.Name, Reason: err.Error()}
		}
		cfg.options[s.Name] = norm
	}
	return cfg, nil
}

func normalise(s ParamSpec, v any) (any, error) {
	switch s.Kind {
	case Int:
		f, ok := number(v)
		if !ok || math.Abs(f-math.Round(f)) > models.Tolerance {
			return nil, fmt.Errorf("expected int, got %T", v)
		}
		if err := s.inRange(f); err != nil {
			return nil, err
		}
		return int(math.Round(f)), nil
	case Float:
		f, ok := number(v)
		if !ok {
			return nil, fmt.Errorf("expected float, got %T", v)
		}
		if err := s.inRange(f); err != nil {
			return nil, err
		}
		return f, nil
	case Bool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("expected bool, got %T", v)
		}
		return b, nil
	case String:
		str, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", v)
		}
		return str, nil
	case Enum:
		str, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected one of %s, got %T", strings.Join(s.Choices, "|"), v)
		}
		for _, c := range s.Choices {
			if strings.EqualFold(c, str) {
				return c, nil
			}
		}
		return nil, fmt.Errorf("%q is not one of %s", str, strings.Join(s.Choices, "|"))
	case FloatList:
		var items []any
		switch l := v.(type) {
		case []any:
			items = l
		case []float64:
			for _, f := range l {
				items = append(items, f)
			}
		default:
			return nil, fmt.Errorf("expected list of floats, got %T", v)
		}
		out := make([]float64, len(items))
		for i, it := range items {
			f, ok := number(it)
			if !ok {
				return nil, fmt.Errorf("element %d: expected float, got %T", i, it)
			}
			if err := s.inRange(f); err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			out[i] = f
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported option kind %s", s.Kind)
}

func (s ParamSpec) inRange(f float64) error {
	if math.IsNaN(f) {
		return fmt.Errorf("value is NaN")
	}
	if s.Min != nil && f < *s.Min-models.Tolerance {
		return fmt.Errorf("%g is below minimum %g", f, *s.Min)
	}
	if s.Max != nil && f > *s.Max+models.Tolerance {
		return fmt.Errorf("%g is above maximum %g", f, *s.Max)
	}
	return nil
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	default:
		return 0, false
	}
}
