package pipeline

import (
	"fmt"
	"strings"
)

// Category fixes the input/output contract of a stage.
type Category int

const (
	// Correction maps ImageStack to ImageStack
	Correction Category = iota
	// Filter maps ImageStack to ImageStack
	Filter
	// Enhancement maps ImageStack to ImageStack
	Enhancement
	// Segmentation maps ImageStack to LabelMap
	Segmentation
	// Extraction maps ImageStack and LabelMap to new ObjectRecords
	Extraction
	// Quantification extends existing ObjectRecords
	Quantification
)

var categoryNames = [...]string{"correction", "filter", "enhancement", "segmentation", "extraction", "quantification"}

func (c Category) String() string {
	if c < 0 || int(c) >= len(categoryNames) {
		return fmt.Sprintf("category(%d)", int(c))
	}
	return categoryNames[c]
}

// ParseCategory is the inverse of String.
func ParseCategory(s string) (Category, error) {
	for i, n := range categoryNames {
		if strings.EqualFold(s, n) {
			return Category(i), nil
		}
	}
	return 0, fmt.Errorf("unknown stage category %q", s)
}

// ImageStage reports whether stages of c map ImageStack to ImageStack.
func (c Category) ImageStage() bool {
	return c == Correction || c == Filter || c == Enhancement
}
