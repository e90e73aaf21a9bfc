package models

import "fmt"

// DataIntegrityError reports a violated invariant of a LabelMap or an
// ObjectTable. It is never repaired silently; the image that produced it
// fails.
type DataIntegrityError struct {
	Reason string
}

func (e *DataIntegrityError) Error() string {
	return "data integrity violation: " + e.Reason
}

func integrityf(format string, args ...any) error {
	return &DataIntegrityError{Reason: fmt.Sprintf(format, args...)}
}
