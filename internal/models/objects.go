package models

import (
	"errors"
	"sort"
)

// ErrFrozen is returned when a frozen ObjectTable is modified.
var ErrFrozen = errors.New("object table is read-only")

// ObjectRecord holds the named measurements of one labelled object.
type ObjectRecord struct {
	Label   uint32
	scalars map[string]float64
	vectors map[string][]float64
}

// Scalar returns a scalar measurement.
func (r *ObjectRecord) Scalar(name string) (float64, bool) {
	v, ok := r.scalars[name]
	return v, ok
}

// Vector returns a copy of a vector measurement.
func (r *ObjectRecord) Vector(name string) ([]float64, bool) {
	v, ok := r.vectors[name]
	if !ok {
		return nil, false
	}
	return append([]float64(nil), v...), true
}

// ScalarNames returns the scalar measurement names in sorted order.
func (r *ObjectRecord) ScalarNames() []string {
	return sortedKeys(r.scalars)
}

// VectorNames returns the vector measurement names in sorted order.
func (r *ObjectRecord) VectorNames() []string {
	return sortedKeys(r.vectors)
}

// ObjectTable maps label ids to their records. Extraction stages create
// records, quantification stages add measurements to existing ones, and
// the orchestrator freezes the table once the pipeline has finished.
type ObjectTable struct {
	records map[uint32]*ObjectRecord
	frozen  bool
}

func NewObjectTable() *ObjectTable {
	return &ObjectTable{records: map[uint32]*ObjectRecord{}}
}

// Add creates the record for label. Adding an existing label is a no-op.
func (t *ObjectTable) Add(label uint32) (*ObjectRecord, error) {
	if t.frozen {
		return nil, ErrFrozen
	}
	if label == Background {
		return nil, integrityf("object record for background label")
	}
	if r, ok := t.records[label]; ok {
		return r, nil
	}
	r := &ObjectRecord{Label: label, scalars: map[string]float64{}, vectors: map[string][]float64{}}
	t.records[label] = r
	return r, nil
}

// SetScalar stores a scalar measurement on an existing record.
func (t *ObjectTable) SetScalar(label uint32, name string, v float64) error {
	r, err := t.mutable(label)
	if err != nil {
		return err
	}
	r.scalars[name] = v
	return nil
}

// SetVector stores a vector measurement on an existing record.
func (t *ObjectTable) SetVector(label uint32, name string, v []float64) error {
	r, err := t.mutable(label)
	if err != nil {
		return err
	}
	r.vectors[name] = append([]float64(nil), v...)
	return nil
}

func (t *ObjectTable) mutable(label uint32) (*ObjectRecord, error) {
	if t.frozen {
		return nil, ErrFrozen
	}
	r, ok := t.records[label]
	if !ok {
		return nil, integrityf("no object record for label %d", label)
	}
	return r, nil
}

// Record looks up the record of label.
func (t *ObjectTable) Record(label uint32) (*ObjectRecord, bool) {
	r, ok := t.records[label]
	return r, ok
}

// Labels returns the labels of all records in ascending order.
func (t *ObjectTable) Labels() []uint32 {
	out := make([]uint32, 0, len(t.records))
	for l := range t.records {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (t *ObjectTable) Len() int { return len(t.records) }

// Freeze makes the table read-only.
func (t *ObjectTable) Freeze() { t.frozen = true }

func (t *ObjectTable) Frozen() bool { return t.frozen }

// Clone returns a mutable deep copy.
func (t *ObjectTable) Clone() *ObjectTable {
	out := NewObjectTable()
	for l, r := range t.records {
		c := &ObjectRecord{Label: l, scalars: make(map[string]float64, len(r.scalars)), vectors: make(map[string][]float64, len(r.vectors))}
		for k, v := range r.scalars {
			c.scalars[k] = v
		}
		for k, v := range r.vectors {
			c.vectors[k] = append([]float64(nil), v...)
		}
		out.records[l] = c
	}
	return out
}

// Validate checks that every record refers to a label present in m.
func (t *ObjectTable) Validate(m *LabelMap) error {
	if m == nil {
		return integrityf("object table without a label map")
	}
	areas := m.Areas()
	for l := range t.records {
		if int(l) >= len(areas) || areas[l] == 0 {
			return integrityf("object record for label %d not present in label map", l)
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
