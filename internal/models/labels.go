package models

import (
	"fmt"
	"sort"
)

// Background is the label of pixels that belong to no object.
const Background uint32 = 0

// LabelMap assigns each voxel of an image the id of the object it belongs
// to. Its shape mirrors the source stack with a single channel.
type LabelMap struct {
	// Shape gives the T, Z, Y, X extent; C is always 1
	Shape Shape

	// Labels holds one id per voxel in T, Z, Y, X order
	Labels []uint32
}

// NewLabelMap allocates an all-background map.
func NewLabelMap(t, z, y, x int) *LabelMap {
	shape := Shape{T: t, Z: z, C: 1, Y: y, X: x}
	return &LabelMap{Shape: shape, Labels: make([]uint32, shape.Len())}
}

// LabelMapFor allocates an all-background map matching the spatial and
// temporal extent of s.
func LabelMapFor(s *ImageStack) *LabelMap {
	return NewLabelMap(s.Shape.T, s.Shape.Z, s.Shape.Y, s.Shape.X)
}

func (m *LabelMap) Index(t, z, y, x int) int {
	return ((t*m.Shape.Z+z)*m.Shape.Y+y)*m.Shape.X + x
}

func (m *LabelMap) At(t, z, y, x int) uint32 {
	return m.Labels[m.Index(t, z, y, x)]
}

// Plane returns the labels of one (t, z) plane. The slice aliases Labels.
func (m *LabelMap) Plane(t, z int) []uint32 {
	start := m.Index(t, z, 0, 0)
	return m.Labels[start : start+m.Shape.Y*m.Shape.X]
}

// Volume returns the labels of time point t. The slice aliases Labels.
func (m *LabelMap) Volume(t int) []uint32 {
	n := m.Shape.Z * m.Shape.Y * m.Shape.X
	return m.Labels[t*n : (t+1)*n]
}

// Count returns the largest label id, which equals the number of objects
// in a validated map.
func (m *LabelMap) Count() int {
	var max uint32
	for _, l := range m.Labels {
		if l > max {
			max = l
		}
	}
	return int(max)
}

// Areas returns the voxel count of every label, indexed by id.
func (m *LabelMap) Areas() []int {
	areas := make([]int, m.Count()+1)
	for _, l := range m.Labels {
		areas[l]++
	}
	return areas
}

// Validate checks that the map is well-formed and that the set of non-zero
// ids is exactly 1..K.
func (m *LabelMap) Validate() error {
	if m == nil {
		return integrityf("label map is nil")
	}
	if !m.Shape.Valid() || m.Shape.C != 1 {
		return integrityf("label map has invalid shape %s", m.Shape)
	}
	if len(m.Labels) != m.Shape.Len() {
		return integrityf("label map holds %d labels, want %d", len(m.Labels), m.Shape.Len())
	}
	areas := m.Areas()
	for id := 1; id < len(areas); id++ {
		if areas[id] == 0 {
			return integrityf("label ids are not dense: id %d is missing of %d", id, len(areas)-1)
		}
	}
	return nil
}

// Relabel renumbers the non-zero ids to 1..K preserving their relative
// order and returns K.
func (m *LabelMap) Relabel() int {
	seen := map[uint32]struct{}{}
	for _, l := range m.Labels {
		if l != Background {
			seen[l] = struct{}{}
		}
	}
	ids := make([]uint32, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	remap := make(map[uint32]uint32, len(ids))
	for i, id := range ids {
		remap[id] = uint32(i + 1)
	}
	for i, l := range m.Labels {
		if l != Background {
			m.Labels[i] = remap[l]
		}
	}
	return len(ids)
}

// Clone returns a deep copy of the map.
func (m *LabelMap) Clone() *LabelMap {
	return &LabelMap{Shape: m.Shape, Labels: append([]uint32(nil), m.Labels...)}
}

// Matches reports whether the map covers the T, Z, Y, X extent of s.
func (m *LabelMap) Matches(s *ImageStack) error {
	if m.Shape.T != s.Shape.T || m.Shape.Z != s.Shape.Z || m.Shape.Y != s.Shape.Y || m.Shape.X != s.Shape.X {
		return fmt.Errorf("label map %s does not cover image %s", m.Shape, s.Shape)
	}
	return nil
}
