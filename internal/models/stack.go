package models

import (
	"errors"
	"fmt"
)

// Tolerance is the absolute epsilon used for every floating-point
// equality decision in the pipeline: watershed elevation ties, parameter
// range checks and intensity comparisons.
const Tolerance = 1e-9

// ErrEmptyStack is returned when an image stack has no samples.
var ErrEmptyStack = errors.New("image stack has no samples")

// DType records the sample type of the source data. Samples are always
// held as float64; the dtype only tells exporters and filters what range
// the values came from.
type DType int

const (
	Uint8 DType = iota
	Uint16
	Float32
	Float64
)

func (d DType) String() string {
	switch d {
	case Uint8:
		return "uint8"
	case Uint16:
		return "uint16"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	default:
		return fmt.Sprintf("dtype(%d)", int(d))
	}
}

// MaxValue returns the largest representable value of an integer dtype,
// or 1 for floating point data.
func (d DType) MaxValue() float64 {
	switch d {
	case Uint8:
		return 255
	case Uint16:
		return 65535
	default:
		return 1
	}
}

// Shape holds the extent of each axis. The axis order is fixed to
// T, Z, C, Y, X with X varying fastest.
type Shape struct {
	T, Z, C, Y, X int
}

// Len returns the number of samples described by the shape.
func (s Shape) Len() int {
	return s.T * s.Z * s.C * s.Y * s.X
}

// Valid reports whether every axis has a positive extent.
func (s Shape) Valid() bool {
	return s.T > 0 && s.Z > 0 && s.C > 0 && s.Y > 0 && s.X > 0
}

func (s Shape) String() string {
	return fmt.Sprintf("T%d Z%d C%d Y%d X%d", s.T, s.Z, s.C, s.Y, s.X)
}

// VoxelSize is the physical extent of one sample along each spatial axis.
type VoxelSize struct {
	X, Y, Z float64
}

// Calibration carries the physical metadata of a stack.
type Calibration struct {
	// VoxelSize is the physical size of each voxel in Unit
	VoxelSize VoxelSize `yaml:"voxelSize"`

	// TimeInterval is the time between consecutive T points in seconds
	TimeInterval float64 `yaml:"timeInterval"`

	// Unit names the spatial unit of VoxelSize, e.g. "um"
	Unit string `yaml:"unit"`
}

// Equal compares two calibrations using Tolerance for the numeric fields.
func (c Calibration) Equal(o Calibration) bool {
	return near(c.VoxelSize.X, o.VoxelSize.X) &&
		near(c.VoxelSize.Y, o.VoxelSize.Y) &&
		near(c.VoxelSize.Z, o.VoxelSize.Z) &&
		near(c.TimeInterval, o.TimeInterval) &&
		c.Unit == o.Unit
}

// VoxelVolume returns the physical size of a single voxel. 2-D images
// (Z == 1) report the pixel area.
func (c Calibration) VoxelVolume(depth int) float64 {
	v := c.VoxelSize.X * c.VoxelSize.Y
	if depth > 1 {
		v *= c.VoxelSize.Z
	}
	return v
}

// DefaultCalibration returns a unit calibration in pixels.
func DefaultCalibration() Calibration {
	return Calibration{VoxelSize: VoxelSize{X: 1, Y: 1, Z: 1}, Unit: "px"}
}

// ImageStack is a multi-dimensional intensity array with calibration.
type ImageStack struct {
	// Shape gives the extent of the T, Z, C, Y, X axes
	Shape Shape

	// DType is the sample type of the source data
	DType DType

	// Calibration holds voxel size, time interval and unit
	Calibration Calibration

	// Channels names each C index; may be shorter than Shape.C
	Channels []string

	// Data is the sample array in row-major T, Z, C, Y, X order
	Data []float64
}

// NewImageStack allocates a zeroed stack of the given shape.
func NewImageStack(shape Shape, dtype DType, cal Calibration) (*ImageStack, error) {
	if !shape.Valid() {
		return nil, fmt.Errorf("invalid stack shape %s: %w", shape, ErrEmptyStack)
	}
	return &ImageStack{
		Shape:       shape,
		DType:       dtype,
		Calibration: cal,
		Data:        make([]float64, shape.Len()),
	}, nil
}

// NewPlane builds a single-plane stack (T=Z=C=1) from a Y*X sample slice.
func NewPlane(width, height int, data []float64, cal Calibration) (*ImageStack, error) {
	shape := Shape{T: 1, Z: 1, C: 1, Y: height, X: width}
	if len(data) != shape.Len() {
		return nil, fmt.Errorf("plane data has %d samples, want %d", len(data), shape.Len())
	}
	s, err := NewImageStack(shape, Float64, cal)
	if err != nil {
		return nil, err
	}
	copy(s.Data, data)
	return s, nil
}

// Index returns the offset of a sample in Data.
func (s *ImageStack) Index(t, z, c, y, x int) int {
	sh := s.Shape
	return (((t*sh.Z+z)*sh.C+c)*sh.Y+y)*sh.X + x
}

func (s *ImageStack) At(t, z, c, y, x int) float64 {
	return s.Data[s.Index(t, z, c, y, x)]
}

func (s *ImageStack) Set(t, z, c, y, x int, v float64) {
	s.Data[s.Index(t, z, c, y, x)] = v
}

// Plane returns the Y*X samples of one plane. The slice aliases Data.
func (s *ImageStack) Plane(t, z, c int) []float64 {
	start := s.Index(t, z, c, 0, 0)
	return s.Data[start : start+s.Shape.Y*s.Shape.X]
}

// EachPlane calls fn for every (t, z, c) plane in storage order and stops
// at the first error.
func (s *ImageStack) EachPlane(fn func(t, z, c int, plane []float64) error) error {
	for t := 0; t < s.Shape.T; t++ {
		for z := 0; z < s.Shape.Z; z++ {
			for c := 0; c < s.Shape.C; c++ {
				if err := fn(t, z, c, s.Plane(t, z, c)); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// ChannelName returns the configured name of channel c or a generated one.
func (s *ImageStack) ChannelName(c int) string {
	if c >= 0 && c < len(s.Channels) && s.Channels[c] != "" {
		return s.Channels[c]
	}
	return fmt.Sprintf("c%d", c)
}

// Clone returns a deep copy of the stack.
func (s *ImageStack) Clone() *ImageStack {
	out := *s
	out.Data = append([]float64(nil), s.Data...)
	out.Channels = append([]string(nil), s.Channels...)
	return &out
}

// WithData returns a stack that shares every attribute of s except the
// sample array, which is replaced by a zeroed copy of the same length.
func (s *ImageStack) WithData() *ImageStack {
	out := *s
	out.Data = make([]float64, len(s.Data))
	out.Channels = append([]string(nil), s.Channels...)
	return &out
}

// Validate checks that the shape is positive and matches the sample count.
func (s *ImageStack) Validate() error {
	if s == nil || !s.Shape.Valid() {
		return ErrEmptyStack
	}
	if len(s.Data) != s.Shape.Len() {
		return fmt.Errorf("stack %s holds %d samples, want %d", s.Shape, len(s.Data), s.Shape.Len())
	}
	return nil
}

// Range returns the minimum and maximum sample values.
func (s *ImageStack) Range() (lo, hi float64) {
	if len(s.Data) == 0 {
		return 0, 0
	}
	lo, hi = s.Data[0], s.Data[0]
	for _, v := range s.Data[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

func near(a, b float64) bool {
	d := a - b
	return d <= Tolerance && d >= -Tolerance
}
