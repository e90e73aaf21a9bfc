// Package cvmat converts image planes to and from OpenCV matrices.
package cvmat

import (
	"fmt"

	"gocv.io/x/gocv"
)

// FromPlane copies a row-major width*height plane into a CV_32F Mat. The
// caller owns the Mat and must Close it.
func FromPlane(plane []float64, width, height int) (gocv.Mat, error) {
	if width <= 0 || height <= 0 {
		return gocv.Mat{}, fmt.Errorf("invalid dimensions: %dx%d", width, height)
	}
	if len(plane) != width*height {
		return gocv.Mat{}, fmt.Errorf("plane has %d samples, want %d", len(plane), width*height)
	}
	mat := gocv.NewMatWithSize(height, width, gocv.MatTypeCV32F)
	if mat.Empty() {
		mat.Close()
		return gocv.Mat{}, fmt.Errorf("failed to create Mat with size %dx%d", width, height)
	}
	for y := 0; y < height; y++ {
		row := plane[y*width : (y+1)*width]
		for x, v := range row {
			mat.SetFloatAt(y, x, float32(v))
		}
	}
	return mat, nil
}

// ToPlane copies a single-channel CV_32F Mat into dst, which must hold
// Rows*Cols samples.
func ToPlane(mat gocv.Mat, dst []float64) error {
	rows, cols := mat.Rows(), mat.Cols()
	if mat.Type() != gocv.MatTypeCV32F {
		return fmt.Errorf("mat type %v, want CV_32F", mat.Type())
	}
	if len(dst) != rows*cols {
		return fmt.Errorf("destination has %d samples, want %d", len(dst), rows*cols)
	}
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			dst[y*cols+x] = float64(mat.GetFloatAt(y, x))
		}
	}
	return nil
}

// Apply runs fn on a Mat built from plane and writes the result back in
// place.
func Apply(plane []float64, width, height int, fn func(src gocv.Mat, dst *gocv.Mat)) error {
	src, err := FromPlane(plane, width, height)
	if err != nil {
		return err
	}
	defer src.Close()

	dst := gocv.NewMat()
	defer dst.Close()

	fn(src, &dst)
	if dst.Empty() {
		return fmt.Errorf("opencv produced an empty result for %dx%d plane", width, height)
	}
	if dst.Type() != gocv.MatTypeCV32F {
		converted := gocv.NewMat()
		defer converted.Close()
		dst.ConvertTo(&converted, gocv.MatTypeCV32F)
		return ToPlane(converted, plane)
	}
	return ToPlane(dst, plane)
}
