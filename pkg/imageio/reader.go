// Package imageio reads input images from disk into ImageStacks and writes
// PNG snapshots of results.
package imageio

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/tiff"

	"bioimagelab/internal/models"
)

// ErrUnsupportedFormat is returned for files that are neither PNG nor TIFF.
var ErrUnsupportedFormat = errors.New("unsupported image format")

// ReadFile decodes a PNG or TIFF file into a single-plane stack carrying
// cal. Grayscale files give one channel, colour files give red, green and
// blue channels. Samples keep their stored counts.
func ReadFile(path string, cal models.Calibration) (*models.ImageStack, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var img image.Image
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		img, err = png.Decode(file)
	case ".tif", ".tiff":
		img, err = tiff.Decode(file)
	default:
		return nil, fmt.Errorf("%s: %w", path, ErrUnsupportedFormat)
	}
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return FromImage(img, cal)
}

// FromImage converts a decoded image into a stack.
func FromImage(img image.Image, cal models.Calibration) (*models.ImageStack, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	switch src := img.(type) {
	case *image.Gray:
		s, err := models.NewImageStack(models.Shape{T: 1, Z: 1, C: 1, Y: h, X: w}, models.Uint8, cal)
		if err != nil {
			return nil, err
		}
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				s.Data[y*w+x] = float64(src.GrayAt(b.Min.X+x, b.Min.Y+y).Y)
			}
		}
		return s, nil
	case *image.Gray16:
		s, err := models.NewImageStack(models.Shape{T: 1, Z: 1, C: 1, Y: h, X: w}, models.Uint16, cal)
		if err != nil {
			return nil, err
		}
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				s.Data[y*w+x] = float64(src.Gray16At(b.Min.X+x, b.Min.Y+y).Y)
			}
		}
		return s, nil
	}

	dtype := models.Uint8
	switch img.ColorModel() {
	case color.RGBA64Model, color.NRGBA64Model:
		dtype = models.Uint16
	}
	s, err := models.NewImageStack(models.Shape{T: 1, Z: 1, C: 3, Y: h, X: w}, dtype, cal)
	if err != nil {
		return nil, err
	}
	s.Channels = []string{"red", "green", "blue"}
	red, green, blue := s.Plane(0, 0, 0), s.Plane(0, 0, 1), s.Plane(0, 0, 2)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			if dtype == models.Uint8 {
				r, g, bl = r>>8, g>>8, bl>>8
			}
			i := y*w + x
			red[i], green[i], blue[i] = float64(r), float64(g), float64(bl)
		}
	}
	return s, nil
}

// ReadStack reads every path as one Z plane of a single stack. All files
// must share width, height, channel count and sample type.
func ReadStack(paths []string, cal models.Calibration) (*models.ImageStack, error) {
	if len(paths) == 0 {
		return nil, models.ErrEmptyStack
	}
	var out *models.ImageStack
	for i, p := range paths {
		plane, err := ReadFile(p, cal)
		if err != nil {
			return nil, err
		}
		if out == nil {
			sh := plane.Shape
			sh.Z = len(paths)
			if out, err = models.NewImageStack(sh, plane.DType, cal); err != nil {
				return nil, err
			}
			out.Channels = plane.Channels
		}
		if plane.Shape.C != out.Shape.C || plane.Shape.Y != out.Shape.Y || plane.Shape.X != out.Shape.X || plane.DType != out.DType {
			return nil, fmt.Errorf("slice %s is %s %s, want %s %s", filepath.Base(p), plane.Shape, plane.DType, out.Shape, out.DType)
		}
		copy(out.Data[i*len(plane.Data):], plane.Data)
	}
	return out, nil
}
