package imageio

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"bioimagelab/internal/models"
)

// WritePNG encodes img to path, creating parent directories.
func WritePNG(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(file, img); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// PlaneImage renders one plane as 16-bit grayscale, stretching the plane's
// range to the full scale. A constant plane renders black.
func PlaneImage(s *models.ImageStack, t, z, c int) *image.Gray16 {
	w, h := s.Shape.X, s.Shape.Y
	plane := s.Plane(t, z, c)
	lo, hi := planeRange(plane)
	img := image.NewGray16(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray16(x, y, color.Gray16{Y: scale16(plane[y*w+x], lo, hi)})
		}
	}
	return img
}

// LabelImage renders the ids of one label plane as 16-bit grayscale,
// saturating above 65535.
func LabelImage(lm *models.LabelMap, t, z int) *image.Gray16 {
	w, h := lm.Shape.X, lm.Shape.Y
	plane := lm.Plane(t, z)
	img := image.NewGray16(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			id := plane[y*w+x]
			if id > math.MaxUint16 {
				id = math.MaxUint16
			}
			img.SetGray16(x, y, color.Gray16{Y: uint16(id)})
		}
	}
	return img
}

// Overlay draws labelled regions over a grayscale rendering of channel c.
// Region interiors are tinted with the label colour and region borders are
// drawn opaque.
func Overlay(s *models.ImageStack, lm *models.LabelMap, t, z, c int) (*image.RGBA, error) {
	if err := lm.Matches(s); err != nil {
		return nil, err
	}
	w, h := s.Shape.X, s.Shape.Y
	plane := s.Plane(t, z, c)
	labels := lm.Plane(t, z)
	lo, hi := planeRange(plane)

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			g := uint8(scale16(plane[i], lo, hi) >> 8)
			px := color.RGBA{R: g, G: g, B: g, A: 255}
			if id := labels[i]; id != models.Background {
				lc := LabelColor(id)
				if isBorder(labels, w, h, x, y) {
					px = lc
				} else {
					px = blend(px, lc, 0.4)
				}
			}
			img.SetRGBA(x, y, px)
		}
	}
	return img, nil
}

// WriteOverlays writes one overlay PNG per (t, z) plane into dir and
// returns the written paths.
func WriteOverlays(dir, base string, s *models.ImageStack, lm *models.LabelMap, channel int) ([]string, error) {
	if channel < 0 || channel >= s.Shape.C {
		return nil, fmt.Errorf("channel %d out of range, image has %d", channel, s.Shape.C)
	}
	var paths []string
	for t := 0; t < s.Shape.T; t++ {
		for z := 0; z < s.Shape.Z; z++ {
			img, err := Overlay(s, lm, t, z, channel)
			if err != nil {
				return paths, err
			}
			p := filepath.Join(dir, fmt.Sprintf("%s_t%03d_z%03d.png", base, t, z))
			if err := WritePNG(p, img); err != nil {
				return paths, err
			}
			paths = append(paths, p)
		}
	}
	return paths, nil
}

// LabelColor returns a stable, well separated colour for a label id.
func LabelColor(id uint32) color.RGBA {
	// golden ratio stepping around the hue circle
	hue := math.Mod(float64(id)*0.618033988749895, 1)
	r, g, b := hsvToRGB(hue, 0.85, 0.95)
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

func hsvToRGB(h, s, v float64) (uint8, uint8, uint8) {
	i := math.Floor(h * 6)
	f := h*6 - i
	p, q, t := v*(1-s), v*(1-f*s), v*(1-(1-f)*s)
	var r, g, b float64
	switch int(i) % 6 {
	case 0:
		r, g, b = v, t, p
	case 1:
		r, g, b = q, v, p
	case 2:
		r, g, b = p, v, t
	case 3:
		r, g, b = p, q, v
	case 4:
		r, g, b = t, p, v
	default:
		r, g, b = v, p, q
	}
	return uint8(math.Round(r * 255)), uint8(math.Round(g * 255)), uint8(math.Round(b * 255))
}

func blend(a, b color.RGBA, alpha float64) color.RGBA {
	mix := func(x, y uint8) uint8 {
		return uint8(math.Round(float64(x)*(1-alpha) + float64(y)*alpha))
	}
	return color.RGBA{R: mix(a.R, b.R), G: mix(a.G, b.G), B: mix(a.B, b.B), A: 255}
}

func isBorder(labels []uint32, w, h, x, y int) bool {
	id := labels[y*w+x]
	if x == 0 || y == 0 || x == w-1 || y == h-1 {
		return true
	}
	return labels[y*w+x-1] != id || labels[y*w+x+1] != id ||
		labels[(y-1)*w+x] != id || labels[(y+1)*w+x] != id
}

func planeRange(plane []float64) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, v := range plane {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi
}

func scale16(v, lo, hi float64) uint16 {
	if hi-lo <= models.Tolerance {
		return 0
	}
	return uint16(math.Round((v - lo) / (hi - lo) * math.MaxUint16))
}
