package segmentation

import (
	"errors"
	"fmt"
	"math"
)

// ErrDegenerateDistance is returned when a distance transform is requested
// for a mask that has foreground but no background voxel to measure from.
var ErrDegenerateDistance = errors.New("degenerate distance transform: mask has no background")

// DistanceTransform returns the exact Euclidean distance from every
// foreground voxel to the nearest background voxel, honouring the grid
// spacing. Background voxels get 0. Voxels beyond the grid edge are not
// background.
//
// The transform is the separable lower-envelope algorithm of Felzenszwalb
// and Huttenlocher applied along x, y and (for volumes) z.
func DistanceTransform(g Grid, mask []bool) ([]float64, error) {
	n := g.Len()
	if len(mask) != n {
		return nil, fmt.Errorf("mask has %d voxels, grid %s has %d", len(mask), g, n)
	}
	f := make([]float64, n)
	var fg int
	for i, m := range mask {
		if m {
			f[i] = math.Inf(1)
			fg++
		}
	}
	if fg == 0 {
		return f, nil
	}
	if fg == n {
		return nil, ErrDegenerateDistance
	}

	longest := max(g.Width, g.Height, g.Depth)
	line := make([]float64, longest)
	out := make([]float64, longest)
	env := newEnvelope(longest)

	plane := g.Width * g.Height
	for z := 0; z < g.Depth; z++ {
		for y := 0; y < g.Height; y++ {
			row := f[g.Index(0, y, z) : g.Index(0, y, z)+g.Width]
			env.transform(row, out[:g.Width], g.Spacing[0])
			copy(row, out[:g.Width])
		}
	}
	for z := 0; z < g.Depth; z++ {
		for x := 0; x < g.Width; x++ {
			base := g.Index(x, 0, z)
			for y := 0; y < g.Height; y++ {
				line[y] = f[base+y*g.Width]
			}
			env.transform(line[:g.Height], out[:g.Height], g.Spacing[1])
			for y := 0; y < g.Height; y++ {
				f[base+y*g.Width] = out[y]
			}
		}
	}
	if g.Depth > 1 {
		for i := 0; i < plane; i++ {
			for z := 0; z < g.Depth; z++ {
				line[z] = f[i+z*plane]
			}
			env.transform(line[:g.Depth], out[:g.Depth], g.Spacing[2])
			for z := 0; z < g.Depth; z++ {
				f[i+z*plane] = out[z]
			}
		}
	}

	for i := range f {
		f[i] = math.Sqrt(f[i])
	}
	return f, nil
}

// envelope holds the scratch buffers of the 1-D squared distance pass.
type envelope struct {
	v []int
	z []float64
}

func newEnvelope(n int) *envelope {
	return &envelope{v: make([]int, n), z: make([]float64, n+1)}
}

// transform computes d[p] = min_q f[q] + (w*(p-q))^2. Infinite samples do
// not contribute parabolas; a line with none stays infinite.
func (e *envelope) transform(f, d []float64, w float64) {
	w2 := w * w
	k := -1
	for q := range f {
		if math.IsInf(f[q], 1) {
			continue
		}
		if k < 0 {
			k = 0
			e.v[0] = q
			e.z[0] = math.Inf(-1)
			e.z[1] = math.Inf(1)
			continue
		}
		s := intersect(f, e.v[k], q, w2)
		for k > 0 && s <= e.z[k] {
			k--
			s = intersect(f, e.v[k], q, w2)
		}
		k++
		e.v[k] = q
		e.z[k] = s
		e.z[k+1] = math.Inf(1)
	}
	if k < 0 {
		for p := range d {
			d[p] = math.Inf(1)
		}
		return
	}
	k = 0
	for p := range d {
		for e.z[k+1] < float64(p) {
			k++
		}
		dq := float64(p - e.v[k])
		d[p] = w2*dq*dq + f[e.v[k]]
	}
}

// intersect returns the abscissa where the parabolas rooted at p and q meet.
func intersect(f []float64, p, q int, w2 float64) float64 {
	fp, fq := float64(p), float64(q)
	return ((f[q] + w2*fq*fq) - (f[p] + w2*fp*fp)) / (2 * w2 * (fq - fp))
}
