package segmentation

import "fmt"

// Grid describes the lattice a segmentation runs on: a single plane
// (Depth == 1) or a volume, with the physical spacing of each axis.
type Grid struct {
	Width, Height, Depth int

	// Spacing holds the physical voxel size along x, y and z
	Spacing [3]float64
}

// NewGrid returns a grid, replacing non-positive spacings with 1.
func NewGrid(width, height, depth int, sx, sy, sz float64) Grid {
	sp := [3]float64{sx, sy, sz}
	for i := range sp {
		if sp[i] <= 0 {
			sp[i] = 1
		}
	}
	if depth < 1 {
		depth = 1
	}
	return Grid{Width: width, Height: height, Depth: depth, Spacing: sp}
}

// Len returns the number of voxels.
func (g Grid) Len() int { return g.Width * g.Height * g.Depth }

func (g Grid) Index(x, y, z int) int { return (z*g.Height+y)*g.Width + x }

func (g Grid) Coords(i int) (x, y, z int) {
	plane := g.Width * g.Height
	z = i / plane
	r := i - z*plane
	return r % g.Width, r / g.Width, z
}

func (g Grid) String() string {
	return fmt.Sprintf("%dx%dx%d", g.Width, g.Height, g.Depth)
}

// faceNeighbors appends the 4- (2-D) or 6-connected (3-D) neighbours of i
// to buf in ascending index order.
func (g Grid) faceNeighbors(i int, buf []int) []int {
	buf = buf[:0]
	x, y, z := g.Coords(i)
	plane := g.Width * g.Height
	if z > 0 {
		buf = append(buf, i-plane)
	}
	if y > 0 {
		buf = append(buf, i-g.Width)
	}
	if x > 0 {
		buf = append(buf, i-1)
	}
	if x < g.Width-1 {
		buf = append(buf, i+1)
	}
	if y < g.Height-1 {
		buf = append(buf, i+g.Width)
	}
	if z < g.Depth-1 {
		buf = append(buf, i+plane)
	}
	return buf
}

// onEdge reports whether i has fewer face neighbours than an interior voxel.
func (g Grid) onEdge(i int) bool {
	x, y, z := g.Coords(i)
	if x == 0 || y == 0 || x == g.Width-1 || y == g.Height-1 {
		return true
	}
	return g.Depth > 1 && (z == 0 || z == g.Depth-1)
}

// fullNeighbors appends the 8- (2-D) or 26-connected (3-D) neighbours of i.
func (g Grid) fullNeighbors(i int, buf []int) []int {
	buf = buf[:0]
	x, y, z := g.Coords(i)
	zr := 0
	if g.Depth > 1 {
		zr = 1
	}
	for dz := -zr; dz <= zr; dz++ {
		zz := z + dz
		if zz < 0 || zz >= g.Depth {
			continue
		}
		for dy := -1; dy <= 1; dy++ {
			yy := y + dy
			if yy < 0 || yy >= g.Height {
				continue
			}
			for dx := -1; dx <= 1; dx++ {
				xx := x + dx
				if xx < 0 || xx >= g.Width || (dx == 0 && dy == 0 && dz == 0) {
					continue
				}
				buf = append(buf, g.Index(xx, yy, zz))
			}
		}
	}
	return buf
}

// position returns the location of voxel i in units of the x spacing, so
// that distances between positions are isotropic.
func (g Grid) position(i int) [3]float64 {
	x, y, z := g.Coords(i)
	return [3]float64{
		float64(x),
		float64(y) * g.Spacing[1] / g.Spacing[0],
		float64(z) * g.Spacing[2] / g.Spacing[0],
	}
}
