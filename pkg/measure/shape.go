// Package measure builds object tables from label maps: geometric
// extraction and per-channel intensity quantification.
package measure

import (
	"context"
	"math"

	"bioimagelab/internal/models"
	"bioimagelab/pkg/pipeline"
)

// Measurement names written by ShapeStage.
const (
	Area               = "area"
	AreaPhysical       = "area_physical"
	Centroid           = "centroid"
	CentroidPhysical   = "centroid_physical"
	BoundingBox        = "bbox"
	Perimeter          = "perimeter"
	EquivalentDiameter = "equivalent_diameter"
	Timepoint          = "timepoint"
)

// ShapeStage creates one record per label with its geometry. Vectors are
// ordered z, y, x; bbox is zmin, ymin, xmin, zmax, ymax, xmax inclusive.
type ShapeStage struct{}

func (ShapeStage) Category() pipeline.Category { return pipeline.Extraction }

func (ShapeStage) Params() []pipeline.ParamSpec {
	return []pipeline.ParamSpec{
		{Name: "exclude_border", Kind: pipeline.Bool, Default: false, Help: "skip objects touching the X or Y border"},
	}
}

type geometry struct {
	t                int
	count, perimeter int
	sum              [3]float64
	lo, hi           [3]int
	border           bool
}

func (ShapeStage) Apply(ctx context.Context, in *pipeline.Input, cfg pipeline.StageConfig) (*pipeline.Output, error) {
	lm := in.Labels
	sh := lm.Shape
	geo := make([]*geometry, lm.Count()+1)

	for t := 0; t < sh.T; t++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vol := lm.Volume(t)
		for z := 0; z < sh.Z; z++ {
			for y := 0; y < sh.Y; y++ {
				for x := 0; x < sh.X; x++ {
					id := vol[(z*sh.Y+y)*sh.X+x]
					if id == models.Background {
						continue
					}
					g := geo[id]
					if g == nil {
						g = &geometry{t: t, lo: [3]int{z, y, x}, hi: [3]int{z, y, x}}
						geo[id] = g
					}
					g.count++
					for i, v := range [3]int{z, y, x} {
						g.sum[i] += float64(v)
						g.lo[i] = min(g.lo[i], v)
						g.hi[i] = max(g.hi[i], v)
					}
					if x == 0 || y == 0 || x == sh.X-1 || y == sh.Y-1 {
						g.border = true
					}
				}
			}
		}
	}
	// objects confined to one plane have an in-plane perimeter
	for t := 0; t < sh.T; t++ {
		vol := lm.Volume(t)
		for z := 0; z < sh.Z; z++ {
			for y := 0; y < sh.Y; y++ {
				for x := 0; x < sh.X; x++ {
					id := vol[(z*sh.Y+y)*sh.X+x]
					if id == models.Background {
						continue
					}
					g := geo[id]
					if onSurface(vol, sh, z, y, x, id, g.hi[0] > g.lo[0]) {
						g.perimeter++
					}
				}
			}
		}
	}

	table := models.NewObjectTable()
	if in.Objects != nil {
		table = in.Objects.Clone()
	}
	vs := in.Image.Calibration.VoxelSize
	scale := [3]float64{vs.Z, vs.Y, vs.X}
	for id := 1; id < len(geo); id++ {
		g := geo[id]
		if g == nil || (cfg.Bool("exclude_border") && g.border) {
			continue
		}
		label := uint32(id)
		if _, err := table.Add(label); err != nil {
			return nil, err
		}
		depth := g.hi[0] - g.lo[0] + 1
		n := float64(g.count)
		centroid := []float64{g.sum[0] / n, g.sum[1] / n, g.sum[2] / n}
		physical := make([]float64, 3)
		for i := range centroid {
			physical[i] = centroid[i] * scale[i]
		}
		scalars := map[string]float64{
			Area:               n,
			AreaPhysical:       n * in.Image.Calibration.VoxelVolume(depth),
			Perimeter:          float64(g.perimeter),
			EquivalentDiameter: equivalentDiameter(n, depth > 1),
			Timepoint:          float64(g.t),
		}
		for name, v := range scalars {
			if err := table.SetScalar(label, name, v); err != nil {
				return nil, err
			}
		}
		vectors := map[string][]float64{
			Centroid:         centroid,
			CentroidPhysical: physical,
			BoundingBox: {
				float64(g.lo[0]), float64(g.lo[1]), float64(g.lo[2]),
				float64(g.hi[0]), float64(g.hi[1]), float64(g.hi[2]),
			},
		}
		for name, v := range vectors {
			if err := table.SetVector(label, name, v); err != nil {
				return nil, err
			}
		}
	}
	return &pipeline.Output{Objects: table}, nil
}

// onSurface reports whether the voxel has a face neighbour outside the
// object or outside the volume. Z neighbours count only when spatial.
func onSurface(vol []uint32, sh models.Shape, z, y, x int, id uint32, spatial bool) bool {
	at := func(z, y, x int) uint32 { return vol[(z*sh.Y+y)*sh.X+x] }
	if x == 0 || y == 0 || x == sh.X-1 || y == sh.Y-1 {
		return true
	}
	if at(z, y, x-1) != id || at(z, y, x+1) != id || at(z, y-1, x) != id || at(z, y+1, x) != id {
		return true
	}
	if spatial {
		if z == 0 || z == sh.Z-1 || at(z-1, y, x) != id || at(z+1, y, x) != id {
			return true
		}
	}
	return false
}

// equivalentDiameter returns the diameter of the disk (or ball) with the
// same pixel (voxel) count.
func equivalentDiameter(n float64, volume bool) float64 {
	if volume {
		return math.Cbrt(6 * n / math.Pi)
	}
	return math.Sqrt(4 * n / math.Pi)
}
