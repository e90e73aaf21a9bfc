package segmentation

import (
	"context"
	"errors"
	"sort"

	"bioimagelab/internal/models"
)

// MergeRegions joins adjacent regions whose shared watershed boundary is at
// least fraction times the perimeter of the smaller one. Boundary voxels
// left touching a single label afterwards join that label. Merged sets
// take their lowest label; ids are not compacted. It returns the number of
// regions absorbed.
func MergeRegions(g Grid, labels []uint32, boundary []bool, fraction float64) int {
	if fraction <= 0 {
		return 0
	}
	k := 0
	for _, l := range labels {
		if int(l) > k {
			k = int(l)
		}
	}
	if k < 2 {
		return 0
	}

	perimeter := make([]int, k+1)
	nb := make([]int, 0, 6)
	for i, l := range labels {
		if l == 0 {
			continue
		}
		if g.onEdge(i) {
			perimeter[l]++
			continue
		}
		for _, j := range g.faceNeighbors(i, nb) {
			if labels[j] != l {
				perimeter[l]++
				break
			}
		}
	}

	shared := map[[2]uint32]int{}
	var touching []uint32
	for i, b := range boundary {
		if !b {
			continue
		}
		touching = neighbourLabels(g, labels, i, nb, touching)
		for a := 0; a < len(touching); a++ {
			for c := a + 1; c < len(touching); c++ {
				shared[[2]uint32{touching[a], touching[c]}]++
			}
		}
	}
	pairs := make([][2]uint32, 0, len(shared))
	for p := range shared {
		pairs = append(pairs, p)
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i][0] != pairs[j][0] {
			return pairs[i][0] < pairs[j][0]
		}
		return pairs[i][1] < pairs[j][1]
	})

	uf := newUnionFind(k + 1)
	merged := 0
	for _, p := range pairs {
		smaller := min(perimeter[p[0]], perimeter[p[1]])
		if float64(shared[p]) >= fraction*float64(smaller)-models.Tolerance {
			if uf.find(int(p[0])) != uf.find(int(p[1])) {
				uf.union(int(p[0]), int(p[1]))
				merged++
			}
		}
	}
	if merged == 0 {
		return 0
	}

	for i, l := range labels {
		if l != 0 {
			labels[i] = uint32(uf.find(int(l)))
		}
	}
	type fill struct {
		index int
		label uint32
	}
	var fills []fill
	for i, b := range boundary {
		if !b {
			continue
		}
		touching = neighbourLabels(g, labels, i, nb, touching)
		if len(touching) == 1 {
			fills = append(fills, fill{i, touching[0]})
		}
	}
	for _, f := range fills {
		labels[f.index] = f.label
		boundary[f.index] = false
	}
	return merged
}

// neighbourLabels returns the distinct non-zero face-neighbour labels of i
// in ascending order.
func neighbourLabels(g Grid, labels []uint32, i int, nb []int, out []uint32) []uint32 {
	out = out[:0]
	for _, j := range g.faceNeighbors(i, nb) {
		l := labels[j]
		if l == 0 {
			continue
		}
		dup := false
		for _, o := range out {
			if o == l {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a] < out[b] })
	return out
}

type box struct {
	x0, y0, z0, x1, y1, z1 int
}

// boundingBoxes returns the inclusive bounding box of every label.
func boundingBoxes(g Grid, labels []uint32, k int) []box {
	boxes := make([]box, k+1)
	seen := make([]bool, k+1)
	for i, l := range labels {
		if l == 0 || int(l) > k {
			continue
		}
		x, y, z := g.Coords(i)
		if !seen[l] {
			boxes[l] = box{x, y, z, x, y, z}
			seen[l] = true
			continue
		}
		b := &boxes[l]
		b.x0, b.y0, b.z0 = min(b.x0, x), min(b.y0, y), min(b.z0, z)
		b.x1, b.y1, b.z1 = max(b.x1, x), max(b.y1, y), max(b.z1, z)
	}
	return boxes
}

// splitter re-segments single regions on private copies.
type splitter struct {
	engine *Engine
	grid   Grid
	labels []uint32
	bound  []bool
	next   uint32
}

// splitRegions runs the split pass over every region of labels.
func (e *Engine) splitRegions(ctx context.Context, g Grid, labels []uint32, boundary []bool) error {
	k := 0
	for _, l := range labels {
		if int(l) > k {
			k = int(l)
		}
	}
	if k == 0 {
		return nil
	}
	s := &splitter{engine: e, grid: g, labels: labels, bound: boundary, next: uint32(k + 1)}
	boxes := boundingBoxes(g, labels, k)
	areas := make([]int, k+1)
	for _, l := range labels {
		areas[l]++
	}
	for l := 1; l <= k; l++ {
		if areas[l] < e.opts.SplitMinArea {
			continue
		}
		if err := s.split(ctx, uint32(l), boxes[l], e.opts.SplitDepth); err != nil {
			return err
		}
	}
	return nil
}

// split segments region l inside its bounding box, writes the pieces back
// and recurses into pieces that are still large enough.
func (s *splitter) split(ctx context.Context, l uint32, bb box, depth int) error {
	if depth <= 0 {
		return nil
	}
	g := s.grid
	x0, y0, z0 := max(bb.x0-1, 0), max(bb.y0-1, 0), max(bb.z0-1, 0)
	x1, y1, z1 := min(bb.x1+1, g.Width-1), min(bb.y1+1, g.Height-1), min(bb.z1+1, g.Depth-1)
	sub := Grid{Width: x1 - x0 + 1, Height: y1 - y0 + 1, Depth: z1 - z0 + 1, Spacing: g.Spacing}

	global := make([]int, sub.Len())
	mask := make([]bool, sub.Len())
	for k := range mask {
		x, y, z := sub.Coords(k)
		gi := g.Index(x+x0, y+y0, z+z0)
		global[k] = gi
		mask[k] = s.labels[gi] == l
	}

	res, err := s.engine.segmentOnce(ctx, sub, mask, s.engine.splitRadius())
	if errors.Is(err, ErrDegenerateDistance) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(res.seeds) < 2 {
		return nil
	}

	ids := make([]uint32, len(res.seeds)+1)
	ids[1] = l
	for i := 2; i < len(ids); i++ {
		ids[i] = s.next
		s.next++
	}
	pieces := map[uint32]*box{}
	areas := map[uint32]int{}
	for k, m := range mask {
		if !m {
			continue
		}
		gi := global[k]
		if res.boundary[k] {
			s.labels[gi] = 0
			s.bound[gi] = true
			continue
		}
		id := l
		if sl := res.labels[k]; sl != 0 {
			id = ids[sl]
		}
		s.labels[gi] = id
		x, y, z := sub.Coords(k)
		x, y, z = x+x0, y+y0, z+z0
		areas[id]++
		if b, ok := pieces[id]; ok {
			b.x0, b.y0, b.z0 = min(b.x0, x), min(b.y0, y), min(b.z0, z)
			b.x1, b.y1, b.z1 = max(b.x1, x), max(b.y1, y), max(b.z1, z)
		} else {
			pieces[id] = &box{x, y, z, x, y, z}
		}
	}

	if depth == 1 {
		return nil
	}
	for _, id := range ids[1:] {
		b, ok := pieces[id]
		if !ok || areas[id] < s.engine.opts.SplitMinArea {
			continue
		}
		if err := s.split(ctx, id, *b, depth-1); err != nil {
			return err
		}
	}
	return nil
}

type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	return &unionFind{parent: p}
}

func (u *unionFind) find(i int) int {
	for u.parent[i] != i {
		u.parent[i] = u.parent[u.parent[i]]
		i = u.parent[i]
	}
	return i
}

// union joins the sets of a and b, keeping the lower root.
func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if ra < rb {
		u.parent[rb] = ra
	} else {
		u.parent[ra] = rb
	}
}
