package segmentation

import (
	"sort"

	"gonum.org/v1/gonum/spatial/kdtree"
)

// Seed is a provisional single-voxel label source for flooding.
type Seed struct {
	Index    int
	Distance float64
	Label    uint32
}

// FindCandidates returns every foreground voxel whose distance is at least
// minDistance and not exceeded by any 8- (26-) connected neighbour, in
// ascending index order.
func FindCandidates(g Grid, dist []float64, mask []bool, minDistance float64) []Seed {
	var (
		out []Seed
		nb  = make([]int, 0, 26)
	)
	for i, m := range mask {
		d := dist[i]
		if !m || d <= 0 || d < minDistance {
			continue
		}
		peak := true
		for _, j := range g.fullNeighbors(i, nb) {
			if dist[j] > d {
				peak = false
				break
			}
		}
		if peak {
			out = append(out, Seed{Index: i, Distance: d})
		}
	}
	return out
}

// SuppressSeeds keeps candidates greedily, strongest first (largest
// distance, then lowest index). A candidate is dropped when a seed already
// kept in the same connected component (any seed when component is nil) lies
// closer than radius. Kept seeds are therefore pairwise at least radius
// apart. Survivors are labelled 1..K in that order.
func SuppressSeeds(g Grid, candidates []Seed, radius float64, component []uint32) []Seed {
	if len(candidates) == 0 {
		return nil
	}
	order := append([]Seed(nil), candidates...)
	sort.Slice(order, func(i, j int) bool { return stronger(order[i], order[j]) })

	var (
		seeds []Seed
		kept  kdtree.Tree
		r2    = radius * radius
	)
	for _, c := range order {
		p := seedPoint{pos: g.position(c.Index), id: len(seeds)}
		if radius > 0 && suppressed(&kept, p, r2, seeds, c, component) {
			continue
		}
		seeds = append(seeds, c)
		if radius > 0 {
			kept.Insert(p, false)
		}
	}
	for i := range seeds {
		seeds[i].Label = uint32(i + 1)
	}
	return seeds
}

// suppressed reports whether a kept seed of the same component lies closer
// than the squared radius r2 to p.
func suppressed(kept *kdtree.Tree, p seedPoint, r2 float64, seeds []Seed, c Seed, component []uint32) bool {
	keeper := kdtree.NewDistKeeper(r2)
	kept.NearestSet(keeper, p)
	for _, cd := range keeper.Heap {
		if cd.Comparable == nil || cd.Dist >= r2 {
			continue
		}
		s := seeds[cd.Comparable.(seedPoint).id]
		if component != nil && component[s.Index] != component[c.Index] {
			continue
		}
		return true
	}
	return false
}

func stronger(a, b Seed) bool {
	if a.Distance != b.Distance {
		return a.Distance > b.Distance
	}
	return a.Index < b.Index
}

// seedPoint implements kdtree.Comparable
type seedPoint struct {
	pos [3]float64
	id  int
}

func (p seedPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(seedPoint)
	return p.pos[d] - q.pos[d]
}

func (p seedPoint) Dims() int { return 3 }

// Distance returns the squared Euclidean distance.
func (p seedPoint) Distance(c kdtree.Comparable) float64 {
	q := c.(seedPoint)
	var sum float64
	for i := range p.pos {
		d := p.pos[i] - q.pos[i]
		sum += d * d
	}
	return sum
}
