package segmentation

import (
	"context"
	"fmt"
)

// DefaultCancelCheckInterval is the number of queue pops between two
// checks of the context.
const DefaultCancelCheckInterval = 4096

// Flood runs a marker-controlled watershed over the foreground of mask.
// Seeds are labelled first; their foreground neighbours are queued with the
// seed's label. A popped voxel that touches a voxel of a different label
// becomes a boundary voxel and keeps label 0. Background voxels are never
// labelled.
//
// If ctx is cancelled the partial result is discarded and ctx.Err() is
// returned.
func Flood(ctx context.Context, g Grid, elevation []float64, mask []bool, seeds []Seed, checkEvery int) (labels []uint32, boundary []bool, err error) {
	n := g.Len()
	if len(elevation) != n || len(mask) != n {
		return nil, nil, fmt.Errorf("flood inputs do not match grid %s", g)
	}
	if checkEvery <= 0 {
		checkEvery = DefaultCancelCheckInterval
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	labels = make([]uint32, n)
	boundary = make([]bool, n)
	for _, s := range seeds {
		if s.Index < 0 || s.Index >= n || !mask[s.Index] {
			return nil, nil, fmt.Errorf("seed %d at voxel %d is outside the foreground", s.Label, s.Index)
		}
		labels[s.Index] = s.Label
	}

	q := &floodQueue{}
	nb := make([]int, 0, 6)
	for _, s := range seeds {
		for _, j := range g.faceNeighbors(s.Index, nb) {
			if mask[j] && labels[j] == 0 {
				q.push(j, elevation[j], s.Label)
			}
		}
	}

	pops := 0
	for q.Len() > 0 {
		pops++
		if pops%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, nil, err
			}
		}
		e := q.pop()
		i := e.index
		if labels[i] != 0 || boundary[i] {
			continue
		}
		nb = g.faceNeighbors(i, nb)
		conflict := false
		for _, j := range nb {
			if l := labels[j]; l != 0 && l != e.label {
				conflict = true
				break
			}
		}
		if conflict {
			boundary[i] = true
			continue
		}
		labels[i] = e.label
		for _, j := range nb {
			if mask[j] && labels[j] == 0 && !boundary[j] {
				q.push(j, elevation[j], e.label)
			}
		}
	}
	return labels, boundary, nil
}
