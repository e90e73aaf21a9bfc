package segmentation

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const otsuBins = 256

// OtsuLevel returns the threshold maximising the between-class variance of
// values. Samples strictly above the level are foreground. A constant
// input returns its value, which selects nothing.
func OtsuLevel(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	lo, hi := sorted[0], sorted[len(sorted)-1]
	if hi-lo <= 0 {
		return lo
	}

	dividers := make([]float64, otsuBins+1)
	floats.Span(dividers, lo, hi)
	dividers[otsuBins] = math.Nextafter(hi, math.Inf(1))
	counts := stat.Histogram(nil, dividers, sorted, nil)

	var total, sumAll float64
	centers := make([]float64, otsuBins)
	for b := range counts {
		centers[b] = (dividers[b] + dividers[b+1]) / 2
		total += counts[b]
		sumAll += counts[b] * centers[b]
	}

	var (
		w0, sum0 float64
		best     = -1.0
		bestBin  int
	)
	for b := 0; b < otsuBins-1; b++ {
		w0 += counts[b]
		sum0 += counts[b] * centers[b]
		w1 := total - w0
		if w0 == 0 {
			continue
		}
		if w1 == 0 {
			break
		}
		m0, m1 := sum0/w0, (sumAll-sum0)/w1
		between := w0 * w1 * (m0 - m1) * (m0 - m1)
		if between > best {
			best, bestBin = between, b
		}
	}
	return dividers[bestBin+1]
}

// Binarize returns the mask of samples strictly above level.
func Binarize(values []float64, level float64) []bool {
	mask := make([]bool, len(values))
	for i, v := range values {
		mask[i] = v > level
	}
	return mask
}

// ConnectedComponents labels the face-connected components of mask in
// raster order of their first voxel and returns the labels and their count.
func ConnectedComponents(g Grid, mask []bool) ([]uint32, int) {
	labels := make([]uint32, len(mask))
	var (
		next  uint32
		queue []int
		nb    = make([]int, 0, 6)
	)
	for i, m := range mask {
		if !m || labels[i] != 0 {
			continue
		}
		next++
		labels[i] = next
		queue = append(queue[:0], i)
		for len(queue) > 0 {
			v := queue[0]
			queue = queue[1:]
			for _, j := range g.faceNeighbors(v, nb) {
				if mask[j] && labels[j] == 0 {
					labels[j] = next
					queue = append(queue, j)
				}
			}
		}
	}
	return labels, int(next)
}

// RemoveSmall clears components smaller than minArea and returns the
// number of components kept. Labels are not compacted.
func RemoveSmall(labels []uint32, count, minArea int) int {
	if minArea <= 1 {
		return count
	}
	areas := make([]int, count+1)
	for _, l := range labels {
		areas[l]++
	}
	kept := 0
	for l := 1; l <= count; l++ {
		if areas[l] >= minArea {
			kept++
		}
	}
	for i, l := range labels {
		if l != 0 && areas[l] < minArea {
			labels[i] = 0
		}
	}
	return kept
}
