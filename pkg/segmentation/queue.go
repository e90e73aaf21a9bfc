package segmentation

import (
	"container/heap"

	"bioimagelab/internal/models"
)

type floodEntry struct {
	elevation float64
	seq       uint64
	index     int
	label     uint32
}

// floodQueue is a min-heap on elevation. Elevations within
// models.Tolerance of each other are equal and pop in insertion order.
type floodQueue struct {
	entries []floodEntry
	seq     uint64
}

func (q *floodQueue) Len() int { return len(q.entries) }

func (q *floodQueue) Less(i, j int) bool {
	a, b := q.entries[i], q.entries[j]
	if d := a.elevation - b.elevation; d < -models.Tolerance {
		return true
	} else if d > models.Tolerance {
		return false
	}
	return a.seq < b.seq
}

func (q *floodQueue) Swap(i, j int) { q.entries[i], q.entries[j] = q.entries[j], q.entries[i] }

func (q *floodQueue) Push(x any) { q.entries = append(q.entries, x.(floodEntry)) }

func (q *floodQueue) Pop() any {
	n := len(q.entries) - 1
	e := q.entries[n]
	q.entries = q.entries[:n]
	return e
}

func (q *floodQueue) push(index int, elevation float64, label uint32) {
	heap.Push(q, floodEntry{elevation: elevation, seq: q.seq, index: index, label: label})
	q.seq++
}

func (q *floodQueue) pop() floodEntry {
	return heap.Pop(q).(floodEntry)
}
