// Package analysis computes per-label statistics of segmentation results,
// compares them to training statistics and plots the outcome.
package analysis

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"volseg/internal/models"
)

// LabelStats describes one labelled object
type LabelStats struct {
	// Row is the position of the object in its table
	Row int

	// Label is the label value in the segmentation
	Label int

	// X, Y and Z are the mean voxel index of the object
	X, Y, Z float64

	// Volume is the voxel count
	Volume int

	// PhysicalVolume is Volume times the voxel volume
	PhysicalVolume float64

	// Min and Max bound the object in index space
	Min, Max [3]int
}

type accumulator struct {
	sum      [3]float64
	count    int
	min, max [3]int
}

func (a *accumulator) add(x, y, z int) {
	p := [3]int{x, y, z}
	if a.count == 0 {
		a.min, a.max = p, p
	}
	for i := 0; i < 3; i++ {
		a.sum[i] += float64(p[i])
		if p[i] < a.min[i] {
			a.min[i] = p[i]
		}
		if p[i] > a.max[i] {
			a.max[i] = p[i]
		}
	}
	a.count++
}

func (a *accumulator) merge(b *accumulator) {
	if b.count == 0 {
		return
	}
	if a.count == 0 {
		*a = *b
		return
	}
	for i := 0; i < 3; i++ {
		a.sum[i] += b.sum[i]
		if b.min[i] < a.min[i] {
			a.min[i] = b.min[i]
		}
		if b.max[i] > a.max[i] {
			a.max[i] = b.max[i]
		}
	}
	a.count += b.count
}

// ComputeLabelStats returns the statistics of every non-zero label in
// ascending label order. Slabs of z planes are accumulated in parallel.
func ComputeLabelStats(labels *models.Volume, numCores int) ([]LabelStats, error) {
	if err := labels.Validate(); err != nil {
		return nil, err
	}
	for _, l := range labels.Data {
		if l < 0 || l != math.Trunc(l) {
			return nil, fmt.Errorf("invalid label value %g", l)
		}
	}
	if numCores < 1 {
		numCores = 1
	}

	depth := labels.Depth
	slicesPerCore := (depth + numCores - 1) / numCores
	partial := make([]map[int]*accumulator, numCores)

	var wg sync.WaitGroup
	for c := 0; c < numCores; c++ {
		start := c * slicesPerCore
		end := start + slicesPerCore
		if end > depth {
			end = depth
		}
		if start >= end {
			break
		}
		wg.Add(1)
		go func(c, start, end int) {
			defer wg.Done()
			acc := make(map[int]*accumulator)
			for z := start; z < end; z++ {
				for y := 0; y < labels.Height; y++ {
					for x := 0; x < labels.Width; x++ {
						l := int(labels.At(x, y, z))
						if l == 0 {
							continue
						}
						a, ok := acc[l]
						if !ok {
							a = &accumulator{}
							acc[l] = a
						}
						a.add(x, y, z)
					}
				}
			}
			partial[c] = acc
		}(c, start, end)
	}
	wg.Wait()

	total := make(map[int]*accumulator)
	for _, acc := range partial {
		for l, a := range acc {
			t, ok := total[l]
			if !ok {
				t = &accumulator{}
				total[l] = t
			}
			t.merge(a)
		}
	}

	ids := make([]int, 0, len(total))
	for l := range total {
		ids = append(ids, l)
	}
	sort.Ints(ids)

	voxel := labels.Spacing[0] * labels.Spacing[1] * labels.Spacing[2]
	stats := make([]LabelStats, len(ids))
	for i, l := range ids {
		a := total[l]
		n := float64(a.count)
		stats[i] = LabelStats{
			Row:            i,
			Label:          l,
			X:              a.sum[0] / n,
			Y:              a.sum[1] / n,
			Z:              a.sum[2] / n,
			Volume:         a.count,
			PhysicalVolume: n * voxel,
			Min:            a.min,
			Max:            a.max,
		}
	}
	return stats, nil
}

// Volumes returns the voxel counts of stats
func Volumes(stats []LabelStats) []float64 {
	out := make([]float64, len(stats))
	for i, s := range stats {
		out[i] = float64(s.Volume)
	}
	return out
}
