// Package filters implements the voxel filters used by the segmentation
// drivers: thresholding, hole filling, intensity scaling, distance maps,
// watershed flooding, morphology and relabeling.
//
// Every filter returns a new volume unless its name says otherwise and
// splits its work across z-slices using the core count set by SetNumCores.
package filters

import (
	"runtime"
	"sync"
	"sync/atomic"
)

var numCores atomic.Int64

func init() {
	numCores.Store(int64(runtime.NumCPU()))
}

// SetNumCores sets how many goroutines a filter may use. Values below 1 are ignored.
func SetNumCores(n int) {
	if n > 0 {
		numCores.Store(int64(n))
	}
}

// NumCores returns the current core count
func NumCores() int {
	return int(numCores.Load())
}

// parallelRange calls fn on contiguous chunks of [0, n), one chunk per core
func parallelRange(n int, fn func(start, end int)) {
	cores := NumCores()
	if cores > n {
		cores = n
	}
	if cores <= 1 {
		fn(0, n)
		return
	}

	chunk := (n + cores - 1) / cores
	var wg sync.WaitGroup
	for c := 0; c < cores; c++ {
		start := c * chunk
		end := start + chunk
		if end > n {
			end = n
		}
		if start >= end {
			break
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			fn(start, end)
		}(start, end)
	}
	wg.Wait()
}

// Offset is a relative voxel position (dx, dy, dz)
type Offset [3]int

// faceOffsets are the 6-connected neighbours
var faceOffsets = []Offset{
	{-1, 0, 0}, {1, 0, 0},
	{0, -1, 0}, {0, 1, 0},
	{0, 0, -1}, {0, 0, 1},
}

// fullOffsets are the 26-connected neighbours
var fullOffsets = func() []Offset {
	var out []Offset
	for dz := -1; dz <= 1; dz++ {
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				if dx != 0 || dy != 0 || dz != 0 {
					out = append(out, Offset{dx, dy, dz})
				}
			}
		}
	}
	return out
}()

func neighbourhood(fullyConnected bool) []Offset {
	if fullyConnected {
		return fullOffsets
	}
	return faceOffsets
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
