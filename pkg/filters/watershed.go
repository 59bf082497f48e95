package filters

import (
	"container/heap"
	"fmt"
	"math"

	"volseg/internal/models"
)

// WatershedParams configures Watershed
type WatershedParams struct {
	// Threshold is the fraction of the input range below which values are
	// raised to a common floor, removing shallow minima
	Threshold float64

	// Level is the fraction of the input range up to which neighbouring
	// basins are merged
	Level float64

	// FullyConnected selects 26-connectivity instead of 6
	FullyConnected bool
}

// WatershedResult describes a watershed run
type WatershedResult struct {
	// Minima is the number of basins before merging
	Minima int

	// Labels is the number of labels in the output
	Labels int
}

// Watershed segments in by flooding from its regional minima.
//
// Values below min + Threshold*range are raised to that floor. Every
// regional minimum seeds a basin and basins grow in order of increasing
// height until every voxel belongs to one. Two touching basins are then
// merged, lowest saliency first, while the saliency (the lowest pass
// between them minus the higher of their minima) does not exceed
// Level*range. Output labels are numbered from 1 in raster order of
// their first voxel.
func Watershed(in *models.Volume, p WatershedParams) (*models.Volume, WatershedResult, error) {
	var res WatershedResult
	if p.Threshold < 0 || p.Threshold > 1 {
		return nil, res, fmt.Errorf("watershed threshold %g is outside [0, 1]", p.Threshold)
	}
	if p.Level < 0 || p.Level > 1 {
		return nil, res, fmt.Errorf("watershed level %g is outside [0, 1]", p.Level)
	}
	if err := in.Validate(); err != nil {
		return nil, res, err
	}

	lo, hi := in.MinMax()
	valueRange := hi - lo
	floor := lo + p.Threshold*valueRange

	height := make([]float64, len(in.Data))
	parallelRange(len(in.Data), func(start, end int) {
		for i := start; i < end; i++ {
			height[i] = math.Max(in.Data[i], floor)
		}
	})

	offsets := neighbourhood(p.FullyConnected)
	basin, minima := seedMinima(in, height, offsets)
	res.Minima = len(minima)

	flood(in, height, basin, offsets)

	sets := newBasinSets(minima)
	sets.mergeSalient(basinPasses(in, height, basin, offsets), p.Level*valueRange)

	out := models.NewVolumeLike(in, models.UInt)
	ids := make(map[int]int)
	for i, b := range basin {
		root := sets.find(b)
		id, ok := ids[root]
		if !ok {
			id = len(ids) + 1
			ids[root] = id
		}
		out.Data[i] = float64(id)
	}
	res.Labels = len(ids)
	return out, res, nil
}

// seedMinima labels every regional minimum plateau with a basin id starting
// at 0. Other voxels get -1. The returned slice holds each basin's height.
func seedMinima(v *models.Volume, height []float64, offsets []Offset) ([]int, []float64) {
	basin := make([]int, len(height))
	for i := range basin {
		basin[i] = -1
	}
	visited := make([]bool, len(height))
	var minima []float64
	var plateau, queue []int

	for start := range height {
		if visited[start] {
			continue
		}
		level := height[start]
		isMin := true
		plateau = plateau[:0]
		queue = append(queue[:0], start)
		visited[start] = true
		for len(queue) > 0 {
			idx := queue[0]
			queue = queue[1:]
			plateau = append(plateau, idx)
			x, y, z := v.Coords(idx)
			for _, o := range offsets {
				nx, ny, nz := x+o[0], y+o[1], z+o[2]
				if !v.Contains(nx, ny, nz) {
					continue
				}
				n := v.Index(nx, ny, nz)
				switch {
				case height[n] < level:
					isMin = false
				case height[n] == level && !visited[n]:
					visited[n] = true
					queue = append(queue, n)
				}
			}
		}
		if isMin {
			id := len(minima)
			minima = append(minima, level)
			for _, idx := range plateau {
				basin[idx] = id
			}
		}
	}
	return basin, minima
}

// floodItem is a voxel waiting in the flooding queue
type floodItem struct {
	level float64
	seq   int
	index int
}

type floodQueue []floodItem

func (q floodQueue) Len() int { return len(q) }
func (q floodQueue) Less(i, j int) bool {
	if q[i].level != q[j].level {
		return q[i].level < q[j].level
	}
	return q[i].seq < q[j].seq
}
func (q floodQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *floodQueue) Push(x any)   { *q = append(*q, x.(floodItem)) }
func (q *floodQueue) Pop() any {
	old := *q
	item := old[len(old)-1]
	*q = old[:len(old)-1]
	return item
}

// flood grows the seeded basins over the remaining voxels by priority flooding
func flood(v *models.Volume, height []float64, basin []int, offsets []Offset) {
	q := &floodQueue{}
	seq := 0
	for i, b := range basin {
		if b >= 0 {
			*q = append(*q, floodItem{level: height[i], seq: seq, index: i})
			seq++
		}
	}
	heap.Init(q)

	for q.Len() > 0 {
		item := heap.Pop(q).(floodItem)
		x, y, z := v.Coords(item.index)
		for _, o := range offsets {
			nx, ny, nz := x+o[0], y+o[1], z+o[2]
			if !v.Contains(nx, ny, nz) {
				continue
			}
			n := v.Index(nx, ny, nz)
			if basin[n] >= 0 {
				continue
			}
			basin[n] = basin[item.index]
			heap.Push(q, floodItem{level: math.Max(height[n], item.level), seq: seq, index: n})
			seq++
		}
	}
}

// pass is the lowest crossing between two basins
type pass struct {
	a, b   int
	height float64
}

// basinPasses finds, for every pair of touching basins, the lowest height
// at which they meet
func basinPasses(v *models.Volume, height []float64, basin []int, offsets []Offset) []pass {
	lowest := make(map[[2]int]float64)
	var order [][2]int
	for idx, b := range basin {
		x, y, z := v.Coords(idx)
		for _, o := range offsets {
			nx, ny, nz := x+o[0], y+o[1], z+o[2]
			if !v.Contains(nx, ny, nz) {
				continue
			}
			n := v.Index(nx, ny, nz)
			if n < idx || basin[n] == b {
				continue
			}
			key := [2]int{b, basin[n]}
			if key[0] > key[1] {
				key[0], key[1] = key[1], key[0]
			}
			h := math.Max(height[idx], height[n])
			if cur, ok := lowest[key]; !ok {
				lowest[key] = h
				order = append(order, key)
			} else if h < cur {
				lowest[key] = h
			}
		}
	}

	passes := make([]pass, len(order))
	for i, key := range order {
		passes[i] = pass{a: key[0], b: key[1], height: lowest[key]}
	}
	return passes
}

// basinSets is a union-find over basins that tracks each set's minimum
type basinSets struct {
	parent  []int
	minimum []float64
}

func newBasinSets(minima []float64) *basinSets {
	s := &basinSets{parent: make([]int, len(minima)), minimum: make([]float64, len(minima))}
	for i := range minima {
		s.parent[i] = i
		s.minimum[i] = minima[i]
	}
	return s
}

func (s *basinSets) find(i int) int {
	for s.parent[i] != i {
		s.parent[i] = s.parent[s.parent[i]]
		i = s.parent[i]
	}
	return i
}

func (s *basinSets) saliency(p pass) float64 {
	return p.height - math.Max(s.minimum[s.find(p.a)], s.minimum[s.find(p.b)])
}

// saliencyItem is a pass keyed by the saliency it had when queued
type saliencyItem struct {
	saliency float64
	seq      int
	pass     pass
}

type saliencyQueue []saliencyItem

func (q saliencyQueue) Len() int { return len(q) }
func (q saliencyQueue) Less(i, j int) bool {
	if q[i].saliency != q[j].saliency {
		return q[i].saliency < q[j].saliency
	}
	return q[i].seq < q[j].seq
}
func (q saliencyQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *saliencyQueue) Push(x any)   { *q = append(*q, x.(saliencyItem)) }
func (q *saliencyQueue) Pop() any {
	old := *q
	item := old[len(old)-1]
	*q = old[:len(old)-1]
	return item
}

// mergeSalient merges basins in order of increasing saliency while it stays
// at or below limit. Merging lowers a set's minimum, so saliencies only
// grow and stale entries are requeued with their current value.
func (s *basinSets) mergeSalient(passes []pass, limit float64) {
	if limit <= 0 {
		return
	}
	q := &saliencyQueue{}
	for i, p := range passes {
		*q = append(*q, saliencyItem{saliency: s.saliency(p), seq: i, pass: p})
	}
	heap.Init(q)

	for q.Len() > 0 {
		item := heap.Pop(q).(saliencyItem)
		ra, rb := s.find(item.pass.a), s.find(item.pass.b)
		if ra == rb {
			continue
		}
		if current := s.saliency(item.pass); current != item.saliency {
			item.saliency = current
			heap.Push(q, item)
			continue
		}
		if item.saliency > limit {
			return
		}
		if s.minimum[rb] < s.minimum[ra] {
			ra, rb = rb, ra
		}
		s.parent[rb] = ra
	}
}
