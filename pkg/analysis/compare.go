package analysis

import (
	"errors"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/kdtree"
	"gonum.org/v1/gonum/stat"
)

// Center is an object center usable as a k-d tree point
type Center struct {
	X, Y, Z float64
}

// Compare implements the kdtree.Comparable interface
func (p Center) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(Center)
	switch d {
	case 0:
		return p.X - q.X
	case 1:
		return p.Y - q.Y
	case 2:
		return p.Z - q.Z
	default:
		panic("illegal dimension")
	}
}

// Dims returns the number of dimensions for the k-d tree
func (p Center) Dims() int { return 3 }

// Distance returns the squared Euclidean distance between two centers
func (p Center) Distance(c kdtree.Comparable) float64 {
	q := c.(Center)
	dx := p.X - q.X
	dy := p.Y - q.Y
	dz := p.Z - q.Z
	return dx*dx + dy*dy + dz*dz
}

// Centers is a collection of Center that satisfies kdtree.Interface
type Centers []Center

func (p Centers) Index(i int) kdtree.Comparable         { return p[i] }
func (p Centers) Len() int                              { return len(p) }
func (p Centers) Slice(start, end int) kdtree.Interface { return p[start:end] }

// Pivot implements the kdtree.Interface method
func (p Centers) Pivot(d kdtree.Dim) int {
	return kdtree.Partition(centerPlane{Centers: p, Dim: d}, kdtree.MedianOfRandoms(centerPlane{Centers: p, Dim: d}, 100))
}

// centerPlane implements sort.Interface and kdtree.SortSlicer for Centers
type centerPlane struct {
	Centers
	kdtree.Dim
}

func (p centerPlane) Less(i, j int) bool {
	return p.Centers[i].Compare(p.Centers[j], p.Dim) < 0
}

func (p centerPlane) Slice(start, end int) kdtree.SortSlicer {
	return centerPlane{Centers: p.Centers[start:end], Dim: p.Dim}
}

func (p centerPlane) Swap(i, j int) {
	p.Centers[i], p.Centers[j] = p.Centers[j], p.Centers[i]
}

// Comparison holds detected statistics measured against training statistics
type Comparison struct {
	// Edges are the shared log10 volume histogram bin edges
	Edges []float64

	// Training and Detected are the histogram counts per bin
	Training []float64
	Detected []float64

	// Nearest is, per detected object, the distance to the closest training center
	Nearest []float64

	// MeanNearest is the mean of Nearest
	MeanNearest float64

	// TrainingLogVolume and DetectedLogVolume are the log10 volume means
	TrainingLogVolume float64
	DetectedLogVolume float64
}

// Compare bins the log10 volumes of both tables on bins edges spanning the
// training range and matches every detected center to its nearest
// training center. When either table lacks z, centers are compared in 2D.
func Compare(detected, training []LabelStats, bins int) (*Comparison, error) {
	if len(training) == 0 {
		return nil, errors.New("no training statistics")
	}
	if bins < 1 {
		return nil, errors.New("bin count must be positive")
	}

	trainLog := logVolumes(training)
	detLog := logVolumes(detected)
	if len(trainLog) == 0 {
		return nil, errors.New("training statistics have no positive volume")
	}

	lo, hi := floats.Min(trainLog), floats.Max(trainLog)
	if lo == hi {
		lo, hi = lo-0.5, hi+0.5
	}
	cmp := &Comparison{Edges: make([]float64, bins+1)}
	floats.Span(cmp.Edges, lo, hi)
	cmp.Training = histogram(cmp.Edges, trainLog)
	cmp.Detected = histogram(cmp.Edges, detLog)
	cmp.TrainingLogVolume = stat.Mean(trainLog, nil)
	if len(detLog) > 0 {
		cmp.DetectedLogVolume = stat.Mean(detLog, nil)
	}

	use3D := hasZ(detected) && hasZ(training)
	tree := kdtree.New(toCenters(training, use3D), false)
	cmp.Nearest = make([]float64, len(detected))
	for i, c := range toCenters(detected, use3D) {
		_, d := tree.Nearest(c)
		cmp.Nearest[i] = math.Sqrt(d)
	}
	if len(cmp.Nearest) > 0 {
		cmp.MeanNearest = stat.Mean(cmp.Nearest, nil)
	}
	return cmp, nil
}

// histogram counts values in the bins delimited by edges; the last bin
// includes its upper edge and values outside the edges are ignored
func histogram(edges, values []float64) []float64 {
	n := len(edges) - 1
	dividers := make([]float64, len(edges))
	copy(dividers, edges)
	dividers[n] = math.Nextafter(edges[n], math.Inf(1))

	var inside []float64
	for _, v := range values {
		if v >= dividers[0] && v < dividers[n] {
			inside = append(inside, v)
		}
	}
	sort.Float64s(inside)
	return stat.Histogram(nil, dividers, inside, nil)
}

func logVolumes(stats []LabelStats) []float64 {
	out := make([]float64, 0, len(stats))
	for _, s := range stats {
		if s.Volume > 0 {
			out = append(out, math.Log10(float64(s.Volume)))
		}
	}
	return out
}

func hasZ(stats []LabelStats) bool {
	for _, s := range stats {
		if math.IsNaN(s.Z) {
			return false
		}
	}
	return true
}

func toCenters(stats []LabelStats, use3D bool) Centers {
	out := make(Centers, len(stats))
	for i, s := range stats {
		out[i] = Center{X: s.X, Y: s.Y}
		if use3D {
			out[i].Z = s.Z
		}
	}
	return out
}
