package analysis

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
)

// BinGrid counts points on a rectangular grid
type BinGrid struct {
	XEdges []float64
	YEdges []float64

	// Counts is indexed [column][row], x first
	Counts [][]int
}

// Dims returns the number of columns and rows
func (g *BinGrid) Dims() (c, r int) { return len(g.XEdges) - 1, len(g.YEdges) - 1 }

// Z returns the count of a cell
func (g *BinGrid) Z(c, r int) float64 { return float64(g.Counts[c][r]) }

// X returns the center of column c
func (g *BinGrid) X(c int) float64 { return (g.XEdges[c] + g.XEdges[c+1]) / 2 }

// Y returns the center of row r
func (g *BinGrid) Y(r int) float64 { return (g.YEdges[r] + g.YEdges[r+1]) / 2 }

// Max returns the largest count
func (g *BinGrid) Max() int {
	max := 0
	for _, col := range g.Counts {
		for _, n := range col {
			if n > max {
				max = n
			}
		}
	}
	return max
}

// HexbinCounts bins the points (x[i], y[i]) on a gridSize x gridSize
// rectangular grid spanning their range. Values on the upper edge fall in
// the last cell.
func HexbinCounts(x, y []float64, gridSize int) (*BinGrid, error) {
	if len(x) != len(y) {
		return nil, errors.New("x and y have different lengths")
	}
	if len(x) == 0 {
		return nil, errors.New("no points to bin")
	}
	if gridSize < 1 {
		return nil, errors.New("grid size must be positive")
	}

	g := &BinGrid{
		XEdges: edges(x, gridSize),
		YEdges: edges(y, gridSize),
		Counts: make([][]int, gridSize),
	}
	for c := range g.Counts {
		g.Counts[c] = make([]int, gridSize)
	}
	for i := range x {
		g.Counts[binOf(g.XEdges, x[i])][binOf(g.YEdges, y[i])]++
	}
	return g, nil
}

func edges(values []float64, n int) []float64 {
	lo, hi := floats.Min(values), floats.Max(values)
	if lo == hi {
		lo, hi = lo-0.5, hi+0.5
	}
	e := make([]float64, n+1)
	floats.Span(e, lo, hi)
	return e
}

func binOf(edges []float64, v float64) int {
	n := len(edges) - 1
	i := int(math.Floor((v - edges[0]) / (edges[n] - edges[0]) * float64(n)))
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
