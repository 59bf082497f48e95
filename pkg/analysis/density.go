package analysis

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Density is a curve evaluated at evenly spaced points
type Density struct {
	X         []float64
	Y         []float64
	Bandwidth float64
}

// KernelDensity estimates the density of values with Gaussian kernels and
// Scott's rule bandwidth, std * n^(-1/5). The curve spans the data range
// widened by half of it on both sides. A sample without spread uses a
// bandwidth of 1.
func KernelDensity(values []float64, points int) (*Density, error) {
	if len(values) == 0 {
		return nil, errors.New("no values to estimate a density from")
	}
	if points < 2 {
		points = 2
	}

	h := 0.0
	if len(values) > 1 {
		h = stat.StdDev(values, nil) * math.Pow(float64(len(values)), -0.2)
	}
	if h == 0 || math.IsNaN(h) {
		h = 1
	}

	lo, hi := floats.Min(values), floats.Max(values)
	pad := (hi - lo) / 2
	if pad == 0 {
		pad = 3 * h
	}

	d := &Density{X: make([]float64, points), Y: make([]float64, points), Bandwidth: h}
	floats.Span(d.X, lo-pad, hi+pad)
	n := float64(len(values))
	for i, x := range d.X {
		sum := 0.0
		for _, v := range values {
			sum += distuv.Normal{Mu: v, Sigma: h}.Prob(x)
		}
		d.Y[i] = sum / n
	}
	return d, nil
}
