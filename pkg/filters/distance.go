package filters

import (
	"math"

	"volseg/internal/models"
)

// DistanceMapParams configures SignedMaurerDistanceMap
type DistanceMapParams struct {
	// Background is the value of voxels outside the object
	Background float64

	// InsideIsPositive makes distances inside the object positive
	InsideIsPositive bool

	// UseImageSpacing measures distances in physical units instead of voxels
	UseImageSpacing bool

	// SquaredDistance returns squared distances
	SquaredDistance bool
}

// SignedMaurerDistanceMap computes the exact signed Euclidean distance from
// every voxel to the object contour. The object is every voxel that is not
// Background and its contour is the set of object voxels with a face
// neighbour outside the object. Contour voxels are 0, object voxels are
// negative unless InsideIsPositive is set.
//
// The distance transform is separable: a one dimensional lower envelope of
// parabolas is computed along x, then y, then z.
//
// When the image has no contour, every voxel gets the length of the grid
// diagonal with the sign of its side.
func SignedMaurerDistanceMap(in *models.Volume, p DistanceMapParams) (*models.Volume, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	w, h, d := in.Width, in.Height, in.Depth

	spacing := [3]float64{1, 1, 1}
	if p.UseImageSpacing {
		for i, s := range in.Spacing {
			if s > 0 {
				spacing[i] = s
			}
		}
	}

	inside := make([]bool, len(in.Data))
	for i, v := range in.Data {
		inside[i] = v != p.Background
	}

	out := models.NewVolumeLike(in, models.Float)
	dist := out.Data
	hasContour := false
	parallelRange(d, func(zStart, zEnd int) {
		for z := zStart; z < zEnd; z++ {
			for y := 0; y < h; y++ {
				for x := 0; x < w; x++ {
					idx := in.Index(x, y, z)
					dist[idx] = math.Inf(1)
					if inside[idx] && onContour(in, inside, x, y, z) {
						dist[idx] = 0
					}
				}
			}
		}
	})
	for _, v := range dist {
		if v == 0 {
			hasContour = true
			break
		}
	}

	if !hasContour {
		diag := math.Sqrt(sq(float64(w)*spacing[0]) + sq(float64(h)*spacing[1]) + sq(float64(d)*spacing[2]))
		if p.SquaredDistance {
			diag *= diag
		}
		for i := range dist {
			dist[i] = signFor(inside[i], p.InsideIsPositive) * diag
		}
		return out, nil
	}

	// Pass along x, one row at a time
	parallelRange(d, func(zStart, zEnd int) {
		f := make([]float64, w)
		env := newEnvelope(w)
		for z := zStart; z < zEnd; z++ {
			for y := 0; y < h; y++ {
				row := in.Index(0, y, z)
				copy(f, dist[row:row+w])
				env.transform(f, spacing[0], dist[row:row+w], 1)
			}
		}
	})

	// Pass along y
	parallelRange(d, func(zStart, zEnd int) {
		f := make([]float64, h)
		env := newEnvelope(h)
		for z := zStart; z < zEnd; z++ {
			for x := 0; x < w; x++ {
				base := in.Index(x, 0, z)
				for y := 0; y < h; y++ {
					f[y] = dist[base+y*w]
				}
				env.transform(f, spacing[1], dist[base:], w)
			}
		}
	})

	// Pass along z
	if d > 1 {
		plane := w * h
		parallelRange(h, func(yStart, yEnd int) {
			f := make([]float64, d)
			env := newEnvelope(d)
			for y := yStart; y < yEnd; y++ {
				for x := 0; x < w; x++ {
					base := in.Index(x, y, 0)
					for z := 0; z < d; z++ {
						f[z] = dist[base+z*plane]
					}
					env.transform(f, spacing[2], dist[base:], plane)
				}
			}
		})
	}

	parallelRange(len(dist), func(start, end int) {
		for i := start; i < end; i++ {
			v := dist[i]
			if !p.SquaredDistance {
				v = math.Sqrt(v)
			}
			dist[i] = signFor(inside[i], p.InsideIsPositive) * v
		}
	})
	return out, nil
}

// onContour reports whether an object voxel touches the background or the grid border along a face
func onContour(v *models.Volume, inside []bool, x, y, z int) bool {
	for _, o := range faceOffsets {
		nx, ny, nz := x+o[0], y+o[1], z+o[2]
		if !v.Contains(nx, ny, nz) {
			continue
		}
		if !inside[v.Index(nx, ny, nz)] {
			return true
		}
	}
	return false
}

func signFor(inside, insideIsPositive bool) float64 {
	if inside == insideIsPositive {
		return 1
	}
	return -1
}

func sq(v float64) float64 { return v * v }

// envelope holds the scratch space of the 1D squared distance transform
type envelope struct {
	v []int
	z []float64
}

func newEnvelope(n int) *envelope {
	return &envelope{v: make([]int, n), z: make([]float64, n+1)}
}

// transform writes the squared distance transform of the sampled function f
// into out[0], out[stride], ... Samples are spaced step apart. Infinite
// samples are skipped so rows without sites stay infinite.
func (e *envelope) transform(f []float64, step float64, out []float64, stride int) {
	n := len(f)
	k := -1
	for q := 0; q < n; q++ {
		if math.IsInf(f[q], 1) {
			continue
		}
		pq := float64(q) * step
		for k >= 0 {
			pv := float64(e.v[k]) * step
			s := ((f[q] + pq*pq) - (f[e.v[k]] + pv*pv)) / (2 * (pq - pv))
			if s > e.z[k] {
				break
			}
			k--
		}
		k++
		e.v[k] = q
		if k == 0 {
			e.z[k] = math.Inf(-1)
		} else {
			pv := float64(e.v[k-1]) * step
			e.z[k] = ((f[q] + pq*pq) - (f[e.v[k-1]] + pv*pv)) / (2 * (pq - pv))
		}
		e.z[k+1] = math.Inf(1)
	}
	if k < 0 {
		return
	}

	j := 0
	for q := 0; q < n; q++ {
		pq := float64(q) * step
		for e.z[j+1] < pq {
			j++
		}
		pv := float64(e.v[j]) * step
		out[q*stride] = sq(pq-pv) + f[e.v[j]]
	}
}
