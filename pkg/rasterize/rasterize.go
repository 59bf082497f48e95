// Package rasterize converts closed triangle meshes to binary images.
package rasterize

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"volseg/internal/models"
)

// triangle is a mesh face with its projection onto the (y, z) plane
type triangle struct {
	x       [3]float64
	u, v    [3]float64
	area    float64
	minV    float64
	maxV    float64
	minU    float64
	maxU    float64
	skipped bool
}

// TriangleMeshToBinaryImage voxelizes mesh on the grid of reference. The
// output has the reference's size, spacing and origin and UChar pixels.
//
// A ray along +x through every row of voxel centers is intersected with
// the mesh. Crossings are sorted and voxels whose center lies between the
// first and second, third and fourth, and so on are set to inside.
func TriangleMeshToBinaryImage(mesh *models.Mesh, reference *models.Volume, inside, outside float64, numCores int) (*models.Volume, error) {
	if err := reference.Validate(); err != nil {
		return nil, fmt.Errorf("invalid reference image: %w", err)
	}
	if err := mesh.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mesh: %w", err)
	}
	if numCores < 1 {
		numCores = 1
	}

	out := models.NewVolumeLike(reference, models.UChar)
	for i := range out.Data {
		out.Data[i] = outside
	}
	if len(mesh.Faces) == 0 {
		return out, nil
	}

	triangles := project(mesh)
	buckets := bucketByZ(triangles, reference)

	var wg sync.WaitGroup
	depth := reference.Depth
	slicesPerCore := (depth + numCores - 1) / numCores
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
		go func(start, end int) {
			defer wg.Done()
			var crossings []float64
			for z := start; z < end; z++ {
				for y := 0; y < reference.Height; y++ {
					p := reference.IndexToPoint(0, float64(y), float64(z))
					crossings = crossings[:0]
					for _, ti := range buckets[z] {
						if x, ok := triangles[ti].intersect(p[1], p[2]); ok {
							crossings = append(crossings, x)
						}
					}
					fillRow(out, y, z, crossings, inside)
				}
			}
		}(start, end)
	}
	wg.Wait()

	return out, nil
}

func project(mesh *models.Mesh) []triangle {
	triangles := make([]triangle, len(mesh.Faces))
	for i, f := range mesh.Faces {
		t := &triangles[i]
		for k := 0; k < 3; k++ {
			vert := mesh.Vertices[f[k]]
			t.x[k], t.u[k], t.v[k] = vert[0], vert[1], vert[2]
		}
		t.area = (t.u[1]-t.u[0])*(t.v[2]-t.v[0]) - (t.v[1]-t.v[0])*(t.u[2]-t.u[0])
		if t.area == 0 {
			// Parallel to the ray
			t.skipped = true
			continue
		}
		if t.area < 0 {
			t.x[1], t.x[2] = t.x[2], t.x[1]
			t.u[1], t.u[2] = t.u[2], t.u[1]
			t.v[1], t.v[2] = t.v[2], t.v[1]
			t.area = -t.area
		}
		t.minU = math.Min(t.u[0], math.Min(t.u[1], t.u[2]))
		t.maxU = math.Max(t.u[0], math.Max(t.u[1], t.u[2]))
		t.minV = math.Min(t.v[0], math.Min(t.v[1], t.v[2]))
		t.maxV = math.Max(t.v[0], math.Max(t.v[1], t.v[2]))
	}
	return triangles
}

// bucketByZ lists, for every z plane, the triangles whose z extent covers it
func bucketByZ(triangles []triangle, ref *models.Volume) [][]int {
	buckets := make([][]int, ref.Depth)
	for i, t := range triangles {
		if t.skipped {
			continue
		}
		lo := ref.PointToIndex([3]float64{0, 0, t.minV})[2]
		hi := ref.PointToIndex([3]float64{0, 0, t.maxV})[2]
		if lo > hi {
			lo, hi = hi, lo
		}
		zStart := int(math.Max(math.Floor(lo), 0))
		zEnd := int(math.Min(math.Ceil(hi), float64(ref.Depth-1)))
		for z := zStart; z <= zEnd; z++ {
			buckets[z] = append(buckets[z], i)
		}
	}
	return buckets
}

// intersect returns the x coordinate where the ray through (u, v) crosses
// the triangle. Points on an edge shared by two triangles count for exactly
// one of them.
func (t *triangle) intersect(u, v float64) (float64, bool) {
	if u < t.minU || u > t.maxU || v < t.minV || v > t.maxV {
		return 0, false
	}
	var w [3]float64
	for k := 0; k < 3; k++ {
		a, b := (k+1)%3, (k+2)%3
		du, dv := t.u[b]-t.u[a], t.v[b]-t.v[a]
		e := du*(v-t.v[a]) - dv*(u-t.u[a])
		if e < 0 || (e == 0 && !ownsEdge(du, dv)) {
			return 0, false
		}
		w[k] = e / t.area
	}
	return w[0]*t.x[0] + w[1]*t.x[1] + w[2]*t.x[2], true
}

// ownsEdge picks one of the two directions of every edge
func ownsEdge(du, dv float64) bool {
	return dv < 0 || (dv == 0 && du < 0)
}

func fillRow(out *models.Volume, y, z int, crossings []float64, inside float64) {
	if len(crossings) < 2 {
		return
	}
	sort.Float64s(crossings)
	sx := out.Spacing[0]
	if sx == 0 {
		sx = 1
	}
	row := out.Index(0, y, z)
	for k := 0; k+1 < len(crossings); k += 2 {
		first := math.Ceil((crossings[k] - out.Origin[0]) / sx)
		last := math.Ceil((crossings[k+1]-out.Origin[0])/sx) - 1
		for x := int(math.Max(first, 0)); x <= int(math.Min(last, float64(out.Width-1))); x++ {
			out.Data[row+x] = inside
		}
	}
}
