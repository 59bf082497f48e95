package stl

import (
	"runtime"
	"sync"
)

// cubeCorners are the corner offsets of a grid cell
var cubeCorners = [8][3]int{
	{0, 0, 0}, {1, 0, 0}, {1, 1, 0}, {0, 1, 0},
	{0, 0, 1}, {1, 0, 1}, {1, 1, 1}, {0, 1, 1},
}

// cubeTetrahedra splits a cell into six tetrahedra around the 0-6 diagonal.
// Neighbouring cells split their shared faces the same way, so the
// extracted surface has no cracks.
var cubeTetrahedra = [6][4]int{
	{0, 5, 1, 6},
	{0, 1, 2, 6},
	{0, 2, 3, 6},
	{0, 3, 7, 6},
	{0, 7, 4, 6},
	{0, 4, 5, 6},
}

// MarchingCubes extracts the iso-surface of a scalar volume. Cells are
// decomposed into tetrahedra, which needs no case tables and yields a
// watertight surface. Voxels with a value above the iso level are inside;
// triangle normals point outward, towards lower values.
type MarchingCubes struct {
	data                      []float64
	width, height, depth      int
	isoLevel                  float64
	scaleX, scaleY, scaleZ    float32
	originX, originY, originZ float32
	numWorkers                int
}

// NewMarchingCubes creates an extractor for data laid out x-fastest
func NewMarchingCubes(data []float64, width, height, depth int, isoLevel float64) *MarchingCubes {
	return &MarchingCubes{
		data:       data,
		width:      width,
		height:     height,
		depth:      depth,
		isoLevel:   isoLevel,
		scaleX:     1,
		scaleY:     1,
		scaleZ:     1,
		numWorkers: runtime.NumCPU(),
	}
}

// SetScale sets the physical size of a voxel along each axis
func (mc *MarchingCubes) SetScale(x, y, z float32) {
	mc.scaleX, mc.scaleY, mc.scaleZ = x, y, z
}

// SetOrigin sets the physical position of voxel (0,0,0)
func (mc *MarchingCubes) SetOrigin(x, y, z float32) {
	mc.originX, mc.originY, mc.originZ = x, y, z
}

// SetNumWorkers bounds the number of goroutines used by GenerateTriangles
func (mc *MarchingCubes) SetNumWorkers(n int) {
	if n > 0 {
		mc.numWorkers = n
	}
}

// GenerateTriangles walks every cell and returns the surface triangles.
// The output order does not depend on the number of workers.
func (mc *MarchingCubes) GenerateTriangles() []Triangle {
	cellsZ := mc.depth - 1
	if cellsZ < 1 || mc.width < 2 || mc.height < 2 {
		return nil
	}

	perSlab := make([][]Triangle, cellsZ)
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < mc.numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for z := range jobs {
				perSlab[z] = mc.slab(z)
			}
		}()
	}
	for z := 0; z < cellsZ; z++ {
		jobs <- z
	}
	close(jobs)
	wg.Wait()

	var triangles []Triangle
	for _, s := range perSlab {
		triangles = append(triangles, s...)
	}
	return triangles
}

// slab extracts the triangles of the cells between planes z and z+1
func (mc *MarchingCubes) slab(z int) []Triangle {
	var out []Triangle
	var values [8]float64
	var corners [8][3]float32

	for y := 0; y < mc.height-1; y++ {
		for x := 0; x < mc.width-1; x++ {
			inside := 0
			for i, c := range cubeCorners {
				cx, cy, cz := x+c[0], y+c[1], z+c[2]
				values[i] = mc.data[cz*mc.width*mc.height+cy*mc.width+cx]
				if values[i] > mc.isoLevel {
					inside++
				}
				corners[i] = [3]float32{
					mc.originX + float32(cx)*mc.scaleX,
					mc.originY + float32(cy)*mc.scaleY,
					mc.originZ + float32(cz)*mc.scaleZ,
				}
			}
			if inside == 0 || inside == 8 {
				continue
			}
			for _, tet := range cubeTetrahedra {
				out = mc.polygoniseTetrahedron(out, tet, &values, &corners)
			}
		}
	}
	return out
}

// polygoniseTetrahedron appends the zero, one or two triangles where the
// iso-surface crosses one tetrahedron
func (mc *MarchingCubes) polygoniseTetrahedron(out []Triangle, tet [4]int, values *[8]float64, corners *[8][3]float32) []Triangle {
	var in, outside []int
	for _, v := range tet {
		if values[v] > mc.isoLevel {
			in = append(in, v)
		} else {
			outside = append(outside, v)
		}
	}

	// Direction from the inside vertices to the outside ones, used to orient triangles
	var dir [3]float32
	for _, v := range outside {
		for k := 0; k < 3; k++ {
			dir[k] += corners[v][k] / float32(len(outside))
		}
	}
	for _, v := range in {
		for k := 0; k < 3; k++ {
			dir[k] -= corners[v][k] / float32(len(in))
		}
	}

	edge := func(a, b int) [3]float32 {
		return mc.interpolate(corners[a], corners[b], values[a], values[b])
	}

	switch len(in) {
	case 1:
		a := in[0]
		out = append(out, orient(edge(a, outside[0]), edge(a, outside[1]), edge(a, outside[2]), dir))
	case 3:
		a := outside[0]
		out = append(out, orient(edge(a, in[0]), edge(a, in[1]), edge(a, in[2]), dir))
	case 2:
		a, b := in[0], in[1]
		c, d := outside[0], outside[1]
		pac, pad, pbd, pbc := edge(a, c), edge(a, d), edge(b, d), edge(b, c)
		out = append(out, orient(pac, pad, pbd, dir), orient(pac, pbd, pbc, dir))
	}
	return out
}

// interpolate finds the iso crossing on the edge p1-p2
func (mc *MarchingCubes) interpolate(p1, p2 [3]float32, v1, v2 float64) [3]float32 {
	if v1 == v2 {
		return p1
	}
	// Neighbouring tetrahedra must produce bit-identical points on a shared edge
	if less(p2, p1) {
		p1, p2 = p2, p1
		v1, v2 = v2, v1
	}
	t := float32((mc.isoLevel - v1) / (v2 - v1))
	return [3]float32{
		p1[0] + t*(p2[0]-p1[0]),
		p1[1] + t*(p2[1]-p1[1]),
		p1[2] + t*(p2[2]-p1[2]),
	}
}

// orient builds a triangle whose normal points along dir
func orient(a, b, c, dir [3]float32) Triangle {
	n := faceNormal(a, b, c)
	if n[0]*dir[0]+n[1]*dir[1]+n[2]*dir[2] < 0 {
		b, c = c, b
		n = [3]float32{-n[0], -n[1], -n[2]}
	}
	return Triangle{Normal: n, Vertex1: a, Vertex2: b, Vertex3: c}
}

func less(a, b [3]float32) bool {
	for k := 0; k < 3; k++ {
		if a[k] != b[k] {
			return a[k] < b[k]
		}
	}
	return false
}
