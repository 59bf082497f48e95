package stl

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"volseg/internal/models"
)

// sphereVolume creates a size^3 volume holding a binary ball
func sphereVolume(size int, radius float64) []float64 {
	data := make([]float64, size*size*size)
	center := float64(size) / 2.0
	for z := 0; z < size; z++ {
		for y := 0; y < size; y++ {
			for x := 0; x < size; x++ {
				dx := float64(x) - center
				dy := float64(y) - center
				dz := float64(z) - center
				if math.Sqrt(dx*dx+dy*dy+dz*dz) < radius {
					data[z*size*size+y*size+x] = 1.0
				}
			}
		}
	}
	return data
}

// cornerVolume is a 2x2x2 volume with a single inside corner
func cornerVolume() []float64 {
	return []float64{
		1, 0,
		0, 0,

		0, 0,
		0, 0,
	}
}

// TestMarchingCubes verifies surface extraction on a sphere
func TestMarchingCubes(t *testing.T) {
	size := 20
	center := float32(size) / 2.0
	mc := NewMarchingCubes(sphereVolume(size, float64(size)/4.0), size, size, size, 0.5)

	triangles := mc.GenerateTriangles()
	if len(triangles) < 100 {
		t.Fatalf("Expected at least 100 triangles for sphere, got %d", len(triangles))
	}

	// Normals should point away from the sphere center
	for i, triangle := range triangles {
		vx := (triangle.Vertex1[0]+triangle.Vertex2[0]+triangle.Vertex3[0])/3 - center
		vy := (triangle.Vertex1[1]+triangle.Vertex2[1]+triangle.Vertex3[1])/3 - center
		vz := (triangle.Vertex1[2]+triangle.Vertex2[2]+triangle.Vertex3[2])/3 - center
		mag := float32(math.Sqrt(float64(vx*vx + vy*vy + vz*vz)))
		if mag == 0 {
			continue
		}
		dot := (vx*triangle.Normal[0] + vy*triangle.Normal[1] + vz*triangle.Normal[2]) / mag
		if dot < -0.5 { // voxel staircases tilt normals, so the check is generous
			t.Fatalf("Triangle %d normal points inward, dot product: %f", i, dot)
		}
	}
}

// TestSurfaceIsClosed checks that every edge of the sphere surface is shared by exactly two triangles
func TestSurfaceIsClosed(t *testing.T) {
	size := 12
	mc := NewMarchingCubes(sphereVolume(size, 3.5), size, size, size, 0.5)
	mesh := ToMesh(mc.GenerateTriangles())

	edges := make(map[[2]int]int)
	for _, f := range mesh.Faces {
		for i := 0; i < 3; i++ {
			a, b := f[i], f[(i+1)%3]
			if a == b {
				continue
			}
			if a > b {
				a, b = b, a
			}
			edges[[2]int{a, b}]++
		}
	}
	for e, n := range edges {
		if n != 2 {
			t.Fatalf("edge %v is used by %d triangles", e, n)
		}
	}
}

func TestWorkerCountDoesNotChangeOutput(t *testing.T) {
	size := 10
	data := sphereVolume(size, 3)

	single := NewMarchingCubes(data, size, size, size, 0.5)
	single.SetNumWorkers(1)
	many := NewMarchingCubes(data, size, size, size, 0.5)
	many.SetNumWorkers(4)

	a, b := single.GenerateTriangles(), many.GenerateTriangles()
	if len(a) != len(b) {
		t.Fatalf("triangle counts differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("triangle %d differs", i)
		}
	}
}

// TestSetScale verifies that the scaling functionality works
func TestSetScale(t *testing.T) {
	mc := NewMarchingCubes(cornerVolume(), 2, 2, 2, 0.5)
	mc.SetScale(2.5, 1.5, 3.0)
	scaled := mc.GenerateTriangles()
	if len(scaled) == 0 {
		t.Fatal("No triangles generated")
	}

	plain := NewMarchingCubes(cornerVolume(), 2, 2, 2, 0.5).GenerateTriangles()
	if len(plain) != len(scaled) {
		t.Fatalf("scaling changed the triangle count: %d vs %d", len(plain), len(scaled))
	}

	for i := range plain {
		for k, v := range [][3]float32{plain[i].Vertex1, plain[i].Vertex2, plain[i].Vertex3} {
			s := [][3]float32{scaled[i].Vertex1, scaled[i].Vertex2, scaled[i].Vertex3}[k]
			want := [3]float32{v[0] * 2.5, v[1] * 1.5, v[2] * 3.0}
			for axis := 0; axis < 3; axis++ {
				if math.Abs(float64(s[axis]-want[axis])) > 1e-5 {
					t.Fatalf("triangle %d vertex %d axis %d: got %f want %f", i, k, axis, s[axis], want[axis])
				}
			}
		}
	}
}

func TestSetOrigin(t *testing.T) {
	mc := NewMarchingCubes(cornerVolume(), 2, 2, 2, 0.5)
	mc.SetOrigin(10, 20, 30)
	for _, tri := range mc.GenerateTriangles() {
		if tri.Vertex1[0] < 10 || tri.Vertex1[1] < 20 || tri.Vertex1[2] < 30 {
			t.Fatalf("origin not applied: %v", tri.Vertex1)
		}
	}
}

// TestTriangleInterpolation verifies the vertex interpolation
func TestTriangleInterpolation(t *testing.T) {
	triangles := NewMarchingCubes(cornerVolume(), 2, 2, 2, 0.5).GenerateTriangles()
	if len(triangles) == 0 {
		t.Fatal("No triangles generated, cannot test interpolation")
	}

	// The crossing lies halfway between the inside corner and its neighbours
	for _, triangle := range triangles {
		for _, v := range [][3]float32{triangle.Vertex1, triangle.Vertex2, triangle.Vertex3} {
			for _, c := range v {
				if c != 0 && c != 0.5 {
					t.Errorf("unexpected interpolated coordinate %f in %v", c, v)
				}
			}
			if v == [3]float32{} {
				t.Error("vertex sits on the inside corner")
			}
		}
		if triangle.Normal == [3]float32{} {
			t.Error("Triangle normal is zero")
		}
	}
}

func TestFlatVolumeHasNoSurface(t *testing.T) {
	if got := NewMarchingCubes(make([]float64, 8), 2, 2, 2, 0.5).GenerateTriangles(); len(got) != 0 {
		t.Errorf("expected no triangles, got %d", len(got))
	}
	if got := NewMarchingCubes([]float64{1, 1, 1, 1}, 2, 2, 1, 0.5).GenerateTriangles(); got != nil {
		t.Errorf("expected nil for a single plane, got %d triangles", len(got))
	}
}

// TestSaveToSTL verifies that the STL file can be written and read back
func TestSaveToSTL(t *testing.T) {
	triangles := []Triangle{
		{
			Normal:  [3]float32{0, 0, 1},
			Vertex1: [3]float32{0, 0, 0},
			Vertex2: [3]float32{1, 0, 0},
			Vertex3: [3]float32{0, 1, 0},
		},
	}

	path := filepath.Join(t.TempDir(), "test.stl")
	if err := SaveToSTL(path, triangles); err != nil {
		t.Fatalf("Failed to save STL: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Failed to stat output file: %v", err)
	}
	// 80 byte header, 4 byte count, 50 bytes per triangle
	if info.Size() != 80+4+50 {
		t.Errorf("unexpected STL size %d", info.Size())
	}

	loaded, err := LoadSTL(path)
	if err != nil {
		t.Fatalf("Failed to load STL: %v", err)
	}
	if len(loaded) != 1 || loaded[0] != triangles[0] {
		t.Errorf("round trip mismatch: %+v", loaded)
	}
}

func TestParseASCII(t *testing.T) {
	src := `solid cube
  facet normal 0 0 1
    outer loop
      vertex 0 0 0
      vertex 1 0 0
      vertex 0 1 0
    endloop
  endfacet
endsolid cube
`
	triangles, err := Parse([]byte(src))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(triangles) != 1 {
		t.Fatalf("expected 1 triangle, got %d", len(triangles))
	}
	if triangles[0].Vertex2 != [3]float32{1, 0, 0} || triangles[0].Normal != [3]float32{0, 0, 1} {
		t.Errorf("unexpected triangle %+v", triangles[0])
	}

	if _, err := Parse([]byte("garbage")); err == nil {
		t.Error("expected an error for invalid data")
	}
}

func TestMeshConversion(t *testing.T) {
	mesh := &models.Mesh{
		Vertices: [][3]float64{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}, {0, 0, 1}},
		Faces:    [][3]int{{0, 2, 1}, {0, 1, 3}},
	}
	triangles, err := FromMesh(mesh)
	if err != nil {
		t.Fatal(err)
	}
	if triangles[0].Normal != [3]float32{0, 0, -1} {
		t.Errorf("unexpected normal %v", triangles[0].Normal)
	}

	back := ToMesh(triangles)
	if len(back.Vertices) != 4 || len(back.Faces) != 2 {
		t.Errorf("expected shared vertices to merge, got %d vertices", len(back.Vertices))
	}

	mesh.Faces = append(mesh.Faces, [3]int{0, 1, 9})
	if _, err := FromMesh(mesh); err == nil {
		t.Error("expected an error for a bad face index")
	}
}

// BenchmarkMarchingCubes benchmarks surface extraction on a 32^3 sphere
func BenchmarkMarchingCubes(b *testing.B) {
	size := 32
	data := sphereVolume(size, float64(size)/4)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		NewMarchingCubes(data, size, size, size, 0.5).GenerateTriangles()
	}
}
