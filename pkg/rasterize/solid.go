package rasterize

import (
	"fmt"
	"sync"

	"github.com/unixpickle/model3d/model3d"

	"volseg/internal/models"
)

// Rasterization methods accepted by Voxelize
const (
	MethodScanline = "scanline"
	MethodCollider = "collider"
)

// Voxelize fills mesh onto the grid of reference with the named method
func Voxelize(method string, mesh *models.Mesh, reference *models.Volume, inside, outside float64, numCores int) (*models.Volume, error) {
	switch method {
	case "", MethodScanline:
		return TriangleMeshToBinaryImage(mesh, reference, inside, outside, numCores)
	case MethodCollider:
		return ColliderMeshToBinaryImage(mesh, reference, inside, outside, numCores)
	default:
		return nil, fmt.Errorf("unknown rasterization method %q", method)
	}
}

// toModel3D copies the faces of mesh into a model3d mesh
func toModel3D(mesh *models.Mesh) *model3d.Mesh {
	m := model3d.NewMesh()
	for _, f := range mesh.Faces {
		var t model3d.Triangle
		for k := 0; k < 3; k++ {
			v := mesh.Vertices[f[k]]
			t[k] = model3d.Coord3D{X: v[0], Y: v[1], Z: v[2]}
		}
		m.Add(&t)
	}
	return m
}

// ColliderMeshToBinaryImage voxelizes mesh by asking a model3d collider
// solid whether each voxel center is inside. The solid counts ray crossings
// along an oblique direction, so for closed meshes it agrees with the
// scanline fill at every center not lying on the surface.
func ColliderMeshToBinaryImage(mesh *models.Mesh, reference *models.Volume, inside, outside float64, numCores int) (*models.Volume, error) {
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
	solid := model3d.NewColliderSolid(model3d.MeshToCollider(toModel3D(mesh)))

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
			for z := start; z < end; z++ {
				for y := 0; y < reference.Height; y++ {
					for x := 0; x < reference.Width; x++ {
						p := reference.IndexToPoint(float64(x), float64(y), float64(z))
						if solid.Contains(model3d.Coord3D{X: p[0], Y: p[1], Z: p[2]}) {
							out.Data[out.Index(x, y, z)] = inside
						}
					}
				}
			}
		}(start, end)
	}
	wg.Wait()

	return out, nil
}
