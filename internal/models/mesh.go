package models

import "fmt"

// Mesh is a triangle surface mesh in physical coordinates
type Mesh struct {
	// Vertices holds the point coordinates
	Vertices [][3]float64

	// Faces holds triangles as indices into Vertices
	Faces [][3]int
}

// Validate checks that every face references an existing vertex
func (m *Mesh) Validate() error {
	for i, f := range m.Faces {
		for _, idx := range f {
			if idx < 0 || idx >= len(m.Vertices) {
				return fmt.Errorf("face %d references vertex %d, mesh has %d vertices", i, idx, len(m.Vertices))
			}
		}
	}
	return nil
}

// Bounds returns the axis-aligned bounding box of the vertices
func (m *Mesh) Bounds() (min, max [3]float64) {
	if len(m.Vertices) == 0 {
		return min, max
	}
	min, max = m.Vertices[0], m.Vertices[0]
	for _, v := range m.Vertices[1:] {
		for i := 0; i < 3; i++ {
			if v[i] < min[i] {
				min[i] = v[i]
			}
			if v[i] > max[i] {
				max[i] = v[i]
			}
		}
	}
	return min, max
}
