// Package meshio reads and writes triangle surface meshes.
package meshio

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"volseg/internal/models"
	"volseg/pkg/stl"
)

// ErrUnsupportedFormat is returned for mesh files with an unknown extension
var ErrUnsupportedFormat = errors.New("unsupported mesh format")

// Read loads a mesh from an STL or OBJ file
func Read(path string) (*models.Mesh, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".stl":
		triangles, err := stl.LoadSTL(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read STL %s: %w", path, err)
		}
		return stl.ToMesh(triangles), nil
	case ".obj":
		file, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer file.Close()
		mesh, err := ParseOBJ(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read OBJ %s: %w", path, err)
		}
		return mesh, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

// Write stores a mesh as binary STL or OBJ depending on the extension
func Write(path string, mesh *models.Mesh) error {
	if err := mesh.Validate(); err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".stl":
		triangles, err := stl.FromMesh(mesh)
		if err != nil {
			return err
		}
		return stl.SaveToSTL(path, triangles)
	case ".obj":
		file, err := os.Create(path)
		if err != nil {
			return err
		}
		defer file.Close()
		w := bufio.NewWriter(file)
		if err := WriteOBJ(w, mesh); err != nil {
			return err
		}
		return w.Flush()
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

// ParseOBJ reads the vertices and faces of a Wavefront OBJ stream.
// Polygons are split into triangle fans; texture and normal indices are ignored.
func ParseOBJ(r io.Reader) (*models.Mesh, error) {
	mesh := &models.Mesh{}
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		switch fields[0] {
		case "v":
			if len(fields) < 4 {
				return nil, fmt.Errorf("line %d: vertex needs three coordinates", line)
			}
			var v [3]float64
			for i := 0; i < 3; i++ {
				f, err := strconv.ParseFloat(fields[i+1], 64)
				if err != nil {
					return nil, fmt.Errorf("line %d: %w", line, err)
				}
				v[i] = f
			}
			mesh.Vertices = append(mesh.Vertices, v)
		case "f":
			if len(fields) < 4 {
				return nil, fmt.Errorf("line %d: face needs at least three vertices", line)
			}
			idx := make([]int, 0, len(fields)-1)
			for _, ref := range fields[1:] {
				i, err := objIndex(ref, len(mesh.Vertices))
				if err != nil {
					return nil, fmt.Errorf("line %d: %w", line, err)
				}
				idx = append(idx, i)
			}
			for k := 1; k+1 < len(idx); k++ {
				mesh.Faces = append(mesh.Faces, [3]int{idx[0], idx[k], idx[k+1]})
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if err := mesh.Validate(); err != nil {
		return nil, err
	}
	return mesh, nil
}

// objIndex resolves a 1-based or negative (relative) OBJ vertex reference
func objIndex(ref string, count int) (int, error) {
	head, _, _ := strings.Cut(ref, "/")
	n, err := strconv.Atoi(head)
	if err != nil {
		return 0, fmt.Errorf("bad face index %q", ref)
	}
	switch {
	case n > 0:
		return n - 1, nil
	case n < 0:
		return count + n, nil
	default:
		return 0, fmt.Errorf("face index 0 is invalid")
	}
}

// WriteOBJ writes the mesh as Wavefront OBJ
func WriteOBJ(w io.Writer, mesh *models.Mesh) error {
	for _, v := range mesh.Vertices {
		if _, err := fmt.Fprintf(w, "v %g %g %g\n", v[0], v[1], v[2]); err != nil {
			return err
		}
	}
	for _, f := range mesh.Faces {
		if _, err := fmt.Fprintf(w, "f %d %d %d\n", f[0]+1, f[1]+1, f[2]+1); err != nil {
			return err
		}
	}
	return nil
}
