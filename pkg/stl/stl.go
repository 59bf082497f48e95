// Package stl reads and writes STL surface files and extracts iso-surfaces
// from volumes.
package stl

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"volseg/internal/models"
)

// Triangle is one facet of an STL file
type Triangle struct {
	Normal  [3]float32
	Vertex1 [3]float32
	Vertex2 [3]float32
	Vertex3 [3]float32
}

// SaveToSTL writes triangles as a binary STL file
func SaveToSTL(filename string, triangles []Triangle) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	if err := WriteBinary(w, triangles); err != nil {
		return err
	}
	return w.Flush()
}

// WriteBinary encodes triangles in the binary STL layout: an 80 byte
// header, a triangle count and 50 bytes per triangle
func WriteBinary(w io.Writer, triangles []Triangle) error {
	header := make([]byte, 80)
	copy(header, "volseg binary STL")
	if _, err := w.Write(header); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(triangles))); err != nil {
		return err
	}

	var attr uint16
	for _, t := range triangles {
		for _, v := range [][3]float32{t.Normal, t.Vertex1, t.Vertex2, t.Vertex3} {
			if err := binary.Write(w, binary.LittleEndian, v); err != nil {
				return err
			}
		}
		if err := binary.Write(w, binary.LittleEndian, attr); err != nil {
			return err
		}
	}
	return nil
}

// LoadSTL reads a binary or ASCII STL file
func LoadSTL(filename string) ([]Triangle, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes STL data. Binary files are recognised by their size
// matching the declared triangle count, since binary headers may start
// with "solid" as well.
func Parse(data []byte) ([]Triangle, error) {
	if len(data) >= 84 {
		count := binary.LittleEndian.Uint32(data[80:84])
		if uint64(len(data)) == 84+uint64(count)*50 {
			return parseBinary(data[84:], int(count))
		}
	}
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte("solid")) {
		return parseASCII(data)
	}
	return nil, fmt.Errorf("not a valid STL file (%d bytes)", len(data))
}

func parseBinary(data []byte, count int) ([]Triangle, error) {
	triangles := make([]Triangle, count)
	r := bytes.NewReader(data)
	for i := 0; i < count; i++ {
		var raw struct {
			Normal, V1, V2, V3 [3]float32
			Attr               uint16
		}
		if err := binary.Read(r, binary.LittleEndian, &raw); err != nil {
			return nil, fmt.Errorf("failed to read triangle %d: %w", i, err)
		}
		triangles[i] = Triangle{Normal: raw.Normal, Vertex1: raw.V1, Vertex2: raw.V2, Vertex3: raw.V3}
	}
	return triangles, nil
}

func parseASCII(data []byte) ([]Triangle, error) {
	var (
		triangles []Triangle
		current   Triangle
		vertices  int
	)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	line := 0
	for scanner.Scan() {
		line++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "facet":
			current = Triangle{}
			vertices = 0
			if len(fields) == 5 && fields[1] == "normal" {
				n, err := parseVec(fields[2:])
				if err != nil {
					return nil, fmt.Errorf("line %d: %w", line, err)
				}
				current.Normal = n
			}
		case "vertex":
			if len(fields) != 4 {
				return nil, fmt.Errorf("line %d: malformed vertex", line)
			}
			v, err := parseVec(fields[1:])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			switch vertices {
			case 0:
				current.Vertex1 = v
			case 1:
				current.Vertex2 = v
			case 2:
				current.Vertex3 = v
			default:
				return nil, fmt.Errorf("line %d: facet has more than three vertices", line)
			}
			vertices++
		case "endfacet":
			if vertices != 3 {
				return nil, fmt.Errorf("line %d: facet has %d vertices", line, vertices)
			}
			triangles = append(triangles, current)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return triangles, nil
}

func parseVec(fields []string) ([3]float32, error) {
	var v [3]float32
	for i := 0; i < 3; i++ {
		f, err := strconv.ParseFloat(fields[i], 32)
		if err != nil {
			return v, err
		}
		v[i] = float32(f)
	}
	return v, nil
}

// ToMesh converts triangles to an indexed mesh, merging identical vertices
func ToMesh(triangles []Triangle) *models.Mesh {
	mesh := &models.Mesh{}
	index := make(map[[3]float32]int)
	lookup := func(v [3]float32) int {
		if i, ok := index[v]; ok {
			return i
		}
		i := len(mesh.Vertices)
		index[v] = i
		mesh.Vertices = append(mesh.Vertices, [3]float64{float64(v[0]), float64(v[1]), float64(v[2])})
		return i
	}
	for _, t := range triangles {
		mesh.Faces = append(mesh.Faces, [3]int{lookup(t.Vertex1), lookup(t.Vertex2), lookup(t.Vertex3)})
	}
	return mesh
}

// FromMesh converts an indexed mesh to triangles with computed normals
func FromMesh(mesh *models.Mesh) ([]Triangle, error) {
	if err := mesh.Validate(); err != nil {
		return nil, err
	}
	triangles := make([]Triangle, len(mesh.Faces))
	for i, f := range mesh.Faces {
		v1 := toFloat32(mesh.Vertices[f[0]])
		v2 := toFloat32(mesh.Vertices[f[1]])
		v3 := toFloat32(mesh.Vertices[f[2]])
		triangles[i] = Triangle{Normal: faceNormal(v1, v2, v3), Vertex1: v1, Vertex2: v2, Vertex3: v3}
	}
	return triangles, nil
}

func toFloat32(v [3]float64) [3]float32 {
	return [3]float32{float32(v[0]), float32(v[1]), float32(v[2])}
}

// faceNormal returns the unit normal of a counter-clockwise triangle
func faceNormal(a, b, c [3]float32) [3]float32 {
	ux, uy, uz := b[0]-a[0], b[1]-a[1], b[2]-a[2]
	vx, vy, vz := c[0]-a[0], c[1]-a[1], c[2]-a[2]
	nx := uy*vz - uz*vy
	ny := uz*vx - ux*vz
	nz := ux*vy - uy*vx
	mag := float32(math.Sqrt(float64(nx*nx + ny*ny + nz*nz)))
	if mag == 0 {
		return [3]float32{}
	}
	return [3]float32{nx / mag, ny / mag, nz / mag}
}
