package models

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrDimensionMismatch is returned when two volumes that must share a grid do not.
var ErrDimensionMismatch = errors.New("volume dimensions do not match")

// PixelType records the sample type a volume was read as, or should be written as.
type PixelType int

const (
	UChar PixelType = iota
	UShort
	UInt
	Float
)

// String returns the toolkit-style name of the pixel type
func (p PixelType) String() string {
	switch p {
	case UChar:
		return "unsigned char"
	case UShort:
		return "unsigned short"
	case UInt:
		return "unsigned int"
	case Float:
		return "float"
	default:
		return fmt.Sprintf("PixelType(%d)", int(p))
	}
}

// Range returns the representable range of the pixel type
func (p PixelType) Range() (lo, hi float64) {
	switch p {
	case UChar:
		return 0, math.MaxUint8
	case UShort:
		return 0, math.MaxUint16
	case UInt:
		return 0, math.MaxUint32
	default:
		return -math.MaxFloat32, math.MaxFloat32
	}
}

// Volume represents a 3D raster with physical geometry.
// A 2D image is a volume with Depth 1.
type Volume struct {
	// Data is the 3D volume data as a 1D array, x varying fastest
	Data []float64

	// Width is the width of the volume in voxels
	Width int

	// Height is the height of the volume in voxels
	Height int

	// Depth is the depth of the volume in voxels
	Depth int

	// Spacing is the physical size of each voxel in mm along x, y, z
	Spacing [3]float64

	// Origin is the physical position of voxel (0,0,0)
	Origin [3]float64

	// PixelType is the sample type used when the volume is written
	PixelType PixelType
}

// NewVolume allocates a zero-filled volume with unit spacing
func NewVolume(width, height, depth int, pixelType PixelType) *Volume {
	return &Volume{
		Data:      make([]float64, width*height*depth),
		Width:     width,
		Height:    height,
		Depth:     depth,
		Spacing:   [3]float64{1, 1, 1},
		PixelType: pixelType,
	}
}

// NewVolumeLike allocates a zero-filled volume on the same grid as ref
func NewVolumeLike(ref *Volume, pixelType PixelType) *Volume {
	v := NewVolume(ref.Width, ref.Height, ref.Depth, pixelType)
	v.Spacing = ref.Spacing
	v.Origin = ref.Origin
	return v
}

// Len returns the number of voxels
func (v *Volume) Len() int {
	return v.Width * v.Height * v.Depth
}

// Index returns the offset of voxel (x, y, z) in Data
func (v *Volume) Index(x, y, z int) int {
	return z*v.Width*v.Height + y*v.Width + x
}

// Coords is the inverse of Index
func (v *Volume) Coords(idx int) (x, y, z int) {
	plane := v.Width * v.Height
	z = idx / plane
	rem := idx - z*plane
	y = rem / v.Width
	x = rem - y*v.Width
	return x, y, z
}

// Contains reports whether (x, y, z) lies inside the grid
func (v *Volume) Contains(x, y, z int) bool {
	return x >= 0 && y >= 0 && z >= 0 && x < v.Width && y < v.Height && z < v.Depth
}

// At returns the value at (x, y, z)
func (v *Volume) At(x, y, z int) float64 {
	return v.Data[v.Index(x, y, z)]
}

// Set stores value at (x, y, z)
func (v *Volume) Set(x, y, z int, value float64) {
	v.Data[v.Index(x, y, z)] = value
}

// Clone returns a deep copy
func (v *Volume) Clone() *Volume {
	c := *v
	c.Data = make([]float64, len(v.Data))
	copy(c.Data, v.Data)
	return &c
}

// SameGrid reports whether o has the same size as v
func (v *Volume) SameGrid(o *Volume) bool {
	return v.Width == o.Width && v.Height == o.Height && v.Depth == o.Depth
}

// Validate checks that Data matches the declared dimensions
func (v *Volume) Validate() error {
	if v.Width <= 0 || v.Height <= 0 || v.Depth <= 0 {
		return fmt.Errorf("invalid volume size %dx%dx%d", v.Width, v.Height, v.Depth)
	}
	if len(v.Data) != v.Len() {
		return fmt.Errorf("%w: %d samples for %dx%dx%d", ErrDimensionMismatch, len(v.Data), v.Width, v.Height, v.Depth)
	}
	return nil
}

// IndexToPoint maps a continuous index to a physical point
func (v *Volume) IndexToPoint(x, y, z float64) [3]float64 {
	return [3]float64{
		v.Origin[0] + x*v.Spacing[0],
		v.Origin[1] + y*v.Spacing[1],
		v.Origin[2] + z*v.Spacing[2],
	}
}

// PointToIndex maps a physical point to a continuous index
func (v *Volume) PointToIndex(p [3]float64) [3]float64 {
	var idx [3]float64
	for i := 0; i < 3; i++ {
		s := v.Spacing[i]
		if s == 0 {
			s = 1
		}
		idx[i] = (p[i] - v.Origin[i]) / s
	}
	return idx
}

// MinMax returns the smallest and largest sample
func (v *Volume) MinMax() (min, max float64) {
	if len(v.Data) == 0 {
		return 0, 0
	}
	min, max = v.Data[0], v.Data[0]
	for _, val := range v.Data[1:] {
		if val < min {
			min = val
		}
		if val > max {
			max = val
		}
	}
	return min, max
}

// Slice copies plane z into a new Width*Height array
func (v *Volume) Slice(z int) []float64 {
	plane := v.Width * v.Height
	out := make([]float64, plane)
	copy(out, v.Data[z*plane:(z+1)*plane])
	return out
}

// String prints a short description in the style of the toolkit's image printout
func (v *Volume) String() string {
	var b strings.Builder
	min, max := v.MinMax()
	fmt.Fprintf(&b, "Volume (%p)\n", v)
	fmt.Fprintf(&b, "  PixelType: %s\n", v.PixelType)
	fmt.Fprintf(&b, "  Size: [%d, %d, %d]\n", v.Width, v.Height, v.Depth)
	fmt.Fprintf(&b, "  Spacing: [%g, %g, %g]\n", v.Spacing[0], v.Spacing[1], v.Spacing[2])
	fmt.Fprintf(&b, "  Origin: [%g, %g, %g]\n", v.Origin[0], v.Origin[1], v.Origin[2])
	fmt.Fprintf(&b, "  Range: [%g, %g]\n", min, max)
	if len(v.Data) > 0 {
		fmt.Fprintf(&b, "  PixelContainer: %p (%d elements)\n", &v.Data[0], len(v.Data))
	}
	return b.String()
}

// Plane returns slice z as a depth-1 volume with the same geometry
func (v *Volume) Plane(z int) *Volume {
	p := &Volume{
		Data:      v.Slice(z),
		Width:     v.Width,
		Height:    v.Height,
		Depth:     1,
		Spacing:   v.Spacing,
		Origin:    v.IndexToPoint(0, 0, float64(z)),
		PixelType: v.PixelType,
	}
	return p
}
