package filters

import (
	"fmt"
	"sort"

	"volseg/internal/models"
)

// StructuringElement is a set of offsets around the origin
type StructuringElement []Offset

// BallStructuringElement returns the offsets d with sum((d_i/r_i)^2) <= 1.
// An axis with radius 0 is flat. Offsets are ordered by distance from the
// origin, then in raster order.
func BallStructuringElement(radius [3]int) (StructuringElement, error) {
	for i, r := range radius {
		if r < 0 {
			return nil, fmt.Errorf("negative structuring element radius %d on axis %d", r, i)
		}
	}

	var se StructuringElement
	for dz := -radius[2]; dz <= radius[2]; dz++ {
		for dy := -radius[1]; dy <= radius[1]; dy++ {
			for dx := -radius[0]; dx <= radius[0]; dx++ {
				d := Offset{dx, dy, dz}
				sum := 0.0
				for i, r := range radius {
					if r > 0 {
						f := float64(d[i]) / float64(r)
						sum += f * f
					}
				}
				if sum <= 1 {
					se = append(se, d)
				}
			}
		}
	}
	sort.SliceStable(se, func(i, j int) bool {
		return norm2(se[i]) < norm2(se[j])
	})
	return se, nil
}

func norm2(o Offset) int {
	return o[0]*o[0] + o[1]*o[1] + o[2]*o[2]
}

// BinaryErode keeps a foreground voxel only if every structuring element
// neighbour inside the grid is foreground. Other voxels become background.
func BinaryErode(in *models.Volume, se StructuringElement, foreground, background float64) *models.Volume {
	return binaryMorph(in, se, foreground, background, true)
}

// BinaryDilate sets every voxel with a foreground structuring element neighbour to foreground
func BinaryDilate(in *models.Volume, se StructuringElement, foreground, background float64) *models.Volume {
	return binaryMorph(in, se, foreground, background, false)
}

// BinaryOpening is an erosion followed by a dilation
func BinaryOpening(in *models.Volume, se StructuringElement, foreground, background float64) *models.Volume {
	return BinaryDilate(BinaryErode(in, se, foreground, background), se, foreground, background)
}

func binaryMorph(in *models.Volume, se StructuringElement, foreground, background float64, erode bool) *models.Volume {
	out := models.NewVolumeLike(in, in.PixelType)
	parallelRange(in.Depth, func(zStart, zEnd int) {
		for z := zStart; z < zEnd; z++ {
			for y := 0; y < in.Height; y++ {
				for x := 0; x < in.Width; x++ {
					idx := in.Index(x, y, z)
					var on bool
					if erode {
						on = in.Data[idx] == foreground && allNeighbours(in, se, x, y, z, foreground)
					} else {
						on = anyNeighbour(in, se, x, y, z, foreground)
					}
					if on {
						out.Data[idx] = foreground
					} else {
						out.Data[idx] = background
					}
				}
			}
		}
	})
	return out
}

func allNeighbours(v *models.Volume, se StructuringElement, x, y, z int, value float64) bool {
	for _, o := range se {
		nx, ny, nz := x+o[0], y+o[1], z+o[2]
		if v.Contains(nx, ny, nz) && v.Data[v.Index(nx, ny, nz)] != value {
			return false
		}
	}
	return true
}

func anyNeighbour(v *models.Volume, se StructuringElement, x, y, z int, value float64) bool {
	for _, o := range se {
		nx, ny, nz := x+o[0], y+o[1], z+o[2]
		if v.Contains(nx, ny, nz) && v.Data[v.Index(nx, ny, nz)] == value {
			return true
		}
	}
	return false
}

// LabelErode erodes every non-zero label independently. A voxel keeps its
// label only if all structuring element neighbours inside the grid share it.
func LabelErode(in *models.Volume, se StructuringElement) *models.Volume {
	out := models.NewVolumeLike(in, in.PixelType)
	parallelRange(in.Depth, func(zStart, zEnd int) {
		for z := zStart; z < zEnd; z++ {
			for y := 0; y < in.Height; y++ {
				for x := 0; x < in.Width; x++ {
					idx := in.Index(x, y, z)
					if l := in.Data[idx]; l != 0 && allNeighbours(in, se, x, y, z, l) {
						out.Data[idx] = l
					}
				}
			}
		}
	})
	return out
}

// LabelDilate grows labels into background voxels. A background voxel takes
// the label of its nearest labelled structuring element neighbour.
func LabelDilate(in *models.Volume, se StructuringElement) *models.Volume {
	out := in.Clone()
	parallelRange(in.Depth, func(zStart, zEnd int) {
		for z := zStart; z < zEnd; z++ {
			for y := 0; y < in.Height; y++ {
				for x := 0; x < in.Width; x++ {
					idx := in.Index(x, y, z)
					if in.Data[idx] != 0 {
						continue
					}
					for _, o := range se {
						nx, ny, nz := x+o[0], y+o[1], z+o[2]
						if !in.Contains(nx, ny, nz) {
							continue
						}
						if l := in.Data[in.Index(nx, ny, nz)]; l != 0 {
							out.Data[idx] = l
							break
						}
					}
				}
			}
		}
	})
	return out
}

// LabelOpening opens every label independently and sets removed voxels to
// 0. Objects smaller than the structuring element disappear.
func LabelOpening(in *models.Volume, se StructuringElement) *models.Volume {
	eroded := LabelErode(in, se)
	out := models.NewVolumeLike(in, in.PixelType)
	parallelRange(in.Depth, func(zStart, zEnd int) {
		for z := zStart; z < zEnd; z++ {
			for y := 0; y < in.Height; y++ {
				for x := 0; x < in.Width; x++ {
					idx := in.Index(x, y, z)
					if l := in.Data[idx]; l != 0 && anyNeighbour(eroded, se, x, y, z, l) {
						out.Data[idx] = l
					}
				}
			}
		}
	})
	return out
}
