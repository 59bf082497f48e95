// Package visualization renders segmentation volumes as slices, projections,
// pipeline panels, surface renderings and interactive charts.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"

	"volseg/internal/models"
)

// Viewer extracts slices and subregions of a volume for display
type Viewer struct {
	vol *models.Volume

	// lo and hi are the display window mapped to black and white
	lo, hi float64
}

// NewViewer creates a viewer whose display window spans the volume's value range
func NewViewer(vol *models.Volume) *Viewer {
	lo, hi := vol.MinMax()
	return &Viewer{vol: vol, lo: lo, hi: hi}
}

// SetWindow sets the values shown as black and white
func (v *Viewer) SetWindow(lo, hi float64) {
	v.lo, v.hi = lo, hi
}

// gray maps a sample to a 16-bit gray level inside the display window
func (v *Viewer) gray(value float64) color.Gray16 {
	if v.hi <= v.lo {
		if value > v.lo {
			return color.Gray16{Y: math.MaxUint16}
		}
		return color.Gray16{}
	}
	t := (value - v.lo) / (v.hi - v.lo)
	return color.Gray16{Y: uint16(math.Max(0, math.Min(math.MaxUint16, math.Round(t*math.MaxUint16))))}
}

// ExtractSlice extracts a 2D slice perpendicular to axis. X slices are laid
// out z by y, Y slices x by z and Z slices x by y.
func (v *Viewer) ExtractSlice(axis string, position int) (*image.Gray16, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}
	vol := v.vol

	var img *image.Gray16
	switch axis {
	case "x", "X":
		if position >= vol.Width {
			return nil, fmt.Errorf("position %d exceeds width %d", position, vol.Width)
		}
		img = image.NewGray16(image.Rect(0, 0, vol.Depth, vol.Height))
		for y := 0; y < vol.Height; y++ {
			for z := 0; z < vol.Depth; z++ {
				img.SetGray16(z, y, v.gray(vol.At(position, y, z)))
			}
		}

	case "y", "Y":
		if position >= vol.Height {
			return nil, fmt.Errorf("position %d exceeds height %d", position, vol.Height)
		}
		img = image.NewGray16(image.Rect(0, 0, vol.Width, vol.Depth))
		for z := 0; z < vol.Depth; z++ {
			for x := 0; x < vol.Width; x++ {
				img.SetGray16(x, z, v.gray(vol.At(x, position, z)))
			}
		}

	case "z", "Z":
		if position >= vol.Depth {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, vol.Depth)
		}
		img = image.NewGray16(image.Rect(0, 0, vol.Width, vol.Height))
		for y := 0; y < vol.Height; y++ {
			for x := 0; x < vol.Width; x++ {
				img.SetGray16(x, y, v.gray(vol.At(x, y, position)))
			}
		}

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	return img, nil
}

// ExtractRegion copies the box starting at start with the given size into a
// new volume that keeps its physical placement
func (v *Viewer) ExtractRegion(start, size [3]int) (*models.Volume, error) {
	if start[0] < 0 || start[1] < 0 || start[2] < 0 {
		return nil, fmt.Errorf("start coordinates must be non-negative")
	}
	if size[0] <= 0 || size[1] <= 0 || size[2] <= 0 {
		return nil, fmt.Errorf("size dimensions must be positive")
	}
	vol := v.vol
	if start[0]+size[0] > vol.Width || start[1]+size[1] > vol.Height || start[2]+size[2] > vol.Depth {
		return nil, fmt.Errorf("region extends beyond volume boundaries")
	}

	region := models.NewVolume(size[0], size[1], size[2], vol.PixelType)
	region.Spacing = vol.Spacing
	region.Origin = vol.IndexToPoint(float64(start[0]), float64(start[1]), float64(start[2]))
	for z := 0; z < size[2]; z++ {
		for y := 0; y < size[1]; y++ {
			src := vol.Index(start[0], start[1]+y, start[2]+z)
			dst := region.Index(0, y, z)
			copy(region.Data[dst:dst+size[0]], vol.Data[src:src+size[0]])
		}
	}
	return region, nil
}

// SaveSliceImage writes an extracted slice; the format follows the extension
func (v *Viewer) SaveSliceImage(img image.Image, filename string) error {
	return imaging.Save(img, filename, imaging.JPEGQuality(90))
}

// SaveSliceSequence extracts and saves every slice along the specified axis
// as numbered PNG files
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	var maxPos int
	switch axis {
	case "x", "X":
		maxPos = v.vol.Width
	case "y", "Y":
		maxPos = v.vol.Height
	case "z", "Z":
		maxPos = v.vol.Depth
	default:
		return fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	for pos := 0; pos < maxPos; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.png", axis, pos))
		if err := v.SaveSliceImage(img, filename); err != nil {
			return err
		}
	}

	return nil
}
