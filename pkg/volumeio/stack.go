package volumeio

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	log "github.com/sirupsen/logrus"

	"volseg/internal/models"
)

// loadSlices loads the 2D images of a directory (or an explicit file list)
// sorted by the number embedded in each file name. The proper ordering of
// slices preserves the spatial relationship between adjacent planes.
func loadSlices(files []string) ([]models.Slice, error) {
	sort.SliceStable(files, func(i, j int) bool {
		return extractNumber(files[i]) < extractNumber(files[j])
	})

	slices := make([]models.Slice, 0, len(files))
	for i, filename := range files {
		img, err := loadImage(filename)
		if err != nil {
			return nil, fmt.Errorf("failed to load image %s: %w", filename, err)
		}

		// We assume all slices have the same dimensions
		if len(slices) > 0 && img.Bounds().Size() != slices[0].Image.Bounds().Size() {
			return nil, fmt.Errorf("%w: slice %s is %v, expected %v", models.ErrDimensionMismatch,
				filename, img.Bounds().Size(), slices[0].Image.Bounds().Size())
		}

		slices = append(slices, models.Slice{
			Image:     img,
			Index:     i,
			Filename:  filename,
			Thickness: 1,
			Position:  float64(i),
		})
	}
	return slices, nil
}

// extractNumber extracts the numeric part from a filename
func extractNumber(filename string) int {
	base := filepath.Base(filename)
	numStr := ""
	for _, c := range base {
		if c >= '0' && c <= '9' {
			numStr += string(c)
		}
	}

	if numStr != "" {
		num, err := strconv.Atoi(numStr)
		if err == nil {
			return num
		}
	}
	return 0
}

// slicesToVolume stacks loaded slices along z
func slicesToVolume(slices []models.Slice) *models.Volume {
	bounds := slices[0].Image.Bounds()
	vol := models.NewVolume(bounds.Dx(), bounds.Dy(), len(slices), models.UChar)
	plane := vol.Width * vol.Height
	for i, s := range slices {
		data, pixelType := imageToPlane(s.Image)
		if pixelType == models.UShort {
			vol.PixelType = models.UShort
		}
		copy(vol.Data[i*plane:], data)
	}
	if len(slices) > 1 {
		vol.Spacing[2] = slices[1].Position - slices[0].Position
	}
	return vol
}

// readImageFiles stacks a list of 2D image files into a volume
func readImageFiles(files []string) (*models.Volume, error) {
	slices, err := loadSlices(files)
	if err != nil {
		return nil, err
	}
	log.Debugf("Loaded %d slices with dimensions %dx%d", len(slices),
		slices[0].Image.Bounds().Dx(), slices[0].Image.Bounds().Dy())
	return slicesToVolume(slices), nil
}

// readSliceDir reads every 2D image in dir as one slice
func readSliceDir(dir string) (*models.Volume, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && isImageFile(entry.Name()) {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no images found in directory %s", dir)
	}
	return readImageFiles(files)
}

// writeSliceDir writes every z plane of vol as slice_NNN.png in dir
func writeSliceDir(dir string, vol *models.Volume) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create slice directory: %w", err)
	}
	return WriteSeries(filepath.Join(dir, "slice.png"), vol)
}
