package volumeio

import (
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	log "github.com/sirupsen/logrus"

	"volseg/internal/models"
)

// imageExtensions lists the 2D formats handled through imaging
var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".tif":  true,
	".tiff": true,
	".bmp":  true,
	".gif":  true,
}

func isImageFile(path string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(path))]
}

// loadImage loads a 2D image from a file
func loadImage(path string) (image.Image, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, err
	}
	return img, nil
}

// imageToPlane converts a single image to gray samples. 16-bit gray images
// keep their full range, everything else is reduced to 8-bit luminance.
func imageToPlane(img image.Image) ([]float64, models.PixelType) {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	result := make([]float64, width*height)

	switch src := img.(type) {
	case *image.Gray16:
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				result[y*width+x] = float64(src.Gray16At(bounds.Min.X+x, bounds.Min.Y+y).Y)
			}
		}
		return result, models.UShort
	case *image.Gray:
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				result[y*width+x] = float64(src.GrayAt(bounds.Min.X+x, bounds.Min.Y+y).Y)
			}
		}
		return result, models.UChar
	}

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			g := color.GrayModel.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.Gray)
			result[y*width+x] = float64(g.Y)
		}
	}
	return result, models.UChar
}

// readImage2D reads a single 2D image as a depth-1 volume
func readImage2D(path string) (*models.Volume, error) {
	if ext := strings.ToLower(filepath.Ext(path)); ext == ".tif" || ext == ".tiff" {
		if err := checkSinglePageTIFF(path); err != nil {
			return nil, err
		}
	}
	img, err := loadImage(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load image %s: %w", path, err)
	}
	plane, pixelType := imageToPlane(img)
	bounds := img.Bounds()
	vol := models.NewVolume(bounds.Dx(), bounds.Dy(), 1, pixelType)
	vol.Data = plane
	return vol, nil
}

// checkSinglePageTIFF fails for TIFF files with more than one image file
// directory, which the decoder would silently reduce to the first page
func checkSinglePageTIFF(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	var head [8]byte
	if _, err := io.ReadFull(file, head[:]); err != nil {
		return fmt.Errorf("failed to read TIFF header %s: %w", path, err)
	}
	var order binary.ByteOrder
	switch string(head[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return fmt.Errorf("%s is not a TIFF file", path)
	}
	if order.Uint16(head[2:]) != 42 {
		return fmt.Errorf("%w: %s is not a classic TIFF", ErrUnsupportedFormat, path)
	}

	ifd := int64(order.Uint32(head[4:]))
	var count [2]byte
	if _, err := file.ReadAt(count[:], ifd); err != nil {
		return fmt.Errorf("failed to read TIFF directory %s: %w", path, err)
	}
	var next [4]byte
	if _, err := file.ReadAt(next[:], ifd+2+12*int64(order.Uint16(count[:]))); err != nil {
		return fmt.Errorf("failed to read TIFF directory %s: %w", path, err)
	}
	if order.Uint32(next[:]) != 0 {
		return fmt.Errorf("%w: %s has more than one page; store volumes as .mha or .mhd", ErrUnsupportedFormat, path)
	}
	return nil
}

// planeToImage converts plane z of vol to an image suitable for its pixel type.
// Float planes are rescaled with the given window, integer planes are clamped.
func planeToImage(vol *models.Volume, z int, lo, hi float64) image.Image {
	width, height := vol.Width, vol.Height
	offset := z * width * height

	if vol.PixelType == models.UShort || (vol.PixelType == models.UInt && hi > math.MaxUint8) {
		img := image.NewGray16(image.Rect(0, 0, width, height))
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				v := clamp(math.Round(vol.Data[offset+y*width+x]), 0, math.MaxUint16)
				img.SetGray16(x, y, color.Gray16{Y: uint16(v)})
			}
		}
		return img
	}

	img := image.NewGray(image.Rect(0, 0, width, height))
	scale := 1.0
	shift := 0.0
	if vol.PixelType == models.Float && hi > lo {
		scale = 255 / (hi - lo)
		shift = lo
	}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := (vol.Data[offset+y*width+x] - shift) * scale
			img.SetGray(x, y, color.Gray{Y: uint8(clamp(math.Round(v), 0, 255))})
		}
	}
	return img
}

// CheckImageOutput reports whether a 2D image at path can hold samples of
// pixelType and depth without loss. Paths that are not 2D images always pass.
func CheckImageOutput(path string, pixelType models.PixelType, depth int) error {
	if !isImageFile(path) {
		return nil
	}
	if depth > 1 {
		return fmt.Errorf("%w: %s holds a single slice, the volume has %d; use .mha or .mhd", ErrLossyFormat, path, depth)
	}
	if pixelType == models.Float {
		return fmt.Errorf("%w: %s cannot hold float samples; use .mha or .mhd", ErrLossyFormat, path)
	}
	return nil
}

// writeImage2D writes a depth-1 integer volume to path
func writeImage2D(path string, vol *models.Volume) error {
	lo, hi := vol.MinMax()
	if vol.PixelType == models.UInt && hi > math.MaxUint16 {
		log.Warnf("Label values up to %g do not fit a 16-bit image, they will be clamped in %s", hi, path)
	}
	return imaging.Save(planeToImage(vol, 0, lo, hi), path, imaging.JPEGQuality(90))
}

// WriteSeries writes every z plane of vol as a numbered series
// <stem>_NNN<ext> next to path. Float samples are rescaled to 8 bits over
// the volume's range.
func WriteSeries(path string, vol *models.Volume) error {
	if err := vol.Validate(); err != nil {
		return err
	}
	if !isImageFile(path) {
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	lo, hi := vol.MinMax()
	if vol.PixelType == models.Float {
		log.Debugf("Rescaling float samples [%g, %g] to 8 bits for %s", lo, hi, path)
	}
	for z := 0; z < vol.Depth; z++ {
		if err := imaging.Save(planeToImage(vol, z, lo, hi), seriesName(path, z), imaging.JPEGQuality(90)); err != nil {
			return fmt.Errorf("failed to write slice %d: %w", z, err)
		}
	}
	log.Debugf("Wrote %d slices as series %s", vol.Depth, seriesName(path, 0))
	return nil
}

// WritePreview writes plane z of vol as a display image. Float samples are
// rescaled to 8 bits over the plane's range.
func WritePreview(path string, vol *models.Volume, z int) error {
	if z < 0 || z >= vol.Depth {
		return fmt.Errorf("slice %d outside depth %d", z, vol.Depth)
	}
	plane := vol.Plane(z)
	lo, hi := plane.MinMax()
	return imaging.Save(planeToImage(plane, 0, lo, hi), path, imaging.JPEGQuality(90))
}

// seriesName returns the file name of slice z of a numbered series
func seriesName(path string, z int) string {
	ext := filepath.Ext(path)
	return fmt.Sprintf("%s_%03d%s", strings.TrimSuffix(path, ext), z, ext)
}

// findSeries returns the files of the numbered series belonging to path in slice order
func findSeries(path string) []string {
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	matches, err := filepath.Glob(stem + "_*" + ext)
	if err != nil {
		return nil
	}

	type entry struct {
		name string
		num  int
	}
	var entries []entry
	for _, m := range matches {
		suffix := strings.TrimSuffix(strings.TrimPrefix(m, stem+"_"), ext)
		n, err := strconv.Atoi(suffix)
		if err != nil {
			continue
		}
		entries = append(entries, entry{m, n})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].num < entries[j].num })

	files := make([]string, len(entries))
	for i, e := range entries {
		files[i] = e.name
	}
	return files
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
