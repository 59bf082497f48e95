// Package volumeio reads and writes volumes in the formats the drivers
// accept: MetaImage, common 2D image formats (single files or numbered
// series), directories of slices and DICOM series.
package volumeio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"

	"volseg/internal/models"
)

// ErrUnsupportedFormat is returned for paths whose format cannot be determined
var ErrUnsupportedFormat = errors.New("unsupported image format")

// ErrLossyFormat is returned when the output format cannot hold the volume
var ErrLossyFormat = errors.New("image format cannot hold volume")

// Read loads the volume stored at path
func Read(path string) (*models.Volume, error) {
	info, statErr := os.Stat(path)
	ext := strings.ToLower(filepath.Ext(path))

	var (
		vol *models.Volume
		err error
	)
	switch {
	case statErr == nil && info.IsDir():
		var dcm []string
		dcm, err = dicomFilesIn(path)
		if err != nil {
			return nil, err
		}
		if len(dcm) > 0 {
			vol, err = readDICOMSeries(dcm)
		} else {
			vol, err = readSliceDir(path)
		}
	case ext == ".mha" || ext == ".mhd":
		vol, err = readMetaImage(path)
	case ext == ".dcm":
		vol, err = readDICOMSeries([]string{path})
	case isImageFile(path):
		if statErr == nil {
			vol, err = readImage2D(path)
		} else if series := findSeries(path); len(series) > 0 {
			log.Debugf("Reading %s as a series of %d slices", path, len(series))
			vol, err = readImageFiles(series)
		} else {
			return nil, statErr
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	if err != nil {
		return nil, err
	}

	if err := vol.Validate(); err != nil {
		return nil, fmt.Errorf("invalid volume in %s: %w", path, err)
	}
	return vol, nil
}

// ReadAs loads the volume at path and records pixelType as its sample type,
// clamping samples into the type's range
func ReadAs(path string, pixelType models.PixelType) (*models.Volume, error) {
	vol, err := Read(path)
	if err != nil {
		return nil, err
	}
	if vol.PixelType != pixelType {
		lo, hi := pixelType.Range()
		for i, v := range vol.Data {
			vol.Data[i] = clamp(v, lo, hi)
		}
		vol.PixelType = pixelType
	}
	return vol, nil
}

// Write stores vol at path, choosing the format from the extension. A path
// without extension is treated as a slice directory. 2D image formats only
// take single-slice integer volumes; WriteSeries writes a numbered series.
func Write(path string, vol *models.Volume) error {
	if err := vol.Validate(); err != nil {
		return err
	}
	if err := CheckImageOutput(path, vol.PixelType, vol.Depth); err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	ext := strings.ToLower(filepath.Ext(path))
	var err error
	switch {
	case ext == ".mha" || ext == ".mhd":
		err = writeMetaImage(path, vol)
	case isImageFile(path):
		err = writeImage2D(path, vol)
	case ext == "":
		err = writeSliceDir(path, vol)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// Exists reports whether something readable exists at path, including a
// numbered image series
func Exists(path string) bool {
	if fileExists(path) {
		return true
	}
	return isImageFile(path) && len(findSeries(path)) > 0
}
