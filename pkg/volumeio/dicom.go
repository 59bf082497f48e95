package volumeio

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"volseg/internal/models"
)

// dicomSlice is one decoded DICOM frame with the metadata needed to stack it
type dicomSlice struct {
	plane     []float64
	pixelType models.PixelType
	width     int
	height    int
	instance  int
	position  []float64
	spacing   []float64
	thickness float64
}

func isDICOMFile(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".dcm")
}

// readDICOMFile decodes every frame of a DICOM file into slices
func readDICOMFile(path string) ([]dicomSlice, error) {
	ds, err := dicom.ParseFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DICOM file %s: %w", path, err)
	}

	pixelDataElement, err := ds.FindElementByTag(tag.PixelData)
	if err != nil {
		return nil, fmt.Errorf("DICOM file %s has no pixel data: %w", path, err)
	}
	info, ok := pixelDataElement.Value.GetValue().(dicom.PixelDataInfo)
	if !ok {
		return nil, fmt.Errorf("DICOM file %s: unexpected pixel data value", path)
	}

	instance := 0
	if values := dicomStrings(ds, tag.InstanceNumber); len(values) > 0 {
		instance, _ = strconv.Atoi(strings.TrimSpace(values[0]))
	} else if ints := dicomInts(ds, tag.InstanceNumber); len(ints) > 0 {
		instance = ints[0]
	}
	spacing := dicomFloats(ds, tag.PixelSpacing)
	position := dicomFloats(ds, tag.ImagePositionPatient)
	thickness := 0.0
	if t := dicomFloats(ds, tag.SliceThickness); len(t) > 0 {
		thickness = t[0]
	}

	var out []dicomSlice
	for i, fr := range info.Frames {
		img, err := fr.GetImage()
		if err != nil {
			return nil, fmt.Errorf("failed to decode frame %d of %s: %w", i, path, err)
		}
		plane, pixelType := imageToPlane(img)
		out = append(out, dicomSlice{
			plane:     plane,
			pixelType: pixelType,
			width:     img.Bounds().Dx(),
			height:    img.Bounds().Dy(),
			instance:  instance + i,
			position:  position,
			spacing:   spacing,
			thickness: thickness,
		})
	}
	return out, nil
}

func dicomStrings(ds dicom.Dataset, t tag.Tag) []string {
	elem, err := ds.FindElementByTag(t)
	if err != nil {
		return nil
	}
	values, _ := elem.Value.GetValue().([]string)
	return values
}

func dicomInts(ds dicom.Dataset, t tag.Tag) []int {
	elem, err := ds.FindElementByTag(t)
	if err != nil {
		return nil
	}
	values, _ := elem.Value.GetValue().([]int)
	return values
}

func dicomFloats(ds dicom.Dataset, t tag.Tag) []float64 {
	var out []float64
	for _, s := range dicomStrings(ds, t) {
		for _, part := range strings.Split(s, "\\") {
			v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
			if err == nil {
				out = append(out, v)
			}
		}
	}
	return out
}

// readDICOMSeries reads a single file or all .dcm files in a directory,
// ordered by instance number
func readDICOMSeries(files []string) (*models.Volume, error) {
	var slices []dicomSlice
	for _, f := range files {
		s, err := readDICOMFile(f)
		if err != nil {
			return nil, err
		}
		slices = append(slices, s...)
	}
	if len(slices) == 0 {
		return nil, fmt.Errorf("no DICOM frames found")
	}

	sort.SliceStable(slices, func(i, j int) bool { return slices[i].instance < slices[j].instance })

	first := slices[0]
	vol := models.NewVolume(first.width, first.height, len(slices), first.pixelType)
	plane := first.width * first.height
	for i, s := range slices {
		if s.width != first.width || s.height != first.height {
			return nil, fmt.Errorf("%w: DICOM frame %d is %dx%d", models.ErrDimensionMismatch, i, s.width, s.height)
		}
		if s.pixelType == models.UShort {
			vol.PixelType = models.UShort
		}
		copy(vol.Data[i*plane:], s.plane)
	}

	// PixelSpacing is row spacing (y) then column spacing (x)
	if len(first.spacing) == 2 {
		vol.Spacing[0] = first.spacing[1]
		vol.Spacing[1] = first.spacing[0]
	}
	if first.thickness > 0 {
		vol.Spacing[2] = first.thickness
	}
	if len(first.position) == 3 {
		copy(vol.Origin[:], first.position)
	}

	log.Debugf("Loaded DICOM series: %d frames of %dx%d", len(slices), first.width, first.height)
	return vol, nil
}

// dicomFilesIn lists the .dcm files of dir
func dicomFilesIn(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && isDICOMFile(entry.Name()) {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	return files, nil
}
