package volumeio

import (
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"

	"volseg/internal/models"
)

func testVolume(pixelType models.PixelType) *models.Volume {
	vol := models.NewVolume(4, 3, 2, pixelType)
	for i := range vol.Data {
		vol.Data[i] = float64(i * 7 % 250)
	}
	vol.Spacing = [3]float64{0.5, 0.25, 2}
	vol.Origin = [3]float64{1, -2, 3}
	return vol
}

func TestMetaImageRoundTrip(t *testing.T) {
	dir := t.TempDir()

	for _, name := range []string{"vol.mha", "vol.mhd"} {
		for _, pt := range []models.PixelType{models.UChar, models.UShort, models.UInt, models.Float} {
			path := filepath.Join(dir, name)
			want := testVolume(pt)
			if pt == models.Float {
				want.Data[3] = -1.25
			}

			if err := Write(path, want); err != nil {
				t.Fatalf("Write(%s, %v) failed: %v", name, pt, err)
			}
			got, err := Read(path)
			if err != nil {
				t.Fatalf("Read(%s, %v) failed: %v", name, pt, err)
			}

			if !got.SameGrid(want) || got.Spacing != want.Spacing || got.Origin != want.Origin {
				t.Errorf("%s/%v: geometry mismatch: got %dx%dx%d %v %v", name, pt,
					got.Width, got.Height, got.Depth, got.Spacing, got.Origin)
			}
			if got.PixelType != pt {
				t.Errorf("%s: expected pixel type %v, got %v", name, pt, got.PixelType)
			}
			for i := range want.Data {
				if got.Data[i] != want.Data[i] {
					t.Fatalf("%s/%v: sample %d = %g, want %g", name, pt, i, got.Data[i], want.Data[i])
				}
			}
		}
	}

	if _, err := os.Stat(filepath.Join(dir, "vol.raw")); err != nil {
		t.Errorf("expected sidecar raw file for .mhd: %v", err)
	}
}

func TestMetaImageClampsIntegerTypes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clamped.mha")
	vol := models.NewVolume(3, 1, 1, models.UChar)
	vol.Data = []float64{-5, 300, 12.6}

	if err := Write(path, vol); err != nil {
		t.Fatal(err)
	}
	got, err := Read(path)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{0, 255, 13}
	for i := range want {
		if got.Data[i] != want[i] {
			t.Errorf("sample %d = %g, want %g", i, got.Data[i], want[i])
		}
	}
}

func TestImage2DRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plane.png")
	vol := models.NewVolume(5, 4, 1, models.UChar)
	for i := range vol.Data {
		vol.Data[i] = float64(i * 10)
	}

	if err := Write(path, vol); err != nil {
		t.Fatal(err)
	}
	got, err := Read(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Width != 5 || got.Height != 4 || got.Depth != 1 {
		t.Fatalf("unexpected size %dx%dx%d", got.Width, got.Height, got.Depth)
	}
	for i := range vol.Data {
		if got.Data[i] != vol.Data[i] {
			t.Fatalf("sample %d = %g, want %g", i, got.Data[i], vol.Data[i])
		}
	}
}

func TestImageSeriesRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stack.tif")
	vol := testVolume(models.UChar)

	if err := WriteSeries(path, vol); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "stack_001.tif")); err != nil {
		t.Fatalf("expected numbered series file: %v", err)
	}
	if !Exists(path) {
		t.Error("Exists should report the series")
	}

	got, err := Read(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Depth != vol.Depth {
		t.Fatalf("expected depth %d, got %d", vol.Depth, got.Depth)
	}
	for i := range vol.Data {
		if got.Data[i] != vol.Data[i] {
			t.Fatalf("sample %d = %g, want %g", i, got.Data[i], vol.Data[i])
		}
	}
}

func TestReadSliceDirectorySortsNumerically(t *testing.T) {
	dir := t.TempDir()
	// slice_10 must come after slice_2
	for _, n := range []int{10, 2, 1} {
		img := image.NewGray(image.Rect(0, 0, 2, 2))
		for i := range img.Pix {
			img.Pix[i] = uint8(n)
		}
		name := filepath.Join(dir, "slice_"+itoa(n)+".png")
		if err := imaging.Save(img, name); err != nil {
			t.Fatal(err)
		}
	}

	vol, err := Read(dir)
	if err != nil {
		t.Fatal(err)
	}
	if vol.Depth != 3 {
		t.Fatalf("expected 3 slices, got %d", vol.Depth)
	}
	for z, want := range []float64{1, 2, 10} {
		if got := vol.At(0, 0, z); got != want {
			t.Errorf("slice %d value %g, want %g", z, got, want)
		}
	}
}

func TestReadRGBImageConvertsToGray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rgb.png")
	img := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	img.Set(0, 0, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
	if err := imaging.Save(img, path); err != nil {
		t.Fatal(err)
	}

	vol, err := Read(path)
	if err != nil {
		t.Fatal(err)
	}
	if vol.Data[0] != 255 || vol.PixelType != models.UChar {
		t.Errorf("expected white gray pixel, got %g (%v)", vol.Data[0], vol.PixelType)
	}
}

func TestWritePreviewRescalesFloats(t *testing.T) {
	path := filepath.Join(t.TempDir(), "float.png")
	vol := models.NewVolume(3, 1, 2, models.Float)
	vol.Data = []float64{9, 9, 9, -2, 0, 2}
	if err := WritePreview(path, vol, 1); err != nil {
		t.Fatal(err)
	}
	got, err := Read(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Data[0] != 0 || got.Data[2] != 255 {
		t.Errorf("expected rescaled extremes 0 and 255, got %v", got.Data)
	}
	if err := WritePreview(path, vol, 2); err == nil {
		t.Error("expected an error for a slice outside the volume")
	}
}

func TestWriteRejectsLossyImageOutput(t *testing.T) {
	dir := t.TempDir()
	dmap := models.NewVolume(4, 4, 3, models.Float)
	for i := range dmap.Data {
		dmap.Data[i] = -3.5 + float64(i%7)
	}

	for name, vol := range map[string]*models.Volume{
		"distanceMap.tif": dmap,
		"plane.png":       dmap.Plane(0),
		"labels.png":      testVolume(models.UInt),
	} {
		path := filepath.Join(dir, name)
		if err := Write(path, vol); !errors.Is(err, ErrLossyFormat) {
			t.Errorf("Write(%s): expected ErrLossyFormat, got %v", name, err)
		}
		if Exists(path) {
			t.Errorf("Write(%s) left output behind", name)
		}
	}

	path := filepath.Join(dir, "distanceMap.mha")
	if err := Write(path, dmap); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected output at %s: %v", path, err)
	}
	got, err := Read(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.PixelType != models.Float {
		t.Errorf("expected float samples, got %v", got.PixelType)
	}
	lo, hi := got.MinMax()
	if lo != -3.5 || hi != 2.5 {
		t.Errorf("distance range [%g, %g], want [-3.5, 2.5]", lo, hi)
	}
}

func TestReadMultiPageTIFF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pages.tif")
	if err := imaging.Save(image.NewGray(image.Rect(0, 0, 2, 2)), path); err != nil {
		t.Fatal(err)
	}
	if _, err := Read(path); err != nil {
		t.Fatalf("single page TIFF: %v", err)
	}

	// link the first directory to itself as a second page
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	ifd := binary.LittleEndian.Uint32(data[4:])
	count := binary.LittleEndian.Uint16(data[ifd:])
	binary.LittleEndian.PutUint32(data[ifd+2+12*uint32(count):], ifd)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Read(path); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat for a multi-page TIFF, got %v", err)
	}
}

func TestReadMalformedMetaImage(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"negative": "DimSize = -2 1 1",
		"zero":     "DimSize = 4 0 1",
		"huge":     "DimSize = 100000 100000 100000",
		"one dim":  "DimSize = 8",
	}
	for name, dims := range cases {
		path := filepath.Join(dir, name+".mha")
		header := "ObjectType = Image\nNDims = 3\n" + dims + "\nElementType = MET_UCHAR\nElementDataFile = LOCAL\n"
		if err := os.WriteFile(path, []byte(header+"\x00\x00\x00\x00"), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := Read(path); err == nil {
			t.Errorf("%s: expected an error for %q", name, dims)
		}
	}
}

func TestReadAsClamps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.mha")
	vol := models.NewVolume(2, 1, 1, models.Float)
	vol.Data = []float64{-3, 400}
	if err := Write(path, vol); err != nil {
		t.Fatal(err)
	}
	got, err := ReadAs(path, models.UChar)
	if err != nil {
		t.Fatal(err)
	}
	if got.PixelType != models.UChar || got.Data[0] != 0 || got.Data[1] != 255 {
		t.Errorf("unexpected clamped volume %v %v", got.PixelType, got.Data)
	}
}

func TestUnsupportedFormat(t *testing.T) {
	dir := t.TempDir()
	vol := models.NewVolume(1, 1, 1, models.UChar)
	if err := Write(filepath.Join(dir, "x.nrrd"), vol); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat on write, got %v", err)
	}
	if _, err := Read(filepath.Join(dir, "x.nrrd")); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat on read, got %v", err)
	}
}

func TestReadMissingFile(t *testing.T) {
	if _, err := Read(filepath.Join(t.TempDir(), "missing.png")); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestExtractNumber(t *testing.T) {
	cases := map[string]int{
		"slice_001.png":      1,
		"/tmp/img42.jpg":     42,
		"no-digits-here.png": 0,
	}
	for name, want := range cases {
		if got := extractNumber(name); got != want {
			t.Errorf("extractNumber(%q) = %d, want %d", name, got, want)
		}
	}
}

func itoa(n int) string {
	return string(rune('0'+n/10)) + string(rune('0'+n%10))
}
