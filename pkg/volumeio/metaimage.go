package volumeio

import (
	"bufio"
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"volseg/internal/models"
)

// metaElementTypes maps MetaImage element types to their byte size
var metaElementTypes = map[string]int{
	"MET_UCHAR":  1,
	"MET_CHAR":   1,
	"MET_USHORT": 2,
	"MET_SHORT":  2,
	"MET_UINT":   4,
	"MET_INT":    4,
	"MET_FLOAT":  4,
	"MET_DOUBLE": 8,
}

// maxMetaSamples bounds the number of samples a MetaImage header may declare
const maxMetaSamples = math.MaxInt32

// metaHeader holds the parsed key/value pairs of a MetaImage header
type metaHeader struct {
	dims        []int
	spacing     []float64
	offset      []float64
	elementType string
	msb         bool
	compressed  bool
	dataFile    string
}

// readMetaImage reads a .mha (header and data in one file) or .mhd (header
// with a sidecar raw file) volume
func readMetaImage(path string) (*models.Volume, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := bufio.NewReader(file)
	hdr, err := parseMetaHeader(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to parse MetaImage header %s: %w", path, err)
	}

	var payload io.Reader = reader
	if hdr.dataFile != "LOCAL" {
		rawPath := hdr.dataFile
		if !filepath.IsAbs(rawPath) {
			rawPath = filepath.Join(filepath.Dir(path), rawPath)
		}
		raw, err := os.Open(rawPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open MetaImage data file: %w", err)
		}
		defer raw.Close()
		payload = bufio.NewReader(raw)
	}

	if hdr.compressed {
		zr, err := zlib.NewReader(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to open compressed MetaImage data: %w", err)
		}
		defer zr.Close()
		payload = zr
	}

	vol := &models.Volume{
		Width:   hdr.dims[0],
		Height:  hdr.dims[1],
		Depth:   1,
		Spacing: [3]float64{1, 1, 1},
	}
	if len(hdr.dims) > 2 {
		vol.Depth = hdr.dims[2]
	}
	for i := 0; i < 3 && i < len(hdr.spacing); i++ {
		vol.Spacing[i] = hdr.spacing[i]
	}
	for i := 0; i < 3 && i < len(hdr.offset); i++ {
		vol.Origin[i] = hdr.offset[i]
	}
	vol.PixelType = pixelTypeForMeta(hdr.elementType)

	size := metaElementTypes[hdr.elementType]
	buf := make([]byte, vol.Len()*size)
	if _, err := io.ReadFull(payload, buf); err != nil {
		return nil, fmt.Errorf("failed to read MetaImage data: %w", err)
	}

	var order binary.ByteOrder = binary.LittleEndian
	if hdr.msb {
		order = binary.BigEndian
	}
	vol.Data = decodeSamples(buf, hdr.elementType, order, vol.Len())

	return vol, nil
}

func parseMetaHeader(r *bufio.Reader) (*metaHeader, error) {
	hdr := &metaHeader{}
	for {
		line, err := r.ReadString('\n')
		if err != nil && (err != io.EOF || line == "") {
			return nil, fmt.Errorf("header ended before ElementDataFile")
		}
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch key {
		case "DimSize":
			ints, err := parseInts(value)
			if err != nil {
				return nil, fmt.Errorf("bad DimSize: %w", err)
			}
			hdr.dims = ints
		case "ElementSpacing", "ElementSize":
			floats, err := parseFloats(value)
			if err != nil {
				return nil, fmt.Errorf("bad %s: %w", key, err)
			}
			hdr.spacing = floats
		case "Offset", "Origin", "Position":
			floats, err := parseFloats(value)
			if err != nil {
				return nil, fmt.Errorf("bad %s: %w", key, err)
			}
			hdr.offset = floats
		case "ElementType":
			hdr.elementType = value
		case "BinaryDataByteOrderMSB", "ElementByteOrderMSB":
			hdr.msb = strings.EqualFold(value, "True")
		case "CompressedData":
			hdr.compressed = strings.EqualFold(value, "True")
		case "ElementNumberOfChannels":
			if value != "1" {
				return nil, fmt.Errorf("multi-channel MetaImage (%s channels) is not supported", value)
			}
		case "ElementDataFile":
			hdr.dataFile = value
			if len(hdr.dims) < 2 || len(hdr.dims) > 3 {
				return nil, fmt.Errorf("expected 2 or 3 dimensions, got %d", len(hdr.dims))
			}
			if err := checkMetaDims(hdr.dims); err != nil {
				return nil, err
			}
			if _, ok := metaElementTypes[hdr.elementType]; !ok {
				return nil, fmt.Errorf("%w: element type %q", ErrUnsupportedFormat, hdr.elementType)
			}
			return hdr, nil
		}
	}
}

// checkMetaDims rejects empty dimensions and sample counts beyond maxMetaSamples
func checkMetaDims(dims []int) error {
	n := 1
	for _, d := range dims {
		if d < 1 {
			return fmt.Errorf("bad DimSize %v: dimensions must be at least 1", dims)
		}
		if d > maxMetaSamples/n {
			return fmt.Errorf("bad DimSize %v: more than %d samples", dims, maxMetaSamples)
		}
		n *= d
	}
	return nil
}

func pixelTypeForMeta(elementType string) models.PixelType {
	switch elementType {
	case "MET_UCHAR":
		return models.UChar
	case "MET_USHORT":
		return models.UShort
	case "MET_UINT":
		return models.UInt
	default:
		return models.Float
	}
}

func decodeSamples(buf []byte, elementType string, order binary.ByteOrder, n int) []float64 {
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		switch elementType {
		case "MET_UCHAR":
			out[i] = float64(buf[i])
		case "MET_CHAR":
			out[i] = float64(int8(buf[i]))
		case "MET_USHORT":
			out[i] = float64(order.Uint16(buf[2*i:]))
		case "MET_SHORT":
			out[i] = float64(int16(order.Uint16(buf[2*i:])))
		case "MET_UINT":
			out[i] = float64(order.Uint32(buf[4*i:]))
		case "MET_INT":
			out[i] = float64(int32(order.Uint32(buf[4*i:])))
		case "MET_FLOAT":
			out[i] = float64(math.Float32frombits(order.Uint32(buf[4*i:])))
		case "MET_DOUBLE":
			out[i] = math.Float64frombits(order.Uint64(buf[8*i:]))
		}
	}
	return out
}

// writeMetaImage writes vol as MetaImage. For .mhd paths the samples go to a
// sidecar .raw file next to the header.
func writeMetaImage(path string, vol *models.Volume) error {
	elementType := metaElementType(vol.PixelType)
	dataFile := "LOCAL"
	if strings.EqualFold(filepath.Ext(path), ".mhd") {
		dataFile = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)) + ".raw"
	}

	var hdr bytes.Buffer
	fmt.Fprintf(&hdr, "ObjectType = Image\n")
	fmt.Fprintf(&hdr, "NDims = 3\n")
	fmt.Fprintf(&hdr, "BinaryData = True\n")
	fmt.Fprintf(&hdr, "BinaryDataByteOrderMSB = False\n")
	fmt.Fprintf(&hdr, "CompressedData = False\n")
	fmt.Fprintf(&hdr, "TransformMatrix = 1 0 0 0 1 0 0 0 1\n")
	fmt.Fprintf(&hdr, "Offset = %s\n", joinFloats(vol.Origin[:]))
	fmt.Fprintf(&hdr, "ElementSpacing = %s\n", joinFloats(vol.Spacing[:]))
	fmt.Fprintf(&hdr, "DimSize = %d %d %d\n", vol.Width, vol.Height, vol.Depth)
	fmt.Fprintf(&hdr, "ElementType = %s\n", elementType)
	fmt.Fprintf(&hdr, "ElementDataFile = %s\n", dataFile)

	payload := encodeSamples(vol, elementType)

	if dataFile == "LOCAL" {
		hdr.Write(payload)
		return os.WriteFile(path, hdr.Bytes(), 0644)
	}

	if err := os.WriteFile(path, hdr.Bytes(), 0644); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(filepath.Dir(path), dataFile), payload, 0644)
}

func metaElementType(p models.PixelType) string {
	switch p {
	case models.UChar:
		return "MET_UCHAR"
	case models.UShort:
		return "MET_USHORT"
	case models.UInt:
		return "MET_UINT"
	default:
		return "MET_FLOAT"
	}
}

func encodeSamples(vol *models.Volume, elementType string) []byte {
	size := metaElementTypes[elementType]
	buf := make([]byte, len(vol.Data)*size)
	lo, hi := vol.PixelType.Range()
	for i, v := range vol.Data {
		if elementType != "MET_FLOAT" {
			v = math.Round(clamp(v, lo, hi))
		}
		switch elementType {
		case "MET_UCHAR":
			buf[i] = uint8(v)
		case "MET_USHORT":
			binary.LittleEndian.PutUint16(buf[2*i:], uint16(v))
		case "MET_UINT":
			binary.LittleEndian.PutUint32(buf[4*i:], uint32(v))
		case "MET_FLOAT":
			binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(float32(v)))
		}
	}
	return buf
}

func parseInts(s string) ([]int, error) {
	fields := strings.Fields(s)
	out := make([]int, len(fields))
	for i, f := range fields {
		v, err := strconv.Atoi(f)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func parseFloats(s string) ([]float64, error) {
	fields := strings.Fields(s)
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func joinFloats(values []float64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strings.Join(parts, " ")
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
