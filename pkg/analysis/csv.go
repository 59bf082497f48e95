package analysis

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// ErrMissingColumn is returned when a statistics table lacks a required column
var ErrMissingColumn = errors.New("missing column")

var csvHeader = []string{"", "x", "y", "z", "volume"}

// WriteCSV writes stats with a leading row index column and the columns x, y, z and volume
func WriteCSV(w io.Writer, stats []LabelStats) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, s := range stats {
		record := []string{
			strconv.Itoa(s.Row),
			formatFloat(s.X),
			formatFloat(s.Y),
			formatFloat(s.Z),
			strconv.Itoa(s.Volume),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteCSVFile writes stats to path
func WriteCSVFile(path string, stats []LabelStats) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	if err := WriteCSV(file, stats); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// ReadCSV reads a statistics table. The x, y and volume columns are
// required; z and the leading index column are optional. A missing z is
// read as NaN. Labels are numbered from 1 in row order.
func ReadCSV(r io.Reader) ([]LabelStats, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	cols := map[string]int{"": -1, "x": -1, "y": -1, "z": -1, "volume": -1}
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if name == "unnamed: 0" {
			name = ""
		}
		if idx, ok := cols[name]; ok && idx < 0 {
			cols[name] = i
		}
	}
	for _, name := range []string{"x", "y", "volume"} {
		if cols[name] < 0 {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, name)
		}
	}

	var stats []LabelStats
	for line := 2; ; line++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		s := LabelStats{Row: len(stats), Label: len(stats) + 1, Z: math.NaN()}
		field := func(name string) (float64, error) {
			i := cols[name]
			if i >= len(record) {
				return 0, fmt.Errorf("line %d: %w: %s", line, ErrMissingColumn, name)
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(record[i]), 64)
			if err != nil {
				return 0, fmt.Errorf("line %d: column %s: %w", line, name, err)
			}
			return v, nil
		}

		if cols[""] >= 0 {
			row, err := field("")
			if err != nil {
				return nil, err
			}
			s.Row = int(row)
		}
		if s.X, err = field("x"); err != nil {
			return nil, err
		}
		if s.Y, err = field("y"); err != nil {
			return nil, err
		}
		if cols["z"] >= 0 {
			if s.Z, err = field("z"); err != nil {
				return nil, err
			}
		}
		volume, err := field("volume")
		if err != nil {
			return nil, err
		}
		s.Volume = int(math.Round(volume))
		s.PhysicalVolume = volume
		stats = append(stats, s)
	}
	return stats, nil
}

// ReadCSVFile reads the statistics table at path
func ReadCSVFile(path string) ([]LabelStats, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	stats, err := ReadCSV(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return stats, nil
}

func formatFloat(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eEn") {
		s += ".0"
	}
	return s
}
