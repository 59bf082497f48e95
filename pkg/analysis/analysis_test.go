package analysis

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/plot/vg"

	"volseg/internal/models"
)

// labelVolume holds label 2 as a 2x2x2 cube at the origin and label 5 as a single voxel
func labelVolume() *models.Volume {
	vol := models.NewVolume(4, 4, 4, models.UInt)
	vol.Spacing = [3]float64{0.5, 0.5, 2}
	for z := 0; z < 2; z++ {
		for y := 0; y < 2; y++ {
			for x := 0; x < 2; x++ {
				vol.Set(x, y, z, 2)
			}
		}
	}
	vol.Set(3, 1, 3, 5)
	return vol
}

func TestComputeLabelStats(t *testing.T) {
	for _, cores := range []int{1, 3} {
		stats, err := ComputeLabelStats(labelVolume(), cores)
		require.NoError(t, err)

		want := []LabelStats{
			{Row: 0, Label: 2, X: 0.5, Y: 0.5, Z: 0.5, Volume: 8, PhysicalVolume: 4, Min: [3]int{0, 0, 0}, Max: [3]int{1, 1, 1}},
			{Row: 1, Label: 5, X: 3, Y: 1, Z: 3, Volume: 1, PhysicalVolume: 0.5, Min: [3]int{3, 1, 3}, Max: [3]int{3, 1, 3}},
		}
		if diff := cmp.Diff(want, stats); diff != "" {
			t.Errorf("cores=%d stats mismatch (-want +got):\n%s", cores, diff)
		}
	}

	bad := labelVolume()
	bad.Data[0] = 1.5
	_, err := ComputeLabelStats(bad, 1)
	assert.Error(t, err)
}

func TestCSVRoundTrip(t *testing.T) {
	stats, err := ComputeLabelStats(labelVolume(), 2)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, stats))
	assert.True(t, strings.HasPrefix(buf.String(), ",x,y,z,volume\n0,0.5,0.5,0.5,8\n"), buf.String())

	back, err := ReadCSV(&buf)
	require.NoError(t, err)
	opts := cmpopts.IgnoreFields(LabelStats{}, "Label", "PhysicalVolume", "Min", "Max")
	if diff := cmp.Diff(stats, back, opts); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestReadCSVWithoutIndexOrZ(t *testing.T) {
	src := "x,y,volume\n1.5,2,10.0\n3,4,20\n"
	stats, err := ReadCSV(strings.NewReader(src))
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, 1, stats[1].Row)
	assert.Equal(t, 2, stats[1].Label)
	assert.Equal(t, 10, stats[0].Volume)
	assert.True(t, math.IsNaN(stats[0].Z))
}

func TestReadCSVMissingColumn(t *testing.T) {
	_, err := ReadCSV(strings.NewReader(",x,z,volume\n0,1,2,3\n"))
	assert.True(t, errors.Is(err, ErrMissingColumn), "got %v", err)

	_, err = ReadCSV(strings.NewReader("x,y,volume\n1,2\n"))
	assert.True(t, errors.Is(err, ErrMissingColumn), "got %v", err)

	_, err = ReadCSV(strings.NewReader("x,y,volume\n1,abc,3\n"))
	assert.Error(t, err)
}

func TestSample(t *testing.T) {
	stats := make([]LabelStats, 20)
	for i := range stats {
		stats[i] = LabelStats{Row: i, Label: i + 1, Volume: i}
	}

	a := Sample(stats, 5, 42)
	b := Sample(stats, 5, 42)
	require.Len(t, a, 5)
	assert.Equal(t, a, b, "same seed gives the same sample")

	seen := make(map[int]bool)
	for _, s := range a {
		assert.False(t, seen[s.Row], "row %d drawn twice", s.Row)
		seen[s.Row] = true
	}

	assert.Len(t, Sample(stats[:3], 5, 1), 3)
	assert.Empty(t, Sample(nil, 5, 1))
}

func TestKernelDensity(t *testing.T) {
	values := []float64{10, 12, 11, 30, 31, 29, 50}
	d, err := KernelDensity(values, 400)
	require.NoError(t, err)
	require.Len(t, d.X, 400)

	// The curve should integrate to roughly one over its span
	area := 0.0
	for i := 1; i < len(d.X); i++ {
		area += (d.X[i] - d.X[i-1]) * (d.Y[i] + d.Y[i-1]) / 2
	}
	assert.InDelta(t, 1, area, 0.05)
	assert.InDelta(t, -10, d.X[0], 1e-9)
	assert.InDelta(t, 70, d.X[len(d.X)-1], 1e-9)

	single, err := KernelDensity([]float64{5}, 10)
	require.NoError(t, err)
	assert.Equal(t, 1.0, single.Bandwidth)

	_, err = KernelDensity(nil, 10)
	assert.Error(t, err)
}

func TestHexbinCounts(t *testing.T) {
	x := []float64{0, 0.1, 9.9, 10, 5}
	y := []float64{0, 0, 10, 10, 5}
	g, err := HexbinCounts(x, y, 5)
	require.NoError(t, err)

	c, r := g.Dims()
	assert.Equal(t, 5, c)
	assert.Equal(t, 5, r)
	assert.Equal(t, 2, g.Counts[0][0])
	assert.Equal(t, 2, g.Counts[4][4], "upper edge falls in the last cell")
	assert.Equal(t, 1, g.Counts[2][2])
	assert.Equal(t, 2, g.Max())
	assert.InDelta(t, 1, g.X(0), 1e-12)

	_, err = HexbinCounts(x, y[:2], 5)
	assert.Error(t, err)
}

func TestCompare(t *testing.T) {
	training := []LabelStats{
		{X: 0, Y: 0, Z: 0, Volume: 10},
		{X: 10, Y: 0, Z: 0, Volume: 50},
		{X: 0, Y: 10, Z: 0, Volume: 1000},
	}
	detected := []LabelStats{
		{X: 1, Y: 0, Z: 0, Volume: 10},
		{X: 10, Y: 3, Z: 4, Volume: 1000},
		{X: 0, Y: 0, Z: 0, Volume: 100000},
	}

	cmpRes, err := Compare(detected, training, 2)
	require.NoError(t, err)
	if diff := cmp.Diff([]float64{1, 2, 3}, cmpRes.Edges, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("edges mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []float64{2, 1}, cmpRes.Training)
	assert.Equal(t, []float64{1, 1}, cmpRes.Detected, "volumes outside the training range are not counted")
	if diff := cmp.Diff([]float64{1, 5, 0}, cmpRes.Nearest, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Errorf("nearest distances mismatch (-want +got):\n%s", diff)
	}
	assert.InDelta(t, 2, cmpRes.MeanNearest, 1e-12)

	// Without z the comparison falls back to 2D
	detected[1].Z = math.NaN()
	cmpRes, err = Compare(detected, training, 2)
	require.NoError(t, err)
	assert.InDelta(t, 3, cmpRes.Nearest[1], 1e-12)

	_, err = Compare(detected, nil, 2)
	assert.Error(t, err)
}

func TestPlotsAreWritten(t *testing.T) {
	dir := t.TempDir()
	stats, err := ComputeLabelStats(labelVolume(), 1)
	require.NoError(t, err)

	d, err := KernelDensity(Volumes(stats), 50)
	require.NoError(t, err)
	densityPath := filepath.Join(dir, "density.png")
	require.NoError(t, SaveDensityPlot(d, 4*vg.Inch, 4*vg.Inch, densityPath))

	g, err := HexbinCounts([]float64{stats[0].X, stats[1].X}, []float64{stats[0].Y, stats[1].Y}, 5)
	require.NoError(t, err)
	centersPath := filepath.Join(dir, "centers.png")
	require.NoError(t, SaveCentersPlot(g, 4*vg.Inch, 4*vg.Inch, centersPath))

	c, err := Compare(stats, stats, 20)
	require.NoError(t, err)
	comparisonPath := filepath.Join(dir, "comparison.png")
	require.NoError(t, SaveComparisonPlot(c, stats, stats, 4*vg.Inch, 4*vg.Inch, comparisonPath))

	for _, path := range []string{densityPath, centersPath, comparisonPath} {
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Greater(t, info.Size(), int64(0), path)
	}
}

func TestStore(t *testing.T) {
	store, err := OpenStore(filepath.Join(t.TempDir(), "stats.db"))
	require.NoError(t, err)
	defer store.Close()

	stats, err := ComputeLabelStats(labelVolume(), 1)
	require.NoError(t, err)
	stats[1].Z = math.NaN()

	runID, err := store.RecordRun("clean.mha", stats)
	require.NoError(t, err)
	assert.Len(t, runID, 36)

	runs, err := store.Runs()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "clean.mha", runs[0].Source)
	assert.Equal(t, 2, runs[0].LabelCount)

	back, err := store.RunStats(runID)
	require.NoError(t, err)
	opts := []cmp.Option{cmpopts.IgnoreFields(LabelStats{}, "Min", "Max"), cmpopts.EquateNaNs()}
	if diff := cmp.Diff(stats, back, opts...); diff != "" {
		t.Errorf("stored stats mismatch (-want +got):\n%s", diff)
	}
}
