package filters

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"volseg/internal/models"
)

// volumeOf wraps data in a volume of the given size
func volumeOf(w, h, d int, data ...float64) *models.Volume {
	v := models.NewVolume(w, h, d, models.UChar)
	copy(v.Data, data)
	return v
}

func TestBinaryThresholdInPlace(t *testing.T) {
	vol := volumeOf(5, 1, 1, 5, 10, 30, 50, 51)
	buffer := &vol.Data[0]

	out, err := BinaryThresholdInPlace(vol, 10, 50, 255, 0)
	require.NoError(t, err)
	assert.Same(t, vol, out)
	assert.Same(t, buffer, &out.Data[0])
	assert.Equal(t, []float64{0, 255, 255, 255, 0}, out.Data)

	_, err = BinaryThresholdInPlace(vol, 50, 10, 255, 0)
	assert.Error(t, err)
}

func TestBinaryThresholdLeavesInput(t *testing.T) {
	vol := volumeOf(3, 1, 1, 1, 2, 3)
	out, err := BinaryThreshold(vol, 2, 2, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 0}, out.Data)
	assert.Equal(t, []float64{1, 2, 3}, vol.Data)
}

func TestMultiplyAndClamp(t *testing.T) {
	vol := volumeOf(3, 1, 1, 0, 1, 255)
	scaled := MultiplyConstant(vol, 255)
	assert.Equal(t, models.Float, scaled.PixelType)
	assert.Equal(t, []float64{0, 255, 65025}, scaled.Data)

	clamped, err := Clamp(scaled, 0, 255)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 255, 255}, clamped.Data)

	_, err = Clamp(scaled, 1, 0)
	assert.Error(t, err)
}

func TestHoleFillingFillsSurroundedVoxel(t *testing.T) {
	vol := models.NewVolume(5, 5, 1, models.UChar)
	for i := range vol.Data {
		vol.Data[i] = 255
	}
	vol.Set(2, 2, 0, 0)
	vol.Set(4, 4, 0, 7)

	out, res, err := VotingBinaryIterativeHoleFilling(vol, HoleFillingParams{
		Radius:            [3]int{1, 1, 0},
		Background:        0,
		Foreground:        255,
		MajorityThreshold: 2,
		MaxIterations:     10,
	})
	require.NoError(t, err)
	assert.Equal(t, 255.0, out.At(2, 2, 0))
	assert.Equal(t, 7.0, out.At(4, 4, 0), "voxels that are neither background nor foreground are kept")
	assert.Equal(t, 2, res.Iterations)
	assert.Equal(t, 1, res.ChangedVoxels)
	assert.Equal(t, 0.0, vol.At(2, 2, 0), "input must not change")
}

func TestHoleFillingGrowsIteratively(t *testing.T) {
	// A 3 voxel gap in a full row needs several passes
	vol := models.NewVolume(7, 3, 1, models.UChar)
	for i := range vol.Data {
		vol.Data[i] = 255
	}
	for x := 2; x <= 4; x++ {
		vol.Set(x, 1, 0, 0)
	}

	// Birth needs 7 votes: the gap ends fill first, the middle one in the second pass
	p := HoleFillingParams{Radius: [3]int{1, 1, 0}, Foreground: 255, MajorityThreshold: 3, MaxIterations: 10}
	out, res, err := VotingBinaryIterativeHoleFilling(vol, p)
	require.NoError(t, err)
	for x := 0; x < 7; x++ {
		assert.Equal(t, 255.0, out.At(x, 1, 0), "x=%d", x)
	}
	assert.Equal(t, 3, res.Iterations)
	assert.Equal(t, 3, res.ChangedVoxels)

	p.MaxIterations = 1
	out, res, err = VotingBinaryIterativeHoleFilling(vol, p)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Iterations)
	assert.Zero(t, out.At(3, 1, 0))
}

func TestHoleFillingRejectsBadParams(t *testing.T) {
	vol := models.NewVolume(2, 2, 2, models.UChar)
	_, _, err := VotingBinaryIterativeHoleFilling(vol, HoleFillingParams{Radius: [3]int{-1, 0, 0}, MaxIterations: 1})
	assert.Error(t, err)
	_, _, err = VotingBinaryIterativeHoleFilling(vol, HoleFillingParams{MaxIterations: 0})
	assert.Error(t, err)
}

func TestDistanceMapLine(t *testing.T) {
	vol := volumeOf(7, 1, 1, 0, 0, 255, 255, 255, 0, 0)

	out, err := SignedMaurerDistanceMap(vol, DistanceMapParams{})
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 1, 0, -1, 0, 1, 2}, out.Data)
	assert.Equal(t, models.Float, out.PixelType)

	out, err = SignedMaurerDistanceMap(vol, DistanceMapParams{InsideIsPositive: true, SquaredDistance: true})
	require.NoError(t, err)
	assert.Equal(t, []float64{-4, -1, 0, 1, 0, -1, -4}, out.Data)

	vol.Spacing = [3]float64{2, 1, 1}
	out, err = SignedMaurerDistanceMap(vol, DistanceMapParams{UseImageSpacing: true})
	require.NoError(t, err)
	assert.Equal(t, []float64{4, 2, 0, -2, 0, 2, 4}, out.Data)
}

func TestDistanceMapMatchesBruteForce(t *testing.T) {
	const size = 9
	vol := models.NewVolume(size, size, size, models.UChar)
	vol.Spacing = [3]float64{1, 1.5, 0.5}
	for z := 0; z < size; z++ {
		for y := 0; y < size; y++ {
			for x := 0; x < size; x++ {
				inBall := math.Pow(float64(x-3), 2)+math.Pow(float64(y-4), 2)+math.Pow(float64(z-4), 2) <= 7
				inBox := x >= 5 && x <= 7 && y >= 1 && y <= 3
				if inBall || inBox {
					vol.Set(x, y, z, 255)
				}
			}
		}
	}

	SetNumCores(3)
	defer SetNumCores(1)
	out, err := SignedMaurerDistanceMap(vol, DistanceMapParams{UseImageSpacing: true})
	require.NoError(t, err)

	inside := make([]bool, vol.Len())
	for i, v := range vol.Data {
		inside[i] = v != 0
	}
	var contour [][3]int
	for z := 0; z < size; z++ {
		for y := 0; y < size; y++ {
			for x := 0; x < size; x++ {
				if inside[vol.Index(x, y, z)] && onContour(vol, inside, x, y, z) {
					contour = append(contour, [3]int{x, y, z})
				}
			}
		}
	}
	require.NotEmpty(t, contour)

	for idx := range vol.Data {
		x, y, z := vol.Coords(idx)
		best := math.Inf(1)
		for _, c := range contour {
			d := sq(float64(x-c[0])*1) + sq(float64(y-c[1])*1.5) + sq(float64(z-c[2])*0.5)
			best = math.Min(best, d)
		}
		want := math.Sqrt(best)
		if inside[idx] {
			want = -want
		}
		if math.Abs(out.Data[idx]-want) > 1e-9 {
			t.Fatalf("voxel (%d,%d,%d): got %g want %g", x, y, z, out.Data[idx], want)
		}
	}
}

func TestDistanceMapWithoutContour(t *testing.T) {
	empty := models.NewVolume(2, 2, 2, models.UChar)
	out, err := SignedMaurerDistanceMap(empty, DistanceMapParams{})
	require.NoError(t, err)
	for _, v := range out.Data {
		assert.InDelta(t, math.Sqrt(12), v, 1e-12)
	}

	full := empty.Clone()
	for i := range full.Data {
		full.Data[i] = 1
	}
	out, err = SignedMaurerDistanceMap(full, DistanceMapParams{})
	require.NoError(t, err)
	for _, v := range out.Data {
		assert.InDelta(t, -math.Sqrt(12), v, 1e-12)
	}
}

func TestWatershedTwoBasins(t *testing.T) {
	vol := volumeOf(9, 1, 1, 0, 1, 2, 3, 4, 3, 2, 2, 2)

	out, res, err := Watershed(vol, WatershedParams{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Minima)
	assert.Equal(t, 2, res.Labels)
	assert.Equal(t, models.UInt, out.PixelType)
	for x := 0; x < 4; x++ {
		assert.Equal(t, 1.0, out.At(x, 0, 0), "x=%d", x)
	}
	for x := 5; x < 9; x++ {
		assert.Equal(t, 2.0, out.At(x, 0, 0), "x=%d", x)
	}
	assert.NotZero(t, out.At(4, 0, 0))

	// The pass is 2 above the shallower minimum and the range is 4
	_, res, err = Watershed(vol, WatershedParams{Level: 0.4})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Labels)

	out, res, err = Watershed(vol, WatershedParams{Level: 0.5})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Labels)
	for _, l := range out.Data {
		assert.Equal(t, 1.0, l)
	}
}

func TestWatershedThresholdRemovesShallowMinima(t *testing.T) {
	vol := volumeOf(9, 1, 1, 0, 3, 1, 3, 10, 3, 1, 3, 0)

	_, res, err := Watershed(vol, WatershedParams{})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Minima)

	// Floor at 3 flattens each side into one plateau
	_, res, err = Watershed(vol, WatershedParams{Threshold: 0.3})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Minima)
	assert.Equal(t, 2, res.Labels)

	_, res, err = Watershed(vol, WatershedParams{Threshold: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Labels)
}

func TestWatershedDeterministicAcrossCores(t *testing.T) {
	const size = 12
	vol := models.NewVolume(size, size, size, models.Float)
	for idx := range vol.Data {
		x, y, z := vol.Coords(idx)
		vol.Data[idx] = math.Sin(float64(x)*0.9) + math.Cos(float64(y)*0.7) + math.Sin(float64(z)*0.5)
	}

	SetNumCores(1)
	a, _, err := Watershed(vol, WatershedParams{Threshold: 0.01, Level: 0.1, FullyConnected: true})
	require.NoError(t, err)
	SetNumCores(4)
	defer SetNumCores(1)
	b, _, err := Watershed(vol, WatershedParams{Threshold: 0.01, Level: 0.1, FullyConnected: true})
	require.NoError(t, err)
	assert.Equal(t, a.Data, b.Data)
	for _, l := range a.Data {
		require.GreaterOrEqual(t, l, 1.0)
	}
}

func TestWatershedRejectsBadParams(t *testing.T) {
	vol := models.NewVolume(2, 2, 2, models.Float)
	_, _, err := Watershed(vol, WatershedParams{Threshold: -0.1})
	assert.Error(t, err)
	_, _, err = Watershed(vol, WatershedParams{Level: 1.5})
	assert.Error(t, err)

	out, res, err := Watershed(vol, WatershedParams{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Labels)
	assert.Equal(t, 1.0, out.Data[0])
}

func TestBallStructuringElement(t *testing.T) {
	se, err := BallStructuringElement([3]int{1, 1, 1})
	require.NoError(t, err)
	assert.Len(t, se, 7)
	assert.Equal(t, Offset{0, 0, 0}, se[0])

	se, err = BallStructuringElement([3]int{2, 2, 2})
	require.NoError(t, err)
	assert.Len(t, se, 33)

	se, err = BallStructuringElement([3]int{1, 1, 0})
	require.NoError(t, err)
	assert.Len(t, se, 5)
	for _, o := range se {
		assert.Zero(t, o[2])
	}

	_, err = BallStructuringElement([3]int{1, -1, 1})
	assert.Error(t, err)
}

func TestLabelOpening(t *testing.T) {
	vol := models.NewVolume(14, 10, 1, models.UInt)
	for y := 1; y <= 6; y++ {
		for x := 1; x <= 6; x++ {
			vol.Set(x, y, 0, 1)
		}
		// Label 3 touches label 1 along x = 7
		for x := 7; x <= 11; x++ {
			vol.Set(x, y, 0, 3)
		}
	}
	vol.Set(12, 8, 0, 2)

	se, err := BallStructuringElement([3]int{1, 1, 0})
	require.NoError(t, err)
	out := LabelOpening(vol, se)

	assert.Zero(t, out.At(12, 8, 0), "single voxel object should be removed")
	assert.Zero(t, out.At(1, 1, 0), "square corner should be removed")
	assert.Equal(t, 1.0, out.At(3, 3, 0))
	assert.Equal(t, 1.0, out.At(6, 3, 0), "touching labels are opened independently")
	assert.Equal(t, 3.0, out.At(7, 3, 0))
	assert.Equal(t, 3.0, out.At(9, 1, 0))

	// Binary opening of the same support cannot separate the labels
	bin := BinaryOpening(vol, se, 1, 0)
	assert.Zero(t, bin.At(7, 3, 0))
}

func TestLabelDilate(t *testing.T) {
	vol := models.NewVolume(5, 1, 1, models.UInt)
	vol.Set(0, 0, 0, 4)
	vol.Set(4, 0, 0, 9)
	se, err := BallStructuringElement([3]int{1, 0, 0})
	require.NoError(t, err)

	out := LabelDilate(vol, se)
	assert.Equal(t, []float64{4, 4, 0, 9, 9}, out.Data)
	assert.Equal(t, []float64{4, 0, 0, 0, 9}, LabelErode(out, se).Data)
}

func TestBinaryErodeDilate(t *testing.T) {
	vol := volumeOf(7, 1, 1, 0, 255, 255, 255, 0, 0, 255)
	se, err := BallStructuringElement([3]int{1, 0, 0})
	require.NoError(t, err)

	assert.Equal(t, []float64{0, 0, 255, 0, 0, 0, 0}, BinaryErode(vol, se, 255, 0).Data)
	assert.Equal(t, []float64{255, 255, 255, 255, 255, 255, 255}, BinaryDilate(vol, se, 255, 0).Data)
}

func TestRelabelComponents(t *testing.T) {
	vol := volumeOf(10, 1, 1, 5, 5, 5, 2, 2, 2, 2, 2, 9, 0)

	out, n, err := RelabelComponents(vol, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []float64{2, 2, 2, 1, 1, 1, 1, 1, 0, 0}, out.Data)

	vol.Data[0] = -1
	_, _, err = RelabelComponents(vol, 0)
	assert.Error(t, err)
}

func BenchmarkWatershed(b *testing.B) {
	const size = 32
	vol := models.NewVolume(size, size, size, models.Float)
	for idx := range vol.Data {
		x, y, z := vol.Coords(idx)
		vol.Data[idx] = math.Sin(float64(x)*0.4) * math.Cos(float64(y)*0.3) * math.Sin(float64(z)*0.2)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, _, err := Watershed(vol, WatershedParams{Threshold: 0.01, Level: 0.2}); err != nil {
			b.Fatal(err)
		}
	}
}
