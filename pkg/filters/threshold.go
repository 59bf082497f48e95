package filters

import (
	"fmt"

	"volseg/internal/models"
)

// BinaryThreshold maps voxels in [lower, upper] to inside and all others to outside
func BinaryThreshold(in *models.Volume, lower, upper, inside, outside float64) (*models.Volume, error) {
	return BinaryThresholdInPlace(in.Clone(), lower, upper, inside, outside)
}

// BinaryThresholdInPlace thresholds vol in its own buffer and returns it
func BinaryThresholdInPlace(vol *models.Volume, lower, upper, inside, outside float64) (*models.Volume, error) {
	if lower > upper {
		return nil, fmt.Errorf("lower threshold %g exceeds upper threshold %g", lower, upper)
	}
	if err := vol.Validate(); err != nil {
		return nil, err
	}

	parallelRange(len(vol.Data), func(start, end int) {
		for i := start; i < end; i++ {
			if v := vol.Data[i]; v >= lower && v <= upper {
				vol.Data[i] = inside
			} else {
				vol.Data[i] = outside
			}
		}
	})
	return vol, nil
}

// MultiplyConstant returns a Float volume holding in * c
func MultiplyConstant(in *models.Volume, c float64) *models.Volume {
	out := models.NewVolumeLike(in, models.Float)
	parallelRange(len(in.Data), func(start, end int) {
		for i := start; i < end; i++ {
			out.Data[i] = in.Data[i] * c
		}
	})
	return out
}

// Clamp returns a Float volume with every value limited to [lo, hi]
func Clamp(in *models.Volume, lo, hi float64) (*models.Volume, error) {
	if lo > hi {
		return nil, fmt.Errorf("clamp bounds [%g, %g] are reversed", lo, hi)
	}
	out := models.NewVolumeLike(in, models.Float)
	parallelRange(len(in.Data), func(start, end int) {
		for i := start; i < end; i++ {
			v := in.Data[i]
			if v < lo {
				v = lo
			} else if v > hi {
				v = hi
			}
			out.Data[i] = v
		}
	})
	return out, nil
}
