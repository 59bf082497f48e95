package filters

import (
	"fmt"
	"math"
	"sort"

	"volseg/internal/models"
)

// RelabelComponents renumbers the labels of in from 1 by decreasing voxel
// count, ties broken by the original label. Labels with fewer than minSize
// voxels become background. It returns the new volume and the label count.
func RelabelComponents(in *models.Volume, minSize int) (*models.Volume, int, error) {
	sizes := make(map[float64]int)
	for _, l := range in.Data {
		if l < 0 || l != math.Trunc(l) {
			return nil, 0, fmt.Errorf("invalid label value %g", l)
		}
		if l != 0 {
			sizes[l]++
		}
	}

	labels := make([]float64, 0, len(sizes))
	for l, n := range sizes {
		if n >= minSize {
			labels = append(labels, l)
		}
	}
	sort.Slice(labels, func(i, j int) bool {
		if sizes[labels[i]] != sizes[labels[j]] {
			return sizes[labels[i]] > sizes[labels[j]]
		}
		return labels[i] < labels[j]
	})

	mapping := make(map[float64]float64, len(labels))
	for i, l := range labels {
		mapping[l] = float64(i + 1)
	}

	out := models.NewVolumeLike(in, models.UInt)
	for i, l := range in.Data {
		out.Data[i] = mapping[l]
	}
	return out, len(labels), nil
}
