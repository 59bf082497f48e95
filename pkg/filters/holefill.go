package filters

import (
	"fmt"
	"sync"

	"volseg/internal/models"
)

// HoleFillingParams configures VotingBinaryIterativeHoleFilling
type HoleFillingParams struct {
	// Radius is the half size of the voting box along x, y and z
	Radius [3]int

	// Background voxels are candidates for filling
	Background float64

	// Foreground is the value that votes and the value written into holes
	Foreground float64

	// MajorityThreshold is the number of votes above half the
	// neighbourhood needed to fill a voxel
	MajorityThreshold int

	// MaxIterations bounds the number of passes
	MaxIterations int
}

// HoleFillingResult reports how the iteration ended
type HoleFillingResult struct {
	Iterations    int
	ChangedVoxels int
}

// VotingBinaryIterativeHoleFilling fills background voxels that are
// surrounded by enough foreground. A background voxel becomes foreground
// when at least (size-1)/2 + MajorityThreshold voxels of its box
// neighbourhood are foreground. Passes repeat until nothing changes or
// MaxIterations is reached. Voxels outside the grid replicate the border.
func VotingBinaryIterativeHoleFilling(in *models.Volume, p HoleFillingParams) (*models.Volume, HoleFillingResult, error) {
	var res HoleFillingResult
	for i, r := range p.Radius {
		if r < 0 {
			return nil, res, fmt.Errorf("negative hole filling radius %d on axis %d", r, i)
		}
	}
	if p.MaxIterations < 1 {
		return nil, res, fmt.Errorf("max iterations must be at least 1, got %d", p.MaxIterations)
	}
	if err := in.Validate(); err != nil {
		return nil, res, err
	}

	size := (2*p.Radius[0] + 1) * (2*p.Radius[1] + 1) * (2*p.Radius[2] + 1)
	birth := (size-1)/2 + p.MajorityThreshold

	cur := in.Clone()
	next := in.Clone()
	for res.Iterations < p.MaxIterations {
		changed := votingPass(cur, next, p, birth)
		res.Iterations++
		res.ChangedVoxels += changed
		cur, next = next, cur
		if changed == 0 {
			break
		}
		copy(next.Data, cur.Data)
	}
	return cur, res, nil
}

// votingPass reads src and writes the filled result into dst
func votingPass(src, dst *models.Volume, p HoleFillingParams, birth int) int {
	var mu sync.Mutex
	total := 0
	rx, ry, rz := p.Radius[0], p.Radius[1], p.Radius[2]

	parallelRange(src.Depth, func(zStart, zEnd int) {
		changed := 0
		for z := zStart; z < zEnd; z++ {
			for y := 0; y < src.Height; y++ {
				for x := 0; x < src.Width; x++ {
					idx := src.Index(x, y, z)
					if src.Data[idx] != p.Background {
						continue
					}
					votes := 0
					for dz := -rz; dz <= rz; dz++ {
						nz := clampInt(z+dz, 0, src.Depth-1)
						for dy := -ry; dy <= ry; dy++ {
							ny := clampInt(y+dy, 0, src.Height-1)
							row := src.Index(0, ny, nz)
							for dx := -rx; dx <= rx; dx++ {
								nx := clampInt(x+dx, 0, src.Width-1)
								if src.Data[row+nx] == p.Foreground {
									votes++
								}
							}
						}
					}
					if votes >= birth {
						dst.Data[idx] = p.Foreground
						changed++
					}
				}
			}
		}
		mu.Lock()
		total += changed
		mu.Unlock()
	})
	return total
}
