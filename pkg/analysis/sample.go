package analysis

import (
	"math/rand/v2"
	"time"
)

// Sample picks n rows of stats without replacement. All rows are returned,
// shuffled, when there are fewer than n. A zero seed uses the clock.
func Sample(stats []LabelStats, n int, seed int64) []LabelStats {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewPCG(uint64(seed), uint64(seed)>>32|1))
	perm := rng.Perm(len(stats))
	if n > len(perm) {
		n = len(perm)
	}
	if n < 0 {
		n = 0
	}
	out := make([]LabelStats, n)
	for i := 0; i < n; i++ {
		out[i] = stats[perm[i]]
	}
	return out
}
