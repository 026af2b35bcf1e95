package cluster

import (
	"github.com/RoaringBitmap/roaring"
)

// DistanceCache stores leaf-to-leaf distances for one clustering run,
// addressed by the row indices assigned at clustering start. Only the upper
// triangle is kept. A nil cache is valid and never stores anything.
type DistanceCache struct {
	n      int
	dist   []float64
	filled *roaring.Bitmap
}

// NewDistanceCache allocates a cache for n rows.
func NewDistanceCache(n int) *DistanceCache {
	size := 0
	if n > 1 {
		size = n * (n - 1) / 2
	}
	return &DistanceCache{
		n:      n,
		dist:   make([]float64, size),
		filled: roaring.New(),
	}
}

// condensedIndex returns the index in the condensed distance array for pair (i, j), i != j.
func condensedIndex(n, i, j int) int {
	if i > j {
		i, j = j, i
	}
	return n*i - i*(i+1)/2 + j - i - 1
}

// Get returns the stored distance for the unordered pair (i, j) and whether it was set.
func (c *DistanceCache) Get(i, j int) (float64, bool) {
	if c == nil || i == j {
		return 0, false
	}
	idx := condensedIndex(c.n, i, j)
	if !c.filled.Contains(uint32(idx)) {
		return 0, false
	}
	return c.dist[idx], true
}

// Set stores the distance for the unordered pair (i, j).
func (c *DistanceCache) Set(i, j int, d float64) {
	if c == nil || i == j {
		return
	}
	idx := condensedIndex(c.n, i, j)
	c.dist[idx] = d
	c.filled.Add(uint32(idx))
}

// Len returns the number of stored pairs.
func (c *DistanceCache) Len() int {
	if c == nil {
		return 0
	}
	return int(c.filled.GetCardinality())
}
