package database

import (
	"github.com/TobiSchelling/hiercluster/internal/cluster"
	"github.com/TobiSchelling/hiercluster/internal/table"
)

// Run is the stored summary of one clustering run.
type Run struct {
	ID             int64
	RunID          string
	Source         *string
	NumClusters    int
	Linkage        string
	Distance       string
	CacheDistances bool
	Columns        []string
	RowCount       int
	ResultClusters int
	Fallback       bool
	DurationMS     int64
	CreatedAt      *string
}

// RunStats holds the work counters of a stored run.
type RunStats struct {
	Merges               int
	DistanceComputations int
	CacheHits            int
	CacheMisses          int
}

// StoredRun is a run rebuilt from the database: input rows in their
// original order, their cluster labels, the fusion curve and the dendrogram.
type StoredRun struct {
	Run
	Stats      RunStats
	Input      *table.Table
	Labels     []string
	Fusion     cluster.FusionCurve
	Dendrogram *cluster.Dendrogram
	// Root is NoNode when the run had no rows.
	Root cluster.NodeID
}

// ClusterSize is the number of rows carrying one cluster label.
type ClusterSize struct {
	Label string
	Size  int
}

// Stats contains aggregate database statistics.
type Stats struct {
	Runs        int
	Rows        int
	FusionSteps int
	LastRun     *string
}
