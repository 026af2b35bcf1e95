package cluster

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/hiercluster/internal/settings"
)

func TestCutMatchesSnapshot(t *testing.T) {
	tbl := pointsTable(samplePoints)
	n := tbl.Len()

	for _, linkage := range []string{"SINGLE", "AVERAGE", "COMPLETE"} {
		for k := 1; k <= n; k++ {
			res, err := Cluster(context.Background(), tbl, Options{
				NumClusters: k,
				Linkage:     linkage,
				Logger:      nullLogger(),
			})
			require.NoError(t, err)

			got := Cut(res.Dendrogram, res.Root, k)
			require.Len(t, got, n)
			assert.Equal(t, partition(res.Assignments), partition(got), "%s k=%d", linkage, k)
		}
	}
}

func TestCutLabelsByFirstAppearance(t *testing.T) {
	res, err := Cluster(context.Background(), pointsTable(line(0, 1, 2, 3)), Options{
		NumClusters: 3,
		Logger:      nullLogger(),
	})
	require.NoError(t, err)

	// engine labels by working-set position, Cut by row order
	assert.Equal(t, []int{2, 2, 0, 1}, res.Assignments)
	assert.Equal(t, []int{0, 0, 1, 2}, Cut(res.Dendrogram, res.Root, 3))
}

func TestCutBounds(t *testing.T) {
	res, err := Cluster(context.Background(), pointsTable(line(1, 2, 10, 11)), Options{
		NumClusters: 2,
		Logger:      nullLogger(),
	})
	require.NoError(t, err)

	// more clusters than rows falls back to the final state, like Cluster
	assert.Equal(t, []int{0, 0, 0, 0}, Cut(res.Dendrogram, res.Root, 10))
	assert.Equal(t, []int{0, 1, 2, 3}, Cut(res.Dendrogram, res.Root, 4))
	assert.Equal(t, []int{0, 0, 0, 0}, Cut(res.Dendrogram, res.Root, 1))
	assert.Equal(t, []int{0, 0, 0, 0}, Cut(res.Dendrogram, res.Root, 0))
	assert.Nil(t, Cut(res.Dendrogram, NoNode, 2))
}

func TestCutSubtree(t *testing.T) {
	res, err := Cluster(context.Background(), pointsTable(line(1, 2, 10, 11)), Options{
		NumClusters: 2,
		Logger:      nullLogger(),
	})
	require.NoError(t, err)

	// left child of the root holds rows 0 and 1
	sub := res.Dendrogram.Left(res.Root)
	got := Cut(res.Dendrogram, sub, 2)
	assert.Equal(t, []int{0, 1}, got)
}

func TestCutLoadedTreeKeepsTieOrder(t *testing.T) {
	// rows 0,1 and rows 2,3 both merge at 1; the first pair merges first
	tbl := pointsTable(line(0, 1, 100, 101, 50))
	n := tbl.Len()

	for _, linkage := range []string{"SINGLE", "AVERAGE", "COMPLETE"} {
		res, err := Cluster(context.Background(), tbl, Options{NumClusters: 4, Linkage: linkage, Logger: nullLogger()})
		require.NoError(t, err)

		s := settings.New("dendrogram")
		SaveDendrogram(res.Dendrogram, res.Root, s)
		data, err := settings.Encode(s)
		require.NoError(t, err)
		decoded, err := settings.Decode("dendrogram", data)
		require.NoError(t, err)
		loaded, root, err := LoadDendrogram(decoded, tbl)
		require.NoError(t, err)

		assert.Equal(t, []int{0, 0, 1, 2, 3}, Cut(loaded, root, 4), linkage)
		assert.Equal(t, partition(res.Assignments), partition(Cut(loaded, root, 4)), linkage)
		for k := 1; k <= n; k++ {
			assert.Equal(t, Cut(res.Dendrogram, res.Root, k), Cut(loaded, root, k), "%s k=%d", linkage, k)
		}
	}
}
