package cluster

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/hiercluster/internal/table"
)

func labels(t *testing.T, res *Result) []string {
	t.Helper()
	col := res.Table.Spec.IndexOf(ClusterColumn)
	require.GreaterOrEqual(t, col, 0)
	out := make([]string, res.Table.Len())
	for i, r := range res.Table.Rows() {
		out[i] = r.Cells[col].Raw
	}
	return out
}

func TestClusterTwoGroupsOnALine(t *testing.T) {
	res, err := Cluster(context.Background(), pointsTable(line(1, 2, 10, 11)), Options{
		NumClusters: 2,
		Linkage:     "SINGLE",
		Distance:    "EUCLIDEAN",
		Logger:      nullLogger(),
	})
	require.NoError(t, err)

	assert.Equal(t, StateDone, res.State)
	assert.False(t, res.Fallback)
	assert.Equal(t, FusionCurve{
		{Clusters: 3, Distance: 1},
		{Clusters: 2, Distance: 1},
		{Clusters: 1, Distance: 8},
	}, res.Fusion)
	assert.Equal(t, []string{"cluster_0", "cluster_0", "cluster_1", "cluster_1"}, labels(t, res))
	assert.Equal(t, []int{2, 2}, res.ClusterSizes())

	root, ok := res.Dendrogram.Root()
	require.True(t, ok)
	assert.Equal(t, res.Root, root)
	assert.InDelta(t, 8.0, res.Dendrogram.Distance(root), floatTol)
}

func TestClusterFinalMergeHeightPerLinkage(t *testing.T) {
	// {1,2} vs {10,11}: pair distances 9 10 8 9
	for linkage, want := range map[string]float64{"SINGLE": 8, "AVERAGE": 9, "COMPLETE": 10} {
		res, err := Cluster(context.Background(), pointsTable(line(1, 2, 10, 11)), Options{
			NumClusters: 2,
			Linkage:     linkage,
			Logger:      nullLogger(),
		})
		require.NoError(t, err)
		require.Len(t, res.Fusion, 3)
		assert.InDelta(t, want, res.Fusion[2].Distance, floatTol, linkage)
		assert.Equal(t, []int{0, 0, 1, 1}, res.Assignments, linkage)
	}
}

func TestClusterSingleRow(t *testing.T) {
	res, err := Cluster(context.Background(), pointsTable(line(3)), Options{
		NumClusters: 1,
		Logger:      nullLogger(),
	})
	require.NoError(t, err)

	assert.True(t, res.Dendrogram.IsLeaf(res.Root))
	assert.Empty(t, res.Fusion)
	assert.Equal(t, []string{"cluster_0"}, labels(t, res))
	assert.Equal(t, 0, res.Stats.Merges)
}

func TestClusterNoRows(t *testing.T) {
	res, err := Cluster(context.Background(), pointsTable(nil), Options{
		NumClusters: 3,
		Logger:      nullLogger(),
	})
	require.NoError(t, err)

	assert.Equal(t, NoNode, res.Root)
	_, ok := res.Dendrogram.Root()
	assert.False(t, ok)
	assert.Empty(t, res.Fusion)
	assert.Equal(t, 0, res.Table.Len())
	assert.Equal(t, StateDone, res.State)
}

func TestClusterMoreClustersThanRowsFallsBack(t *testing.T) {
	logger, hook := test.NewNullLogger()
	res, err := Cluster(context.Background(), pointsTable(line(1, 5, 6)), Options{
		NumClusters: 5,
		Logger:      logger,
	})
	require.NoError(t, err)

	assert.True(t, res.Fallback)
	assert.Equal(t, []string{"cluster_0", "cluster_0", "cluster_0"}, labels(t, res))
	assert.Len(t, res.Fusion, 2)

	warned := false
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warned = true
		}
	}
	assert.True(t, warned, "expected a warning about the fallback")
}

func TestClusterCountEqualToRowsKeepsSingletons(t *testing.T) {
	res, err := Cluster(context.Background(), pointsTable(line(1, 5, 6)), Options{
		NumClusters: 3,
		Logger:      nullLogger(),
	})
	require.NoError(t, err)

	assert.False(t, res.Fallback)
	assert.Equal(t, []string{"cluster_0", "cluster_1", "cluster_2"}, labels(t, res))
	assert.Len(t, res.Fusion, 2, "tree is still built to the root")
}

func TestClusterInvariants(t *testing.T) {
	tbl := pointsTable(samplePoints)
	n := tbl.Len()

	for _, linkage := range []string{"SINGLE", "AVERAGE", "COMPLETE"} {
		for _, dist := range []string{"EUCLIDEAN", "MANHATTAN"} {
			var fractions []float64
			res, err := Cluster(context.Background(), tbl, Options{
				NumClusters: 4,
				Linkage:     linkage,
				Distance:    dist,
				Logger:      nullLogger(),
				Progress:    func(f float64, _ string) { fractions = append(fractions, f) },
			})
			require.NoError(t, err, linkage+"/"+dist)

			// leaf count
			assert.Equal(t, n, res.Dendrogram.LeafCount(res.Root))
			rows := res.Dendrogram.Rows(res.Root)
			require.Len(t, rows, n)
			seen := map[int]bool{}
			for _, idx := range res.Dendrogram.LeafRowIndices(res.Root) {
				assert.False(t, seen[idx], "duplicate row index %d", idx)
				seen[idx] = true
			}

			// merge count and shrinking working set
			assert.Equal(t, n-1, res.Stats.Merges)
			require.Len(t, res.Fusion, n-1)
			for i, e := range res.Fusion {
				assert.Equal(t, n-1-i, e.Clusters)
			}
			assert.Equal(t, 4, res.NumClusters())

			// these linkages never produce inversions
			assert.Empty(t, res.Fusion.Inversions(), linkage+"/"+dist)

			// progress is increasing and ends at 1
			require.Len(t, fractions, n-1)
			for i := 1; i < len(fractions); i++ {
				assert.Greater(t, fractions[i], fractions[i-1])
			}
			assert.InDelta(t, 1.0, fractions[len(fractions)-1], floatTol)
		}
	}
}

func TestDistanceCacheDoesNotChangeResult(t *testing.T) {
	tbl := pointsTable(samplePoints)
	n := tbl.Len()

	for _, linkage := range []string{"SINGLE", "AVERAGE", "COMPLETE"} {
		for _, dist := range []string{"EUCLIDEAN", "MANHATTAN"} {
			opts := Options{NumClusters: 3, Linkage: linkage, Distance: dist, Logger: nullLogger()}
			plain, err := Cluster(context.Background(), tbl, opts)
			require.NoError(t, err)

			opts.CacheDistances = true
			cached, err := Cluster(context.Background(), tbl, opts)
			require.NoError(t, err)

			assert.Equal(t, plain.Assignments, cached.Assignments, linkage+"/"+dist)
			assert.Equal(t, plain.Fusion, cached.Fusion, linkage+"/"+dist)

			assert.Zero(t, plain.Stats.CacheHits)
			assert.Equal(t, n*(n-1)/2, cached.Stats.DistanceComputations)
			assert.Equal(t, cached.Stats.DistanceComputations, cached.Stats.CacheMisses)
			assert.Greater(t, cached.Stats.CacheHits, 0)
			assert.Greater(t, plain.Stats.DistanceComputations, cached.Stats.DistanceComputations)
		}
	}
}

func TestClusterUsesSelectedColumnsOnly(t *testing.T) {
	// x0 separates {0,1} from {2,3}; x1 separates {0,2} from {1,3}
	tbl := pointsTable([][]float64{{0, 0}, {0, 10}, {10, 0}, {10, 10.5}})

	res, err := Cluster(context.Background(), tbl, Options{
		NumClusters: 2,
		Columns:     []string{"x1"},
		Logger:      nullLogger(),
	})
	require.NoError(t, err)
	assert.Equal(t, res.Assignments[0], res.Assignments[2])
	assert.Equal(t, res.Assignments[1], res.Assignments[3])
	assert.NotEqual(t, res.Assignments[0], res.Assignments[1])
	assert.Equal(t, []string{"x1"}, res.Plan.ColumnNames)
}

func TestClusterTieBreakIsDeterministic(t *testing.T) {
	tbl := pointsTable(line(0, 1, 2, 3))
	first, err := Cluster(context.Background(), tbl, Options{NumClusters: 3, Logger: nullLogger()})
	require.NoError(t, err)

	// all neighbour distances tie; the first pair in scan order wins
	assert.Equal(t, []int{2, 2, 0, 1}, first.Assignments)

	for i := 0; i < 5; i++ {
		again, err := Cluster(context.Background(), tbl, Options{NumClusters: 3, Logger: nullLogger()})
		require.NoError(t, err)
		assert.Equal(t, first.Assignments, again.Assignments)
		assert.Equal(t, first.Fusion, again.Fusion)
	}
}

func TestClusterCanceledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := Cluster(ctx, pointsTable(samplePoints), Options{NumClusters: 2, Logger: nullLogger()})
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrCanceled)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClusterCanceledMidway(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	merges := 0
	res, err := Cluster(ctx, pointsTable(samplePoints), Options{
		NumClusters: 2,
		Logger:      nullLogger(),
		Progress: func(float64, string) {
			merges++
			if merges == 3 {
				cancel()
			}
		},
	})
	assert.Nil(t, res)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCanceled))
	assert.Equal(t, 3, merges)
}

func TestClusterCancelDoesNotAffectTrivialInput(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := Cluster(ctx, pointsTable(line(1)), Options{NumClusters: 1, Logger: nullLogger()})
	require.NoError(t, err, "no merge loop runs for a single row")
	assert.Equal(t, StateDone, res.State)
}

func TestClusterMissingValueFails(t *testing.T) {
	tbl := table.New(table.Spec{Columns: []table.ColumnSpec{{Name: "x", Type: table.TypeDouble}}})
	require.NoError(t, tbl.AddRow(table.Row{Key: "a", Cells: []table.Cell{table.DoubleCell(1)}}))
	require.NoError(t, tbl.AddRow(table.Row{Key: "b", Cells: []table.Cell{table.MissingCell()}}))

	_, err := Cluster(context.Background(), tbl, Options{NumClusters: 1, Logger: nullLogger()})
	assert.ErrorIs(t, err, ErrMissingValue)
	assert.Contains(t, err.Error(), `row "b"`)
}

func TestClusterNonFiniteValueFails(t *testing.T) {
	for _, raw := range []string{"NaN", "Inf", "-Infinity"} {
		tbl, err := table.ReadCSV(strings.NewReader("x\n0\n" + raw + "\n1\n100\n"))
		require.NoError(t, err)
		require.Equal(t, table.TypeDouble, tbl.Spec.Columns[0].Type)

		for _, linkage := range []string{"SINGLE", "AVERAGE", "COMPLETE"} {
			res, err := Cluster(context.Background(), tbl, Options{NumClusters: 2, Linkage: linkage, Logger: nullLogger()})
			assert.ErrorIs(t, err, ErrNonFiniteValue, "%s/%s", raw, linkage)
			assert.Nil(t, res)
			if err != nil {
				assert.Contains(t, err.Error(), `row "Row1"`)
			}
		}
	}
}

func TestConfigureReportsAllProblems(t *testing.T) {
	spec := pointsTable(samplePoints).Spec

	_, err := Configure(spec, Options{
		NumClusters: 0,
		Linkage:     "ward",
		Distance:    "cosine",
		Columns:     []string{"nope", "label", "x0", "x0"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidOptions)
	for _, want := range []string{
		"number of clusters",
		`unknown linkage "ward"`,
		`unknown distance function "cosine"`,
		`column "nope" not found`,
		`column "label" is not numeric`,
		`column "x0" selected more than once`,
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestConfigureDefaultsToAllNumericColumns(t *testing.T) {
	plan, err := Configure(pointsTable(samplePoints).Spec, Options{NumClusters: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"x0", "x1"}, plan.ColumnNames)
	assert.Equal(t, []int{0, 1}, plan.Columns)
	assert.Equal(t, Single, plan.Linkage)
	assert.Equal(t, "EUCLIDEAN", plan.Distance.String())
}

func TestConfigureNoNumericColumns(t *testing.T) {
	spec := table.Spec{Columns: []table.ColumnSpec{{Name: "s", Type: table.TypeString}}}
	_, err := Configure(spec, Options{NumClusters: 1})
	assert.ErrorIs(t, err, ErrInvalidOptions)
}
