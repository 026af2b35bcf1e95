package cluster

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/hiercluster/internal/table"
)

func TestEuclideanDistance(t *testing.T) {
	m := Euclidean{}
	a := []float64{1, 2, 3}
	b := []float64{4, 6, 3}

	assert.InDelta(t, 5.0, m.Distance(a, b), floatTol)
	assert.Equal(t, m.Distance(a, b), m.Distance(b, a))
	assert.Equal(t, 0.0, m.Distance(a, a))
}

func TestManhattanDistance(t *testing.T) {
	m := Manhattan{}
	a := []float64{1, 2, 3}
	b := []float64{4, 6, 3}

	assert.InDelta(t, 7.0, m.Distance(a, b), floatTol)
	assert.Equal(t, m.Distance(a, b), m.Distance(b, a))
	assert.Equal(t, 0.0, m.Distance(b, b))
}

func TestParseDistance(t *testing.T) {
	for name, want := range map[string]string{
		"euclidean": "EUCLIDEAN",
		"MANHATTAN": "MANHATTAN",
		"":          "EUCLIDEAN",
	} {
		f, err := ParseDistance(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, f.String())
	}

	_, err := ParseDistance("cosine")
	assert.Error(t, err)
}

func TestRowDistance(t *testing.T) {
	a := table.Row{Key: "a", Cells: []table.Cell{table.DoubleCell(1), table.StringCell("x"), table.DoubleCell(1)}}
	b := table.Row{Key: "b", Cells: []table.Cell{table.DoubleCell(4), table.StringCell("y"), table.DoubleCell(5)}}

	d, err := RowDistance(Euclidean{}, a, b, []int{0, 2})
	require.NoError(t, err)
	assert.InDelta(t, 5.0, d, floatTol)

	d, err = RowDistance(Manhattan{}, a, b, []int{2})
	require.NoError(t, err)
	assert.InDelta(t, 4.0, d, floatTol)
}

func TestRowDistanceMissingValue(t *testing.T) {
	a := table.Row{Key: "a", Cells: []table.Cell{table.DoubleCell(1)}}
	b := table.Row{Key: "b", Cells: []table.Cell{table.MissingCell()}}

	_, err := RowDistance(Euclidean{}, a, b, []int{0})
	assert.ErrorIs(t, err, ErrMissingValue)
}

func TestRowDistanceNonFiniteValue(t *testing.T) {
	a := table.Row{Key: "a", Cells: []table.Cell{table.DoubleCell(1)}}
	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		b := table.Row{Key: "b", Cells: []table.Cell{table.DoubleCell(v)}}
		_, err := RowDistance(Euclidean{}, a, b, []int{0})
		assert.ErrorIs(t, err, ErrNonFiniteValue)
	}
}

func TestDistanceNeverNaNForFiniteInput(t *testing.T) {
	for _, m := range []DistanceFunction{Euclidean{}, Manhattan{}} {
		d := m.Distance([]float64{1e300, -1e300}, []float64{-1e300, 1e300})
		assert.False(t, math.IsNaN(d), m.String())
	}
}
