package cluster

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/TobiSchelling/hiercluster/internal/table"
)

const floatTol = 1e-10

func nullLogger() logrus.FieldLogger {
	l, _ := test.NewNullLogger()
	return l
}

// pointsTable builds a table with one double column per dimension plus a
// trailing string column that must be ignored by default column selection.
func pointsTable(pts [][]float64) *table.Table {
	dims := 0
	if len(pts) > 0 {
		dims = len(pts[0])
	}
	cols := make([]table.ColumnSpec, 0, dims+1)
	for d := 0; d < dims; d++ {
		cols = append(cols, table.ColumnSpec{Name: fmt.Sprintf("x%d", d), Type: table.TypeDouble})
	}
	cols = append(cols, table.ColumnSpec{Name: "label", Type: table.TypeString})

	t := table.New(table.Spec{Columns: cols})
	if len(pts) == 0 {
		t = table.New(table.Spec{Columns: []table.ColumnSpec{
			{Name: "x0", Type: table.TypeDouble},
			{Name: "label", Type: table.TypeString},
		}})
	}
	for i, p := range pts {
		cells := make([]table.Cell, 0, dims+1)
		for _, v := range p {
			cells = append(cells, table.DoubleCell(v))
		}
		cells = append(cells, table.StringCell(fmt.Sprintf("p%d", i)))
		if err := t.AddRow(table.Row{Key: fmt.Sprintf("Row%d", i), Cells: cells}); err != nil {
			panic(err)
		}
	}
	return t
}

func line(xs ...float64) [][]float64 {
	pts := make([][]float64, len(xs))
	for i, x := range xs {
		pts[i] = []float64{x}
	}
	return pts
}

// samplePoints is a small 2-D data set without distance ties.
var samplePoints = [][]float64{
	{0, 0}, {0.5, 0.2}, {5, 5}, {5.3, 4.9},
	{9, 0}, {9.4, 0.3}, {0.2, 0.9}, {4.6, 5.4},
	{8.7, -0.4}, {2.5, 2.5}, {7, 2}, {1, 8},
}

// partition turns an assignment vector into a canonical set-of-sets form
// so results with different label numbering can be compared.
func partition(assignments []int) map[string]bool {
	groups := map[int][]int{}
	for row, a := range assignments {
		groups[a] = append(groups[a], row)
	}
	out := make(map[string]bool, len(groups))
	for _, g := range groups {
		out[fmt.Sprint(g)] = true
	}
	return out
}
