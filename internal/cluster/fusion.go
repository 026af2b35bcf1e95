package cluster

import (
	"fmt"

	"github.com/TobiSchelling/hiercluster/internal/table"
)

const (
	FusionClustersColumn = "Nr. of Clusters"
	FusionDistanceColumn = "Distance"
)

// FusionEntry records one merge: the number of clusters left after it and
// the linkage distance at which it happened.
type FusionEntry struct {
	Clusters int     `json:"clusters"`
	Distance float64 `json:"distance"`
}

// FusionCurve is the merge history in merge order.
type FusionCurve []FusionEntry

// Inversions returns the merge steps (0-based) whose distance is smaller
// than the distance of the step before them.
func (f FusionCurve) Inversions() []int {
	var steps []int
	for i := 1; i < len(f); i++ {
		if f[i].Distance < f[i-1].Distance {
			steps = append(steps, i)
		}
	}
	return steps
}

// FusionSpec is the column layout of the fusion table.
func FusionSpec() table.Spec {
	return table.Spec{Columns: []table.ColumnSpec{
		{Name: FusionClustersColumn, Type: table.TypeInt},
		{Name: FusionDistanceColumn, Type: table.TypeDouble},
	}}
}

// Table materializes the curve as a two-column table, one row per merge.
func (f FusionCurve) Table() *table.Table {
	t := table.New(FusionSpec())
	for i, e := range f {
		// widths always match FusionSpec
		_ = t.AddRow(table.Row{
			Key:   fmt.Sprintf("Row%d", i),
			Cells: []table.Cell{table.IntCell(e.Clusters), table.DoubleCell(e.Distance)},
		})
	}
	return t
}
