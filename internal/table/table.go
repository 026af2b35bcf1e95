package table

import (
	"fmt"
	"strconv"
)

// ColumnType is the data type of a table column.
type ColumnType string

const (
	TypeString ColumnType = "string"
	TypeInt    ColumnType = "int"
	TypeDouble ColumnType = "double"
)

// IsNumeric reports whether values of the type can be used for distance computation.
func (t ColumnType) IsNumeric() bool {
	return t == TypeDouble || t == TypeInt
}

// ColumnSpec describes a single column.
type ColumnSpec struct {
	Name string     `json:"name"`
	Type ColumnType `json:"type"`
}

// Spec describes the columns of a table.
type Spec struct {
	Columns []ColumnSpec `json:"columns"`
}

// IndexOf returns the position of the named column or -1.
func (s Spec) IndexOf(name string) int {
	for i, c := range s.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// NumericColumns returns the names of all numeric columns in order.
func (s Spec) NumericColumns() []string {
	var names []string
	for _, c := range s.Columns {
		if c.Type.IsNumeric() {
			names = append(names, c.Name)
		}
	}
	return names
}

// Append returns a copy of the spec with an extra column at the end.
func (s Spec) Append(col ColumnSpec) Spec {
	cols := make([]ColumnSpec, 0, len(s.Columns)+1)
	cols = append(cols, s.Columns...)
	cols = append(cols, col)
	return Spec{Columns: cols}
}

// Cell is a single table value. Missing cells carry no value.
type Cell struct {
	Raw     string  `json:"raw"`
	Num     float64 `json:"num,omitempty"`
	Missing bool    `json:"missing,omitempty"`
}

// StringCell creates a non-numeric cell.
func StringCell(s string) Cell {
	return Cell{Raw: s}
}

// DoubleCell creates a numeric cell.
func DoubleCell(v float64) Cell {
	return Cell{Raw: strconv.FormatFloat(v, 'g', -1, 64), Num: v}
}

// IntCell creates a numeric cell holding an integer.
func IntCell(v int) Cell {
	return Cell{Raw: strconv.Itoa(v), Num: float64(v)}
}

// MissingCell creates a missing cell.
func MissingCell() Cell {
	return Cell{Raw: "?", Missing: true}
}

// Row is a keyed sequence of cells.
type Row struct {
	Key   string
	Cells []Cell
}

// Append returns a copy of the row with an extra cell at the end.
func (r Row) Append(c Cell) Row {
	cells := make([]Cell, 0, len(r.Cells)+1)
	cells = append(cells, r.Cells...)
	cells = append(cells, c)
	return Row{Key: r.Key, Cells: cells}
}

// Table is an ordered, finite, in-memory sequence of rows sharing a spec.
type Table struct {
	Spec Spec
	rows []Row
}

// New creates an empty table with the given spec.
func New(spec Spec) *Table {
	return &Table{Spec: spec}
}

// AddRow appends a row. The number of cells must match the spec.
func (t *Table) AddRow(r Row) error {
	if len(r.Cells) != len(t.Spec.Columns) {
		return fmt.Errorf("row %q has %d cells, expected %d", r.Key, len(r.Cells), len(t.Spec.Columns))
	}
	t.rows = append(t.rows, r)
	return nil
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.rows)
}

// Row returns the row at index i in original order.
func (t *Table) Row(i int) (Row, error) {
	if i < 0 || i >= len(t.rows) {
		return Row{}, fmt.Errorf("row index %d out of range [0,%d)", i, len(t.rows))
	}
	return t.rows[i], nil
}

// Rows returns the rows in original order. The slice must not be modified.
func (t *Table) Rows() []Row {
	return t.rows
}
