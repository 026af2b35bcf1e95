package table

import (
	"bytes"
	"strings"
	"testing"
)

func TestReadCSVInfersTypes(t *testing.T) {
	data := `name,x,y
a,1,2.5
b,3,?
c,,4
`
	tbl, err := ReadCSV(strings.NewReader(data))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if tbl.Len() != 3 {
		t.Fatalf("expected 3 rows, got %d", tbl.Len())
	}
	want := []ColumnType{TypeString, TypeDouble, TypeDouble}
	for i, c := range tbl.Spec.Columns {
		if c.Type != want[i] {
			t.Errorf("column %s: expected %s, got %s", c.Name, want[i], c.Type)
		}
	}

	r, _ := tbl.Row(1)
	if r.Key != "Row1" {
		t.Errorf("expected generated key Row1, got %q", r.Key)
	}
	if !r.Cells[2].Missing {
		t.Error("expected '?' to be a missing cell")
	}
	r, _ = tbl.Row(2)
	if !r.Cells[1].Missing {
		t.Error("expected empty cell to be missing")
	}
}

func TestReadCSVKeyColumn(t *testing.T) {
	data := "RowID,x\nfirst,1\nsecond,2\n"
	tbl, err := ReadCSV(strings.NewReader(data))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tbl.Spec.Columns) != 1 {
		t.Fatalf("expected key column to be excluded from spec, got %v", tbl.Spec.Columns)
	}
	r, _ := tbl.Row(0)
	if r.Key != "first" {
		t.Errorf("expected key 'first', got %q", r.Key)
	}
}

func TestReadCSVRaggedLine(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("x,y\n1,2\n3\n"))
	if err == nil {
		t.Fatal("expected error for ragged line")
	}
}

func TestWriteCSVRoundTrip(t *testing.T) {
	tbl := New(Spec{Columns: []ColumnSpec{{Name: "x", Type: TypeDouble}, {Name: "Cluster", Type: TypeString}}})
	tbl.AddRow(Row{Key: "r0", Cells: []Cell{DoubleCell(1.5), StringCell("cluster_0")}})
	tbl.AddRow(Row{Key: "r1", Cells: []Cell{MissingCell(), StringCell("cluster_1")}})

	var buf bytes.Buffer
	if err := WriteCSV(&buf, tbl); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	back, err := ReadCSV(&buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if back.Len() != 2 {
		t.Fatalf("expected 2 rows, got %d", back.Len())
	}
	r, _ := back.Row(1)
	if r.Key != "r1" || !r.Cells[0].Missing || r.Cells[1].Raw != "cluster_1" {
		t.Errorf("unexpected row after round trip: %+v", r)
	}
}

func TestRowOutOfRange(t *testing.T) {
	tbl := New(Spec{})
	if _, err := tbl.Row(0); err == nil {
		t.Error("expected error for empty table")
	}
}

func TestAddRowWidthMismatch(t *testing.T) {
	tbl := New(Spec{Columns: []ColumnSpec{{Name: "x", Type: TypeDouble}}})
	if err := tbl.AddRow(Row{Key: "r", Cells: nil}); err == nil {
		t.Error("expected width mismatch error")
	}
}
