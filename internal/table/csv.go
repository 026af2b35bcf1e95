package table

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// keyColumns are header names treated as the row identifier instead of data.
var keyColumns = map[string]bool{
	"rowid":  true,
	"row_id": true,
	"key":    true,
}

// ReadCSVFile reads a CSV file with a header row.
func ReadCSVFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	return ReadCSV(f)
}

// ReadCSV parses CSV data with a header row. A first column named RowID,
// row_id or key supplies row keys; otherwise rows are keyed Row0, Row1, ...
// Columns whose non-missing values all parse as numbers become double columns.
// Empty cells and "?" are missing.
func ReadCSV(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading csv: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("reading csv: missing header row")
	}

	header := records[0]
	body := records[1:]

	hasKey := len(header) > 0 && keyColumns[strings.ToLower(strings.TrimSpace(header[0]))]
	first := 0
	if hasKey {
		first = 1
	}

	cols := make([]ColumnSpec, 0, len(header)-first)
	for i := first; i < len(header); i++ {
		typ := TypeDouble
		for _, rec := range body {
			if i >= len(rec) || isMissing(rec[i]) {
				continue
			}
			if _, err := strconv.ParseFloat(strings.TrimSpace(rec[i]), 64); err != nil {
				typ = TypeString
				break
			}
		}
		cols = append(cols, ColumnSpec{Name: strings.TrimSpace(header[i]), Type: typ})
	}

	t := New(Spec{Columns: cols})
	for n, rec := range body {
		if len(rec) != len(header) {
			return nil, fmt.Errorf("reading csv: line %d has %d fields, expected %d", n+2, len(rec), len(header))
		}
		key := fmt.Sprintf("Row%d", n)
		if hasKey {
			key = rec[0]
		}
		cells := make([]Cell, len(cols))
		for c, col := range cols {
			raw := rec[c+first]
			switch {
			case isMissing(raw):
				cells[c] = MissingCell()
			case col.Type == TypeDouble:
				v, _ := strconv.ParseFloat(strings.TrimSpace(raw), 64)
				cells[c] = Cell{Raw: raw, Num: v}
			default:
				cells[c] = StringCell(raw)
			}
		}
		if err := t.AddRow(Row{Key: key, Cells: cells}); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// WriteCSV writes the table with a RowID column followed by all data columns.
func WriteCSV(w io.Writer, t *Table) error {
	writer := csv.NewWriter(w)

	header := make([]string, 0, len(t.Spec.Columns)+1)
	header = append(header, "RowID")
	for _, c := range t.Spec.Columns {
		header = append(header, c.Name)
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}

	for _, r := range t.Rows() {
		rec := make([]string, 0, len(r.Cells)+1)
		rec = append(rec, r.Key)
		for _, c := range r.Cells {
			if c.Missing {
				rec = append(rec, "?")
				continue
			}
			rec = append(rec, c.Raw)
		}
		if err := writer.Write(rec); err != nil {
			return fmt.Errorf("writing csv row %q: %w", r.Key, err)
		}
	}

	writer.Flush()
	return writer.Error()
}

// WriteCSVFile writes the table to a file, creating or truncating it.
func WriteCSVFile(path string, t *Table) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := WriteCSV(f, t); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func isMissing(raw string) bool {
	s := strings.TrimSpace(raw)
	return s == "" || s == "?"
}
