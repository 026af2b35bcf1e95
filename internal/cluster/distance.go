package cluster

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"

	"github.com/TobiSchelling/hiercluster/internal/table"
)

// ErrMissingValue is returned when a selected cell has no value.
var ErrMissingValue = errors.New("missing value in selected column")

// ErrNonFiniteValue is returned when a selected cell holds NaN or an infinity.
var ErrNonFiniteValue = errors.New("non-finite value in selected column")

// DistanceFunction computes a non-negative, symmetric distance between two
// projected rows. Both slices have the same length.
type DistanceFunction interface {
	Distance(a, b []float64) float64
	String() string
}

// Euclidean is the L2 distance.
type Euclidean struct{}

func (Euclidean) Distance(a, b []float64) float64 { return floats.Distance(a, b, 2) }
func (Euclidean) String() string                 { return "EUCLIDEAN" }

// Manhattan is the L1 (city-block) distance.
type Manhattan struct{}

func (Manhattan) Distance(a, b []float64) float64 { return floats.Distance(a, b, 1) }
func (Manhattan) String() string                 { return "MANHATTAN" }

// ParseDistance resolves a distance function by name, case-insensitively.
func ParseDistance(name string) (DistanceFunction, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "EUCLIDEAN", "":
		return Euclidean{}, nil
	case "MANHATTAN":
		return Manhattan{}, nil
	default:
		return nil, fmt.Errorf("unknown distance function %q (expected EUCLIDEAN or MANHATTAN)", name)
	}
}

// project extracts the selected numeric values of a row. Missing and
// non-finite cells are rejected so NaN never reaches the pair search.
func project(r table.Row, cols []int, names []string) ([]float64, error) {
	v := make([]float64, len(cols))
	for i, c := range cols {
		cell := r.Cells[c]
		name := fmt.Sprint(c)
		if names != nil {
			name = names[i]
		}
		if cell.Missing {
			return nil, fmt.Errorf("%w: row %q, column %s", ErrMissingValue, r.Key, name)
		}
		if math.IsNaN(cell.Num) || math.IsInf(cell.Num, 0) {
			return nil, fmt.Errorf("%w: row %q, column %s holds %s", ErrNonFiniteValue, r.Key, name, cell.Raw)
		}
		v[i] = cell.Num
	}
	return v, nil
}

// RowDistance computes the distance between two rows over the given column
// indices. It fails with ErrMissingValue if any selected cell is missing and
// with ErrNonFiniteValue if one is NaN or infinite.
func RowDistance(f DistanceFunction, a, b table.Row, cols []int) (float64, error) {
	va, err := project(a, cols, nil)
	if err != nil {
		return 0, err
	}
	vb, err := project(b, cols, nil)
	if err != nil {
		return 0, err
	}
	return f.Distance(va, vb), nil
}
