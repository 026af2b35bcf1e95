package cluster

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/TobiSchelling/hiercluster/internal/table"
)

// ErrInvalidOptions wraps every configure-time validation failure.
var ErrInvalidOptions = errors.New("invalid clustering options")

// ProgressFunc receives the fraction of merges done and a short message.
// It is called synchronously from the merge loop and must return quickly.
type ProgressFunc func(fraction float64, message string)

// Options configures a clustering run. Names are matched case-insensitively.
type Options struct {
	// NumClusters is the cluster count at which the result table is taken. Must be > 0.
	NumClusters int

	// Linkage is SINGLE, AVERAGE or COMPLETE. Default: SINGLE.
	Linkage string

	// Distance is EUCLIDEAN or MANHATTAN. Default: EUCLIDEAN.
	Distance string

	// CacheDistances keeps leaf-to-leaf distances for the whole run.
	CacheDistances bool

	// Columns selects the numeric columns used for distances.
	// Empty means all numeric columns.
	Columns []string

	Progress ProgressFunc
	Logger   logrus.FieldLogger
}

// Plan is a validated set of options resolved against a table spec.
type Plan struct {
	NumClusters    int
	Linkage        Linkage
	Distance       DistanceFunction
	CacheDistances bool
	ColumnNames    []string
	Columns        []int
}

// Configure validates opts against spec and resolves names into concrete
// strategies. All problems are reported together.
func Configure(spec table.Spec, opts Options) (*Plan, error) {
	var result *multierror.Error
	plan := &Plan{
		NumClusters:    opts.NumClusters,
		CacheDistances: opts.CacheDistances,
	}

	if opts.NumClusters <= 0 {
		result = multierror.Append(result, fmt.Errorf("number of clusters must be > 0, got %d", opts.NumClusters))
	}

	linkage, err := ParseLinkage(opts.Linkage)
	if err != nil {
		result = multierror.Append(result, err)
	}
	plan.Linkage = linkage

	dist, err := ParseDistance(opts.Distance)
	if err != nil {
		result = multierror.Append(result, err)
	}
	plan.Distance = dist

	names := opts.Columns
	if len(names) == 0 {
		names = spec.NumericColumns()
		if len(names) == 0 {
			result = multierror.Append(result, errors.New("input table has no numeric columns"))
		}
	}

	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			result = multierror.Append(result, fmt.Errorf("column %q selected more than once", name))
			continue
		}
		seen[name] = true

		idx := spec.IndexOf(name)
		switch {
		case idx < 0:
			result = multierror.Append(result, fmt.Errorf("column %q not found in input table", name))
		case !spec.Columns[idx].Type.IsNumeric():
			result = multierror.Append(result, fmt.Errorf("column %q is not numeric (%s)", name, spec.Columns[idx].Type))
		default:
			plan.ColumnNames = append(plan.ColumnNames, name)
			plan.Columns = append(plan.Columns, idx)
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOptions, err)
	}
	return plan, nil
}
