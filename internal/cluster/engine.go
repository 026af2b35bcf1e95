package cluster

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/TobiSchelling/hiercluster/internal/table"
)

const (
	// ClusterColumn is the name of the column appended to the result table.
	ClusterColumn = "Cluster"

	// LabelPrefix prefixes the positional cluster index in result labels.
	LabelPrefix = "cluster_"

	// MaxCacheBytes is the memory budget of the distance cache's values.
	MaxCacheBytes = 256 << 20

	// MaxCacheRows is the largest input whose half matrix of float64
	// distances fits MaxCacheBytes. Above it caching is disabled.
	MaxCacheRows = 8192
)

// ErrCanceled is returned when the context is done before clustering finished.
var ErrCanceled = errors.New("clustering canceled")

// State is the engine's position in its lifecycle.
type State int

const (
	StateInitialized State = iota
	StateMerging
	StateDone
)

func (s State) String() string {
	switch s {
	case StateInitialized:
		return "INITIALIZED"
	case StateMerging:
		return "MERGING"
	case StateDone:
		return "DONE"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Stats counts the work done by one run.
type Stats struct {
	Merges               int
	DistanceComputations int
	CacheHits            int
	CacheMisses          int
}

// Result holds everything a finished run produces.
type Result struct {
	Plan       *Plan
	Dendrogram *Dendrogram
	// Root is NoNode when the input had no rows.
	Root   NodeID
	Fusion FusionCurve
	// Table is the input with the Cluster column appended.
	Table *table.Table
	// Assignments holds the cluster position of each input row.
	Assignments []int
	// Fallback is set when the requested cluster count was never reached and
	// the result table was taken from the final state instead.
	Fallback bool
	State    State
	Stats    Stats
}

// NumClusters returns the number of clusters in the result table.
func (r *Result) NumClusters() int {
	highest := -1
	for _, a := range r.Assignments {
		if a > highest {
			highest = a
		}
	}
	return highest + 1
}

// ClusterSizes returns the number of rows per cluster position.
func (r *Result) ClusterSizes() []int {
	sizes := make([]int, r.NumClusters())
	for _, a := range r.Assignments {
		sizes[a]++
	}
	return sizes
}

type engine struct {
	plan     *Plan
	linkage  linkageFunc
	progress ProgressFunc
	logger   logrus.FieldLogger

	rows    []table.Row
	vectors [][]float64
	cache   *DistanceCache

	state       State
	dendrogram  *Dendrogram
	working     []NodeID
	members     [][]int
	fusion      FusionCurve
	assignments []int
	snapshot    bool
	stats       Stats
}

// Cluster runs agglomerative clustering over the rows of t. The context is
// polled between merges and between row scans of the closest-pair search.
func Cluster(ctx context.Context, t *table.Table, opts Options) (*Result, error) {
	plan, err := Configure(t.Spec, opts)
	if err != nil {
		return nil, err
	}
	return Execute(ctx, t, plan, opts.Progress, opts.Logger)
}

// Execute runs clustering for an already configured plan.
func Execute(ctx context.Context, t *table.Table, plan *Plan, progress ProgressFunc, logger logrus.FieldLogger) (*Result, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if progress == nil {
		progress = func(float64, string) {}
	}

	e := &engine{
		plan:     plan,
		linkage:  plan.Linkage.fn(),
		progress: progress,
		logger: logger.WithFields(logrus.Fields{
			"linkage":  plan.Linkage.String(),
			"distance": plan.Distance.String(),
		}),
		rows: t.Rows(),
	}

	if err := e.initialize(); err != nil {
		return nil, err
	}
	if err := e.merge(ctx); err != nil {
		return nil, err
	}
	return e.finish(t.Spec), nil
}

func (e *engine) initialize() error {
	e.state = StateInitialized
	n := len(e.rows)

	e.vectors = make([][]float64, n)
	for i, r := range e.rows {
		v, err := project(r, e.plan.Columns, e.plan.ColumnNames)
		if err != nil {
			return err
		}
		e.vectors[i] = v
	}

	if e.plan.CacheDistances {
		e.cache = newRunCache(n, e.logger)
	}

	e.dendrogram = NewDendrogram(n)
	e.working = make([]NodeID, n)
	e.members = make([][]int, n)
	for i, r := range e.rows {
		e.working[i] = e.dendrogram.NewLeaf(r, i)
		e.members[i] = []int{i}
	}
	e.fusion = make(FusionCurve, 0, max(n-1, 0))

	if n == e.plan.NumClusters {
		e.takeSnapshot()
	}
	return nil
}

// newRunCache returns a cache for n rows, or nil when the half matrix
// would exceed MaxCacheBytes.
func newRunCache(n int, logger logrus.FieldLogger) *DistanceCache {
	if n > MaxCacheRows {
		logger.Warnf("distance cache disabled: %d rows exceed the limit of %d (%d MiB)",
			n, MaxCacheRows, MaxCacheBytes>>20)
		return nil
	}
	return NewDistanceCache(n)
}

func (e *engine) pairDistance(i, j int) float64 {
	if d, ok := e.cache.Get(i, j); ok {
		e.stats.CacheHits++
		return d
	}
	d := e.plan.Distance.Distance(e.vectors[i], e.vectors[j])
	e.stats.DistanceComputations++
	if e.cache != nil {
		e.stats.CacheMisses++
		e.cache.Set(i, j, d)
	}
	return d
}

func (e *engine) canceled(ctx context.Context, total int) error {
	if err := ctx.Err(); err != nil {
		e.logger.Infof("clustering canceled after %d of %d merges", e.stats.Merges, total)
		return fmt.Errorf("%w after %d of %d merges: %w", ErrCanceled, e.stats.Merges, total, err)
	}
	return nil
}

func (e *engine) merge(ctx context.Context) error {
	e.state = StateMerging
	total := len(e.rows) - 1

	for len(e.working) > 1 {
		if err := e.canceled(ctx, total); err != nil {
			return err
		}

		bestI, bestJ := -1, -1
		best := math.Inf(1)
		for i := 0; i < len(e.working); i++ {
			if err := e.canceled(ctx, total); err != nil {
				return err
			}
			for j := i + 1; j < len(e.working); j++ {
				d := e.linkage(e.members[i], e.members[j], e.pairDistance)
				if bestI < 0 || d < best {
					best = d
					bestI, bestJ = i, j
				}
			}
		}

		merged := e.dendrogram.Merge(e.working[bestI], e.working[bestJ], best)
		members := make([]int, 0, len(e.members[bestI])+len(e.members[bestJ]))
		members = append(members, e.members[bestI]...)
		members = append(members, e.members[bestJ]...)

		// bestJ > bestI, so removing bestJ first keeps bestI valid
		e.working = append(e.working[:bestJ], e.working[bestJ+1:]...)
		e.working = append(e.working[:bestI], e.working[bestI+1:]...)
		e.working = append(e.working, merged)
		e.members = append(e.members[:bestJ], e.members[bestJ+1:]...)
		e.members = append(e.members[:bestI], e.members[bestI+1:]...)
		e.members = append(e.members, members)

		e.stats.Merges++
		e.fusion = append(e.fusion, FusionEntry{Clusters: len(e.working), Distance: best})
		e.logger.Debugf("merge %d/%d at distance %g, %d clusters left", e.stats.Merges, total, best, len(e.working))

		if !e.snapshot && len(e.working) == e.plan.NumClusters {
			e.takeSnapshot()
		}

		e.progress(float64(e.stats.Merges)/float64(total),
			fmt.Sprintf("%d clusters left", len(e.working)))
	}
	return nil
}

// takeSnapshot records each row's cluster position in the current working set.
func (e *engine) takeSnapshot() {
	e.assignments = make([]int, len(e.rows))
	for pos, m := range e.members {
		for _, rowIndex := range m {
			e.assignments[rowIndex] = pos
		}
	}
	e.snapshot = true
}

func (e *engine) finish(spec table.Spec) *Result {
	e.state = StateDone

	root := NoNode
	if len(e.working) == 1 {
		root = e.working[0]
		e.dendrogram.SetRoot(root)
	}

	fallback := false
	if !e.snapshot {
		fallback = true
		if len(e.rows) > 0 {
			e.logger.Warnf("requested %d clusters but input has only %d rows; using final state with %d cluster(s)",
				e.plan.NumClusters, len(e.rows), len(e.working))
		}
		e.takeSnapshot()
	}

	if inv := e.fusion.Inversions(); len(inv) > 0 {
		e.logger.Warnf("fusion curve has %d inversion(s), first at merge %d", len(inv), inv[0]+1)
	}

	out := table.New(spec.Append(table.ColumnSpec{Name: ClusterColumn, Type: table.TypeString}))
	for i, r := range e.rows {
		// widths match: every input row already matched spec
		_ = out.AddRow(r.Append(table.StringCell(Label(e.assignments[i]))))
	}

	return &Result{
		Plan:        e.plan,
		Dendrogram:  e.dendrogram,
		Root:        root,
		Fusion:      e.fusion,
		Table:       out,
		Assignments: e.assignments,
		Fallback:    fallback,
		State:       e.state,
		Stats:       e.stats,
	}
}

// Label returns the result label for cluster position pos.
func Label(pos int) string {
	return fmt.Sprintf("%s%d", LabelPrefix, pos)
}
