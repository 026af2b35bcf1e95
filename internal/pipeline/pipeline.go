package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/TobiSchelling/hiercluster/internal/cluster"
	"github.com/TobiSchelling/hiercluster/internal/database"
	"github.com/TobiSchelling/hiercluster/internal/metrics"
	"github.com/TobiSchelling/hiercluster/internal/report"
	"github.com/TobiSchelling/hiercluster/internal/settings"
	"github.com/TobiSchelling/hiercluster/internal/table"
)

// Export file names written to the output directory.
const (
	ResultFile     = "clusters.csv"
	FusionFile     = "fusion.csv"
	DendrogramFile = "dendrogram.yaml"
	ReportFile     = "report.md"
)

// StepResult holds the result of a single pipeline step.
type StepResult struct {
	Name    string
	Summary string
	Err     error
}

// Result holds the results of a full pipeline run.
type Result struct {
	Steps  []StepResult
	Output *cluster.Result
	Run    *database.Run
}

// Err returns the first step error, if any.
func (r *Result) Err() error {
	for _, s := range r.Steps {
		if s.Err != nil {
			return s.Err
		}
	}
	return nil
}

// Request describes one clustering job.
type Request struct {
	// Input is the CSV file to cluster. Ignored when Table is set.
	Input string
	// Table is an already loaded input table.
	Table *table.Table
	// Source names the input in the run store. Defaults to the base name of Input.
	Source  string
	Options cluster.Options
	// OutDir receives the exported tables and report. Empty skips the export.
	OutDir string
}

func (req Request) source() string {
	if req.Source != "" {
		return req.Source
	}
	if req.Input != "" {
		return filepath.Base(req.Input)
	}
	return ""
}

// Pipeline orchestrates the Load, Configure, Cluster, Persist and Export steps.
type Pipeline struct {
	db      *database.DB
	metrics *metrics.Metrics
	logger  logrus.FieldLogger
}

// New creates a new pipeline. m may be nil.
func New(db *database.DB, m *metrics.Metrics, logger logrus.FieldLogger) *Pipeline {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Pipeline{db: db, metrics: m, logger: logger}
}

// Run executes the pipeline. It stops at the first failing step.
func (p *Pipeline) Run(ctx context.Context, req Request) *Result {
	r := &Result{}

	// Step 1: Load
	tbl, step := p.runLoad(req)
	r.Steps = append(r.Steps, step)
	if step.Err != nil {
		return r
	}

	// Step 2: Configure
	plan, step := p.runConfigure(tbl, req.Options)
	r.Steps = append(r.Steps, step)
	if step.Err != nil {
		return r
	}

	// Step 3: Cluster
	res, elapsed, step := p.runCluster(ctx, tbl, plan, req.Options.Progress)
	r.Steps = append(r.Steps, step)
	if step.Err != nil {
		return r
	}
	r.Output = res

	// Step 4: Persist
	run, step := p.runPersist(res, req.source(), elapsed)
	r.Steps = append(r.Steps, step)
	if step.Err != nil {
		return r
	}
	r.Run = run

	// Step 5: Export
	r.Steps = append(r.Steps, p.runExport(res, run, req.OutDir))
	return r
}

// DryRun loads and validates the input without clustering or storing anything.
func (p *Pipeline) DryRun(req Request) *Result {
	r := &Result{}

	tbl, step := p.runLoad(req)
	r.Steps = append(r.Steps, step)
	if step.Err != nil {
		return r
	}

	plan, step := p.runConfigure(tbl, req.Options)
	r.Steps = append(r.Steps, step)
	if step.Err != nil {
		return r
	}

	n := tbl.Len()
	merges := max(n-1, 0)
	r.Steps = append(r.Steps, StepResult{
		Name:    "Cluster",
		Summary: fmt.Sprintf("[dry-run] Would merge %d rows in %d steps", n, merges),
	})
	r.Steps = append(r.Steps, StepResult{
		Name:    "Persist",
		Summary: fmt.Sprintf("[dry-run] Would store the run in %s", p.db.Path()),
	})

	export := "[dry-run] No output directory; nothing to export"
	if req.OutDir != "" {
		export = fmt.Sprintf("[dry-run] Would write %s, %s, %s and %s to %s",
			ResultFile, FusionFile, DendrogramFile, ReportFile, req.OutDir)
	}
	r.Steps = append(r.Steps, StepResult{Name: "Export", Summary: export})

	if plan.NumClusters > n && n > 0 {
		p.logger.Warnf("requested %d clusters but input has only %d rows", plan.NumClusters, n)
	}
	return r
}

func (p *Pipeline) runLoad(req Request) (*table.Table, StepResult) {
	p.logger.Info("Step 1/5: Loading input table...")
	tbl := req.Table
	if tbl == nil {
		var err error
		if tbl, err = table.ReadCSVFile(req.Input); err != nil {
			return nil, StepResult{Name: "Load", Err: err}
		}
	}
	numeric := len(tbl.Spec.NumericColumns())
	summary := fmt.Sprintf("Loaded %d rows with %d columns (%d numeric)", tbl.Len(), len(tbl.Spec.Columns), numeric)
	if src := req.source(); src != "" {
		summary += " from " + src
	}
	return tbl, StepResult{Name: "Load", Summary: summary}
}

func (p *Pipeline) runConfigure(tbl *table.Table, opts cluster.Options) (*cluster.Plan, StepResult) {
	p.logger.Info("Step 2/5: Validating settings...")
	plan, err := cluster.Configure(tbl.Spec, opts)
	if err != nil {
		return nil, StepResult{Name: "Configure", Err: err}
	}
	return plan, StepResult{
		Name: "Configure",
		Summary: fmt.Sprintf("%s linkage, %s distance over [%s], %d clusters",
			plan.Linkage, plan.Distance, strings.Join(plan.ColumnNames, ", "), plan.NumClusters),
	}
}

func (p *Pipeline) runCluster(ctx context.Context, tbl *table.Table, plan *cluster.Plan, progress cluster.ProgressFunc) (*cluster.Result, time.Duration, StepResult) {
	p.logger.Info("Step 3/5: Clustering rows...")
	start := time.Now()
	res, err := cluster.Execute(ctx, tbl, plan, progress, p.logger)
	elapsed := time.Since(start)
	if err != nil {
		status := metrics.StatusFailed
		if errors.Is(err, cluster.ErrCanceled) {
			status = metrics.StatusCanceled
		}
		p.metrics.ObserveFailure(plan.Linkage.String(), status)
		return nil, elapsed, StepResult{Name: "Cluster", Err: err}
	}
	p.metrics.ObserveResult(res, elapsed)

	summary := fmt.Sprintf("Merged %d rows into %d clusters in %s", tbl.Len(), res.NumClusters(), elapsed.Round(time.Millisecond))
	if res.Fallback && tbl.Len() > 0 {
		summary += fmt.Sprintf(" (requested %d)", plan.NumClusters)
	}
	return res, elapsed, StepResult{Name: "Cluster", Summary: summary}
}

func (p *Pipeline) runPersist(res *cluster.Result, source string, elapsed time.Duration) (*database.Run, StepResult) {
	p.logger.Info("Step 4/5: Storing run...")
	run, err := p.db.InsertRun(res, source, elapsed)
	if err != nil {
		return nil, StepResult{Name: "Persist", Err: err}
	}
	return run, StepResult{Name: "Persist", Summary: fmt.Sprintf("Stored run %s", run.RunID)}
}

func (p *Pipeline) runExport(res *cluster.Result, run *database.Run, outDir string) StepResult {
	if outDir == "" {
		return StepResult{Name: "Export", Summary: "Skipped (no output directory)"}
	}
	p.logger.Info("Step 5/5: Exporting results...")
	if err := Export(p.db, run.RunID, res, outDir); err != nil {
		return StepResult{Name: "Export", Err: err}
	}
	return StepResult{Name: "Export", Summary: fmt.Sprintf("Wrote results to %s", outDir)}
}

// Export writes the result table, fusion table, dendrogram and report of a
// stored run to dir. The report is built from the stored run so it shows
// exactly what was persisted.
func Export(db *database.DB, runID string, res *cluster.Result, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	if err := table.WriteCSVFile(filepath.Join(dir, ResultFile), res.Table); err != nil {
		return err
	}
	if err := table.WriteCSVFile(filepath.Join(dir, FusionFile), res.Fusion.Table()); err != nil {
		return err
	}

	stored, err := db.LoadRun(runID)
	if err != nil {
		return err
	}
	if err := WriteDendrogram(filepath.Join(dir, DendrogramFile), stored.Dendrogram, stored.Root); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, ReportFile), []byte(report.Compose(stored)), 0o644); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}

// WriteDendrogram saves the tree below root as a YAML settings document.
// Nothing is written for an empty tree.
func WriteDendrogram(path string, d *cluster.Dendrogram, root cluster.NodeID) error {
	if root == cluster.NoNode {
		return nil
	}
	s := settings.New("dendrogram")
	cluster.SaveDendrogram(d, root, s)
	data, err := settings.Encode(s)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing dendrogram: %w", err)
	}
	return nil
}
