package database

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/TobiSchelling/hiercluster/internal/cluster"
	"github.com/TobiSchelling/hiercluster/internal/settings"
	"github.com/TobiSchelling/hiercluster/internal/table"
)

// dendrogramKey names the root settings block of a stored dendrogram.
const dendrogramKey = "dendrogram"

var (
	ErrRunNotFound  = errors.New("run not found")
	ErrAmbiguousRun = errors.New("run id prefix matches more than one run")
)

const runColumns = `id, run_id, source, num_clusters, linkage, distance, cache_distances,
	columns, row_count, result_clusters, fallback, duration_ms, created_at`

// InsertRun stores a finished clustering result and returns its summary.
// The input rows are stored without the cluster column, which is kept
// per row as its label.
func (db *DB) InsertRun(res *cluster.Result, source string, duration time.Duration) (*Run, error) {
	inputCols := res.Table.Spec.Columns[:len(res.Table.Spec.Columns)-1]
	specJSON, err := json.Marshal(table.Spec{Columns: inputCols})
	if err != nil {
		return nil, fmt.Errorf("encoding spec: %w", err)
	}
	colsJSON, err := json.Marshal(res.Plan.ColumnNames)
	if err != nil {
		return nil, fmt.Errorf("encoding columns: %w", err)
	}

	var tree *string
	if res.Root != cluster.NoNode {
		s := settings.New(dendrogramKey)
		cluster.SaveDendrogram(res.Dendrogram, res.Root, s)
		data, err := settings.Encode(s)
		if err != nil {
			return nil, err
		}
		encoded := string(data)
		tree = &encoded
	}

	run := &Run{
		RunID:          uuid.NewString(),
		NumClusters:    res.Plan.NumClusters,
		Linkage:        res.Plan.Linkage.String(),
		Distance:       res.Plan.Distance.String(),
		CacheDistances: res.Plan.CacheDistances,
		Columns:        res.Plan.ColumnNames,
		RowCount:       res.Table.Len(),
		ResultClusters: res.NumClusters(),
		Fallback:       res.Fallback,
		DurationMS:     duration.Milliseconds(),
	}
	if source != "" {
		run.Source = &source
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	result, err := tx.Exec(
		`INSERT INTO runs (run_id, source, num_clusters, linkage, distance, cache_distances,
		columns, spec, row_count, result_clusters, fallback, dendrogram, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.Source, run.NumClusters, run.Linkage, run.Distance, boolToInt(run.CacheDistances),
		string(colsJSON), string(specJSON), run.RowCount, run.ResultClusters, boolToInt(run.Fallback),
		tree, run.DurationMS,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting run: %w", err)
	}
	run.ID, err = result.LastInsertId()
	if err != nil {
		return nil, err
	}

	rowStmt, err := tx.Prepare(
		"INSERT INTO run_rows (run_id, row_index, row_key, cells, cluster) VALUES (?, ?, ?, ?, ?)",
	)
	if err != nil {
		return nil, err
	}
	defer rowStmt.Close()
	for i, r := range res.Table.Rows() {
		last := len(r.Cells) - 1
		cells, err := json.Marshal(r.Cells[:last])
		if err != nil {
			return nil, fmt.Errorf("encoding row %q: %w", r.Key, err)
		}
		if _, err := rowStmt.Exec(run.ID, i, r.Key, string(cells), r.Cells[last].Raw); err != nil {
			return nil, fmt.Errorf("inserting row %q: %w", r.Key, err)
		}
	}

	for step, e := range res.Fusion {
		if _, err := tx.Exec(
			"INSERT INTO fusion_entries (run_id, step, clusters, distance) VALUES (?, ?, ?, ?)",
			run.ID, step, e.Clusters, e.Distance,
		); err != nil {
			return nil, fmt.Errorf("inserting fusion step %d: %w", step, err)
		}
	}

	if _, err := tx.Exec(
		`INSERT INTO run_stats (run_id, merges, distance_computations, cache_hits, cache_misses)
		VALUES (?, ?, ?, ?, ?)`,
		run.ID, res.Stats.Merges, res.Stats.DistanceComputations, res.Stats.CacheHits, res.Stats.CacheMisses,
	); err != nil {
		return nil, fmt.Errorf("inserting run stats: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	// created_at is filled in by SQLite
	return db.GetRun(run.RunID)
}

// ResolveRunID expands a run id prefix to the full run id.
func (db *DB) ResolveRunID(prefix string) (string, error) {
	if prefix == "" {
		return "", ErrRunNotFound
	}
	rows, err := db.conn.Query(
		"SELECT run_id FROM runs WHERE substr(run_id, 1, ?) = ? LIMIT 2", len(prefix), prefix,
	)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	switch len(ids) {
	case 0:
		return "", fmt.Errorf("%w: %s", ErrRunNotFound, prefix)
	case 1:
		return ids[0], nil
	default:
		return "", fmt.Errorf("%w: %s", ErrAmbiguousRun, prefix)
	}
}

// GetRun returns a run summary by full run id, or nil if it does not exist.
func (db *DB) GetRun(runID string) (*Run, error) {
	row := db.conn.QueryRow("SELECT "+runColumns+" FROM runs WHERE run_id = ?", runID)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// ListRuns returns all runs, newest first.
func (db *DB) ListRuns() ([]Run, error) {
	rows, err := db.conn.Query("SELECT " + runColumns + " FROM runs ORDER BY id DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// DeleteRun removes a run and everything stored for it. It reports whether
// the run existed.
func (db *DB) DeleteRun(runID string) (bool, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var id int64
	if err := tx.QueryRow("SELECT id FROM runs WHERE run_id = ?", runID).Scan(&id); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}

	for _, q := range []string{
		"DELETE FROM run_rows WHERE run_id = ?",
		"DELETE FROM fusion_entries WHERE run_id = ?",
		"DELETE FROM run_stats WHERE run_id = ?",
		"DELETE FROM runs WHERE id = ?",
	} {
		if _, err := tx.Exec(q, id); err != nil {
			return false, err
		}
	}
	return true, tx.Commit()
}

// GetFusion returns the fusion curve of a run in merge order.
func (db *DB) GetFusion(id int64) (cluster.FusionCurve, error) {
	rows, err := db.conn.Query(
		"SELECT clusters, distance FROM fusion_entries WHERE run_id = ? ORDER BY step", id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	curve := cluster.FusionCurve{}
	for rows.Next() {
		var e cluster.FusionEntry
		if err := rows.Scan(&e.Clusters, &e.Distance); err != nil {
			return nil, err
		}
		curve = append(curve, e)
	}
	return curve, rows.Err()
}

// GetClusterSizes returns the row count per cluster label, ordered by label position.
func (db *DB) GetClusterSizes(id int64) ([]ClusterSize, error) {
	rows, err := db.conn.Query(
		`SELECT cluster, COUNT(*) FROM run_rows WHERE run_id = ?
		GROUP BY cluster ORDER BY MIN(row_index)`, id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sizes []ClusterSize
	for rows.Next() {
		var s ClusterSize
		if err := rows.Scan(&s.Label, &s.Size); err != nil {
			return nil, err
		}
		sizes = append(sizes, s)
	}
	return sizes, rows.Err()
}

// GetRunStats returns the work counters of a run.
func (db *DB) GetRunStats(id int64) (RunStats, error) {
	var s RunStats
	err := db.conn.QueryRow(
		`SELECT merges, distance_computations, cache_hits, cache_misses
		FROM run_stats WHERE run_id = ?`, id,
	).Scan(&s.Merges, &s.DistanceComputations, &s.CacheHits, &s.CacheMisses)
	if err == sql.ErrNoRows {
		return RunStats{}, nil
	}
	return s, err
}

// LoadRun rebuilds a stored run: the input table in original row order,
// the cluster labels, the fusion curve and the dendrogram.
func (db *DB) LoadRun(runID string) (*StoredRun, error) {
	var (
		specJSON string
		tree     sql.NullString
	)
	row := db.conn.QueryRow("SELECT spec, dendrogram FROM runs WHERE run_id = ?", runID)
	if err := row.Scan(&specJSON, &tree); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, err
	}

	run, err := db.GetRun(runID)
	if err != nil {
		return nil, err
	}

	var spec table.Spec
	if err := json.Unmarshal([]byte(specJSON), &spec); err != nil {
		return nil, fmt.Errorf("decoding spec of run %s: %w", runID, err)
	}

	stored := &StoredRun{Run: *run, Input: table.New(spec), Root: cluster.NoNode}
	if err := db.loadRows(stored); err != nil {
		return nil, fmt.Errorf("loading rows of run %s: %w", runID, err)
	}

	if stored.Fusion, err = db.GetFusion(run.ID); err != nil {
		return nil, fmt.Errorf("loading fusion curve of run %s: %w", runID, err)
	}
	if stored.Stats, err = db.GetRunStats(run.ID); err != nil {
		return nil, fmt.Errorf("loading stats of run %s: %w", runID, err)
	}

	if tree.Valid {
		s, err := settings.Decode(dendrogramKey, []byte(tree.String))
		if err != nil {
			return nil, fmt.Errorf("run %s: %w", runID, err)
		}
		stored.Dendrogram, stored.Root, err = cluster.LoadDendrogram(s, stored.Input)
		if err != nil {
			return nil, fmt.Errorf("run %s: %w", runID, err)
		}
	} else {
		stored.Dendrogram = cluster.NewDendrogram(0)
	}
	return stored, nil
}

func (db *DB) loadRows(stored *StoredRun) error {
	rows, err := db.conn.Query(
		"SELECT row_key, cells, cluster FROM run_rows WHERE run_id = ? ORDER BY row_index", stored.ID,
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			r         table.Row
			cellsJSON string
			label     string
		)
		if err := rows.Scan(&r.Key, &cellsJSON, &label); err != nil {
			return err
		}
		if err := json.Unmarshal([]byte(cellsJSON), &r.Cells); err != nil {
			return fmt.Errorf("decoding row %q: %w", r.Key, err)
		}
		if err := stored.Input.AddRow(r); err != nil {
			return err
		}
		stored.Labels = append(stored.Labels, label)
	}
	return rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var (
		r        Run
		cache    int
		fallback int
		cols     string
	)
	if err := row.Scan(&r.ID, &r.RunID, &r.Source, &r.NumClusters, &r.Linkage, &r.Distance, &cache,
		&cols, &r.RowCount, &r.ResultClusters, &fallback, &r.DurationMS, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.CacheDistances = cache != 0
	r.Fallback = fallback != 0
	if err := json.Unmarshal([]byte(cols), &r.Columns); err != nil {
		return nil, fmt.Errorf("decoding columns of run %s: %w", r.RunID, err)
	}
	return &r, nil
}

// GetStats returns aggregate database statistics.
func (db *DB) GetStats() (*Stats, error) {
	s := &Stats{}

	queries := []struct {
		sql  string
		dest *int
	}{
		{"SELECT COUNT(*) FROM runs", &s.Runs},
		{"SELECT COUNT(*) FROM run_rows", &s.Rows},
		{"SELECT COUNT(*) FROM fusion_entries", &s.FusionSteps},
	}

	for _, q := range queries {
		if err := db.conn.QueryRow(q.sql).Scan(q.dest); err != nil {
			return nil, err
		}
	}

	if err := db.conn.QueryRow("SELECT MAX(created_at) FROM runs").Scan(&s.LastRun); err != nil {
		return nil, err
	}
	return s, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
