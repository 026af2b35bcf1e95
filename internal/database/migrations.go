package database

import "database/sql"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT UNIQUE NOT NULL,
    source TEXT,
    num_clusters INTEGER NOT NULL,
    linkage TEXT NOT NULL,
    distance TEXT NOT NULL,
    cache_distances INTEGER DEFAULT 0,
    columns TEXT NOT NULL,
    spec TEXT NOT NULL,
    row_count INTEGER DEFAULT 0,
    result_clusters INTEGER DEFAULT 0,
    fallback INTEGER DEFAULT 0,
    dendrogram TEXT,
    duration_ms INTEGER DEFAULT 0,
    created_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS run_rows (
    run_id INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    row_index INTEGER NOT NULL,
    row_key TEXT NOT NULL,
    cells TEXT NOT NULL,
    cluster TEXT NOT NULL,
    PRIMARY KEY (run_id, row_index)
);

CREATE TABLE IF NOT EXISTS fusion_entries (
    run_id INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    step INTEGER NOT NULL,
    clusters INTEGER NOT NULL,
    distance REAL NOT NULL,
    PRIMARY KEY (run_id, step)
);

CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);
CREATE INDEX IF NOT EXISTS idx_run_rows_cluster ON run_rows(run_id, cluster);
`)
			return err
		},
	},
	{
		Version:     2,
		Description: "run statistics",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS run_stats (
    run_id INTEGER PRIMARY KEY REFERENCES runs(id) ON DELETE CASCADE,
    merges INTEGER DEFAULT 0,
    distance_computations INTEGER DEFAULT 0,
    cache_hits INTEGER DEFAULT 0,
    cache_misses INTEGER DEFAULT 0
);
`)
			return err
		},
	},
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
