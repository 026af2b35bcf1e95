package database

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// BusyTimeoutMS is how long a connection waits on a lock held by another
// process, such as the server and a CLI run sharing one database file.
const BusyTimeoutMS = 5000

// DB wraps the run store's SQLite connection pool.
type DB struct {
	conn    *sql.DB
	path    string
	version int
}

// Open creates or opens the run store at dbPath and migrates it to the
// latest schema. Pragmas are passed in the DSN so every pooled connection
// gets them.
func Open(dbPath string) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	conn, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening database %s: %w", dbPath, err)
	}

	if err := migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}
	version, err := getSchemaVersion(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"path":    dbPath,
		"version": version,
	}).Debug("run store opened")
	return &DB{conn: conn, path: dbPath, version: version}, nil
}

func dsn(path string) string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", BusyTimeoutMS))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "foreign_keys(1)")
	return path + "?" + q.Encode()
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// SchemaVersion returns the schema version the store was migrated to.
func (db *DB) SchemaVersion() int {
	return db.version
}
