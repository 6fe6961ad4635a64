// Package ledger records which template produced which output file from
// which project item. It lets the generator delete outputs a template no
// longer produces and lets the registry find templates that depended on an
// item after that item lost the kinds it was bound through.
package ledger

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS outputs (
	path       TEXT PRIMARY KEY,
	template   TEXT NOT NULL,
	source     TEXT NOT NULL DEFAULT '',
	checksum   TEXT NOT NULL DEFAULT '',
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_outputs_template ON outputs(template);
CREATE INDEX IF NOT EXISTS idx_outputs_source ON outputs(source);
`

// Journal is the ledger surface consumed by the generator and the API.
type Journal interface {
	Record(r Row) error
	Delete(path string) error
	ByTemplate(template string) ([]Row, error)
	DeleteTemplate(template string) error
	TemplatesForSource(source string) ([]string, error)
	RenameSource(oldSource, newSource string) error
	Owner(path string) (string, bool, error)
	All() ([]Row, error)
	Close() error
}

var _ Journal = (*DB)(nil)

// Row is one produced output.
type Row struct {
	Path      string    `json:"path"`
	Template  string    `json:"template"`
	Source    string    `json:"source"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DB is a sqlite-backed Journal.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the ledger database and applies the schema.
// Use ":memory:" for a throwaway ledger.
func Open(dsn string) (*DB, error) {
	if dsn != ":memory:" {
		dsn += "?_journal_mode=WAL&_busy_timeout=5000"
	}
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("ledger: open db: %w", err)
	}
	if dsn == ":memory:" {
		// Every pooled connection would otherwise get its own database.
		conn.SetMaxOpenConns(1)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ledger: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ledger: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Record inserts or replaces the row for r.Path.
func (db *DB) Record(r Row) error {
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = time.Now().UTC()
	}
	_, err := db.conn.Exec(`
		INSERT INTO outputs (path, template, source, checksum, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			template   = excluded.template,
			source     = excluded.source,
			checksum   = excluded.checksum,
			updated_at = excluded.updated_at
	`, r.Path, r.Template, r.Source, r.Checksum, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("ledger: record %s: %w", r.Path, err)
	}
	return nil
}

// Delete forgets one output.
func (db *DB) Delete(path string) error {
	if _, err := db.conn.Exec(`DELETE FROM outputs WHERE path = ?`, path); err != nil {
		return fmt.Errorf("ledger: delete %s: %w", path, err)
	}
	return nil
}

// DeleteTemplate forgets every output of a template.
func (db *DB) DeleteTemplate(template string) error {
	if _, err := db.conn.Exec(`DELETE FROM outputs WHERE template = ?`, template); err != nil {
		return fmt.Errorf("ledger: delete template %s: %w", template, err)
	}
	return nil
}

// ByTemplate returns the outputs a template produced, ordered by path.
func (db *DB) ByTemplate(template string) ([]Row, error) {
	return db.query(`SELECT path, template, source, checksum, updated_at
		FROM outputs WHERE template = ? ORDER BY path`, template)
}

// All returns every recorded output, ordered by path.
func (db *DB) All() ([]Row, error) {
	return db.query(`SELECT path, template, source, checksum, updated_at
		FROM outputs ORDER BY path`)
}

// TemplatesForSource returns the templates that produced output from source.
func (db *DB) TemplatesForSource(source string) ([]string, error) {
	rows, err := db.conn.Query(`SELECT DISTINCT template FROM outputs WHERE source = ? ORDER BY template`, source)
	if err != nil {
		return nil, fmt.Errorf("ledger: templates for %s: %w", source, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// RenameSource re-keys every row produced from oldSource.
func (db *DB) RenameSource(oldSource, newSource string) error {
	if _, err := db.conn.Exec(`UPDATE outputs SET source = ? WHERE source = ?`, newSource, oldSource); err != nil {
		return fmt.Errorf("ledger: rename source %s: %w", oldSource, err)
	}
	return nil
}

// Owner returns the template that produced path.
func (db *DB) Owner(path string) (string, bool, error) {
	var t string
	err := db.conn.QueryRow(`SELECT template FROM outputs WHERE path = ?`, path).Scan(&t)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("ledger: owner %s: %w", path, err)
	}
	return t, true, nil
}

func (db *DB) query(q string, args ...any) ([]Row, error) {
	rows, err := db.conn.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: query: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.Path, &r.Template, &r.Source, &r.Checksum, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
