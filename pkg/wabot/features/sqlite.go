package features

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// SQLitePersister keeps flag values in a feature_flags table.
type SQLitePersister struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and ensures the table
// exists. The same file may also hold the WhatsApp session tables.
func OpenSQLite(path string) (*SQLitePersister, error) {
	if path == "" {
		path = "./data/wabot.db"
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create database directory %q: %w", dir, err)
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path))
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS feature_flags (
			name       TEXT PRIMARY KEY,
			enabled    INTEGER NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create feature_flags table: %w", err)
	}

	return &SQLitePersister{db: db}, nil
}

// Load returns every stored flag.
func (p *SQLitePersister) Load(ctx context.Context) (map[string]bool, error) {
	rows, err := p.db.QueryContext(ctx, "SELECT name, enabled FROM feature_flags")
	if err != nil {
		return nil, fmt.Errorf("query feature_flags: %w", err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var name string
		var enabled bool
		if err := rows.Scan(&name, &enabled); err != nil {
			return nil, fmt.Errorf("scan feature_flags: %w", err)
		}
		out[name] = enabled
	}
	return out, rows.Err()
}

// Save upserts one flag.
func (p *SQLitePersister) Save(ctx context.Context, name string, enabled bool) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO feature_flags (name, enabled, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(name) DO UPDATE SET enabled = excluded.enabled, updated_at = CURRENT_TIMESTAMP
	`, name, enabled)
	if err != nil {
		return fmt.Errorf("save feature %q: %w", name, err)
	}
	return nil
}

// Close closes the database.
func (p *SQLitePersister) Close() error {
	return p.db.Close()
}
