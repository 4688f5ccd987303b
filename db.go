package main

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
)

// InitDB opens the local sqlite database and creates the schema. One file
// holds the extraction cache, the review queue and the run trail; it
// survives restarts and is safe to delete (only cached work is lost).
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS extraction_cache (
		doc_id      INTEGER NOT NULL,
		fingerprint TEXT NOT NULL,
		template_id TEXT NOT NULL,
		level       INTEGER NOT NULL,
		payload     TEXT NOT NULL,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (doc_id, fingerprint, template_id, level)
	);

	CREATE TABLE IF NOT EXISTS review_items (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		doc_id     INTEGER NOT NULL,
		decisions  TEXT NOT NULL,
		status     TEXT NOT NULL DEFAULT 'pending',
		note       TEXT DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_review_doc ON review_items(doc_id);
	CREATE INDEX IF NOT EXISTS idx_review_status ON review_items(status);

	CREATE TABLE IF NOT EXISTS run_trail (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		doc_id      INTEGER NOT NULL,
		fingerprint TEXT NOT NULL,
		template_id TEXT NOT NULL,
		levels      TEXT DEFAULT '',
		snapshot    TEXT DEFAULT '',
		decisions   TEXT DEFAULT '',
		plan        TEXT DEFAULT '',
		applied     INTEGER NOT NULL DEFAULT 0,
		verified    INTEGER NOT NULL DEFAULT 0,
		dry_run     INTEGER NOT NULL DEFAULT 0,
		error       TEXT DEFAULT '',
		elapsed_ms  INTEGER NOT NULL DEFAULT 0,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_trail_doc ON run_trail(doc_id);
	CREATE INDEX IF NOT EXISTS idx_trail_date ON run_trail(created_at);

	CREATE TABLE IF NOT EXISTS incidents (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		doc_id     INTEGER NOT NULL,
		field      TEXT NOT NULL,
		intended   TEXT DEFAULT '',
		observed   TEXT DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_incidents_doc ON incidents(doc_id);
	`
	_, err = db.Exec(schema)
	if err != nil {
		return nil, err
	}
	return db, nil
}
