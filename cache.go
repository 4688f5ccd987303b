package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// CacheStore memoizes per-level extraction fragments. Entries are keyed on
// (doc id, content fingerprint, template id, level) and never expire: a
// fragment is a pure function of its key, so re-edited content or a changed
// template naturally misses.
type CacheStore struct {
	db *sql.DB
}

func NewCacheStore(db *sql.DB) *CacheStore {
	return &CacheStore{db: db}
}

// Get returns the cached fragment for the key, or ok=false on miss. A
// corrupt payload is treated as a miss rather than an error: the level
// simply re-runs and overwrites it.
func (c *CacheStore) Get(docID int, fingerprint, templateID string, level Level) (map[string]ExtractedField, bool, error) {
	var payload string
	err := c.db.QueryRow(
		`SELECT payload FROM extraction_cache
		 WHERE doc_id = ? AND fingerprint = ? AND template_id = ? AND level = ?`,
		docID, fingerprint, templateID, int(level),
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get doc=%d level=%s: %w", docID, level, err)
	}

	var fragment map[string]ExtractedField
	if err := json.Unmarshal([]byte(payload), &fragment); err != nil {
		return nil, false, nil
	}
	return fragment, true, nil
}

// Put stores a level's fragment. INSERT OR REPLACE keeps writes idempotent:
// two runs on the same key write identical content, so concurrent workers
// cannot corrupt an entry.
func (c *CacheStore) Put(docID int, fingerprint, templateID string, level Level, fragment map[string]ExtractedField) error {
	payload, err := json.Marshal(fragment)
	if err != nil {
		return fmt.Errorf("cache marshal doc=%d level=%s: %w", docID, level, err)
	}
	_, err = c.db.Exec(
		`INSERT OR REPLACE INTO extraction_cache (doc_id, fingerprint, template_id, level, payload)
		 VALUES (?, ?, ?, ?, ?)`,
		docID, fingerprint, templateID, int(level), string(payload),
	)
	if err != nil {
		return fmt.Errorf("cache put doc=%d level=%s: %w", docID, level, err)
	}
	return nil
}

// Purge drops every cached fragment for a document, all fingerprints. Used
// when an operator wants a clean reprocess.
func (c *CacheStore) Purge(docID int) (int64, error) {
	res, err := c.db.Exec(`DELETE FROM extraction_cache WHERE doc_id = ?`, docID)
	if err != nil {
		return 0, fmt.Errorf("cache purge doc=%d: %w", docID, err)
	}
	return res.RowsAffected()
}
