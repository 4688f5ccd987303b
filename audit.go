package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"
)

// Trail persists one row per pipeline run: the pre-change snapshot
// metadata, the decisions, the applied diff and the post-verify outcome.
// Verification mismatches land in a separate incidents table.
type Trail struct {
	db *sql.DB
}

func NewTrail(db *sql.DB) *Trail {
	return &Trail{db: db}
}

// trailSnapshot is the snapshot metadata worth keeping per run. Content is
// excluded: the fingerprint identifies it and the store retains it.
type trailSnapshot struct {
	Title         string            `json:"title"`
	Correspondent string            `json:"correspondent,omitempty"`
	DocumentType  string            `json:"document_type,omitempty"`
	Tags          []string          `json:"tags,omitempty"`
	CustomFields  map[string]string `json:"custom_fields,omitempty"`
	OCRChars      int               `json:"ocr_chars"`
	OCRAlnumRatio float64           `json:"ocr_alnum_ratio"`
}

// RecordRun writes the run trail row. Trail failures are logged, never
// propagated: observability must not fail a commit that already happened.
func (t *Trail) RecordRun(snap DocumentSnapshot, res RunResult, dryRun bool) {
	snapJSON, _ := json.Marshal(trailSnapshot{
		Title:         snap.Title,
		Correspondent: snap.Correspondent,
		DocumentType:  snap.DocumentType,
		Tags:          snap.TagNames,
		CustomFields:  snap.CustomFields,
		OCRChars:      snap.Quality.CharCount,
		OCRAlnumRatio: snap.Quality.AlnumRatio,
	})
	decisionsJSON, _ := json.Marshal(res.Decisions)
	planJSON, _ := json.Marshal(res.Plan)

	levels := make([]string, len(res.LevelsRun))
	for i, l := range res.LevelsRun {
		levels[i] = l.String()
	}
	errText := ""
	if res.Err != nil {
		errText = res.Err.Error()
	}

	_, err := t.db.Exec(
		`INSERT INTO run_trail
		 (doc_id, fingerprint, template_id, levels, snapshot, decisions, plan, applied, verified, dry_run, error, elapsed_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.DocID, res.Fingerprint, res.Template, strings.Join(levels, ","),
		string(snapJSON), string(decisionsJSON), string(planJSON),
		boolInt(res.Applied), boolInt(res.Verified), boolInt(dryRun),
		errText, res.Elapsed.Milliseconds(),
	)
	if err != nil {
		log.Printf("trail record failed doc=%d err=%v", res.DocID, err)
	}
}

// RecordIncident persists a verification mismatch.
func (t *Trail) RecordIncident(m *VerificationMismatch) {
	_, err := t.db.Exec(
		`INSERT INTO incidents (doc_id, field, intended, observed) VALUES (?, ?, ?, ?)`,
		m.DocID, m.Field, m.Intended, m.Observed,
	)
	if err != nil {
		log.Printf("incident record failed doc=%d err=%v", m.DocID, err)
	}
}

// TrailEntry is one run_trail row as shown by the info command.
type TrailEntry struct {
	ID        int64
	DocID     int
	Template  string
	Levels    string
	Applied   bool
	Verified  bool
	DryRun    bool
	Error     string
	ElapsedMS int64
	CreatedAt time.Time
}

func (t *Trail) RecentRuns(limit int) ([]TrailEntry, error) {
	rows, err := t.db.Query(
		`SELECT id, doc_id, template_id, levels, applied, verified, dry_run, error, elapsed_ms, created_at
		 FROM run_trail ORDER BY created_at DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TrailEntry
	for rows.Next() {
		var e TrailEntry
		var applied, verified, dryRun int
		if err := rows.Scan(&e.ID, &e.DocID, &e.Template, &e.Levels,
			&applied, &verified, &dryRun, &e.Error, &e.ElapsedMS, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Applied = applied == 1
		e.Verified = verified == 1
		e.DryRun = dryRun == 1
		out = append(out, e)
	}
	return out, rows.Err()
}

// TrailStats summarizes the trail for the info command.
type TrailStats struct {
	TotalRuns     int
	Applied       int
	DryRuns       int
	Failed        int
	Incidents     int
	PendingReview int
}

func (t *Trail) Stats() (TrailStats, error) {
	var s TrailStats
	err := t.db.QueryRow(
		`SELECT COUNT(*),
		        COALESCE(SUM(applied), 0),
		        COALESCE(SUM(dry_run), 0),
		        COALESCE(SUM(CASE WHEN error <> '' THEN 1 ELSE 0 END), 0)
		 FROM run_trail`,
	).Scan(&s.TotalRuns, &s.Applied, &s.DryRuns, &s.Failed)
	if err != nil {
		return s, err
	}
	if err := t.db.QueryRow(`SELECT COUNT(*) FROM incidents`).Scan(&s.Incidents); err != nil {
		return s, err
	}
	err = t.db.QueryRow(
		`SELECT COUNT(*) FROM review_items WHERE status = ?`, ReviewPending,
	).Scan(&s.PendingReview)
	return s, err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func fmtTrailEntry(e TrailEntry) string {
	status := "computed"
	switch {
	case e.Error != "":
		status = "failed"
	case e.DryRun:
		status = "dry-run"
	case e.Applied && e.Verified:
		status = "applied+verified"
	case e.Applied:
		status = "applied"
	}
	return fmt.Sprintf("#%d doc=%d template=%s levels=[%s] %s %dms %s",
		e.ID, e.DocID, e.Template, e.Levels, status, e.ElapsedMS,
		e.CreatedAt.Format("2006-01-02 15:04"))
}
