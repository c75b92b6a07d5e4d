package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/TobiSchelling/RegWatch/internal/analysis"
)

// AnalysisStore persists the analysis cache in the analysis_cache table.
type AnalysisStore struct {
	db *DB
}

var _ analysis.Store = (*AnalysisStore)(nil)

// AnalysisStore returns a cache store backed by this database.
func (db *DB) AnalysisStore() *AnalysisStore {
	return &AnalysisStore{db: db}
}

// Location returns the database path.
func (s *AnalysisStore) Location() string {
	return s.db.path + "#analysis_cache"
}

type analysisRow struct {
	ChangeID string `db:"change_id"`
	Analysis string `db:"analysis"`
	CachedAt string `db:"cached_at"`
}

// Load reads every cached analysis.
func (s *AnalysisStore) Load(ctx context.Context) (map[string]analysis.Entry, error) {
	var rows []analysisRow
	if err := s.db.conn.SelectContext(ctx, &rows, "SELECT change_id, analysis, cached_at FROM analysis_cache"); err != nil {
		return nil, fmt.Errorf("loading analyses: %w", err)
	}

	entries := make(map[string]analysis.Entry, len(rows))
	for _, r := range rows {
		e, err := r.toEntry()
		if err != nil {
			return nil, err
		}
		entries[r.ChangeID] = e
	}
	return entries, nil
}

// Get reads the cached analysis for one change.
func (s *AnalysisStore) Get(ctx context.Context, id string) (analysis.Entry, bool, error) {
	var r analysisRow
	err := s.db.conn.GetContext(ctx, &r,
		"SELECT change_id, analysis, cached_at FROM analysis_cache WHERE change_id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return analysis.Entry{}, false, nil
	}
	if err != nil {
		return analysis.Entry{}, false, fmt.Errorf("getting analysis for %s: %w", id, err)
	}
	e, err := r.toEntry()
	if err != nil {
		return analysis.Entry{}, false, err
	}
	return e, true, nil
}

// Put inserts or replaces the analysis for one change, leaving other rows
// untouched.
func (s *AnalysisStore) Put(ctx context.Context, e analysis.Entry) error {
	data, err := json.Marshal(e.Analysis)
	if err != nil {
		return fmt.Errorf("encoding analysis for %s: %w", e.ChangeID, err)
	}
	_, err = s.db.conn.ExecContext(ctx, `
		INSERT INTO analysis_cache (change_id, analysis, cached_at) VALUES (?, ?, ?)
		ON CONFLICT(change_id) DO UPDATE SET analysis = excluded.analysis, cached_at = excluded.cached_at`,
		e.ChangeID, string(data), e.CachedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("storing analysis for %s: %w", e.ChangeID, err)
	}
	return nil
}

func (r analysisRow) toEntry() (analysis.Entry, error) {
	var result analysis.Result
	if err := json.Unmarshal([]byte(r.Analysis), &result); err != nil {
		return analysis.Entry{}, fmt.Errorf("decoding analysis for %s: %w", r.ChangeID, err)
	}
	cachedAt, err := time.Parse(time.RFC3339Nano, r.CachedAt)
	if err != nil {
		return analysis.Entry{}, fmt.Errorf("parsing cached_at for %s: %w", r.ChangeID, err)
	}
	return analysis.Entry{ChangeID: r.ChangeID, Analysis: result, CachedAt: cachedAt}, nil
}

// Save replaces the stored analyses with entries.
func (s *AnalysisStore) Save(ctx context.Context, entries map[string]analysis.Entry) error {
	tx, err := s.db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM analysis_cache"); err != nil {
		return fmt.Errorf("clearing analyses: %w", err)
	}
	for id, e := range entries {
		data, err := json.Marshal(e.Analysis)
		if err != nil {
			return fmt.Errorf("encoding analysis for %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO analysis_cache (change_id, analysis, cached_at) VALUES (?, ?, ?)",
			id, string(data), e.CachedAt.UTC().Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("storing analysis for %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing analyses: %w", err)
	}
	return nil
}

// Clear deletes every cached analysis.
func (s *AnalysisStore) Clear(ctx context.Context) error {
	if _, err := s.db.conn.ExecContext(ctx, "DELETE FROM analysis_cache"); err != nil {
		return fmt.Errorf("clearing analyses: %w", err)
	}
	return nil
}
