package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/TobiSchelling/RegWatch/internal/ingest"
	"github.com/TobiSchelling/RegWatch/internal/risk"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

const changeColumns = `id, source_id, source_name, title, content, matched_keywords,
	risk_level, detected_at, affected_sector, link, first_seen_at`

// InsertChanges stores changes that are not yet known. Stored changes are
// never updated. Returns the changes that were new.
func (db *DB) InsertChanges(ctx context.Context, changes []ingest.Change) ([]ingest.Change, error) {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx,
		`INSERT OR IGNORE INTO changes
		(id, source_id, source_name, title, content, matched_keywords, risk_level, detected_at, affected_sector, link)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	var inserted []ingest.Change
	for _, c := range changes {
		keywords, err := json.Marshal(c.MatchedKeywords)
		if err != nil {
			return nil, fmt.Errorf("encoding keywords for %s: %w", c.ID, err)
		}
		res, err := stmt.ExecContext(ctx,
			c.ID, c.SourceID, c.SourceName, c.Title, c.Content, string(keywords),
			string(c.RiskLevel), c.DetectedAt, c.AffectedSector, c.Link,
		)
		if err != nil {
			return nil, fmt.Errorf("inserting change %s: %w", c.ID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted = append(inserted, c)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing changes: %w", err)
	}
	return inserted, nil
}

// GetChange returns a change by id, or nil if unknown.
func (db *DB) GetChange(ctx context.Context, id string) (*ingest.Change, error) {
	var row changeRow
	err := db.conn.GetContext(ctx, &row, "SELECT "+changeColumns+" FROM changes WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting change %s: %w", id, err)
	}
	c := row.toChange()
	return &c, nil
}

// ListChanges returns a page of changes, newest first.
func (db *DB) ListChanges(ctx context.Context, f ChangeFilter) (*ChangePage, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = defaultPageSize
	}
	if f.Limit > maxPageSize {
		f.Limit = maxPageSize
	}

	countQuery, countArgs, err := applyFilter(sq.Select("COUNT(*)").From("changes"), f).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building count query: %w", err)
	}
	var total int
	if err := db.conn.GetContext(ctx, &total, countQuery, countArgs...); err != nil {
		return nil, fmt.Errorf("counting changes: %w", err)
	}

	query, args, err := applyFilter(sq.Select(changeColumns).From("changes"), f).
		OrderBy("detected_at DESC", "first_seen_at DESC", "id").
		Limit(uint64(f.Limit)).
		Offset(uint64((f.Page - 1) * f.Limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building list query: %w", err)
	}

	var rows []changeRow
	if err := db.conn.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("listing changes: %w", err)
	}

	page := &ChangePage{
		Changes:    make([]ingest.Change, 0, len(rows)),
		Total:      total,
		Page:       f.Page,
		Limit:      f.Limit,
		TotalPages: (total + f.Limit - 1) / f.Limit,
	}
	for _, r := range rows {
		page.Changes = append(page.Changes, r.toChange())
	}
	return page, nil
}

func applyFilter(b sq.SelectBuilder, f ChangeFilter) sq.SelectBuilder {
	if len(f.RiskLevels) > 0 {
		levels := make([]string, len(f.RiskLevels))
		for i, lv := range f.RiskLevels {
			levels[i] = string(lv)
		}
		b = b.Where(sq.Eq{"risk_level": levels})
	}
	if f.SourceID != "" {
		b = b.Where(sq.Eq{"source_id": f.SourceID})
	}
	if f.Search != "" {
		pattern := "%" + f.Search + "%"
		b = b.Where(sq.Or{sq.Like{"title": pattern}, sq.Like{"content": pattern}})
	}
	return b
}

// GetStats returns monitoring statistics relative to now.
func (db *DB) GetStats(ctx context.Context, now time.Time) (*Stats, error) {
	s := &Stats{}
	month := now.UTC().Format("2006-01")

	err := db.conn.QueryRowxContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(DISTINCT source_id),
			COALESCE(SUM(CASE WHEN substr(detected_at, 1, 7) = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN risk_level IN (?, ?) THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN risk_level = ? THEN 1 ELSE 0 END), 0)
		FROM changes`,
		month, string(risk.High), string(risk.Critical), string(risk.Critical),
	).Scan(&s.TotalChanges, &s.SourcesMonitored, &s.ChangesThisMonth, &s.HighRiskAlerts, &s.CriticalAlerts)
	if err != nil {
		return nil, fmt.Errorf("computing change stats: %w", err)
	}

	if err := db.conn.GetContext(ctx, &s.AnalysesCached, "SELECT COUNT(*) FROM analysis_cache"); err != nil {
		return nil, fmt.Errorf("counting analyses: %w", err)
	}

	var last sql.NullString
	if err := db.conn.GetContext(ctx, &last, "SELECT MAX(finished_at) FROM run_reports"); err != nil {
		return nil, fmt.Errorf("reading last run: %w", err)
	}
	s.LastRunAt = last.String

	s.TotalSources = s.SourcesMonitored
	return s, nil
}
