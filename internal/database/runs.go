package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// InsertRunReport records a finished monitoring run.
func (db *DB) InsertRunReport(ctx context.Context, r *RunReport) error {
	errs := r.Errors
	if errs == nil {
		errs = []string{}
	}
	data, err := json.Marshal(errs)
	if err != nil {
		return fmt.Errorf("encoding run errors: %w", err)
	}
	r.ErrorsJSON = string(data)

	_, err = db.conn.NamedExecContext(ctx, `
		INSERT INTO run_reports
		(id, started_at, finished_at, demo, records_seen, changes_kept, duplicates, rejected,
		 changes_new, analyzed, analysis_failed, errors)
		VALUES
		(:id, :started_at, :finished_at, :demo, :records_seen, :changes_kept, :duplicates, :rejected,
		 :changes_new, :analyzed, :analysis_failed, :errors)`, r)
	if err != nil {
		return fmt.Errorf("inserting run report: %w", err)
	}
	return nil
}

// ListRunReports returns the most recent runs first.
func (db *DB) ListRunReports(ctx context.Context, limit int) ([]RunReport, error) {
	if limit < 1 {
		limit = 10
	}
	var reports []RunReport
	err := db.conn.SelectContext(ctx, &reports,
		"SELECT * FROM run_reports ORDER BY started_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("listing run reports: %w", err)
	}
	for i := range reports {
		decodeRunErrors(&reports[i])
	}
	return reports, nil
}

// LatestRunReport returns the most recent run, or nil if none.
func (db *DB) LatestRunReport(ctx context.Context) (*RunReport, error) {
	var r RunReport
	err := db.conn.GetContext(ctx, &r, "SELECT * FROM run_reports ORDER BY started_at DESC LIMIT 1")
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting latest run: %w", err)
	}
	decodeRunErrors(&r)
	return &r, nil
}

func decodeRunErrors(r *RunReport) {
	r.Errors = []string{}
	_ = json.Unmarshal([]byte(r.ErrorsJSON), &r.Errors)
}
