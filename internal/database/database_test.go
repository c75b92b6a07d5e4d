package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/TobiSchelling/RegWatch/internal/analysis"
	"github.com/TobiSchelling/RegWatch/internal/ingest"
	"github.com/TobiSchelling/RegWatch/internal/risk"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testChange(id string, level risk.Level, detectedAt string) ingest.Change {
	return ingest.Change{
		ID:              id,
		SourceID:        "meity",
		SourceName:      "MeitY Press Release",
		Title:           "Personal data protection update " + id,
		Content:         "Body for " + id,
		MatchedKeywords: []string{"data", "personal", "protection"},
		RiskLevel:       level,
		DetectedAt:      detectedAt,
		AffectedSector:  "Technology, Data Protection",
		Link:            "https://example.com/" + id,
	}
}

func TestOpenAppliesMigrations(t *testing.T) {
	db := openTestDB(t)
	version, dirty, err := db.SchemaVersion()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if version != 2 || dirty {
		t.Errorf("expected clean version 2, got %d (dirty=%v)", version, dirty)
	}
}

func TestReopenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	db.InsertChanges(context.Background(), []ingest.Change{testChange("1", risk.High, "2026-02-10T00:00:00Z")})
	db.Close()

	db, err = Open(path)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer db.Close()
	c, _ := db.GetChange(context.Background(), "1")
	if c == nil {
		t.Error("expected change to survive reopen")
	}
}

func TestInsertChangesSkipsKnown(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	inserted, err := db.InsertChanges(ctx, []ingest.Change{
		testChange("1", risk.High, "2026-02-10T00:00:00Z"),
		testChange("2", risk.Low, "2026-02-11T00:00:00Z"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(inserted) != 2 {
		t.Errorf("expected 2 inserted, got %d", len(inserted))
	}

	modified := testChange("1", risk.Critical, "2026-02-10T00:00:00Z")
	modified.Title = "Changed title"
	inserted, err = db.InsertChanges(ctx, []ingest.Change{modified, testChange("3", risk.Medium, "")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(inserted) != 1 || inserted[0].ID != "3" {
		t.Errorf("expected only change 3 to be new, got %v", inserted)
	}

	c, _ := db.GetChange(ctx, "1")
	if c.Title == "Changed title" || c.RiskLevel != risk.High {
		t.Errorf("expected stored change to be immutable, got %+v", c)
	}
}

func TestGetChange(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	db.InsertChanges(ctx, []ingest.Change{testChange("1", risk.High, "2026-02-10T00:00:00Z")})

	c, err := db.GetChange(ctx, "1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c == nil {
		t.Fatal("expected change")
	}
	if len(c.MatchedKeywords) != 3 || c.MatchedKeywords[0] != "data" {
		t.Errorf("unexpected keywords %v", c.MatchedKeywords)
	}
	if c.AffectedSector != "Technology, Data Protection" {
		t.Errorf("unexpected sector %q", c.AffectedSector)
	}

	missing, err := db.GetChange(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("expected nil, nil for unknown id, got %v, %v", missing, err)
	}
}

func TestListChangesPaginationAndFilters(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	db.InsertChanges(ctx, []ingest.Change{
		testChange("a", risk.Critical, "2026-02-01T00:00:00Z"),
		testChange("b", risk.High, "2026-02-02T00:00:00Z"),
		testChange("c", risk.Medium, "2026-02-03T00:00:00Z"),
		testChange("d", risk.High, "2026-02-04T00:00:00Z"),
		testChange("e", risk.Low, "2026-02-05T00:00:00Z"),
	})

	page, err := db.ListChanges(ctx, ChangeFilter{Limit: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if page.Total != 5 || page.TotalPages != 3 || len(page.Changes) != 2 {
		t.Errorf("unexpected page %+v", page)
	}
	if page.Changes[0].ID != "e" {
		t.Errorf("expected newest first, got %s", page.Changes[0].ID)
	}

	page, _ = db.ListChanges(ctx, ChangeFilter{Limit: 2, Page: 3})
	if len(page.Changes) != 1 || page.Changes[0].ID != "a" {
		t.Errorf("expected last page to hold a, got %+v", page.Changes)
	}

	page, _ = db.ListChanges(ctx, ChangeFilter{RiskLevels: []risk.Level{risk.High, risk.Critical}})
	if page.Total != 3 {
		t.Errorf("expected 3 high+critical, got %d", page.Total)
	}

	page, _ = db.ListChanges(ctx, ChangeFilter{SourceID: "other"})
	if page.Total != 0 || page.Changes == nil {
		t.Errorf("expected empty non-nil page, got %+v", page)
	}

	page, _ = db.ListChanges(ctx, ChangeFilter{Search: "update c"})
	if page.Total != 1 || page.Changes[0].ID != "c" {
		t.Errorf("expected search to find c, got %+v", page.Changes)
	}
}

func TestListChangesClampsLimit(t *testing.T) {
	db := openTestDB(t)
	page, err := db.ListChanges(context.Background(), ChangeFilter{Limit: 1000, Page: -1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if page.Limit != maxPageSize || page.Page != 1 {
		t.Errorf("expected clamped paging, got limit=%d page=%d", page.Limit, page.Page)
	}
}

func TestGetStats(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	other := testChange("x", risk.Medium, "2026-01-15T00:00:00Z")
	other.SourceID = "pib"
	db.InsertChanges(ctx, []ingest.Change{
		testChange("a", risk.Critical, "2026-02-01T00:00:00Z"),
		testChange("b", risk.High, "2026-02-02T00:00:00Z"),
		testChange("c", risk.Medium, "not a date"),
		other,
	})

	now := time.Date(2026, 2, 20, 12, 0, 0, 0, time.UTC)
	s, err := db.GetStats(ctx, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.TotalChanges != 4 {
		t.Errorf("expected 4 changes, got %d", s.TotalChanges)
	}
	if s.SourcesMonitored != 2 {
		t.Errorf("expected 2 sources, got %d", s.SourcesMonitored)
	}
	if s.ChangesThisMonth != 2 {
		t.Errorf("expected 2 this month, got %d", s.ChangesThisMonth)
	}
	if s.HighRiskAlerts != 2 || s.CriticalAlerts != 1 {
		t.Errorf("expected 2 high-risk and 1 critical, got %d and %d", s.HighRiskAlerts, s.CriticalAlerts)
	}
	if s.LastRunAt != "" {
		t.Errorf("expected no runs yet, got %q", s.LastRunAt)
	}
}

func TestAnalysisStoreRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	store := db.AnalysisStore()

	entries, err := store.Load(ctx)
	if err != nil || len(entries) != 0 {
		t.Fatalf("expected empty store, got %v, %v", entries, err)
	}

	cachedAt := time.Date(2026, 2, 10, 9, 30, 0, 123, time.UTC)
	in := map[string]analysis.Entry{
		"c1": {
			ChangeID: "c1",
			CachedAt: cachedAt,
			Analysis: analysis.Result{
				Applicable:            true,
				RiskLevel:             risk.High,
				Summary:               "Update runbooks",
				Tasks:                 []analysis.Task{{Title: "Review", Priority: "High", DeadlineDays: 7}},
				RetrievedObligationID: "DPDP-004",
			},
		},
	}
	if err := store.Save(ctx, in); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := out["c1"]
	if !got.CachedAt.Equal(cachedAt) || got.Analysis.Summary != "Update runbooks" || got.Analysis.RetrievedObligationID != "DPDP-004" {
		t.Errorf("unexpected entry %+v", got)
	}

	// Saving what was loaded changes nothing.
	if err := store.Save(ctx, out); err != nil {
		t.Fatal(err)
	}
	again, _ := store.Load(ctx)
	if len(again) != 1 || !again["c1"].CachedAt.Equal(cachedAt) {
		t.Errorf("expected identical reload, got %+v", again)
	}

	if err := store.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	cleared, _ := store.Load(ctx)
	if len(cleared) != 0 {
		t.Errorf("expected empty after clear, got %d", len(cleared))
	}
}

func TestAnalysisStoreBacksCache(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	cache := analysis.OpenCache(ctx, db.AnalysisStore(), nil)
	if err := cache.Put(ctx, "c1", &analysis.Result{Applicable: true, RiskLevel: risk.Critical, Tasks: []analysis.Task{}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reopened := analysis.OpenCache(ctx, db.AnalysisStore(), nil)
	if _, ok := reopened.Get("c1"); !ok {
		t.Error("expected cached analysis to be persisted in sqlite")
	}

	s, _ := db.GetStats(ctx, time.Now())
	if s.AnalysesCached != 1 {
		t.Errorf("expected 1 cached analysis in stats, got %d", s.AnalysesCached)
	}
}

func TestAnalysisStoreSharedBetweenProcesses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")
	ctx := context.Background()

	cliDB, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer cliDB.Close()
	serveDB, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer serveDB.Close()

	serve := analysis.OpenCache(ctx, serveDB.AnalysisStore(), nil)
	cli := analysis.OpenCache(ctx, cliDB.AnalysisStore(), nil)

	result := &analysis.Result{Applicable: true, RiskLevel: risk.High, Tasks: []analysis.Task{}}
	if err := cli.Put(ctx, "X", result); err != nil {
		t.Fatal(err)
	}
	if err := serve.Put(ctx, "Y", result); err != nil {
		t.Fatal(err)
	}
	if err := serve.Close(ctx); err != nil {
		t.Fatal(err)
	}

	entries, err := cliDB.AnalysisStore().Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := entries["X"]; !ok || len(entries) != 2 {
		t.Errorf("expected X and Y persisted, got %d entries", len(entries))
	}

	// serve opened before X was written; it still finds it in the store.
	if _, ok := serve.Get("X"); ok {
		t.Fatal("expected X absent from memory of the other cache")
	}
	if _, ok := serve.Lookup(ctx, "X"); !ok {
		t.Error("expected X found through the store")
	}
	if _, ok := serve.Get("X"); !ok {
		t.Error("expected X kept in memory after lookup")
	}
}

func TestAnalysisStoreClearNotUndone(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	serve := analysis.OpenCache(ctx, db.AnalysisStore(), nil)
	result := &analysis.Result{RiskLevel: risk.High, Tasks: []analysis.Task{}}
	serve.Put(ctx, "a", result)

	// A separate process clears the cache, then serve writes one more entry.
	if err := analysis.OpenCache(ctx, db.AnalysisStore(), nil).Clear(ctx); err != nil {
		t.Fatal(err)
	}
	serve.Put(ctx, "b", result)

	entries, _ := db.AnalysisStore().Load(ctx)
	if _, ok := entries["a"]; ok || len(entries) != 1 {
		t.Errorf("expected only b after clear, got %d entries", len(entries))
	}
}

func TestAnalysisStoreGetPut(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	store := db.AnalysisStore()

	if _, ok, err := store.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected miss, got %v, %v", ok, err)
	}

	e := analysis.Entry{ChangeID: "c1", CachedAt: time.Now().UTC(), Analysis: analysis.Result{Summary: "first"}}
	if err := store.Put(ctx, e); err != nil {
		t.Fatal(err)
	}
	e.Analysis.Summary = "second"
	if err := store.Put(ctx, e); err != nil {
		t.Fatal(err)
	}

	got, ok, err := store.Get(ctx, "c1")
	if err != nil || !ok {
		t.Fatalf("expected hit, got %v, %v", ok, err)
	}
	if got.Analysis.Summary != "second" {
		t.Errorf("expected replaced summary, got %q", got.Analysis.Summary)
	}
	all, _ := store.Load(ctx)
	if len(all) != 1 {
		t.Errorf("expected one row per change, got %d", len(all))
	}
}

func TestRunReports(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if r, err := db.LatestRunReport(ctx); err != nil || r != nil {
		t.Fatalf("expected no run, got %v, %v", r, err)
	}

	first := &RunReport{ID: "run-1", StartedAt: "2026-02-10T08:00:00Z", FinishedAt: "2026-02-10T08:01:00Z", ChangesNew: 3}
	second := &RunReport{ID: "run-2", StartedAt: "2026-02-11T08:00:00Z", FinishedAt: "2026-02-11T08:01:00Z",
		Demo: true, Analyzed: 2, Errors: []string{"pib: timeout"}}
	for _, r := range []*RunReport{first, second} {
		if err := db.InsertRunReport(ctx, r); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	latest, err := db.LatestRunReport(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if latest.ID != "run-2" || !latest.Demo || latest.Analyzed != 2 {
		t.Errorf("unexpected latest run %+v", latest)
	}
	if len(latest.Errors) != 1 || latest.Errors[0] != "pib: timeout" {
		t.Errorf("unexpected errors %v", latest.Errors)
	}

	reports, _ := db.ListRunReports(ctx, 5)
	if len(reports) != 2 || reports[1].ID != "run-1" {
		t.Errorf("unexpected reports %+v", reports)
	}
	if len(reports[1].Errors) != 0 {
		t.Errorf("expected no errors on first run, got %v", reports[1].Errors)
	}

	s, _ := db.GetStats(ctx, time.Now())
	if s.LastRunAt != "2026-02-11T08:01:00Z" {
		t.Errorf("unexpected last run %q", s.LastRunAt)
	}
}
