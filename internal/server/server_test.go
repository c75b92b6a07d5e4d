package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/TobiSchelling/RegWatch/internal/analysis"
	"github.com/TobiSchelling/RegWatch/internal/collect"
	"github.com/TobiSchelling/RegWatch/internal/database"
	"github.com/TobiSchelling/RegWatch/internal/ingest"
	"github.com/TobiSchelling/RegWatch/internal/knowledge"
	"github.com/TobiSchelling/RegWatch/internal/retrieve"
	"github.com/TobiSchelling/RegWatch/internal/risk"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type mockAnalyst struct {
	calls atomic.Int32
	err   error
}

func (m *mockAnalyst) Analyze(_ context.Context, req analysis.Request) (*analysis.Result, error) {
	m.calls.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	return &analysis.Result{
		Applicable:           true,
		RiskLevel:            risk.Critical,
		AffectedObligationID: req.Obligation.ID,
		Summary:              "Notify the **Board** within 72 hours.",
		Tasks:                []analysis.Task{{Title: "Update breach runbook", Priority: "High", DeadlineDays: 3}},
		ReasoningSteps:       []string{"The update concerns breach reporting."},
	}, nil
}

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

type fixture struct {
	srv     *Server
	db      *database.DB
	analyst *mockAnalyst
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := openTestDB(t)
	k, err := knowledge.Default()
	if err != nil {
		t.Fatal(err)
	}

	classifier := risk.NewClassifier(nil, risk.DefaultThresholds())
	ingester := ingest.NewPipeline(ingest.Options{}, classifier)
	changes, _ := ingester.Batch(ingest.SeedRecords(), nil)
	if _, err := db.InsertChanges(context.Background(), changes); err != nil {
		t.Fatal(err)
	}

	a := &mockAnalyst{}
	engine := retrieve.NewEngine(k.Catalog)
	cache := analysis.OpenCache(context.Background(), db.AnalysisStore(), nil)
	gk := analysis.NewGatekeeper(cache, engine, a, k.Profile, analysis.Options{}, nil)

	srv, err := New(Deps{
		DB:         db,
		Catalog:    k.Catalog,
		Engine:     engine,
		Ingester:   ingester,
		Classifier: classifier,
		Cache:      cache,
		Gatekeeper: gk,
		Sources:    []collect.SourceInfo{{ID: "meity", Name: "MeitY Press Release"}, {ID: "pib", Name: "PIB"}},
	})
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	return &fixture{srv: srv, db: db, analyst: a}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("invalid JSON %q: %v", rec.Body.String(), err)
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, "GET", "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	decode(t, rec, &body)
	if body["status"] != "ok" || body["database"] != "ok" {
		t.Errorf("unexpected health %v", body)
	}
}

func TestListChanges(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "GET", "/api/changes?limit=4", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var page database.ChangePage
	decode(t, rec, &page)
	if page.Total != 6 || page.TotalPages != 2 || len(page.Changes) != 4 {
		t.Errorf("unexpected page total=%d pages=%d len=%d", page.Total, page.TotalPages, len(page.Changes))
	}

	rec = f.do(t, "GET", "/api/changes?risk=high,critical", "")
	decode(t, rec, &page)
	if page.Total != 4 {
		t.Errorf("expected 4 high or critical changes, got %d", page.Total)
	}

	if rec := f.do(t, "GET", "/api/changes?risk=severe", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad risk level, got %d", rec.Code)
	}
	if rec := f.do(t, "GET", "/api/changes?page=zero", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad page, got %d", rec.Code)
	}
}

func TestGetChange(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "GET", "/api/changes/seed-002", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	decode(t, rec, &body)
	if body["riskLevel"] != "critical" || body["sourceId"] != "meity" {
		t.Errorf("unexpected change %v", body)
	}
	if _, ok := body["changeSummary"]; !ok {
		t.Error("expected changeSummary field")
	}

	if rec := f.do(t, "GET", "/api/changes/nope", ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestGetAnalysis(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "GET", "/api/changes/seed-002/analysis", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp analysisResponse
	decode(t, rec, &resp)
	if resp.Status != analysis.StatusAnalyzed || resp.Analysis == nil {
		t.Fatalf("expected analyzed result, got %+v", resp)
	}
	if resp.Analysis.RetrievedObligationID == "" {
		t.Error("expected retrieved obligation id")
	}

	decode(t, f.do(t, "GET", "/api/changes/seed-002/analysis", ""), &resp)
	if resp.Status != analysis.StatusCached {
		t.Errorf("expected cached on second request, got %s", resp.Status)
	}
	if f.analyst.calls.Load() != 1 {
		t.Errorf("expected 1 analyst call, got %d", f.analyst.calls.Load())
	}
}

func TestGetAnalysisNotEligible(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "GET", "/api/changes/seed-004/analysis", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for medium change, got %d", rec.Code)
	}
	var resp analysisResponse
	decode(t, rec, &resp)
	if resp.Status != analysis.StatusNotEligible || resp.Analysis != nil {
		t.Errorf("expected not_eligible without analysis, got %+v", resp)
	}

	if rec := f.do(t, "GET", "/api/changes/nope/analysis", ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown change, got %d", rec.Code)
	}
}

func TestGetAnalysisFailure(t *testing.T) {
	f := newFixture(t)
	f.analyst.err = analysis.ErrTransport

	rec := f.do(t, "GET", "/api/changes/seed-005/analysis", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with failed status, got %d", rec.Code)
	}
	var resp analysisResponse
	decode(t, rec, &resp)
	if resp.Status != analysis.StatusFailed {
		t.Errorf("expected failed, got %s", resp.Status)
	}
	if f.srv.Cache.Len() != 0 {
		t.Error("expected nothing cached after failure")
	}
}

func TestStatsAndSources(t *testing.T) {
	f := newFixture(t)

	var stats database.Stats
	decode(t, f.do(t, "GET", "/api/stats", ""), &stats)
	if stats.TotalChanges != 6 || stats.CriticalAlerts != 2 || stats.HighRiskAlerts != 4 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if stats.TotalSources != 2 || stats.SourcesMonitored != 1 {
		t.Errorf("expected 1 of 2 sources, got %d of %d", stats.SourcesMonitored, stats.TotalSources)
	}

	var sources struct {
		Sources []collect.SourceInfo `json:"sources"`
	}
	decode(t, f.do(t, "GET", "/api/sources", ""), &sources)
	if len(sources.Sources) != 2 {
		t.Errorf("expected 2 sources, got %d", len(sources.Sources))
	}
}

func TestObligations(t *testing.T) {
	f := newFixture(t)

	var list struct {
		Framework   string                 `json:"framework"`
		Obligations []knowledge.Obligation `json:"obligations"`
	}
	decode(t, f.do(t, "GET", "/api/obligations", ""), &list)
	if len(list.Obligations) != 6 || list.Framework == "" {
		t.Errorf("unexpected catalog %+v", list)
	}

	decode(t, f.do(t, "GET", "/api/obligations?severity=critical", ""), &list)
	if len(list.Obligations) != 2 {
		t.Errorf("expected 2 critical obligations, got %d", len(list.Obligations))
	}

	var o knowledge.Obligation
	decode(t, f.do(t, "GET", "/api/obligations/DPDP-004", ""), &o)
	if o.Title != "Breach Notification" {
		t.Errorf("unexpected obligation %+v", o)
	}
	if rec := f.do(t, "GET", "/api/obligations/DPDP-999", ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestRetrieve(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "POST", "/api/retrieve", `{"text": "Mandatory breach notification to the Board within 72 hours"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp retrieveResponse
	decode(t, rec, &resp)
	if !resp.Found || resp.Obligation.ID != "DPDP-004" {
		t.Errorf("expected DPDP-004, got %+v", resp.Obligation)
	}
	if len(resp.Scores) != 6 {
		t.Errorf("expected a score per obligation, got %d", len(resp.Scores))
	}

	if rec := f.do(t, "POST", "/api/retrieve", `{}`); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing text, got %d", rec.Code)
	}
}

func TestClassify(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "POST", "/api/classify",
		`{"title": "Data Protection Board imposes penalty", "content": "<p>Breach of personal data</p>"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp classifyResponse
	decode(t, rec, &resp)
	// data, personal, protection, breach, board, penalty
	if len(resp.MatchedKeywords) != 6 || resp.RiskLevel != risk.Critical || !resp.Relevant {
		t.Errorf("unexpected classification %+v", resp)
	}

	decode(t, f.do(t, "POST", "/api/classify", `{"title": "Short data title"}`), &resp)
	if resp.Relevant {
		t.Error("expected short single-keyword title to be irrelevant")
	}
	if resp.RiskLevel != risk.Low {
		t.Errorf("expected low, got %s", resp.RiskLevel)
	}
}

func TestCacheEndpoints(t *testing.T) {
	f := newFixture(t)
	f.do(t, "GET", "/api/changes/seed-002/analysis", "")

	var stats analysis.Stats
	decode(t, f.do(t, "GET", "/api/cache", ""), &stats)
	if stats.TotalCached != 1 || !strings.HasSuffix(stats.Location, "#analysis_cache") {
		t.Errorf("unexpected cache stats %+v", stats)
	}

	rec := f.do(t, "DELETE", "/api/cache", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var cleared map[string]int
	decode(t, rec, &cleared)
	if cleared["cleared"] != 1 {
		t.Errorf("expected 1 cleared, got %v", cleared)
	}
	if f.srv.Cache.Len() != 0 {
		t.Error("expected empty cache")
	}
}

func TestIndexPage(t *testing.T) {
	f := newFixture(t)
	f.do(t, "GET", "/api/changes/seed-002/analysis", "")

	rec := f.do(t, "GET", "/", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "New Data Protection and Privacy Board constituted under DPDP Act") {
		t.Error("expected seed change title on index")
	}
	if !strings.Contains(body, "analyzed") {
		t.Error("expected analyzed badge")
	}
	if !strings.Contains(rec.Header().Get("Content-Type"), "text/html") {
		t.Errorf("unexpected content type %q", rec.Header().Get("Content-Type"))
	}
}

func TestChangePage(t *testing.T) {
	f := newFixture(t)
	f.do(t, "GET", "/api/changes/seed-002/analysis", "")

	rec := f.do(t, "GET", "/changes/seed-002", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "<strong>Board</strong>") {
		t.Error("expected markdown summary to be rendered")
	}
	if !strings.Contains(body, "Update breach runbook") {
		t.Error("expected task list")
	}

	rec = f.do(t, "GET", "/changes/seed-004", "")
	if !strings.Contains(rec.Body.String(), "below the analysis threshold") {
		t.Error("expected ineligible note for medium change")
	}

	rec = f.do(t, "GET", "/changes/missing", "")
	if rec.Code != http.StatusNotFound || !strings.Contains(rec.Body.String(), "Change not found") {
		t.Errorf("expected 404 page, got %d", rec.Code)
	}
}

func TestStaticFiles(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, "GET", "/static/style.css", "")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}
