// Package pipeline runs one monitoring pass: collect raw records, ingest
// them into changes, store the new ones and analyze those that qualify.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/TobiSchelling/RegWatch/internal/analysis"
	"github.com/TobiSchelling/RegWatch/internal/collect"
	"github.com/TobiSchelling/RegWatch/internal/config"
	"github.com/TobiSchelling/RegWatch/internal/database"
	"github.com/TobiSchelling/RegWatch/internal/ingest"
	"github.com/TobiSchelling/RegWatch/internal/risk"
)

// StepResult holds the result of a single pipeline step.
type StepResult struct {
	Name    string
	Summary string
	Err     error
}

// Result holds the results of a full pipeline run.
type Result struct {
	RunID      string
	Steps      []StepResult
	NewChanges []ingest.Change
	Report     *database.RunReport
}

// Failed reports whether any step failed.
func (r *Result) Failed() bool {
	for _, s := range r.Steps {
		if s.Err != nil {
			return true
		}
	}
	return false
}

// Pipeline orchestrates the monitoring run.
type Pipeline struct {
	collector  *collect.Collector
	ingester   *ingest.Pipeline
	db         *database.DB
	gatekeeper *analysis.Gatekeeper
	seed       bool
	logger     *zap.Logger
	now        func() time.Time
}

// New creates a pipeline over the sources enabled in cfg. A nil gatekeeper
// skips the analysis step.
func New(cfg *config.Config, db *database.DB, gatekeeper *analysis.Gatekeeper, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	var fetcher *collect.ContentFetcher
	if cfg.Sources.FetchFullText {
		fetcher = collect.NewContentFetcher(15*time.Second, logger)
	}
	collector := collect.NewCollector(collect.SourcesFromConfig(cfg, logger), fetcher, logger)
	return NewWithCollector(cfg, collector, db, gatekeeper, logger)
}

// NewWithCollector creates a pipeline with an explicit collector.
func NewWithCollector(cfg *config.Config, collector *collect.Collector, db *database.DB, gatekeeper *analysis.Gatekeeper, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	classifier := risk.NewClassifier(cfg.Risk.CriticalTerms, cfg.RiskThresholds())
	return &Pipeline{
		collector:  collector,
		ingester:   ingest.NewPipeline(cfg.IngestOptions(), classifier),
		db:         db,
		gatekeeper: gatekeeper,
		seed:       cfg.Sources.Seed.Enabled,
		logger:     logger,
		now:        time.Now,
	}
}

// Run executes collect, ingest, store and analyze, then records a run
// report. demo adds the bundled seed records ahead of live ones.
func (p *Pipeline) Run(ctx context.Context, demo bool) *Result {
	r := &Result{RunID: uuid.NewString()}
	report := &database.RunReport{
		ID:        r.RunID,
		StartedAt: p.now().UTC().Format(time.RFC3339),
		Demo:      demo || p.seed,
	}
	r.Report = report
	defer p.finish(ctx, r)

	// Step 1: Collect
	p.logger.Info("Step 1/4: Collecting records", zap.String("run_id", r.RunID))
	live, collected := p.collector.Collect(ctx)
	report.Errors = collected.Errors
	r.Steps = append(r.Steps, StepResult{
		Name:    "Collect",
		Summary: fmt.Sprintf("Found %d records from %d sources (%d failed)", collected.TotalFound, len(collected.Sources), len(collected.Errors)),
	})

	// Step 2: Ingest
	p.logger.Info("Step 2/4: Ingesting records")
	var seed []ingest.RawRecord
	if report.Demo {
		seed = ingest.SeedRecords()
	}
	changes, stats := p.ingester.Batch(seed, live)
	report.RecordsSeen = stats.Seen
	report.ChangesKept = stats.Kept
	report.Duplicates = stats.Duplicates
	report.Rejected = stats.Rejected
	r.Steps = append(r.Steps, StepResult{
		Name: "Ingest",
		Summary: fmt.Sprintf("Kept %d of %d records (%d rejected, %d duplicates)",
			stats.Kept, stats.Seen, stats.Rejected, stats.Duplicates),
	})

	// Step 3: Store
	p.logger.Info("Step 3/4: Storing changes")
	inserted, err := p.db.InsertChanges(ctx, changes)
	if err != nil {
		r.Steps = append(r.Steps, StepResult{Name: "Store", Err: err})
		report.Errors = append(report.Errors, "store: "+err.Error())
		return r
	}
	r.NewChanges = inserted
	report.ChangesNew = len(inserted)
	r.Steps = append(r.Steps, StepResult{
		Name:    "Store",
		Summary: fmt.Sprintf("Stored %d new changes (%d already known)", len(inserted), len(changes)-len(inserted)),
	})

	// Step 4: Analyze
	r.Steps = append(r.Steps, p.runAnalyze(ctx, inserted, report))
	return r
}

func (p *Pipeline) runAnalyze(ctx context.Context, changes []ingest.Change, report *database.RunReport) StepResult {
	if p.gatekeeper == nil {
		return StepResult{Name: "Analyze", Summary: "Skipped: no LLM provider configured"}
	}
	p.logger.Info("Step 4/4: Analyzing eligible changes")

	eligible := 0
	for _, c := range changes {
		if !p.gatekeeper.Eligible(c) {
			continue
		}
		eligible++
		_, status := p.gatekeeper.GetAnalysis(ctx, c)
		switch {
		case status.HasResult():
			report.Analyzed++
		case status == analysis.StatusFailed, status == analysis.StatusNoObligation:
			report.AnalysisFailed++
			report.Errors = append(report.Errors, fmt.Sprintf("analyze %s: %s", c.ID, status))
		}
		if ctx.Err() != nil {
			break
		}
	}

	return StepResult{
		Name:    "Analyze",
		Summary: fmt.Sprintf("Analyzed %d of %d eligible changes (%d failed)", report.Analyzed, eligible, report.AnalysisFailed),
	}
}

func (p *Pipeline) finish(ctx context.Context, r *Result) {
	r.Report.FinishedAt = p.now().UTC().Format(time.RFC3339)
	if err := p.db.InsertRunReport(context.WithoutCancel(ctx), r.Report); err != nil {
		p.logger.Warn("Failed to record run report", zap.String("run_id", r.RunID), zap.Error(err))
		return
	}
	p.logger.Info("Run complete",
		zap.String("run_id", r.RunID),
		zap.Int("new_changes", r.Report.ChangesNew),
		zap.Int("analyzed", r.Report.Analyzed))
}

// DryRun shows what would be done without fetching or writing anything.
func (p *Pipeline) DryRun(ctx context.Context, demo bool) *Result {
	r := &Result{}

	sources := p.collector.Sources()
	r.Steps = append(r.Steps, StepResult{
		Name:    "Collect",
		Summary: fmt.Sprintf("[dry-run] Would collect from %d sources", len(sources)),
	})

	if demo || p.seed {
		seeded, stats := p.ingester.Batch(ingest.SeedRecords(), nil)
		r.Steps = append(r.Steps, StepResult{
			Name:    "Ingest",
			Summary: fmt.Sprintf("[dry-run] %d seed records would yield %d changes", stats.Seen, len(seeded)),
		})
	} else {
		r.Steps = append(r.Steps, StepResult{
			Name:    "Ingest",
			Summary: "[dry-run] Would ingest live records only",
		})
	}

	page, err := p.db.ListChanges(ctx, database.ChangeFilter{Limit: 1})
	if err != nil {
		r.Steps = append(r.Steps, StepResult{Name: "Store", Err: err})
		return r
	}
	r.Steps = append(r.Steps, StepResult{
		Name:    "Store",
		Summary: fmt.Sprintf("[dry-run] %d changes already in DB", page.Total),
	})

	if p.gatekeeper == nil {
		r.Steps = append(r.Steps, StepResult{Name: "Analyze", Summary: "[dry-run] Skipped: no LLM provider configured"})
		return r
	}
	pending, err := p.pendingAnalyses(ctx)
	if err != nil {
		r.Steps = append(r.Steps, StepResult{Name: "Analyze", Err: err})
		return r
	}
	r.Steps = append(r.Steps, StepResult{
		Name:    "Analyze",
		Summary: fmt.Sprintf("[dry-run] %d stored changes are eligible and not yet analyzed", pending),
	})
	return r
}

func (p *Pipeline) pendingAnalyses(ctx context.Context) (int, error) {
	pending := 0
	for page := 1; ; page++ {
		res, err := p.db.ListChanges(ctx, database.ChangeFilter{Page: page, Limit: 100})
		if err != nil {
			return 0, err
		}
		for _, c := range res.Changes {
			if !p.gatekeeper.Eligible(c) {
				continue
			}
			if _, ok := p.gatekeeper.Cached(c.ID); !ok {
				pending++
			}
		}
		if page >= res.TotalPages {
			return pending, nil
		}
	}
}
