package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/TobiSchelling/RegWatch/internal/ingest"
	"github.com/TobiSchelling/RegWatch/internal/knowledge"
	"github.com/TobiSchelling/RegWatch/internal/retrieve"
	"github.com/TobiSchelling/RegWatch/internal/risk"
)

// Status explains the outcome of GetAnalysis.
type Status string

const (
	StatusCached       Status = "cached"
	StatusAnalyzed     Status = "analyzed"
	StatusNotEligible  Status = "not_eligible"
	StatusNoObligation Status = "no_obligation"
	StatusFailed       Status = "failed"
)

// HasResult reports whether the status carries an analysis.
func (s Status) HasResult() bool {
	return s == StatusCached || s == StatusAnalyzed
}

// Options tunes the gatekeeper.
type Options struct {
	MinLevel risk.Level    // lowest risk level analyzed; defaults to high
	Timeout  time.Duration // bound on a single analysis; zero means none
}

// Gatekeeper decides whether a change gets an analysis, reuses cached ones
// and runs at most one analysis per change id at a time.
type Gatekeeper struct {
	cache    *Cache
	engine   *retrieve.Engine
	analyst  Analyst
	profile  knowledge.Profile
	minLevel risk.Level
	timeout  time.Duration
	group    singleflight.Group
	logger   *zap.Logger
}

// NewGatekeeper wires the cache, retrieval engine and analyst together.
func NewGatekeeper(cache *Cache, engine *retrieve.Engine, analyst Analyst, profile knowledge.Profile, opts Options, logger *zap.Logger) *Gatekeeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MinLevel.Rank() < 0 {
		opts.MinLevel = risk.High
	}
	return &Gatekeeper{
		cache:    cache,
		engine:   engine,
		analyst:  analyst,
		profile:  profile,
		minLevel: opts.MinLevel,
		timeout:  opts.Timeout,
		logger:   logger,
	}
}

// Eligible reports whether a change's risk level qualifies for analysis.
func (g *Gatekeeper) Eligible(change ingest.Change) bool {
	return change.RiskLevel.AtLeast(g.minLevel)
}

// Cached returns the cached analysis for a change id without side effects.
func (g *Gatekeeper) Cached(id string) (*Result, bool) {
	return g.cache.Get(id)
}

type outcome struct {
	result *Result
	status Status
}

// GetAnalysis returns the analysis for change. A cached analysis is
// returned as is. Otherwise only eligible changes are analyzed; failures
// are not cached so a later call retries.
//
// Concurrent calls for the same change share one analysis. Only the caller
// that ran it sees StatusAnalyzed; callers that joined see StatusCached. The
// shared analysis is not cancelled when one caller's ctx is; each caller
// stops waiting when its own ctx is done.
func (g *Gatekeeper) GetAnalysis(ctx context.Context, change ingest.Change) (*Result, Status) {
	if change.ID == "" {
		return nil, StatusNotEligible
	}
	if r, ok := g.cache.Get(change.ID); ok {
		return r, StatusCached
	}
	if !g.Eligible(change) {
		return nil, StatusNotEligible
	}

	flightCtx := context.WithoutCancel(ctx)
	ran := false
	ch := g.group.DoChan(change.ID, func() (any, error) {
		ran = true
		return g.analyze(flightCtx, change)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, StatusFailed
		}
		out := res.Val.(outcome)
		if out.status == StatusAnalyzed && !ran {
			out.status = StatusCached
		}
		return out.result.Clone(), out.status
	case <-ctx.Done():
		g.logger.Warn("Stopped waiting for analysis",
			zap.String("change_id", change.ID), zap.Error(ctx.Err()))
		return nil, StatusFailed
	}
}

func (g *Gatekeeper) analyze(ctx context.Context, change ingest.Change) (outcome, error) {
	// Another flight, or another process sharing the store, may have
	// finished since the caller's lookup.
	if r, ok := g.cache.Lookup(ctx, change.ID); ok {
		return outcome{result: r, status: StatusCached}, nil
	}

	callCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	updateText := change.Title + "\n\n" + change.Content
	obligation, ok := g.engine.Retrieve(updateText)
	if !ok {
		g.logger.Warn("No obligations in catalog", zap.String("change_id", change.ID))
		return outcome{status: StatusNoObligation}, nil
	}

	start := time.Now()
	result, err := g.analyst.Analyze(callCtx, Request{
		ChangeID:   change.ID,
		UpdateText: updateText,
		Obligation: obligation,
		Profile:    g.profile,
	})
	if err != nil {
		g.logger.Error("Analysis failed",
			zap.String("change_id", change.ID),
			zap.String("obligation_id", obligation.ID),
			zap.String("kind", failureKind(err)),
			zap.Error(err))
		return outcome{}, err
	}
	if result == nil {
		return outcome{}, fmt.Errorf("%w: empty result", ErrMalformed)
	}

	result.RetrievedObligationID = obligation.ID
	if err := g.cache.Put(ctx, change.ID, result); err != nil {
		g.logger.Warn("Failed to persist analysis; keeping in memory",
			zap.String("change_id", change.ID), zap.Error(err))
	}

	g.logger.Info("Analyzed change",
		zap.String("change_id", change.ID),
		zap.String("obligation_id", obligation.ID),
		zap.String("risk_level", string(result.RiskLevel)),
		zap.Bool("applicable", result.Applicable),
		zap.Duration("took", time.Since(start)))
	return outcome{result: result, status: StatusAnalyzed}, nil
}

func failureKind(err error) string {
	switch {
	case errors.Is(err, ErrMalformed):
		return "malformed"
	case errors.Is(err, ErrTransport):
		return "transport"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "other"
	}
}
