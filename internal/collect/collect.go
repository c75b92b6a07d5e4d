// Package collect fetches raw regulatory records from the configured
// sources: the MeitY documents API, the PIB release listing and RSS feeds.
package collect

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/TobiSchelling/RegWatch/internal/config"
	"github.com/TobiSchelling/RegWatch/internal/ingest"
)

const maxConcurrentSources = 4

// Source delivers raw records. Missing fields are left empty; a source
// never fails because of a single malformed record.
type Source interface {
	Info() SourceInfo
	Fetch(ctx context.Context) ([]ingest.RawRecord, error)
}

// SourceInfo describes a source for listings.
type SourceInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Kind string `json:"kind"`
	URL  string `json:"url"`
}

// Result holds the results of a collection run.
type Result struct {
	TotalFound int
	Sources    map[string]int
	Errors     []string
	Fetch      FetchResult
}

// Collector gathers records from every source.
type Collector struct {
	sources []Source
	fetcher *ContentFetcher
	logger  *zap.Logger
}

// NewCollector creates a collector over the given sources. A nil fetcher
// leaves records without content untouched.
func NewCollector(sources []Source, fetcher *ContentFetcher, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{sources: sources, fetcher: fetcher, logger: logger}
}

// SourcesFromConfig builds the enabled sources.
func SourcesFromConfig(cfg *config.Config, logger *zap.Logger) []Source {
	client := &http.Client{Timeout: 20 * time.Second}
	var sources []Source

	if m := cfg.Sources.Meity; m.Enabled {
		sources = append(sources, NewMeityClient(m.BaseURL, m.PageSize, m.Pages, client))
	}
	if p := cfg.Sources.PIB; p.Enabled {
		sources = append(sources, NewPIBSource(p.URL, p.MinistryID, client))
	}
	for _, f := range cfg.Sources.Feeds {
		sources = append(sources, NewFeedSource(FeedConfig{URL: f.URL, Name: f.Name, Sector: f.Sector}, logger))
	}
	return sources
}

// Sources returns the collector's sources.
func (c *Collector) Sources() []Source {
	return c.sources
}

// Collect fetches from all sources concurrently. A failing source is
// logged and reported in Result.Errors; the others still contribute.
// Records come back in source order.
func (c *Collector) Collect(ctx context.Context) ([]ingest.RawRecord, *Result) {
	r := &Result{Sources: make(map[string]int)}
	perSource := make([][]ingest.RawRecord, len(c.sources))
	errs := make([]error, len(c.sources))

	var g errgroup.Group
	g.SetLimit(maxConcurrentSources)
	for i, src := range c.sources {
		g.Go(func() error {
			records, err := src.Fetch(ctx)
			perSource[i] = records
			errs[i] = err
			return nil
		})
	}
	g.Wait()

	var all []ingest.RawRecord
	for i, src := range c.sources {
		info := src.Info()
		if errs[i] != nil {
			c.logger.Warn("Source failed", zap.String("source", info.ID), zap.Error(errs[i]))
			r.Errors = append(r.Errors, info.ID+": "+errs[i].Error())
		}
		if len(perSource[i]) > 0 {
			c.logger.Info("Collected records",
				zap.String("source", info.ID), zap.Int("records", len(perSource[i])))
		}
		r.Sources[info.ID] += len(perSource[i])
		r.TotalFound += len(perSource[i])
		all = append(all, perSource[i]...)
	}

	if c.fetcher != nil {
		r.Fetch = c.fetcher.FillMissing(ctx, all)
	}

	c.logger.Info("Collection complete",
		zap.Int("found", r.TotalFound), zap.Int("sources", len(c.sources)), zap.Int("failed", len(r.Errors)))
	return all, r
}
