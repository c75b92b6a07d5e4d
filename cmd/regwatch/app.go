package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/TobiSchelling/RegWatch/internal/analysis"
	"github.com/TobiSchelling/RegWatch/internal/collect"
	"github.com/TobiSchelling/RegWatch/internal/database"
	"github.com/TobiSchelling/RegWatch/internal/ingest"
	"github.com/TobiSchelling/RegWatch/internal/knowledge"
	"github.com/TobiSchelling/RegWatch/internal/llm"
	"github.com/TobiSchelling/RegWatch/internal/retrieve"
	"github.com/TobiSchelling/RegWatch/internal/risk"
)

// app bundles the components most commands need.
type app struct {
	db         *database.DB
	knowledge  *knowledge.Knowledge
	engine     *retrieve.Engine
	classifier *risk.Classifier
	ingester   *ingest.Pipeline
	cache      *analysis.Cache
	provider   llm.Provider
	gatekeeper *analysis.Gatekeeper
}

// newApp opens the database and wires knowledge, classification, the
// analysis cache and, when withLLM is set, an LLM provider.
func newApp(ctx context.Context, withLLM bool) (*app, error) {
	k, err := knowledge.Load(cfg.Knowledge.Dir)
	if err != nil {
		return nil, fmt.Errorf("loading knowledge: %w", err)
	}

	db, err := openDB()
	if err != nil {
		return nil, err
	}

	classifier := risk.NewClassifier(cfg.Risk.CriticalTerms, cfg.RiskThresholds())
	a := &app{
		db:         db,
		knowledge:  k,
		engine:     retrieve.NewEngine(k.Catalog),
		classifier: classifier,
		ingester:   ingest.NewPipeline(cfg.IngestOptions(), classifier),
	}

	var store analysis.Store = db.AnalysisStore()
	if cfg.Analysis.CacheBackend == "file" {
		store = analysis.NewFileStore(cfg.CacheFilePath())
	}
	a.cache = analysis.OpenCache(ctx, store, logger)

	if withLLM {
		a.provider = llm.CreateProvider(ctx, llm.Options{
			Provider:        cfg.LLM.Provider,
			GeminiModel:     cfg.LLM.GeminiModel,
			GeminiAPIKeyEnv: cfg.LLM.GeminiAPIKeyEnv,
			OllamaModel:     cfg.LLM.OllamaModel,
			OllamaURL:       cfg.LLM.OllamaURL,
			OpenAIModel:     cfg.LLM.OpenAIModel,
			OpenAIAPIKeyEnv: cfg.LLM.OpenAIAPIKeyEnv,
		}, logger)
		if a.provider == nil {
			logger.Warn("No LLM provider configured; analyses will fail until one is",
				zap.String("api_key_env", cfg.LLM.GeminiAPIKeyEnv))
		}
	}

	// A nil provider still yields a gatekeeper: cached analyses are served
	// and new ones report a failed status.
	analyst := analysis.NewLLMAnalyst(a.provider, cfg.Analysis.MaxTokens)
	a.gatekeeper = analysis.NewGatekeeper(a.cache, a.engine, analyst, k.Profile, analysis.Options{
		MinLevel: cfg.MinRiskLevel(),
		Timeout:  cfg.Analysis.Timeout,
	}, logger)
	return a, nil
}

// sourceInfos lists the configured sources.
func sourceInfos() []collect.SourceInfo {
	sources := collect.SourcesFromConfig(cfg, logger)
	infos := make([]collect.SourceInfo, len(sources))
	for i, s := range sources {
		infos[i] = s.Info()
	}
	return infos
}

func (a *app) Close(ctx context.Context) {
	if err := a.cache.Close(ctx); err != nil {
		logger.Warn("Failed to close analysis cache", zap.Error(err))
	}
	a.db.Close()
}
