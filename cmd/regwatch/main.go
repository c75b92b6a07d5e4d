package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/TobiSchelling/RegWatch/internal/analysis"
	"github.com/TobiSchelling/RegWatch/internal/collect"
	"github.com/TobiSchelling/RegWatch/internal/config"
	"github.com/TobiSchelling/RegWatch/internal/database"
	"github.com/TobiSchelling/RegWatch/internal/ingest"
	"github.com/TobiSchelling/RegWatch/internal/logging"
	"github.com/TobiSchelling/RegWatch/internal/pipeline"
	"github.com/TobiSchelling/RegWatch/internal/server"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
	logger     = zap.NewNop()
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	_ = logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "regwatch",
	Short:   "DPDP regulatory change monitor",
	Long:    "RegWatch collects regulatory updates, grades their risk, maps them to compliance obligations and caches LLM impact analyses.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		logger, err = logging.New(level, cfg.Logging.Format)
		if err != nil {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(collectCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(retrieveCmd)
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(obligationsCmd)
	rootCmd.AddCommand(cacheCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("regwatch", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/regwatch/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to configure sources and the LLM provider; set GEMINI_API_KEY for analyses.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database, cache and source status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, false)
		if err != nil {
			return err
		}
		defer a.Close(ctx)

		stats, err := a.db.GetStats(ctx, time.Now())
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}
		sources := sourceInfos()

		fmt.Printf("Database: %s\n\n", a.db.Path())
		fmt.Println("Changes:")
		fmt.Printf("  Total: %d\n", stats.TotalChanges)
		fmt.Printf("  This month: %d\n", stats.ChangesThisMonth)
		fmt.Printf("  High-risk alerts: %d\n", stats.HighRiskAlerts)
		fmt.Printf("  Critical alerts: %d\n", stats.CriticalAlerts)
		fmt.Println("\nSources:")
		fmt.Printf("  Configured: %d\n", len(sources))
		fmt.Printf("  With changes: %d\n", stats.SourcesMonitored)
		for _, s := range sources {
			fmt.Printf("  - %s (%s)\n", s.Name, s.Kind)
		}

		cs := a.cache.Stats()
		fmt.Println("\nAnalysis cache:")
		fmt.Printf("  Cached: %d\n", cs.TotalCached)
		fmt.Printf("  Location: %s\n", cs.Location)

		last, err := a.db.LatestRunReport(ctx)
		if err != nil {
			return err
		}
		fmt.Println("\nLast run:")
		if last == nil {
			fmt.Println("  never (run 'regwatch run')")
		} else {
			fmt.Printf("  %s: %d new changes, %d analyzed, %d failed\n",
				last.FinishedAt, last.ChangesNew, last.Analyzed, last.AnalysisFailed)
		}
		return nil
	},
}

// --- collect command ---

var collectDemo bool

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Collect and store changes from configured sources without analyzing",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, false)
		if err != nil {
			return err
		}
		defer a.Close(ctx)

		var fetcher *collect.ContentFetcher
		if cfg.Sources.FetchFullText {
			fetcher = collect.NewContentFetcher(15*time.Second, logger)
		}
		collector := collect.NewCollector(collect.SourcesFromConfig(cfg, logger), fetcher, logger)

		fmt.Println("Collecting from sources...")
		live, result := collector.Collect(ctx)

		var seed []ingest.RawRecord
		if collectDemo || cfg.Sources.Seed.Enabled {
			seed = ingest.SeedRecords()
		}
		changes, stats := a.ingester.Batch(seed, live)
		inserted, err := a.db.InsertChanges(ctx, changes)
		if err != nil {
			return err
		}

		fmt.Println("\nCollection complete:")
		fmt.Printf("  Records found: %d (+%d seed)\n", result.TotalFound, len(seed))
		fmt.Printf("  Relevant changes: %d\n", stats.Kept)
		fmt.Printf("  New changes: %d\n", len(inserted))
		fmt.Printf("  Rejected: %d, duplicates: %d\n", stats.Rejected, stats.Duplicates)

		if len(result.Sources) > 0 {
			fmt.Println("\nRecords by source:")
			type kv struct {
				key string
				val int
			}
			var sorted []kv
			for k, v := range result.Sources {
				sorted = append(sorted, kv{k, v})
			}
			sort.Slice(sorted, func(i, j int) bool { return sorted[i].val > sorted[j].val })
			for _, s := range sorted {
				fmt.Printf("  %s: %d\n", s.key, s.val)
			}
		}
		for _, e := range result.Errors {
			fmt.Printf("  Error: %s\n", e)
		}
		return nil
	},
}

func init() {
	collectCmd.Flags().BoolVar(&collectDemo, "demo", false, "Include the bundled sample releases")
}

// --- run command ---

var (
	dryRun  bool
	runDemo bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full pipeline: collect -> ingest -> store -> analyze",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, !dryRun)
		if err != nil {
			return err
		}
		defer a.Close(ctx)

		gatekeeper := a.gatekeeper
		if a.provider == nil && !dryRun {
			gatekeeper = nil
		}
		pipe := pipeline.New(cfg, a.db, gatekeeper, logger)

		var result *pipeline.Result
		if dryRun {
			result = pipe.DryRun(ctx, runDemo)
		} else {
			result = pipe.Run(ctx, runDemo)
		}

		for i, step := range result.Steps {
			fmt.Printf("\nStep %d/%d: %s\n", i+1, len(result.Steps), step.Name)
			if step.Err != nil {
				fmt.Printf("  Error: %v\n", step.Err)
			} else {
				fmt.Printf("  %s\n", step.Summary)
			}
		}

		if !dryRun {
			for _, c := range result.NewChanges {
				fmt.Printf("  [%s] %s\n", c.RiskLevel.Title(), c.Title)
			}
			fmt.Printf("\nRun %s complete. Run 'regwatch serve' to browse changes.\n", result.RunID)
		}
		if result.Failed() {
			return fmt.Errorf("pipeline failed")
		}
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be done without executing")
	runCmd.Flags().BoolVar(&runDemo, "demo", false, "Include the bundled sample releases")
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local web server and JSON API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, true)
		if err != nil {
			return err
		}
		defer a.Close(ctx)

		srv, err := server.New(server.Deps{
			DB:         a.db,
			Catalog:    a.knowledge.Catalog,
			Engine:     a.engine,
			Ingester:   a.ingester,
			Classifier: a.classifier,
			Cache:      a.cache,
			Gatekeeper: a.gatekeeper,
			Sources:    sourceInfos(),
			Logger:     logger,
		})
		if err != nil {
			return err
		}

		port := servePort
		if !cmd.Flags().Changed("port") {
			port = cfg.Server.Port
		}
		fmt.Printf("Starting server at http://localhost:%d\n", port)
		fmt.Println("Press Ctrl+C to stop")
		return server.Serve(ctx, srv, port)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8000, "Port to run server on")
}

// --- analyze command ---

var analyzeCmd = &cobra.Command{
	Use:   "analyze [change-id]",
	Short: "Show or produce the impact analysis for a change",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, true)
		if err != nil {
			return err
		}
		defer a.Close(ctx)

		change, err := findChange(ctx, a, args[0])
		if err != nil {
			return err
		}

		fmt.Printf("%s\n  Risk: %s  Source: %s  Detected: %s\n\n",
			change.Title, change.RiskLevel.Title(), change.SourceName, change.DetectedAt)

		result, status := a.gatekeeper.GetAnalysis(ctx, *change)
		switch status {
		case analysis.StatusNotEligible:
			fmt.Printf("Not analyzed: risk level %s is below %s.\n", change.RiskLevel, cfg.MinRiskLevel())
			return nil
		case analysis.StatusNoObligation:
			fmt.Println("Not analyzed: the obligation catalog is empty.")
			return nil
		case analysis.StatusFailed:
			return fmt.Errorf("analysis failed for %s (see log)", change.ID)
		}

		printAnalysis(result, status)
		return nil
	},
}

// findChange looks a change up in the database, then among recent MeitY
// releases. A release found there is ingested and stored.
func findChange(ctx context.Context, a *app, id string) (*ingest.Change, error) {
	change, err := a.db.GetChange(ctx, id)
	if err != nil || change != nil {
		return change, err
	}
	if !cfg.Sources.Meity.Enabled {
		return nil, fmt.Errorf("change %s not found", id)
	}

	m := cfg.Sources.Meity
	rec, err := collect.NewMeityClient(m.BaseURL, m.PageSize, m.Pages, nil).FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("looking up %s at MeitY: %w", id, err)
	}
	if rec == nil {
		return nil, fmt.Errorf("change %s not found", id)
	}
	c, ok := a.ingester.Ingest(*rec)
	if !ok {
		return nil, fmt.Errorf("release %s is not relevant to data protection", id)
	}
	if _, err := a.db.InsertChanges(ctx, []ingest.Change{c}); err != nil {
		return nil, err
	}
	return &c, nil
}

func printAnalysis(r *analysis.Result, status analysis.Status) {
	applicable := "no"
	if r.Applicable {
		applicable = "yes"
	}
	fmt.Printf("Analysis (%s)\n", status)
	fmt.Printf("  Applicable: %s\n", applicable)
	fmt.Printf("  Risk: %s\n", r.RiskLevel.Title())
	fmt.Printf("  Affected obligation: %s (retrieved %s)\n", r.AffectedObligationID, r.RetrievedObligationID)
	fmt.Printf("\n%s\n", r.Summary)
	if len(r.Tasks) > 0 {
		fmt.Println("\nTasks:")
		for _, t := range r.Tasks {
			fmt.Printf("  - [%s, %d days] %s\n", t.Priority, t.DeadlineDays, t.Title)
		}
	}
	if len(r.ReasoningSteps) > 0 {
		fmt.Println("\nReasoning:")
		for i, s := range r.ReasoningSteps {
			fmt.Printf("  %d. %s\n", i+1, s)
		}
	}
}

// --- retrieve command ---

var retrieveCmd = &cobra.Command{
	Use:   "retrieve [text]",
	Short: "Show which obligation a piece of text maps to",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, false)
		if err != nil {
			return err
		}
		defer a.Close(ctx)

		text := strings.Join(args, " ")
		o, ok := a.engine.Retrieve(text)
		if !ok {
			fmt.Println("The obligation catalog is empty.")
			return nil
		}
		fmt.Printf("Best match: %s %s (%s)\n\n", o.ID, o.Title, o.Severity.Title())
		fmt.Println("Scores:")
		for _, s := range a.engine.Scores(text) {
			marker := " "
			if s.ObligationID == o.ID {
				marker = "*"
			}
			fmt.Printf("  %s %s %3d", marker, s.ObligationID, s.Total)
			if len(s.Rules) > 0 {
				fmt.Printf("  rules: %s", strings.Join(s.Rules, ", "))
			}
			fmt.Println()
		}
		return nil
	},
}

// --- classify command ---

var classifyCmd = &cobra.Command{
	Use:   "classify [title] [content]",
	Short: "Show matched keywords and the risk level for a title and optional content",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, false)
		if err != nil {
			return err
		}
		defer a.Close(ctx)

		title := args[0]
		content := ""
		if len(args) > 1 {
			content = ingest.StripTags(args[1])
		}
		matched := a.ingester.MatchKeywords(title, content)
		_, relevant := a.ingester.Ingest(ingest.RawRecord{ID: "cli", Title: title, Excerpt: content})

		fmt.Printf("Matched keywords (%d): %s\n", len(matched), strings.Join(matched, ", "))
		fmt.Printf("Critical terms: %s\n", strings.Join(a.classifier.CriticalHits(title, content), ", "))
		fmt.Printf("Risk level: %s\n", a.classifier.Classify(matched, title, content).Title())
		fmt.Printf("Passes relevance gate: %v\n", relevant)
		return nil
	},
}

// --- obligations command ---

var obligationsCmd = &cobra.Command{
	Use:   "obligations",
	Short: "Inspect the compliance obligation catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		return obligationsListCmd.RunE(cmd, args)
	},
}

var obligationsCritical bool

var obligationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List obligations",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, false)
		if err != nil {
			return err
		}
		defer a.Close(ctx)

		catalog := a.knowledge.Catalog
		items := catalog.Obligations()
		if obligationsCritical {
			items = catalog.Critical()
		}
		fmt.Printf("%s (%d obligations)\n\n", catalog.Framework, len(items))
		for _, o := range items {
			fmt.Printf("  [%s] %-9s %s\n", o.ID, o.Severity, o.Title)
		}
		return nil
	},
}

var obligationsShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show one obligation and the keywords that retrieve it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, false)
		if err != nil {
			return err
		}
		defer a.Close(ctx)

		catalog := a.knowledge.Catalog
		o, ok := catalog.Get(args[0])
		if !ok {
			return fmt.Errorf("obligation %s not found", args[0])
		}
		var keywords []string
		for _, r := range catalog.Rules() {
			if r.ObligationID == o.ID {
				keywords = append(keywords, r.Keyword)
			}
		}
		fmt.Printf("%s %s\n", o.ID, o.Title)
		fmt.Printf("  Category: %s\n", o.Category)
		fmt.Printf("  Severity: %s\n", o.Severity.Title())
		fmt.Printf("  Keywords: %s\n", strings.Join(keywords, ", "))
		fmt.Printf("\n%s\n", o.Description)
		return nil
	},
}

func init() {
	obligationsListCmd.Flags().BoolVar(&obligationsCritical, "critical", false, "Only critical obligations")
	obligationsCmd.AddCommand(obligationsListCmd)
	obligationsCmd.AddCommand(obligationsShowCmd)
}

// --- cache command ---

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the analysis cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cacheStatsCmd.RunE(cmd, args)
	},
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show analysis cache statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, false)
		if err != nil {
			return err
		}
		defer a.Close(ctx)

		s := a.cache.Stats()
		fmt.Printf("Cached analyses: %d\n", s.TotalCached)
		fmt.Printf("Backend: %s (%s)\n", cfg.Analysis.CacheBackend, s.Location)
		fmt.Printf("Persisted: %v\n", s.Persisted)
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every cached analysis",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, false)
		if err != nil {
			return err
		}
		defer a.Close(ctx)

		n := a.cache.Len()
		if err := a.cache.Clear(ctx); err != nil {
			return err
		}
		fmt.Printf("Cleared %d cached analyses.\n", n)
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}

func openDB() (*database.DB, error) {
	return database.Open(cfg.DatabasePath())
}
