package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/TobiSchelling/RegWatch/internal/ingest"
	"github.com/TobiSchelling/RegWatch/internal/risk"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Sources   Sources   `yaml:"sources"`
	Ingest    Ingest    `yaml:"ingest"`
	Risk      Risk      `yaml:"risk"`
	Analysis  Analysis  `yaml:"analysis"`
	LLM       LLM       `yaml:"llm"`
	Knowledge Knowledge `yaml:"knowledge"`
	Output    Output    `yaml:"output"`
	Server    Server    `yaml:"server"`
	Logging   Logging   `yaml:"logging"`
}

type Sources struct {
	Meity         MeitySource `yaml:"meity"`
	PIB           PIBSource   `yaml:"pib"`
	Feeds         []Feed      `yaml:"feeds"`
	Seed          Seed        `yaml:"seed"`
	FetchFullText bool        `yaml:"fetch_full_text"`
}

type MeitySource struct {
	Enabled  bool   `yaml:"enabled"`
	BaseURL  string `yaml:"base_url"`
	PageSize int    `yaml:"page_size"`
	Pages    int    `yaml:"pages"`
}

type PIBSource struct {
	Enabled    bool   `yaml:"enabled"`
	URL        string `yaml:"url"`
	MinistryID int    `yaml:"ministry_id"`
}

type Feed struct {
	URL    string `yaml:"url"`
	Name   string `yaml:"name"`
	Sector string `yaml:"sector"`
}

type Seed struct {
	Enabled bool `yaml:"enabled"`
}

type Ingest struct {
	Keywords         []string `yaml:"keywords"`
	MinTitleLength   int      `yaml:"min_title_length"`
	MaxContentLength int      `yaml:"max_content_length"`
	MinKeywordHits   int      `yaml:"min_keyword_hits"`
}

type Risk struct {
	CriticalTerms []string   `yaml:"critical_terms"`
	Thresholds    Thresholds `yaml:"thresholds"`
}

type Thresholds struct {
	Critical     int `yaml:"critical"`
	High         int `yaml:"high"`
	Medium       int `yaml:"medium"`
	CriticalHits int `yaml:"critical_hits"`
}

type Analysis struct {
	MinRiskLevel string        `yaml:"min_risk_level"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxTokens    int           `yaml:"max_tokens"`
	CacheBackend string        `yaml:"cache_backend"`
	CacheFile    string        `yaml:"cache_file"`
}

type LLM struct {
	Provider        string `yaml:"provider"`
	GeminiModel     string `yaml:"gemini_model"`
	GeminiAPIKeyEnv string `yaml:"gemini_api_key_env"`
	OllamaModel     string `yaml:"ollama_model"`
	OllamaURL       string `yaml:"ollama_url"`
	OpenAIModel     string `yaml:"openai_model"`
	OpenAIAPIKeyEnv string `yaml:"openai_api_key_env"`
}

type Knowledge struct {
	Dir string `yaml:"dir"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ConfigDir returns the XDG config directory for regwatch.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "regwatch")
}

// DataDir returns the XDG data directory for regwatch.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "regwatch")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/regwatch/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'regwatch init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg, err := parse(DefaultConfigYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded default config: %v", err))
	}
	return cfg
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	thresholds := risk.DefaultThresholds()
	cfg := &Config{
		Sources: Sources{
			Meity: MeitySource{
				Enabled:  true,
				BaseURL:  "https://www.meity.gov.in",
				PageSize: 20,
				Pages:    1,
			},
			PIB: PIBSource{
				URL:        "https://pib.gov.in/allRel.aspx",
				MinistryID: 54,
			},
		},
		Ingest: Ingest{
			Keywords:         append([]string(nil), ingest.DefaultKeywords...),
			MinTitleLength:   ingest.DefaultMinTitleLength,
			MaxContentLength: ingest.DefaultMaxContentLength,
			MinKeywordHits:   ingest.DefaultMinKeywordHits,
		},
		Risk: Risk{
			CriticalTerms: append([]string(nil), risk.DefaultCriticalTerms...),
			Thresholds: Thresholds{
				Critical:     thresholds.Critical,
				High:         thresholds.High,
				Medium:       thresholds.Medium,
				CriticalHits: thresholds.CriticalHits,
			},
		},
		Analysis: Analysis{
			MinRiskLevel: string(risk.High),
			Timeout:      90 * time.Second,
			MaxTokens:    2048,
			CacheBackend: "sqlite",
		},
		LLM: LLM{
			Provider:        "gemini",
			GeminiModel:     "gemini-2.5-flash",
			GeminiAPIKeyEnv: "GEMINI_API_KEY",
			OllamaModel:     "qwen2.5:7b",
			OllamaURL:       "http://localhost:11434",
			OpenAIModel:     "gpt-4o-mini",
			OpenAIAPIKeyEnv: "OPENAI_API_KEY",
		},
		Server:  Server{Port: 8000},
		Logging: Logging{Level: "info", Format: "console"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if _, err := risk.ParseLevel(c.Analysis.MinRiskLevel); err != nil {
		return fmt.Errorf("analysis.min_risk_level: %w", err)
	}
	switch c.Analysis.CacheBackend {
	case "sqlite", "file":
	default:
		return fmt.Errorf("analysis.cache_backend: unknown backend %q (want sqlite or file)", c.Analysis.CacheBackend)
	}
	switch c.LLM.Provider {
	case "gemini", "ollama", "openai":
	default:
		return fmt.Errorf("llm.provider: unknown provider %q", c.LLM.Provider)
	}
	return nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

// DatabasePath returns the SQLite file inside the data directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.GetDataDir(), "regwatch.db")
}

// CacheFilePath returns the JSON analysis cache path for the file backend.
func (c *Config) CacheFilePath() string {
	if c.Analysis.CacheFile != "" {
		return c.Analysis.CacheFile
	}
	return filepath.Join(c.GetDataDir(), "analysis_cache.json")
}

// MinRiskLevel returns the parsed analysis gate level.
func (c *Config) MinRiskLevel() risk.Level {
	lvl, err := risk.ParseLevel(c.Analysis.MinRiskLevel)
	if err != nil {
		return risk.High
	}
	return lvl
}

// RiskThresholds converts the configured thresholds.
func (c *Config) RiskThresholds() risk.Thresholds {
	return risk.Thresholds{
		Critical:     c.Risk.Thresholds.Critical,
		High:         c.Risk.Thresholds.High,
		Medium:       c.Risk.Thresholds.Medium,
		CriticalHits: c.Risk.Thresholds.CriticalHits,
	}
}

// IngestOptions converts the ingest section.
func (c *Config) IngestOptions() ingest.Options {
	return ingest.Options{
		Keywords:         c.Ingest.Keywords,
		MinTitleLength:   c.Ingest.MinTitleLength,
		MaxContentLength: c.Ingest.MaxContentLength,
		MinKeywordHits:   c.Ingest.MinKeywordHits,
	}
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
