package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/greencache-ai/greencache/pkg/models"
)

// Sampler kinds accepted by EnergyConfig.Sampler.
const (
	SamplerAuto         = "auto"
	SamplerNvidia       = "nvidia"
	SamplerPowermetrics = "powermetrics"
	SamplerRAPL         = "rapl"
	SamplerNone         = "none"
)

// Embedding providers accepted by EmbeddingConfig.Provider.
const (
	EmbeddingHash   = "hash"
	EmbeddingOpenAI = "openai"
)

// Config holds all greencache configuration.
type Config struct {
	Listen    string               `yaml:"listen"`
	DBPath    string               `yaml:"db_path"`
	Cache     CacheConfig          `yaml:"cache"`
	Embedding EmbeddingConfig      `yaml:"embedding"`
	Energy    EnergyConfig         `yaml:"energy"`
	LLM       LLMConfig            `yaml:"llm"`
	Providers []ProviderConfig     `yaml:"providers"`
	Router    RouterConfig         `yaml:"router"`
	Budget    BudgetConfig         `yaml:"budget"`
	History   models.HistoryConfig `yaml:"history"`
	Log       LogConfig            `yaml:"log"`
}

// CacheConfig controls the semantic cache.
type CacheConfig struct {
	Capacity            int     `yaml:"capacity"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	// Snapshot persists entries to SnapshotPath so the cache survives restarts.
	Snapshot     bool   `yaml:"snapshot"`
	SnapshotPath string `yaml:"snapshot_path"`
}

// EmbeddingConfig selects the embedding provider.
// Provider is "hash" (local, offline) or "openai" (any OpenAI-compatible /v1/embeddings).
type EmbeddingConfig struct {
	Provider string `yaml:"provider"`
	Dim      int    `yaml:"dim"`
	Model    string `yaml:"model"`
	URL      string `yaml:"url"`
	APIKey   string `yaml:"api_key"`
}

// EnergyConfig is the platform power profile.
type EnergyConfig struct {
	Sampler         string  `yaml:"sampler"`
	IdleWatts       float64 `yaml:"idle_watts"`
	TDPWatts        float64 `yaml:"tdp_watts"`
	CarbonIntensity float64 `yaml:"carbon_intensity_g_per_wh"`
	// GPUIndex restricts nvidia-smi to one device; -1 sums all devices.
	GPUIndex int    `yaml:"gpu_index"`
	RAPLPath string `yaml:"rapl_path"`
}

// LLMConfig controls calls to the upstream model service.
type LLMConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	DefaultModel string        `yaml:"default_model"`
}

// ProviderConfig defines an OpenAI-compatible upstream LLM provider.
type ProviderConfig struct {
	Name   string `yaml:"name"`
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
}

// RouterConfig defines model routing and fallback chains.
type RouterConfig struct {
	Routes []RouteConfig `yaml:"routes"`
}

// RouteConfig maps a client-facing model alias to an ordered list of targets.
type RouteConfig struct {
	Model   string        `yaml:"model"`
	Targets []RouteTarget `yaml:"targets"`
}

// RouteTarget identifies a specific provider and model in a fallback chain.
type RouteTarget struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// BudgetConfig controls carbon budget enforcement.
type BudgetConfig struct {
	Enabled  bool                  `yaml:"enabled"`
	Policies []models.BudgetPolicy `yaml:"policies"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen: ":8080",
		DBPath: "greencache.db",
		Cache: CacheConfig{
			Capacity:            1000,
			SimilarityThreshold: 0.85,
		},
		Embedding: EmbeddingConfig{
			Provider: EmbeddingHash,
			Dim:      384,
		},
		Energy: EnergyConfig{
			Sampler:         SamplerAuto,
			IdleWatts:       10,
			TDPWatts:        65,
			CarbonIntensity: 0.475,
			GPUIndex:        -1,
			RAPLPath:        "/sys/class/powercap/intel-rapl:0/energy_uj",
		},
		LLM: LLMConfig{
			Timeout:      120 * time.Second,
			MaxRetries:   2,
			DefaultModel: "llama3",
		},
		Providers: []ProviderConfig{
			{Name: "ollama", URL: "http://localhost:11434/v1"},
		},
		History: models.HistoryConfig{
			DBPath:        "greencache-history.db",
			RetentionDays: 30,
			MaxBodySize:   64 * 1024,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads a YAML config file, expands environment variables and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads path if it exists and falls back to Default otherwise.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return Load(path)
}

// Validate rejects configurations the cache and estimator cannot start with.
func (c *Config) Validate() error {
	if c.Cache.Capacity <= 0 {
		return errors.WithHint(
			errors.Newf("cache.capacity must be positive, got %d", c.Cache.Capacity),
			"set cache.capacity to the maximum number of cached answers")
	}
	if t := c.Cache.SimilarityThreshold; t < -1 || t > 1 {
		return errors.WithHint(
			errors.Newf("cache.similarity_threshold %v out of range [-1, 1]", t),
			"cosine similarity thresholds are usually between 0.8 and 0.95")
	}
	if c.Embedding.Dim <= 0 {
		return errors.Newf("embedding.dim must be positive, got %d", c.Embedding.Dim)
	}
	switch c.Embedding.Provider {
	case EmbeddingHash:
	case EmbeddingOpenAI:
		if c.Embedding.URL == "" || c.Embedding.Model == "" {
			return errors.New("embedding.url and embedding.model are required for the openai provider")
		}
	default:
		return errors.Newf("unknown embedding provider %q", c.Embedding.Provider)
	}

	switch c.Energy.Sampler {
	case SamplerAuto, SamplerNvidia, SamplerPowermetrics, SamplerRAPL, SamplerNone:
	default:
		return errors.WithHint(
			errors.Newf("unknown energy sampler %q", c.Energy.Sampler),
			"use one of auto, nvidia, powermetrics, rapl, none")
	}
	if c.Energy.IdleWatts < 0 || c.Energy.TDPWatts < c.Energy.IdleWatts {
		return errors.Newf("energy profile invalid: idle_watts=%v tdp_watts=%v", c.Energy.IdleWatts, c.Energy.TDPWatts)
	}
	if c.Energy.CarbonIntensity < 0 {
		return errors.Newf("energy.carbon_intensity_g_per_wh must not be negative, got %v", c.Energy.CarbonIntensity)
	}

	if c.LLM.Timeout <= 0 {
		return errors.Newf("llm.timeout must be positive, got %v", c.LLM.Timeout)
	}
	if c.LLM.MaxRetries < 0 {
		return errors.Newf("llm.max_retries must not be negative, got %d", c.LLM.MaxRetries)
	}

	known := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		known[p.Name] = true
	}
	for _, r := range c.Router.Routes {
		ok := false
		for _, t := range r.Targets {
			ok = ok || known[t.Provider]
		}
		if !ok {
			return errors.Newf("route %q: all providers unknown", r.Model)
		}
	}

	for _, p := range c.Budget.Policies {
		if p.MaxCarbonG <= 0 {
			return errors.Newf("budget policy for %q: max_carbon_g must be positive", p.Model)
		}
		if p.Period != models.BudgetDaily && p.Period != models.BudgetMonthly {
			return errors.Newf("budget policy for %q: unknown period %q", p.Model, p.Period)
		}
	}
	return nil
}

// SnapshotPath returns the database used for cache snapshots.
func (c *Config) SnapshotPath() string {
	if c.Cache.SnapshotPath != "" {
		return c.Cache.SnapshotPath
	}
	return c.DBPath
}
