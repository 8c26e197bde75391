package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/pario-ai/stagegate/pkg/models"
)

// Config holds all stagegate configuration.
type Config struct {
	Log         LogConfig       `yaml:"log"`
	Cache       CacheConfig     `yaml:"cache"`
	Embedding   EmbeddingConfig `yaml:"embedding"`
	Metrics     MetricsConfig   `yaml:"metrics"`
	AutoRouting RoutingConfig   `yaml:"auto_routing"`
	Budget      BudgetConfig    `yaml:"budget"`
	Lock        LockConfig      `yaml:"lock"`
}

// LogConfig controls logrus output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// CacheConfig controls the response cache.
type CacheConfig struct {
	Enabled             bool          `yaml:"enabled"`
	DBPath              string        `yaml:"db_path"`
	TTL                 time.Duration `yaml:"ttl"`
	SimilarityThreshold float64       `yaml:"similarity_threshold"`
	SimilarityModel     string        `yaml:"similarity_model"` // "hashing", "confidence" or "openai"
	EmbedTimeout        time.Duration `yaml:"embed_timeout"`
	Dimensions          int           `yaml:"dimensions"`
	Keywords            []string      `yaml:"keywords"`
}

// EmbeddingConfig holds settings for remote embedding providers.
type EmbeddingConfig struct {
	OpenAI OpenAIConfig `yaml:"openai"`
}

// OpenAIConfig configures the OpenAI embeddings endpoint.
type OpenAIConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
}

// MetricsConfig locates the append-only metrics log.
type MetricsConfig struct {
	DBPath string `yaml:"db_path"`
}

// RoutingConfig drives the stage 2 routing policy.
type RoutingConfig struct {
	Bands                 BandThresholds       `yaml:"bands"`
	Stage2AutoApprove     map[models.Band]bool `yaml:"stage2_auto_approve"`
	ApprovalRateThreshold float64              `yaml:"approval_rate_threshold"`
	// ApprovalWindow limits approval-rate history to recent events. Zero
	// means all history.
	ApprovalWindow time.Duration `yaml:"approval_window"`
}

// BandThresholds are the lower bounds (inclusive) of each band above simple.
type BandThresholds struct {
	Moderate    int `yaml:"moderate"`
	Complex     int `yaml:"complex"`
	VeryComplex int `yaml:"very_complex"`
}

// BudgetConfig controls the token budget enforcer.
type BudgetConfig struct {
	Enabled  bool                  `yaml:"enabled"`
	Policies []models.BudgetPolicy `yaml:"policies"`
}

// LockConfig selects the write lock used around cache mutations.
type LockConfig struct {
	Valkey ValkeyConfig `yaml:"valkey"`
}

// ValkeyConfig enables the cross-process lock when Address is set.
type ValkeyConfig struct {
	Address   string        `yaml:"address"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl"`
	Retries   int           `yaml:"retries"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Cache: CacheConfig{
			Enabled:             true,
			DBPath:              "stagegate-cache.db",
			TTL:                 time.Hour,
			SimilarityThreshold: 0.90,
			SimilarityModel:     "hashing",
			EmbedTimeout:        5 * time.Second,
			Dimensions:          256,
		},
		Embedding: EmbeddingConfig{
			OpenAI: OpenAIConfig{
				Model: "text-embedding-3-small",
			},
		},
		Metrics: MetricsConfig{
			DBPath: "stagegate-metrics.db",
		},
		AutoRouting: RoutingConfig{
			Bands: BandThresholds{
				Moderate:    30,
				Complex:     50,
				VeryComplex: 70,
			},
			Stage2AutoApprove: map[models.Band]bool{
				models.BandModerate: false,
				models.BandComplex:  false,
			},
			ApprovalRateThreshold: 0.70,
		},
		Lock: LockConfig{
			Valkey: ValkeyConfig{
				KeyPrefix: "stagegate",
				TTL:       2 * time.Second,
				Retries:   10,
			},
		},
	}
}

// Load reads a YAML config file and expands environment variables. A .env
// file next to the config is loaded first if present; variables already set
// in the environment win.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	envFile := filepath.Join(filepath.Dir(path), ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads path, falling back to Default when the file does not
// exist and optional is true.
func LoadOrDefault(path string, optional bool) (*Config, error) {
	cfg, err := Load(path)
	if err != nil && optional && errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

const redacted = "********"

// Redacted returns a copy of c with credentials masked, for display.
func (c Config) Redacted() Config {
	if c.Embedding.OpenAI.APIKey != "" {
		c.Embedding.OpenAI.APIKey = redacted
	}
	if c.Lock.Valkey.Password != "" {
		c.Lock.Valkey.Password = redacted
	}
	return c
}

// AutoApprove reports whether stage 2 auto-approval is enabled for band.
func (c RoutingConfig) AutoApprove(band models.Band) bool {
	return c.Stage2AutoApprove[band]
}
