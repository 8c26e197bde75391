package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pario-ai/stagegate/pkg/models"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stagegate.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Cache.TTL != time.Hour {
		t.Errorf("expected 1h TTL, got %v", cfg.Cache.TTL)
	}
	if cfg.Cache.SimilarityThreshold != 0.90 {
		t.Errorf("expected 0.90 similarity threshold, got %v", cfg.Cache.SimilarityThreshold)
	}
	if cfg.AutoRouting.ApprovalRateThreshold != 0.70 {
		t.Errorf("expected 0.70 approval threshold, got %v", cfg.AutoRouting.ApprovalRateThreshold)
	}
	if cfg.AutoRouting.AutoApprove(models.BandModerate) {
		t.Error("expected auto-approval disabled by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("TEST_OPENAI_KEY", "sk-test-123")

	path := writeConfig(t, `
cache:
  db_path: "cache.db"
  ttl: 30m
  similarity_threshold: 0.85
embedding:
  openai:
    api_key: ${TEST_OPENAI_KEY}
auto_routing:
  bands:
    moderate: 25
    complex: 55
    very_complex: 80
  stage2_auto_approve:
    moderate: true
  approval_rate_threshold: 0.6
  approval_window: 720h
budget:
  enabled: true
  policies:
    - max_tokens: 500000
      period: daily
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Cache.TTL != 30*time.Minute {
		t.Errorf("expected 30m TTL, got %v", cfg.Cache.TTL)
	}
	if cfg.Embedding.OpenAI.APIKey != "sk-test-123" {
		t.Errorf("env var not expanded: got %s", cfg.Embedding.OpenAI.APIKey)
	}
	if cfg.AutoRouting.Bands.Moderate != 25 || cfg.AutoRouting.Bands.VeryComplex != 80 {
		t.Errorf("unexpected bands: %+v", cfg.AutoRouting.Bands)
	}
	if !cfg.AutoRouting.AutoApprove(models.BandModerate) {
		t.Error("expected moderate auto-approval enabled")
	}
	if cfg.AutoRouting.AutoApprove(models.BandComplex) {
		t.Error("expected complex auto-approval to keep its default")
	}
	if cfg.AutoRouting.ApprovalWindow != 720*time.Hour {
		t.Errorf("expected 720h window, got %v", cfg.AutoRouting.ApprovalWindow)
	}
	if cfg.Cache.SimilarityModel != "hashing" {
		t.Errorf("expected default similarity model, got %s", cfg.Cache.SimilarityModel)
	}
	if len(cfg.Budget.Policies) != 1 || cfg.Budget.Policies[0].MaxTokens != 500000 {
		t.Fatalf("unexpected policies: %+v", cfg.Budget.Policies)
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := writeConfig(t, `
embedding:
  openai:
    api_key: ${STAGEGATE_DOTENV_KEY}
`)
	envPath := filepath.Join(filepath.Dir(path), ".env")
	if err := os.WriteFile(envPath, []byte("STAGEGATE_DOTENV_KEY=from-dotenv\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("STAGEGATE_DOTENV_KEY") })

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Embedding.OpenAI.APIKey != "from-dotenv" {
		t.Errorf("expected key from .env, got %q", cfg.Embedding.OpenAI.APIKey)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadOrDefault(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml"), true)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Cache.TTL != time.Hour {
		t.Errorf("expected defaults, got %+v", cfg.Cache)
	}

	if _, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml"), false); err == nil {
		t.Error("expected error when config is required")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bands not increasing", func(c *Config) { c.AutoRouting.Bands.Complex = 30 }},
		{"very complex below complex", func(c *Config) { c.AutoRouting.Bands.VeryComplex = 40 }},
		{"rate threshold above one", func(c *Config) { c.AutoRouting.ApprovalRateThreshold = 1.5 }},
		{"negative rate threshold", func(c *Config) { c.AutoRouting.ApprovalRateThreshold = -0.1 }},
		{"negative ttl", func(c *Config) { c.Cache.TTL = -time.Second }},
		{"similarity above one", func(c *Config) { c.Cache.SimilarityThreshold = 1.2 }},
		{"zero similarity threshold", func(c *Config) { c.Cache.SimilarityThreshold = 0 }},
		{"unknown similarity model", func(c *Config) { c.Cache.SimilarityModel = "tfidf" }},
		{"unknown log format", func(c *Config) { c.Log.Format = "xml" }},
		{"auto approve on simple band", func(c *Config) { c.AutoRouting.Stage2AutoApprove[models.BandSimple] = true }},
		{"bad budget period", func(c *Config) {
			c.Budget.Policies = []models.BudgetPolicy{{MaxTokens: 10, Period: "weekly"}}
		}},
		{"zero budget tokens", func(c *Config) {
			c.Budget.Policies = []models.BudgetPolicy{{Period: models.BudgetDaily}}
		}},
		{"unknown budget band", func(c *Config) {
			c.Budget.Policies = []models.BudgetPolicy{{Band: "huge", MaxTokens: 10, Period: models.BudgetDaily}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := writeConfig(t, `
auto_routing:
  approval_rate_threshold: 2
`)
	if _, err := Load(path); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestRedacted(t *testing.T) {
	cfg := Default()
	cfg.Embedding.OpenAI.APIKey = "sk-live"
	cfg.Lock.Valkey.Password = "hunter2"

	r := cfg.Redacted()
	if r.Embedding.OpenAI.APIKey == "sk-live" || r.Lock.Valkey.Password == "hunter2" {
		t.Errorf("secrets not masked: %+v %+v", r.Embedding.OpenAI, r.Lock.Valkey)
	}
	if cfg.Embedding.OpenAI.APIKey != "sk-live" {
		t.Error("Redacted modified the original config")
	}

	empty := Default().Redacted()
	if empty.Embedding.OpenAI.APIKey != "" || empty.Lock.Valkey.Password != "" {
		t.Error("empty secrets should stay empty")
	}
}
