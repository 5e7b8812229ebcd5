// Package config loads application configuration from file and environment
// and initializes the global logger.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/civicsense/analysis-cli/internal/cost"
	"github.com/civicsense/analysis-cli/internal/factcheck"
	"github.com/civicsense/analysis-cli/internal/provider"
	"github.com/civicsense/analysis-cli/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	Store        store.Config       `yaml:"store" mapstructure:"store"`
	Anthropic    AnthropicConfig    `yaml:"anthropic" mapstructure:"anthropic"`
	OpenAI       OpenAIConfig       `yaml:"openai" mapstructure:"openai"`
	Perplexity   PerplexityConfig   `yaml:"perplexity" mapstructure:"perplexity"`
	Providers    []provider.Profile `yaml:"providers" mapstructure:"providers"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator" mapstructure:"orchestrator"`
	Factcheck    factcheck.Config   `yaml:"factcheck" mapstructure:"factcheck"`
	Pricing      cost.Rates         `yaml:"pricing" mapstructure:"pricing"`
	Resilience   ResilienceConfig   `yaml:"resilience" mapstructure:"resilience"`
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key    string `yaml:"key" mapstructure:"key"`
	System string `yaml:"system" mapstructure:"system"`
}

// OpenAIConfig holds settings for OpenAI-compatible backends.
type OpenAIConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// PerplexityConfig holds Perplexity API settings.
type PerplexityConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// OrchestratorConfig configures analysis dispatch.
type OrchestratorConfig struct {
	MaxProviders    int    `yaml:"max_providers" mapstructure:"max_providers"`
	MaxConcurrent   int    `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	CacheTTLMins    int    `yaml:"cache_ttl_mins" mapstructure:"cache_ttl_mins"`
	TemplateOverlay string `yaml:"template_overlay" mapstructure:"template_overlay"`
}

// ResilienceConfig configures the per-provider circuit breakers.
type ResilienceConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("ANALYSIS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dsn", "analysis.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("openai.base_url", "")
	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("orchestrator.max_providers", 3)
	v.SetDefault("orchestrator.max_concurrent", 3)
	v.SetDefault("orchestrator.cache_ttl_mins", 60)
	v.SetDefault("factcheck.max_claims_per_job", 10)
	v.SetDefault("factcheck.max_tokens_per_job", 50000)
	v.SetDefault("factcheck.max_fallbacks", 2)
	v.SetDefault("factcheck.confidence_floor", 0.5)
	v.SetDefault("resilience.failure_threshold", 5)
	v.SetDefault("resilience.reset_timeout_secs", 60)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if len(cfg.Providers) == 0 {
		cfg.Providers = DefaultProviders()
	}
	for i := range cfg.Providers {
		if _, err := provider.ParseRole(string(cfg.Providers[i].Role)); err != nil {
			return nil, err
		}
	}

	if len(cfg.Pricing.Anthropic) == 0 && len(cfg.Pricing.OpenAI) == 0 && len(cfg.Pricing.Perplexity) == 0 {
		cfg.Pricing = cost.DefaultRates()
	}

	return &cfg, nil
}

// DefaultProviders is the provider set used when the config file names none.
func DefaultProviders() []provider.Profile {
	return []provider.Profile{
		{
			ID:         "anthropic-main",
			Kind:       "anthropic",
			Role:       provider.RoleMixed,
			Model:      "claude-sonnet-4-5-20250929",
			Weight:     1.0,
			MaxTokens:  4096,
			TimeoutMs:  60000,
			Enabled:    true,
			RatePerSec: 2,
		},
		{
			ID:         "openai-check",
			Kind:       "openai",
			Role:       provider.RoleStructure,
			Model:      "gpt-4o-mini",
			Weight:     0.8,
			MaxTokens:  4096,
			TimeoutMs:  60000,
			Enabled:    true,
			RatePerSec: 2,
		},
		{
			ID:         "perplexity-search",
			Kind:       "perplexity",
			Role:       provider.RoleContext,
			Model:      "sonar-pro",
			Weight:     1.0,
			MaxTokens:  4096,
			TimeoutMs:  90000,
			Enabled:    true,
			RatePerSec: 1,
		},
	}
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
