// Package config loads sessionkit configuration from YAML with environment
// variable interpolation. A .env file in the working directory is loaded
// first, so secrets referenced as ${VAR} can live outside the config file.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/modelpipe/sessionkit/pkg/logging"
	"github.com/modelpipe/sessionkit/pkg/types"
)

var envVarRE = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Config is the root configuration.
type Config struct {
	Providers map[string]ProviderConfig `yaml:"providers"`
	Session   SessionConfig             `yaml:"session"`
	Logging   logging.Config            `yaml:"logging"`
	Cache     CacheConfig               `yaml:"cache"`
	Retry     RetryConfig               `yaml:"retry"`
	RateLimit RateLimitConfig           `yaml:"rate_limit"`
}

// ProviderConfig configures one provider connection.
type ProviderConfig struct {
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	DefaultModel   string `yaml:"default_model"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured request timeout.
func (p ProviderConfig) Timeout() time.Duration {
	if p.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// SessionConfig configures session defaults.
type SessionConfig struct {
	Provider     string  `yaml:"provider"`
	Model        string  `yaml:"model"`
	BudgetUSD    float64 `yaml:"budget_usd"`
	StrictBudget bool    `yaml:"strict_budget"`
	DryRun       bool    `yaml:"dry_run"`
	MaxRetries   int     `yaml:"max_retries"`
}

// CacheConfig configures the cache addon.
type CacheConfig struct {
	Enabled    bool `yaml:"enabled"`
	MaxSize    int  `yaml:"max_size"`
	TTLSeconds int  `yaml:"ttl_seconds"`
}

// TTL returns the configured cache TTL.
func (c CacheConfig) TTL() time.Duration {
	if c.TTLSeconds <= 0 {
		return 0
	}
	return time.Duration(c.TTLSeconds) * time.Second
}

// RetryConfig configures the retry addon.
type RetryConfig struct {
	Enabled        bool    `yaml:"enabled"`
	MaxRetries     int     `yaml:"max_retries"`
	InitialDelayMS int     `yaml:"initial_delay_ms"`
	MaxDelaySecs   float64 `yaml:"max_delay_seconds"`
}

// RateLimitConfig configures the rate-limit addon.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// Load reads and validates a YAML config file. Environment references like
// ${OPENAI_API_KEY} are substituted before parsing; unset variables become
// empty strings. A .env file next to the working directory is honored.
func Load(path string) (*Config, error) {
	// Missing .env is not an error.
	_ = godotenv.Load()

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &types.ConfigurationError{Message: "read config file", Err: err}
	}
	return Parse(raw)
}

// Parse parses YAML config bytes with env interpolation.
func Parse(raw []byte) (*Config, error) {
	interpolated := envVarRE.ReplaceAllStringFunc(string(raw), func(m string) string {
		name := envVarRE.FindStringSubmatch(m)[1]
		return os.Getenv(name)
	})

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, &types.ConfigurationError{Message: "parse config", Err: err}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Session.BudgetUSD < 0 {
		return &types.ConfigurationError{Message: "session.budget_usd must not be negative"}
	}
	if c.Session.MaxRetries < 0 {
		return &types.ConfigurationError{Message: "session.max_retries must not be negative"}
	}
	if c.Session.Provider != "" {
		if _, ok := c.Providers[c.Session.Provider]; !ok {
			return &types.ConfigurationError{
				Message: fmt.Sprintf("session.provider %q has no providers entry", c.Session.Provider),
			}
		}
	}
	if c.Cache.Enabled && c.Cache.MaxSize < 0 {
		return &types.ConfigurationError{Message: "cache.max_size must not be negative"}
	}
	if c.RateLimit.Enabled && c.RateLimit.RequestsPerSecond <= 0 {
		return &types.ConfigurationError{Message: "rate_limit.requests_per_second must be positive"}
	}
	return nil
}

// Provider returns the named provider config.
func (c *Config) Provider(name string) (ProviderConfig, bool) {
	p, ok := c.Providers[name]
	return p, ok
}
