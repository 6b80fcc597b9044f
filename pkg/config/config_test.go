package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelpipe/sessionkit/pkg/types"
)

const sampleYAML = `
providers:
  openai:
    api_key: ${TEST_OPENAI_KEY}
    base_url: https://api.openai.com/v1
    default_model: gpt-4o-mini
    timeout_seconds: 30
session:
  provider: openai
  model: gpt-4o-mini
  budget_usd: 5.0
  strict_budget: true
  max_retries: 2
logging:
  level: debug
  console: true
cache:
  enabled: true
  max_size: 500
  ttl_seconds: 3600
retry:
  enabled: true
  max_retries: 3
  initial_delay_ms: 500
rate_limit:
  enabled: true
  requests_per_second: 2.5
  burst: 5
`

func TestParseWithInterpolation(t *testing.T) {
	t.Setenv("TEST_OPENAI_KEY", "sk-from-env")

	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	p, ok := cfg.Provider("openai")
	require.True(t, ok)
	assert.Equal(t, "sk-from-env", p.APIKey)
	assert.Equal(t, 30*time.Second, p.Timeout())

	assert.Equal(t, 5.0, cfg.Session.BudgetUSD)
	assert.True(t, cfg.Session.StrictBudget)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, time.Hour, cfg.Cache.TTL())
	assert.Equal(t, 2.5, cfg.RateLimit.RequestsPerSecond)
}

func TestParseUnsetVarBecomesEmpty(t *testing.T) {
	os.Unsetenv("TEST_OPENAI_KEY")

	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	p, _ := cfg.Provider("openai")
	assert.Empty(t, p.APIKey)
}

func TestLoadFromFile(t *testing.T) {
	t.Setenv("TEST_OPENAI_KEY", "sk-file")
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	p, _ := cfg.Provider("openai")
	assert.Equal(t, "sk-file", p.APIKey)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	var cerr *types.ConfigurationError
	assert.ErrorAs(t, err, &cerr)
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"negative budget", "session:\n  budget_usd: -1\n"},
		{"negative retries", "session:\n  max_retries: -1\n"},
		{"unknown provider", "session:\n  provider: missing\n"},
		{"bad rate limit", "rate_limit:\n  enabled: true\n  requests_per_second: 0\n"},
		{"malformed yaml", "session: [\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			assert.Error(t, err)
		})
	}
}
