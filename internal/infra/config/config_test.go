package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := Load()
	require.Error(t, err)

	cfg := defaultConfig()
	require.NoError(t, cfg.Validate())
	require.Equal(t, 2, cfg.Summary.MaxRetries)
	require.Equal(t, 5, cfg.Summary.MaxImagesPerRun)
	require.Equal(t, 3, cfg.Summary.ImagesPerRoundTrip)
	require.Equal(t, 90*time.Second, cfg.Summary.RequestTimeout)
	require.Equal(t, []string{"anthropic", "gemini", "ollama", "openai"}, cfg.ProviderIDs())
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http:
  address: ":9090"
  corsOrigins: ["chrome-extension://abc"]
summary:
  defaultProvider: openrouter
  maxRetries: 4
  retryBackoff: 250ms
providers:
  openrouter:
    family: openai
    baseUrl: https://openrouter.ai/api/v1
    model: meta-llama/llama-3.1-70b-instruct
store:
  valkey:
    enabled: true
    addr: localhost:6379
`), 0o600))

	t.Setenv("CONFIG_PATH", path)
	t.Setenv("OPENROUTER_API_KEY", "sk-test")
	t.Setenv("SUMMARY_MAX_RETRIES", "1")
	t.Setenv("HTTP_CORS_ORIGINS", "chrome-extension://abc, moz-extension://def")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.HTTP.Address)
	require.Equal(t, []string{"chrome-extension://abc", "moz-extension://def"}, cfg.HTTP.CORSOrigins)
	require.Equal(t, "openrouter", cfg.Summary.DefaultProvider)
	require.Equal(t, 1, cfg.Summary.MaxRetries)
	require.Equal(t, 250*time.Millisecond, cfg.Summary.RetryBackoff)
	require.Equal(t, "sk-test", cfg.Providers["openrouter"].APIKey)
	require.Equal(t, "https://openrouter.ai/api/v1", cfg.Providers["openrouter"].BaseURL)
	require.Contains(t, cfg.Providers, "openai")
	require.True(t, cfg.Store.Valkey.Enabled)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "empty address", mutate: func(c *Config) { c.HTTP.Address = "" }},
		{name: "auth without secret", mutate: func(c *Config) { c.HTTP.Auth.Enabled = true }},
		{name: "unknown default provider", mutate: func(c *Config) { c.Summary.DefaultProvider = "nope" }},
		{name: "unknown family", mutate: func(c *Config) {
			c.Providers["x"] = ProviderConfig{Family: "cohere", Model: "m"}
		}},
		{name: "missing model", mutate: func(c *Config) {
			c.Providers["x"] = ProviderConfig{Family: "openai"}
		}},
		{name: "negative retries", mutate: func(c *Config) { c.Summary.MaxRetries = -1 }},
		{name: "zero detail tokens", mutate: func(c *Config) { c.Summary.DetailTokens["brief"] = 0 }},
		{name: "valkey without addr", mutate: func(c *Config) { c.Store.Valkey.Enabled = true }},
		{name: "rate limit without rpm", mutate: func(c *Config) { c.HTTP.RateLimit.RequestsPerMinute = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
