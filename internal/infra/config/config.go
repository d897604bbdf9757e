package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config aggregates runtime configuration used across the service.
type Config struct {
	HTTP       HTTPConfig                `yaml:"http"`
	Summary    SummaryConfig             `yaml:"summary"`
	Followup   FollowupConfig            `yaml:"followup"`
	Providers  map[string]ProviderConfig `yaml:"providers"`
	ImageFetch ImageFetchConfig          `yaml:"imageFetch"`
	Store      StoreConfig               `yaml:"store"`
}

// HTTPConfig controls server level behavior.
type HTTPConfig struct {
	Address      string          `yaml:"address"`
	ReadTimeout  time.Duration   `yaml:"readTimeout"`
	// WriteTimeout of zero disables the write deadline, which streamed summaries need.
	WriteTimeout time.Duration   `yaml:"writeTimeout"`
	RateLimit    RateLimitConfig `yaml:"rateLimit"`
	CORSOrigins  []string        `yaml:"corsOrigins"`
	Auth         AuthConfig      `yaml:"auth"`
}

// RateLimitConfig drives the request limiting middleware.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requestsPerMinute"`
	Burst             int  `yaml:"burst"`
}

// AuthConfig enables bearer-token checks on the API routes when Enabled is set.
type AuthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Secret  string `yaml:"secret"`
	Issuer  string `yaml:"issuer"`
}

// SummaryConfig defines the orchestration limits of the summarizer domain.
type SummaryConfig struct {
	DefaultProvider    string         `yaml:"defaultProvider"`
	ContextWindow      int            `yaml:"contextWindow"`
	MaxRetries         int            `yaml:"maxRetries"`
	RetryBackoff       time.Duration  `yaml:"retryBackoff"`
	MaxImagesPerRun    int            `yaml:"maxImagesPerRun"`
	ImagesPerRoundTrip int            `yaml:"imagesPerRoundTrip"`
	RequestTimeout     time.Duration  `yaml:"requestTimeout"`
	DetailTokens       map[string]int `yaml:"detailTokens"`
	IntermediateTokens int            `yaml:"intermediateTokens"`
	Temperature        float32        `yaml:"temperature"`
}

// FollowupConfig bounds the follow-up chat.
type FollowupConfig struct {
	MaxHistory      int `yaml:"maxHistory"`
	MaxOutputTokens int `yaml:"maxOutputTokens"`
}

// ProviderConfig describes one model backend.
type ProviderConfig struct {
	Family          string `yaml:"family"`
	BaseURL         string `yaml:"baseUrl"`
	APIKey          string `yaml:"apiKey"`
	Model           string `yaml:"model"`
	TokenLimitField string `yaml:"tokenLimitField"`
	Vision          bool   `yaml:"vision"`
}

// ImageFetchConfig controls the image download collaborator.
type ImageFetchConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxBytes     int64         `yaml:"maxBytes"`
	MaxDimension int           `yaml:"maxDimension"`
	Concurrency  int           `yaml:"concurrency"`
}

// StoreConfig selects where active documents live.
type StoreConfig struct {
	TTL    time.Duration `yaml:"ttl"`
	Valkey ValkeyConfig  `yaml:"valkey"`
}

// ValkeyConfig contains connection information for the shared store.
type ValkeyConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Prefix  string `yaml:"prefix"`
}

// Load reads configuration from a YAML file and environment variables.
func Load() (*Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := hydrateFromFile(cfg, path); err != nil {
			return nil, err
		}
	} else if _, err := os.Stat("configs/config.yaml"); err == nil {
		if err := hydrateFromFile(cfg, "configs/config.yaml"); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func hydrateFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HTTP_ADDRESS"); v != "" {
		cfg.HTTP.Address = v
	}
	if v := os.Getenv("HTTP_CORS_ORIGINS"); v != "" {
		cfg.HTTP.CORSOrigins = splitList(v)
	}
	if v := os.Getenv("HTTP_RATE_LIMIT_ENABLED"); v != "" {
		cfg.HTTP.RateLimit.Enabled = parseBool(v)
	}
	if v := os.Getenv("HTTP_RATE_LIMIT_RPM"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.HTTP.RateLimit.RequestsPerMinute = parsed
		}
	}
	if v := os.Getenv("HTTP_RATE_LIMIT_BURST"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.HTTP.RateLimit.Burst = parsed
		}
	}
	if v := os.Getenv("AUTH_ENABLED"); v != "" {
		cfg.HTTP.Auth.Enabled = parseBool(v)
	}
	if v := os.Getenv("AUTH_SECRET"); v != "" {
		cfg.HTTP.Auth.Secret = v
	}
	if v := os.Getenv("SUMMARY_DEFAULT_PROVIDER"); v != "" {
		cfg.Summary.DefaultProvider = v
	}
	if v := os.Getenv("SUMMARY_CONTEXT_WINDOW"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Summary.ContextWindow = parsed
		}
	}
	if v := os.Getenv("SUMMARY_MAX_RETRIES"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Summary.MaxRetries = parsed
		}
	}
	if v := os.Getenv("SUMMARY_RETRY_BACKOFF"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			cfg.Summary.RetryBackoff = parsed
		}
	}
	if v := os.Getenv("SUMMARY_REQUEST_TIMEOUT"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			cfg.Summary.RequestTimeout = parsed
		}
	}
	if v := os.Getenv("IMAGE_FETCH_ENABLED"); v != "" {
		cfg.ImageFetch.Enabled = parseBool(v)
	}
	if v := os.Getenv("VALKEY_ENABLED"); v != "" {
		cfg.Store.Valkey.Enabled = parseBool(v)
	}
	if v := os.Getenv("VALKEY_ADDR"); v != "" {
		cfg.Store.Valkey.Addr = v
	}
	if v := os.Getenv("STORE_TTL"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			cfg.Store.TTL = parsed
		}
	}
	// <ID>_API_KEY, e.g. OPENAI_API_KEY or OPENROUTER_API_KEY.
	for id, provider := range cfg.Providers {
		prefix := envName(id)
		if v := os.Getenv(prefix + "_API_KEY"); v != "" {
			provider.APIKey = v
		}
		if v := os.Getenv(prefix + "_MODEL"); v != "" {
			provider.Model = v
		}
		if v := os.Getenv(prefix + "_BASE_URL"); v != "" {
			provider.BaseURL = v
		}
		cfg.Providers[id] = provider
	}
}

func envName(id string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(id))
}

func parseBool(v string) bool {
	return v == "1" || strings.EqualFold(v, "true")
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func defaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Address:     ":8080",
			ReadTimeout: 10 * time.Second,
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 60,
				Burst:             20,
			},
		},
		Summary: SummaryConfig{
			DefaultProvider:    "openai",
			ContextWindow:      128000,
			MaxRetries:         2,
			RetryBackoff:       time.Second,
			MaxImagesPerRun:    5,
			ImagesPerRoundTrip: 3,
			RequestTimeout:     90 * time.Second,
			DetailTokens: map[string]int{
				"brief":    1024,
				"standard": 2048,
				"detailed": 4096,
			},
			IntermediateTokens: 1024,
			Temperature:        0.3,
		},
		Followup: FollowupConfig{
			MaxHistory:      20,
			MaxOutputTokens: 1024,
		},
		Providers: map[string]ProviderConfig{
			"openai": {
				Family: "openai",
				Model:  "gpt-4o-mini",
				Vision: true,
			},
			"anthropic": {
				Family: "anthropic",
				Model:  "claude-3-5-haiku-latest",
				Vision: true,
			},
			"gemini": {
				Family: "gemini",
				Model:  "gemini-2.0-flash",
				Vision: true,
			},
			"ollama": {
				Family:  "openai",
				BaseURL: "http://localhost:11434/v1",
				Model:   "llama3.1",
			},
		},
		ImageFetch: ImageFetchConfig{
			Enabled:      true,
			Timeout:      15 * time.Second,
			MaxBytes:     8 << 20,
			MaxDimension: 1568,
			Concurrency:  3,
		},
		Store: StoreConfig{
			TTL: 24 * time.Hour,
			Valkey: ValkeyConfig{
				Enabled: false,
				Prefix:  "pagedigest",
			},
		},
	}
}

// ProviderIDs returns the configured provider ids in a stable order.
func (c *Config) ProviderIDs() []string {
	ids := make([]string, 0, len(c.Providers))
	for id := range c.Providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Validate ensures the configuration is safe to use.
func (c *Config) Validate() error {
	if c.HTTP.Address == "" {
		return errors.New("http.address cannot be empty")
	}
	if c.HTTP.RateLimit.Enabled {
		if c.HTTP.RateLimit.RequestsPerMinute <= 0 {
			return errors.New("http.rateLimit.requestsPerMinute must be positive")
		}
		if c.HTTP.RateLimit.Burst <= 0 {
			return errors.New("http.rateLimit.burst must be positive")
		}
	}
	if c.HTTP.Auth.Enabled && strings.TrimSpace(c.HTTP.Auth.Secret) == "" {
		return errors.New("http.auth.secret cannot be empty when auth is enabled")
	}
	if len(c.Providers) == 0 {
		return errors.New("providers cannot be empty")
	}
	for id, p := range c.Providers {
		switch p.Family {
		case "openai", "anthropic", "gemini":
		default:
			return fmt.Errorf("providers.%s.family %q is not supported", id, p.Family)
		}
		if strings.TrimSpace(p.Model) == "" {
			return fmt.Errorf("providers.%s.model cannot be empty", id)
		}
	}
	if _, ok := c.Providers[c.Summary.DefaultProvider]; !ok {
		return fmt.Errorf("summary.defaultProvider %q is not configured", c.Summary.DefaultProvider)
	}
	if c.Summary.ContextWindow <= 0 {
		return errors.New("summary.contextWindow must be positive")
	}
	if c.Summary.MaxRetries < 0 {
		return errors.New("summary.maxRetries cannot be negative")
	}
	if c.Summary.RetryBackoff < 0 {
		return errors.New("summary.retryBackoff cannot be negative")
	}
	if c.Summary.MaxImagesPerRun < 0 || c.Summary.ImagesPerRoundTrip < 0 {
		return errors.New("summary image limits cannot be negative")
	}
	if c.Summary.RequestTimeout <= 0 {
		return errors.New("summary.requestTimeout must be positive")
	}
	for level, tokens := range c.Summary.DetailTokens {
		if tokens <= 0 {
			return fmt.Errorf("summary.detailTokens.%s must be positive", level)
		}
	}
	if c.ImageFetch.Enabled && c.ImageFetch.Concurrency <= 0 {
		return errors.New("imageFetch.concurrency must be positive")
	}
	if c.Store.TTL < 0 {
		return errors.New("store.ttl cannot be negative")
	}
	if c.Store.Valkey.Enabled && strings.TrimSpace(c.Store.Valkey.Addr) == "" {
		return errors.New("store.valkey.addr cannot be empty when valkey is enabled")
	}
	return nil
}
