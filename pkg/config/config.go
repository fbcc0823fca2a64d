// Package config loads the proxy configuration once at startup.
//
// Values come from built-in defaults, an optional config file and the process
// environment, in increasing order of precedence. The resulting Config is a plain
// value threaded into every constructor; nothing reads the environment afterwards.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/mihaimyh/promptbuddy/pkg/quota"
	"github.com/mihaimyh/promptbuddy/pkg/token"
)

// Storage backends
const (
	BackendMemory    = "memory"
	BackendRedis     = "redis"
	BackendPostgres  = "postgres"
	BackendFirestore = "firestore"
)

// Upstream providers
const (
	ProviderDeepSeek = "deepseek"
	ProviderGemini   = "gemini"
)

// DefaultOrigin is the browser origin used when a request's Origin is not allow-listed
const DefaultOrigin = "https://zhelair.github.io"

// Config holds the proxy configuration
type Config struct {
	ListenAddr string `mapstructure:"listen_addr"`

	// Upstream
	UpstreamProvider string        `mapstructure:"upstream_provider"`
	UpstreamModel    string        `mapstructure:"upstream_model"`
	UpstreamBaseURL  string        `mapstructure:"upstream_base_url"`
	UpstreamTimeout  time.Duration `mapstructure:"upstream_timeout"`
	DeepSeekAPIKey   string        `mapstructure:"deepseek_api_key"`
	GeminiAPIKey     string        `mapstructure:"gemini_api_key"`

	// Tokens and unlock
	TokenSecret         string   `mapstructure:"token_secret"`
	TokenTTLDays        int      `mapstructure:"token_ttl_days"`
	AllowedPassphrases  []string `mapstructure:"-"`
	UnlockRatePerMinute int      `mapstructure:"unlock_rate_per_minute"`
	TrustProxyHeaders   bool     `mapstructure:"trust_proxy_headers"`

	// Daily limits
	DailyPromptLimit int    `mapstructure:"daily_prompt_limit"`
	DailyCoachLimit  int    `mapstructure:"daily_coach_limit"`
	Timezone         string `mapstructure:"timezone"`

	// Input caps
	PromptMaxChars int   `mapstructure:"prompt_max_chars"`
	CoachMaxChars  int   `mapstructure:"coach_max_chars"`
	MaxBodyBytes   int64 `mapstructure:"max_body_bytes"`

	// CORS
	AllowedOrigins []string `mapstructure:"-"`
	DefaultOrigin  string   `mapstructure:"default_origin"`
	StrictOrigin   bool     `mapstructure:"strict_origin"`

	// Storage
	StorageBackend   string `mapstructure:"storage_backend"`
	RedisAddr        string `mapstructure:"redis_addr"`
	RedisPassword    string `mapstructure:"redis_password"`
	RedisDB          int    `mapstructure:"redis_db"`
	PostgresDSN      string `mapstructure:"postgres_dsn"`
	FirestoreProject string `mapstructure:"firestore_project"`

	// Optional durable mirror of every accepted increment
	StorageMirror      string `mapstructure:"storage_mirror"`
	StorageMirrorAsync bool   `mapstructure:"storage_mirror_async"`

	CircuitBreakerThreshold int           `mapstructure:"circuit_breaker_threshold"`
	CircuitBreakerReset     time.Duration `mapstructure:"circuit_breaker_reset"`

	// Observability
	MetricsEnabled bool   `mapstructure:"metrics_enabled"`
	LogLevel       string `mapstructure:"log_level"`
	LogFormat      string `mapstructure:"log_format"`
}

var defaults = map[string]any{
	"listen_addr":               ":8787",
	"upstream_provider":         ProviderDeepSeek,
	"upstream_model":            "",
	"upstream_base_url":         "",
	"upstream_timeout":          "60s",
	"deepseek_api_key":          "",
	"gemini_api_key":            "",
	"token_secret":              "",
	"token_ttl_days":            30,
	"allowed_passphrases":       "",
	"unlock_rate_per_minute":    10,
	"trust_proxy_headers":       false,
	"daily_prompt_limit":        30,
	"daily_coach_limit":         5,
	"timezone":                  quota.DefaultTimezone,
	"prompt_max_chars":          5000,
	"coach_max_chars":           8000,
	"max_body_bytes":            64 << 10,
	"allowed_origins":           "",
	"default_origin":            DefaultOrigin,
	"strict_origin":             false,
	"storage_backend":           BackendMemory,
	"redis_addr":                "localhost:6379",
	"redis_password":            "",
	"redis_db":                  0,
	"postgres_dsn":              "",
	"firestore_project":         "",
	"storage_mirror":            "",
	"storage_mirror_async":      true,
	"circuit_breaker_threshold": 5,
	"circuit_breaker_reset":     "30s",
	"metrics_enabled":           false,
	"log_level":                 "info",
	"log_format":                "json",
}

// Load reads configuration from defaults, the optional file at path and the
// environment. An empty path looks for promptbuddy.{yaml,json,toml} in the
// working directory and ./config; a missing file there is not an error.
func Load(path string) (Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("promptbuddy")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.AllowedPassphrases = ParseList(v.GetString("allowed_passphrases"))
	cfg.AllowedOrigins = ParseList(v.GetString("allowed_origins"))
	cfg.TokenSecret = strings.TrimSpace(cfg.TokenSecret)
	cfg.UpstreamProvider = strings.ToLower(strings.TrimSpace(cfg.UpstreamProvider))
	cfg.StorageBackend = strings.ToLower(strings.TrimSpace(cfg.StorageBackend))
	cfg.StorageMirror = strings.ToLower(strings.TrimSpace(cfg.StorageMirror))
	if cfg.DefaultOrigin == "" {
		cfg.DefaultOrigin = DefaultOrigin
	}

	return cfg, nil
}

var listSeparators = regexp.MustCompile(`[\n,]+`)

// ParseList parses an allow-list written either as a JSON array or as a comma or
// newline separated list. Entries are trimmed and empty ones dropped. A value that
// starts with "[" but is not a valid JSON array yields an empty list.
func ParseList(raw string) []string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return []string{}
	}

	if strings.HasPrefix(s, "[") {
		var items []any
		if err := json.Unmarshal([]byte(s), &items); err != nil {
			return []string{}
		}
		out := make([]string, 0, len(items))
		for _, item := range items {
			if item == nil {
				continue
			}
			if v := strings.TrimSpace(fmt.Sprint(item)); v != "" {
				out = append(out, v)
			}
		}
		return out
	}

	parts := listSeparators.Split(s, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Location resolves the configured counter timezone
func (c Config) Location() (*time.Location, error) {
	return quota.LoadLocation(c.Timezone)
}

// Origins returns the CORS allow-list; with none configured only DefaultOrigin is allowed
func (c Config) Origins() []string {
	if len(c.AllowedOrigins) == 0 {
		return []string{c.DefaultOrigin}
	}
	return c.AllowedOrigins
}

// TokenTTL returns the lifetime of issued tokens
func (c Config) TokenTTL() time.Duration {
	return token.TTLFromDays(c.TokenTTLDays)
}

// APIKey returns the key of the selected upstream provider
func (c Config) APIKey() string {
	if c.UpstreamProvider == ProviderGemini {
		return c.GeminiAPIKey
	}
	return c.DeepSeekAPIKey
}

// Validate reports configuration the server cannot start with
func (c Config) Validate() error {
	var errs []error

	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}

	switch c.StorageBackend {
	case BackendMemory, BackendRedis, BackendFirestore:
	case BackendPostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("POSTGRES_DSN is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage backend %q", c.StorageBackend))
	}

	switch c.StorageMirror {
	case "", BackendFirestore:
	case BackendPostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("POSTGRES_DSN is required for the postgres mirror"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage mirror must be postgres or firestore, got %q", c.StorageMirror))
	}
	if c.StorageMirror != "" && c.StorageMirror == c.StorageBackend {
		errs = append(errs, errors.New("storage mirror must differ from the storage backend"))
	}

	switch c.UpstreamProvider {
	case ProviderDeepSeek, ProviderGemini:
	default:
		errs = append(errs, fmt.Errorf("unknown upstream provider %q", c.UpstreamProvider))
	}

	if c.DailyPromptLimit < 0 || c.DailyCoachLimit < 0 {
		errs = append(errs, errors.New("daily limits must not be negative"))
	}
	if c.PromptMaxChars <= 0 || c.CoachMaxChars <= 0 {
		errs = append(errs, errors.New("PROMPT_MAX_CHARS and COACH_MAX_CHARS must be positive"))
	}
	if c.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("MAX_BODY_BYTES must be positive"))
	}

	return errors.Join(errs...)
}

// Warnings lists misconfiguration the server still starts with. The affected
// requests fail at runtime with server_misconfig or invalid_passphrase.
func (c Config) Warnings() []string {
	var out []string
	if len(c.TokenSecret) < token.MinSecretLength {
		out = append(out, fmt.Sprintf("TOKEN_SECRET is missing or shorter than %d bytes; unlock and authenticated routes will fail", token.MinSecretLength))
	}
	if len(c.AllowedPassphrases) == 0 {
		out = append(out, "ALLOWED_PASSPHRASES is empty; every unlock attempt will be rejected")
	}
	if strings.TrimSpace(c.APIKey()) == "" {
		out = append(out, fmt.Sprintf("no API key set for upstream provider %q", c.UpstreamProvider))
	}
	return out
}
