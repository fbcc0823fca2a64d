package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/mihaimyh/promptbuddy/pkg/quota"
	"github.com/mihaimyh/promptbuddy/pkg/review"
	"github.com/mihaimyh/promptbuddy/pkg/token"
)

// Header names read by the router
const (
	HeaderPassphrase = "X-OU-PASS"
	HeaderDeviceID   = "X-OU-DEVICE"
	HeaderRequestID  = "X-Request-ID"
)

const (
	defaultPromptMaxChars = 5000
	defaultCoachMaxChars  = 8000
	defaultMaxBodyBytes   = 64 << 10
	defaultTokenTTL       = 30 * 24 * time.Hour
	defaultOrigin         = "https://zhelair.github.io"
)

// Config holds configuration for the proxy router
type Config struct {
	// Codec signs and verifies bearer tokens. Nil means no usable secret is
	// configured; unlock and authenticated routes then answer server_misconfig.
	Codec *token.Codec

	// Manager tracks the daily counters (required)
	Manager *quota.Manager

	// Review runs the upstream calls (required)
	Review *review.Service

	// AllowedPassphrases is the unlock allow-list, compared exactly
	AllowedPassphrases []string

	// TokenTTL is the lifetime of issued tokens (default: 30 days)
	TokenTTL time.Duration

	// PromptMaxChars clips prompt-check input, in characters (default: 5000)
	PromptMaxChars int

	// CoachMaxChars clips the combined coach text, in characters (default: 8000)
	CoachMaxChars int

	// MaxBodyBytes caps request bodies (default: 64 KiB)
	MaxBodyBytes int64

	// AllowedOrigins is the CORS allow-list (default: DefaultOrigin only)
	AllowedOrigins []string

	// DefaultOrigin is echoed when the request Origin is not allow-listed
	DefaultOrigin string

	// StrictOrigin rejects requests from origins outside the allow-list
	StrictOrigin bool

	// UnlockRatePerMinute limits /unlock attempts per client address (0 disables)
	UnlockRatePerMinute int

	// TrustProxyHeaders takes the client address from True-Client-IP, X-Real-IP or
	// X-Forwarded-For. Enable only behind a proxy that overwrites them.
	TrustProxyHeaders bool

	// MetricsHandler is mounted at GET /metrics when set
	MetricsHandler http.Handler

	// Metrics records unlock outcomes (default: NoopMetrics)
	Metrics quota.Metrics

	// Logger receives access and error logs (default: disabled)
	Logger *zerolog.Logger

	// Now overrides the clock, mainly for tests (default: time.Now)
	Now func() time.Time
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Manager == nil {
		return fmt.Errorf("manager is required")
	}
	if c.Review == nil {
		return fmt.Errorf("review service is required")
	}
	return nil
}

// NewHandler creates the proxy router with the given configuration
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// Set defaults
	if config.TokenTTL <= 0 {
		config.TokenTTL = defaultTokenTTL
	}
	if config.PromptMaxChars <= 0 {
		config.PromptMaxChars = defaultPromptMaxChars
	}
	if config.CoachMaxChars <= 0 {
		config.CoachMaxChars = defaultCoachMaxChars
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = defaultMaxBodyBytes
	}
	if config.DefaultOrigin == "" {
		config.DefaultOrigin = defaultOrigin
	}
	if config.Metrics == nil {
		config.Metrics = &quota.NoopMetrics{}
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	logger := zerolog.Nop()
	if config.Logger != nil {
		logger = *config.Logger
	}

	origins := config.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{config.DefaultOrigin}
	}
	originSet := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		originSet[o] = struct{}{}
	}

	h := &Handler{
		config:  config,
		logger:  logger,
		origins: originSet,
	}
	if config.UnlockRatePerMinute > 0 {
		h.limiter = newAttemptLimiter(config.UnlockRatePerMinute, time.Minute, config.Now)
	}
	h.router = h.routes()

	return h, nil
}
