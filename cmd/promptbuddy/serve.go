package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mihaimyh/promptbuddy/pkg/api"
	"github.com/mihaimyh/promptbuddy/pkg/config"
	"github.com/mihaimyh/promptbuddy/pkg/quota"
	zerologadapter "github.com/mihaimyh/promptbuddy/pkg/quota/logger/zerolog"
	prommetrics "github.com/mihaimyh/promptbuddy/pkg/quota/metrics/prometheus"
	"github.com/mihaimyh/promptbuddy/pkg/review"
	"github.com/mihaimyh/promptbuddy/pkg/token"
	"github.com/mihaimyh/promptbuddy/pkg/upstream"
	"github.com/mihaimyh/promptbuddy/pkg/upstream/deepseek"
	"github.com/mihaimyh/promptbuddy/pkg/upstream/gemini"
	fsstore "github.com/mihaimyh/promptbuddy/storage/firestore"
	"github.com/mihaimyh/promptbuddy/storage/memory"
	"github.com/mihaimyh/promptbuddy/storage/postgres"
	redisstore "github.com/mihaimyh/promptbuddy/storage/redis"
	"github.com/mihaimyh/promptbuddy/storage/tiered"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP proxy",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := newLogger(cfg, os.Stderr)
	for _, warning := range cfg.Warnings() {
		logger.Warn().Msg(warning)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var metrics quota.Metrics = &quota.NoopMetrics{}
	var metricsHandler http.Handler
	if cfg.MetricsEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics = prommetrics.NewMetrics(reg, "promptbuddy")
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}

	qlog := zerologadapter.NewLogger(logger)

	store, closeStore, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	manager, err := quota.NewManager(store, quota.Config{
		Limits: map[quota.Kind]int{
			quota.KindPrompt: cfg.DailyPromptLimit,
			quota.KindCoach:  cfg.DailyCoachLimit,
		},
		Location: loc,
		Metrics:  metrics,
		Logger:   qlog.With("quota"),
		CircuitBreakerConfig: &quota.CircuitBreakerConfig{
			Enabled:          cfg.CircuitBreakerThreshold > 0,
			FailureThreshold: cfg.CircuitBreakerThreshold,
			ResetTimeout:     cfg.CircuitBreakerReset,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create quota manager: %w", err)
	}

	client, err := newUpstream(ctx, cfg)
	if err != nil {
		return err
	}
	reviews := review.NewService(client, review.Config{
		Provider: cfg.UpstreamProvider,
		Metrics:  metrics,
		Logger:   qlog.With("review"),
	})

	// A short or missing secret was already reported; token routes answer server_misconfig
	codec, err := token.NewCodec(cfg.TokenSecret)
	if err != nil {
		codec = nil
	}

	apiConfig := newAPIConfig(cfg)
	apiConfig.Codec = codec
	apiConfig.Manager = manager
	apiConfig.Review = reviews
	apiConfig.MetricsHandler = metricsHandler
	apiConfig.Metrics = metrics
	apiConfig.Logger = &logger

	handler, err := api.NewHandler(apiConfig)
	if err != nil {
		return fmt.Errorf("failed to create handler: %w", err)
	}

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", cfg.ListenAddr).
			Str("storage", cfg.StorageBackend).
			Str("provider", cfg.UpstreamProvider).
			Msg("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	return nil
}

// newAPIConfig copies the router settings out of the process configuration
func newAPIConfig(cfg config.Config) api.Config {
	return api.Config{
		AllowedPassphrases:  cfg.AllowedPassphrases,
		TokenTTL:            cfg.TokenTTL(),
		PromptMaxChars:      cfg.PromptMaxChars,
		CoachMaxChars:       cfg.CoachMaxChars,
		MaxBodyBytes:        cfg.MaxBodyBytes,
		AllowedOrigins:      cfg.Origins(),
		DefaultOrigin:       cfg.DefaultOrigin,
		StrictOrigin:        cfg.StrictOrigin,
		UnlockRatePerMinute: cfg.UnlockRatePerMinute,
		TrustProxyHeaders:   cfg.TrustProxyHeaders,
	}
}

// newLogger builds the process logger from LOG_LEVEL and LOG_FORMAT
func newLogger(cfg config.Config, out io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.LogLevel)))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if cfg.LogFormat == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Str("service", "promptbuddy").Logger()
}

// openStorage connects the configured counter backend and, when STORAGE_MIRROR is
// set, wraps it so every accepted increment is also written to the mirror.
// The returned func releases everything.
func openStorage(ctx context.Context, cfg config.Config, logger zerolog.Logger) (quota.Storage, func(), error) {
	hot, closeHot, err := openBackend(ctx, cfg, cfg.StorageBackend)
	if err != nil {
		return nil, nil, err
	}
	if cfg.StorageMirror == "" {
		return hot, closeHot, nil
	}

	cold, closeCold, err := openBackend(ctx, cfg, cfg.StorageMirror)
	if err != nil {
		closeHot()
		return nil, nil, fmt.Errorf("failed to open storage mirror: %w", err)
	}

	mirrorLog := logger.With().Str("component", "mirror").Str("mirror", cfg.StorageMirror).Logger()
	store, err := tiered.New(tiered.Config{
		Hot:            hot,
		Cold:           cold,
		AsyncUsageSync: cfg.StorageMirrorAsync,
		AsyncErrorHandler: func(err error) {
			mirrorLog.Warn().Err(err).Msg("counter mirror write failed")
		},
	})
	if err != nil {
		closeCold()
		closeHot()
		return nil, nil, err
	}

	return store, func() {
		_ = store.Close()
		closeCold()
		closeHot()
	}, nil
}

func openBackend(ctx context.Context, cfg config.Config, backend string) (quota.Storage, func(), error) {
	switch backend {
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		store, err := redisstore.New(client, redisstore.DefaultConfig())
		if err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("failed to create redis storage: %w", err)
		}
		return store, func() { _ = store.Close() }, nil

	case config.BackendPostgres:
		pgConfig := postgres.DefaultConfig()
		pgConfig.ConnectionString = cfg.PostgresDSN
		store, err := postgres.New(ctx, pgConfig)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create postgres storage: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, nil, err
		}
		return store, store.Close, nil

	case config.BackendFirestore:
		project := cfg.FirestoreProject
		if project == "" {
			project = firestore.DetectProjectID
		}
		client, err := firestore.NewClient(ctx, project)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create firestore client: %w", err)
		}
		store, err := fsstore.New(client, fsstore.Config{})
		if err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("failed to create firestore storage: %w", err)
		}
		return store, func() { _ = store.Close() }, nil

	default:
		store := memory.New()
		return store, func() { _ = store.Close() }, nil
	}
}

// newUpstream builds the completion client for the configured provider
func newUpstream(ctx context.Context, cfg config.Config) (upstream.Client, error) {
	if cfg.UpstreamProvider == config.ProviderGemini {
		client, err := gemini.New(ctx, gemini.Config{
			APIKey:  cfg.GeminiAPIKey,
			Model:   cfg.UpstreamModel,
			BaseURL: cfg.UpstreamBaseURL,
			Timeout: cfg.UpstreamTimeout,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	}

	return deepseek.New(deepseek.Config{
		APIKey:  cfg.DeepSeekAPIKey,
		BaseURL: cfg.UpstreamBaseURL,
		Model:   cfg.UpstreamModel,
		Timeout: cfg.UpstreamTimeout,
	}), nil
}
