// Package postgres provides a PostgreSQL implementation of the quota.Storage interface.
// Increments are a single upsert, so PostgreSQL's row lock serializes them per counter.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mihaimyh/promptbuddy/pkg/quota"
)

const schema = `
CREATE TABLE IF NOT EXISTS daily_usage (
	subject    TEXT        NOT NULL,
	day_key    TEXT        NOT NULL,
	kind       TEXT        NOT NULL,
	used       INTEGER     NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (subject, day_key, kind)
);
CREATE INDEX IF NOT EXISTS daily_usage_updated_at_idx ON daily_usage (updated_at);
`

// Storage implements quota.Storage using PostgreSQL
type Storage struct {
	pool   *pgxpool.Pool
	config Config

	// stopCleanup cancels the background cleanup goroutine
	stopCleanup func()
}

// Config holds PostgreSQL storage configuration
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration

	// Cleanup configuration
	CleanupEnabled  bool
	CleanupInterval time.Duration // How often to run cleanup
	Retention       time.Duration // Rows untouched for longer than this are deleted
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
		CleanupEnabled:  true,
		CleanupInterval: time.Hour,
		Retention:       7 * 24 * time.Hour,
	}
}

// New creates a new PostgreSQL storage adapter
func New(ctx context.Context, config Config) (*Storage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = time.Hour
	}
	// Never delete today's rows
	if config.Retention < 48*time.Hour {
		config.Retention = 48 * time.Hour
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	cleanupCtx, cancel := context.WithCancel(context.Background())

	s := &Storage{
		pool:        pool,
		config:      config,
		stopCleanup: cancel,
	}

	if config.CleanupEnabled {
		go s.startCleanup(cleanupCtx)
	}

	return s, nil
}

// EnsureSchema creates the daily_usage table when it does not exist
func (s *Storage) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the PostgreSQL connection pool and stops background cleanup
func (s *Storage) Close() {
	if s.stopCleanup != nil {
		s.stopCleanup()
	}
	if s.pool != nil {
		s.pool.Close()
	}
}

// GetUsed implements quota.Storage
func (s *Storage) GetUsed(ctx context.Context, subject, dayKey string, kind quota.Kind) (int, error) {
	if err := quota.ValidateKey(subject, dayKey, kind); err != nil {
		return 0, err
	}

	var used int
	err := s.pool.QueryRow(ctx,
		`SELECT used FROM daily_usage WHERE subject = $1 AND day_key = $2 AND kind = $3`,
		subject, dayKey, string(kind)).Scan(&used)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get usage: %w", err)
	}
	return used, nil
}

// Increment implements quota.Storage
func (s *Storage) Increment(ctx context.Context, subject, dayKey string, kind quota.Kind) (int, error) {
	if err := quota.ValidateKey(subject, dayKey, kind); err != nil {
		return 0, err
	}

	var used int
	err := s.pool.QueryRow(ctx,
		`INSERT INTO daily_usage (subject, day_key, kind, used, updated_at)
		 VALUES ($1, $2, $3, 1, now())
		 ON CONFLICT (subject, day_key, kind) DO UPDATE SET
			used = daily_usage.used + 1,
			updated_at = now()
		 RETURNING used`,
		subject, dayKey, string(kind)).Scan(&used)
	if err != nil {
		return 0, fmt.Errorf("failed to increment usage: %w", err)
	}
	return used, nil
}

// startCleanup runs periodic deletion of stale counters
func (s *Storage) startCleanup(ctx context.Context) {
	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Errors are retried on the next tick
			_ = s.Cleanup(ctx)
		}
	}
}

// Cleanup deletes counters not touched within the retention window
func (s *Storage) Cleanup(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-s.config.Retention)
	if _, err := s.pool.Exec(ctx, `DELETE FROM daily_usage WHERE updated_at < $1`, cutoff); err != nil {
		return fmt.Errorf("failed to cleanup daily usage: %w", err)
	}
	return nil
}

// Ping checks the PostgreSQL connection
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
