// Package redis provides a Redis implementation of the quota.Storage interface.
// Increments run inside a Lua script so Redis serializes them per counter.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mihaimyh/promptbuddy/pkg/quota"
)

// Storage implements quota.Storage using Redis
type Storage struct {
	client    redis.UniversalClient
	config    Config
	increment *redis.Script
}

// Config holds Redis storage configuration
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "promptbuddy:")
	KeyPrefix string

	// CounterTTL expires a subject's hash after its last increment (0 = no expiration).
	// Anything longer than a day keeps today's counters readable.
	CounterTTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		KeyPrefix:  "promptbuddy:",
		CounterTTL: 72 * time.Hour,
	}
}

// New creates a new Redis storage adapter
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring
func New(client redis.UniversalClient, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	if config.KeyPrefix == "" {
		config.KeyPrefix = "promptbuddy:"
	}
	if config.CounterTTL < 0 {
		config.CounterTTL = 0
	}

	return &Storage{
		client: client,
		config: config,
		increment: redis.NewScript(`
			local used = redis.call('HINCRBY', KEYS[1], ARGV[1], 1)
			local ttl = tonumber(ARGV[2])
			if ttl > 0 then
				redis.call('EXPIRE', KEYS[1], ttl)
			end
			return used
		`),
	}, nil
}

// GetUsed implements quota.Storage
func (s *Storage) GetUsed(ctx context.Context, subject, dayKey string, kind quota.Kind) (int, error) {
	if err := quota.ValidateKey(subject, dayKey, kind); err != nil {
		return 0, err
	}

	used, err := s.client.HGet(ctx, s.subjectKey(subject), counterField(dayKey, kind)).Int()
	if errors.Is(err, redis.Nil) {
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

	used, err := s.increment.Run(
		ctx,
		s.client,
		[]string{s.subjectKey(subject)},
		counterField(dayKey, kind),
		int64(s.config.CounterTTL/time.Second),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to increment usage: %w", err)
	}
	return used, nil
}

// Close closes the Redis client connection
func (s *Storage) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection
func (s *Storage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Storage) subjectKey(subject string) string {
	return s.config.KeyPrefix + "u:" + subject
}

func counterField(dayKey string, kind quota.Kind) string {
	return dayKey + ":" + string(kind)
}
