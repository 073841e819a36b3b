// Package cache stores analysis reports keyed by repository, PR number and
// head revision. Backend failures never reach callers: a store that can not
// talk to Redis behaves as if every key were absent.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/pranalysis/internal/apperr"
	"github.com/pranalysis/internal/config"
	"github.com/pranalysis/pkg/models"
)

// DefaultTTL is how long an analysis stays cached
const DefaultTTL = 86400 * time.Second

const keyPrefix = "pr_analysis"

// Store is a JSON value store with per-entry expiry
type Store interface {
	// Get returns the value stored under key. Missing keys, unreachable
	// backends and values that are not valid JSON all report absence.
	Get(ctx context.Context, key string) (json.RawMessage, bool)
	// Set stores value as JSON under key. Failures are logged and dropped.
	Set(ctx context.Context, key string, value any, ttl time.Duration)
}

// Key builds the cache key of one PR revision. The repository URL is query
// escaped so it never contains the ':' separator.
func Key(repoURL string, prNumber int, revision string) string {
	return fmt.Sprintf("%s:v%d:%s:%d:%s", keyPrefix, models.ReportSchemaVersion, url.QueryEscape(repoURL), prNumber, revision)
}

// Noop never stores anything
type Noop struct{}

func (Noop) Get(context.Context, string) (json.RawMessage, bool) { return nil, false }

func (Noop) Set(context.Context, string, any, time.Duration) {}

// RedisStore is a Store backed by Redis
type RedisStore struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewRedisStore connects to Redis and pings it. When the ping fails the
// returned store is disabled for its whole life and every call is a no-op.
func NewRedisStore(ctx context.Context, cfg config.RedisConfig, logger zerolog.Logger) *RedisStore {
	logger = logger.With().Str("component", "cache").Logger()

	opts := &redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	}
	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			logger.Warn().Err(err).Msg("Invalid redis URL, caching disabled")
			return &RedisStore{logger: logger}
		}
		if cfg.DialTimeout > 0 {
			parsed.DialTimeout = cfg.DialTimeout
		}
		opts = parsed
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(&apperr.CacheError{Op: "ping", Err: err}).
			Str("addr", opts.Addr).
			Msg("Redis unavailable, caching disabled")
		_ = client.Close()
		return &RedisStore{logger: logger}
	}

	logger.Info().Str("addr", opts.Addr).Int("db", opts.DB).Msg("Connected to redis")
	return &RedisStore{client: client, logger: logger}
}

// Enabled reports whether the store reached Redis at construction
func (s *RedisStore) Enabled() bool {
	return s.client != nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (json.RawMessage, bool) {
	if s.client == nil {
		return nil, false
	}

	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn().Err(&apperr.CacheError{Op: "get", Key: key, Err: err}).Msg("Cache read failed")
		}
		return nil, false
	}

	if !json.Valid(data) {
		s.logger.Warn().Str("cache_key", key).Msg("Cached value is not valid JSON, ignoring")
		return nil, false
	}

	return json.RawMessage(data), true
}

func (s *RedisStore) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	if s.client == nil {
		return
	}

	data, err := json.Marshal(value)
	if err != nil {
		s.logger.Warn().Err(&apperr.CacheError{Op: "encode", Key: key, Err: err}).Msg("Cache write skipped")
		return
	}

	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		s.logger.Warn().Err(&apperr.CacheError{Op: "set", Key: key, Err: err}).Msg("Cache write failed")
		return
	}

	s.logger.Debug().Str("cache_key", key).Dur("ttl", ttl).Msg("Cached value")
}

// Close releases the underlying connection pool
func (s *RedisStore) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}
