package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"blitz-tracker/internal/config"
	"blitz-tracker/internal/constants"

	"github.com/rs/zerolog"
)

var ErrMiss = errors.New("cache: key not found")

type Cache interface {
	// Get returns ErrMiss when the key is absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Close() error
}

// New returns a Redis backed cache when REDIS_ADDR is configured and an
// in-process cache otherwise.
func New(cfg *config.Config, logger zerolog.Logger) (Cache, error) {
	if cfg.RedisAddr == "" {
		logger.Info().Msg("using in-process cache")
		return NewMemory(constants.CacheJanitorPeriod, constants.MemoryCacheMaxItems), nil
	}

	c, err := NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.Error().Err(err).Str("addr", cfg.RedisAddr).Msg("failed to connect to redis")
		return nil, err
	}
	logger.Info().Str("addr", cfg.RedisAddr).Int("db", cfg.RedisDB).Msg("using redis cache")
	return c, nil
}

func GetJSON[T any](ctx context.Context, c Cache, key string) (*T, error) {
	raw, err := c.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("failed to decode cached %s: %w", key, err)
	}
	return &v, nil
}

func SetJSON(ctx context.Context, c Cache, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return c.Set(ctx, key, raw, ttl)
}

// Key derives a deterministic cache key from request parameters. Map keys
// are sorted by encoding/json, so equal params always hash the same.
func Key(namespace string, params any) string {
	raw, err := json.Marshal(params)
	if err != nil {
		raw = []byte(fmt.Sprint(params))
	}
	sum := sha256.Sum256(raw)
	return namespace + ":" + hex.EncodeToString(sum[:16])
}
