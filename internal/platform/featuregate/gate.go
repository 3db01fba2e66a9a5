package featuregate

import (
	"context"
	"errors"
	"strconv"

	"videojobs/internal/platform/logger"

	"github.com/redis/go-redis/v9"
)

// Gate is the global video pipeline switch. A value stored under key in Redis
// overrides the configured default; an unreadable override falls back to it.
type Gate struct {
	rdb      *redis.Client
	key      string
	fallback bool
}

func New(rdb *redis.Client, key string, fallback bool) *Gate {
	return &Gate{rdb: rdb, key: key, fallback: fallback}
}

func (g *Gate) Enabled(ctx context.Context) bool {
	if g.rdb == nil {
		return g.fallback
	}
	raw, err := g.rdb.Get(ctx, g.key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Get().WithError(err).WithField("key", g.key).Warn("Feature gate read failed, using configured default")
		}
		return g.fallback
	}
	enabled, err := strconv.ParseBool(raw)
	if err != nil {
		logger.Get().WithField("key", g.key).WithField("value", raw).Warn("Feature gate value is not a boolean, using configured default")
		return g.fallback
	}
	return enabled
}

// Set stores an override.
func (g *Gate) Set(ctx context.Context, enabled bool) error {
	return g.rdb.Set(ctx, g.key, strconv.FormatBool(enabled), 0).Err()
}

// Clear removes the override so the configured default applies again.
func (g *Gate) Clear(ctx context.Context) error {
	return g.rdb.Del(ctx, g.key).Err()
}
