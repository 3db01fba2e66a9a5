package queue

import (
	"context"

	"videojobs/internal/platform/config"
	"videojobs/internal/platform/logger"

	"github.com/redis/go-redis/v9"
)

var RDB *redis.Client

// NewClient connects to the configured Redis and checks it answers.
func NewClient(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, err
	}
	return rdb, nil
}

func ConnectRedis() {
	var err error
	RDB, err = NewClient(context.Background(), config.AppConfig)
	if err != nil {
		logger.Get().Fatalf("Could not connect to Redis: %v", err)
	}
	logger.Get().WithField("addr", config.AppConfig.RedisAddr).Info("Successfully connected to Redis")
}

func CloseRedis() {
	if RDB != nil {
		RDB.Close()
		logger.Get().Info("Redis connection closed.")
	}
}
