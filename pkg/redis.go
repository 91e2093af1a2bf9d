package pkg

import (
	"context"
	"fmt"
	"time"

	"github.com/SAP-F-2025/attempt-tracking-service/internal/config"
	"github.com/redis/go-redis/v9"
)

// NewRedisClient connects the attempt cache backend. The cache is advisory,
// so callers may continue without it when this fails.
func NewRedisClient(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opt.DialTimeout = time.Second
	opt.ReadTimeout = cfg.Cache.OperationTimeout
	opt.WriteTimeout = cfg.Cache.OperationTimeout

	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return client, nil
}
