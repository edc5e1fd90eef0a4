package database

import (
	"context"
	"fmt"

	"github.com/SlpAus/uvbunny-backend/internal/platform/config"
	"github.com/redis/go-redis/v9"
)

// OpenRedis 创建Redis客户端并用Ping确认连接可用
func OpenRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("无法连接到Redis: %w", err)
	}
	return rdb, nil
}
