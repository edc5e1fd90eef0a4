package settings

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// cacheKeyPrefix + 用户ID 是一个String，值为 Config 的JSON
	cacheKeyPrefix = "uvbunny:config:"
	cacheTTL       = time.Minute
)

func cacheKey(userID string) string {
	return cacheKeyPrefix + userID
}

// getCached 读取缓存，未命中时返回 (nil, nil)
func getCached(ctx context.Context, rdb *redis.Client, userID string) (*Config, error) {
	raw, err := rdb.Get(ctx, cacheKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	cfg.UserID = userID
	return &cfg, nil
}

// setCached 覆盖缓存，只在写入配置之后使用
func setCached(ctx context.Context, rdb *redis.Client, cfg Config) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return rdb.Set(ctx, cacheKey(cfg.UserID), data, cacheTTL).Err()
}

// fillCache 用读到的配置回填缓存。键已存在时不覆盖，
// 读路径拿到的旧行不会盖掉 Update 刚写入的新值。
func fillCache(ctx context.Context, rdb *redis.Client, cfg Config) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return rdb.SetNX(ctx, cacheKey(cfg.UserID), data, cacheTTL).Err()
}

func invalidate(ctx context.Context, rdb *redis.Client, userID string) error {
	return rdb.Del(ctx, cacheKey(userID)).Err()
}
