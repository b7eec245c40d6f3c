package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CacheConfig 描述响应缓存的连接参数。
type CacheConfig struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
}

// Cache 使用 Redis 缓存外部服务的响应文本。键按内容哈希后存储，
// 避免超长 URL 直接作为键。
type Cache struct {
	client *redis.Client
	prefix string
}

// NewCache 创建缓存实例并验证连通性。
func NewCache(cfg CacheConfig) (*Cache, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "openagent:cache"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return &Cache{client: client, prefix: prefix}, nil
}

// Get 返回缓存的响应文本。未命中或 Redis 暂不可用时返回 false，
// 调用方回退到真实请求。
func (c *Cache) Get(ctx context.Context, key string) (string, bool) {
	value, err := c.client.Get(ctx, c.cacheKey(key)).Result()
	if err != nil {
		return "", false
	}
	return value, true
}

// Set 写入缓存。写入失败只影响命中率，不影响调用方。
func (c *Cache) Set(ctx context.Context, key, value string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	_ = c.client.Set(ctx, c.cacheKey(key), value, ttl).Err()
}

// Close 关闭底层连接。
func (c *Cache) Close() error {
	return c.client.Close()
}

func (c *Cache) cacheKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return c.prefix + ":" + hex.EncodeToString(sum[:])
}
