package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"defi-aggregator/split-router/internal/types"

	"github.com/go-redis/redis/v8"
)

// RedisCache 基于Redis的共享缓存
// 多个实例部署时共享报价结果
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache 按配置创建Redis缓存并检查连通性
func NewRedisCache(ctx context.Context, cfg types.RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接Redis失败: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// NewRedisCacheWithClient 使用已有客户端
func NewRedisCacheWithClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Get 读取缓存
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("读取Redis缓存失败: %w", err)
	}
	return value, nil
}

// Set 写入缓存
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("写入Redis缓存失败: %w", err)
	}
	return nil
}

// Delete 删除缓存
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("删除Redis缓存失败: %w", err)
	}
	return nil
}

// Ping 检查Redis连通性
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close 关闭连接池
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Name 实现名称
func (c *RedisCache) Name() string { return "redis" }
