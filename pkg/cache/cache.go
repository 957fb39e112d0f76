// Package cache 报价结果缓存
// 提供统一的缓存接口，支持进程内内存缓存和Redis共享缓存
package cache

import (
	"context"
	"errors"
	"time"

	"defi-aggregator/split-router/internal/types"

	"github.com/sirupsen/logrus"
)

// ErrCacheMiss 键不存在或已过期
var ErrCacheMiss = errors.New("cache miss")

// CacheManager 缓存管理器接口
// 值统一为序列化后的字节，调用方负责编解码
type CacheManager interface {
	// Get 读取，未命中返回 ErrCacheMiss
	Get(ctx context.Context, key string) ([]byte, error)
	// Set 写入，ttl<=0 表示不过期
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
	// Name 实现名称，用于日志和健康检查
	Name() string
}

// New 按配置创建缓存管理器
// Redis不可用时降级为内存缓存，服务照常启动
func New(ctx context.Context, cacheCfg types.CacheConfig, redisCfg types.RedisConfig, logger *logrus.Logger) CacheManager {
	if !cacheCfg.UseRedis {
		logger.Infof("📦 使用内存缓存")
		return NewMemoryCache(time.Minute)
	}

	redisCache, err := NewRedisCache(ctx, redisCfg)
	if err != nil {
		logger.Warnf("⚠️ Redis不可用，降级为内存缓存: %v", err)
		return NewMemoryCache(time.Minute)
	}

	logger.Infof("📦 使用Redis缓存: %s:%d/%d", redisCfg.Host, redisCfg.Port, redisCfg.DB)
	return redisCache
}
