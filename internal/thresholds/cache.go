// Package thresholds 拆分阈值缓存
// 按链缓存报价服务提供的代币最小拆分数量，过期后下一次读取重新拉取
package thresholds

import (
	"context"
	"errors"
	"sync"
	"time"

	"defi-aggregator/split-router/internal/metrics"
	"defi-aggregator/split-router/internal/types"

	"github.com/sirupsen/logrus"
)

// Fetcher 阈值数据源
type Fetcher interface {
	GetThresholds(ctx context.Context, chainID uint) ([]types.ThresholdRecord, error)
}

// Clock 时间来源，测试中替换为可控时钟
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock 返回系统时钟
func SystemClock() Clock { return systemClock{} }

// cacheEntry 一次成功拉取的快照，写入后不再修改
type cacheEntry struct {
	records   []types.ThresholdRecord
	fetchedAt time.Time
	expiresAt time.Time
}

func (e *cacheEntry) live(now time.Time) bool {
	return now.Before(e.expiresAt)
}

// Cache 拆分阈值缓存
// 条目整体替换，读者看到的总是完整快照
// 并发过期读取可能各自拉取一次，后写入者生效
type Cache struct {
	fetcher Fetcher
	clock   Clock
	ttl     time.Duration
	logger  *logrus.Logger
	metrics *metrics.Metrics

	mutex   sync.RWMutex
	entries map[uint]*cacheEntry
}

// NewCache 创建阈值缓存
// ttl <= 0 时使用默认5分钟，clock 为nil时使用系统时钟
func NewCache(fetcher Fetcher, ttl time.Duration, clock Clock, logger *logrus.Logger, m *metrics.Metrics) *Cache {
	if ttl <= 0 {
		ttl = types.DefaultThresholdTTL
	}
	if clock == nil {
		clock = SystemClock()
	}
	return &Cache{
		fetcher: fetcher,
		clock:   clock,
		ttl:     ttl,
		logger:  logger,
		metrics: m,
		entries: make(map[uint]*cacheEntry),
	}
}

// Get 返回指定链的阈值记录
// 有效期内直接返回缓存，不发起外部调用；拉取失败返回 ThresholdFetchError，不回退到过期条目
func (c *Cache) Get(ctx context.Context, chainID uint) ([]types.ThresholdRecord, error) {
	now := c.clock.Now()

	c.mutex.RLock()
	entry, ok := c.entries[chainID]
	c.mutex.RUnlock()

	if ok && entry.live(now) {
		c.metrics.ObserveThresholdLookup("hit")
		return entry.records, nil
	}
	c.metrics.ObserveThresholdLookup("miss")

	records, err := c.fetcher.GetThresholds(ctx, chainID)
	if err != nil {
		c.metrics.ObserveThresholdLookup("error")
		c.logger.Warnf("⚠️ 拉取链 %d 拆分阈值失败: %v", chainID, err)
		if errors.Is(err, types.ErrThresholdFetch) {
			return nil, err
		}
		return nil, types.NewThresholdFetchError(chainID, err)
	}

	fetchedAt := c.clock.Now()
	fresh := &cacheEntry{
		records:   records,
		fetchedAt: fetchedAt,
		expiresAt: fetchedAt.Add(c.ttl),
	}

	c.mutex.Lock()
	c.entries[chainID] = fresh
	c.mutex.Unlock()

	c.logger.Debugf("链 %d 拆分阈值已刷新: %d 条, 有效期至 %s",
		chainID, len(records), fresh.expiresAt.Format(time.RFC3339))

	return records, nil
}

// Clear 清空所有条目，下一次 Get 必然重新拉取
func (c *Cache) Clear() {
	c.mutex.Lock()
	c.entries = make(map[uint]*cacheEntry)
	c.mutex.Unlock()

	c.logger.Infof("🧹 拆分阈值缓存已清空")
}

// TTL 返回缓存有效期
func (c *Cache) TTL() time.Duration {
	return c.ttl
}
