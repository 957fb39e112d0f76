package cache

import (
	"context"
	"sync"
	"time"
)

type memoryItem struct {
	value     []byte
	expiresAt time.Time // 零值表示不过期
}

// MemoryCache 进程内缓存
// 过期键在读取时惰性删除，另有后台协程定期清理
type MemoryCache struct {
	mutex  sync.RWMutex
	items  map[string]memoryItem
	now    func() time.Time
	stopCh chan struct{}
	once   sync.Once
}

// NewMemoryCache 创建内存缓存
// cleanupInterval<=0 时不启动后台清理
func NewMemoryCache(cleanupInterval time.Duration) *MemoryCache {
	c := &MemoryCache{
		items:  make(map[string]memoryItem),
		now:    time.Now,
		stopCh: make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go c.cleanupLoop(cleanupInterval)
	}
	return c
}

// Get 读取缓存
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mutex.RLock()
	item, ok := c.items[key]
	c.mutex.RUnlock()

	if !ok {
		return nil, ErrCacheMiss
	}
	if !item.expiresAt.IsZero() && !c.now().Before(item.expiresAt) {
		c.mutex.Lock()
		delete(c.items, key)
		c.mutex.Unlock()
		return nil, ErrCacheMiss
	}

	value := make([]byte, len(item.value))
	copy(value, item.value)
	return value, nil
}

// Set 写入缓存
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	item := memoryItem{value: append([]byte(nil), value...)}
	if ttl > 0 {
		item.expiresAt = c.now().Add(ttl)
	}

	c.mutex.Lock()
	c.items[key] = item
	c.mutex.Unlock()
	return nil
}

// Delete 删除缓存
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mutex.Lock()
	delete(c.items, key)
	c.mutex.Unlock()
	return nil
}

// Ping 内存缓存始终可用
func (c *MemoryCache) Ping(context.Context) error { return nil }

// Close 停止后台清理
func (c *MemoryCache) Close() error {
	c.once.Do(func() { close(c.stopCh) })
	return nil
}

// Name 实现名称
func (c *MemoryCache) Name() string { return "memory" }

// Len 当前键数量（包含尚未清理的过期键）
func (c *MemoryCache) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.items)
}

func (c *MemoryCache) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.evictExpired()
		case <-c.stopCh:
			return
		}
	}
}

func (c *MemoryCache) evictExpired() {
	now := c.now()

	c.mutex.Lock()
	defer c.mutex.Unlock()
	for key, item := range c.items {
		if !item.expiresAt.IsZero() && !now.Before(item.expiresAt) {
			delete(c.items, key)
		}
	}
}
