// Package config 拆分路由服务配置管理
// 从.env文件和环境变量加载配置，设置默认值并验证
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"defi-aggregator/split-router/internal/types"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Load 加载拆分路由服务配置
// 返回:
//   - *types.Config: 完整的服务配置
//   - error: 配置加载或验证错误
func Load() (*types.Config, error) {
	// 尝试加载.env文件
	if err := godotenv.Load(); err != nil {
		logrus.Info("未找到.env文件，使用环境变量配置")
	}

	config := &types.Config{
		Server: types.ServerConfig{
			Port:        getEnvAsInt("PORT", 8080),
			Environment: getEnv("APP_ENV", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			Debug:       getEnvAsBool("DEBUG", false),
		},
		Quoter: types.QuoterConfig{
			BaseURL:      getEnv("QUOTER_API_URL", ""), // 必填
			APIKey:       getEnv("QUOTER_API_KEY", ""),
			Timeout:      getEnvAsDuration("QUOTER_TIMEOUT", 5*time.Second),
			RetryCount:   getEnvAsInt("QUOTER_RETRY_COUNT", 1),
			ExtraHeaders: getEnvAsMap("QUOTER_EXTRA_HEADERS"),
			SourceTypes:  getEnvAsIntList("QUOTER_SOURCE_TYPES"),
			Sources:      getEnvAsList("QUOTER_SOURCES"),
		},
		PartCount: types.PartCountConfig{
			Default: getEnvAsInt("DEFAULT_PART_COUNT", types.DefaultPartCount),
			Force:   getEnvAsOptionalInt("FORCE_PART_COUNT"),
			Online:  getEnvAsBool("ONLINE_PART_COUNT", false),
		},
		Thresholds: types.ThresholdConfig{
			TTL: getEnvAsDuration("THRESHOLD_TTL", types.DefaultThresholdTTL),
		},
		Batch: types.BatchConfig{
			MaxConcurrency: getEnvAsInt("BATCH_MAX_CONCURRENCY", 8),
			MaxItems:       getEnvAsInt("BATCH_MAX_ITEMS", 50),
		},
		Cache: types.CacheConfig{
			QuoteTTL:  getEnvAsDuration("QUOTE_CACHE_TTL", 0),
			PrefixKey: getEnv("CACHE_PREFIX", "split_router:"),
			UseRedis:  getEnvAsBool("CACHE_USE_REDIS", false),
		},
		Redis: types.RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB_SPLIT_ROUTER", 0),
			PoolSize: getEnvAsInt("REDIS_POOL_SIZE", 10),
		},
		Database: types.DatabaseConfig{
			Enabled:  getEnvAsBool("REGISTRY_FROM_DB", false),
			Driver:   getEnv("DB_DRIVER", "postgres"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "admin"),
			Password: getEnv("DB_PASSWORD", ""),
			Name:     getEnv("DB_NAME", "defi_aggregator"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
			Path:     getEnv("DB_PATH", "split_router.db"),
		},
		RateLimit: types.RateLimitConfig{
			Enabled:  getEnvAsBool("RATE_LIMIT_ENABLED", true),
			Requests: getEnvAsInt("RATE_LIMIT_REQUESTS", 100),
			Window:   getEnvAsDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		Monitoring: types.MonitoringConfig{
			MetricsEnabled:  getEnvAsBool("METRICS_ENABLED", true),
			MetricsPath:     getEnv("METRICS_PATH", "/metrics"),
			HealthCheckPath: getEnv("HEALTH_CHECK_PATH", "/health"),
			SlowRequestMs:   getEnvAsInt("SLOW_REQUEST_MS", 1000),
		},
	}

	// 验证配置
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	return config, nil
}

// validateConfig 验证配置的有效性
func validateConfig(cfg *types.Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("无效的端口号: %d", cfg.Server.Port)
	}
	if _, err := logrus.ParseLevel(cfg.Server.LogLevel); err != nil {
		return fmt.Errorf("无效的日志级别: %s", cfg.Server.LogLevel)
	}

	// 报价服务
	if cfg.Quoter.BaseURL == "" {
		return fmt.Errorf("QUOTER_API_URL环境变量是必填项")
	}
	if u, err := url.Parse(cfg.Quoter.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("无效的QUOTER_API_URL: %s", cfg.Quoter.BaseURL)
	}
	if cfg.Quoter.Timeout <= 0 {
		return fmt.Errorf("QUOTER_TIMEOUT必须大于0")
	}
	if cfg.Quoter.RetryCount < 0 {
		return fmt.Errorf("QUOTER_RETRY_COUNT不能为负数")
	}

	// 分片决策
	if cfg.PartCount.Default < 1 {
		return fmt.Errorf("DEFAULT_PART_COUNT必须为正数: %d", cfg.PartCount.Default)
	}
	if cfg.PartCount.Force != nil && *cfg.PartCount.Force < 1 {
		return fmt.Errorf("FORCE_PART_COUNT必须为正数: %d", *cfg.PartCount.Force)
	}
	if cfg.Thresholds.TTL <= 0 {
		return fmt.Errorf("THRESHOLD_TTL必须大于0")
	}

	// 批量
	if cfg.Batch.MaxConcurrency < 0 {
		return fmt.Errorf("BATCH_MAX_CONCURRENCY不能为负数")
	}
	if cfg.Batch.MaxItems < 1 {
		return fmt.Errorf("BATCH_MAX_ITEMS必须为正数")
	}

	// 缓存
	if cfg.Cache.QuoteTTL < 0 {
		return fmt.Errorf("QUOTE_CACHE_TTL不能为负数")
	}
	if cfg.Cache.UseRedis && (cfg.Redis.Host == "" || cfg.Redis.Port == 0) {
		return fmt.Errorf("启用Redis缓存时REDIS_HOST和REDIS_PORT是必填项")
	}

	// 数据库
	if cfg.Database.Enabled {
		switch cfg.Database.Driver {
		case "postgres", "sqlite":
		default:
			return fmt.Errorf("不支持的数据库驱动: %s", cfg.Database.Driver)
		}
	}

	// 限流
	if cfg.RateLimit.Enabled && (cfg.RateLimit.Requests < 1 || cfg.RateLimit.Window <= 0) {
		return fmt.Errorf("限流配置无效: requests=%d, window=%v", cfg.RateLimit.Requests, cfg.RateLimit.Window)
	}

	return nil
}

// ========================================
// 环境变量辅助函数
// ========================================

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
		logrus.Warnf("无法解析环境变量 %s 为整数，使用默认值 %d", key, defaultValue)
	}
	return defaultValue
}

// getEnvAsOptionalInt 未设置时返回nil
func getEnvAsOptionalInt(key string) *int {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	intVal, err := strconv.Atoi(value)
	if err != nil {
		logrus.Warnf("无法解析环境变量 %s 为整数，忽略", key)
		return nil
	}
	return &intVal
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
		logrus.Warnf("无法解析环境变量 %s 为布尔值，使用默认值 %t", key, defaultValue)
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
		logrus.Warnf("无法解析环境变量 %s 为时间间隔，使用默认值 %v", key, defaultValue)
	}
	return defaultValue
}

// getEnvAsList 逗号分隔列表，忽略空项
func getEnvAsList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func getEnvAsIntList(key string) []int {
	var items []int
	for _, item := range getEnvAsList(key) {
		intVal, err := strconv.Atoi(item)
		if err != nil {
			logrus.Warnf("环境变量 %s 中的 %q 不是整数，忽略", key, item)
			continue
		}
		items = append(items, intVal)
	}
	return items
}

// getEnvAsMap 解析 "k1=v1,k2=v2" 格式
func getEnvAsMap(key string) map[string]string {
	result := make(map[string]string)
	for _, pair := range getEnvAsList(key) {
		k, v, ok := strings.Cut(pair, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			logrus.Warnf("环境变量 %s 中的 %q 格式错误，应为 key=value", key, pair)
			continue
		}
		result[k] = strings.TrimSpace(v)
	}
	return result
}
