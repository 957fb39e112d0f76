// Package middleware 拆分路由服务HTTP中间件
// 请求ID、访问日志、按IP限流、panic恢复和按路由的指标采集
package middleware

import (
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"defi-aggregator/split-router/internal/metrics"
	"defi-aggregator/split-router/internal/types"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// ContextKeyRequestID gin上下文中的请求ID键
const ContextKeyRequestID = "request_id"

// ========================================
// 请求ID中间件
// ========================================

// RequestID 为每个请求生成或传递唯一ID
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(types.HeaderRequestID)
		if requestID == "" {
			requestID = uuid.New().String()
		}

		c.Set(ContextKeyRequestID, requestID)
		c.Header(types.HeaderRequestID, requestID)

		c.Next()
	}
}

// ========================================
// 请求日志中间件
// ========================================

// RequestLogger 请求日志中间件
// 以路由模板而不是原始路径记录，5xx 说明上游报价或内部失败
func RequestLogger(logger *logrus.Logger, config *types.MonitoringConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		c.Next()

		latency := time.Since(startTime)
		status := c.Writer.Status()
		route := routeLabel(c)

		entry := logger.WithFields(logrus.Fields{
			"request_id": c.GetString(ContextKeyRequestID),
			"route":      route,
			"method":     c.Request.Method,
			"status":     status,
			"latency_ms": latency.Milliseconds(),
			"client_ip":  c.ClientIP(),
		})

		switch {
		case status >= 500:
			entry.Error("📨 路由请求失败")
		case status >= 400:
			entry.Warn("📨 路由请求被拒绝")
		default:
			entry.Info("📨 路由请求完成")
		}

		if config.SlowRequestMs > 0 && latency.Milliseconds() > int64(config.SlowRequestMs) {
			entry.WithField("slow_threshold_ms", config.SlowRequestMs).
				Warnf("🐢 慢请求: %s %s 耗时 %dms", c.Request.Method, route, latency.Milliseconds())
		}
	}
}

// routeLabel 路由模板，未匹配时统一为 "unmatched"
func routeLabel(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return "unmatched"
}

// ========================================
// 限流中间件
// ========================================

// RateLimiter 基于客户端IP的令牌桶限流
// 长时间没有请求的客户端会被清理，限流表不会随来访IP无限增长
type RateLimiter struct {
	config    *types.RateLimitConfig
	clients   map[string]*clientLimiter
	mutex     sync.Mutex
	lastSweep time.Time
	now       func() time.Time
	logger    *logrus.Logger
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter 创建限流中间件
func NewRateLimiter(config *types.RateLimitConfig, logger *logrus.Logger) *RateLimiter {
	return &RateLimiter{
		config:    config,
		clients:   make(map[string]*clientLimiter),
		lastSweep: time.Now(),
		now:       time.Now,
		logger:    logger,
	}
}

// RateLimit 限流中间件函数
func (rl *RateLimiter) RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.config.Enabled {
			c.Next()
			return
		}

		requestID := c.GetString(ContextKeyRequestID)
		clientIP := c.ClientIP()

		if !rl.allow(clientIP) {
			rl.logger.Warnf("[%s] 🚦 客户端 %s 超过限流 %d次/%v，拒绝 %s",
				requestID, clientIP, rl.config.Requests, rl.config.Window, routeLabel(c))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, types.APIResponse{
				Success: false,
				Error: &types.APIError{
					Code:    types.ErrCodeRateLimitExceeded,
					Message: "报价请求过于频繁，请稍后再试",
					Details: map[string]interface{}{"window": rl.config.Window.String(), "limit": rl.config.Requests},
				},
				Timestamp: time.Now().Unix(),
				RequestID: requestID,
			})
			return
		}

		c.Next()
	}
}

func (rl *RateLimiter) allow(ip string) bool {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := rl.now()
	rl.sweep(now)

	client, exists := rl.clients[ip]
	if !exists {
		client = &clientLimiter{
			limiter: rate.NewLimiter(
				rate.Every(rl.config.Window/time.Duration(rl.config.Requests)),
				rl.config.Requests,
			),
		}
		rl.clients[ip] = client
	}
	client.lastSeen = now

	return client.limiter.AllowN(now, 1)
}

// sweep 每个窗口最多清理一次，闲置超过一个窗口的客户端令牌已经回满，删除不影响限流结果
func (rl *RateLimiter) sweep(now time.Time) {
	if now.Sub(rl.lastSweep) < rl.config.Window {
		return
	}
	for ip, client := range rl.clients {
		if now.Sub(client.lastSeen) >= rl.config.Window {
			delete(rl.clients, ip)
		}
	}
	rl.lastSweep = now
}

// ========================================
// 响应头中间件
// ========================================

// ResponseHeaders 标记服务版本并禁止缓存报价接口
// 报价结果有有效期，只能由服务自己的报价缓存复用
func ResponseHeaders(version string) gin.HandlerFunc {
	service := "DeFi-Aggregator-SplitRouter/" + version
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Service", service)

		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.Header("Cache-Control", "no-store")
		}

		c.Next()
	}
}

// ========================================
// 恢复中间件
// ========================================

// Recovery 捕获panic并返回统一的错误响应
func Recovery(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				requestID := c.GetString(ContextKeyRequestID)

				logger.WithFields(logrus.Fields{
					"request_id": requestID,
					"route":      routeLabel(c),
					"panic":      err,
					"stack":      string(debug.Stack()),
				}).Error("💥 路由处理发生panic")

				c.AbortWithStatusJSON(http.StatusInternalServerError, types.APIResponse{
					Success: false,
					Error: &types.APIError{
						Code:    types.ErrCodeInternalError,
						Message: "服务内部错误",
					},
					Timestamp: time.Now().Unix(),
					RequestID: requestID,
				})
			}
		}()

		c.Next()
	}
}

// ========================================
// 指标中间件
// ========================================

// Metrics 按路由模板记录请求数和耗时，未匹配的路径不单独成为标签
func Metrics(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		c.Next()

		m.ObserveHTTPRequest(routeLabel(c), c.Request.Method, strconv.Itoa(c.Writer.Status()), time.Since(startTime))
	}
}
