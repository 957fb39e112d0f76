// Package handlers 拆分路由HTTP处理器
// 提供单笔路由、批量路由、分片决策查询和系统监控接口
package handlers

import (
	"errors"
	"net/http"
	"time"

	"defi-aggregator/split-router/internal/middleware"
	"defi-aggregator/split-router/internal/services"
	"defi-aggregator/split-router/internal/types"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// BatchRouteRequest 批量路由请求体
type BatchRouteRequest struct {
	Items []types.BatchItem `json:"items"`
}

// RouteHandler 拆分路由处理器
type RouteHandler struct {
	routeService *services.RouteService // 路由服务
	version      string                 // 服务版本
	logger       *logrus.Logger         // 日志记录器
}

// NewRouteHandler 创建路由处理器实例
func NewRouteHandler(routeService *services.RouteService, version string, logger *logrus.Logger) *RouteHandler {
	return &RouteHandler{
		routeService: routeService,
		version:      version,
		logger:       logger,
	}
}

// RegisterRoutes 注册全部业务路由
func (h *RouteHandler) RegisterRoutes(engine *gin.Engine, monitoring *types.MonitoringConfig) {
	v1 := engine.Group("/api/v1")
	{
		v1.POST("/route", h.GetRoute)
		v1.POST("/route/batch", h.GetBatchRoutes)
		v1.POST("/part-count", h.GetPartCount)
		v1.DELETE("/thresholds/cache", h.ClearThresholdCache)
		v1.GET("/networks", h.GetNetworks)
	}

	healthPath := "/health"
	if monitoring != nil && monitoring.HealthCheckPath != "" {
		healthPath = monitoring.HealthCheckPath
	}
	engine.GET(healthPath, h.HealthCheck)
}

// ========================================
// 核心API接口
// ========================================

// GetRoute 获取单笔拆分路由
// POST /api/v1/route
func (h *RouteHandler) GetRoute(c *gin.Context) {
	requestID := h.getOrGenerateRequestID(c)
	startTime := time.Now()

	var req types.SwapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, requestID, err)
		return
	}
	if req.RequestID == "" {
		req.RequestID = requestID
	}

	result, err := h.routeService.FetchRoute(c.Request.Context(), &req)
	if err != nil {
		h.handleRouteError(c, err, requestID)
		return
	}

	c.JSON(http.StatusOK, types.APIResponse{
		Success: true,
		Data:    result,
		Meta: map[string]interface{}{
			"processing_time": time.Since(startTime).Milliseconds(),
			"executable":      !result.IsAmountOutError,
		},
		Timestamp: time.Now().Unix(),
		RequestID: requestID,
	})
}

// GetBatchRoutes 批量获取拆分路由
// POST /api/v1/route/batch
// 结果与请求项按下标对齐，单项失败不影响整体状态码
func (h *RouteHandler) GetBatchRoutes(c *gin.Context) {
	requestID := h.getOrGenerateRequestID(c)
	startTime := time.Now()

	var req BatchRouteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, requestID, err)
		return
	}
	if err := h.routeService.ValidateBatch(req.Items); err != nil {
		h.handleRouteError(c, err, requestID)
		return
	}

	results := h.routeService.RunBatch(c.Request.Context(), req.Items)

	succeeded := 0
	for _, result := range results {
		if result.Success {
			succeeded++
		}
	}

	c.JSON(http.StatusOK, types.APIResponse{
		Success: true,
		Data:    results,
		Meta: map[string]interface{}{
			"processing_time": time.Since(startTime).Milliseconds(),
			"total":           len(results),
			"succeeded":       succeeded,
		},
		Timestamp: time.Now().Unix(),
		RequestID: requestID,
	})

	h.logger.Infof("[%s] 批量路由完成: %d/%d 成功, 耗时=%v", requestID, succeeded, len(results), time.Since(startTime))
}

// GetPartCount 查询分片决策
// POST /api/v1/part-count
func (h *RouteHandler) GetPartCount(c *gin.Context) {
	requestID := h.getOrGenerateRequestID(c)

	var req types.SwapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, requestID, err)
		return
	}
	if req.RequestID == "" {
		req.RequestID = requestID
	}

	decision, err := h.routeService.ResolvePartCount(c.Request.Context(), &req)
	if err != nil {
		h.handleRouteError(c, err, requestID)
		return
	}

	c.JSON(http.StatusOK, types.APIResponse{
		Success:   true,
		Data:      decision,
		Timestamp: time.Now().Unix(),
		RequestID: requestID,
	})
}

// ========================================
// 监控和管理接口
// ========================================

// ClearThresholdCache 清空阈值缓存
// DELETE /api/v1/thresholds/cache
func (h *RouteHandler) ClearThresholdCache(c *gin.Context) {
	requestID := h.getOrGenerateRequestID(c)

	h.routeService.ClearThresholdCache()
	h.logger.Infof("[%s] 🧹 阈值缓存已清空", requestID)

	c.JSON(http.StatusOK, types.APIResponse{
		Success:   true,
		Data:      map[string]interface{}{"cleared": true},
		Timestamp: time.Now().Unix(),
		RequestID: requestID,
	})
}

// GetNetworks 返回已支持的网络
// GET /api/v1/networks
func (h *RouteHandler) GetNetworks(c *gin.Context) {
	requestID := h.getOrGenerateRequestID(c)

	c.JSON(http.StatusOK, types.APIResponse{
		Success:   true,
		Data:      h.routeService.Networks(),
		Timestamp: time.Now().Unix(),
		RequestID: requestID,
	})
}

// HealthCheck 健康检查
// GET /health
// 报价服务不可用时返回503，缓存不可用只降级
func (h *RouteHandler) HealthCheck(c *gin.Context) {
	requestID := h.getOrGenerateRequestID(c)

	health := h.routeService.HealthCheck(c.Request.Context(), h.version)

	statusCode := http.StatusOK
	if health.Status == types.StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
		h.logger.Warnf("[%s] 健康检查失败: %s", requestID, health.Error)
	}
	c.JSON(statusCode, health)
}

// ========================================
// 辅助方法
// ========================================

// getOrGenerateRequestID 获取或生成请求ID
func (h *RouteHandler) getOrGenerateRequestID(c *gin.Context) string {
	if requestID := c.GetString(middleware.ContextKeyRequestID); requestID != "" {
		return requestID
	}
	if requestID := c.GetHeader(types.HeaderRequestID); requestID != "" {
		return requestID
	}

	requestID := uuid.New().String()
	c.Set(middleware.ContextKeyRequestID, requestID)
	return requestID
}

func (h *RouteHandler) badRequest(c *gin.Context, requestID string, err error) {
	h.logger.Warnf("[%s] 请求参数无效: %v", requestID, err)
	c.JSON(http.StatusBadRequest, types.APIResponse{
		Success: false,
		Error: &types.APIError{
			Code:    types.ErrCodeInvalidRequest,
			Message: "请求参数无效",
			Details: map[string]interface{}{"error": err.Error()},
		},
		Timestamp: time.Now().Unix(),
		RequestID: requestID,
	})
}

// handleRouteError 把服务错误映射为HTTP状态码
func (h *RouteHandler) handleRouteError(c *gin.Context, err error, requestID string) {
	var routerErr *types.RouterError
	if !errors.As(err, &routerErr) {
		c.JSON(http.StatusInternalServerError, types.APIResponse{
			Success: false,
			Error: &types.APIError{
				Code:    types.ErrCodeInternalError,
				Message: "内部服务错误",
			},
			Timestamp: time.Now().Unix(),
			RequestID: requestID,
		})
		h.logger.Errorf("[%s] 未知错误: %v", requestID, err)
		return
	}

	var statusCode int
	switch routerErr.Code {
	case types.ErrCodeInvalidRequest, types.ErrCodeUnsupportedChain:
		statusCode = http.StatusBadRequest
	case types.ErrCodeBatchTooLarge:
		statusCode = http.StatusRequestEntityTooLarge
	case types.ErrCodeServiceFetchFailed, types.ErrCodeThresholdFetchFailed:
		statusCode = http.StatusBadGateway
	case types.ErrCodeRateLimitExceeded:
		statusCode = http.StatusTooManyRequests
	default:
		statusCode = http.StatusInternalServerError
	}

	c.JSON(statusCode, types.APIResponse{
		Success: false,
		Error: &types.APIError{
			Code:    routerErr.Code,
			Message: routerErr.Message,
			Details: routerErr.Details,
		},
		Timestamp: time.Now().Unix(),
		RequestID: requestID,
	})

	if statusCode >= 500 {
		h.logger.Errorf("[%s] 路由服务错误: %v", requestID, err)
	} else {
		h.logger.Warnf("[%s] 路由服务错误: %v", requestID, err)
	}
}
