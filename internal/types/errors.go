package types

import (
	"errors"
	"fmt"
	"time"
)

// ========================================
// 错误类型定义
// ========================================

// 错误分类哨兵，配合 errors.Is 使用
var (
	ErrValidation         = errors.New("validation error")
	ErrUnsupportedNetwork = errors.New("unsupported network")
	ErrServiceFetch       = errors.New("service fetch failed")
	ErrThresholdFetch     = errors.New("threshold fetch failed")
)

// 预定义错误代码
const (
	ErrCodeInvalidRequest       = "INVALID_REQUEST"        // 无效请求
	ErrCodeUnsupportedChain     = "UNSUPPORTED_CHAIN"      // 不支持的链
	ErrCodeServiceFetchFailed   = "SERVICE_FETCH_FAILED"   // 报价服务调用失败
	ErrCodeThresholdFetchFailed = "THRESHOLD_FETCH_FAILED" // 阈值拉取失败
	ErrCodeBatchTooLarge        = "BATCH_TOO_LARGE"        // 批量条数超限
	ErrCodeInternalError        = "INTERNAL_ERROR"         // 内部错误
	ErrCodeRateLimitExceeded    = "RATE_LIMIT_EXCEEDED"    // 频率限制
	ErrCodeNotFound             = "NOT_FOUND"              // 资源不存在
)

// RouterError 路由服务错误
type RouterError struct {
	Code      string                 `json:"code"`              // 错误代码
	Message   string                 `json:"message"`           // 错误消息
	Details   map[string]interface{} `json:"details,omitempty"` // 错误详情
	Timestamp time.Time              `json:"timestamp"`         // 错误时间
	Cause     error                  `json:"-"`                 // 底层错误
}

func (e *RouterError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap 返回底层错误
func (e *RouterError) Unwrap() error {
	return e.Cause
}

// Is 让错误代码与分类哨兵对应
func (e *RouterError) Is(target error) bool {
	switch target {
	case ErrValidation:
		return e.Code == ErrCodeInvalidRequest || e.Code == ErrCodeBatchTooLarge
	case ErrUnsupportedNetwork:
		return e.Code == ErrCodeUnsupportedChain
	case ErrServiceFetch:
		return e.Code == ErrCodeServiceFetchFailed || e.Code == ErrCodeThresholdFetchFailed
	case ErrThresholdFetch:
		return e.Code == ErrCodeThresholdFetchFailed
	}
	return false
}

// NewValidationError 创建请求校验错误
func NewValidationError(format string, args ...interface{}) *RouterError {
	return &RouterError{
		Code:      ErrCodeInvalidRequest,
		Message:   fmt.Sprintf(format, args...),
		Timestamp: time.Now(),
	}
}

// NewUnsupportedNetworkError 创建不支持链错误，消息中包含链ID
func NewUnsupportedNetworkError(chainID uint) *RouterError {
	return &RouterError{
		Code:      ErrCodeUnsupportedChain,
		Message:   fmt.Sprintf("不支持的链ID: %d", chainID),
		Details:   map[string]interface{}{"chain_id": chainID},
		Timestamp: time.Now(),
	}
}

// NewServiceFetchError 创建报价服务调用错误
func NewServiceFetchError(message string, cause error) *RouterError {
	return &RouterError{
		Code:      ErrCodeServiceFetchFailed,
		Message:   message,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

// NewThresholdFetchError 创建阈值拉取错误
func NewThresholdFetchError(chainID uint, cause error) *RouterError {
	return &RouterError{
		Code:      ErrCodeThresholdFetchFailed,
		Message:   fmt.Sprintf("拉取链 %d 的拆分阈值失败", chainID),
		Details:   map[string]interface{}{"chain_id": chainID},
		Timestamp: time.Now(),
		Cause:     cause,
	}
}
