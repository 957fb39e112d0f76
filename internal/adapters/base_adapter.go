// Package adapters 外部报价服务适配器
// 封装HTTP传输细节：请求头、API密钥、单次超时、5xx重试和指标上报
package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"defi-aggregator/split-router/internal/metrics"
	"defi-aggregator/split-router/internal/types"

	"github.com/sirupsen/logrus"
)

// HTTPStatusError 非2xx响应
type HTTPStatusError struct {
	StatusCode int    // HTTP状态码
	Body       string // 响应体
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP错误: status=%d, body=%s", e.StatusCode, e.Body)
}

// BaseAdapter 基础适配器结构
// 提供报价服务调用的通用HTTP能力
type BaseAdapter struct {
	name       string              // 适配器名称
	config     *types.QuoterConfig // 报价服务配置
	httpClient *http.Client        // HTTP客户端
	logger     *logrus.Logger      // 日志记录器
	metrics    *metrics.Metrics    // 指标，可为nil
}

// NewBaseAdapter 创建基础适配器
// 超时由每次调用的context控制，http.Client不再单独设置超时
func NewBaseAdapter(name string, config *types.QuoterConfig, logger *logrus.Logger, m *metrics.Metrics) *BaseAdapter {
	httpClient := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        50,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     30 * time.Second,
		},
	}

	return &BaseAdapter{
		name:       name,
		config:     config,
		httpClient: httpClient,
		logger:     logger,
		metrics:    m,
	}
}

// ========================================
// 通用HTTP请求方法
// ========================================

// makeHTTPRequest 发送HTTP请求
// 每次调用都包在 config.Timeout 的超时里，超时按调用失败处理
// 5xx和网络错误最多重试 retries 次，4xx直接返回
// 参数:
//   - ctx: 上下文
//   - endpoint: 指标标签
//   - method: HTTP方法
//   - url: 请求URL
//   - payload: 请求体，nil表示无请求体
//   - retries: 重试次数
//
// 返回:
//   - []byte: 响应体
//   - error: 请求错误
func (b *BaseAdapter) makeHTTPRequest(ctx context.Context, endpoint, method, url string, payload []byte, retries int) ([]byte, error) {
	startTime := time.Now()

	if b.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.config.Timeout)
		defer cancel()
	}

	b.logger.Debugf("[%s] 开始请求: %s %s", b.name, method, url)

	var (
		body    []byte
		lastErr error
	)

	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			// 重试前等待
			select {
			case <-ctx.Done():
				b.metrics.ObserveQuoterCall(endpoint, false, time.Since(startTime))
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
			}
			b.logger.Debugf("[%s] 重试请求: attempt=%d, lastErr=%v", b.name, attempt, lastErr)
		}

		var retry bool
		body, retry, lastErr = b.doOnce(ctx, method, url, payload)
		if lastErr == nil || !retry {
			break
		}
	}

	duration := time.Since(startTime)
	b.metrics.ObserveQuoterCall(endpoint, lastErr == nil, duration)

	if lastErr != nil {
		return nil, lastErr
	}

	b.logger.Debugf("[%s] 请求完成: duration=%v", b.name, duration)
	return body, nil
}

// doOnce 执行单次请求，返回值 retry 表示该错误是否值得重试
func (b *BaseAdapter) doOnce(ctx context.Context, method, url string, payload []byte) ([]byte, bool, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, false, fmt.Errorf("创建HTTP请求失败: %w", err)
	}
	b.applyHeaders(req)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		// 上下文结束不再重试
		return nil, ctx.Err() == nil, fmt.Errorf("HTTP请求失败: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("读取响应体失败: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.StatusCode >= 500, &HTTPStatusError{StatusCode: resp.StatusCode, Body: string(responseBody)}
	}

	return responseBody, false, nil
}

// applyHeaders 设置通用请求头、API密钥和额外请求头
func (b *BaseAdapter) applyHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "DeFi-Aggregator-Split-Router/1.0")

	if b.config.APIKey != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", b.config.APIKey))
	}

	for key, value := range b.config.ExtraHeaders {
		req.Header.Set(key, value)
	}
}

// ========================================
// 通用数据处理方法
// ========================================

// parseJSONResponse 解析JSON响应
func (b *BaseAdapter) parseJSONResponse(data []byte, target interface{}) error {
	if err := json.Unmarshal(data, target); err != nil {
		b.logger.Errorf("[%s] JSON解析失败: %v, data=%s", b.name, err, truncate(string(data), 512))
		return fmt.Errorf("JSON解析失败: %w", err)
	}
	return nil
}

// GetName 获取适配器名称
func (b *BaseAdapter) GetName() string {
	return b.name
}

// GetConfig 获取当前配置
func (b *BaseAdapter) GetConfig() *types.QuoterConfig {
	return b.config
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
