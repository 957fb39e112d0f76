package services

import (
	"context"
	"fmt"
	"time"

	"defi-aggregator/split-router/internal/types"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ValidateBatch 检查批量请求规模
func (s *RouteService) ValidateBatch(items []types.BatchItem) error {
	if len(items) == 0 {
		return types.NewValidationError("批量请求不能为空")
	}
	if maxItems := s.config.Batch.MaxItems; maxItems > 0 && len(items) > maxItems {
		return &types.RouterError{
			Code:      types.ErrCodeBatchTooLarge,
			Message:   fmt.Sprintf("批量请求条数 %d 超过上限 %d", len(items), maxItems),
			Details:   map[string]interface{}{"items": len(items), "max_items": maxItems},
			Timestamp: time.Now(),
		}
	}
	return nil
}

// RunBatch 并发执行批量路由请求
// 结果与输入按下标一一对应；单项失败或panic只影响该项
func (s *RouteService) RunBatch(ctx context.Context, items []types.BatchItem) []types.BatchResult {
	startTime := time.Now()
	batchID := uuid.New().String()
	results := make([]types.BatchResult, len(items))

	s.logger.Infof("[%s] 🚀 批量路由: %d 项", batchID, len(items))

	var g errgroup.Group
	if limit := s.config.Batch.MaxConcurrency; limit > 0 {
		g.SetLimit(limit)
	}

	for i := range items {
		index := i
		g.Go(func() error {
			results[index] = s.runBatchItem(ctx, batchID, index, items[index])
			s.metrics.ObserveBatchItem(results[index].Success)
			return nil
		})
	}
	// 每项都返回nil，Wait只用于等待全部完成
	_ = g.Wait()

	succeeded := 0
	for _, result := range results {
		if result.Success {
			succeeded++
		}
	}
	s.logger.Infof("[%s] 🎉 批量路由完成: 成功=%d, 失败=%d, 总耗时=%v",
		batchID, succeeded, len(items)-succeeded, time.Since(startTime))

	return results
}

// runBatchItem 执行单个批量项，panic转换为失败结果
func (s *RouteService) runBatchItem(ctx context.Context, batchID string, index int, item types.BatchItem) (result types.BatchResult) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Errorf("[%s] 💥 批量项 #%d 异常: %v", batchID, index, rec)
			result = types.BatchResult{Success: false, Error: fmt.Sprintf("内部错误: %v", rec)}
		}
	}()

	req := item.Request
	if req != nil && req.RequestID == "" {
		// 复制一份，避免修改调用方的请求
		copied := *req
		copied.RequestID = fmt.Sprintf("%s-%d", batchID, index)
		req = &copied
	}

	data, err := s.fetchRoute(ctx, req, item.Config)
	if err != nil {
		s.logger.Warnf("[%s] ❌ 批量项 #%d 失败: %v", batchID, index, err)
		return types.BatchResult{Success: false, Error: err.Error()}
	}
	return types.BatchResult{Success: true, Data: data}
}
