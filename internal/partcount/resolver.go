// Package partcount 分片数决策
// 离线模式按高价值代币注册表判定，在线模式按报价服务的拆分阈值判定
// 在线判定的任何失败都静默回退到离线判定
package partcount

import (
	"context"
	"fmt"
	"strings"

	"defi-aggregator/split-router/internal/metrics"
	"defi-aggregator/split-router/internal/networks"
	"defi-aggregator/split-router/internal/types"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// ThresholdSource 拆分阈值来源，通常是 thresholds.Cache
type ThresholdSource interface {
	Get(ctx context.Context, chainID uint) ([]types.ThresholdRecord, error)
}

// Input 一次分片决策的输入
type Input struct {
	RequestID        string          // 请求ID，用于日志关联
	ChainID          uint            // 链ID
	SrcToken         string          // 源代币地址
	DstToken         string          // 目标代币地址
	AmountIn         decimal.Decimal // 输入数量
	Online           bool            // 是否启用在线决策
	DefaultPartCount int             // 两端都是高价值代币时的分片数，<=0 时取5
	ForcePartCount   *int            // 强制分片数，仅离线模式生效
}

// Resolver 分片数决策器
type Resolver struct {
	registry   *networks.HighValueRegistry
	thresholds ThresholdSource
	logger     *logrus.Logger
	metrics    *metrics.Metrics
}

// NewResolver 创建决策器
// thresholds 为nil时在线请求总是回退到离线判定
func NewResolver(registry *networks.HighValueRegistry, thresholds ThresholdSource, logger *logrus.Logger, m *metrics.Metrics) *Resolver {
	if registry == nil {
		registry = networks.NewHighValueRegistry()
	}
	return &Resolver{
		registry:   registry,
		thresholds: thresholds,
		logger:     logger,
		metrics:    m,
	}
}

// Resolve 返回分片数
func (r *Resolver) Resolve(ctx context.Context, in Input) int {
	return r.Decide(ctx, in).Value
}

// Decide 返回带决策路径的分片结果
// 强制值只在离线模式下生效；在线模式永远不返回错误
func (r *Resolver) Decide(ctx context.Context, in Input) types.PartCountDecision {
	var decision types.PartCountDecision

	switch {
	case in.ForcePartCount != nil && !in.Online:
		decision = types.PartCountDecision{
			Outcome: types.OutcomeForcedOverride,
			Value:   *in.ForcePartCount,
		}
	case in.Online:
		decision = r.decideOnline(ctx, in)
	default:
		decision = types.PartCountDecision{
			Outcome: types.OutcomeOffline,
			Value:   r.decideOffline(in.ChainID, in.SrcToken, in.DstToken, in.DefaultPartCount),
		}
	}

	r.metrics.ObserveDecision(string(decision.Outcome))
	r.logger.Debugf("[%s] 分片决策: chain=%d, outcome=%s, parts=%d, reason=%s",
		in.RequestID, in.ChainID, decision.Outcome, decision.Value, decision.Reason)

	return decision
}

// decideOffline 离线判定：两端都是高价值代币时取默认分片数，否则为1
func (r *Resolver) decideOffline(chainID uint, src, dst string, defaultPartCount int) int {
	if defaultPartCount <= 0 {
		defaultPartCount = types.DefaultPartCount
	}
	if r.registry.IsHighValue(chainID, src) && r.registry.IsHighValue(chainID, dst) {
		return defaultPartCount
	}
	return 1
}

// decideOnline 在线判定
// 两端阈值记录都存在且输入数量不低于两端最小值时固定返回 OnlinePartCount
func (r *Resolver) decideOnline(ctx context.Context, in Input) (decision types.PartCountDecision) {
	fallback := func(reason string) types.PartCountDecision {
		return types.PartCountDecision{
			Outcome: types.OutcomeOfflineFallback,
			Value:   r.decideOffline(in.ChainID, in.SrcToken, in.DstToken, in.DefaultPartCount),
			Reason:  reason,
		}
	}

	// 阈值来源的任何异常都不能影响调用方
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Errorf("[%s] 💥 在线分片决策异常: %v", in.RequestID, rec)
			decision = fallback(fmt.Sprintf("panic: %v", rec))
		}
	}()

	if r.thresholds == nil {
		return fallback("未配置阈值来源")
	}

	records, err := r.thresholds.Get(ctx, in.ChainID)
	if err != nil {
		r.logger.Warnf("[%s] ⚠️ 在线分片决策回退离线: %v", in.RequestID, err)
		return fallback(err.Error())
	}

	srcRecord, srcFound := findRecord(records, in.ChainID, in.SrcToken)
	dstRecord, dstFound := findRecord(records, in.ChainID, in.DstToken)
	if !srcFound || !dstFound {
		return fallback("缺少代币阈值记录")
	}

	if in.AmountIn.LessThan(srcRecord.MinimumAmount) || in.AmountIn.LessThan(dstRecord.MinimumAmount) {
		return fallback("输入数量低于拆分阈值")
	}

	return types.PartCountDecision{
		Outcome: types.OutcomeOnline,
		Value:   types.OnlinePartCount,
	}
}

// findRecord 在同一条链的记录中按地址查找（忽略大小写）
func findRecord(records []types.ThresholdRecord, chainID uint, address string) (types.ThresholdRecord, bool) {
	for _, record := range records {
		if record.ChainID != 0 && record.ChainID != chainID {
			continue
		}
		if strings.EqualFold(record.TokenAddress, address) {
			return record, true
		}
	}
	return types.ThresholdRecord{}, false
}
