// Package services 拆分路由核心服务实现
// 校验请求、识别包装/解包、决定分片数、调用报价服务并组装拆分结果
// 批量请求并发执行，单项失败互不影响
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"defi-aggregator/split-router/internal/metrics"
	"defi-aggregator/split-router/internal/networks"
	"defi-aggregator/split-router/internal/partcount"
	"defi-aggregator/split-router/internal/types"
	"defi-aggregator/split-router/pkg/cache"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Quoter 报价服务接口（在services包中定义避免循环导入）
type Quoter interface {
	GetRoutes(ctx context.Context, params *types.QuoteParams) (*types.QuoteResult, error)
	HealthCheck(ctx context.Context) error
}

// ThresholdCacheClearer 可清空的阈值缓存
type ThresholdCacheClearer interface {
	Clear()
}

// Dependencies 路由服务依赖
type Dependencies struct {
	Quoter     Quoter                // 报价服务客户端
	Resolver   *partcount.Resolver   // 分片决策器
	Thresholds ThresholdCacheClearer // 阈值缓存，可为nil
	Networks   *networks.Table       // 网络地址表
	Cache      cache.CacheManager    // 报价结果缓存，可为nil
	Metrics    *metrics.Metrics      // 指标，可为nil
}

// RouteService 拆分路由服务
type RouteService struct {
	quoter     Quoter
	resolver   *partcount.Resolver
	thresholds ThresholdCacheClearer
	networks   *networks.Table
	cache      cache.CacheManager
	config     *types.Config
	logger     *logrus.Logger
	metrics    *metrics.Metrics
	startTime  time.Time
}

// NewRouteService 创建拆分路由服务实例
func NewRouteService(config *types.Config, deps Dependencies, logger *logrus.Logger) *RouteService {
	table := deps.Networks
	if table == nil {
		table = networks.DefaultTable()
	}
	resolver := deps.Resolver
	if resolver == nil {
		resolver = partcount.NewResolver(networks.DefaultHighValueRegistry(), nil, logger, deps.Metrics)
	}

	return &RouteService{
		quoter:     deps.Quoter,
		resolver:   resolver,
		thresholds: deps.Thresholds,
		networks:   table,
		cache:      deps.Cache,
		config:     config,
		logger:     logger,
		metrics:    deps.Metrics,
		startTime:  time.Now(),
	}
}

// validatedRequest 校验通过的请求
type validatedRequest struct {
	requestID string
	amountIn  decimal.Decimal
	chainID   uint
	src       string // 原样地址
	dst       string
}

// ========================================
// 核心路由算法实现
// ========================================

// FetchRoute 获取拆分兑换方案
// 参数:
//   - ctx: 上下文
//   - req: 兑换请求
//
// 返回:
//   - *types.SwapResult: 拆分结果，IsAmountOutError 为true时不可执行
//   - error: ValidationError / UnsupportedNetworkError / ServiceFetchError
func (s *RouteService) FetchRoute(ctx context.Context, req *types.SwapRequest) (*types.SwapResult, error) {
	return s.fetchRoute(ctx, req, nil)
}

func (s *RouteService) fetchRoute(ctx context.Context, req *types.SwapRequest, itemCfg *types.ItemConfig) (*types.SwapResult, error) {
	startTime := time.Now()

	// 1. 校验请求
	vr, err := validateRequest(req)
	if err != nil {
		return nil, err
	}

	s.logger.Infof("[%s] 🚀 路由请求: %s->%s, 金额=%s, 链=%d",
		vr.requestID, networks.ChecksumAddress(vr.src), networks.ChecksumAddress(vr.dst), vr.amountIn.String(), vr.chainID)

	// 2. 查询网络配置
	network, ok := s.networks.Lookup(vr.chainID)
	if !ok {
		s.logger.Warnf("[%s] ❌ 不支持的链: %d", vr.requestID, vr.chainID)
		return nil, types.NewUnsupportedNetworkError(vr.chainID)
	}

	// 3. 包装/解包直接返回，不做任何外部调用
	if kind := networks.DetectWrap(network, vr.src, vr.dst); kind != types.WrapNone {
		s.logger.Infof("[%s] 🔁 识别为%s操作，跳过路由", vr.requestID, kind)
		return newWrapResult(vr.amountIn, kind), nil
	}

	// 4. 决定分片数
	partCount := s.partCountFor(ctx, vr, req, itemCfg)
	if partCount <= 0 {
		return nil, types.NewValidationError("分片数必须为正数: %d", partCount)
	}

	params := &types.QuoteParams{
		RequestID:   vr.requestID,
		ChainID:     vr.chainID,
		SrcToken:    vr.src,
		DstToken:    vr.dst,
		AmountIn:    vr.amountIn,
		PartCount:   partCount,
		SourceTypes: s.sourceTypesFor(itemCfg),
		Sources:     s.config.Quoter.Sources,
	}

	// 5. 检查缓存
	cacheKey := s.generateCacheKey(params)
	if cached := s.checkCache(ctx, cacheKey); cached != nil {
		s.logger.Infof("[%s] 缓存命中，直接返回结果", vr.requestID)
		return cached, nil
	}

	// 6. 调用报价服务
	if s.quoter == nil {
		return nil, types.NewServiceFetchError("未配置报价服务", nil)
	}
	quote, err := s.quoter.GetRoutes(ctx, params)
	if err != nil {
		s.logger.Errorf("[%s] 💥 报价服务调用失败: %v, 耗时=%v", vr.requestID, err, time.Since(startTime))
		if errors.Is(err, types.ErrServiceFetch) {
			return nil, err
		}
		return nil, types.NewServiceFetchError("报价服务调用失败", err)
	}

	// 7. 组装结果
	result, err := s.buildSwapResult(vr.amountIn, partCount, quote)
	if err != nil {
		return nil, types.NewServiceFetchError("报价结果组装失败", err)
	}
	if result.IsAmountOutError {
		s.metrics.ObserveAmountOutError()
		s.logger.Warnf("[%s] ⚠️ 报价结果不可执行: routes=%d, amountOut=%s",
			vr.requestID, len(result.Routes), result.AmountOutTotal.String())
	}

	// 8. 缓存结果，不可执行的结果不缓存，下次请求重新报价
	if !result.IsAmountOutError {
		s.cacheResult(ctx, cacheKey, result)
	}

	s.logger.Infof("[%s] 🎉 路由完成: parts=%d, routes=%d, amountOut=%s, 总耗时=%v",
		vr.requestID, partCount, len(result.Routes), result.AmountOutTotal.String(), time.Since(startTime))

	return result, nil
}

// ResolvePartCount 只做分片决策，不调用报价服务
// 未知链按离线规则返回1，不视为错误
func (s *RouteService) ResolvePartCount(ctx context.Context, req *types.SwapRequest) (types.PartCountDecision, error) {
	vr, err := validateRequest(req)
	if err != nil {
		return types.PartCountDecision{}, err
	}
	if req.PartCount != nil {
		if *req.PartCount <= 0 {
			return types.PartCountDecision{}, types.NewValidationError("分片数必须为正数: %d", *req.PartCount)
		}
		return types.PartCountDecision{Outcome: types.OutcomeForcedOverride, Value: *req.PartCount, Reason: "请求显式指定"}, nil
	}
	return s.resolver.Decide(ctx, s.resolverInput(vr, req, nil)), nil
}

// ClearThresholdCache 清空拆分阈值缓存
func (s *RouteService) ClearThresholdCache() {
	if s.thresholds == nil {
		return
	}
	s.thresholds.Clear()
}

// Networks 返回已支持的网络
func (s *RouteService) Networks() []types.NetworkConfig {
	return s.networks.All()
}

// ========================================
// 分片数与参数
// ========================================

// partCountFor 请求显式分片数优先，其次交给决策器
func (s *RouteService) partCountFor(ctx context.Context, vr *validatedRequest, req *types.SwapRequest, itemCfg *types.ItemConfig) int {
	if req.PartCount != nil {
		return *req.PartCount
	}
	return s.resolver.Resolve(ctx, s.resolverInput(vr, req, itemCfg))
}

// resolverInput 合并服务配置、请求字段和批量项覆盖
func (s *RouteService) resolverInput(vr *validatedRequest, req *types.SwapRequest, itemCfg *types.ItemConfig) partcount.Input {
	in := partcount.Input{
		RequestID:        vr.requestID,
		ChainID:          vr.chainID,
		SrcToken:         vr.src,
		DstToken:         vr.dst,
		AmountIn:         vr.amountIn,
		Online:           s.config.PartCount.Online,
		DefaultPartCount: s.config.PartCount.Default,
		ForcePartCount:   s.config.PartCount.Force,
	}
	// 优先级：批量项覆盖 > 请求字段 > 服务配置
	if req.OnlinePartCount != nil {
		in.Online = *req.OnlinePartCount
	}
	if req.ForcePartCount != nil {
		in.ForcePartCount = req.ForcePartCount
	}

	if itemCfg != nil {
		if itemCfg.OnlinePartCount != nil {
			in.Online = *itemCfg.OnlinePartCount
		}
		if itemCfg.DefaultPartCount != nil {
			in.DefaultPartCount = *itemCfg.DefaultPartCount
		}
		if itemCfg.ForcePartCount != nil {
			in.ForcePartCount = itemCfg.ForcePartCount
		}
	}
	return in
}

func (s *RouteService) sourceTypesFor(itemCfg *types.ItemConfig) []int {
	if itemCfg != nil && itemCfg.SourceTypes != nil {
		return itemCfg.SourceTypes
	}
	return s.config.Quoter.SourceTypes
}

// ========================================
// 结果组装
// ========================================

// buildSwapResult 把报价结果转换为拆分结果
// 零路径、总输出非正或任一分片路径为空时标记 IsAmountOutError
func (s *RouteService) buildSwapResult(amountIn decimal.Decimal, partCount int, quote *types.QuoteResult) (*types.SwapResult, error) {
	amountInPerPart, err := splitAmount(amountIn, quote.Distributions)
	if err != nil {
		return nil, err
	}

	result := &types.SwapResult{
		Routes:            quote.Routes,
		Distributions:     quote.Distributions,
		AmountOutPerRoute: quote.AmountOutPerRoute,
		AmountOutTotal:    quote.AmountOutTotal,
		AmountInPerPart:   amountInPerPart,
		PartCount:         partCount,
	}
	if result.Routes == nil {
		result.Routes = []types.Route{}
	}
	if result.Distributions == nil {
		result.Distributions = []int{}
	}
	if result.AmountOutPerRoute == nil {
		result.AmountOutPerRoute = []decimal.Decimal{}
	}

	result.IsAmountOutError = isAmountOutError(result)

	if s.config.Cache.QuoteTTL > 0 {
		result.ValidUntil = time.Now().Add(s.config.Cache.QuoteTTL)
	}
	return result, nil
}

func isAmountOutError(result *types.SwapResult) bool {
	if len(result.Routes) == 0 {
		return true
	}
	if !result.AmountOutTotal.IsPositive() {
		return true
	}
	for _, route := range result.Routes {
		if len(route) == 0 {
			return true
		}
	}
	return false
}

// newWrapResult 包装/解包结果：1:1兑换，无路径
func newWrapResult(amountIn decimal.Decimal, kind types.WrapKind) *types.SwapResult {
	return &types.SwapResult{
		Routes:            []types.Route{},
		Distributions:     []int{},
		AmountOutPerRoute: []decimal.Decimal{},
		AmountOutTotal:    amountIn,
		AmountInPerPart:   []decimal.Decimal{},
		IsWrap:            kind,
		PartCount:         0,
	}
}

// ========================================
// 请求校验
// ========================================

// validateRequest 校验请求结构，不涉及网络配置
func validateRequest(req *types.SwapRequest) (*validatedRequest, error) {
	if req == nil {
		return nil, types.NewValidationError("请求不能为空")
	}
	if req.SrcToken == nil || req.DstToken == nil {
		return nil, types.NewValidationError("源代币和目标代币不能为空")
	}
	if req.ChainID == 0 {
		return nil, types.NewValidationError("链ID不能为空")
	}

	amountStr := strings.TrimSpace(req.AmountIn)
	if amountStr == "" {
		return nil, types.NewValidationError("输入数量不能为空")
	}
	amountIn, err := decimal.NewFromString(amountStr)
	if err != nil {
		return nil, types.NewValidationError("输入数量格式错误: %s", req.AmountIn)
	}
	if !amountIn.IsPositive() {
		return nil, types.NewValidationError("输入数量必须大于0: %s", req.AmountIn)
	}

	for _, token := range []*types.Token{req.SrcToken, req.DstToken} {
		if !networks.IsValidAddress(token.Address) {
			return nil, types.NewValidationError("代币地址格式错误: %s", token.Address)
		}
		if token.ChainID != req.ChainID {
			return nil, types.NewValidationError("代币 %s 所在链 %d 与请求链 %d 不一致", token.Address, token.ChainID, req.ChainID)
		}
	}

	if req.SrcToken.SameAddress(*req.DstToken) {
		return nil, types.NewValidationError("源代币和目标代币不能相同")
	}

	if req.PartCount != nil && *req.PartCount <= 0 {
		return nil, types.NewValidationError("分片数必须为正数: %d", *req.PartCount)
	}

	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}

	return &validatedRequest{
		requestID: requestID,
		amountIn:  amountIn,
		chainID:   req.ChainID,
		src:       req.SrcToken.Address,
		dst:       req.DstToken.Address,
	}, nil
}

// ========================================
// 缓存管理
// ========================================

// checkCache 检查缓存
func (s *RouteService) checkCache(ctx context.Context, cacheKey string) *types.SwapResult {
	if s.cache == nil || s.config.Cache.QuoteTTL <= 0 {
		return nil
	}

	data, err := s.cache.Get(ctx, cacheKey)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Debugf("缓存查询失败: %v", err)
		}
		s.metrics.ObserveQuoteCache(false)
		return nil
	}

	var cached types.SwapResult
	if err := json.Unmarshal(data, &cached); err != nil {
		s.logger.Warnf("缓存数据损坏，忽略: key=%s, err=%v", cacheKey, err)
		_ = s.cache.Delete(ctx, cacheKey)
		s.metrics.ObserveQuoteCache(false)
		return nil
	}

	if !cached.ValidUntil.IsZero() && !time.Now().Before(cached.ValidUntil) {
		s.metrics.ObserveQuoteCache(false)
		return nil
	}

	s.metrics.ObserveQuoteCache(true)
	cached.CacheHit = true
	return &cached
}

// cacheResult 缓存路由结果
func (s *RouteService) cacheResult(ctx context.Context, cacheKey string, result *types.SwapResult) {
	if s.cache == nil || s.config.Cache.QuoteTTL <= 0 {
		return
	}

	data, err := json.Marshal(result)
	if err != nil {
		s.logger.Warnf("序列化路由结果失败: %v", err)
		return
	}

	ttl := s.config.Cache.QuoteTTL
	if err := s.cache.Set(ctx, cacheKey, data, ttl); err != nil {
		s.logger.Warnf("缓存结果失败: %v", err)
	} else {
		s.logger.Debugf("缓存结果成功: key=%s, ttl=%v", cacheKey, ttl)
	}
}

// generateCacheKey 生成缓存键
func (s *RouteService) generateCacheKey(params *types.QuoteParams) string {
	return fmt.Sprintf("%s%s%d_%s_%s_%s_%d_%v_%s",
		s.config.Cache.PrefixKey,
		types.CacheKeyRoute,
		params.ChainID,
		networks.NormalizeAddress(params.SrcToken),
		networks.NormalizeAddress(params.DstToken),
		params.AmountIn.String(),
		params.PartCount,
		params.SourceTypes,
		strings.Join(params.Sources, ","),
	)
}

// ========================================
// 健康检查
// ========================================

// HealthCheck 检查报价服务和缓存
func (s *RouteService) HealthCheck(ctx context.Context, version string) *types.HealthCheckResponse {
	resp := &types.HealthCheckResponse{
		Status:    types.StatusHealthy,
		Timestamp: time.Now(),
		Version:   version,
		Uptime:    time.Since(s.startTime),
		Quoter:    types.StatusHealthy,
		Cache:     types.StatusHealthy,
	}

	var problems []string

	if s.quoter == nil {
		resp.Quoter = types.StatusUnhealthy
		problems = append(problems, "未配置报价服务")
	} else if err := s.quoter.HealthCheck(ctx); err != nil {
		resp.Quoter = types.StatusUnhealthy
		problems = append(problems, err.Error())
	}

	if s.cache != nil {
		if err := s.cache.Ping(ctx); err != nil {
			resp.Cache = types.StatusUnhealthy
			problems = append(problems, fmt.Sprintf("缓存不可用: %v", err))
		}
	}

	switch {
	case resp.Quoter == types.StatusUnhealthy:
		resp.Status = types.StatusUnhealthy
	case resp.Cache == types.StatusUnhealthy:
		resp.Status = types.StatusDegraded
	}
	if len(problems) > 0 {
		resp.Error = strings.Join(problems, "; ")
	}
	return resp
}
