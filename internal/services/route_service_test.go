package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"defi-aggregator/split-router/internal/networks"
	"defi-aggregator/split-router/internal/partcount"
	"defi-aggregator/split-router/internal/types"
	"defi-aggregator/split-router/pkg/cache"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	botanix = networks.ChainBotanix
	btc     = networks.NativeTokenMarker
	wbtc    = "0x0D2437F93Fed6EA64Ef01cCde385FB1263910C56"
	usdce   = "0x29eE6138DD4C9815f46D34a4A1ed48F46758A402"
	meme    = "0x9999999999999999999999999999999999999999"
)

// fakeQuoter 记录调用参数并按预设返回
type fakeQuoter struct {
	mu      sync.Mutex
	calls   []*types.QuoteParams
	result  *types.QuoteResult
	err     error
	respond func(params *types.QuoteParams) (*types.QuoteResult, error)
}

func (f *fakeQuoter) GetRoutes(_ context.Context, params *types.QuoteParams) (*types.QuoteResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, params)
	respond := f.respond
	f.mu.Unlock()

	if respond != nil {
		return respond(params)
	}
	return f.result, f.err
}

func (f *fakeQuoter) HealthCheck(context.Context) error { return f.err }

func (f *fakeQuoter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func segment(sourceType int) types.RouteSegment {
	return types.RouteSegment{
		Router:                   "0x0000000000000000000000000000000000000001",
		Pool:                     "0x0000000000000000000000000000000000000002",
		FromToken:                btc,
		ToToken:                  usdce,
		PartSizeFixedPoint:       uint256.NewInt(1 << 32),
		AmountAfterFeeFixedPoint: uint256.NewInt(997),
		SourceType:               sourceType,
	}
}

func twoPartQuote() *types.QuoteResult {
	return &types.QuoteResult{
		Routes:            []types.Route{{segment(1)}, {segment(2)}},
		Distributions:     []int{70, 30},
		AmountOutPerRoute: []decimal.Decimal{decimal.NewFromInt(700), decimal.NewFromInt(299)},
		AmountOutTotal:    decimal.NewFromInt(999),
	}
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testConfig() *types.Config {
	return &types.Config{
		Quoter:    types.QuoterConfig{SourceTypes: []int{1, 2}, Sources: []string{"uniswap-v3"}},
		PartCount: types.PartCountConfig{Default: 5},
		Batch:     types.BatchConfig{MaxConcurrency: 4, MaxItems: 10},
	}
}

func newTestService(cfg *types.Config, quoter Quoter, cacheManager cache.CacheManager) *RouteService {
	logger := quietLogger()
	return NewRouteService(cfg, Dependencies{
		Quoter:   quoter,
		Resolver: partcount.NewResolver(networks.DefaultHighValueRegistry(), nil, logger, nil),
		Networks: networks.DefaultTable(),
		Cache:    cacheManager,
	}, logger)
}

func swapRequest(chainID uint, src, dst, amount string) *types.SwapRequest {
	return &types.SwapRequest{
		AmountIn: amount,
		SrcToken: &types.Token{Address: src, ChainID: chainID},
		DstToken: &types.Token{Address: dst, ChainID: chainID},
		ChainID:  chainID,
	}
}

func TestFetchRouteAssemblesResult(t *testing.T) {
	quoter := &fakeQuoter{result: twoPartQuote()}
	svc := newTestService(testConfig(), quoter, nil)

	result, err := svc.FetchRoute(context.Background(), swapRequest(botanix, btc, usdce, "1000"))
	require.NoError(t, err)

	require.Equal(t, 1, quoter.callCount())
	params := quoter.calls[0]
	assert.Equal(t, 5, params.PartCount)
	assert.Equal(t, []int{1, 2}, params.SourceTypes)
	assert.Equal(t, []string{"uniswap-v3"}, params.Sources)
	assert.Equal(t, botanix, params.ChainID)

	assert.Equal(t, types.WrapNone, result.IsWrap)
	assert.False(t, result.IsAmountOutError)
	assert.Equal(t, 5, result.PartCount)
	require.Len(t, result.AmountInPerPart, 2)
	assert.Equal(t, "700", result.AmountInPerPart[0].String())
	assert.Equal(t, "300", result.AmountInPerPart[1].String())
	assert.Len(t, result.Routes, len(result.Distributions))
	assert.Len(t, result.AmountOutPerRoute, len(result.Distributions))
}

func TestFetchRouteBotanixScenario(t *testing.T) {
	quoter := &fakeQuoter{result: twoPartQuote()}
	svc := newTestService(testConfig(), quoter, nil)

	result, err := svc.FetchRoute(context.Background(), swapRequest(botanix, btc, usdce, "1.5"))
	require.NoError(t, err)
	assert.Equal(t, 5, quoter.calls[0].PartCount)
	assert.Equal(t, types.WrapNone, result.IsWrap)
	assert.True(t, sum(result.AmountInPerPart).Equal(decimal.RequireFromString("1.5")))
	assert.True(t, result.AmountInPerPart[0].Equal(decimal.RequireFromString("1.05")))
	assert.True(t, result.AmountInPerPart[1].Equal(decimal.RequireFromString("0.45")))

	_, err = svc.FetchRoute(context.Background(), swapRequest(botanix, btc, meme, "1.5"))
	require.NoError(t, err)
	assert.Equal(t, 1, quoter.calls[1].PartCount)
}

func TestFetchRouteExplicitPartCount(t *testing.T) {
	quoter := &fakeQuoter{result: twoPartQuote()}
	svc := newTestService(testConfig(), quoter, nil)

	req := swapRequest(botanix, btc, meme, "10")
	parts := 3
	req.PartCount = &parts

	_, err := svc.FetchRoute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 3, quoter.calls[0].PartCount)
}

func TestFetchRouteWrapAndUnwrap(t *testing.T) {
	quoter := &fakeQuoter{err: errors.New("must not be called")}
	svc := newTestService(testConfig(), quoter, nil)

	wrap, err := svc.FetchRoute(context.Background(), swapRequest(botanix, btc, strings.ToLower(wbtc), "2.5"))
	require.NoError(t, err)
	assert.Equal(t, types.WrapWrap, wrap.IsWrap)
	assert.Empty(t, wrap.Routes)
	assert.Empty(t, wrap.Distributions)
	assert.Empty(t, wrap.AmountOutPerRoute)
	assert.Empty(t, wrap.AmountInPerPart)
	assert.True(t, wrap.AmountOutTotal.Equal(decimal.RequireFromString("2.5")))

	unwrap, err := svc.FetchRoute(context.Background(), swapRequest(botanix, wbtc, btc, "2.5"))
	require.NoError(t, err)
	assert.Equal(t, types.WrapUnwrap, unwrap.IsWrap)
	assert.True(t, unwrap.AmountOutTotal.Equal(decimal.RequireFromString("2.5")))

	assert.Equal(t, 0, quoter.callCount())
}

func TestFetchRouteUnsupportedNetwork(t *testing.T) {
	quoter := &fakeQuoter{result: twoPartQuote()}
	svc := newTestService(testConfig(), quoter, nil)

	_, err := svc.FetchRoute(context.Background(), swapRequest(9999, btc, usdce, "1"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrUnsupportedNetwork))
	assert.Contains(t, err.Error(), "9999")
	assert.Equal(t, 0, quoter.callCount())
}

func TestFetchRouteValidation(t *testing.T) {
	svc := newTestService(testConfig(), &fakeQuoter{result: twoPartQuote()}, nil)
	zero := 0

	cases := map[string]*types.SwapRequest{
		"nil request":     nil,
		"missing token":   {AmountIn: "1", ChainID: botanix, SrcToken: &types.Token{Address: btc, ChainID: botanix}},
		"same token":      swapRequest(botanix, usdce, strings.ToLower(usdce), "1"),
		"zero amount":     swapRequest(botanix, btc, usdce, "0"),
		"negative amount": swapRequest(botanix, btc, usdce, "-1"),
		"not a number":    swapRequest(botanix, btc, usdce, "abc"),
		"empty amount":    swapRequest(botanix, btc, usdce, ""),
		"bad address":     swapRequest(botanix, "0x1234", usdce, "1"),
		"chain mismatch": {
			AmountIn: "1", ChainID: botanix,
			SrcToken: &types.Token{Address: btc, ChainID: botanix},
			DstToken: &types.Token{Address: usdce, ChainID: networks.ChainEthereum},
		},
		"zero part count": func() *types.SwapRequest {
			req := swapRequest(botanix, btc, usdce, "1")
			req.PartCount = &zero
			return req
		}(),
	}

	for name, req := range cases {
		result, err := svc.FetchRoute(context.Background(), req)
		assert.Nil(t, result, name)
		require.Error(t, err, name)
		assert.True(t, errors.Is(err, types.ErrValidation), name)
	}
}

func TestFetchRouteServiceError(t *testing.T) {
	quoter := &fakeQuoter{err: types.NewServiceFetchError("报价服务调用失败", errors.New("502"))}
	svc := newTestService(testConfig(), quoter, nil)

	result, err := svc.FetchRoute(context.Background(), swapRequest(botanix, btc, usdce, "1"))
	assert.Nil(t, result)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrServiceFetch))

	quoter.err = errors.New("plain failure")
	_, err = svc.FetchRoute(context.Background(), swapRequest(botanix, btc, usdce, "1"))
	assert.True(t, errors.Is(err, types.ErrServiceFetch))
}

func TestFetchRouteAmountOutErrorFlags(t *testing.T) {
	cases := map[string]*types.QuoteResult{
		"no routes": {
			Routes: []types.Route{}, Distributions: []int{}, AmountOutPerRoute: []decimal.Decimal{},
			AmountOutTotal: decimal.Zero,
		},
		"zero total": {
			Routes: []types.Route{{segment(1)}}, Distributions: []int{100},
			AmountOutPerRoute: []decimal.Decimal{decimal.Zero}, AmountOutTotal: decimal.Zero,
		},
		"empty part": {
			Routes: []types.Route{{segment(1)}, {}}, Distributions: []int{50, 50},
			AmountOutPerRoute: []decimal.Decimal{decimal.NewFromInt(5), decimal.Zero}, AmountOutTotal: decimal.NewFromInt(5),
		},
	}

	for name, quote := range cases {
		svc := newTestService(testConfig(), &fakeQuoter{result: quote}, nil)
		result, err := svc.FetchRoute(context.Background(), swapRequest(botanix, btc, usdce, "10"))
		require.NoError(t, err, name)
		assert.True(t, result.IsAmountOutError, name)
	}
}

func TestFetchRouteUsesQuoteCache(t *testing.T) {
	cfg := testConfig()
	cfg.Cache = types.CacheConfig{QuoteTTL: time.Minute, PrefixKey: "test:"}

	quoter := &fakeQuoter{result: twoPartQuote()}
	memory := cache.NewMemoryCache(0)
	defer memory.Close()
	svc := newTestService(cfg, quoter, memory)

	first, err := svc.FetchRoute(context.Background(), swapRequest(botanix, btc, usdce, "1000"))
	require.NoError(t, err)
	assert.False(t, first.CacheHit)

	second, err := svc.FetchRoute(context.Background(), swapRequest(botanix, strings.ToLower(btc), usdce, "1000"))
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, 1, quoter.callCount())
	assert.Equal(t, first.Distributions, second.Distributions)
	assert.True(t, first.AmountOutTotal.Equal(second.AmountOutTotal))
	assert.Equal(t, uint64(997), second.Routes[0][0].AmountAfterFeeFixedPoint.Uint64())

	// 不同金额不命中
	_, err = svc.FetchRoute(context.Background(), swapRequest(botanix, btc, usdce, "1001"))
	require.NoError(t, err)
	assert.Equal(t, 2, quoter.callCount())
}

func TestNonExecutableResultsAreNotCached(t *testing.T) {
	cfg := testConfig()
	cfg.Cache = types.CacheConfig{QuoteTTL: time.Minute}

	empty := &types.QuoteResult{
		Routes: []types.Route{}, Distributions: []int{}, AmountOutPerRoute: []decimal.Decimal{},
		AmountOutTotal: decimal.Zero,
	}
	var calls int32
	quoter := &fakeQuoter{respond: func(*types.QuoteParams) (*types.QuoteResult, error) {
		// 第一次报价为空，之后恢复正常
		if atomic.AddInt32(&calls, 1) == 1 {
			return empty, nil
		}
		return twoPartQuote(), nil
	}}
	memory := cache.NewMemoryCache(0)
	defer memory.Close()
	svc := newTestService(cfg, quoter, memory)

	first, err := svc.FetchRoute(context.Background(), swapRequest(botanix, btc, usdce, "1000"))
	require.NoError(t, err)
	assert.True(t, first.IsAmountOutError)
	assert.Equal(t, 0, memory.Len())

	second, err := svc.FetchRoute(context.Background(), swapRequest(botanix, btc, usdce, "1000"))
	require.NoError(t, err)
	assert.False(t, second.CacheHit)
	assert.False(t, second.IsAmountOutError)
	assert.Equal(t, 2, quoter.callCount())
	assert.Equal(t, 1, memory.Len())
}

func TestWrapResultsAreNotCached(t *testing.T) {
	cfg := testConfig()
	cfg.Cache = types.CacheConfig{QuoteTTL: time.Minute}

	memory := cache.NewMemoryCache(0)
	defer memory.Close()
	svc := newTestService(cfg, &fakeQuoter{}, memory)

	_, err := svc.FetchRoute(context.Background(), swapRequest(botanix, btc, wbtc, "1"))
	require.NoError(t, err)
	assert.Equal(t, 0, memory.Len())
}

func TestResolvePartCount(t *testing.T) {
	svc := newTestService(testConfig(), &fakeQuoter{}, nil)

	decision, err := svc.ResolvePartCount(context.Background(), swapRequest(botanix, btc, usdce, "1"))
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeOffline, decision.Outcome)
	assert.Equal(t, 5, decision.Value)

	decision, err = svc.ResolvePartCount(context.Background(), swapRequest(9999, btc, usdce, "1"))
	require.NoError(t, err)
	assert.Equal(t, 1, decision.Value)

	forced := 2
	req := swapRequest(botanix, btc, meme, "1")
	req.ForcePartCount = &forced
	decision, err = svc.ResolvePartCount(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeForcedOverride, decision.Outcome)
	assert.Equal(t, 2, decision.Value)

	_, err = svc.ResolvePartCount(context.Background(), swapRequest(botanix, btc, btc, "1"))
	assert.True(t, errors.Is(err, types.ErrValidation))
}

func TestRequestOnlineSwitchOverridesConfig(t *testing.T) {
	cfg := testConfig()
	cfg.PartCount.Online = true
	svc := newTestService(cfg, &fakeQuoter{}, nil)

	// 服务默认在线时，请求显式关闭后强制分片数生效
	online := false
	forced := 2
	req := swapRequest(botanix, btc, usdce, "1")
	req.OnlinePartCount = &online
	req.ForcePartCount = &forced
	decision, err := svc.ResolvePartCount(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeForcedOverride, decision.Outcome)
	assert.Equal(t, 2, decision.Value)

	// 未设置时沿用服务配置，强制值在在线模式下被忽略
	req.OnlinePartCount = nil
	decision, err = svc.ResolvePartCount(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeOfflineFallback, decision.Outcome)
	assert.Equal(t, 5, decision.Value)

	// 服务默认离线时，请求可以打开在线模式
	online = true
	req.OnlinePartCount = &online
	decision, err = newTestService(testConfig(), &fakeQuoter{}, nil).ResolvePartCount(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeOfflineFallback, decision.Outcome)
}

func TestRequestOnlineSwitchDecodesFromJSON(t *testing.T) {
	var req types.SwapRequest
	require.NoError(t, json.Unmarshal([]byte(`{"amountIn":"1","onlinePartCount":false}`), &req))
	require.NotNil(t, req.OnlinePartCount)
	assert.False(t, *req.OnlinePartCount)

	req = types.SwapRequest{}
	require.NoError(t, json.Unmarshal([]byte(`{"amountIn":"1"}`), &req))
	assert.Nil(t, req.OnlinePartCount)
}

type countingClearer struct{ calls int }

func (c *countingClearer) Clear() { c.calls++ }

func TestClearThresholdCache(t *testing.T) {
	clearer := &countingClearer{}
	logger := quietLogger()
	svc := NewRouteService(testConfig(), Dependencies{Thresholds: clearer}, logger)

	svc.ClearThresholdCache()
	assert.Equal(t, 1, clearer.calls)

	// 未配置阈值缓存时不报错
	assert.NotPanics(t, func() { newTestService(testConfig(), nil, nil).ClearThresholdCache() })
}

func TestHealthCheck(t *testing.T) {
	svc := newTestService(testConfig(), &fakeQuoter{}, cache.NewMemoryCache(0))
	resp := svc.HealthCheck(context.Background(), "1.0.0")
	assert.Equal(t, types.StatusHealthy, resp.Status)

	svc = newTestService(testConfig(), &fakeQuoter{err: errors.New("down")}, nil)
	resp = svc.HealthCheck(context.Background(), "1.0.0")
	assert.Equal(t, types.StatusUnhealthy, resp.Status)
	assert.Contains(t, resp.Error, "down")
}
