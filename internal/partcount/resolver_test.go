package partcount

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"defi-aggregator/split-router/internal/adapters"
	"defi-aggregator/split-router/internal/networks"
	"defi-aggregator/split-router/internal/thresholds"
	"defi-aggregator/split-router/internal/types"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	btc   = networks.NativeTokenMarker
	usdce = "0x29eE6138DD4C9815f46D34a4A1ed48F46758A402"
	meme  = "0x9999999999999999999999999999999999999999"
)

type stubThresholds struct {
	records []types.ThresholdRecord
	err     error
	calls   int
}

func (s *stubThresholds) Get(_ context.Context, _ uint) ([]types.ThresholdRecord, error) {
	s.calls++
	return s.records, s.err
}

type panickingThresholds struct{}

func (panickingThresholds) Get(context.Context, uint) ([]types.ThresholdRecord, error) {
	panic("boom")
}

// slowFetcher 阻塞直到上下文结束
type slowFetcher struct{}

func (slowFetcher) GetThresholds(ctx context.Context, _ uint) ([]types.ThresholdRecord, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newResolver(source ThresholdSource) *Resolver {
	return NewResolver(networks.DefaultHighValueRegistry(), source, quietLogger(), nil)
}

func intPtr(v int) *int { return &v }

func TestOfflineBothHighValueReturnsDefault(t *testing.T) {
	r := newResolver(nil)
	registry := networks.DefaultHighValueRegistry()

	for _, chainID := range registry.Chains() {
		in := Input{ChainID: chainID, SrcToken: btc, DstToken: btc, DefaultPartCount: 7}
		assert.Equal(t, 7, r.Resolve(context.Background(), in), "chain %d", chainID)
	}
}

func TestOfflineOneOrNoneHighValueReturnsOne(t *testing.T) {
	r := newResolver(nil)
	ctx := context.Background()

	assert.Equal(t, 1, r.Resolve(ctx, Input{ChainID: networks.ChainBotanix, SrcToken: btc, DstToken: meme}))
	assert.Equal(t, 1, r.Resolve(ctx, Input{ChainID: networks.ChainBotanix, SrcToken: meme, DstToken: usdce}))
	assert.Equal(t, 1, r.Resolve(ctx, Input{ChainID: networks.ChainBotanix, SrcToken: meme, DstToken: meme}))
}

func TestUnknownChainReturnsOne(t *testing.T) {
	r := newResolver(nil)
	decision := r.Decide(context.Background(), Input{ChainID: 9999, SrcToken: btc, DstToken: usdce})

	assert.Equal(t, types.OutcomeOffline, decision.Outcome)
	assert.Equal(t, 1, decision.Value)
}

func TestResolveCaseInsensitive(t *testing.T) {
	r := newResolver(nil)
	ctx := context.Background()

	upper := "0x" + strings.ToUpper(usdce[2:])
	lower := strings.ToLower(usdce)

	assert.Equal(t,
		r.Resolve(ctx, Input{ChainID: networks.ChainBotanix, SrcToken: btc, DstToken: upper}),
		r.Resolve(ctx, Input{ChainID: networks.ChainBotanix, SrcToken: btc, DstToken: lower}))
	assert.Equal(t, 5, r.Resolve(ctx, Input{ChainID: networks.ChainBotanix, SrcToken: strings.ToLower(btc), DstToken: upper}))
}

func TestBotanixScenarios(t *testing.T) {
	r := newResolver(nil)
	ctx := context.Background()

	// BTC -> USDC.e, 两端高价值
	decision := r.Decide(ctx, Input{
		ChainID:  networks.ChainBotanix,
		SrcToken: btc,
		DstToken: usdce,
		AmountIn: decimal.RequireFromString("1.5"),
	})
	assert.Equal(t, types.OutcomeOffline, decision.Outcome)
	assert.Equal(t, 5, decision.Value)

	// BTC -> 未知代币
	assert.Equal(t, 1, r.Resolve(ctx, Input{ChainID: networks.ChainBotanix, SrcToken: btc, DstToken: meme}))
}

func TestForcedOverrideOnlyOffline(t *testing.T) {
	source := &stubThresholds{}
	r := newResolver(source)
	ctx := context.Background()

	forced := r.Decide(ctx, Input{ChainID: networks.ChainBotanix, SrcToken: btc, DstToken: meme, ForcePartCount: intPtr(3)})
	assert.Equal(t, types.OutcomeForcedOverride, forced.Outcome)
	assert.Equal(t, 3, forced.Value)

	// 在线模式忽略强制值
	online := r.Decide(ctx, Input{ChainID: networks.ChainBotanix, SrcToken: btc, DstToken: meme, ForcePartCount: intPtr(3), Online: true})
	assert.NotEqual(t, types.OutcomeForcedOverride, online.Outcome)
	assert.Equal(t, 1, online.Value)
	assert.Equal(t, 1, source.calls)
}

func TestOnlineThresholdsMet(t *testing.T) {
	source := &stubThresholds{records: []types.ThresholdRecord{
		{TokenAddress: strings.ToLower(btc), ChainID: networks.ChainBotanix, MinimumAmount: decimal.NewFromInt(1000000)},
		{TokenAddress: usdce, ChainID: networks.ChainBotanix, MinimumAmount: decimal.NewFromInt(2000000)},
	}}
	r := newResolver(source)

	decision := r.Decide(context.Background(), Input{
		ChainID:          networks.ChainBotanix,
		SrcToken:         btc,
		DstToken:         meme,
		AmountIn:         decimal.NewFromInt(2000000),
		Online:           true,
		DefaultPartCount: 3,
	})
	// 阈值记录里没有meme，回退
	assert.Equal(t, types.OutcomeOfflineFallback, decision.Outcome)

	decision = r.Decide(context.Background(), Input{
		ChainID:          networks.ChainBotanix,
		SrcToken:         btc,
		DstToken:         strings.ToUpper(usdce[:2]) + usdce[2:],
		AmountIn:         decimal.NewFromInt(2000000),
		Online:           true,
		DefaultPartCount: 3,
	})
	assert.Equal(t, types.OutcomeOnline, decision.Outcome)
	assert.Equal(t, types.OnlinePartCount, decision.Value)
}

func TestOnlineBelowThresholdFallsBack(t *testing.T) {
	source := &stubThresholds{records: []types.ThresholdRecord{
		{TokenAddress: btc, ChainID: networks.ChainBotanix, MinimumAmount: decimal.NewFromInt(1000000)},
		{TokenAddress: usdce, ChainID: networks.ChainBotanix, MinimumAmount: decimal.NewFromInt(5000000)},
	}}
	r := newResolver(source)

	decision := r.Decide(context.Background(), Input{
		ChainID:          networks.ChainBotanix,
		SrcToken:         btc,
		DstToken:         usdce,
		AmountIn:         decimal.NewFromInt(2000000),
		Online:           true,
		DefaultPartCount: 4,
	})
	assert.Equal(t, types.OutcomeOfflineFallback, decision.Outcome)
	assert.Equal(t, 4, decision.Value)
	assert.NotEmpty(t, decision.Reason)
}

func TestOnlineMissingRecordFallsBackToOffline(t *testing.T) {
	source := &stubThresholds{records: []types.ThresholdRecord{
		{TokenAddress: btc, ChainID: networks.ChainBotanix, MinimumAmount: decimal.NewFromInt(1000000)},
	}}
	r := newResolver(source)

	decision := r.Decide(context.Background(), Input{
		ChainID:  networks.ChainBotanix,
		SrcToken: btc,
		DstToken: usdce,
		AmountIn: decimal.NewFromInt(2000000),
		Online:   true,
	})
	assert.Equal(t, types.OutcomeOfflineFallback, decision.Outcome)
	assert.Equal(t, 5, decision.Value)
}

func TestOnlineRecordsFromOtherChainIgnored(t *testing.T) {
	source := &stubThresholds{records: []types.ThresholdRecord{
		{TokenAddress: btc, ChainID: networks.ChainEthereum, MinimumAmount: decimal.Zero},
		{TokenAddress: usdce, ChainID: networks.ChainEthereum, MinimumAmount: decimal.Zero},
	}}
	r := newResolver(source)

	decision := r.Decide(context.Background(), Input{
		ChainID:  networks.ChainBotanix,
		SrcToken: btc,
		DstToken: usdce,
		AmountIn: decimal.NewFromInt(1),
		Online:   true,
	})
	assert.Equal(t, types.OutcomeOfflineFallback, decision.Outcome)
}

func TestOnlineNullThresholdFromServiceFallsBack(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprintf(w, `[{"token":%q},{"token":%q,"minimumAmount":null}]`, btc, meme)
	}))
	defer server.Close()

	client := adapters.NewQuoteClient(&types.QuoterConfig{BaseURL: server.URL, Timeout: time.Second}, quietLogger(), nil)
	cache := thresholds.NewCache(client, time.Minute, nil, quietLogger(), nil)
	r := newResolver(cache)

	decision := r.Decide(context.Background(), Input{
		ChainID:          networks.ChainBotanix,
		SrcToken:         btc,
		DstToken:         meme,
		AmountIn:         decimal.RequireFromString("0.0001"),
		Online:           true,
		DefaultPartCount: 5,
	})
	// 两端都没有有效阈值，按离线规则：meme 不是高价值代币
	assert.Equal(t, types.OutcomeOfflineFallback, decision.Outcome)
	assert.Equal(t, 1, decision.Value)
}

func TestOnlineFetchErrorNeverSurfaces(t *testing.T) {
	source := &stubThresholds{err: types.NewThresholdFetchError(networks.ChainBotanix, errors.New("503"))}
	r := newResolver(source)

	var value int
	require.NotPanics(t, func() {
		value = r.Resolve(context.Background(), Input{
			ChainID:  networks.ChainBotanix,
			SrcToken: btc,
			DstToken: meme,
			AmountIn: decimal.NewFromInt(1),
			Online:   true,
		})
	})
	assert.Equal(t, 1, value)
}

func TestOnlineTimeoutFallsBack(t *testing.T) {
	cache := thresholds.NewCache(slowFetcher{}, time.Minute, nil, quietLogger(), nil)
	r := newResolver(cache)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	decision := r.Decide(ctx, Input{
		ChainID:  networks.ChainBotanix,
		SrcToken: btc,
		DstToken: usdce,
		AmountIn: decimal.NewFromInt(2000000),
		Online:   true,
	})
	assert.Equal(t, types.OutcomeOfflineFallback, decision.Outcome)
	assert.Equal(t, 5, decision.Value)
}

func TestOnlinePanicFallsBack(t *testing.T) {
	r := newResolver(panickingThresholds{})

	decision := r.Decide(context.Background(), Input{
		ChainID:  networks.ChainBotanix,
		SrcToken: btc,
		DstToken: usdce,
		Online:   true,
	})
	assert.Equal(t, types.OutcomeOfflineFallback, decision.Outcome)
	assert.Equal(t, 5, decision.Value)
}

func TestOnlineWithoutSourceFallsBack(t *testing.T) {
	r := newResolver(nil)

	decision := r.Decide(context.Background(), Input{
		ChainID:  networks.ChainBotanix,
		SrcToken: btc,
		DstToken: meme,
		Online:   true,
	})
	assert.Equal(t, types.OutcomeOfflineFallback, decision.Outcome)
	assert.Equal(t, 1, decision.Value)
}
