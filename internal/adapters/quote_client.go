package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"defi-aggregator/split-router/internal/metrics"
	"defi-aggregator/split-router/internal/types"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// 报价服务接口路径
const (
	quotePath     = "/v1/quote"
	thresholdPath = "/v1/thresholds"
	healthPath    = "/health"
)

// QuoteClient 报价服务客户端
// 负责拆分报价和拆分阈值两个接口
type QuoteClient struct {
	*BaseAdapter // 嵌入基础适配器
}

// NewQuoteClient 创建报价服务客户端
func NewQuoteClient(config *types.QuoterConfig, logger *logrus.Logger, m *metrics.Metrics) *QuoteClient {
	return &QuoteClient{
		BaseAdapter: NewBaseAdapter("quoter", config, logger, m),
	}
}

// ========================================
// 报价服务请求/响应结构定义
// ========================================

// quoteRequestBody 报价请求体
type quoteRequestBody struct {
	ChainID     uint     `json:"chainId"`
	SrcToken    string   `json:"srcToken"`
	DstToken    string   `json:"dstToken"`
	AmountIn    string   `json:"amountIn"`
	PartCount   int      `json:"partCount"`
	SourceTypes []int    `json:"sourceTypes"`
	Sources     []string `json:"sources"`
}

// quoteResponseBody 报价响应体
// 金额字段为十进制字符串，定点数字段由 uint256 解析
type quoteResponseBody struct {
	Routes            []types.Route     `json:"routes"`
	Distribution      []int             `json:"distribution"`
	AmountOutPerRoute []decimal.Decimal `json:"amountOutPerRoute"`
	AmountOutTotal    *decimal.Decimal  `json:"amountOutTotal"`
}

// thresholdItem 阈值接口返回项
// minimumAmount 缺失或为 null 时保持 nil，不能当作零阈值
type thresholdItem struct {
	Token         string           `json:"token"`
	MinimumAmount *decimal.Decimal `json:"minimumAmount"`
}

// ========================================
// 核心接口实现
// ========================================

// GetRoutes 获取拆分报价
// 报价调用不自动重试，失败直接交给调用方
// 所有失败（网络、超时、非2xx、格式错误）统一返回 ServiceFetchError
func (c *QuoteClient) GetRoutes(ctx context.Context, params *types.QuoteParams) (*types.QuoteResult, error) {
	startTime := time.Now()

	sourceTypes := params.SourceTypes
	if sourceTypes == nil {
		sourceTypes = []int{}
	}
	sources := params.Sources
	if sources == nil {
		sources = []string{}
	}

	payload, err := json.Marshal(quoteRequestBody{
		ChainID:     params.ChainID,
		SrcToken:    params.SrcToken,
		DstToken:    params.DstToken,
		AmountIn:    params.AmountIn.String(),
		PartCount:   params.PartCount,
		SourceTypes: sourceTypes,
		Sources:     sources,
	})
	if err != nil {
		return nil, types.NewServiceFetchError("报价请求序列化失败", err)
	}

	responseBody, err := c.makeHTTPRequest(ctx, "quote", http.MethodPost, c.endpoint(quotePath), payload, 0)
	if err != nil {
		c.logger.Warnf("[%s] ❌ 报价服务调用失败: chain=%d, parts=%d, err=%v",
			params.RequestID, params.ChainID, params.PartCount, err)
		return nil, types.NewServiceFetchError("报价服务调用失败", err)
	}

	var resp quoteResponseBody
	if err := c.parseJSONResponse(responseBody, &resp); err != nil {
		return nil, types.NewServiceFetchError("报价响应解析失败", err)
	}

	result, err := convertQuoteResponse(&resp)
	if err != nil {
		return nil, types.NewServiceFetchError("报价响应格式错误", err)
	}

	c.logger.Debugf("[%s] 报价获取成功: routes=%d, amountOut=%s, duration=%v",
		params.RequestID, len(result.Routes), result.AmountOutTotal.String(), time.Since(startTime))

	return result, nil
}

// GetThresholds 拉取指定链的拆分阈值
// 返回的记录统一带上链ID，地址保持服务端原样，由调用方做大小写无关比较
func (c *QuoteClient) GetThresholds(ctx context.Context, chainID uint) ([]types.ThresholdRecord, error) {
	query := url.Values{}
	query.Set("chainId", strconv.FormatUint(uint64(chainID), 10))
	apiURL := c.endpoint(thresholdPath) + "?" + query.Encode()

	responseBody, err := c.makeHTTPRequest(ctx, "thresholds", http.MethodGet, apiURL, nil, c.config.RetryCount)
	if err != nil {
		return nil, types.NewThresholdFetchError(chainID, err)
	}

	var items []thresholdItem
	if err := c.parseJSONResponse(responseBody, &items); err != nil {
		return nil, types.NewThresholdFetchError(chainID, err)
	}

	records := make([]types.ThresholdRecord, 0, len(items))
	for _, item := range items {
		if item.Token == "" {
			continue
		}
		// 无效阈值整条丢弃，该代币视为没有阈值，决策回落到离线规则
		if item.MinimumAmount == nil || item.MinimumAmount.IsNegative() {
			c.logger.Warnf("⚠️ 跳过无效阈值记录: chain=%d, token=%s, minimumAmount=%v",
				chainID, item.Token, item.MinimumAmount)
			continue
		}
		records = append(records, types.ThresholdRecord{
			TokenAddress:  item.Token,
			ChainID:       chainID,
			MinimumAmount: *item.MinimumAmount,
		})
	}

	c.logger.Debugf("拉取链 %d 拆分阈值成功: %d 条", chainID, len(records))
	return records, nil
}

// HealthCheck 报价服务健康检查
func (c *QuoteClient) HealthCheck(ctx context.Context) error {
	if _, err := c.makeHTTPRequest(ctx, "health", http.MethodGet, c.endpoint(healthPath), nil, 0); err != nil {
		return fmt.Errorf("报价服务健康检查失败: %w", err)
	}
	c.logger.Debugf("[%s] 健康检查通过", c.name)
	return nil
}

// ========================================
// 辅助方法
// ========================================

func (c *QuoteClient) endpoint(path string) string {
	return strings.TrimRight(c.config.BaseURL, "/") + path
}

// convertQuoteResponse 转换为标准格式
// 只检查结构完整性，结果质量（空路径、总输出为0）由服务层标记
func convertQuoteResponse(resp *quoteResponseBody) (*types.QuoteResult, error) {
	n := len(resp.Routes)
	if len(resp.Distribution) != n {
		return nil, fmt.Errorf("distribution长度 %d 与routes长度 %d 不一致", len(resp.Distribution), n)
	}
	if len(resp.AmountOutPerRoute) != n {
		return nil, fmt.Errorf("amountOutPerRoute长度 %d 与routes长度 %d 不一致", len(resp.AmountOutPerRoute), n)
	}
	if resp.AmountOutTotal == nil {
		return nil, fmt.Errorf("缺少amountOutTotal")
	}

	sum := 0
	for i, weight := range resp.Distribution {
		if weight < 0 {
			return nil, fmt.Errorf("第 %d 个分片权重为负: %d", i, weight)
		}
		sum += weight
	}
	if n > 0 && sum != types.DistributionTotal {
		return nil, fmt.Errorf("分片权重合计为 %d，应为 %d", sum, types.DistributionTotal)
	}

	routes := resp.Routes
	if routes == nil {
		routes = []types.Route{}
	}

	return &types.QuoteResult{
		Routes:            routes,
		Distributions:     resp.Distribution,
		AmountOutPerRoute: resp.AmountOutPerRoute,
		AmountOutTotal:    *resp.AmountOutTotal,
	}, nil
}
