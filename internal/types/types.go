// Package types 定义拆分路由服务中使用的所有数据类型
// 包含代币描述、兑换请求、路由片段、拆分结果、阈值记录和服务配置
// 请求和结果都是请求级的值对象，不携带共享可变状态
package types

import (
	"strings"
	"time"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// ========================================
// 核心业务类型定义
// ========================================

// Token 代币描述
// 不可变值对象，地址比较大小写不敏感
type Token struct {
	Address  string `json:"address"`  // 合约地址
	Symbol   string `json:"symbol"`   // 代币符号
	Name     string `json:"name"`     // 代币名称
	Decimals int    `json:"decimals"` // 精度
	ChainID  uint   `json:"chainId"`  // 所在链ID
}

// TokenKey 代币身份键: (小写地址, 链ID)
type TokenKey struct {
	Address string
	ChainID uint
}

// Key 返回代币的身份键
func (t Token) Key() TokenKey {
	return TokenKey{Address: strings.ToLower(t.Address), ChainID: t.ChainID}
}

// SameAddress 判断两个代币地址是否相同（忽略大小写）
func (t Token) SameAddress(other Token) bool {
	return strings.EqualFold(t.Address, other.Address)
}

// SwapRequest 兑换请求
// AmountIn 为十进制字符串，按代币最小单位表示
type SwapRequest struct {
	RequestID       string `json:"requestId,omitempty"`       // 请求ID(可选)
	AmountIn        string `json:"amountIn"`                  // 输入数量
	SrcToken        *Token `json:"srcToken"`                  // 源代币
	DstToken        *Token `json:"dstToken"`                  // 目标代币
	ChainID         uint   `json:"chainId"`                   // 区块链ID
	PartCount       *int   `json:"partCount,omitempty"`       // 显式分片数(跳过决策)
	ForcePartCount  *int   `json:"forcePartCount,omitempty"`  // 强制分片数(仅离线模式生效)
	OnlinePartCount *bool  `json:"onlinePartCount,omitempty"` // 在线分片决策开关，未设置时沿用服务配置
}

// RouteSegment 单跳流动性片段
// FromMarker/ToMarker 是区分"调用方出资"与"路由器出资"的哨兵地址，只是路由元数据
type RouteSegment struct {
	Router                   string       `json:"router"`                   // 路由合约
	Pool                     string       `json:"pool"`                     // 流动性池
	FromToken                string       `json:"fromToken"`                // 输入代币
	ToToken                  string       `json:"toToken"`                  // 输出代币
	FromMarker               string       `json:"fromMarker"`               // 输入方标记
	ToMarker                 string       `json:"toMarker"`                 // 输出方标记
	PartSizeFixedPoint       *uint256.Int `json:"partSizeFixedPoint"`       // 分片比例(定点数)
	AmountAfterFeeFixedPoint *uint256.Int `json:"amountAfterFeeFixedPoint"` // 扣费后比例(定点数)
	SourceType               int          `json:"sourceType"`               // 流动性来源类型
}

// Route 一个分片的完整执行路径
type Route []RouteSegment

// WrapKind 包装/解包标记
type WrapKind string

const (
	WrapNone   WrapKind = ""       // 普通兑换
	WrapWrap   WrapKind = "wrap"   // 原生币 -> 包装币
	WrapUnwrap WrapKind = "unwrap" // 包装币 -> 原生币
)

// SwapResult 拆分兑换结果
// 除非 IsWrap 非空，Routes/Distributions/AmountOutPerRoute/AmountInPerPart 长度一致
type SwapResult struct {
	Routes            []Route           `json:"routes"`               // 每个分片一条路径
	Distributions     []int             `json:"distributions"`        // 分片权重，合计100
	AmountOutPerRoute []decimal.Decimal `json:"amountOutPerRoute"`    // 每个分片的输出估算
	AmountOutTotal    decimal.Decimal   `json:"amountOutTotal"`       // 总输出估算
	AmountInPerPart   []decimal.Decimal `json:"amountInPerPart"`      // 每个分片的输入数量
	IsAmountOutError  bool              `json:"isAmountOutError"`     // 结果不可执行
	IsWrap            WrapKind          `json:"isWrap,omitempty"`     // 包装/解包标记
	PartCount         int               `json:"partCount"`            // 实际使用的分片数
	CacheHit          bool              `json:"cacheHit"`             // 是否命中缓存
	ValidUntil        time.Time         `json:"validUntil,omitempty"` // 报价有效期
}

// PartCountOutcome 分片决策路径
type PartCountOutcome string

const (
	OutcomeOnline          PartCountOutcome = "online"           // 在线阈值判定
	OutcomeOffline         PartCountOutcome = "offline"          // 离线高价值判定
	OutcomeOfflineFallback PartCountOutcome = "offline_fallback" // 在线失败后回退离线
	OutcomeForcedOverride  PartCountOutcome = "forced_override"  // 调用方强制指定
)

// PartCountDecision 带标签的分片决策结果
type PartCountDecision struct {
	Outcome PartCountOutcome `json:"outcome"`          // 决策路径
	Value   int              `json:"value"`            // 分片数
	Reason  string           `json:"reason,omitempty"` // 回退原因
}

// ThresholdRecord 代币拆分阈值
// 低于 MinimumAmount 时不认为拆分有收益
type ThresholdRecord struct {
	TokenAddress  string          `json:"token"`         // 代币地址
	ChainID       uint            `json:"chainId"`       // 链ID
	MinimumAmount decimal.Decimal `json:"minimumAmount"` // 最小拆分数量
}

// QuoteParams 报价服务调用参数
type QuoteParams struct {
	RequestID   string          // 请求ID，用于日志关联
	ChainID     uint            // 链ID
	SrcToken    string          // 源代币地址
	DstToken    string          // 目标代币地址
	AmountIn    decimal.Decimal // 输入数量
	PartCount   int             // 分片数
	SourceTypes []int           // 启用的流动性来源类型
	Sources     []string        // 启用的流动性来源
}

// QuoteResult 报价服务返回的原始拆分方案
type QuoteResult struct {
	Routes            []Route           // 每个分片的路径
	Distributions     []int             // 分片权重
	AmountOutPerRoute []decimal.Decimal // 每个分片的输出
	AmountOutTotal    decimal.Decimal   // 总输出
}

// ========================================
// 批量处理类型
// ========================================

// ItemConfig 批量项级配置覆盖
// 为空的字段沿用服务默认值
type ItemConfig struct {
	OnlinePartCount  *bool `json:"onlinePartCount,omitempty"`  // 覆盖在线模式开关
	DefaultPartCount *int  `json:"defaultPartCount,omitempty"` // 覆盖默认分片数
	ForcePartCount   *int  `json:"forcePartCount,omitempty"`   // 覆盖强制分片数
	SourceTypes      []int `json:"sourceTypes,omitempty"`      // 覆盖流动性来源类型过滤
}

// BatchItem 批量请求项
type BatchItem struct {
	Request *SwapRequest `json:"request"`          // 兑换请求
	Config  *ItemConfig  `json:"config,omitempty"` // 单项配置(可选)
}

// BatchResult 批量结果项，与请求按下标对齐
type BatchResult struct {
	Success bool        `json:"success"`         // 是否成功
	Data    *SwapResult `json:"data,omitempty"`  // 成功时的结果
	Error   string      `json:"error,omitempty"` // 失败时的错误信息
}

// ========================================
// 网络配置类型
// ========================================

// NetworkConfig 单条链的合约地址配置
type NetworkConfig struct {
	ChainID                  uint   `json:"chainId"`                  // 链ID
	Name                     string `json:"name"`                     // 链名称
	AggregatorAddress        string `json:"aggregatorAddress"`        // 聚合合约
	QueryAddress             string `json:"queryAddress"`             // 查询合约
	WrappedTokenAddress      string `json:"wrappedTokenAddress"`      // 包装代币
	NativeTokenMarkerAddress string `json:"nativeTokenMarkerAddress"` // 原生币标记地址
}

// ========================================
// 配置类型
// ========================================

// Config 拆分路由服务配置
type Config struct {
	Server     ServerConfig     `json:"server"`     // 服务器配置
	Quoter     QuoterConfig     `json:"quoter"`     // 报价服务配置
	PartCount  PartCountConfig  `json:"partCount"`  // 分片决策配置
	Thresholds ThresholdConfig  `json:"thresholds"` // 阈值缓存配置
	Batch      BatchConfig      `json:"batch"`      // 批量处理配置
	Cache      CacheConfig      `json:"cache"`      // 报价缓存配置
	Redis      RedisConfig      `json:"redis"`      // Redis配置
	Database   DatabaseConfig   `json:"database"`   // 数据库配置
	RateLimit  RateLimitConfig  `json:"rateLimit"`  // 限流配置
	Monitoring MonitoringConfig `json:"monitoring"` // 监控配置
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port        int    `json:"port"`        // 监听端口
	Environment string `json:"environment"` // 运行环境
	LogLevel    string `json:"log_level"`   // 日志级别
	Debug       bool   `json:"debug"`       // 调试模式
}

// QuoterConfig 外部报价服务配置
type QuoterConfig struct {
	BaseURL      string            `json:"base_url"`      // API基础URL
	APIKey       string            `json:"api_key"`       // API密钥
	Timeout      time.Duration     `json:"timeout"`       // 单次请求超时
	RetryCount   int               `json:"retry_count"`   // 5xx重试次数
	ExtraHeaders map[string]string `json:"extra_headers"` // 额外请求头
	SourceTypes  []int             `json:"source_types"`  // 启用的流动性来源类型
	Sources      []string          `json:"sources"`       // 启用的流动性来源
}

// PartCountConfig 分片决策配置
type PartCountConfig struct {
	Default int  `json:"default"` // 两端都是高价值代币时的分片数
	Force   *int `json:"force"`   // 强制分片数(仅离线模式)
	Online  bool `json:"online"`  // 默认是否启用在线决策
}

// ThresholdConfig 阈值缓存配置
type ThresholdConfig struct {
	TTL time.Duration `json:"ttl"` // 缓存有效期
}

// BatchConfig 批量处理配置
type BatchConfig struct {
	MaxConcurrency int `json:"max_concurrency"` // 最大并发数，0表示不限制
	MaxItems       int `json:"max_items"`       // 单次批量最大条数
}

// CacheConfig 报价缓存配置
type CacheConfig struct {
	QuoteTTL  time.Duration `json:"quote_ttl"`  // 报价结果缓存时间，0表示关闭
	PrefixKey string        `json:"prefix_key"` // 缓存键前缀
	UseRedis  bool          `json:"use_redis"`  // 是否使用Redis
}

// RedisConfig Redis配置
type RedisConfig struct {
	Host     string `json:"host"`      // Redis主机
	Port     int    `json:"port"`      // Redis端口
	Password string `json:"password"`  // Redis密码
	DB       int    `json:"db"`        // 数据库编号
	PoolSize int    `json:"pool_size"` // 连接池大小
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Enabled  bool   `json:"enabled"`   // 是否从数据库加载注册表
	Driver   string `json:"driver"`    // postgres / sqlite
	Host     string `json:"host"`      // 主机
	Port     int    `json:"port"`      // 端口
	User     string `json:"user"`      // 用户名
	Password string `json:"password"`  // 密码
	Name     string `json:"name"`      // 库名
	SSLMode  string `json:"ssl_mode"`  // SSL模式
	Path     string `json:"path"`      // sqlite文件路径
}

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	Enabled  bool          `json:"enabled"`  // 是否启用
	Requests int           `json:"requests"` // 窗口内请求数
	Window   time.Duration `json:"window"`   // 窗口长度
}

// MonitoringConfig 监控配置
type MonitoringConfig struct {
	MetricsEnabled  bool   `json:"metrics_enabled"`   // 是否启用指标
	MetricsPath     string `json:"metrics_path"`      // 指标路径
	HealthCheckPath string `json:"health_check_path"` // 健康检查路径
	SlowRequestMs   int    `json:"slow_request_ms"`   // 慢请求阈值
}

// ========================================
// HTTP响应类型
// ========================================

// APIResponse 统一API响应格式
type APIResponse struct {
	Success   bool        `json:"success"`         // 是否成功
	Data      interface{} `json:"data,omitempty"`  // 响应数据
	Error     *APIError   `json:"error,omitempty"` // 错误信息
	Meta      interface{} `json:"meta,omitempty"`  // 元数据
	Timestamp int64       `json:"timestamp"`       // 时间戳
	RequestID string      `json:"request_id"`      // 请求ID
}

// APIError API错误信息
type APIError struct {
	Code    string                 `json:"code"`              // 错误代码
	Message string                 `json:"message"`           // 错误消息
	Details map[string]interface{} `json:"details,omitempty"` // 详细信息
}

// HealthCheckResponse 健康检查响应
type HealthCheckResponse struct {
	Status    string        `json:"status"`          // 整体状态
	Timestamp time.Time     `json:"timestamp"`       // 检查时间
	Version   string        `json:"version"`         // 服务版本
	Uptime    time.Duration `json:"uptime"`          // 运行时间
	Quoter    string        `json:"quoter"`          // 报价服务状态
	Cache     string        `json:"cache"`           // 缓存状态
	Error     string        `json:"error,omitempty"` // 错误信息
}

// ========================================
// 常量定义
// ========================================

const (
	// DefaultPartCount 高价值交易对的默认分片数
	DefaultPartCount = 5
	// OnlinePartCount 满足在线阈值时固定使用的分片数
	OnlinePartCount = 5
	// DistributionTotal 分片权重总和
	DistributionTotal = 100
	// DefaultThresholdTTL 阈值缓存有效期
	DefaultThresholdTTL = 5 * time.Minute
)

// 请求头
const (
	HeaderRequestID = "X-Request-ID"
)

// 健康状态
const (
	StatusHealthy   = "healthy"   // 健康状态
	StatusUnhealthy = "unhealthy" // 不健康状态
	StatusDegraded  = "degraded"  // 降级状态
)

// 缓存键前缀
const (
	CacheKeyRoute = "route:" // 报价结果缓存前缀
)
