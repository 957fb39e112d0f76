// Package networks 网络合约地址表和高价值代币注册表
// 静态配置数据：链ID -> 聚合合约、查询合约、包装代币、原生币标记地址
// 宿主程序可以在启动阶段从数据库补充或覆盖条目
package networks

import (
	"sort"
	"sync"

	"defi-aggregator/split-router/internal/types"
)

// NativeTokenMarker EVM链通用的原生币标记地址
const NativeTokenMarker = "0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE"

// 已支持的链ID
const (
	ChainEthereum uint = 1
	ChainArbitrum uint = 42161
	ChainBotanix  uint = 3637
)

// defaultNetworks 内置网络配置
var defaultNetworks = []types.NetworkConfig{
	{
		ChainID:                  ChainBotanix,
		Name:                     "Botanix",
		AggregatorAddress:        "0x7Ba7A2C5f4e1D6dE0f3B4c1a9E8d2F6b5C3a1D90",
		QueryAddress:             "0x4E2f8a1B9c7D3e5F6a0B2c4D8e1F3a5B7c9D0e12",
		WrappedTokenAddress:      "0x0D2437F93Fed6EA64Ef01cCde385FB1263910C56",
		NativeTokenMarkerAddress: NativeTokenMarker,
	},
	{
		ChainID:                  ChainEthereum,
		Name:                     "Ethereum",
		AggregatorAddress:        "0x1aE5c7B3d9F2e4A6b8C0d2E4f6A8b0C2d4E6f8A0",
		QueryAddress:             "0x9C3b5D7e1F3a5B7c9D1e3F5a7B9c1D3e5F7a9B1c",
		WrappedTokenAddress:      "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2",
		NativeTokenMarkerAddress: NativeTokenMarker,
	},
	{
		ChainID:                  ChainArbitrum,
		Name:                     "Arbitrum One",
		AggregatorAddress:        "0x5F7a9B1c3D5e7F9a1B3c5D7e9F1a3B5c7D9e1F3a",
		QueryAddress:             "0x2B4d6F8a0C2e4A6c8E0a2C4e6A8c0E2a4C6e8A0c",
		WrappedTokenAddress:      "0x82aF49447D8a07e3bd95BD0d56f35241523fBab1",
		NativeTokenMarkerAddress: NativeTokenMarker,
	},
}

// Table 网络合约地址表
// 读多写少，写入只发生在启动加载阶段
type Table struct {
	mutex    sync.RWMutex
	networks map[uint]types.NetworkConfig
}

// NewTable 用给定配置创建地址表
func NewTable(configs ...types.NetworkConfig) *Table {
	t := &Table{networks: make(map[uint]types.NetworkConfig, len(configs))}
	for _, cfg := range configs {
		t.Upsert(cfg)
	}
	return t
}

// DefaultTable 返回包含内置网络的地址表
func DefaultTable() *Table {
	return NewTable(defaultNetworks...)
}

// Upsert 新增或覆盖一条网络配置
func (t *Table) Upsert(cfg types.NetworkConfig) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.networks[cfg.ChainID] = cfg
}

// Lookup 查询链配置
func (t *Table) Lookup(chainID uint) (types.NetworkConfig, bool) {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	cfg, ok := t.networks[chainID]
	return cfg, ok
}

// All 按链ID升序返回全部网络配置
func (t *Table) All() []types.NetworkConfig {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	configs := make([]types.NetworkConfig, 0, len(t.networks))
	for _, cfg := range t.networks {
		configs = append(configs, cfg)
	}
	sort.Slice(configs, func(i, j int) bool { return configs[i].ChainID < configs[j].ChainID })
	return configs
}

// DetectWrap 判断交易对是否为原生币与包装币之间的1:1转换
func DetectWrap(cfg types.NetworkConfig, srcAddress, dstAddress string) types.WrapKind {
	src := NormalizeAddress(srcAddress)
	dst := NormalizeAddress(dstAddress)
	native := NormalizeAddress(cfg.NativeTokenMarkerAddress)
	wrapped := NormalizeAddress(cfg.WrappedTokenAddress)

	switch {
	case src == native && dst == wrapped:
		return types.WrapWrap
	case src == wrapped && dst == native:
		return types.WrapUnwrap
	default:
		return types.WrapNone
	}
}
