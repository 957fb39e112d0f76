package networks

import (
	"sync"
)

// 内置高价值代币
var defaultHighValueTokens = map[uint][]string{
	ChainBotanix: {
		NativeTokenMarker, // BTC
		"0x0D2437F93Fed6EA64Ef01cCde385FB1263910C56", // WBTC
		"0x29eE6138DD4C9815f46D34a4A1ed48F46758A402", // USDC.e
		"0x3A9d1F2b0C8e7D6a5B4c3E2f1A0b9C8d7E6f5A43", // USDT
	},
	ChainEthereum: {
		NativeTokenMarker, // ETH
		"0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", // WETH
		"0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", // USDC
		"0xdAC17F958D2ee523a2206206994597C13D831ec7", // USDT
		"0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599", // WBTC
		"0x6B175474E89094C44Da98b954EedeAC495271d0F", // DAI
	},
	ChainArbitrum: {
		NativeTokenMarker, // ETH
		"0x82aF49447D8a07e3bd95BD0d56f35241523fBab1", // WETH
		"0xaf88d065e77c8cC2239327C5EDb3A432268e5831", // USDC
		"0xFd086bC7CD5C481DCC9C85ebE478A1C0b69FCbb9", // USDT
		"0x2f2a2543B76A4166549F7aaB2e75Bef0aefC5B0f", // WBTC
	},
}

// HighValueRegistry 高价值代币注册表
// 链ID -> 小写地址集合；请求期间只读，宿主程序可通过 Register 显式扩展
type HighValueRegistry struct {
	mutex  sync.RWMutex
	tokens map[uint]map[string]struct{}
}

// NewHighValueRegistry 创建空注册表
func NewHighValueRegistry() *HighValueRegistry {
	return &HighValueRegistry{tokens: make(map[uint]map[string]struct{})}
}

// DefaultHighValueRegistry 返回包含内置高价值代币的注册表
func DefaultHighValueRegistry() *HighValueRegistry {
	r := NewHighValueRegistry()
	for chainID, addresses := range defaultHighValueTokens {
		r.Register(chainID, addresses...)
	}
	return r
}

// Register 把地址加入指定链的高价值集合
func (r *HighValueRegistry) Register(chainID uint, addresses ...string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	set, ok := r.tokens[chainID]
	if !ok {
		set = make(map[string]struct{}, len(addresses))
		r.tokens[chainID] = set
	}
	for _, address := range addresses {
		set[NormalizeAddress(address)] = struct{}{}
	}
}

// IsHighValue 判断代币是否属于高价值集合
// 未登记的链上所有代币都视为低价值
func (r *HighValueRegistry) IsHighValue(chainID uint, address string) bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	set, ok := r.tokens[chainID]
	if !ok {
		return false
	}
	_, found := set[NormalizeAddress(address)]
	return found
}

// HasChain 判断注册表是否有该链的条目
func (r *HighValueRegistry) HasChain(chainID uint) bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	_, ok := r.tokens[chainID]
	return ok
}

// Chains 返回已登记的链ID
func (r *HighValueRegistry) Chains() []uint {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	chains := make([]uint, 0, len(r.tokens))
	for chainID := range r.tokens {
		chains = append(chains, chainID)
	}
	return chains
}
