package networks

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// IsValidAddress 检查是否为合法的20字节十六进制地址
func IsValidAddress(address string) bool {
	if !strings.HasPrefix(address, "0x") && !strings.HasPrefix(address, "0X") {
		return false
	}
	return common.IsHexAddress(address)
}

// NormalizeAddress 统一地址格式为小写0x前缀
// 非法地址原样转小写返回，调用方需先用 IsValidAddress 校验
func NormalizeAddress(address string) string {
	if !common.IsHexAddress(address) {
		return strings.ToLower(strings.TrimSpace(address))
	}
	return strings.ToLower(common.HexToAddress(address).Hex())
}

// ChecksumAddress 返回EIP-55校验格式地址，用于日志和对外展示
func ChecksumAddress(address string) string {
	if !common.IsHexAddress(address) {
		return address
	}
	return common.HexToAddress(address).Hex()
}
