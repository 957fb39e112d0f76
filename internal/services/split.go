package services

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// splitAmount 按权重把输入数量分到各个分片
// amountInPerPart[i] = amountIn * distribution[i] / 100
// 权重为整数百分比，除以100只是小数点左移两位，结果精确，不受 DivisionPrecision 限制。
// 最后一个分片取 amountIn 减去已分配部分，权重之和不为100时各分片之和仍等于 amountIn
func splitAmount(amountIn decimal.Decimal, distribution []int) ([]decimal.Decimal, error) {
	if len(distribution) == 0 {
		return []decimal.Decimal{}, nil
	}

	parts := make([]decimal.Decimal, len(distribution))
	allocated := decimal.Zero

	for i, weight := range distribution {
		if weight < 0 {
			return nil, fmt.Errorf("第 %d 个分片权重为负: %d", i, weight)
		}
		if i == len(distribution)-1 {
			parts[i] = amountIn.Sub(allocated)
			break
		}
		part := amountIn.Mul(decimal.NewFromInt(int64(weight))).Shift(-2)
		parts[i] = part
		allocated = allocated.Add(part)
	}

	return parts, nil
}
