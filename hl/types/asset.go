package types

import (
	"github.com/shopspring/decimal"
)

// AssetDescriptor 永续合约资产元数据
// Index 是交易所定义的资产线上标识（universe 中的位置），原样保留，不是展示用字段。
type AssetDescriptor struct {
	Index        int
	Name         string
	SizeDecimals int
	MaxLeverage  int
	IsDelisted   bool
}

// MarketContext 资产实时上下文，与 AssetDescriptor 按 Index 一一对应
type MarketContext struct {
	AssetIndex       int
	MarkPrice        decimal.Decimal
	OpenInterestBase decimal.Decimal
}

// OpenInterestUSD 未平仓量（USD）= 基础币数量 * 标记价格
func (c MarketContext) OpenInterestUSD() decimal.Decimal {
	return c.OpenInterestBase.Mul(c.MarkPrice)
}
