package services

import (
	"github.com/shopspring/decimal"
)

const (
	// MaxSignificantFigures 限价最多 5 位有效数字（整数价格不受此限制）
	MaxSignificantFigures = 5
	// perpMaxPriceDecimals 永续价格小数位上限为 6 - szDecimals
	perpMaxPriceDecimals = 6
)

var bps = decimal.NewFromInt(10_000)

// FormatPrice 限价字符串：5 位有效数字，小数位不超过 6-szDecimals，去掉尾随 0
func FormatPrice(px decimal.Decimal, szDecimals int) string {
	if !px.IsPositive() {
		return "0"
	}
	maxDecimals := int32(perpMaxPriceDecimals - szDecimals)
	if maxDecimals < 0 {
		maxDecimals = 0
	}

	// 整数部分位数（<1 时为 0 或负数，表示小数点后前导 0 的个数）
	intDigits := int32(len(px.Coefficient().String())) + px.Exponent()
	places := int32(MaxSignificantFigures) - intDigits
	if places < 0 {
		places = 0
	}
	if places > maxDecimals {
		places = maxDecimals
	}
	return px.Round(places).String()
}

// ComputeSize 下单数量 = 保证金 * 杠杆 / 标记价格，四舍五入（远离 0）到 szDecimals
func ComputeSize(collateralUSD decimal.Decimal, leverage int, markPrice decimal.Decimal, szDecimals int) decimal.Decimal {
	if !markPrice.IsPositive() || leverage <= 0 {
		return decimal.Zero
	}
	notional := collateralUSD.Mul(decimal.NewFromInt(int64(leverage)))
	return notional.Div(markPrice).Round(int32(szDecimals))
}

// FormatSize 数量字符串
func FormatSize(size decimal.Decimal, szDecimals int) string {
	return size.Round(int32(szDecimals)).String()
}

// SlippagePrice IOC 限价：买入上浮、卖出下浮 slippageBps
func SlippagePrice(mark decimal.Decimal, isBuy bool, slippageBps int) decimal.Decimal {
	s := decimal.NewFromInt(int64(slippageBps)).Div(bps)
	if isBuy {
		return mark.Mul(decimal.NewFromInt(1).Add(s))
	}
	return mark.Mul(decimal.NewFromInt(1).Sub(s))
}
