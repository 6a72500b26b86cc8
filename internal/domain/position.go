package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side 持仓方向
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// IsBuy 开仓方向是否买入
func (s Side) IsBuy() bool { return s == SideLong }

// Opposite 反方向
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// Sign 多头 +1，空头 -1
func (s Side) Sign() decimal.Decimal {
	if s == SideShort {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// Position 本会话开出的仓位
type Position struct {
	ID            string // 会话内唯一（uuid）
	AssetIndex    int
	Symbol        string
	SizeDecimals  int
	Side          Side
	Size          decimal.Decimal // 基础币数量
	Leverage      int
	CollateralUSD decimal.Decimal
	EntryPrice    decimal.Decimal // 下单时的标记价格（近似成交价）
	OpenedAt      time.Time
	OrderID       int64 // 交易所 oid，未知为 0
}

// EntryNotional 开仓名义价值（USD）
func (p *Position) EntryNotional() decimal.Decimal {
	return p.Size.Mul(p.EntryPrice)
}

// ClosedPosition 平仓结果
type ClosedPosition struct {
	Position   Position
	ExitPrice  decimal.Decimal
	ClosedAt   time.Time
	RawPnL     decimal.Decimal // 未扣费
	Fees       decimal.Decimal
	PnLUSD     decimal.Decimal
	PnLPercent decimal.Decimal
}

// PnLResult 盈亏计算结果
type PnLResult struct {
	RawPnL  decimal.Decimal
	Fees    decimal.Decimal
	USD     decimal.Decimal
	Percent decimal.Decimal
}
