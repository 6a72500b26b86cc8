package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/betbot/perpplay/internal/domain"
)

var (
	bpsDivisor = decimal.NewFromInt(10_000)
	hundred    = decimal.NewFromInt(100)
)

// FeeSchedule 手续费口径。平仓结算与实时展示使用同一份。
type FeeSchedule struct {
	TakerBps   decimal.Decimal
	BuilderBps decimal.Decimal
	Deduct     bool // false 时 PnL 不扣手续费
}

// NewFeeSchedule 以 bps 构建
func NewFeeSchedule(takerBps, builderBps float64, deduct bool) FeeSchedule {
	return FeeSchedule{
		TakerBps:   decimal.NewFromFloat(takerBps),
		BuilderBps: decimal.NewFromFloat(builderBps),
		Deduct:     deduct,
	}
}

// Rate 单边费率（小数）
func (f FeeSchedule) Rate() decimal.Decimal {
	return f.TakerBps.Add(f.BuilderBps).Div(bpsDivisor)
}

// PnL 以 currentPrice 结算的盈亏
//
//	raw  = (current - entry) * size * (+1 多 / -1 空)
//	fees = rate * (开仓名义 + 平仓名义)，仅 Deduct 时
//	pct  = usd / collateral * 100
func (f FeeSchedule) PnL(p *domain.Position, currentPrice decimal.Decimal) domain.PnLResult {
	raw := currentPrice.Sub(p.EntryPrice).Mul(p.Size).Mul(p.Side.Sign())

	fees := decimal.Zero
	if f.Deduct {
		exitNotional := p.Size.Mul(currentPrice)
		fees = f.Rate().Mul(p.EntryNotional().Add(exitNotional))
	}
	usd := raw.Sub(fees)

	pct := decimal.Zero
	if p.CollateralUSD.IsPositive() {
		pct = usd.Div(p.CollateralUSD).Mul(hundred)
	}
	return domain.PnLResult{RawPnL: raw, Fees: fees, USD: usd, Percent: pct}
}

// PositionPnL 展示用的持仓 + 实时盈亏
type PositionPnL struct {
	Position   domain.Position
	Price      decimal.Decimal
	PriceKnown bool
	PnL        domain.PnLResult
}
