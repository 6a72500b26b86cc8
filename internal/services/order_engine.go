package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/perpplay/hl/signing"
	"github.com/betbot/perpplay/hl/types"
	"github.com/betbot/perpplay/internal/domain"
	"github.com/betbot/perpplay/internal/execution"
	"github.com/betbot/perpplay/internal/ledger"
	"github.com/betbot/perpplay/internal/marketdata"
	"github.com/betbot/perpplay/internal/metrics"
)

// 动作类型（指标标签）
const (
	kindOpen           = "open"
	kindClose          = "close"
	kindUpdateLeverage = "update_leverage"
)

// Exchange 提交已签名动作（hl/client.Client 实现）
type Exchange interface {
	PostAction(ctx context.Context, action signing.Action, nonce uint64, sig types.Signature) (*types.ExchangeResponse, error)
}

// MarketRefresher 平仓前刷新行情（marketdata.Service 实现）
type MarketRefresher interface {
	Refresh(ctx context.Context) (*marketdata.Snapshot, error)
}

// BalanceChecker 开仓前余额检查（AccountService 实现）
type BalanceChecker interface {
	Balance(ctx context.Context, user common.Address) (*Balance, error)
}

// OrderEngineConfig 下单参数
type OrderEngineConfig struct {
	LeverageCap    int
	SlippageBps    int
	CrossMargin    bool
	UpdateLeverage bool // 开仓前先设置杠杆
	CheckBalance   bool
	RequestTimeout time.Duration
	Builder        *signing.BuilderInfo // nil 表示不带 builder 费
	Fees           ledger.FeeSchedule
}

// OrderEngine 开/平仓。同一时刻最多一笔交易在途，同一仓位最多一个平仓在途。
// 签名后的载荷只提交一次，失败不重发。
type OrderEngine struct {
	exchange Exchange
	market   MarketRefresher
	balances BalanceChecker
	cfg      OrderEngineConfig
	nonces   *signing.NonceGenerator
	gate     execution.TradeGate
	closing  *execution.KeyedInFlight
	log      *logrus.Entry
	now      func() time.Time
}

// NewOrderEngine 创建下单引擎；balances 可以为 nil（不做余额检查）
func NewOrderEngine(exchange Exchange, market MarketRefresher, balances BalanceChecker, cfg OrderEngineConfig, log *logrus.Entry) *OrderEngine {
	if cfg.LeverageCap < 1 {
		cfg.LeverageCap = 1
	}
	if log == nil {
		log = logrus.WithField("component", "order_engine")
	}
	return &OrderEngine{
		exchange: exchange,
		market:   market,
		balances: balances,
		cfg:      cfg,
		nonces:   signing.NewNonceGenerator(),
		closing:  execution.NewKeyedInFlight(16),
		log:      log,
		now:      time.Now,
	}
}

// Busy 是否有交易在途
func (e *OrderEngine) Busy() bool { return e.gate.Busy() }

// Fees 平仓结算使用的手续费口径
func (e *OrderEngine) Fees() ledger.FeeSchedule { return e.cfg.Fees }

func (e *OrderEngine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.RequestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.cfg.RequestTimeout)
}

// Leverage 实际使用的杠杆 = min(资产上限, 配置上限)
func (e *OrderEngine) Leverage(asset types.AssetDescriptor) int {
	lev := asset.MaxLeverage
	if lev <= 0 {
		lev = marketdata.DefaultMaxLeverage
	}
	if lev > e.cfg.LeverageCap {
		lev = e.cfg.LeverageCap
	}
	return lev
}

// Open 以 IOC 市价单开仓（限价 = 标记价 ± 滑点）。
// 已有交易在途时立即返回 ErrTradeInFlight，不发任何请求。
func (e *OrderEngine) Open(ctx context.Context, session *domain.Session, cand marketdata.Candidate, collateralUSD decimal.Decimal, side domain.Side) (*domain.Position, error) {
	if err := e.gate.TryEnter(kindOpen + " " + cand.Symbol()); err != nil {
		return nil, err
	}
	defer e.gate.Leave()

	if !session.Active() {
		return nil, domain.ErrSessionInactive
	}
	if !collateralUSD.IsPositive() {
		return nil, fmt.Errorf("%w: collateral must be positive", domain.ErrInsufficientCollateral)
	}
	mark := cand.MarkPrice()
	if !mark.IsPositive() {
		return nil, fmt.Errorf("no mark price for %s", cand.Symbol())
	}

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	if e.cfg.CheckBalance && e.balances != nil {
		bal, err := e.balances.Balance(ctx, session.UserAddress)
		if err != nil {
			return nil, err
		}
		if bal.Available.LessThan(collateralUSD) {
			return nil, fmt.Errorf("%w: available %s < %s", domain.ErrInsufficientCollateral,
				bal.Available.StringFixed(2), collateralUSD.StringFixed(2))
		}
	}

	leverage := e.Leverage(cand.Asset)
	size := ComputeSize(collateralUSD, leverage, mark, cand.Asset.SizeDecimals)
	if !size.IsPositive() {
		return nil, fmt.Errorf("%w: size rounds to zero for %s", domain.ErrInsufficientCollateral, cand.Symbol())
	}

	if e.cfg.UpdateLeverage {
		if err := e.updateLeverage(ctx, session, cand.Asset.Index, leverage); err != nil {
			if errors.Is(err, domain.ErrAgentUnauthorized) {
				return nil, err
			}
			e.log.Warnf("⚠️ [开仓] 设置杠杆失败 %s %dx: %v", cand.Symbol(), leverage, err)
		}
	}

	limit := SlippagePrice(mark, side.IsBuy(), e.cfg.SlippageBps)
	action := e.orderAction(signing.OrderWire{
		Asset:      cand.Asset.Index,
		IsBuy:      side.IsBuy(),
		LimitPx:    FormatPrice(limit, cand.Asset.SizeDecimals),
		Size:       FormatSize(size, cand.Asset.SizeDecimals),
		ReduceOnly: false,
		Tif:        types.TifIoc,
	}, session)

	resp, err := e.submit(ctx, session, kindOpen, action)
	if err != nil {
		return nil, err
	}
	st, err := interpretOrderResponse(resp)
	if err != nil {
		e.observeRejection(kindOpen, err)
		return nil, err
	}
	metrics.OrdersTotal.WithLabelValues(kindOpen, "ok").Inc()

	pos := &domain.Position{
		ID:            uuid.NewString(),
		AssetIndex:    cand.Asset.Index,
		Symbol:        cand.Symbol(),
		SizeDecimals:  cand.Asset.SizeDecimals,
		Side:          side,
		Size:          size,
		Leverage:      leverage,
		CollateralUSD: collateralUSD,
		EntryPrice:    mark,
		OpenedAt:      e.now(),
		OrderID:       orderID(st),
	}
	e.log.Infof("✅ [开仓] %s %s size=%s lev=%dx entry=%s oid=%d",
		pos.Side, pos.Symbol, pos.Size, pos.Leverage, pos.EntryPrice, pos.OrderID)
	return pos, nil
}

// Close 以 reduce-only IOC 单平仓，退出价取刷新后的标记价。
// 调用方在成功后才把仓位从账本中移除。
func (e *OrderEngine) Close(ctx context.Context, session *domain.Session, pos *domain.Position) (*domain.ClosedPosition, error) {
	if pos == nil {
		return nil, domain.ErrPositionNotFound
	}
	if err := e.closing.TryAcquire(pos.ID); err != nil {
		return nil, err
	}
	defer e.closing.Release(pos.ID)
	if err := e.gate.TryEnter(kindClose + " " + pos.Symbol); err != nil {
		return nil, err
	}
	defer e.gate.Leave()

	if !session.Active() {
		return nil, domain.ErrSessionInactive
	}

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	snap, err := e.market.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	exit, ok := snap.MarkPrice(pos.Symbol)
	if !ok {
		return nil, fmt.Errorf("no mark price for %s", pos.Symbol)
	}

	closeSide := pos.Side.Opposite()
	limit := SlippagePrice(exit, closeSide.IsBuy(), e.cfg.SlippageBps)
	action := e.orderAction(signing.OrderWire{
		Asset:      pos.AssetIndex,
		IsBuy:      closeSide.IsBuy(),
		LimitPx:    FormatPrice(limit, pos.SizeDecimals),
		Size:       FormatSize(pos.Size, pos.SizeDecimals),
		ReduceOnly: true,
		Tif:        types.TifIoc,
	}, session)

	resp, err := e.submit(ctx, session, kindClose, action)
	if err != nil {
		return nil, err
	}
	if _, err := interpretOrderResponse(resp); err != nil {
		e.observeRejection(kindClose, err)
		return nil, err
	}
	metrics.OrdersTotal.WithLabelValues(kindClose, "ok").Inc()

	pnl := e.cfg.Fees.PnL(pos, exit)
	closed := &domain.ClosedPosition{
		Position:   *pos,
		ExitPrice:  exit,
		ClosedAt:   e.now(),
		RawPnL:     pnl.RawPnL,
		Fees:       pnl.Fees,
		PnLUSD:     pnl.USD,
		PnLPercent: pnl.Percent,
	}
	e.log.Infof("✅ [平仓] %s %s exit=%s pnl=%s (%s%%)",
		pos.Side, pos.Symbol, exit, pnl.USD.StringFixed(4), pnl.Percent.StringFixed(2))
	return closed, nil
}

func (e *OrderEngine) orderAction(order signing.OrderWire, session *domain.Session) signing.OrderAction {
	action := signing.OrderAction{
		Orders:   []signing.OrderWire{order},
		Grouping: signing.GroupingNA,
	}
	// 未授权 builder 费时带上 builder 会被整单拒绝
	if e.cfg.Builder != nil && session.FeeApproved {
		b := *e.cfg.Builder
		action.Builder = &b
	}
	return action
}

func (e *OrderEngine) updateLeverage(ctx context.Context, session *domain.Session, asset, leverage int) error {
	action := signing.UpdateLeverageAction{Asset: asset, IsCross: e.cfg.CrossMargin, Leverage: leverage}
	resp, err := e.submit(ctx, session, kindUpdateLeverage, action)
	if err != nil {
		return err
	}
	if err := interpretActionResponse(resp); err != nil {
		e.observeRejection(kindUpdateLeverage, err)
		return err
	}
	metrics.OrdersTotal.WithLabelValues(kindUpdateLeverage, "ok").Inc()
	return nil
}

// submit 取新 nonce、签名、提交一次
func (e *OrderEngine) submit(ctx context.Context, session *domain.Session, kind string, action signing.Action) (*types.ExchangeResponse, error) {
	nonce := e.nonces.Next()
	sig, err := session.SignAction(action, nonce)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := e.exchange.PostAction(ctx, action, nonce, sig)
	elapsed := time.Since(start)
	if err != nil {
		metrics.ObserveAction(kind, "error", elapsed)
		e.log.WithField("action", kind).Errorf("❌ 提交失败: %v", err)
		return nil, err
	}
	// 结果（ok / rejected）由调用方解析响应后记录
	metrics.ExchangeLatency.WithLabelValues(kind).Observe(elapsed.Seconds())
	return resp, nil
}

func (e *OrderEngine) observeRejection(kind string, err error) {
	result := "rejected"
	if errors.Is(err, domain.ErrAgentUnauthorized) {
		result = "unauthorized"
	}
	metrics.OrdersTotal.WithLabelValues(kind, result).Inc()
	e.log.WithField("action", kind).Warnf("⚠️ 交易所拒绝: %v", err)
}
