package services

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/perpplay/internal/domain"
	"github.com/betbot/perpplay/internal/events"
	"github.com/betbot/perpplay/internal/ledger"
	"github.com/betbot/perpplay/internal/marketdata"
)

// SessionProvider 当前会话（credential.Manager 实现）
type SessionProvider interface {
	Session() *domain.Session
}

// Market 行情服务（marketdata.Service 实现）
type Market interface {
	MarketRefresher
	TopCandidates(ctx context.Context, maxAge time.Duration, minOpenInterestUSD decimal.Decimal, maxCount int) ([]marketdata.Candidate, error)
}

// TradeConfig 单局参数
type TradeConfig struct {
	CollateralUSD      decimal.Decimal
	HoldDuration       time.Duration
	LongProbability    float64
	MinOpenInterestUSD decimal.Decimal
	TopCount           int
	MarketMaxAge       time.Duration
}

// TradeService 把选标的、开仓、倒计时、平仓串起来，并维护账本
type TradeService struct {
	engine   *OrderEngine
	market   Market
	accounts *AccountService
	ledger   *ledger.Ledger
	sessions SessionProvider
	reporter events.Reporter
	live     ledger.PriceSource // 可选：实时 mid
	cfg      TradeConfig
	log      *logrus.Entry

	rndMu sync.Mutex
	rnd   *rand.Rand
}

// TradeServiceDeps 依赖项
type TradeServiceDeps struct {
	Engine   *OrderEngine
	Market   Market
	Accounts *AccountService // 可选
	Ledger   *ledger.Ledger
	Sessions SessionProvider
	Reporter events.Reporter
	Live     ledger.PriceSource
	Rand     *rand.Rand
	Logger   *logrus.Entry
}

// NewTradeService 创建交易服务
func NewTradeService(deps TradeServiceDeps, cfg TradeConfig) *TradeService {
	if deps.Rand == nil {
		deps.Rand = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), rand.Uint64()))
	}
	if deps.Logger == nil {
		deps.Logger = logrus.WithField("component", "trading")
	}
	if cfg.TopCount <= 0 {
		cfg.TopCount = 50
	}
	return &TradeService{
		engine:   deps.Engine,
		market:   deps.Market,
		accounts: deps.Accounts,
		ledger:   deps.Ledger,
		sessions: deps.Sessions,
		reporter: events.OrNop(deps.Reporter),
		live:     deps.Live,
		cfg:      cfg,
		log:      deps.Logger,
		rnd:      deps.Rand,
	}
}

// Ledger 账本
func (t *TradeService) Ledger() *ledger.Ledger { return t.ledger }

func (t *TradeService) activeSession() (*domain.Session, error) {
	s := t.sessions.Session()
	if !s.Active() {
		return nil, domain.ErrSessionInactive
	}
	return s, nil
}

func (t *TradeService) pick(cands []marketdata.Candidate) (marketdata.Candidate, domain.Side, bool) {
	t.rndMu.Lock()
	defer t.rndMu.Unlock()
	c, ok := marketdata.PickRandom(cands, t.rnd)
	side := domain.SideShort
	if t.rnd.Float64() < t.cfg.LongProbability {
		side = domain.SideLong
	}
	return c, side, ok
}

// OpenRandom 从高持仓量标的中随机选一个开仓；collateral 为 0 时用配置值
func (t *TradeService) OpenRandom(ctx context.Context, collateral decimal.Decimal) (*domain.Position, error) {
	if t.engine.Busy() {
		return nil, domain.ErrTradeInFlight
	}
	session, err := t.activeSession()
	if err != nil {
		return nil, err
	}
	if collateral.IsZero() {
		collateral = t.cfg.CollateralUSD
	}

	cands, err := t.market.TopCandidates(ctx, t.cfg.MarketMaxAge, t.cfg.MinOpenInterestUSD, t.cfg.TopCount)
	if err != nil {
		return nil, err
	}
	cand, side, ok := t.pick(cands)
	if !ok {
		return nil, domain.ErrNoCandidates
	}
	return t.Open(ctx, session, cand, collateral, side)
}

// OpenSymbol 指定标的开仓
func (t *TradeService) OpenSymbol(ctx context.Context, symbol string, side domain.Side, collateral decimal.Decimal) (*domain.Position, error) {
	if t.engine.Busy() {
		return nil, domain.ErrTradeInFlight
	}
	session, err := t.activeSession()
	if err != nil {
		return nil, err
	}
	if collateral.IsZero() {
		collateral = t.cfg.CollateralUSD
	}
	snap, err := t.market.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	cand, ok := snap.Candidate(symbol)
	if !ok || cand.Asset.IsDelisted {
		return nil, domain.ErrNoCandidates
	}
	return t.Open(ctx, session, cand, collateral, side)
}

// Open 开仓并记入账本
func (t *TradeService) Open(ctx context.Context, session *domain.Session, cand marketdata.Candidate, collateral decimal.Decimal, side domain.Side) (*domain.Position, error) {
	pos, err := t.engine.Open(ctx, session, cand, collateral, side)
	if err != nil {
		return nil, err
	}
	if err := t.ledger.Add(pos); err != nil {
		t.log.Errorf("record position: %v", err)
	}
	t.invalidateBalance(session)
	return pos, nil
}

// ClosePosition 平掉账本中的仓位，成功后才从账本移除
func (t *TradeService) ClosePosition(ctx context.Context, id string) (*domain.ClosedPosition, error) {
	session, err := t.activeSession()
	if err != nil {
		return nil, err
	}
	pos, ok := t.ledger.Get(id)
	if !ok {
		return nil, domain.ErrPositionNotFound
	}
	closed, err := t.engine.Close(ctx, session, &pos)
	if err != nil {
		return nil, err
	}
	t.ledger.Settle(closed)
	t.invalidateBalance(session)
	return closed, nil
}

// PlayRound 一局：随机开仓 → 按秒倒计时 → 平仓，各阶段通过 Reporter 通知。
// 倒计时中 ctx 取消时仓位留在账本里，由 CloseAll 兜底。
func (t *TradeService) PlayRound(ctx context.Context, collateral decimal.Decimal, hold time.Duration) (*domain.ClosedPosition, error) {
	if hold <= 0 {
		hold = t.cfg.HoldDuration
	}

	t.emit(events.TradeEvent{Phase: events.PhaseOpening})
	pos, err := t.OpenRandom(ctx, collateral)
	if err != nil {
		t.emit(events.TradeEvent{Phase: events.PhaseError, Err: err})
		return nil, err
	}
	t.emit(events.TradeEvent{Phase: events.PhaseOpen, Position: pos})

	if err := t.countdown(ctx, pos, hold); err != nil {
		t.emit(events.TradeEvent{Phase: events.PhaseError, Position: pos, Err: err})
		return nil, err
	}

	t.emit(events.TradeEvent{Phase: events.PhaseClosing, Position: pos})
	closed, err := t.ClosePosition(ctx, pos.ID)
	if err != nil {
		t.emit(events.TradeEvent{Phase: events.PhaseError, Position: pos, Err: err})
		return nil, err
	}
	t.emit(events.TradeEvent{Phase: events.PhaseClosed, Position: pos, Closed: closed})
	return closed, nil
}

func (t *TradeService) countdown(ctx context.Context, pos *domain.Position, hold time.Duration) error {
	for remaining := hold; remaining > 0; remaining -= time.Second {
		t.emit(events.TradeEvent{Phase: events.PhaseCountdown, Position: pos, Remaining: remaining})

		timer := time.NewTimer(min(time.Second, remaining))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return nil
}

// CloseAll 依次平掉所有仓位（退出前调用）
func (t *TradeService) CloseAll(ctx context.Context) ([]ledger.CloseResult, error) {
	if t.ledger.Len() == 0 {
		return nil, nil
	}
	session, err := t.activeSession()
	if err != nil {
		return nil, err
	}
	closer := ledger.CloserFunc(func(ctx context.Context, p *domain.Position) (*domain.ClosedPosition, error) {
		return t.engine.Close(ctx, session, p)
	})
	results := t.ledger.CloseAll(ctx, closer, t.reporter)
	t.invalidateBalance(session)
	return results, nil
}

// PositionsWithPnL 刷新行情、与交易所持仓对账，返回实时盈亏
func (t *TradeService) PositionsWithPnL(ctx context.Context) ([]ledger.PositionPnL, error) {
	snap, err := t.market.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	if session, serr := t.activeSession(); serr == nil && t.accounts != nil {
		state, err := t.accounts.State(ctx, session.UserAddress)
		if err != nil {
			t.log.Warnf("reconcile skipped: %v", err)
		} else {
			t.ledger.Reconcile(state.AssetPositions)
		}
	}
	return t.ledger.LivePnL(ledger.PriceSources{t.live, snap}), nil
}

func (t *TradeService) invalidateBalance(session *domain.Session) {
	if t.accounts != nil {
		t.accounts.Invalidate(session.UserAddress)
	}
}

func (t *TradeService) emit(ev events.TradeEvent) {
	ev.Timestamp = time.Now()
	t.reporter.OnTrade(ev)
}
