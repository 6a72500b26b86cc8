package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/perpplay/internal/domain"
	"github.com/betbot/perpplay/internal/events"
	"github.com/betbot/perpplay/internal/metrics"
)

// PriceSource 按名称取价格
type PriceSource interface {
	MarkPrice(symbol string) (decimal.Decimal, bool)
}

// PriceSources 依次查询，取第一个有效价格（例如 实时 mid → 快照 mark）
type PriceSources []PriceSource

func (ps PriceSources) MarkPrice(symbol string) (decimal.Decimal, bool) {
	for _, p := range ps {
		if p == nil {
			continue
		}
		if px, ok := p.MarkPrice(symbol); ok && px.IsPositive() {
			return px, true
		}
	}
	return decimal.Zero, false
}

// Closer 平掉单个仓位
type Closer interface {
	Close(ctx context.Context, p *domain.Position) (*domain.ClosedPosition, error)
}

// CloserFunc 函数适配 Closer
type CloserFunc func(ctx context.Context, p *domain.Position) (*domain.ClosedPosition, error)

func (f CloserFunc) Close(ctx context.Context, p *domain.Position) (*domain.ClosedPosition, error) {
	return f(ctx, p)
}

// CloseResult 批量平仓中单个仓位的结果；Err 非空时仓位仍在账本中
type CloseResult struct {
	Position domain.Position
	Closed   *domain.ClosedPosition
	Err      error
}

// Ledger 本会话开出的仓位
type Ledger struct {
	mu        sync.RWMutex
	positions map[string]*domain.Position
	realized  decimal.Decimal

	fees       FeeSchedule
	closeDelay time.Duration
	log        *logrus.Entry
}

// New 创建账本；closeDelay 为批量平仓的间隔
func New(fees FeeSchedule, closeDelay time.Duration, log *logrus.Entry) *Ledger {
	if log == nil {
		log = logrus.WithField("component", "ledger")
	}
	return &Ledger{
		positions:  make(map[string]*domain.Position),
		fees:       fees,
		closeDelay: closeDelay,
		log:        log,
	}
}

// Fees 手续费口径
func (l *Ledger) Fees() FeeSchedule { return l.fees }

// PnL 按账本口径计算
func (l *Ledger) PnL(p *domain.Position, currentPrice decimal.Decimal) domain.PnLResult {
	return l.fees.PnL(p, currentPrice)
}

// Add 记录新仓位；ID 重复返回错误
func (l *Ledger) Add(p *domain.Position) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("ledger: position without id")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.positions[p.ID]; ok {
		return fmt.Errorf("ledger: duplicate position %s", p.ID)
	}
	cp := *p
	l.positions[p.ID] = &cp
	metrics.OpenPositions.Set(float64(len(l.positions)))
	return nil
}

// Remove 删除并返回仓位
func (l *Ledger) Remove(id string) (domain.Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.positions[id]
	if !ok {
		return domain.Position{}, false
	}
	delete(l.positions, id)
	metrics.OpenPositions.Set(float64(len(l.positions)))
	return *p, true
}

// Settle 平仓成功后调用：移除仓位并累计已实现盈亏
func (l *Ledger) Settle(closed *domain.ClosedPosition) {
	if closed == nil {
		return
	}
	if _, ok := l.Remove(closed.Position.ID); !ok {
		return
	}
	l.mu.Lock()
	l.realized = l.realized.Add(closed.PnLUSD)
	l.mu.Unlock()
	metrics.RealizedPnL.Add(closed.PnLUSD.InexactFloat64())
}

// Realized 本会话已实现盈亏
func (l *Ledger) Realized() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.realized
}

// Get 查找仓位（副本）
func (l *Ledger) Get(id string) (domain.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.positions[id]
	if !ok {
		return domain.Position{}, false
	}
	return *p, true
}

// Positions 全部仓位副本，按开仓时间排序
func (l *Ledger) Positions() []domain.Position {
	l.mu.RLock()
	out := make([]domain.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, *p)
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].OpenedAt.Before(out[j].OpenedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Len 仓位数
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.positions)
}

// Clear 清空（会话断开时）
func (l *Ledger) Clear() {
	l.mu.Lock()
	l.positions = make(map[string]*domain.Position)
	l.mu.Unlock()
	metrics.OpenPositions.Set(0)
}

// LivePnL 用 prices 计算所有仓位的实时盈亏；无价格的仓位 PriceKnown=false
func (l *Ledger) LivePnL(prices PriceSource) []PositionPnL {
	positions := l.Positions()
	out := make([]PositionPnL, 0, len(positions))
	for i := range positions {
		row := PositionPnL{Position: positions[i]}
		if prices != nil {
			if px, ok := prices.MarkPrice(positions[i].Symbol); ok {
				row.Price = px
				row.PriceKnown = true
				row.PnL = l.fees.PnL(&positions[i], px)
			}
		}
		out = append(out, row)
	}
	return out
}

// CloseAll 依次平掉当前所有仓位（对开始时的快照操作），每笔之间间隔 closeDelay。
// 失败的仓位留在账本中并带错误出现在结果里。
func (l *Ledger) CloseAll(ctx context.Context, closer Closer, reporter events.Reporter) []CloseResult {
	reporter = events.OrNop(reporter)
	snapshot := l.Positions()
	results := make([]CloseResult, 0, len(snapshot))

	for i := range snapshot {
		p := snapshot[i]
		if i > 0 && l.closeDelay > 0 {
			if err := sleepCtx(ctx, l.closeDelay); err != nil {
				results = append(results, l.failRest(snapshot[i:], err, i, len(snapshot), reporter)...)
				break
			}
		}

		res := CloseResult{Position: p}
		closed, err := closer.Close(ctx, &p)
		if err != nil {
			res.Err = err
			l.log.Warnf("⚠️ [批量平仓] %s %s 失败: %v", p.Symbol, p.ID, err)
		} else {
			res.Closed = closed
			l.Settle(closed)
			l.log.Infof("✅ [批量平仓] %s %s pnl=%s", p.Symbol, p.ID, closed.PnLUSD.StringFixed(2))
		}
		results = append(results, res)

		ev := events.CloseProgressEvent{
			Index:      i + 1,
			Total:      len(snapshot),
			PositionID: p.ID,
			Symbol:     p.Symbol,
			Err:        err,
			Timestamp:  time.Now(),
		}
		if closed != nil {
			ev.PnLUSD = closed.PnLUSD
		}
		reporter.OnCloseProgress(ev)
	}
	return results
}

func (l *Ledger) failRest(rest []domain.Position, err error, offset, total int, reporter events.Reporter) []CloseResult {
	out := make([]CloseResult, 0, len(rest))
	for j, p := range rest {
		out = append(out, CloseResult{Position: p, Err: err})
		reporter.OnCloseProgress(events.CloseProgressEvent{
			Index:      offset + j + 1,
			Total:      total,
			PositionID: p.ID,
			Symbol:     p.Symbol,
			Err:        err,
			Timestamp:  time.Now(),
		})
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
