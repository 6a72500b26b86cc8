package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/betbot/perpplay/hl/types"
	"github.com/betbot/perpplay/internal/domain"
	"github.com/betbot/perpplay/internal/events"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func position(id, symbol string, side domain.Side, size, entry string, openedAt time.Time) *domain.Position {
	return &domain.Position{
		ID:            id,
		Symbol:        symbol,
		Side:          side,
		Size:          dec(size),
		Leverage:      10,
		CollateralUSD: dec("10"),
		EntryPrice:    dec(entry),
		OpenedAt:      openedAt,
	}
}

func TestPnLLongWithoutFees(t *testing.T) {
	fees := NewFeeSchedule(3.5, 2, false)
	r := fees.PnL(position("p", "BTC", domain.SideLong, "1", "100", time.Time{}), dec("110"))
	if !r.USD.Equal(dec("10")) || !r.Fees.IsZero() {
		t.Fatalf("usd = %s fees = %s, want 10 / 0", r.USD, r.Fees)
	}
	if !r.Percent.Equal(dec("100")) {
		t.Fatalf("percent = %s, want 100", r.Percent)
	}
}

func TestPnLShortWithFees(t *testing.T) {
	fees := NewFeeSchedule(3.5, 2, true)
	r := fees.PnL(position("p", "ETH", domain.SideShort, "1", "100", time.Time{}), dec("110"))
	// raw = -10；fees = 5.5bps * (100 + 110) = 0.1155
	require.True(t, r.RawPnL.Equal(dec("-10")), "raw %s", r.RawPnL)
	require.True(t, r.Fees.Equal(dec("0.1155")), "fees %s", r.Fees)
	require.True(t, r.USD.Equal(dec("-10.1155")), "usd %s", r.USD)
}

func TestLedgerBasics(t *testing.T) {
	l := New(NewFeeSchedule(0, 0, false), 0, nil)
	t0 := time.Unix(1000, 0)
	require.NoError(t, l.Add(position("b", "ETH", domain.SideLong, "1", "1", t0.Add(time.Second))))
	require.NoError(t, l.Add(position("a", "BTC", domain.SideLong, "1", "1", t0)))
	require.Error(t, l.Add(position("a", "BTC", domain.SideLong, "1", "1", t0)))

	ps := l.Positions()
	require.Len(t, ps, 2)
	require.Equal(t, "a", ps[0].ID, "positions ordered by open time")

	got, ok := l.Get("b")
	require.True(t, ok)
	require.Equal(t, "ETH", got.Symbol)

	_, ok = l.Remove("b")
	require.True(t, ok)
	require.Equal(t, 1, l.Len())

	l.Clear()
	require.Equal(t, 0, l.Len())
}

func TestReconcileDropsPositionsMissingOnExchange(t *testing.T) {
	l := New(NewFeeSchedule(0, 0, false), 0, nil)
	require.NoError(t, l.Add(position("1", "BTC", domain.SideLong, "1", "1", time.Unix(1, 0))))
	require.NoError(t, l.Add(position("2", "ETH", domain.SideShort, "1", "1", time.Unix(2, 0))))
	require.NoError(t, l.Add(position("3", "SOL", domain.SideLong, "1", "1", time.Unix(3, 0))))

	var exchange []types.AssetPosition
	require.NoError(t, json.Unmarshal([]byte(`[
		{"type":"oneWay","position":{"coin":"BTC","szi":"0.01"}},
		{"type":"oneWay","position":{"coin":"ETH","szi":"0.0"}}
	]`), &exchange))

	dropped := l.Reconcile(exchange)
	require.Len(t, dropped, 2)
	require.Equal(t, 1, l.Len())
	_, ok := l.Get("1")
	require.True(t, ok, "BTC still open on exchange")
}

func TestCloseAllKeepsFailures(t *testing.T) {
	l := New(NewFeeSchedule(0, 0, false), time.Millisecond, nil)
	require.NoError(t, l.Add(position("1", "BTC", domain.SideLong, "1", "100", time.Unix(1, 0))))
	require.NoError(t, l.Add(position("2", "ETH", domain.SideLong, "1", "100", time.Unix(2, 0))))
	require.NoError(t, l.Add(position("3", "SOL", domain.SideLong, "1", "100", time.Unix(3, 0))))

	boom := errors.New("rejected")
	var order []string
	closer := CloserFunc(func(_ context.Context, p *domain.Position) (*domain.ClosedPosition, error) {
		order = append(order, p.ID)
		if p.ID == "2" {
			return nil, boom
		}
		pnl := l.PnL(p, dec("101"))
		return &domain.ClosedPosition{Position: *p, ExitPrice: dec("101"), PnLUSD: pnl.USD}, nil
	})

	rep := events.NewChannelReporter(8)
	results := l.CloseAll(context.Background(), closer, rep)
	rep.Close()

	require.Equal(t, []string{"1", "2", "3"}, order, "closes run sequentially in open order")
	require.Len(t, results, 3)
	require.ErrorIs(t, results[1].Err, boom)
	require.NotNil(t, results[0].Closed)

	require.Equal(t, 1, l.Len())
	_, ok := l.Get("2")
	require.True(t, ok, "failed close stays in ledger")
	require.True(t, l.Realized().Equal(dec("2")), "realized = %s", l.Realized())

	var progress []events.CloseProgressEvent
	for ev := range rep.Events() {
		progress = append(progress, ev.(events.CloseProgressEvent))
	}
	require.Len(t, progress, 3)
	require.Equal(t, 3, progress[2].Index)
	require.Equal(t, 3, progress[2].Total)
	require.Error(t, progress[1].Err)
}

func TestCloseAllCancelled(t *testing.T) {
	l := New(NewFeeSchedule(0, 0, false), time.Hour, nil)
	require.NoError(t, l.Add(position("1", "BTC", domain.SideLong, "1", "100", time.Unix(1, 0))))
	require.NoError(t, l.Add(position("2", "ETH", domain.SideLong, "1", "100", time.Unix(2, 0))))

	ctx, cancel := context.WithCancel(context.Background())
	closer := CloserFunc(func(_ context.Context, p *domain.Position) (*domain.ClosedPosition, error) {
		cancel()
		return &domain.ClosedPosition{Position: *p}, nil
	})
	results := l.CloseAll(ctx, closer, nil)
	require.Len(t, results, 2)
	require.NoError(t, results[0].Err)
	require.ErrorIs(t, results[1].Err, context.Canceled)
	require.Equal(t, 1, l.Len())
}

type mapPrices map[string]decimal.Decimal

func (m mapPrices) MarkPrice(s string) (decimal.Decimal, bool) {
	px, ok := m[s]
	return px, ok
}

func TestLivePnLFallsBackAcrossSources(t *testing.T) {
	l := New(NewFeeSchedule(0, 0, false), 0, nil)
	require.NoError(t, l.Add(position("1", "BTC", domain.SideLong, "2", "100", time.Unix(1, 0))))
	require.NoError(t, l.Add(position("2", "XYZ", domain.SideLong, "1", "100", time.Unix(2, 0))))

	live := mapPrices{}
	snapshot := mapPrices{"BTC": dec("105")}
	rows := l.LivePnL(PriceSources{live, snapshot})
	require.Len(t, rows, 2)
	require.True(t, rows[0].PriceKnown)
	require.True(t, rows[0].PnL.USD.Equal(dec("10")))
	require.False(t, rows[1].PriceKnown)
}
