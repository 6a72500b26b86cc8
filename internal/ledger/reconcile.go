package ledger

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/betbot/perpplay/hl/types"
	"github.com/betbot/perpplay/internal/domain"
)

// Reconcile 以交易所持仓为准：本地仓位的币种在交易所没有非零 szi 时删除
// （已被强平、手动平仓或 IOC 未成交）。返回被删除的仓位。
func (l *Ledger) Reconcile(exchange []types.AssetPosition) []domain.Position {
	live := make(map[string]bool, len(exchange))
	for _, ap := range exchange {
		szi, err := decimal.NewFromString(strings.TrimSpace(ap.Position.Szi))
		if err != nil || szi.IsZero() {
			continue
		}
		live[strings.ToUpper(ap.Position.Coin)] = true
	}

	var dropped []domain.Position
	for _, p := range l.Positions() {
		if live[strings.ToUpper(p.Symbol)] {
			continue
		}
		if removed, ok := l.Remove(p.ID); ok {
			dropped = append(dropped, removed)
		}
	}
	if len(dropped) > 0 {
		l.log.Infof("reconcile dropped %d positions not present on exchange", len(dropped))
	}
	return dropped
}
