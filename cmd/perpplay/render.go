package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"

	"github.com/betbot/perpplay/hl/types"
	"github.com/betbot/perpplay/internal/credential"
	"github.com/betbot/perpplay/internal/domain"
	"github.com/betbot/perpplay/internal/events"
	"github.com/betbot/perpplay/internal/ledger"
	"github.com/betbot/perpplay/internal/marketdata"
	"github.com/betbot/perpplay/internal/services"
	"github.com/betbot/perpplay/pkg/logger"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED")).
			Padding(0, 1)

	boxStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#3B82F6")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#3B82F6"))

	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B")).Bold(true)
	gainStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981")).Bold(true)
	lossStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444")).Bold(true)
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
)

func usd(d decimal.Decimal) string {
	return "$" + d.StringFixed(2)
}

// signed 按正负着色的金额
func signed(d decimal.Decimal, text string) string {
	switch {
	case d.IsPositive():
		return gainStyle.Render("+" + text)
	case d.IsNegative():
		return lossStyle.Render(text)
	default:
		return text
	}
}

func sideLabel(s domain.Side) string {
	if s == domain.SideLong {
		return gainStyle.Render("LONG ")
	}
	return lossStyle.Render("SHORT")
}

func renderTable(header []string, rows [][]string) string {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = lipgloss.Width(h)
	}
	for _, r := range rows {
		for i, c := range r {
			if w := lipgloss.Width(c); w > widths[i] {
				widths[i] = w
			}
		}
	}
	pad := func(s string, w int) string {
		return s + strings.Repeat(" ", w-lipgloss.Width(s))
	}

	var b strings.Builder
	cells := make([]string, len(header))
	for i, h := range header {
		cells[i] = headerStyle.Render(pad(h, widths[i]))
	}
	b.WriteString(strings.Join(cells, "  "))
	for _, r := range rows {
		b.WriteByte('\n')
		for i, c := range r {
			cells[i] = pad(c, widths[i])
		}
		b.WriteString(strings.Join(cells, "  "))
	}
	return boxStyle.Render(b.String())
}

func renderMarkets(snap *marketdata.Snapshot, cands []marketdata.Candidate) string {
	rows := make([][]string, 0, len(cands))
	for i, c := range cands {
		rows = append(rows, []string{
			fmt.Sprintf("%d", i+1),
			c.Symbol(),
			c.MarkPrice().String(),
			"$" + c.OpenInterestUSD.Div(decimal.NewFromInt(1_000_000)).StringFixed(1) + "M",
			fmt.Sprintf("%dx", c.Asset.MaxLeverage),
			fmt.Sprintf("%d", c.Asset.SizeDecimals),
		})
	}
	title := titleStyle.Render(fmt.Sprintf("📊 候选标的 %d / %d", len(cands), snap.Len()))
	return title + "\n" + renderTable([]string{"#", "SYMBOL", "MARK", "OI", "MAX LEV", "SZ DEC"}, rows)
}

func renderPositions(items []ledger.PositionPnL, realized decimal.Decimal) string {
	if len(items) == 0 {
		return dimStyle.Render("（无持仓）") + "  已实现 " + signed(realized, usd(realized))
	}
	rows := make([][]string, 0, len(items))
	total := decimal.Zero
	for _, it := range items {
		p := it.Position
		price, pnl := dimStyle.Render("-"), dimStyle.Render("-")
		if it.PriceKnown {
			price = it.Price.String()
			pnl = signed(it.PnL.USD, fmt.Sprintf("%s (%s%%)", usd(it.PnL.USD), it.PnL.Percent.StringFixed(2)))
			total = total.Add(it.PnL.USD)
		}
		rows = append(rows, []string{
			p.ID[:8],
			p.Symbol,
			sideLabel(p.Side),
			p.Size.String(),
			fmt.Sprintf("%dx", p.Leverage),
			p.EntryPrice.String(),
			price,
			pnl,
			time.Since(p.OpenedAt).Truncate(time.Second).String(),
		})
	}
	summary := fmt.Sprintf("未实现 %s  已实现 %s", signed(total, usd(total)), signed(realized, usd(realized)))
	return renderTable([]string{"ID", "SYMBOL", "SIDE", "SIZE", "LEV", "ENTRY", "PRICE", "PNL", "AGE"}, rows) + "\n" + summary
}

func renderExchangePositions(state *types.ClearinghouseState) string {
	rows := make([][]string, 0, len(state.AssetPositions))
	for _, ap := range state.AssetPositions {
		p := ap.Position
		szi, err := decimal.NewFromString(p.Szi)
		if err != nil || szi.IsZero() {
			continue
		}
		side := domain.SideLong
		if szi.IsNegative() {
			side = domain.SideShort
		}
		upnl, _ := decimal.NewFromString(p.UnrealizedPnl)
		rows = append(rows, []string{
			p.Coin,
			sideLabel(side),
			szi.Abs().String(),
			fmt.Sprintf("%dx", p.Leverage.Value),
			p.EntryPx,
			p.PositionValue,
			signed(upnl, usd(upnl)),
		})
	}
	if len(rows) == 0 {
		return dimStyle.Render("（交易所无持仓）")
	}
	return renderTable([]string{"COIN", "SIDE", "SIZE", "LEV", "ENTRY", "VALUE", "UPNL"}, rows)
}

func renderBalance(b *services.Balance) string {
	return boxStyle.Render(fmt.Sprintf("%s %s\n%s %s",
		headerStyle.Render("可用"), usd(b.Available),
		headerStyle.Render("权益"), usd(b.AccountValue)))
}

func renderSession(s *domain.Session) string {
	fee := warnStyle.Render("未授权")
	if s.FeeApproved {
		fee = gainStyle.Render("已授权")
	}
	return boxStyle.Render(fmt.Sprintf("%s %s\n%s %s\n%s %s\n%s %s",
		headerStyle.Render("钱包   "), s.UserAddress.Hex(),
		headerStyle.Render("Agent  "), s.AgentAddress().Hex(),
		headerStyle.Render("网络   "), string(s.Network.Network),
		headerStyle.Render("Builder"), fee))
}

func renderClosed(c *domain.ClosedPosition) string {
	p := c.Position
	return fmt.Sprintf("✅ [平仓] %s %s %s @ %s → %s  盈亏 %s (%s%%)  手续费 %s",
		p.Symbol, sideLabel(p.Side), p.Size.String(), p.EntryPrice.String(), c.ExitPrice.String(),
		signed(c.PnLUSD, usd(c.PnLUSD)), c.PnLPercent.StringFixed(2), usd(c.Fees))
}

func renderOpened(p *domain.Position) string {
	return fmt.Sprintf("✅ [开仓] %s %s %s @ %s  杠杆 %dx  保证金 %s  id=%s",
		p.Symbol, sideLabel(p.Side), p.Size.String(), p.EntryPrice.String(), p.Leverage, usd(p.CollateralUSD), p.ID[:8])
}

// describeError 面向用户的错误文案
func describeError(err error) string {
	var restore *credential.RestoreError
	var rejected *domain.OrderRejectedError
	switch {
	case errors.As(err, &restore):
		switch restore.Reason {
		case credential.ReasonNoStoredData:
			return "没有已保存的会话，请先执行 connect"
		case credential.ReasonNoWallet:
			return "钱包不可用，请检查 wallet 配置"
		case credential.ReasonWalletLocked:
			return "钱包已锁定"
		case credential.ReasonWalletMismatch:
			return "当前钱包与已保存的会话不一致，已清除，请重新 connect"
		case credential.ReasonAgentExpired:
			return "agent 授权已失效，已清除，请重新 connect"
		}
	case errors.Is(err, domain.ErrAgentUnauthorized):
		return "agent 未授权或已失效，请重新 connect"
	case errors.As(err, &rejected):
		return "交易所拒单: " + rejected.Message
	case errors.Is(err, domain.ErrTradeInFlight):
		return "已有交易在进行中"
	case errors.Is(err, domain.ErrSessionInactive):
		return "没有可用会话，请先 connect 或 restore"
	case errors.Is(err, domain.ErrInsufficientCollateral):
		return "保证金不足"
	case domain.IsRetryable(err):
		return "网络异常，可稍后重试: " + err.Error()
	}
	return logger.Redact(err.Error())
}

func printError(w io.Writer, err error) {
	if domain.IsSilent(err) {
		fmt.Fprintln(w, dimStyle.Render("已取消签名"))
		return
	}
	fmt.Fprintln(w, errorStyle.Render("❌ "+describeError(err)))
}

// pumpEvents 把事件流打印到终端，直到通道关闭
func pumpEvents(w io.Writer, ch <-chan any) {
	for ev := range ch {
		switch e := ev.(type) {
		case events.TradeEvent:
			switch e.Phase {
			case events.PhaseOpening:
				fmt.Fprintln(w, dimStyle.Render("🎲 选择标的并开仓..."))
			case events.PhaseCountdown:
				fmt.Fprintln(w, dimStyle.Render(fmt.Sprintf("⏳ %s 剩余 %s", e.Position.Symbol, e.Remaining)))
			case events.PhaseClosing:
				fmt.Fprintln(w, dimStyle.Render("平仓中..."))
			case events.PhaseError:
				printError(w, e.Err)
			}
		case events.CloseProgressEvent:
			status := gainStyle.Render("ok")
			if e.Err != nil {
				status = lossStyle.Render(describeError(e.Err))
			}
			fmt.Fprintf(w, "[%d/%d] %s %s %s\n", e.Index, e.Total, e.Symbol, signed(e.PnLUSD, usd(e.PnLUSD)), status)
		case events.SessionStateEvent:
			if e.Err != nil {
				logger.Debugf("session %s → %s: %v", e.From, e.To, e.Err)
			} else {
				logger.Debugf("session %s → %s", e.From, e.To)
			}
		}
	}
}
