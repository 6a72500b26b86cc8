package events

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/betbot/perpplay/internal/domain"
)

// Phase 单笔交易的生命周期阶段
type Phase string

const (
	PhaseOpening   Phase = "opening"
	PhaseOpen      Phase = "open"
	PhaseCountdown Phase = "countdown"
	PhaseClosing   Phase = "closing"
	PhaseClosed    Phase = "closed"
	PhaseError     Phase = "error"
)

// TradeEvent 交易阶段变化
type TradeEvent struct {
	Phase     Phase
	Position  *domain.Position       // opening 阶段为 nil
	Closed    *domain.ClosedPosition // 仅 closed
	Remaining time.Duration          // 仅 countdown
	Err       error                  // 仅 error
	Timestamp time.Time
}

// CloseProgressEvent 批量平仓进度（Index 从 1 开始）
type CloseProgressEvent struct {
	Index      int
	Total      int
	PositionID string
	Symbol     string
	PnLUSD     decimal.Decimal
	Err        error
	Timestamp  time.Time
}

// SessionStateEvent 凭证状态机迁移
type SessionStateEvent struct {
	From      string
	To        string
	Err       error
	Timestamp time.Time
}

// Reporter 事件接收方。实现必须快速返回，不能阻塞交易流程。
type Reporter interface {
	OnTrade(TradeEvent)
	OnCloseProgress(CloseProgressEvent)
	OnSessionState(SessionStateEvent)
}

// NopReporter 丢弃所有事件
type NopReporter struct{}

func (NopReporter) OnTrade(TradeEvent)                 {}
func (NopReporter) OnCloseProgress(CloseProgressEvent) {}
func (NopReporter) OnSessionState(SessionStateEvent)   {}

// ChannelReporter 把事件写入带缓冲的通道，供调用方按顺序消费。
// 缓冲满时丢弃并计数，不阻塞发送方。
type ChannelReporter struct {
	ch      chan any
	mu      sync.Mutex
	dropped int
	closed  bool
}

// NewChannelReporter 创建通道 reporter
func NewChannelReporter(buffer int) *ChannelReporter {
	if buffer <= 0 {
		buffer = 64
	}
	return &ChannelReporter{ch: make(chan any, buffer)}
}

// Events 事件序列；Close 后关闭
func (r *ChannelReporter) Events() <-chan any {
	return r.ch
}

// Dropped 因缓冲满被丢弃的事件数
func (r *ChannelReporter) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Close 关闭事件通道，可重复调用
func (r *ChannelReporter) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.closed = true
		close(r.ch)
	}
}

func (r *ChannelReporter) publish(ev any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.ch <- ev:
	default:
		r.dropped++
	}
}

func (r *ChannelReporter) OnTrade(ev TradeEvent)                 { r.publish(ev) }
func (r *ChannelReporter) OnCloseProgress(ev CloseProgressEvent) { r.publish(ev) }
func (r *ChannelReporter) OnSessionState(ev SessionStateEvent)   { r.publish(ev) }

// OrNop nil 时返回 NopReporter
func OrNop(r Reporter) Reporter {
	if r == nil {
		return NopReporter{}
	}
	return r
}
