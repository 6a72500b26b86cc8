// Package stream 提供交易所 WebSocket 行情订阅
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	channelAllMids = "allMids"
	channelPong    = "pong"
)

// Config MidsFeed 参数
type Config struct {
	URL               string
	HandshakeTimeout  time.Duration
	PingInterval      time.Duration // 交易所 60s 无消息会断开，默认 50s 发一次 ping
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
}

func (c *Config) withDefaults() {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 50 * time.Second
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = time.Second
	}
	if c.MaxReconnectDelay <= 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
}

// MidsFeed 订阅 allMids，维护最新中间价。
// 每条推送整体替换快照，读者拿到的 map 不会再被修改。
type MidsFeed struct {
	cfg  Config
	log  *logrus.Entry
	mids atomic.Pointer[map[string]decimal.Decimal]

	updatedAt atomic.Int64 // UnixMilli
	connMu    sync.Mutex
	conn      *websocket.Conn
}

// NewMidsFeed 创建中间价订阅
func NewMidsFeed(cfg Config, log *logrus.Entry) *MidsFeed {
	cfg.withDefaults()
	if log == nil {
		log = logrus.WithField("component", "hl.stream")
	}
	return &MidsFeed{cfg: cfg, log: log}
}

type subscribeMsg struct {
	Method       string            `json:"method"`
	Subscription map[string]string `json:"subscription,omitempty"`
}

type wsEnvelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

type allMidsData struct {
	Mids map[string]string `json:"mids"`
}

// Run 阻塞运行直到 ctx 结束；断线后指数退避重连
func (f *MidsFeed) Run(ctx context.Context) error {
	attempts := 0
	for {
		err := f.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		attempts++
		delay := f.cfg.ReconnectDelay * time.Duration(1<<min(attempts-1, 5))
		if delay > f.cfg.MaxReconnectDelay {
			delay = f.cfg.MaxReconnectDelay
		}
		f.log.Warnf("allMids 连接断开: %v，%v 后重连 (第 %d 次)", err, delay, attempts)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (f *MidsFeed) runOnce(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: f.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, f.cfg.URL, http.Header{})
	if err != nil {
		return fmt.Errorf("连接失败: %w", err)
	}
	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()
	defer func() {
		f.connMu.Lock()
		f.conn = nil
		f.connMu.Unlock()
		_ = conn.Close()
	}()

	if err := f.write(subscribeMsg{Method: "subscribe", Subscription: map[string]string{"type": channelAllMids}}); err != nil {
		return fmt.Errorf("发送订阅失败: %w", err)
	}
	f.log.Infof("已订阅 allMids: %s", f.cfg.URL)

	// ctx 结束时关闭连接以打断阻塞的 ReadMessage
	done := make(chan struct{})
	defer close(done)
	go f.pingLoop(ctx, conn, done)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		f.handleMessage(message)
	}
}

func (f *MidsFeed) pingLoop(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(f.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			_ = conn.Close()
			return
		case <-ticker.C:
			if err := f.write(subscribeMsg{Method: "ping"}); err != nil {
				f.log.Debugf("ping 发送失败: %v", err)
			}
		}
	}
}

func (f *MidsFeed) write(v any) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("未连接")
	}
	return f.conn.WriteJSON(v)
}

func (f *MidsFeed) handleMessage(data []byte) {
	var env wsEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		f.log.Debugf("忽略无法解析的消息: %v", err)
		return
	}
	switch env.Channel {
	case channelAllMids:
		var payload allMidsData
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			f.log.Warnf("解析 allMids 失败: %v", err)
			return
		}
		next := make(map[string]decimal.Decimal, len(payload.Mids))
		for sym, px := range payload.Mids {
			d, err := decimal.NewFromString(px)
			if err != nil || !d.IsPositive() {
				continue
			}
			next[sym] = d
		}
		f.mids.Store(&next)
		f.updatedAt.Store(time.Now().UnixMilli())
	case channelPong, "subscriptionResponse":
	default:
		f.log.Debugf("忽略频道: %s", env.Channel)
	}
}

// Mid 最新中间价
func (f *MidsFeed) Mid(symbol string) (decimal.Decimal, bool) {
	m := f.mids.Load()
	if m == nil {
		return decimal.Zero, false
	}
	px, ok := (*m)[symbol]
	return px, ok
}

// MarkPrice 实现账本的价格源接口（用中间价近似）
func (f *MidsFeed) MarkPrice(symbol string) (decimal.Decimal, bool) {
	return f.Mid(symbol)
}

// UpdatedAt 最近一次推送时间；零值表示尚未收到
func (f *MidsFeed) UpdatedAt() time.Time {
	ms := f.updatedAt.Load()
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
