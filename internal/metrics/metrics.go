package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry 进程内独立的指标注册表（不污染 prometheus 默认注册表）
var Registry = prometheus.NewRegistry()

var (
	// OrdersTotal 提交到交易所的动作，kind: open|close|update_leverage，result: ok|rejected|unauthorized|error
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perpplay_orders_total",
			Help: "Actions submitted to the exchange",
		},
		[]string{"kind", "result"},
	)

	// ExchangeLatency /exchange 往返耗时
	ExchangeLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "perpplay_exchange_latency_seconds",
			Help:    "Round-trip latency of signed actions",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	// SessionsTotal 会话建立/恢复结果，op: establish|restore
	SessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perpplay_sessions_total",
			Help: "Session establish/restore outcomes",
		},
		[]string{"op", "result"},
	)

	// OpenPositions 账本中的持仓数
	OpenPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "perpplay_open_positions",
			Help: "Positions tracked by the local ledger",
		},
	)

	// RealizedPnL 本进程累计已实现盈亏（USD，可为负）
	RealizedPnL = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "perpplay_realized_pnl_usd",
			Help: "Realized PnL net of fee policy",
		},
	)

	// MarketRefreshTotal 行情快照刷新结果
	MarketRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perpplay_market_refresh_total",
			Help: "metaAndAssetCtxs refreshes",
		},
		[]string{"result"},
	)
)

func init() {
	Registry.MustRegister(
		OrdersTotal,
		ExchangeLatency,
		SessionsTotal,
		OpenPositions,
		RealizedPnL,
		MarketRefreshTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// ObserveAction 记录一次签名动作的结果与耗时
func ObserveAction(kind, result string, elapsed time.Duration) {
	OrdersTotal.WithLabelValues(kind, result).Inc()
	ExchangeLatency.WithLabelValues(kind).Observe(elapsed.Seconds())
}
