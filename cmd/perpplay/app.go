package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/perpplay/hl/client"
	"github.com/betbot/perpplay/hl/signing"
	"github.com/betbot/perpplay/hl/stream"
	"github.com/betbot/perpplay/internal/credential"
	"github.com/betbot/perpplay/internal/domain"
	"github.com/betbot/perpplay/internal/events"
	"github.com/betbot/perpplay/internal/ledger"
	"github.com/betbot/perpplay/internal/marketdata"
	"github.com/betbot/perpplay/internal/metrics"
	"github.com/betbot/perpplay/internal/services"
	"github.com/betbot/perpplay/internal/wallet"
	"github.com/betbot/perpplay/pkg/config"
	"github.com/betbot/perpplay/pkg/logger"
	"github.com/betbot/perpplay/pkg/secretstore"
	"github.com/betbot/perpplay/pkg/shutdown"
	"github.com/betbot/perpplay/pkg/syncgroup"
)

const (
	balanceTTL      = 3 * time.Second
	shutdownTimeout = 30 * time.Second
	workerWait      = 5 * time.Second
	eventBuffer     = 256
)

// app 一次命令执行所需的全部组件
type app struct {
	cfg *config.Config
	log *logrus.Entry

	client   *client.Client
	store    *secretstore.Store
	creds    *credential.Manager
	market   *marketdata.Service
	accounts *services.AccountService
	engine   *services.OrderEngine
	ledger   *ledger.Ledger
	trades   *services.TradeService
	mids     *stream.MidsFeed
	reporter *events.ChannelReporter

	shutdown *shutdown.Manager
	workers  *syncgroup.SyncGroup
	cancel   context.CancelFunc
}

// newApp 按配置装配组件。live 为 true 时订阅 allMids 实时价格。
func newApp(ctx context.Context, cfg *config.Config, live bool) (*app, error) {
	ctx, cancel := context.WithCancel(ctx)
	a := &app{
		cfg:      cfg,
		log:      logger.Component("app"),
		shutdown: shutdown.NewManager(),
		workers:  syncgroup.NewSyncGroup(),
		cancel:   cancel,
		reporter: events.NewChannelReporter(eventBuffer),
	}
	// 最先注册，最后执行：停掉后台 goroutine
	a.shutdown.OnShutdown("workers", func(context.Context) {
		cancel()
		if err := a.workers.WaitTimeout(workerWait); err != nil {
			a.log.Warnf("后台任务未按时退出: %v", a.workers.Running())
		}
	})

	network := cfg.NetworkConfig()
	a.client = client.New(network, client.Options{
		Timeout:         cfg.HTTPTimeout(),
		RetryCount:      cfg.HTTP.RetryCount,
		RateLimitPerSec: cfg.HTTP.RateLimitPerSec,
		Logger:          logger.Component("hl.client"),
	})

	key, err := secretstore.ParseKey(cfg.Session.EncryptionKey)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("解析会话加密密钥失败: %w", err)
	}
	a.store, err = secretstore.Open(secretstore.OpenOptions{Path: cfg.Session.StorePath, EncryptionKey: key})
	if err != nil {
		cancel()
		return nil, err
	}
	a.shutdown.OnShutdown("secretstore", func(context.Context) {
		if err := a.store.Close(); err != nil {
			a.log.Warnf("关闭会话存储失败: %v", err)
		}
	})

	builderAddr := strings.TrimSpace(cfg.Builder.Address)
	a.creds = credential.NewManager(a.client, credential.Options{
		Network:             network,
		AgentName:           cfg.AgentName,
		BuilderAddress:      builderAddr,
		MaxBuilderFeeRate:   cfg.Builder.MaxFeeRate,
		ApproveBuilderFee:   cfg.Builder.Approve && builderAddr != "",
		VerifyAfterApproval: cfg.Session.VerifyAfterApproval,
		PropagationDelay:    cfg.PropagationDelay(),
		Store:               credential.NewSecretStore(a.store, logger.Component("credential.store")),
		Reporter:            a.reporter,
		Logger:              logger.Component("credential"),
	})

	a.market = marketdata.NewService(a.client, logger.Component("marketdata"))
	a.accounts = services.NewAccountService(a.client, balanceTTL, logger.Component("account"))
	a.shutdown.OnShutdown("account-cache", func(context.Context) { a.accounts.Close() })

	var builder *signing.BuilderInfo
	builderBps := 0.0
	if builderAddr != "" && cfg.Builder.FeeTenthsBps > 0 {
		builder = &signing.BuilderInfo{Address: strings.ToLower(builderAddr), FeeTenthsOfBps: cfg.Builder.FeeTenthsBps}
		builderBps = cfg.Builder.FeeBps()
	}
	fees := ledger.NewFeeSchedule(cfg.Trading.TakerFeeBps, builderBps, cfg.Trading.DeductFeesInPnL)

	a.engine = services.NewOrderEngine(a.client, a.market, a.accounts, services.OrderEngineConfig{
		LeverageCap:    cfg.Trading.LeverageCap,
		SlippageBps:    cfg.Trading.SlippageBps,
		CrossMargin:    cfg.Trading.CrossMargin,
		UpdateLeverage: cfg.Trading.UpdateLeverageBeforeOpen,
		CheckBalance:   cfg.Trading.CheckBalance,
		RequestTimeout: cfg.RequestTimeout(),
		Builder:        builder,
		Fees:           fees,
	}, logger.Component("order_engine"))
	a.ledger = ledger.New(fees, cfg.CloseAllDelay(), logger.Component("ledger"))

	deps := services.TradeServiceDeps{
		Engine:   a.engine,
		Market:   a.market,
		Accounts: a.accounts,
		Ledger:   a.ledger,
		Sessions: a.creds,
		Reporter: a.reporter,
		Logger:   logger.Component("trading"),
	}
	if live {
		a.mids = stream.NewMidsFeed(stream.Config{URL: network.WSURL}, logger.Component("hl.stream"))
		deps.Live = a.mids
		a.workers.Go("allMids", func() {
			if err := a.mids.Run(ctx); err != nil && ctx.Err() == nil {
				a.log.Warnf("allMids 订阅退出: %v", err)
			}
		})
	}
	a.trades = services.NewTradeService(deps, services.TradeConfig{
		CollateralUSD:      decimal.NewFromFloat(cfg.Trading.DefaultCollateralUSD),
		HoldDuration:       cfg.HoldDuration(),
		LongProbability:    cfg.Trading.LongProbability,
		MinOpenInterestUSD: decimal.NewFromFloat(cfg.Market.MinOpenInterestUSD),
		TopCount:           cfg.Market.TopCount,
		MarketMaxAge:       cfg.MarketMaxAge(),
	})

	if cfg.Metrics.Listen != "" {
		if _, err := metrics.StartAsync(ctx, metrics.ServerOptions{
			Listen:      cfg.Metrics.Listen,
			EnablePprof: cfg.Metrics.EnablePprof,
			Logger:      logger.Component("metrics"),
		}); err != nil {
			a.log.Warnf("metrics 服务启动失败: %v", err)
		} else {
			a.log.Infof("📈 metrics 监听 %s", cfg.Metrics.Listen)
		}
	}

	// 最后注册，最先执行：退出前先平掉本会话开的仓
	a.shutdown.OnShutdown("close-all", func(ctx context.Context) {
		if a.ledger.Len() == 0 {
			return
		}
		a.log.Infof("退出前平掉 %d 个仓位", a.ledger.Len())
		results, err := a.trades.CloseAll(ctx)
		if err != nil {
			a.log.Errorf("批量平仓失败: %v", err)
			return
		}
		for _, r := range results {
			if r.Err != nil {
				a.log.Errorf("❌ [平仓] %s %s: %v", r.Position.Symbol, r.Position.ID, r.Err)
			}
		}
	})
	return a, nil
}

// Close 执行所有关闭回调
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	a.shutdown.Shutdown(ctx)
	a.reporter.Close()
}

// openWallet 按配置选择钱包：JSON-RPC 钱包 > 助记词 > 私钥。
// 都没配置时返回 nil（恢复会话时对应 no_wallet）。
func (a *app) openWallet(ctx context.Context) (credential.WalletConnector, error) {
	w := a.cfg.Wallet
	switch {
	case strings.TrimSpace(w.RPCURL) != "":
		rw, err := wallet.DialRPCWallet(ctx, w.RPCURL, logger.Component("wallet.rpc"))
		if err != nil {
			return nil, err
		}
		a.shutdown.OnShutdown("wallet-rpc", func(context.Context) { rw.Close() })
		return rw, nil
	case strings.TrimSpace(w.Mnemonic) != "":
		return wallet.NewLocalWalletFromMnemonic(w.Mnemonic, w.DerivationPath)
	case strings.TrimSpace(w.PrivateKey) != "":
		return wallet.NewLocalWallet(w.PrivateKey)
	default:
		return nil, nil
	}
}

// restoreSession 恢复已保存的会话；钱包打不开时按 no_wallet 处理
func (a *app) restoreSession(ctx context.Context) (*domain.Session, error) {
	w, err := a.openWallet(ctx)
	if err != nil {
		a.log.Warnf("钱包不可用: %v", err)
		w = nil
	}
	return a.creds.Restore(ctx, w)
}
