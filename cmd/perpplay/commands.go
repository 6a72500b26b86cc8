package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/betbot/perpplay/internal/domain"
	"github.com/betbot/perpplay/pkg/config"
	"github.com/betbot/perpplay/pkg/logger"
)

const retryDelay = 2 * time.Second

var (
	cfgFile  string
	logLevel string
	network  string
	cfg      *config.Config
)

// NewRootCmd 根命令
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "perpplay",
		Short: "用一次性 agent 密钥在永续合约交易所快速开平仓",
		Long: `perpplay 让钱包授权一个会话级 agent 密钥，之后所有下单都由 agent 签名，
不再需要钱包逐笔确认。会话保存在本地加密存储中，可以在下次启动时恢复。`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if network != "" {
				loaded.Network = network
				if err := loaded.Validate(); err != nil {
					return err
				}
			}
			if logLevel != "" {
				loaded.Log.Level = logLevel
			}
			if err := logger.Init(logger.Config{
				Level:      loaded.Log.Level,
				OutputFile: loaded.Log.File,
				MaxSize:    loaded.Log.MaxSize,
				MaxBackups: loaded.Log.MaxBackups,
				MaxAge:     loaded.Log.MaxAge,
				Compress:   loaded.Log.Compress,
			}); err != nil {
				return fmt.Errorf("初始化日志失败: %w", err)
			}
			cfg = loaded
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "配置文件路径（.yaml / .yml / .json）")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "日志级别 (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&network, "network", "", "网络 (mainnet, testnet)")

	rootCmd.AddCommand(
		newConnectCmd(),
		newRestoreCmd(),
		newDisconnectCmd(),
		newMarketsCmd(),
		newAccountCmd(),
		newPlayCmd(),
		newShellCmd(),
		newConfigCmd(),
	)
	return rootCmd
}

// withApp 装配组件并打印事件流，fn 返回后执行关闭回调（含退出前平仓）
func withApp(cmd *cobra.Command, live bool, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, live)
	if err != nil {
		return err
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		pumpEvents(cmd.OutOrStdout(), a.reporter.Events())
	}()

	runErr := fn(ctx, a)
	a.Close()
	<-done
	return runErr
}

func newConnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connect",
		Short: "用钱包授权新的 agent 密钥并保存会话",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, false, func(ctx context.Context, a *app) error {
				w, err := a.openWallet(ctx)
				if err != nil {
					return err
				}
				if w == nil {
					return fmt.Errorf("%w: 未配置 wallet.private_key / wallet.mnemonic / wallet.rpc_url", domain.ErrWalletUnavailable)
				}
				fmt.Fprintln(cmd.OutOrStdout(), dimStyle.Render("🔐 请在钱包中确认 agent 授权..."))
				session, err := a.creds.EstablishSession(ctx, w)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), titleStyle.Render("✅ 会话已建立"))
				fmt.Fprintln(cmd.OutOrStdout(), renderSession(session))
				return nil
			})
		},
	}
}

func newRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore",
		Short: "校验并恢复已保存的会话",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, false, func(ctx context.Context, a *app) error {
				session, err := a.restoreSession(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), titleStyle.Render("✅ 会话有效"))
				fmt.Fprintln(cmd.OutOrStdout(), renderSession(session))
				return nil
			})
		},
	}
}

func newDisconnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect",
		Short: "销毁 agent 密钥并清除本地会话",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, false, func(ctx context.Context, a *app) error {
				if err := a.creds.Teardown(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "👋 会话已清除")
				return nil
			})
		},
	}
}

func newMarketsCmd() *cobra.Command {
	var (
		minOI float64
		top   int
	)
	cmd := &cobra.Command{
		Use:   "markets",
		Short: "按未平仓量列出可交易标的",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("min-oi") {
				minOI = cfg.Market.MinOpenInterestUSD
			}
			if !cmd.Flags().Changed("top") {
				top = cfg.Market.TopCount
			}
			return withApp(cmd, false, func(ctx context.Context, a *app) error {
				cands, err := a.market.TopCandidates(ctx, 0, decimal.NewFromFloat(minOI), top)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderMarkets(a.market.Current(), cands))
				return nil
			})
		},
	}
	cmd.Flags().Float64Var(&minOI, "min-oi", 0, "最低未平仓量（USD）")
	cmd.Flags().IntVar(&top, "top", 0, "最多显示数量")
	return cmd
}

func newAccountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "account",
		Short: "查看余额与交易所持仓",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, false, func(ctx context.Context, a *app) error {
				session, err := a.restoreSession(ctx)
				if err != nil {
					return err
				}
				bal, err := a.accounts.Balance(ctx, session.UserAddress)
				if err != nil {
					return err
				}
				state, err := a.accounts.State(ctx, session.UserAddress)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, renderBalance(bal))
				fmt.Fprintln(out, renderExchangePositions(state))
				return nil
			})
		},
	}
}

func newPlayCmd() *cobra.Command {
	var (
		rounds     int
		collateral float64
		hold       time.Duration
	)
	cmd := &cobra.Command{
		Use:   "play",
		Short: "连续玩 N 局：随机开仓，持有一段时间后平仓",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, false, func(ctx context.Context, a *app) error {
				if _, err := a.restoreSession(ctx); err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for i := 1; rounds <= 0 || i <= rounds; i++ {
					fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("🎮 第 %d 局", i)))
					pos, err := a.trades.PlayRound(ctx, decimal.NewFromFloat(collateral), hold)
					if err != nil {
						if ctx.Err() != nil {
							return nil
						}
						// 传输错误已在事件流里提示，稍等后继续下一局
						if domain.IsRetryable(err) || errors.Is(err, domain.ErrNoCandidates) {
							select {
							case <-ctx.Done():
								return nil
							case <-time.After(retryDelay):
							}
							continue
						}
						return err
					}
					fmt.Fprintln(out, renderClosed(pos))
					fmt.Fprintln(out, dimStyle.Render("累计已实现 ")+signed(a.ledger.Realized(), usd(a.ledger.Realized())))
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&rounds, "rounds", "n", 1, "局数，0 表示一直玩到 Ctrl+C")
	cmd.Flags().Float64Var(&collateral, "collateral", 0, "每局保证金（USD），0 使用配置值")
	cmd.Flags().DurationVar(&hold, "hold", 0, "持仓时长，0 使用配置值")
	return cmd
}

func newShellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "交互模式：手动开平仓并查看实时盈亏",
		Long: `交互命令：
  random [保证金]                 随机标的开仓
  open <SYMBOL> <long|short> [保证金]
  close <ID 前缀>
  closeall
  positions
  markets
  quit`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, true, func(ctx context.Context, a *app) error {
				if _, err := a.restoreSession(ctx); err != nil {
					return err
				}
				return runShell(ctx, cmd, a)
			})
		},
	}
}

func runShell(ctx context.Context, cmd *cobra.Command, a *app) error {
	out := cmd.OutOrStdout()
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(cmd.InOrStdin())
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprint(out, headerStyle.Render("perpplay> "))
		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return nil
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = l
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if err := shellCommand(ctx, out, a, fields); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			printError(out, err)
		}
	}
}

var errQuit = errors.New("quit")

func shellCommand(ctx context.Context, out io.Writer, a *app, fields []string) error {
	switch strings.ToLower(fields[0]) {
	case "quit", "exit", "q":
		return errQuit

	case "random", "r":
		collateral, err := parseCollateral(fields, 1)
		if err != nil {
			return err
		}
		pos, err := a.trades.OpenRandom(ctx, collateral)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, renderOpened(pos))

	case "open", "o":
		if len(fields) < 3 {
			return errors.New("用法: open <SYMBOL> <long|short> [保证金]")
		}
		side, err := parseSide(fields[2])
		if err != nil {
			return err
		}
		collateral, err := parseCollateral(fields, 3)
		if err != nil {
			return err
		}
		pos, err := a.trades.OpenSymbol(ctx, fields[1], side, collateral)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, renderOpened(pos))

	case "close", "c":
		if len(fields) < 2 {
			return errors.New("用法: close <ID 前缀>")
		}
		id, err := findPosition(a, fields[1])
		if err != nil {
			return err
		}
		closed, err := a.trades.ClosePosition(ctx, id)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, renderClosed(closed))

	case "closeall", "ca":
		results, err := a.trades.CloseAll(ctx)
		if err != nil {
			return err
		}
		failed := 0
		for _, r := range results {
			if r.Err != nil {
				failed++
			}
		}
		fmt.Fprintf(out, "平仓完成：成功 %d，失败 %d\n", len(results)-failed, failed)

	case "positions", "p":
		items, err := a.trades.PositionsWithPnL(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, renderPositions(items, a.ledger.Realized()))

	case "markets", "m":
		cands, err := a.market.TopCandidates(ctx, a.cfg.MarketMaxAge(),
			decimal.NewFromFloat(a.cfg.Market.MinOpenInterestUSD), a.cfg.Market.TopCount)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, renderMarkets(a.market.Current(), cands))

	default:
		fmt.Fprintln(out, dimStyle.Render("未知命令，可用: random open close closeall positions markets quit"))
	}
	return nil
}

func parseSide(s string) (domain.Side, error) {
	switch strings.ToLower(s) {
	case "long", "l", "buy":
		return domain.SideLong, nil
	case "short", "s", "sell":
		return domain.SideShort, nil
	}
	return "", fmt.Errorf("方向必须是 long 或 short: %q", s)
}

// parseCollateral fields[i] 可选；缺省返回 0（使用配置值）
func parseCollateral(fields []string, i int) (decimal.Decimal, error) {
	if len(fields) <= i {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(fields[i])
	if err != nil || !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("保证金必须是正数: %q", fields[i])
	}
	return d, nil
}

// findPosition 按 ID 前缀查找，前缀必须唯一
func findPosition(a *app, prefix string) (string, error) {
	var matches []string
	for _, p := range a.ledger.Positions() {
		if strings.HasPrefix(p.ID, prefix) {
			matches = append(matches, p.ID)
		}
	}
	switch len(matches) {
	case 0:
		return "", domain.ErrPositionNotFound
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("ID 前缀 %q 匹配到 %d 个仓位", prefix, len(matches))
	}
}

func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "配置相关命令",
	}
	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "打印生效的配置（敏感字段已打码）",
		RunE: func(cmd *cobra.Command, args []string) error {
			shown := *cfg
			shown.Wallet.PrivateKey = mask(shown.Wallet.PrivateKey)
			shown.Wallet.Mnemonic = mask(shown.Wallet.Mnemonic)
			shown.Session.EncryptionKey = mask(shown.Session.EncryptionKey)
			data, err := yaml.Marshal(&shown)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), string(data))
			return nil
		},
	})
	return configCmd
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "******"
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	printError(os.Stderr, err)
	return 1
}
