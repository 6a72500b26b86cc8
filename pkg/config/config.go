package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/betbot/perpplay/hl/types"
)

// EnvPrefix 环境变量前缀
const EnvPrefix = "PERPPLAY_"

// 构建者默认值
const (
	DefaultBuilderAddress = "0x7b4497c1b70de6546b551bdf8f951da53b71b97d"
	DefaultAgentName      = "PerpPlay"
)

// BuilderConfig 构建者费用配置
type BuilderConfig struct {
	Address      string `yaml:"address" json:"address"`
	FeeTenthsBps int    `yaml:"fee_tenths_bps" json:"fee_tenths_bps"` // 0.1 bps 为单位，20 = 2 bps
	MaxFeeRate   string `yaml:"max_fee_rate" json:"max_fee_rate"`     // 授权上限，例如 "0.1%"
	Approve      bool   `yaml:"approve" json:"approve"`               // 建立会话时是否请求授权
}

// FeeBps 构建者费率（bps）
func (b BuilderConfig) FeeBps() float64 {
	return float64(b.FeeTenthsBps) / 10
}

// TradingConfig 下单与 PnL 配置
type TradingConfig struct {
	LeverageCap              int     `yaml:"leverage_cap" json:"leverage_cap"`
	SlippageBps              int     `yaml:"slippage_bps" json:"slippage_bps"`
	TakerFeeBps              float64 `yaml:"taker_fee_bps" json:"taker_fee_bps"`
	DeductFeesInPnL          bool    `yaml:"deduct_fees_in_pnl" json:"deduct_fees_in_pnl"`
	DefaultCollateralUSD     float64 `yaml:"default_collateral_usd" json:"default_collateral_usd"`
	HoldSeconds              int     `yaml:"hold_seconds" json:"hold_seconds"`
	CloseAllDelayMs          int     `yaml:"close_all_delay_ms" json:"close_all_delay_ms"`
	LongProbability          float64 `yaml:"long_probability" json:"long_probability"`
	UpdateLeverageBeforeOpen bool    `yaml:"update_leverage_before_open" json:"update_leverage_before_open"`
	CrossMargin              bool    `yaml:"cross_margin" json:"cross_margin"`
	CheckBalance             bool    `yaml:"check_balance" json:"check_balance"`
	RequestTimeoutMs         int     `yaml:"request_timeout_ms" json:"request_timeout_ms"`
}

// MarketConfig 行情筛选配置
type MarketConfig struct {
	MinOpenInterestUSD float64 `yaml:"min_open_interest_usd" json:"min_open_interest_usd"`
	TopCount           int     `yaml:"top_count" json:"top_count"`
	MaxAgeMs           int     `yaml:"max_age_ms" json:"max_age_ms"`
}

// SessionConfig 会话持久化配置
type SessionConfig struct {
	StorePath           string `yaml:"store_path" json:"store_path"`
	EncryptionKey       string `yaml:"encryption_key" json:"encryption_key"` // 32 字节 hex/base64，空则不加密
	PropagationDelayMs  int    `yaml:"propagation_delay_ms" json:"propagation_delay_ms"`
	VerifyAfterApproval bool   `yaml:"verify_after_approval" json:"verify_after_approval"`
}

// WalletConfig 用户钱包配置（三选一：私钥 / 助记词 / JSON-RPC 钱包）
type WalletConfig struct {
	PrivateKey     string `yaml:"private_key" json:"private_key"`
	Mnemonic       string `yaml:"mnemonic" json:"mnemonic"`
	DerivationPath string `yaml:"derivation_path" json:"derivation_path"`
	RPCURL         string `yaml:"rpc_url" json:"rpc_url"`
}

// HTTPConfig 交易所 HTTP 客户端配置
type HTTPConfig struct {
	TimeoutMs       int `yaml:"timeout_ms" json:"timeout_ms"`
	RateLimitPerSec int `yaml:"rate_limit_per_sec" json:"rate_limit_per_sec"`
	RetryCount      int `yaml:"retry_count" json:"retry_count"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `yaml:"level" json:"level"`
	File       string `yaml:"file" json:"file"`
	MaxSize    int    `yaml:"max_size" json:"max_size"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAge     int    `yaml:"max_age" json:"max_age"`
	Compress   bool   `yaml:"compress" json:"compress"`
}

// MetricsConfig 指标服务配置；Listen 为空则不启动
type MetricsConfig struct {
	Listen      string `yaml:"listen" json:"listen"`
	EnablePprof bool   `yaml:"enable_pprof" json:"enable_pprof"`
}

// Config 应用配置
type Config struct {
	Network           string        `yaml:"network" json:"network"`
	APIURL            string        `yaml:"api_url" json:"api_url"`
	WSURL             string        `yaml:"ws_url" json:"ws_url"`
	UserSignedChainID int64         `yaml:"user_signed_chain_id" json:"user_signed_chain_id"`
	AgentName         string        `yaml:"agent_name" json:"agent_name"`
	Builder           BuilderConfig `yaml:"builder" json:"builder"`
	Trading           TradingConfig `yaml:"trading" json:"trading"`
	Market            MarketConfig  `yaml:"market" json:"market"`
	Session           SessionConfig `yaml:"session" json:"session"`
	Wallet            WalletConfig  `yaml:"wallet" json:"wallet"`
	HTTP              HTTPConfig    `yaml:"http" json:"http"`
	Log               LogConfig     `yaml:"log" json:"log"`
	Metrics           MetricsConfig `yaml:"metrics" json:"metrics"`
}

// Default 默认配置
func Default() *Config {
	return &Config{
		Network:   string(types.NetworkMainnet),
		AgentName: DefaultAgentName,
		Builder: BuilderConfig{
			Address:      DefaultBuilderAddress,
			FeeTenthsBps: 20,
			MaxFeeRate:   "0.1%",
			Approve:      true,
		},
		Trading: TradingConfig{
			LeverageCap:              20,
			SlippageBps:              100,
			TakerFeeBps:              3.5,
			DeductFeesInPnL:          true,
			DefaultCollateralUSD:     10,
			HoldSeconds:              10,
			CloseAllDelayMs:          500,
			LongProbability:          0.75,
			UpdateLeverageBeforeOpen: true,
			CrossMargin:              true,
			CheckBalance:             true,
			RequestTimeoutMs:         15000,
		},
		Market: MarketConfig{
			MinOpenInterestUSD: 5_000_000,
			TopCount:           50,
			MaxAgeMs:           5000,
		},
		Session: SessionConfig{
			StorePath:           "data/session",
			PropagationDelayMs:  2000,
			VerifyAfterApproval: true,
		},
		Wallet: WalletConfig{
			DerivationPath: "m/44'/60'/0'/0/0",
		},
		HTTP: HTTPConfig{
			TimeoutMs:       10000,
			RateLimitPerSec: 10,
			RetryCount:      2,
		},
		Log: LogConfig{
			Level:      "info",
			File:       "logs/perpplay.log",
			MaxSize:    50,
			MaxBackups: 3,
			MaxAge:     7,
			Compress:   true,
		},
	}
}

// Load 加载配置：默认值 → 配置文件（可选）→ .env / 环境变量，最后校验
func Load(filePath string) (*Config, error) {
	cfg := Default()
	if filePath != "" {
		if err := loadConfigFile(filePath, cfg); err != nil {
			return nil, fmt.Errorf("加载配置文件失败 %s: %w", filePath, err)
		}
	}

	// .env 不存在不是错误
	_ = godotenv.Load()
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadConfigFile 在已有值之上解析配置文件，文件里没写的键保持默认值
func loadConfigFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("读取配置文件失败: %w", err)
	}

	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("解析 YAML 配置文件失败: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("解析 JSON 配置文件失败: %w", err)
		}
	default:
		return fmt.Errorf("不支持的配置文件格式: %s (支持 .yaml, .yml, .json)", filePath)
	}
	return nil
}

// applyEnv 环境变量覆盖（优先级最高）
func applyEnv(c *Config) {
	c.Network = getEnv("NETWORK", c.Network)
	c.APIURL = getEnv("API_URL", c.APIURL)
	c.WSURL = getEnv("WS_URL", c.WSURL)
	c.UserSignedChainID = int64(parseIntEnv("USER_SIGNED_CHAIN_ID", int(c.UserSignedChainID)))
	c.AgentName = getEnv("AGENT_NAME", c.AgentName)

	c.Builder.Address = getEnv("BUILDER_ADDRESS", c.Builder.Address)
	c.Builder.FeeTenthsBps = parseIntEnv("BUILDER_FEE_TENTHS_BPS", c.Builder.FeeTenthsBps)
	c.Builder.MaxFeeRate = getEnv("BUILDER_MAX_FEE_RATE", c.Builder.MaxFeeRate)
	c.Builder.Approve = parseBoolEnv("BUILDER_APPROVE", c.Builder.Approve)

	c.Trading.LeverageCap = parseIntEnv("LEVERAGE_CAP", c.Trading.LeverageCap)
	c.Trading.SlippageBps = parseIntEnv("SLIPPAGE_BPS", c.Trading.SlippageBps)
	c.Trading.TakerFeeBps = parseFloatEnv("TAKER_FEE_BPS", c.Trading.TakerFeeBps)
	c.Trading.DeductFeesInPnL = parseBoolEnv("DEDUCT_FEES_IN_PNL", c.Trading.DeductFeesInPnL)
	c.Trading.DefaultCollateralUSD = parseFloatEnv("COLLATERAL_USD", c.Trading.DefaultCollateralUSD)
	c.Trading.HoldSeconds = parseIntEnv("HOLD_SECONDS", c.Trading.HoldSeconds)
	c.Trading.LongProbability = parseFloatEnv("LONG_PROBABILITY", c.Trading.LongProbability)

	c.Market.MinOpenInterestUSD = parseFloatEnv("MIN_OPEN_INTEREST_USD", c.Market.MinOpenInterestUSD)
	c.Market.TopCount = parseIntEnv("TOP_COUNT", c.Market.TopCount)

	c.Session.StorePath = getEnv("SESSION_STORE_PATH", c.Session.StorePath)
	c.Session.EncryptionKey = getEnv("SESSION_ENCRYPTION_KEY", c.Session.EncryptionKey)

	c.Wallet.PrivateKey = getEnv("WALLET_PRIVATE_KEY", c.Wallet.PrivateKey)
	c.Wallet.Mnemonic = getEnv("WALLET_MNEMONIC", c.Wallet.Mnemonic)
	c.Wallet.DerivationPath = getEnv("WALLET_DERIVATION_PATH", c.Wallet.DerivationPath)
	c.Wallet.RPCURL = getEnv("WALLET_RPC_URL", c.Wallet.RPCURL)

	c.HTTP.RateLimitPerSec = parseIntEnv("RATE_LIMIT_PER_SEC", c.HTTP.RateLimitPerSec)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.File = getEnv("LOG_FILE", c.Log.File)
	c.Metrics.Listen = getEnv("METRICS_LISTEN", c.Metrics.Listen)
}

// Validate 验证配置
func (c *Config) Validate() error {
	if _, err := types.ParseNetwork(c.Network); err != nil {
		return err
	}
	if c.AgentName == "" {
		return fmt.Errorf("agent_name 不能为空")
	}
	if c.Builder.Address != "" && !common.IsHexAddress(c.Builder.Address) {
		return fmt.Errorf("builder.address 不是合法地址: %s", c.Builder.Address)
	}
	if c.Builder.FeeTenthsBps < 0 {
		return fmt.Errorf("builder.fee_tenths_bps 不能为负数")
	}
	if c.Trading.LeverageCap < 1 {
		return fmt.Errorf("trading.leverage_cap 必须 >= 1")
	}
	if c.Trading.SlippageBps < 0 || c.Trading.SlippageBps >= 10000 {
		return fmt.Errorf("trading.slippage_bps 必须在 [0, 10000) 之间")
	}
	if c.Trading.TakerFeeBps < 0 {
		return fmt.Errorf("trading.taker_fee_bps 不能为负数")
	}
	if c.Trading.LongProbability < 0 || c.Trading.LongProbability > 1 {
		return fmt.Errorf("trading.long_probability 必须在 0 到 1 之间")
	}
	if c.Market.TopCount < 1 {
		return fmt.Errorf("market.top_count 必须 >= 1")
	}
	if c.Market.MinOpenInterestUSD < 0 {
		return fmt.Errorf("market.min_open_interest_usd 不能为负数")
	}
	return nil
}

// NetworkConfig 合并网络默认值与配置覆盖（API 地址、用户签名链 ID）
func (c *Config) NetworkConfig() types.NetworkConfig {
	network, err := types.ParseNetwork(c.Network)
	if err != nil {
		network = types.NetworkMainnet
	}
	nc, err := types.GetNetworkConfig(network)
	if err != nil {
		nc, _ = types.GetNetworkConfig(types.NetworkMainnet)
	}
	if c.APIURL != "" {
		nc.APIURL = strings.TrimRight(c.APIURL, "/")
	}
	if c.WSURL != "" {
		nc.WSURL = c.WSURL
	}
	if c.UserSignedChainID > 0 {
		nc.UserSignedChainID = c.UserSignedChainID
	}
	return nc
}

// RequestTimeout 单次交易请求超时
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Trading.RequestTimeoutMs) * time.Millisecond
}

// HTTPTimeout HTTP 客户端超时
func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutMs) * time.Millisecond
}

// PropagationDelay 授权后等待交易所传播的时间
func (c *Config) PropagationDelay() time.Duration {
	return time.Duration(c.Session.PropagationDelayMs) * time.Millisecond
}

// CloseAllDelay 批量平仓间隔
func (c *Config) CloseAllDelay() time.Duration {
	return time.Duration(c.Trading.CloseAllDelayMs) * time.Millisecond
}

// MarketMaxAge 行情快照最长复用时间
func (c *Config) MarketMaxAge() time.Duration {
	return time.Duration(c.Market.MaxAgeMs) * time.Millisecond
}

// HoldDuration 单局持仓时长
func (c *Config) HoldDuration() time.Duration {
	return time.Duration(c.Trading.HoldSeconds) * time.Second
}

// getEnv 获取环境变量（自动加前缀），不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		return value
	}
	return defaultValue
}

// parseIntEnv 解析整数环境变量
func parseIntEnv(key string, defaultValue int) int {
	value := os.Getenv(EnvPrefix + key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// parseFloatEnv 解析浮点数环境变量
func parseFloatEnv(key string, defaultValue float64) float64 {
	value := os.Getenv(EnvPrefix + key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// parseBoolEnv 解析布尔环境变量
func parseBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(EnvPrefix + key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
