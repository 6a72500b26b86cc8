package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "perpplay.yaml")
	yml := `
network: testnet
user_signed_chain_id: 998
trading:
  leverage_cap: 10
market:
  min_open_interest_usd: 10000000
`
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv(EnvPrefix+"SLIPPAGE_BPS", "50")
	t.Setenv(EnvPrefix+"LEVERAGE_CAP", "5")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Trading.LeverageCap != 5 {
		t.Fatalf("env must override file, got %d", cfg.Trading.LeverageCap)
	}
	if cfg.Trading.SlippageBps != 50 {
		t.Fatalf("slippage got %d", cfg.Trading.SlippageBps)
	}
	if cfg.Market.MinOpenInterestUSD != 10_000_000 {
		t.Fatalf("min oi got %v", cfg.Market.MinOpenInterestUSD)
	}
	// 文件没写的键保持默认值
	if cfg.Trading.TakerFeeBps != 3.5 || !cfg.Trading.DeductFeesInPnL {
		t.Fatalf("defaults lost: %+v", cfg.Trading)
	}

	nc := cfg.NetworkConfig()
	if nc.ChainLabel != "Testnet" || nc.AgentSource != "b" {
		t.Fatalf("unexpected network config: %+v", nc)
	}
	if nc.UserSignedChainID != 998 {
		t.Fatalf("user signed chain id override lost: %d", nc.UserSignedChainID)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must be valid: %v", err)
	}
	cfg.Trading.LeverageCap = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected leverage cap error")
	}
	cfg = Default()
	cfg.Network = "devnet"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected network error")
	}
}
