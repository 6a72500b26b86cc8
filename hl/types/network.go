package types

import (
	"fmt"
	"strings"
)

// Network 交易所网络
type Network string

const (
	NetworkMainnet Network = "mainnet"
	NetworkTestnet Network = "testnet"
)

// L1ChainID 订单类（L1）动作的签名链 ID，与任何公链 ID 无关，主网/测试网相同
const L1ChainID int64 = 1337

// NetworkConfig 网络参数
//
// UserSignedChainID 是用户签名动作（approveAgent / approveBuilderFee）使用的链 ID，
// 与 L1ChainID 是两套东西，必须显式传递，不能按网络硬编码。
type NetworkConfig struct {
	Network           Network
	APIURL            string
	WSURL             string
	ChainLabel        string // hyperliquidChain 字段："Mainnet" / "Testnet"
	UserSignedChainID int64
	AgentSource       string // phantom agent 的 source："a" / "b"
}

var defaultNetworks = map[Network]NetworkConfig{
	NetworkMainnet: {
		Network:           NetworkMainnet,
		APIURL:            "https://api.hyperliquid.xyz",
		WSURL:             "wss://api.hyperliquid.xyz/ws",
		ChainLabel:        "Mainnet",
		UserSignedChainID: 42161, // Arbitrum One
		AgentSource:       "a",
	},
	NetworkTestnet: {
		Network:           NetworkTestnet,
		APIURL:            "https://api.hyperliquid-testnet.xyz",
		WSURL:             "wss://api.hyperliquid-testnet.xyz/ws",
		ChainLabel:        "Testnet",
		UserSignedChainID: 421614, // Arbitrum Sepolia
		AgentSource:       "b",
	},
}

// ParseNetwork 解析网络名称（大小写不敏感）
func ParseNetwork(s string) (Network, error) {
	switch Network(strings.ToLower(strings.TrimSpace(s))) {
	case "", NetworkMainnet:
		return NetworkMainnet, nil
	case NetworkTestnet:
		return NetworkTestnet, nil
	default:
		return "", fmt.Errorf("未知网络: %q", s)
	}
}

// GetNetworkConfig 获取网络默认参数
func GetNetworkConfig(n Network) (NetworkConfig, error) {
	cfg, ok := defaultNetworks[n]
	if !ok {
		return NetworkConfig{}, fmt.Errorf("不支持的网络: %s", n)
	}
	return cfg, nil
}

// IsMainnet 是否主网
func (c NetworkConfig) IsMainnet() bool {
	return c.Network == NetworkMainnet
}

// SignatureChainIDHex 用户签名动作里的 signatureChainId 字段（0x 前缀十六进制）
func (c NetworkConfig) SignatureChainIDHex() string {
	return fmt.Sprintf("0x%x", c.UserSignedChainID)
}
