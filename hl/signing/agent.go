package signing

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/betbot/perpplay/hl/types"
)

// ErrAgentKeyDestroyed agent 私钥已被清除
var ErrAgentKeyDestroyed = errors.New("signing: agent 私钥已销毁")

// AgentKey 会话级一次性 agent 密钥。
// 私钥只在进程内使用：对外只暴露地址和签名能力，ExportHex 只供凭证存储持久化使用。
type AgentKey struct {
	mu      sync.RWMutex
	key     *ecdsa.PrivateKey
	address common.Address
}

// GenerateAgentKey 本地生成新的 agent 密钥
func GenerateAgentKey() (*AgentKey, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("生成 agent 密钥失败: %w", err)
	}
	return newAgentKey(key), nil
}

// AgentKeyFromHex 从十六进制私钥恢复（可带 0x 前缀）
func AgentKeyFromHex(hexKey string) (*AgentKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("解析 agent 私钥失败: %w", err)
	}
	return newAgentKey(key), nil
}

func newAgentKey(key *ecdsa.PrivateKey) *AgentKey {
	return &AgentKey{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}
}

// Address agent 公开地址（授权时提交给交易所的唯一信息）
func (k *AgentKey) Address() common.Address {
	return k.address
}

// SignAction 对 L1 动作签名：ActionHash → phantom agent → EIP-712
func (k *AgentKey) SignAction(action Action, nonce uint64, vault *common.Address, source string) (types.Signature, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.key == nil {
		return types.Signature{}, ErrAgentKeyDestroyed
	}

	connectionID := ActionHash(action, nonce, vault)
	sig, err := SignTypedDataWithKey(k.key, BuildAgentTypedData(source, connectionID))
	if err != nil {
		return types.Signature{}, err
	}
	return SplitSignature(sig)
}

// ExportHex 导出私钥十六进制（不带 0x），仅用于本地加密存储
func (k *AgentKey) ExportHex() (string, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.key == nil {
		return "", ErrAgentKeyDestroyed
	}
	return common.Bytes2Hex(crypto.FromECDSA(k.key)), nil
}

// Destroy 清零内存中的私钥，可重复调用
func (k *AgentKey) Destroy() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.key == nil {
		return
	}
	if k.key.D != nil {
		k.key.D.SetInt64(0)
	}
	k.key = nil
}

// Destroyed 私钥是否已清除
func (k *AgentKey) Destroyed() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.key == nil
}
