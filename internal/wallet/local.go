package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	hdwallet "github.com/miguelmota/go-ethereum-hdwallet"

	"github.com/betbot/perpplay/hl/signing"
)

// DefaultDerivationPath 以太坊标准派生路径
const DefaultDerivationPath = "m/44'/60'/0'/0/0"

// LocalWallet 进程内持有私钥的用户钱包（私钥/助记词导入）。
// 用于无浏览器钱包的 CLI 场景，签名逻辑与 agent 相同。
type LocalWallet struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewLocalWallet 从十六进制私钥创建（可带 0x）
func NewLocalWallet(hexKey string) (*LocalWallet, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, fmt.Errorf("private key is required")
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return &LocalWallet{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

// NewLocalWalletFromMnemonic 从助记词按派生路径导出账户
func NewLocalWalletFromMnemonic(mnemonic, derivationPath string) (*LocalWallet, error) {
	mnemonic = strings.TrimSpace(mnemonic)
	derivationPath = strings.TrimSpace(derivationPath)
	if mnemonic == "" {
		return nil, fmt.Errorf("mnemonic is required")
	}
	if derivationPath == "" {
		derivationPath = DefaultDerivationPath
	}

	w, err := hdwallet.NewFromMnemonic(mnemonic)
	if err != nil {
		return nil, fmt.Errorf("invalid mnemonic: %w", err)
	}
	path, err := hdwallet.ParseDerivationPath(derivationPath)
	if err != nil {
		return nil, fmt.Errorf("invalid derivation_path: %w", err)
	}
	acct, err := w.Derive(path, false)
	if err != nil {
		return nil, fmt.Errorf("derive failed: %w", err)
	}
	key, err := w.PrivateKey(acct)
	if err != nil {
		return nil, fmt.Errorf("private key failed: %w", err)
	}
	return &LocalWallet{key: key, address: acct.Address}, nil
}

// Address 钱包地址
func (w *LocalWallet) Address() common.Address {
	return w.address
}

// Accounts 本地钱包始终只有一个已解锁账户
func (w *LocalWallet) Accounts(ctx context.Context) ([]common.Address, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return []common.Address{w.address}, nil
}

// SignTypedData 对 EIP-712 数据签名；addr 必须是本钱包地址
func (w *LocalWallet) SignTypedData(ctx context.Context, addr common.Address, data apitypes.TypedData) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if addr != w.address {
		return nil, fmt.Errorf("%w: unknown account %s", signing.ErrSigningUnavailable, addr.Hex())
	}
	return signing.SignTypedDataWithKey(w.key, data)
}
