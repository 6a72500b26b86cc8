package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/sirupsen/logrus"

	"github.com/betbot/perpplay/hl/signing"
)

// EIP-1193 / JSON-RPC 错误码
const (
	codeUserRejected   = 4001
	codeUnauthorized   = 4100
	codeMethodNotFound = -32601
)

// RPCWallet 通过 JSON-RPC 访问的外部钱包（签名器、Frame、本地节点等），
// 私钥不进入本进程。
type RPCWallet struct {
	url    string
	client *rpc.Client
	log    *logrus.Entry
}

// DialRPCWallet 连接钱包 RPC。HTTP 端点不会在拨号时建立连接，不可达在首次调用时暴露。
func DialRPCWallet(ctx context.Context, url string, log *logrus.Entry) (*RPCWallet, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, fmt.Errorf("%w: rpc url is empty", signing.ErrSigningUnavailable)
	}
	c, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", signing.ErrSigningUnavailable, url, err)
	}
	if log == nil {
		log = logrus.WithField("component", "wallet.rpc")
	}
	return &RPCWallet{url: url, client: c, log: log}, nil
}

// Close 关闭 RPC 连接
func (w *RPCWallet) Close() {
	if w != nil && w.client != nil {
		w.client.Close()
	}
}

// Accounts 请求账户授权；钱包不支持 eth_requestAccounts 时退回 eth_accounts。
// 钱包已锁定时返回空列表。
func (w *RPCWallet) Accounts(ctx context.Context) ([]common.Address, error) {
	var accounts []common.Address
	err := w.client.CallContext(ctx, &accounts, "eth_requestAccounts")
	if err != nil && rpcCode(err) == codeMethodNotFound {
		w.log.Debug("eth_requestAccounts not supported, falling back to eth_accounts")
		err = w.client.CallContext(ctx, &accounts, "eth_accounts")
	}
	if err != nil {
		return nil, mapRPCError("eth_requestAccounts", err)
	}
	return accounts, nil
}

// SignTypedData eth_signTypedData_v4，参数为 [address, typedDataJSON]
func (w *RPCWallet) SignTypedData(ctx context.Context, addr common.Address, data apitypes.TypedData) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal typed data: %w", err)
	}

	var sig hexutil.Bytes
	if err := w.client.CallContext(ctx, &sig, "eth_signTypedData_v4", addr, string(payload)); err != nil {
		return nil, mapRPCError("eth_signTypedData_v4", err)
	}
	if len(sig) != 65 {
		return nil, fmt.Errorf("wallet returned %d-byte signature", len(sig))
	}
	return sig, nil
}

func rpcCode(err error) int {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return rpcErr.ErrorCode()
	}
	return 0
}

// mapRPCError 用户拒绝 → ErrSigningDeclined；钱包应用层错误原样返回；其余视为后端不可达
func mapRPCError(method string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", method, err)
	}
	switch code := rpcCode(err); {
	case code == codeUserRejected:
		return fmt.Errorf("%s: %w", method, signing.ErrSigningDeclined)
	case code == codeUnauthorized:
		return fmt.Errorf("%s: %w: %v", method, signing.ErrSigningUnavailable, err)
	case code != 0:
		return fmt.Errorf("%s: wallet error %d: %v", method, code, err)
	default:
		return fmt.Errorf("%s: %w: %v", method, signing.ErrSigningUnavailable, err)
	}
}
