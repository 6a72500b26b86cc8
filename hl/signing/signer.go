package signing

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

var (
	// ErrSigningDeclined 签名方拒绝/中止（用户点了拒绝）。不可重试，不需要告警。
	ErrSigningDeclined = errors.New("signing: 签名被拒绝")
	// ErrSigningUnavailable 签名后端不可达（钱包未连接、RPC 断开）。可重试。
	ErrSigningUnavailable = errors.New("signing: 签名后端不可用")
)

// TypedDataSigner 对 EIP-712 结构化数据签名，返回 65 字节 r‖s‖v
type TypedDataSigner interface {
	SignTypedData(ctx context.Context, addr common.Address, data apitypes.TypedData) ([]byte, error)
}
