package signing

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/betbot/perpplay/hl/types"
)

const (
	// ExchangeDomainName L1 动作（下单）签名域
	ExchangeDomainName = "Exchange"
	// UserSignedDomainName 用户签名动作（授权 agent / builder fee）签名域
	UserSignedDomainName = "HyperliquidSignTransaction"
	DomainVersion        = "1"

	AgentPrimaryType             = "Agent"
	ApproveAgentPrimaryType      = "HyperliquidTransaction:ApproveAgent"
	ApproveBuilderFeePrimaryType = "HyperliquidTransaction:ApproveBuilderFee"
)

var zeroAddress = common.Address{}

var domainFields = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

func buildDomain(name string, chainID int64) apitypes.TypedDataDomain {
	return apitypes.TypedDataDomain{
		Name:              name,
		Version:           DomainVersion,
		ChainId:           math.NewHexOrDecimal256(chainID),
		VerifyingContract: zeroAddress.Hex(),
	}
}

// BuildAgentTypedData 构建 phantom agent 结构：{source, connectionId}
// source 主网 "a"、测试网 "b"；connectionId 是 ActionHash 摘要。
func BuildAgentTypedData(source string, connectionID common.Hash) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainFields,
			AgentPrimaryType: {
				{Name: "source", Type: "string"},
				{Name: "connectionId", Type: "bytes32"},
			},
		},
		PrimaryType: AgentPrimaryType,
		Domain:      buildDomain(ExchangeDomainName, types.L1ChainID),
		Message: apitypes.TypedDataMessage{
			"source":       source,
			"connectionId": connectionID.Hex(),
		},
	}
}

// BuildApproveAgentTypedData 构建授权 agent 的用户签名结构。
// chainID 是用户签名动作链 ID（与 L1 的 1337 不同），由调用方按配置传入。
func BuildApproveAgentTypedData(chainID int64, a ApproveAgentAction) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainFields,
			ApproveAgentPrimaryType: {
				{Name: "hyperliquidChain", Type: "string"},
				{Name: "agentAddress", Type: "address"},
				{Name: "agentName", Type: "string"},
				{Name: "nonce", Type: "uint64"},
			},
		},
		PrimaryType: ApproveAgentPrimaryType,
		Domain:      buildDomain(UserSignedDomainName, chainID),
		Message: apitypes.TypedDataMessage{
			"hyperliquidChain": a.HyperliquidChain,
			"agentAddress":     a.AgentAddress,
			"agentName":        a.AgentName,
			"nonce":            new(big.Int).SetUint64(a.Nonce),
		},
	}
}

// BuildApproveBuilderFeeTypedData 构建授权 builder 费率的用户签名结构
func BuildApproveBuilderFeeTypedData(chainID int64, a ApproveBuilderFeeAction) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainFields,
			ApproveBuilderFeePrimaryType: {
				{Name: "hyperliquidChain", Type: "string"},
				{Name: "maxFeeRate", Type: "string"},
				{Name: "builder", Type: "address"},
				{Name: "nonce", Type: "uint64"},
			},
		},
		PrimaryType: ApproveBuilderFeePrimaryType,
		Domain:      buildDomain(UserSignedDomainName, chainID),
		Message: apitypes.TypedDataMessage{
			"hyperliquidChain": a.HyperliquidChain,
			"maxFeeRate":       a.MaxFeeRate,
			"builder":          a.Builder,
			"nonce":            new(big.Int).SetUint64(a.Nonce),
		},
	}
}

// HashTypedData 计算 EIP-712 摘要 keccak256(0x1901 ‖ domainSeparator ‖ hashStruct(message))
func HashTypedData(data apitypes.TypedData) (common.Hash, error) {
	hash, _, err := apitypes.TypedDataAndHash(data)
	if err != nil {
		return common.Hash{}, fmt.Errorf("计算 EIP712 哈希失败: %w", err)
	}
	return common.BytesToHash(hash), nil
}

// SignTypedDataWithKey 用本地私钥签名，返回 65 字节签名（v 为 27/28）
func SignTypedDataWithKey(key *ecdsa.PrivateKey, data apitypes.TypedData) ([]byte, error) {
	if key == nil {
		return nil, ErrSigningUnavailable
	}
	hash, err := HashTypedData(data)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(hash.Bytes(), key)
	if err != nil {
		return nil, fmt.Errorf("签名失败: %w", err)
	}
	sig[64] += 27
	return sig, nil
}

// SplitSignature 将 65 字节签名拆为 {r, s, v}，v 规范化为 27/28
func SplitSignature(sig []byte) (types.Signature, error) {
	if len(sig) != crypto.SignatureLength {
		return types.Signature{}, fmt.Errorf("签名长度错误: 期望 %d，实际 %d", crypto.SignatureLength, len(sig))
	}
	v := int(sig[64])
	if v < 27 {
		v += 27
	}
	if v != 27 && v != 28 {
		return types.Signature{}, fmt.Errorf("签名 v 值非法: %d", sig[64])
	}
	return types.Signature{
		R: hexutil.Encode(sig[:32]),
		S: hexutil.Encode(sig[32:64]),
		V: v,
	}, nil
}

// RecoverTypedDataSigner 从签名恢复签名者地址，用于校验钱包返回的签名
func RecoverTypedDataSigner(data apitypes.TypedData, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("签名长度错误: %d", len(sig))
	}
	hash, err := HashTypedData(data)
	if err != nil {
		return common.Address{}, err
	}
	normalized := make([]byte, len(sig))
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	pub, err := crypto.SigToPub(hash.Bytes(), normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("恢复签名者失败: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
