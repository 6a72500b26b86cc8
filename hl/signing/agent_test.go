package signing

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

func signatureBytes(t *testing.T, r, s string, v int) []byte {
	t.Helper()
	rb, err := hexutil.Decode(r)
	if err != nil {
		t.Fatalf("decode r: %v", err)
	}
	sb, err := hexutil.Decode(s)
	if err != nil {
		t.Fatalf("decode s: %v", err)
	}
	out := append(append(rb, sb...), byte(v))
	return out
}

func TestAgentKey_SignActionRecoversAgentAddress(t *testing.T) {
	agent, err := GenerateAgentKey()
	if err != nil {
		t.Fatalf("GenerateAgentKey: %v", err)
	}
	action := sampleOrderAction()
	nonce := uint64(1700000000123)

	sig, err := agent.SignAction(action, nonce, nil, "a")
	if err != nil {
		t.Fatalf("SignAction: %v", err)
	}
	if sig.V != 27 && sig.V != 28 {
		t.Fatalf("unexpected v=%d", sig.V)
	}
	if len(sig.R) != 66 || len(sig.S) != 66 {
		t.Fatalf("unexpected r/s length: %s %s", sig.R, sig.S)
	}

	td := BuildAgentTypedData("a", ActionHash(action, nonce, nil))
	got, err := RecoverTypedDataSigner(td, signatureBytes(t, sig.R, sig.S, sig.V))
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if got != agent.Address() {
		t.Fatalf("recovered=%s want=%s", got.Hex(), agent.Address().Hex())
	}

	// 测试网 source 不同，签名者恢复结果随之不同
	other := BuildAgentTypedData("b", ActionHash(action, nonce, nil))
	if addr, _ := RecoverTypedDataSigner(other, signatureBytes(t, sig.R, sig.S, sig.V)); addr == agent.Address() {
		t.Fatalf("signature must be bound to source")
	}
}

func TestAgentKey_ExportRestoreAndDestroy(t *testing.T) {
	agent, err := GenerateAgentKey()
	if err != nil {
		t.Fatalf("GenerateAgentKey: %v", err)
	}
	hexKey, err := agent.ExportHex()
	if err != nil {
		t.Fatalf("ExportHex: %v", err)
	}
	restored, err := AgentKeyFromHex("0x" + hexKey)
	if err != nil {
		t.Fatalf("AgentKeyFromHex: %v", err)
	}
	if restored.Address() != agent.Address() {
		t.Fatalf("address mismatch after restore")
	}

	agent.Destroy()
	agent.Destroy()
	if !agent.Destroyed() {
		t.Fatalf("expected destroyed")
	}
	if _, err := agent.ExportHex(); !errors.Is(err, ErrAgentKeyDestroyed) {
		t.Fatalf("expected ErrAgentKeyDestroyed, got %v", err)
	}
	if _, err := agent.SignAction(sampleOrderAction(), 1, nil, "a"); !errors.Is(err, ErrAgentKeyDestroyed) {
		t.Fatalf("expected ErrAgentKeyDestroyed, got %v", err)
	}
}

func TestApproveAgentTypedData_UsesUserSignedChainID(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	user := crypto.PubkeyToAddress(key.PublicKey)
	action := ApproveAgentAction{
		HyperliquidChain: "Mainnet",
		SignatureChainID: "0xa4b1",
		AgentAddress:     "0x1234567890abcdef1234567890abcdef12345678",
		AgentName:        "PerpPlay",
		Nonce:            1700000000000,
	}

	arb := BuildApproveAgentTypedData(42161, action)
	if (*big.Int)(arb.Domain.ChainId).Int64() != 42161 {
		t.Fatalf("unexpected chain id: %v", arb.Domain.ChainId)
	}
	sig, err := SignTypedDataWithKey(key, arb)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	got, err := RecoverTypedDataSigner(arb, sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if got != user {
		t.Fatalf("recovered=%s want=%s", got.Hex(), user.Hex())
	}

	// 换成测试网链 ID 后同一签名不再对应用户地址
	sepolia := BuildApproveAgentTypedData(421614, action)
	if addr, _ := RecoverTypedDataSigner(sepolia, sig); addr == user {
		t.Fatalf("signature must be bound to chain id")
	}

	fee := BuildApproveBuilderFeeTypedData(42161, ApproveBuilderFeeAction{
		HyperliquidChain: "Mainnet",
		SignatureChainID: "0xa4b1",
		MaxFeeRate:       "0.1%",
		Builder:          "0x7b4497c1b70de6546b551bdf8f951da53b71b97d",
		Nonce:            1700000000001,
	})
	if _, err := HashTypedData(fee); err != nil {
		t.Fatalf("hash builder fee typed data: %v", err)
	}
}

func TestSplitSignature(t *testing.T) {
	raw := make([]byte, 65)
	raw[0] = 0x01
	raw[63] = 0x02
	raw[64] = 1
	sig, err := SplitSignature(raw)
	if err != nil {
		t.Fatalf("SplitSignature: %v", err)
	}
	if sig.V != 28 {
		t.Fatalf("v must be normalized to 28, got %d", sig.V)
	}
	if _, err := SplitSignature(raw[:64]); err == nil {
		t.Fatalf("expected length error")
	}
}
