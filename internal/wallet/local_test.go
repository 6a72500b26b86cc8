package wallet

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/betbot/perpplay/hl/signing"
)

const hardhatMnemonic = "test test test test test test test test test test test junk"

func TestLocalWalletFromMnemonic(t *testing.T) {
	w, err := NewLocalWalletFromMnemonic(hardhatMnemonic, "")
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	want := common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	if w.Address() != want {
		t.Fatalf("address = %s, want %s", w.Address().Hex(), want.Hex())
	}

	accts, err := w.Accounts(context.Background())
	if err != nil || len(accts) != 1 || accts[0] != want {
		t.Fatalf("accounts = %v, %v", accts, err)
	}
}

func TestLocalWalletSignsRecoverably(t *testing.T) {
	w, err := NewLocalWallet("0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")
	if err != nil {
		t.Fatalf("new wallet: %v", err)
	}
	td := signing.BuildApproveAgentTypedData(421614, signing.ApproveAgentAction{
		HyperliquidChain: "Testnet",
		SignatureChainID: "0x66eee",
		AgentAddress:     "0x0000000000000000000000000000000000000001",
		AgentName:        "PerpPlay",
		Nonce:            1700000000000,
	})

	sig, err := w.SignTypedData(context.Background(), w.Address(), td)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	got, err := signing.RecoverTypedDataSigner(td, sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if got != w.Address() {
		t.Fatalf("recovered %s, want %s", got.Hex(), w.Address().Hex())
	}

	_, err = w.SignTypedData(context.Background(), common.HexToAddress("0x01"), td)
	if !errors.Is(err, signing.ErrSigningUnavailable) {
		t.Fatalf("foreign address err = %v", err)
	}
}

func TestLocalWalletRejectsBadInput(t *testing.T) {
	if _, err := NewLocalWallet(""); err == nil {
		t.Fatalf("empty key accepted")
	}
	if _, err := NewLocalWallet("zz"); err == nil {
		t.Fatalf("garbage key accepted")
	}
	if _, err := NewLocalWalletFromMnemonic("not a mnemonic", ""); err == nil {
		t.Fatalf("bad mnemonic accepted")
	}
}
