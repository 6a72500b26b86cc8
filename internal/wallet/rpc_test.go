package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/betbot/perpplay/hl/signing"
)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// fakeWalletServer 按方法名返回结果或错误
func fakeWalletServer(t *testing.T, handle func(req rpcRequest) (any, *rpcErrorBody)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		result, rpcErr := handle(req)
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

type rpcErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func TestRPCWalletAccountsAndSign(t *testing.T) {
	user := common.HexToAddress("0x1111111111111111111111111111111111111111")
	sig := make([]byte, 65)
	sig[64] = 27
	var gotPayload string

	srv := fakeWalletServer(t, func(req rpcRequest) (any, *rpcErrorBody) {
		switch req.Method {
		case "eth_requestAccounts":
			return []string{user.Hex()}, nil
		case "eth_signTypedData_v4":
			if len(req.Params) != 2 {
				return nil, &rpcErrorBody{Code: -32602, Message: "bad params"}
			}
			_ = json.Unmarshal(req.Params[1], &gotPayload)
			return hexutil.Encode(sig), nil
		}
		return nil, &rpcErrorBody{Code: codeMethodNotFound, Message: "not found"}
	})
	defer srv.Close()

	w, err := DialRPCWallet(context.Background(), srv.URL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer w.Close()

	accts, err := w.Accounts(context.Background())
	if err != nil || len(accts) != 1 || accts[0] != user {
		t.Fatalf("accounts = %v, %v", accts, err)
	}

	td := signing.BuildAgentTypedData("a", common.Hash{1})
	out, err := w.SignTypedData(context.Background(), user, td)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if len(out) != 65 || out[64] != 27 {
		t.Fatalf("unexpected signature %x", out)
	}
	if !strings.Contains(gotPayload, `"primaryType":"Agent"`) {
		t.Fatalf("typed data payload missing primaryType: %s", gotPayload)
	}
}

func TestRPCWalletFallsBackToEthAccounts(t *testing.T) {
	srv := fakeWalletServer(t, func(req rpcRequest) (any, *rpcErrorBody) {
		if req.Method == "eth_accounts" {
			return []string{}, nil
		}
		return nil, &rpcErrorBody{Code: codeMethodNotFound, Message: "method not found"}
	})
	defer srv.Close()

	w, err := DialRPCWallet(context.Background(), srv.URL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	accts, err := w.Accounts(context.Background())
	if err != nil {
		t.Fatalf("accounts: %v", err)
	}
	if len(accts) != 0 {
		t.Fatalf("locked wallet should report no accounts, got %v", accts)
	}
}

func TestRPCWalletErrorMapping(t *testing.T) {
	srv := fakeWalletServer(t, func(req rpcRequest) (any, *rpcErrorBody) {
		return nil, &rpcErrorBody{Code: codeUserRejected, Message: "User rejected the request."}
	})
	defer srv.Close()

	w, err := DialRPCWallet(context.Background(), srv.URL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	_, err = w.SignTypedData(context.Background(), common.Address{}, signing.BuildAgentTypedData("a", common.Hash{}))
	if !errors.Is(err, signing.ErrSigningDeclined) {
		t.Fatalf("4001 should map to declined, got %v", err)
	}

	dead := httptest.NewServer(http.NotFoundHandler())
	url := dead.URL
	dead.Close()

	w2, err := DialRPCWallet(context.Background(), url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	_, err = w2.Accounts(context.Background())
	if !errors.Is(err, signing.ErrSigningUnavailable) {
		t.Fatalf("unreachable wallet should map to unavailable, got %v", err)
	}
}
