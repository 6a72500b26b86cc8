package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/betbot/perpplay/hl/signing"
	"github.com/betbot/perpplay/hl/types"
)

func newTestClient(t *testing.T, h http.HandlerFunc, retries int) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(types.NetworkConfig{Network: types.NetworkTestnet, APIURL: srv.URL}, Options{
		Timeout:    2 * time.Second,
		RetryCount: retries,
	})
}

func TestMetaAndAssetCtxs(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/info" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), `"type":"metaAndAssetCtxs"`) {
			t.Errorf("unexpected body %s", body)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"universe":[{"name":"BTC","szDecimals":5,"maxLeverage":50},{"name":"ETH","szDecimals":4,"maxLeverage":25}]},
			[{"markPx":"50000.0","openInterest":"1000"},{"markPx":"3000.5","openInterest":"20000"}]]`))
	}, 0)

	out, err := c.MetaAndAssetCtxs(context.Background())
	if err != nil {
		t.Fatalf("MetaAndAssetCtxs: %v", err)
	}
	if len(out.Meta.Universe) != 2 || len(out.Ctxs) != 2 {
		t.Fatalf("unexpected lengths: %d %d", len(out.Meta.Universe), len(out.Ctxs))
	}
	if out.Meta.Universe[1].Name != "ETH" || out.Ctxs[1].MarkPx != "3000.5" {
		t.Fatalf("unexpected payload: %+v", out)
	}
}

func TestExtraAgents_BothFieldShapes(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"agentAddress":"0xAbC0000000000000000000000000000000000001","agentName":"PerpPlay"},
			{"address":"0x0000000000000000000000000000000000000002","name":"Other","validUntil":1700000000000}]`))
	}, 0)

	agents, err := c.ExtraAgents(context.Background(), common.HexToAddress("0x01"))
	if err != nil {
		t.Fatalf("ExtraAgents: %v", err)
	}
	if len(agents) != 2 || agents[0].AgentName != "PerpPlay" || agents[1].AgentName != "Other" {
		t.Fatalf("unexpected agents: %+v", agents)
	}
	if agents[1].AgentAddress != "0x0000000000000000000000000000000000000002" || agents[1].ValidUntil != 1700000000000 {
		t.Fatalf("fallback field names not parsed: %+v", agents[1])
	}
}

func TestPostAction_RequestShapeAndNoRetry(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		var req map[string]json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if string(req["vaultAddress"]) != "null" {
			t.Errorf("vaultAddress must be null, got %s", req["vaultAddress"])
		}
		if !strings.HasPrefix(string(req["action"]), `{"type":"updateLeverage","asset":3,"isCross":true,"leverage":10}`) {
			t.Errorf("unexpected action: %s", req["action"])
		}
		w.WriteHeader(http.StatusBadGateway)
	}, 3)

	_, err := c.PostAction(context.Background(), signing.UpdateLeverageAction{Asset: 3, IsCross: true, Leverage: 10}, 1, types.Signature{R: "0x1", S: "0x2", V: 27})
	if !errors.Is(err, ErrNetworkUnavailable) {
		t.Fatalf("expected ErrNetworkUnavailable, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected APIError 502, got %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("exchange endpoint must not retry, calls=%d", n)
	}
}

func TestPostAction_ErrStatusIsNotTransportError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"err","response":"User or API Wallet 0xabc does not exist."}`))
	}, 0)

	resp, err := c.PostAction(context.Background(), signing.UpdateLeverageAction{Asset: 0, Leverage: 1}, 1, types.Signature{})
	if err != nil {
		t.Fatalf("PostAction: %v", err)
	}
	if resp.IsOK() || !strings.Contains(resp.ErrorText(), "does not exist") {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestInfo_RetriesServerErrors(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"withdrawable":"12.5","marginSummary":{"accountValue":"20"},"crossMarginSummary":{"accountValue":"20"},"assetPositions":[]}`))
	}, 2)

	st, err := c.ClearinghouseState(context.Background(), common.HexToAddress("0x01"))
	if err != nil {
		t.Fatalf("ClearinghouseState: %v", err)
	}
	if st.Withdrawable != "12.5" {
		t.Fatalf("unexpected state: %+v", st)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Fatalf("expected one retry, calls=%d", n)
	}
}

func TestTimeoutMapsToRequestTimedOut(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.PostAction(ctx, signing.UpdateLeverageAction{}, 1, types.Signature{})
	if !errors.Is(err, ErrRequestTimedOut) {
		t.Fatalf("expected ErrRequestTimedOut, got %v", err)
	}
}
