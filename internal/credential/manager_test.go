package credential

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/betbot/perpplay/hl/client"
	"github.com/betbot/perpplay/hl/signing"
	"github.com/betbot/perpplay/hl/types"
	"github.com/betbot/perpplay/internal/domain"
	"github.com/betbot/perpplay/internal/events"
	"github.com/betbot/perpplay/internal/wallet"
	"github.com/betbot/perpplay/pkg/secretstore"
)

const (
	userKeyA = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	userKeyB = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
)

// fakeExchange 记录提交的动作；approveAgent 成功后该 agent 出现在 extraAgents 中
type fakeExchange struct {
	mu          sync.Mutex
	actions     []signing.Action
	rejectAgent string
	rejectFee   string
	agents      map[common.Address][]types.ExtraAgent
	agentsErr   error
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{agents: make(map[common.Address][]types.ExtraAgent)}
}

func okResponse() *types.ExchangeResponse {
	return &types.ExchangeResponse{Status: types.StatusOK, Response: json.RawMessage(`{"type":"default"}`)}
}

func errResponse(msg string) *types.ExchangeResponse {
	b, _ := json.Marshal(msg)
	return &types.ExchangeResponse{Status: types.StatusErr, Response: b}
}

func (f *fakeExchange) PostAction(_ context.Context, action signing.Action, _ uint64, sig types.Signature) (*types.ExchangeResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, action)
	if sig.V != 27 && sig.V != 28 {
		return errResponse("bad signature"), nil
	}
	switch a := action.(type) {
	case signing.ApproveAgentAction:
		if f.rejectAgent != "" {
			return errResponse(f.rejectAgent), nil
		}
		// 用户地址在测试里由调用方预先登记
		for user := range f.agents {
			f.agents[user] = append(f.agents[user], types.ExtraAgent{AgentAddress: a.AgentAddress, AgentName: a.AgentName})
		}
	case signing.ApproveBuilderFeeAction:
		if f.rejectFee != "" {
			return errResponse(f.rejectFee), nil
		}
	}
	return okResponse(), nil
}

func (f *fakeExchange) ExtraAgents(_ context.Context, user common.Address) ([]types.ExtraAgent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.agentsErr != nil {
		return nil, f.agentsErr
	}
	return append([]types.ExtraAgent(nil), f.agents[user]...), nil
}

func (f *fakeExchange) actionTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.actions))
	for _, a := range f.actions {
		out = append(out, a.ActionType())
	}
	return out
}

func openStore(t *testing.T) (*secretstore.Store, *SecretStore) {
	t.Helper()
	kv, err := secretstore.Open(secretstore.OpenOptions{InMemory: true})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = kv.Close() })
	return kv, NewSecretStore(kv, nil)
}

func mustWallet(t *testing.T, key string) *wallet.LocalWallet {
	t.Helper()
	w, err := wallet.NewLocalWallet(key)
	if err != nil {
		t.Fatalf("wallet: %v", err)
	}
	return w
}

func newTestManager(ex Exchange, store Store, rep events.Reporter) *Manager {
	nc, _ := types.GetNetworkConfig(types.NetworkTestnet)
	return NewManager(ex, Options{
		Network:           nc,
		AgentName:         "PerpPlay",
		BuilderAddress:    "0x7b4497c1b70de6546b551bdf8f951da53b71b97d",
		MaxBuilderFeeRate: "0.1%",
		ApproveBuilderFee: true,
		Store:             store,
		Reporter:          rep,
	})
}

func TestEstablishPersistRestoreRoundTrip(t *testing.T) {
	_, store := openStore(t)
	ex := newFakeExchange()
	userA := mustWallet(t, userKeyA)
	ex.agents[userA.Address()] = nil

	rep := events.NewChannelReporter(32)
	m := newTestManager(ex, store, rep)
	session, err := m.EstablishSession(context.Background(), userA)
	if err != nil {
		t.Fatalf("establish: %v", err)
	}
	if !session.Active() || !session.FeeApproved {
		t.Fatalf("session not fully active: %+v", session)
	}
	if m.State() != StateSessionActive {
		t.Fatalf("state = %s", m.State())
	}
	got := ex.actionTypes()
	if len(got) != 2 || got[0] != signing.ActionTypeApproveAgent || got[1] != signing.ActionTypeApproveBuilderFee {
		t.Fatalf("actions = %v", got)
	}

	rec, err := store.Load()
	if err != nil || rec == nil {
		t.Fatalf("stored record missing: %v", err)
	}
	if rec.WalletAddress != userA.Address().Hex() {
		t.Fatalf("stored wallet = %s", rec.WalletAddress)
	}

	// 新进程：同一存储 + 同一钱包
	m2 := newTestManager(ex, store, nil)
	restored, err := m2.Restore(context.Background(), userA)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.AgentAddress() != session.AgentAddress() {
		t.Fatalf("restored agent %s, want %s", restored.AgentAddress().Hex(), session.AgentAddress().Hex())
	}
	if restored.UserAddress != userA.Address() || !restored.FeeApproved {
		t.Fatalf("restored session mismatch: %+v", restored)
	}

	// 状态事件至少包含 pending → approved → active
	rep.Close()
	var states []string
	for ev := range rep.Events() {
		if s, ok := ev.(events.SessionStateEvent); ok {
			states = append(states, s.To)
		}
	}
	want := []string{"wallet_authorized", "agent_pending_approval", "agent_approved", "fee_approved", "session_active"}
	if len(states) != len(want) {
		t.Fatalf("states = %v", states)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("states = %v, want %v", states, want)
		}
	}
}

func TestRestoreWithDifferentWalletClearsStorage(t *testing.T) {
	_, store := openStore(t)
	ex := newFakeExchange()
	userA := mustWallet(t, userKeyA)
	userB := mustWallet(t, userKeyB)
	ex.agents[userA.Address()] = nil

	m := newTestManager(ex, store, nil)
	if _, err := m.EstablishSession(context.Background(), userA); err != nil {
		t.Fatalf("establish: %v", err)
	}

	m2 := newTestManager(ex, store, nil)
	_, err := m2.Restore(context.Background(), userB)
	if !IsRestoreReason(err, ReasonWalletMismatch) {
		t.Fatalf("err = %v, want wallet_mismatch", err)
	}
	if rec, _ := store.Load(); rec != nil {
		t.Fatalf("storage should be cleared after mismatch")
	}

	_, err = m2.Restore(context.Background(), userA)
	if !IsRestoreReason(err, ReasonNoStoredData) {
		t.Fatalf("second restore err = %v, want no_stored_data", err)
	}
}

func TestRestoreMalformedRecordIsAbsence(t *testing.T) {
	kv, store := openStore(t)
	if err := kv.SetString(StorageKey, "{not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	m := newTestManager(newFakeExchange(), store, nil)
	_, err := m.Restore(context.Background(), mustWallet(t, userKeyA))
	if !IsRestoreReason(err, ReasonNoStoredData) {
		t.Fatalf("err = %v, want no_stored_data", err)
	}
	if _, found, _ := kv.Get(StorageKey); found {
		t.Fatalf("malformed record should be discarded")
	}
}

func TestRestoreExpiredAgent(t *testing.T) {
	_, store := openStore(t)
	ex := newFakeExchange()
	userA := mustWallet(t, userKeyA)
	ex.agents[userA.Address()] = nil

	m := newTestManager(ex, store, nil)
	if _, err := m.EstablishSession(context.Background(), userA); err != nil {
		t.Fatalf("establish: %v", err)
	}
	// 交易所侧已撤销
	ex.agents[userA.Address()] = nil

	_, err := newTestManager(ex, store, nil).Restore(context.Background(), userA)
	if !IsRestoreReason(err, ReasonAgentExpired) {
		t.Fatalf("err = %v, want agent_expired", err)
	}
	if rec, _ := store.Load(); rec != nil {
		t.Fatalf("expired agent should be cleared")
	}
}

func TestRestoreNetworkFailureKeepsRecord(t *testing.T) {
	_, store := openStore(t)
	ex := newFakeExchange()
	userA := mustWallet(t, userKeyA)
	ex.agents[userA.Address()] = nil

	if _, err := newTestManager(ex, store, nil).EstablishSession(context.Background(), userA); err != nil {
		t.Fatalf("establish: %v", err)
	}
	ex.agentsErr = client.ErrNetworkUnavailable

	_, err := newTestManager(ex, store, nil).Restore(context.Background(), userA)
	if !errors.Is(err, domain.ErrNetworkUnavailable) || !domain.IsRetryable(err) {
		t.Fatalf("err = %v, want retryable network error", err)
	}
	if rec, _ := store.Load(); rec == nil {
		t.Fatalf("record must survive a transport failure")
	}
}

// lockedWallet 钱包在线但没有解锁账户
type lockedWallet struct{}

func (lockedWallet) Accounts(context.Context) ([]common.Address, error) { return nil, nil }
func (lockedWallet) SignTypedData(context.Context, common.Address, apitypes.TypedData) ([]byte, error) {
	return nil, signing.ErrSigningUnavailable
}

func TestRestoreWalletStates(t *testing.T) {
	_, store := openStore(t)
	if err := store.Save(StoredSession{
		WalletAddress:   "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
		AgentPrivateKey: userKeyB,
		Timestamp:       1,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	m := newTestManager(newFakeExchange(), store, nil)

	if _, err := m.Restore(context.Background(), nil); !IsRestoreReason(err, ReasonNoWallet) {
		t.Fatalf("nil wallet err = %v", err)
	}
	if _, err := m.Restore(context.Background(), lockedWallet{}); !IsRestoreReason(err, ReasonWalletLocked) {
		t.Fatalf("locked wallet err = %v", err)
	}
	if rec, _ := store.Load(); rec == nil {
		t.Fatalf("no_wallet / wallet_locked must keep the record")
	}
}

func TestEstablishAgentRejected(t *testing.T) {
	_, store := openStore(t)
	ex := newFakeExchange()
	ex.rejectAgent = "Must deposit before performing actions."

	m := newTestManager(ex, store, nil)
	_, err := m.EstablishSession(context.Background(), mustWallet(t, userKeyA))
	if !errors.Is(err, domain.ErrAgentApprovalFailed) {
		t.Fatalf("err = %v, want agent approval failure", err)
	}
	if m.State() != StateDisconnected || m.Session() != nil {
		t.Fatalf("failed establish must leave manager disconnected")
	}
	if rec, _ := store.Load(); rec != nil {
		t.Fatalf("nothing should be persisted")
	}
}

func TestEstablishFeeRejectionIsNonFatal(t *testing.T) {
	_, store := openStore(t)
	ex := newFakeExchange()
	ex.rejectFee = "builder fee too high"

	m := newTestManager(ex, store, nil)
	s, err := m.EstablishSession(context.Background(), mustWallet(t, userKeyA))
	if err != nil {
		t.Fatalf("establish: %v", err)
	}
	if !s.Active() || s.FeeApproved {
		t.Fatalf("want active session without fee approval, got %+v", s)
	}
}

func TestEstablishLockedWallet(t *testing.T) {
	m := newTestManager(newFakeExchange(), nil, nil)
	_, err := m.EstablishSession(context.Background(), lockedWallet{})
	if !errors.Is(err, domain.ErrWalletUnavailable) {
		t.Fatalf("err = %v, want wallet unavailable", err)
	}
}

func TestTeardownIdempotent(t *testing.T) {
	_, store := openStore(t)
	ex := newFakeExchange()
	m := newTestManager(ex, store, nil)
	s, err := m.EstablishSession(context.Background(), mustWallet(t, userKeyA))
	if err != nil {
		t.Fatalf("establish: %v", err)
	}

	if err := m.Teardown(); err != nil {
		t.Fatalf("teardown: %v", err)
	}
	if err := m.Teardown(); err != nil {
		t.Fatalf("second teardown: %v", err)
	}
	if !s.Agent.Destroyed() || s.Active() {
		t.Fatalf("agent key should be zeroed")
	}
	if _, err := s.SignAction(signing.UpdateLeverageAction{Asset: 0, IsCross: true, Leverage: 5}, 1); !errors.Is(err, domain.ErrSessionInactive) {
		t.Fatalf("sign after teardown err = %v", err)
	}
	if rec, _ := store.Load(); rec != nil {
		t.Fatalf("teardown should clear storage")
	}
}
