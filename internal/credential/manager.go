package credential

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/betbot/perpplay/hl/signing"
	"github.com/betbot/perpplay/hl/types"
	"github.com/betbot/perpplay/internal/domain"
	"github.com/betbot/perpplay/internal/events"
	"github.com/betbot/perpplay/internal/metrics"
)

// WalletConnector 用户钱包：列出账户 + EIP-712 签名
type WalletConnector interface {
	signing.TypedDataSigner
	Accounts(ctx context.Context) ([]common.Address, error)
}

// Exchange 凭证流程需要的交易所能力
type Exchange interface {
	PostAction(ctx context.Context, action signing.Action, nonce uint64, sig types.Signature) (*types.ExchangeResponse, error)
	ExtraAgents(ctx context.Context, user common.Address) ([]types.ExtraAgent, error)
}

// Options Manager 配置
type Options struct {
	Network             types.NetworkConfig
	AgentName           string
	BuilderAddress      string
	MaxBuilderFeeRate   string
	ApproveBuilderFee   bool
	VerifyAfterApproval bool
	PropagationDelay    time.Duration

	Store    Store
	Nonces   *signing.NonceGenerator
	Reporter events.Reporter
	Logger   *logrus.Entry
	Now      func() time.Time
}

// Manager 管理 agent 会话的建立、持久化、恢复与销毁。
// 它是唯一能创建/销毁 agent 私钥的组件。
type Manager struct {
	exchange Exchange
	opts     Options
	store    Store
	nonces   *signing.NonceGenerator
	reporter events.Reporter
	log      *logrus.Entry
	now      func() time.Time

	opMu sync.Mutex // 串行化 Establish / Restore / Teardown

	mu      sync.RWMutex
	state   State
	session *domain.Session
}

// NewManager 创建凭证管理器
func NewManager(exchange Exchange, opts Options) *Manager {
	m := &Manager{
		exchange: exchange,
		opts:     opts,
		store:    opts.Store,
		nonces:   opts.Nonces,
		reporter: events.OrNop(opts.Reporter),
		log:      opts.Logger,
		now:      opts.Now,
	}
	if m.nonces == nil {
		m.nonces = signing.NewNonceGenerator()
	}
	if m.log == nil {
		m.log = logrus.WithField("component", "credential")
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.opts.AgentName == "" {
		m.opts.AgentName = "PerpPlay"
	}
	return m
}

// State 当前状态
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Session 当前会话，未建立返回 nil
func (m *Manager) Session() *domain.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session
}

func (m *Manager) transition(to State, err error) {
	m.mu.Lock()
	from := m.state
	m.state = to
	m.mu.Unlock()

	if from == to && err == nil {
		return
	}
	m.log.WithFields(logrus.Fields{"from": from.String(), "to": to.String()}).Debug("session state")
	m.reporter.OnSessionState(events.SessionStateEvent{
		From:      from.String(),
		To:        to.String(),
		Err:       err,
		Timestamp: m.now(),
	})
}

// EstablishSession 连接钱包并授权新的 agent。
// 只有 agent 授权失败是致命的；builder 费率授权失败只记录日志。
func (m *Manager) EstablishSession(ctx context.Context, wallet WalletConnector) (*domain.Session, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	session, err := m.establish(ctx, wallet)
	if err != nil {
		metrics.SessionsTotal.WithLabelValues("establish", "error").Inc()
		m.transition(StateDisconnected, err)
		return nil, err
	}
	metrics.SessionsTotal.WithLabelValues("establish", "ok").Inc()
	return session, nil
}

func (m *Manager) establish(ctx context.Context, wallet WalletConnector) (*domain.Session, error) {
	user, err := m.primaryAccount(ctx, wallet)
	if err != nil {
		return nil, err
	}
	if user == (common.Address{}) {
		return nil, fmt.Errorf("%w: no accounts", domain.ErrWalletUnavailable)
	}
	m.transition(StateWalletAuthorized, nil)

	// 旧会话（内存 + 存储）先清掉，避免新旧 agent 混用
	m.dropSession()
	if err := m.clearStore(); err != nil {
		m.log.Warnf("clear previous session: %v", err)
	}

	agent, err := signing.GenerateAgentKey()
	if err != nil {
		return nil, err
	}

	m.transition(StateAgentPendingApproval, nil)
	if err := m.approveAgent(ctx, wallet, user, agent.Address()); err != nil {
		agent.Destroy()
		return nil, err
	}
	m.transition(StateAgentApproved, nil)
	m.log.Infof("agent %s approved for %s", agent.Address().Hex(), user.Hex())

	if m.opts.VerifyAfterApproval {
		if err := sleepCtx(ctx, m.opts.PropagationDelay); err != nil {
			agent.Destroy()
			return nil, err
		}
		ok, verr := m.VerifyAgent(ctx, user, agent.Address())
		switch {
		case verr != nil:
			m.log.Warnf("verify agent after approval: %v", verr)
		case !ok:
			m.log.Warn("agent not yet visible in extraAgents, continuing")
		}
	}

	feeApproved := false
	if m.opts.ApproveBuilderFee && m.opts.BuilderAddress != "" {
		if err := m.approveBuilderFee(ctx, wallet, user); err != nil {
			m.log.Warnf("%v", err)
			m.transition(StateFeeApprovalFailed, err)
		} else {
			feeApproved = true
			m.transition(StateFeeApproved, nil)
		}
	}

	session := &domain.Session{
		UserAddress: user,
		Agent:       agent,
		Network:     m.opts.Network,
		Authorized:  true,
		FeeApproved: feeApproved,
		CreatedAt:   m.now(),
	}
	m.mu.Lock()
	m.session = session
	m.mu.Unlock()
	m.transition(StateSessionActive, nil)

	if err := m.Persist(session); err != nil {
		// 会话依然可用，只是重启后需要重新授权
		m.log.Warnf("persist session: %v", err)
	}
	return session, nil
}

// primaryAccount 钱包第一个账户；空列表返回零地址
func (m *Manager) primaryAccount(ctx context.Context, wallet WalletConnector) (common.Address, error) {
	if wallet == nil {
		return common.Address{}, domain.ErrWalletUnavailable
	}
	accounts, err := wallet.Accounts(ctx)
	if err != nil {
		if errors.Is(err, signing.ErrSigningDeclined) {
			return common.Address{}, err
		}
		return common.Address{}, fmt.Errorf("%w: %v", domain.ErrWalletUnavailable, err)
	}
	if len(accounts) == 0 {
		return common.Address{}, nil
	}
	return accounts[0], nil
}

func (m *Manager) approveAgent(ctx context.Context, wallet WalletConnector, user, agent common.Address) error {
	nonce := m.nonces.Next()
	action := signing.ApproveAgentAction{
		HyperliquidChain: m.opts.Network.ChainLabel,
		SignatureChainID: m.opts.Network.SignatureChainIDHex(),
		AgentAddress:     agent.Hex(),
		AgentName:        m.opts.AgentName,
		Nonce:            nonce,
	}
	td := signing.BuildApproveAgentTypedData(m.opts.Network.UserSignedChainID, action)

	raw, err := wallet.SignTypedData(ctx, user, td)
	if err != nil {
		return fmt.Errorf("approve agent: %w", err)
	}
	sig, err := signing.SplitSignature(raw)
	if err != nil {
		return fmt.Errorf("approve agent: %w", err)
	}

	resp, err := m.exchange.PostAction(ctx, action, nonce, sig)
	if err != nil {
		return fmt.Errorf("approve agent: %w", err)
	}
	if !resp.IsOK() {
		return fmt.Errorf("%w: %s", domain.ErrAgentApprovalFailed, resp.ErrorText())
	}
	return nil
}

func (m *Manager) approveBuilderFee(ctx context.Context, wallet WalletConnector, user common.Address) error {
	nonce := m.nonces.Next()
	action := signing.ApproveBuilderFeeAction{
		HyperliquidChain: m.opts.Network.ChainLabel,
		SignatureChainID: m.opts.Network.SignatureChainIDHex(),
		MaxFeeRate:       m.opts.MaxBuilderFeeRate,
		Builder:          strings.ToLower(m.opts.BuilderAddress),
		Nonce:            nonce,
	}
	td := signing.BuildApproveBuilderFeeTypedData(m.opts.Network.UserSignedChainID, action)

	raw, err := wallet.SignTypedData(ctx, user, td)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrFeeApprovalFailed, err)
	}
	sig, err := signing.SplitSignature(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrFeeApprovalFailed, err)
	}
	resp, err := m.exchange.PostAction(ctx, action, nonce, sig)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrFeeApprovalFailed, err)
	}
	if !resp.IsOK() {
		return fmt.Errorf("%w: %s", domain.ErrFeeApprovalFailed, resp.ErrorText())
	}
	return nil
}

// Persist 写入会话记录（钱包地址 + agent 私钥 + 时间戳）
func (m *Manager) Persist(session *domain.Session) error {
	if m.store == nil {
		return nil
	}
	if !session.Active() {
		return domain.ErrSessionInactive
	}
	keyHex, err := session.Agent.ExportHex()
	if err != nil {
		return err
	}
	return m.store.Save(StoredSession{
		WalletAddress:      session.UserAddress.Hex(),
		AgentPrivateKey:    keyHex,
		Timestamp:          session.CreatedAt.UnixMilli(),
		BuilderFeeApproved: session.FeeApproved,
	})
}

// Restore 从存储恢复会话，并向交易所确认 agent 仍然有效。
// 验证阶段的网络错误原样返回，保留存储记录以便重试。
func (m *Manager) Restore(ctx context.Context, wallet WalletConnector) (*domain.Session, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	session, err := m.restore(ctx, wallet)
	if err != nil {
		var re *RestoreError
		if errors.As(err, &re) {
			metrics.SessionsTotal.WithLabelValues("restore", string(re.Reason)).Inc()
		} else {
			metrics.SessionsTotal.WithLabelValues("restore", "error").Inc()
		}
		return nil, err
	}
	metrics.SessionsTotal.WithLabelValues("restore", "ok").Inc()
	return session, nil
}

func (m *Manager) restore(ctx context.Context, wallet WalletConnector) (*domain.Session, error) {
	if m.store == nil {
		return nil, &RestoreError{Reason: ReasonNoStoredData}
	}
	rec, err := m.store.Load()
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, &RestoreError{Reason: ReasonNoStoredData}
	}

	if wallet == nil {
		return nil, &RestoreError{Reason: ReasonNoWallet}
	}
	user, err := m.primaryAccount(ctx, wallet)
	if err != nil {
		return nil, &RestoreError{Reason: ReasonNoWallet, Err: err}
	}
	if user == (common.Address{}) {
		return nil, &RestoreError{Reason: ReasonWalletLocked}
	}

	if !strings.EqualFold(user.Hex(), rec.WalletAddress) {
		m.log.Infof("stored session belongs to %s, wallet is %s; clearing", rec.WalletAddress, user.Hex())
		m.clearStoreLogged()
		return nil, &RestoreError{Reason: ReasonWalletMismatch}
	}

	agent, err := signing.AgentKeyFromHex(rec.AgentPrivateKey)
	if err != nil {
		m.clearStoreLogged()
		return nil, &RestoreError{Reason: ReasonNoStoredData, Err: err}
	}

	ok, err := m.VerifyAgent(ctx, user, agent.Address())
	if err != nil {
		agent.Destroy()
		return nil, fmt.Errorf("verify stored agent: %w", err)
	}
	if !ok {
		agent.Destroy()
		m.clearStoreLogged()
		return nil, &RestoreError{Reason: ReasonAgentExpired}
	}

	session := &domain.Session{
		UserAddress: user,
		Agent:       agent,
		Network:     m.opts.Network,
		Authorized:  true,
		FeeApproved: rec.BuilderFeeApproved,
		CreatedAt:   time.UnixMilli(rec.Timestamp),
	}
	m.dropSession()
	m.mu.Lock()
	m.session = session
	m.mu.Unlock()
	m.transition(StateSessionActive, nil)
	m.log.Infof("restored agent %s for %s", agent.Address().Hex(), user.Hex())
	return session, nil
}

// VerifyAgent agent 是否在用户的 extraAgents 中（地址大小写不敏感、名称一致、未过期）
func (m *Manager) VerifyAgent(ctx context.Context, user, agent common.Address) (bool, error) {
	agents, err := m.exchange.ExtraAgents(ctx, user)
	if err != nil {
		return false, err
	}
	nowMs := m.now().UnixMilli()
	for _, a := range agents {
		if !strings.EqualFold(a.AgentAddress, agent.Hex()) || a.AgentName != m.opts.AgentName {
			continue
		}
		if a.ValidUntil > 0 && a.ValidUntil <= nowMs {
			return false, nil
		}
		return true, nil
	}
	return false, nil
}

// Teardown 清零 agent 私钥、删除存储记录。可重复调用。
func (m *Manager) Teardown() error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.dropSession()
	err := m.clearStore()
	m.transition(StateDisconnected, nil)
	return err
}

func (m *Manager) dropSession() {
	m.mu.Lock()
	s := m.session
	m.session = nil
	m.mu.Unlock()
	if s != nil && s.Agent != nil {
		s.Agent.Destroy()
	}
}

func (m *Manager) clearStore() error {
	if m.store == nil {
		return nil
	}
	return m.store.Clear()
}

func (m *Manager) clearStoreLogged() {
	if err := m.clearStore(); err != nil {
		m.log.Warnf("clear stored session: %v", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
