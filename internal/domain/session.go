package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/betbot/perpplay/hl/signing"
	"github.com/betbot/perpplay/hl/types"
)

// Session 用户钱包 + 已授权 agent 的交易会话。
// 只有 credential.Manager 创建和销毁它；其他组件只通过 SignAction 使用 agent 私钥。
type Session struct {
	UserAddress common.Address
	Agent       *signing.AgentKey
	Network     types.NetworkConfig
	Authorized  bool
	FeeApproved bool
	CreatedAt   time.Time
}

// AgentAddress agent 公开地址
func (s *Session) AgentAddress() common.Address {
	if s == nil || s.Agent == nil {
		return common.Address{}
	}
	return s.Agent.Address()
}

// Active 会话是否可用于交易
func (s *Session) Active() bool {
	return s != nil && s.Authorized && s.Agent != nil && !s.Agent.Destroyed()
}

// SignAction 用 agent 私钥签名 L1 动作（不使用 vault）
func (s *Session) SignAction(action signing.Action, nonce uint64) (types.Signature, error) {
	if !s.Active() {
		return types.Signature{}, ErrSessionInactive
	}
	return s.Agent.SignAction(action, nonce, nil, s.Network.AgentSource)
}
