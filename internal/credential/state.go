package credential

// State 凭证状态机
//
//	Disconnected → WalletAuthorized → AgentPendingApproval → AgentApproved
//	  → (FeeApproved | FeeApprovalFailed) → SessionActive
//
// 任一步失败回到 Disconnected。
type State int

const (
	StateDisconnected State = iota
	StateWalletAuthorized
	StateAgentPendingApproval
	StateAgentApproved
	StateFeeApproved
	StateFeeApprovalFailed
	StateSessionActive
)

var stateNames = [...]string{
	StateDisconnected:         "disconnected",
	StateWalletAuthorized:     "wallet_authorized",
	StateAgentPendingApproval: "agent_pending_approval",
	StateAgentApproved:        "agent_approved",
	StateFeeApproved:          "fee_approved",
	StateFeeApprovalFailed:    "fee_approval_failed",
	StateSessionActive:        "session_active",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}
