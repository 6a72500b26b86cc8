package credential

import (
	"errors"
	"fmt"
)

// RestoreReason 恢复失败原因（稳定字符串，供界面分支）
type RestoreReason string

const (
	ReasonNoStoredData   RestoreReason = "no_stored_data"
	ReasonNoWallet       RestoreReason = "no_wallet"
	ReasonWalletLocked   RestoreReason = "wallet_locked"
	ReasonWalletMismatch RestoreReason = "wallet_mismatch"
	ReasonAgentExpired   RestoreReason = "agent_expired"
)

// RestoreError 会话恢复失败；除 no_wallet/wallet_locked 外存储已被清除
type RestoreError struct {
	Reason RestoreReason
	Err    error
}

func (e *RestoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("restore session: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("restore session: %s", e.Reason)
}

func (e *RestoreError) Unwrap() error { return e.Err }

// IsRestoreReason err 是否为指定原因的 RestoreError
func IsRestoreReason(err error, reason RestoreReason) bool {
	var re *RestoreError
	return errors.As(err, &re) && re.Reason == reason
}
