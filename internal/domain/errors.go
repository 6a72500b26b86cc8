package domain

import (
	"errors"
	"fmt"

	"github.com/betbot/perpplay/hl/client"
	"github.com/betbot/perpplay/hl/signing"
)

var (
	// ErrWalletUnavailable 钱包不可达 / 没有账户
	ErrWalletUnavailable = errors.New("钱包不可用")
	// ErrUserRejectedSignature 用户拒绝签名：不可重试，界面不提示
	ErrUserRejectedSignature = signing.ErrSigningDeclined
	// ErrSigningUnavailable 签名后端不可达：可重试
	ErrSigningUnavailable = signing.ErrSigningUnavailable
	// ErrAgentApprovalFailed 交易所拒绝 agent 授权，会话建立失败
	ErrAgentApprovalFailed = errors.New("agent 授权失败")
	// ErrFeeApprovalFailed builder 费率授权失败，仅记录日志
	ErrFeeApprovalFailed = errors.New("builder 费率授权失败")
	// ErrAgentUnauthorized 交易所不认可当前 agent，需要重新连接钱包
	ErrAgentUnauthorized = errors.New("agent 未授权，请重新连接钱包")
	// ErrInsufficientCollateral 保证金不足（下单前检查）
	ErrInsufficientCollateral = errors.New("保证金不足")
	// ErrOrderRejected 交易所业务拒单
	ErrOrderRejected = errors.New("订单被拒绝")
	// ErrNetworkUnavailable 传输层失败，可换新 nonce 重试
	ErrNetworkUnavailable = client.ErrNetworkUnavailable
	// ErrRequestTimedOut 请求超时，可换新 nonce 重试
	ErrRequestTimedOut = client.ErrRequestTimedOut
	// ErrTradeInFlight 已有开/平仓请求在进行中
	ErrTradeInFlight = errors.New("已有交易在进行中")
	// ErrNoCandidates 没有满足条件的交易标的
	ErrNoCandidates = errors.New("没有可交易的标的")
	// ErrSessionInactive 没有可用会话
	ErrSessionInactive = errors.New("会话未建立")
	// ErrPositionNotFound 仓位不存在
	ErrPositionNotFound = errors.New("仓位不存在")
)

// OrderRejectedError 交易所返回的拒单，Message 为交易所原文
type OrderRejectedError struct {
	Message string
}

func (e *OrderRejectedError) Error() string {
	return fmt.Sprintf("订单被拒绝: %s", e.Message)
}

// Is 让 errors.Is(err, ErrOrderRejected) 成立
func (e *OrderRejectedError) Is(target error) bool {
	return target == ErrOrderRejected
}

// IsRetryable 传输层错误可以换新 nonce 重试
func IsRetryable(err error) bool {
	return errors.Is(err, ErrNetworkUnavailable) ||
		errors.Is(err, ErrRequestTimedOut) ||
		errors.Is(err, ErrSigningUnavailable)
}

// IsSilent 用户主动拒绝，不需要弹出提示
func IsSilent(err error) bool {
	return errors.Is(err, ErrUserRejectedSignature)
}
