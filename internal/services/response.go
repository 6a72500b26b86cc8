package services

import (
	"fmt"
	"strings"

	"github.com/betbot/perpplay/hl/types"
	"github.com/betbot/perpplay/internal/domain"
)

// 交易所不认可 agent 时的错误文本片段（小写匹配）
var unauthorizedMarkers = []string{
	"agent",
	"api wallet",
	"unauthorized",
	"not authorized",
}

// classifyRejection 交易所原文 → 错误。agent 相关的拒绝需要用户重新连接钱包。
func classifyRejection(text string) error {
	lower := strings.ToLower(text)
	for _, m := range unauthorizedMarkers {
		if strings.Contains(lower, m) {
			return fmt.Errorf("%w: %s", domain.ErrAgentUnauthorized, text)
		}
	}
	return &domain.OrderRejectedError{Message: text}
}

// interpretOrderResponse 解析下单响应。status=err 或首个 status 带 error 都算拒单。
func interpretOrderResponse(resp *types.ExchangeResponse) (types.OrderStatus, error) {
	if resp == nil {
		return types.OrderStatus{}, &domain.OrderRejectedError{Message: "empty response"}
	}
	if !resp.IsOK() {
		return types.OrderStatus{}, classifyRejection(resp.ErrorText())
	}
	statuses := resp.OrderStatuses()
	if len(statuses) == 0 {
		return types.OrderStatus{}, nil
	}
	st := statuses[0]
	if st.Error != "" {
		return st, classifyRejection(st.Error)
	}
	return st, nil
}

// interpretActionResponse 非下单动作（updateLeverage 等）只看 status
func interpretActionResponse(resp *types.ExchangeResponse) error {
	if resp == nil {
		return &domain.OrderRejectedError{Message: "empty response"}
	}
	if !resp.IsOK() {
		return classifyRejection(resp.ErrorText())
	}
	return nil
}

func orderID(st types.OrderStatus) int64 {
	switch {
	case st.Filled != nil:
		return st.Filled.Oid
	case st.Resting != nil:
		return st.Resting.Oid
	}
	return 0
}
