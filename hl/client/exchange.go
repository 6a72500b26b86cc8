package client

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/betbot/perpplay/hl/signing"
	"github.com/betbot/perpplay/hl/types"
	"github.com/betbot/perpplay/pkg/ratelimit"
)

// PostAction 提交已签名动作。不做任何重试：同一 nonce 的载荷只发一次。
// 交易所的业务失败（status=err）不作为 error 返回，由调用方解析 ExchangeResponse。
func (c *Client) PostAction(ctx context.Context, action signing.Action, nonce uint64, sig types.Signature) (*types.ExchangeResponse, error) {
	req := types.ExchangeRequest{
		Action:       action,
		Nonce:        nonce,
		Signature:    sig,
		VaultAddress: nil,
	}
	body, err := c.post(ctx, c.exchange, ratelimit.EndpointExchange, exchangePath, req)
	if err != nil {
		return nil, err
	}

	var out types.ExchangeResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, errors.Wrapf(err, "解析 exchange 响应失败: %s", string(body))
	}
	c.log.WithField("action", action.ActionType()).Debugf("exchange status=%s", out.Status)
	return &out, nil
}
