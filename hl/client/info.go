package client

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/betbot/perpplay/hl/types"
	"github.com/betbot/perpplay/pkg/ratelimit"
)

type infoRequest struct {
	Type string `json:"type"`
	User string `json:"user,omitempty"`
}

// Info 通用 /info 查询，结果解析到 out
func (c *Client) Info(ctx context.Context, req any, out any) error {
	body, err := c.post(ctx, c.info, ratelimit.EndpointInfo, infoPath, req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errors.Wrap(err, "解析 info 响应失败")
	}
	return nil
}

// MetaAndAssetCtxs 一次请求拿到资产元数据与实时上下文（两个平行数组）
func (c *Client) MetaAndAssetCtxs(ctx context.Context) (*types.MetaAndAssetCtxs, error) {
	var out types.MetaAndAssetCtxs
	if err := c.Info(ctx, infoRequest{Type: "metaAndAssetCtxs"}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ClearinghouseState 用户永续账户状态（余额、持仓）
func (c *Client) ClearinghouseState(ctx context.Context, user common.Address) (*types.ClearinghouseState, error) {
	var out types.ClearinghouseState
	req := infoRequest{Type: "clearinghouseState", User: strings.ToLower(user.Hex())}
	if err := c.Info(ctx, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ExtraAgents 用户已授权的 agent 列表
func (c *Client) ExtraAgents(ctx context.Context, user common.Address) ([]types.ExtraAgent, error) {
	var out []types.ExtraAgent
	req := infoRequest{Type: "extraAgents", User: strings.ToLower(user.Hex())}
	if err := c.Info(ctx, req, &out); err != nil {
		return nil, err
	}
	return out, nil
}
