package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Tif 订单有效期
type Tif string

const (
	TifIoc Tif = "Ioc" // Immediate or Cancel：能成交的立即成交，剩余撤销，不挂单
	TifGtc Tif = "Gtc"
	TifAlo Tif = "Alo"
)

// Signature 拆分后的 65 字节签名（r,s,v）
type Signature struct {
	R string `json:"r"`
	S string `json:"s"`
	V int    `json:"v"`
}

// ExchangeRequest POST /exchange 请求体
type ExchangeRequest struct {
	Action       any       `json:"action"`
	Nonce        uint64    `json:"nonce"`
	Signature    Signature `json:"signature"`
	VaultAddress *string   `json:"vaultAddress"`
}

// ExchangeResponse POST /exchange 响应
// status=err 时 Response 是一段字符串；status=ok 时是 {type, data}。
type ExchangeResponse struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

const (
	StatusOK  = "ok"
	StatusErr = "err"
)

// IsOK 交易所是否接受了请求
func (r *ExchangeResponse) IsOK() bool {
	return r != nil && r.Status == StatusOK
}

// ErrorText 返回交易所的错误文本（原样）
func (r *ExchangeResponse) ErrorText() string {
	if r == nil || len(r.Response) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(r.Response, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(r.Response))
}

// OrderResponseBody status=ok 时订单动作的响应体
type OrderResponseBody struct {
	Type string `json:"type"`
	Data struct {
		Statuses []OrderStatus `json:"statuses"`
	} `json:"data"`
}

// OrderStatus 单笔订单结果，三者取其一
type OrderStatus struct {
	Filled *struct {
		TotalSz string `json:"totalSz"`
		AvgPx   string `json:"avgPx"`
		Oid     int64  `json:"oid"`
	} `json:"filled,omitempty"`
	Resting *struct {
		Oid int64 `json:"oid"`
	} `json:"resting,omitempty"`
	Error string `json:"error,omitempty"`
}

// OrderStatuses 解析 status=ok 响应中的订单状态列表；非订单响应返回 nil
func (r *ExchangeResponse) OrderStatuses() []OrderStatus {
	if !r.IsOK() || len(r.Response) == 0 {
		return nil
	}
	var body OrderResponseBody
	if err := json.Unmarshal(r.Response, &body); err != nil {
		return nil
	}
	return body.Data.Statuses
}

// UniverseEntry metaAndAssetCtxs[0].universe 元素
type UniverseEntry struct {
	Name        string `json:"name"`
	SzDecimals  int    `json:"szDecimals"`
	MaxLeverage int    `json:"maxLeverage"`
	IsDelisted  bool   `json:"isDelisted,omitempty"`
}

// Meta metaAndAssetCtxs[0]
type Meta struct {
	Universe []UniverseEntry `json:"universe"`
}

// AssetCtx metaAndAssetCtxs[1] 元素
type AssetCtx struct {
	MarkPx       string `json:"markPx"`
	OpenInterest string `json:"openInterest"`
	MidPx        string `json:"midPx"`
	Funding      string `json:"funding"`
}

// MetaAndAssetCtxs info{type:"metaAndAssetCtxs"} 的响应：两元素数组
type MetaAndAssetCtxs struct {
	Meta Meta
	Ctxs []AssetCtx
}

// UnmarshalJSON 解析 [meta, ctxs] 二元组
func (m *MetaAndAssetCtxs) UnmarshalJSON(b []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if len(raw) != 2 {
		return fmt.Errorf("metaAndAssetCtxs: 期望 2 个元素，实际 %d", len(raw))
	}
	if err := json.Unmarshal(raw[0], &m.Meta); err != nil {
		return err
	}
	return json.Unmarshal(raw[1], &m.Ctxs)
}

// AssetPosition clearinghouseState.assetPositions 元素
type AssetPosition struct {
	Type     string `json:"type"`
	Position struct {
		Coin          string `json:"coin"`
		Szi           string `json:"szi"`
		EntryPx       string `json:"entryPx"`
		PositionValue string `json:"positionValue"`
		UnrealizedPnl string `json:"unrealizedPnl"`
		Leverage      struct {
			Type  string `json:"type"`
			Value int    `json:"value"`
		} `json:"leverage"`
	} `json:"position"`
}

// MarginSummary 保证金汇总
type MarginSummary struct {
	AccountValue    string `json:"accountValue"`
	TotalNtlPos     string `json:"totalNtlPos"`
	TotalMarginUsed string `json:"totalMarginUsed"`
}

// ClearinghouseState info{type:"clearinghouseState"} 响应
type ClearinghouseState struct {
	Withdrawable       string          `json:"withdrawable"`
	MarginSummary      MarginSummary   `json:"marginSummary"`
	CrossMarginSummary MarginSummary   `json:"crossMarginSummary"`
	AssetPositions     []AssetPosition `json:"assetPositions"`
}

// ExtraAgent info{type:"extraAgents"} 响应元素
type ExtraAgent struct {
	AgentAddress string `json:"agentAddress"`
	AgentName    string `json:"agentName"`
	ValidUntil   int64  `json:"validUntil,omitempty"` // 毫秒；0 表示未返回
}

// UnmarshalJSON 同时兼容 {agentAddress,agentName} 与 {address,name} 两种字段名
func (a *ExtraAgent) UnmarshalJSON(b []byte) error {
	var raw struct {
		AgentAddress string `json:"agentAddress"`
		AgentName    string `json:"agentName"`
		Address      string `json:"address"`
		Name         string `json:"name"`
		ValidUntil   int64  `json:"validUntil"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	a.AgentAddress = raw.AgentAddress
	if a.AgentAddress == "" {
		a.AgentAddress = raw.Address
	}
	a.AgentName = raw.AgentName
	if a.AgentName == "" {
		a.AgentName = raw.Name
	}
	a.ValidUntil = raw.ValidUntil
	return nil
}
