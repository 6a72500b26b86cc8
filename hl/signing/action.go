package signing

import (
	"encoding/json"
	"strings"

	"github.com/betbot/perpplay/hl/types"
)

// Action 交易所动作。只有本包内的变体能实现它（sealed），
// 每个变体以固定的声明顺序输出字段，键顺序由类型本身保证。
type Action interface {
	Encodable
	json.Marshaler
	ActionType() string
	sealed()
}

const (
	ActionTypeOrder             = "order"
	ActionTypeUpdateLeverage    = "updateLeverage"
	ActionTypeApproveAgent      = "approveAgent"
	ActionTypeApproveBuilderFee = "approveBuilderFee"

	// GroupingNA 普通下单（非 TP/SL 组合）
	GroupingNA = "na"
)

// OrderWire 单笔订单线上格式，字段顺序 a,b,p,s,r,t[,c]
type OrderWire struct {
	Asset      int
	IsBuy      bool
	LimitPx    string
	Size       string
	ReduceOnly bool
	Tif        types.Tif
	Cloid      *string
}

func (o OrderWire) wire() *OrderedMap {
	m := NewOrderedMap(7).
		Set("a", o.Asset).
		Set("b", o.IsBuy).
		Set("p", o.LimitPx).
		Set("s", o.Size).
		Set("r", o.ReduceOnly).
		Set("t", NewOrderedMap(1).Set("limit", NewOrderedMap(1).Set("tif", string(o.Tif))))
	if o.Cloid != nil {
		m.Set("c", *o.Cloid)
	}
	return m
}

// BuilderInfo 构建者费用：地址 + 费率（单位：0.1 bps）
type BuilderInfo struct {
	Address        string
	FeeTenthsOfBps int
}

// OrderAction 下单动作，字段顺序 type,orders,grouping[,builder]
type OrderAction struct {
	Orders   []OrderWire
	Grouping string
	Builder  *BuilderInfo
}

func (OrderAction) ActionType() string { return ActionTypeOrder }
func (OrderAction) sealed()            {}

// EncodeValue 实现 Encodable
func (a OrderAction) EncodeValue() any {
	orders := make([]any, 0, len(a.Orders))
	for _, o := range a.Orders {
		orders = append(orders, o.wire())
	}
	grouping := a.Grouping
	if grouping == "" {
		grouping = GroupingNA
	}
	m := NewOrderedMap(4).
		Set("type", ActionTypeOrder).
		Set("orders", orders).
		Set("grouping", grouping)
	if a.Builder != nil {
		m.Set("builder", NewOrderedMap(2).
			Set("b", strings.ToLower(a.Builder.Address)).
			Set("f", a.Builder.FeeTenthsOfBps))
	}
	return m
}

func (a OrderAction) MarshalJSON() ([]byte, error) {
	return a.EncodeValue().(*OrderedMap).MarshalJSON()
}

// UpdateLeverageAction 调整杠杆，字段顺序 type,asset,isCross,leverage
type UpdateLeverageAction struct {
	Asset    int
	IsCross  bool
	Leverage int
}

func (UpdateLeverageAction) ActionType() string { return ActionTypeUpdateLeverage }
func (UpdateLeverageAction) sealed()            {}

func (a UpdateLeverageAction) EncodeValue() any {
	return NewOrderedMap(4).
		Set("type", ActionTypeUpdateLeverage).
		Set("asset", a.Asset).
		Set("isCross", a.IsCross).
		Set("leverage", a.Leverage)
}

func (a UpdateLeverageAction) MarshalJSON() ([]byte, error) {
	return a.EncodeValue().(*OrderedMap).MarshalJSON()
}

// ApproveAgentAction 用户授权 agent（用户签名动作，不走 msgpack 哈希）
type ApproveAgentAction struct {
	HyperliquidChain string
	SignatureChainID string
	AgentAddress     string
	AgentName        string
	Nonce            uint64
}

func (ApproveAgentAction) ActionType() string { return ActionTypeApproveAgent }
func (ApproveAgentAction) sealed()            {}

func (a ApproveAgentAction) EncodeValue() any {
	return NewOrderedMap(6).
		Set("type", ActionTypeApproveAgent).
		Set("hyperliquidChain", a.HyperliquidChain).
		Set("signatureChainId", a.SignatureChainID).
		Set("agentAddress", a.AgentAddress).
		Set("agentName", a.AgentName).
		Set("nonce", a.Nonce)
}

func (a ApproveAgentAction) MarshalJSON() ([]byte, error) {
	return a.EncodeValue().(*OrderedMap).MarshalJSON()
}

// ApproveBuilderFeeAction 用户授权构建者费率上限（用户签名动作）
type ApproveBuilderFeeAction struct {
	HyperliquidChain string
	SignatureChainID string
	MaxFeeRate       string // 例如 "0.1%"
	Builder          string
	Nonce            uint64
}

func (ApproveBuilderFeeAction) ActionType() string { return ActionTypeApproveBuilderFee }
func (ApproveBuilderFeeAction) sealed()            {}

func (a ApproveBuilderFeeAction) EncodeValue() any {
	return NewOrderedMap(6).
		Set("type", ActionTypeApproveBuilderFee).
		Set("hyperliquidChain", a.HyperliquidChain).
		Set("signatureChainId", a.SignatureChainID).
		Set("maxFeeRate", a.MaxFeeRate).
		Set("builder", strings.ToLower(a.Builder)).
		Set("nonce", a.Nonce)
}

func (a ApproveBuilderFeeAction) MarshalJSON() ([]byte, error) {
	return a.EncodeValue().(*OrderedMap).MarshalJSON()
}
