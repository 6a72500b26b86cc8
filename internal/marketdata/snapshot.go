package marketdata

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/betbot/perpplay/hl/types"
)

// DefaultMaxLeverage 交易所未给出 maxLeverage（或为 0）时使用
const DefaultMaxLeverage = 50

// ErrSnapshotMisaligned universe 与 assetCtxs 长度不一致
var ErrSnapshotMisaligned = errors.New("marketdata: universe 与 assetCtxs 长度不一致")

// Candidate 可交易标的：资产元数据 + 实时上下文
type Candidate struct {
	Asset           types.AssetDescriptor
	Context         types.MarketContext
	OpenInterestUSD decimal.Decimal
}

// Symbol 资产名称
func (c Candidate) Symbol() string { return c.Asset.Name }

// MarkPrice 标记价格
func (c Candidate) MarkPrice() decimal.Decimal { return c.Context.MarkPrice }

// Snapshot 某一时刻的全市场快照，构建后只读
type Snapshot struct {
	assets    []types.AssetDescriptor
	contexts  []types.MarketContext
	bySymbol  map[string]int
	fetchedAt time.Time
}

// NewSnapshot 由平行数组构建快照；长度不等返回 ErrSnapshotMisaligned
func NewSnapshot(assets []types.AssetDescriptor, contexts []types.MarketContext, fetchedAt time.Time) (*Snapshot, error) {
	if len(assets) != len(contexts) {
		return nil, fmt.Errorf("%w: %d assets, %d contexts", ErrSnapshotMisaligned, len(assets), len(contexts))
	}
	s := &Snapshot{
		assets:    assets,
		contexts:  contexts,
		bySymbol:  make(map[string]int, len(assets)),
		fetchedAt: fetchedAt,
	}
	for i, a := range assets {
		s.bySymbol[strings.ToUpper(a.Name)] = i
	}
	return s, nil
}

// FromWire 解析 metaAndAssetCtxs 响应。资产下标即 universe 中的位置。
// 无法解析的价格/持仓量按 0 处理（随后会被候选过滤掉）。
func FromWire(m *types.MetaAndAssetCtxs, fetchedAt time.Time) (*Snapshot, error) {
	if m == nil {
		return nil, fmt.Errorf("marketdata: empty response")
	}
	if len(m.Meta.Universe) != len(m.Ctxs) {
		return nil, fmt.Errorf("%w: %d assets, %d contexts", ErrSnapshotMisaligned, len(m.Meta.Universe), len(m.Ctxs))
	}

	assets := make([]types.AssetDescriptor, len(m.Meta.Universe))
	contexts := make([]types.MarketContext, len(m.Ctxs))
	for i, u := range m.Meta.Universe {
		maxLev := u.MaxLeverage
		if maxLev <= 0 {
			maxLev = DefaultMaxLeverage
		}
		assets[i] = types.AssetDescriptor{
			Index:        i,
			Name:         u.Name,
			SizeDecimals: u.SzDecimals,
			MaxLeverage:  maxLev,
			IsDelisted:   u.IsDelisted,
		}
		contexts[i] = types.MarketContext{
			AssetIndex:       i,
			MarkPrice:        parseDecimal(m.Ctxs[i].MarkPx),
			OpenInterestBase: parseDecimal(m.Ctxs[i].OpenInterest),
		}
	}
	return NewSnapshot(assets, contexts, fetchedAt)
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}

// FetchedAt 快照获取时间
func (s *Snapshot) FetchedAt() time.Time { return s.fetchedAt }

// Len 资产数量
func (s *Snapshot) Len() int { return len(s.assets) }

// Assets 全部资产元数据（副本）
func (s *Snapshot) Assets() []types.AssetDescriptor {
	return append([]types.AssetDescriptor(nil), s.assets...)
}

// Candidate 按名称查找（大小写不敏感）
func (s *Snapshot) Candidate(symbol string) (Candidate, bool) {
	i, ok := s.bySymbol[strings.ToUpper(strings.TrimSpace(symbol))]
	if !ok {
		return Candidate{}, false
	}
	return s.candidateAt(i), true
}

// Asset 按名称查找资产元数据
func (s *Snapshot) Asset(symbol string) (types.AssetDescriptor, bool) {
	c, ok := s.Candidate(symbol)
	return c.Asset, ok
}

// MarkPrice 标记价格；未知资产或价格无效返回 false
func (s *Snapshot) MarkPrice(symbol string) (decimal.Decimal, bool) {
	c, ok := s.Candidate(symbol)
	if !ok || !c.Context.MarkPrice.IsPositive() {
		return decimal.Zero, false
	}
	return c.Context.MarkPrice, true
}

func (s *Snapshot) candidateAt(i int) Candidate {
	return Candidate{
		Asset:           s.assets[i],
		Context:         s.contexts[i],
		OpenInterestUSD: s.contexts[i].OpenInterestUSD(),
	}
}

// RankedCandidates 按未平仓量（USD）降序，同值按资产下标升序；
// 过滤掉标记价格非正、持仓量低于阈值、已下架的资产，最多返回 maxCount 个。
func (s *Snapshot) RankedCandidates(minOpenInterestUSD decimal.Decimal, maxCount int) []Candidate {
	out := make([]Candidate, 0, len(s.assets))
	for i := range s.assets {
		c := s.candidateAt(i)
		if c.Asset.IsDelisted || !c.Context.MarkPrice.IsPositive() {
			continue
		}
		if c.OpenInterestUSD.LessThan(minOpenInterestUSD) {
			continue
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if cmp := out[i].OpenInterestUSD.Cmp(out[j].OpenInterestUSD); cmp != 0 {
			return cmp > 0
		}
		return out[i].Asset.Index < out[j].Asset.Index
	})
	if maxCount > 0 && len(out) > maxCount {
		out = out[:maxCount]
	}
	return out
}

// PickRandom 均匀随机选一个；空列表返回 false（不会回退到任何默认资产）。
// rnd 为 nil 时使用全局随机源。
func PickRandom(cands []Candidate, rnd *rand.Rand) (Candidate, bool) {
	if len(cands) == 0 {
		return Candidate{}, false
	}
	var i int
	if rnd != nil {
		i = rnd.IntN(len(cands))
	} else {
		i = rand.IntN(len(cands))
	}
	return cands[i], true
}
