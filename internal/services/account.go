package services

import (
	"context"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/perpplay/hl/types"
	"github.com/betbot/perpplay/pkg/cache"
)

// AccountInfo clearinghouseState 查询（hl/client.Client 实现）
type AccountInfo interface {
	ClearinghouseState(ctx context.Context, user common.Address) (*types.ClearinghouseState, error)
}

// Balance 账户余额
type Balance struct {
	Available    decimal.Decimal // 可用于开仓的 USDC
	AccountValue decimal.Decimal
	FetchedAt    time.Time
}

// AccountService 账户余额查询，短 TTL 缓存避免每次下单前都打 /info
type AccountService struct {
	info  AccountInfo
	cache *cache.TTLCache[common.Address, *Balance]
	log   *logrus.Entry
}

// NewAccountService 创建账户服务；ttl<=0 时使用 3 秒
func NewAccountService(info AccountInfo, ttl time.Duration, log *logrus.Entry) *AccountService {
	if ttl <= 0 {
		ttl = 3 * time.Second
	}
	if log == nil {
		log = logrus.WithField("component", "account")
	}
	return &AccountService{
		info:  info,
		cache: cache.New[common.Address, *Balance](ttl, 0),
		log:   log,
	}
}

// State 原始 clearinghouseState（不缓存，用于持仓对账）
func (s *AccountService) State(ctx context.Context, user common.Address) (*types.ClearinghouseState, error) {
	return s.info.ClearinghouseState(ctx, user)
}

// Balance 可用余额。withdrawable 为 0 时退回到 max(accountValue, crossAccountValue)，
// 统一账户模式下 withdrawable 可能一直是 0。
func (s *AccountService) Balance(ctx context.Context, user common.Address) (*Balance, error) {
	return s.cache.GetOrLoad(ctx, user, func(ctx context.Context) (*Balance, error) {
		state, err := s.info.ClearinghouseState(ctx, user)
		if err != nil {
			return nil, err
		}
		b := balanceFromState(state)
		b.FetchedAt = time.Now()
		s.log.Debugf("balance %s available=%s value=%s", user.Hex(), b.Available, b.AccountValue)
		return b, nil
	})
}

// Invalidate 开/平仓后清掉缓存
func (s *AccountService) Invalidate(user common.Address) {
	s.cache.Delete(user)
}

// Close 释放缓存
func (s *AccountService) Close() {
	s.cache.Close()
}

func balanceFromState(st *types.ClearinghouseState) *Balance {
	accountValue := parseAmount(st.MarginSummary.AccountValue)
	crossValue := parseAmount(st.CrossMarginSummary.AccountValue)
	value := decimal.Max(accountValue, crossValue)

	available := parseAmount(st.Withdrawable)
	if available.IsZero() {
		available = value
	}
	return &Balance{Available: available, AccountValue: value}
}

func parseAmount(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}
