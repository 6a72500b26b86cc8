package marketdata

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/perpplay/hl/types"
	"github.com/betbot/perpplay/internal/domain"
	"github.com/betbot/perpplay/internal/metrics"
)

// Source 行情来源（hl/client.Client 实现）
type Source interface {
	MetaAndAssetCtxs(ctx context.Context) (*types.MetaAndAssetCtxs, error)
}

// Service 持有当前快照。读方无锁（atomic.Pointer），刷新互斥。
type Service struct {
	src Source
	log *logrus.Entry
	now func() time.Time

	current   atomic.Pointer[Snapshot]
	refreshMu sync.Mutex
}

// NewService 创建行情服务
func NewService(src Source, log *logrus.Entry) *Service {
	if log == nil {
		log = logrus.WithField("component", "marketdata")
	}
	return &Service{src: src, log: log, now: time.Now}
}

// Current 当前快照，尚未刷新过返回 nil
func (s *Service) Current() *Snapshot {
	return s.current.Load()
}

// Refresh 拉取一次 metaAndAssetCtxs 并替换当前快照。
// 失败时保留旧快照。
func (s *Service) Refresh(ctx context.Context) (*Snapshot, error) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	return s.refreshLocked(ctx)
}

func (s *Service) refreshLocked(ctx context.Context) (*Snapshot, error) {
	raw, err := s.src.MetaAndAssetCtxs(ctx)
	if err != nil {
		metrics.MarketRefreshTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	snap, err := FromWire(raw, s.now())
	if err != nil {
		metrics.MarketRefreshTotal.WithLabelValues("invalid").Inc()
		s.log.Errorf("market snapshot rejected: %v", err)
		return nil, err
	}
	s.current.Store(snap)
	metrics.MarketRefreshTotal.WithLabelValues("ok").Inc()
	s.log.Debugf("market snapshot refreshed: %d assets", snap.Len())
	return snap, nil
}

// Ensure 返回不老于 maxAge 的快照，必要时刷新。
// 并发调用只会触发一次请求。
func (s *Service) Ensure(ctx context.Context, maxAge time.Duration) (*Snapshot, error) {
	if snap := s.fresh(maxAge); snap != nil {
		return snap, nil
	}
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	if snap := s.fresh(maxAge); snap != nil {
		return snap, nil
	}
	return s.refreshLocked(ctx)
}

func (s *Service) fresh(maxAge time.Duration) *Snapshot {
	snap := s.current.Load()
	if snap == nil || maxAge <= 0 {
		return nil
	}
	if s.now().Sub(snap.FetchedAt()) > maxAge {
		return nil
	}
	return snap
}

// TopCandidates Ensure + RankedCandidates；没有满足条件的标的返回 ErrNoCandidates
func (s *Service) TopCandidates(ctx context.Context, maxAge time.Duration, minOpenInterestUSD decimal.Decimal, maxCount int) ([]Candidate, error) {
	snap, err := s.Ensure(ctx, maxAge)
	if err != nil {
		return nil, err
	}
	cands := snap.RankedCandidates(minOpenInterestUSD, maxCount)
	if len(cands) == 0 {
		return nil, domain.ErrNoCandidates
	}
	return cands, nil
}
