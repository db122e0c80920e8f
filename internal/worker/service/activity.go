package service

import (
	"context"
	"errors"
	"time"

	"oneseed-engine/internal/worker/cache"
	"oneseed-engine/internal/worker/config"
	"oneseed-engine/internal/worker/contract"
	"oneseed-engine/internal/worker/fetcher"
	"oneseed-engine/internal/worker/ledger"
	"oneseed-engine/internal/worker/model"
	"oneseed-engine/internal/worker/monitor"
	"oneseed-engine/pkg/logger"
	"oneseed-engine/pkg/utils"

	"github.com/ethereum/go-ethereum/common"
	gocache "github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	queryActivity  = "activity"
	queryAnalytics = "analytics"
	windowLatest   = "latest"
)

// ActivityService 用户账本：拉取、归一化、合并，并按代数缓存
type ActivityService struct {
	pipeline
	chainID  uint64
	lookback uint64
	specs    []fetcher.QuerySpec
	cache    *cache.QueryCache[model.LedgerView]
	tracked  *gocache.Cache // 最近查询过的用户，由定时任务刷新
}

func NewActivityService(cfg config.Config, tl *zap.Logger, f *fetcher.Fetcher, tokens *contract.TokenDirectory, specs []fetcher.QuerySpec, opts ...cache.Option[model.LedgerView]) *ActivityService {
	return &ActivityService{
		pipeline: pipeline{
			tl:            tl,
			fetcher:       f,
			tokens:        tokens,
			confirmations: cfg.Chain.Confirmations,
			nowFn:         time.Now,
		},
		chainID:  cfg.Chain.ChainID,
		lookback: cfg.Fetch.ActivityLookbackBlocks,
		specs:    specs,
		cache:    cache.NewQueryCache[model.LedgerView](queryActivity, tl, cfg.Cache.StaleAfter(), cfg.Cache.Retention(), opts...),
		tracked:  gocache.New(cfg.Cache.Retention(), time.Minute),
	}
}

func (s *ActivityService) key(user common.Address) string {
	return utils.LedgerSnapshotKey(s.chainID, utils.CanonicalAddress(user), queryActivity, windowLatest)
}

// Ledger 缓存未过期时直接返回，否则重新拉取
func (s *ActivityService) Ledger(ctx context.Context, user common.Address) (model.LedgerView, error) {
	s.Track(user)
	key := s.key(user)
	if !s.cache.IsStale(key, s.nowFn()) {
		if entry, ok := s.cache.Get(ctx, key); ok {
			return entry.Value, nil
		}
	}

	view, err := s.Refresh(ctx, user)
	if err == nil {
		return view, nil
	}
	// 被更新的拉取覆盖：优先返回更新的结果，还没提交时返回本轮结果
	if errors.Is(err, cache.ErrStaleGeneration) {
		if entry, ok := s.cache.Get(ctx, key); ok {
			return entry.Value, nil
		}
		return view, nil
	}
	if entry, ok := s.cache.Get(ctx, key); ok {
		s.tl.Warn("refresh ledger failed, serve cached view", zap.String("user", user.Hex()), zap.Error(err))
		return entry.Value, nil
	}
	return model.LedgerView{}, err
}

// Refresh 强制拉取一轮；如果期间有更新的拉取开始，本轮结果不写缓存，连同 cache.ErrStaleGeneration 一起返回
func (s *ActivityService) Refresh(ctx context.Context, user common.Address) (model.LedgerView, error) {
	ctx, span := logger.StartSpanWithAttrs(ctx, "service", "refresh_ledger", attribute.String("user", user.Hex()))
	defer span.End()
	tl := logger.NewLoggerWithTrace(ctx, s.tl)
	start := time.Now()
	defer func() {
		monitor.LedgerRefreshDuration.WithLabelValues(queryActivity).Observe(time.Since(start).Seconds())
	}()

	window, err := s.window(ctx, s.lookback)
	if err != nil {
		return model.LedgerView{}, err
	}
	// 窗口确定后才领取代数，失败的拉取不会作废进行中的拉取
	ticket := s.cache.Begin(s.key(user))
	res := s.collect(ctx, user, window, s.specs)

	view := model.LedgerView{
		User:        user,
		Items:       ledger.Aggregate(s.normalizeKinds(res)),
		FromBlock:   res.Window.FromBlock,
		ToBlock:     res.Window.ToBlock,
		FetchedAt:   s.nowFn().Unix(),
		Partial:     res.Partial(),
		FailedKinds: res.FailedKinds(),
	}
	if err := s.cache.Commit(ticket, view); err != nil {
		return view, err
	}
	tl.Debug("ledger refreshed",
		zap.String("user", user.Hex()),
		zap.Int("items", len(view.Items)),
		zap.Bool("partial", view.Partial),
		zap.Stringer("window", res.Window))
	return view, nil
}

// Track 记录用户，保留时间和缓存一致
func (s *ActivityService) Track(user common.Address) {
	s.tracked.SetDefault(utils.CanonicalAddress(user), user)
}

// Tracked 当前需要定时刷新的用户
func (s *ActivityService) Tracked() []common.Address {
	items := s.tracked.Items()
	users := make([]common.Address, 0, len(items))
	for _, item := range items {
		if user, ok := item.Object.(common.Address); ok {
			users = append(users, user)
		}
	}
	return users
}

// IsStale 用户账本是否需要刷新
func (s *ActivityService) IsStale(user common.Address) bool {
	return s.cache.IsStale(s.key(user), s.nowFn())
}

// Invalidate 用户的账本失效，例如提现完成之后
func (s *ActivityService) Invalidate(user common.Address) {
	s.cache.Invalidate(s.key(user))
}

// OnNewBlock 新区块到来，全部账本过期
func (s *ActivityService) OnNewBlock(number uint64) {
	epoch := s.cache.InvalidateAll()
	s.tl.Debug("ledger caches invalidated", zap.String("cache", s.cache.ID()), zap.Uint64("block", number), zap.Uint64("epoch", epoch), zap.Int("entries", len(s.cache.Keys())))
}
