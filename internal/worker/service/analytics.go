package service

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"oneseed-engine/internal/worker/cache"
	"oneseed-engine/internal/worker/config"
	"oneseed-engine/internal/worker/contract"
	"oneseed-engine/internal/worker/fetcher"
	"oneseed-engine/internal/worker/model"
	"oneseed-engine/internal/worker/monitor"
	"oneseed-engine/internal/worker/normalizer"
	"oneseed-engine/internal/worker/slippage"
	"oneseed-engine/pkg/logger"
	"oneseed-engine/pkg/utils"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// AnalyticsService 执行质量分析：滑点事件 + DCA 执行
type AnalyticsService struct {
	pipeline
	chainID    uint64
	lookback   uint64
	specs      []fetcher.QuerySpec
	cache      *cache.QueryCache[model.SlippageReport]
	thresholds atomic.Pointer[slippage.AlertThresholds]
}

func NewAnalyticsService(cfg config.Config, tl *zap.Logger, f *fetcher.Fetcher, tokens *contract.TokenDirectory, specs []fetcher.QuerySpec, opts ...cache.Option[model.SlippageReport]) *AnalyticsService {
	s := &AnalyticsService{
		pipeline: pipeline{
			tl:            tl,
			fetcher:       f,
			tokens:        tokens,
			confirmations: cfg.Chain.Confirmations,
			nowFn:         time.Now,
		},
		chainID:  cfg.Chain.ChainID,
		lookback: cfg.Fetch.AnalyticsLookbackBlocks,
		specs:    specs,
		cache:    cache.NewQueryCache[model.SlippageReport](queryAnalytics, tl, cfg.Cache.StaleAfter(), cfg.Cache.Retention(), opts...),
	}
	s.SetThresholds(slippage.ThresholdsFromConfig(cfg.Slippage))
	return s
}

// SetThresholds 配置热更新时替换阈值，下一次分析生效
func (s *AnalyticsService) SetThresholds(t slippage.AlertThresholds) {
	s.thresholds.Store(&t)
}

func (s *AnalyticsService) Thresholds() slippage.AlertThresholds {
	return *s.thresholds.Load()
}

func (s *AnalyticsService) key(user common.Address) string {
	return utils.LedgerSnapshotKey(s.chainID, utils.CanonicalAddress(user), queryAnalytics, windowLatest)
}

// Report 缓存未过期时直接返回
func (s *AnalyticsService) Report(ctx context.Context, user common.Address) (model.SlippageReport, error) {
	key := s.key(user)
	if !s.cache.IsStale(key, s.nowFn()) {
		if entry, ok := s.cache.Get(ctx, key); ok {
			return entry.Value, nil
		}
	}

	report, err := s.Refresh(ctx, user)
	if err == nil {
		return report, nil
	}
	if errors.Is(err, cache.ErrStaleGeneration) {
		if entry, ok := s.cache.Get(ctx, key); ok {
			return entry.Value, nil
		}
		return report, nil
	}
	if entry, ok := s.cache.Get(ctx, key); ok {
		s.tl.Warn("refresh analytics failed, serve cached report", zap.String("user", user.Hex()), zap.Error(err))
		return entry.Value, nil
	}
	return model.SlippageReport{}, err
}

// Refresh 重新拉取滑点和 DCA 日志并生成报告，被更新的拉取覆盖时报告和 cache.ErrStaleGeneration 一起返回
func (s *AnalyticsService) Refresh(ctx context.Context, user common.Address) (model.SlippageReport, error) {
	ctx, span := logger.StartSpanWithAttrs(ctx, "service", "refresh_analytics", attribute.String("user", user.Hex()))
	defer span.End()
	tl := logger.NewLoggerWithTrace(ctx, s.tl)
	start := time.Now()
	defer func() {
		monitor.LedgerRefreshDuration.WithLabelValues(queryAnalytics).Observe(time.Since(start).Seconds())
	}()

	window, err := s.window(ctx, s.lookback)
	if err != nil {
		return model.SlippageReport{}, err
	}
	ticket := s.cache.Begin(s.key(user))
	res := s.collect(ctx, user, window, s.specs)

	report := slippage.Analyze(user, s.slippageRecords(res), s.normalizeKinds(res, model.KindDCA), s.Thresholds())
	report.Partial = res.Partial()
	report.FailedKinds = res.FailedKinds()

	if err := s.cache.Commit(ticket, report); err != nil {
		return report, err
	}
	if len(report.Alerts) > 0 {
		tl.Info("slippage alerts",
			zap.String("user", user.Hex()),
			zap.Int("alerts", len(report.Alerts)),
			zap.Int("critical", report.Stats.CriticalCount))
	}
	return report, nil
}

// slippageRecords 解码失败的记录保留为 Undefined
func (s *AnalyticsService) slippageRecords(res fetcher.FetchResult) []model.SlippageRecord {
	records := make([]model.SlippageRecord, 0, len(res.Logs[model.KindSlippage]))
	for _, l := range res.Logs[model.KindSlippage] {
		meta := normalizer.Meta(l, res.Timestamps[l.BlockNumber])
		ev, err := normalizer.Decode(l, model.KindSlippage)
		if err != nil {
			monitor.NormalizationErrors.WithLabelValues(model.KindSlippage.String()).Inc()
			s.tl.Warn("slippage log decode failed",
				zap.String("tx_hash", meta.TxHash), zap.Uint("log_index", meta.LogIndex), zap.Error(err))
			records = append(records, slippage.DegradedRecord(meta))
			continue
		}
		if sev, ok := ev.(model.SlippageEvent); ok {
			records = append(records, slippage.NewRecord(sev, meta))
		}
	}
	return records
}

func (s *AnalyticsService) Invalidate(user common.Address) {
	s.cache.Invalidate(s.key(user))
}

func (s *AnalyticsService) OnNewBlock(number uint64) {
	epoch := s.cache.InvalidateAll()
	s.tl.Debug("analytics caches invalidated", zap.String("cache", s.cache.ID()), zap.Uint64("block", number), zap.Uint64("epoch", epoch), zap.Int("entries", len(s.cache.Keys())))
}
