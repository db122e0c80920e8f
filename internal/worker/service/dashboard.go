package service

import (
	"context"
	"sync/atomic"
	"time"

	"oneseed-engine/internal/worker/config"
	"oneseed-engine/internal/worker/ledger"
	"oneseed-engine/internal/worker/metrics"
	"oneseed-engine/internal/worker/model"
	"oneseed-engine/internal/worker/price"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DashboardSettings 面板计算参数，可热更新
type DashboardSettings struct {
	Estimate config.EstimateConfig
	Trend    config.TrendConfig
	Location *time.Location
}

func SettingsFromConfig(cfg config.Config) (DashboardSettings, error) {
	loc, err := cfg.Calendar.TimeLocation()
	if err != nil {
		return DashboardSettings{}, err
	}
	return DashboardSettings{Estimate: cfg.Estimate, Trend: cfg.Trend, Location: loc}, nil
}

type DashboardService struct {
	tl       *zap.Logger
	activity *ActivityService
	prices   *price.Chain
	settings atomic.Pointer[DashboardSettings]
	nowFn    func() time.Time
}

func NewDashboardService(tl *zap.Logger, activity *ActivityService, prices *price.Chain, settings DashboardSettings) *DashboardService {
	s := &DashboardService{tl: tl, activity: activity, prices: prices, nowFn: time.Now}
	s.SetSettings(settings)
	return s
}

func (s *DashboardService) SetSettings(settings DashboardSettings) {
	if settings.Location == nil {
		settings.Location = time.Local
	}
	s.settings.Store(&settings)
}

// Dashboard 基于账本生成面板快照
func (s *DashboardService) Dashboard(ctx context.Context, user common.Address) (model.Dashboard, error) {
	view, err := s.activity.Ledger(ctx, user)
	if err != nil {
		return model.Dashboard{}, err
	}
	return s.Build(ctx, view), nil
}

// Build 纯计算，只有价格查询需要 ctx
func (s *DashboardService) Build(ctx context.Context, view model.LedgerView) model.Dashboard {
	st := s.settings.Load()
	now := s.nowFn()

	counts := ledger.CountByKind(view.Items)
	return model.Dashboard{
		Ledger:          view,
		SavedThisMonth:  metrics.MonthlyComparison(view.Items, model.KindSave, now, st.Location),
		WithdrawnMonth:  metrics.MonthlyComparison(view.Items, model.KindWithdraw, now, st.Location),
		SavingsTrend:    metrics.Trend(view.Items, model.KindSave, model.TrendAmount, now, st.Trend.Days, st.Trend.Buckets),
		ActivityTrend:   metrics.Trend(view.Items, "", model.TrendCount, now, st.Trend.Days, st.Trend.Buckets),
		TotalsByKind:    metrics.TotalsByKind(view.Items),
		CountsByKind:    counts,
		GasSavings:      s.gasSavings(ctx, counts[model.KindSave], st.Estimate),
		GeneratedAtUnix: now.Unix(),
	}
}

func (s *DashboardService) gasSavings(ctx context.Context, txCount int, cfg config.EstimateConfig) model.Estimate {
	fallback := decimal.NewFromFloat(cfg.AssumedAssetPriceUSD)
	assetPrice, usedFallback := fallback, true
	if s.prices != nil {
		assetPrice, usedFallback = s.prices.PriceUSD(ctx, cfg.NativeSymbol)
	}
	if usedFallback {
		// 以当前配置为准
		assetPrice = fallback
	}
	est := metrics.GasSavingsEstimate(txCount, cfg, assetPrice)
	if usedFallback {
		est.Basis += " (assumed price)"
	}
	return est
}
