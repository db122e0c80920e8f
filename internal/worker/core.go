package worker

import (
	"context"
	"fmt"
	"time"

	"oneseed-engine/internal/worker/cache"
	"oneseed-engine/internal/worker/config"
	"oneseed-engine/internal/worker/contract"
	"oneseed-engine/internal/worker/fetcher"
	"oneseed-engine/internal/worker/job"
	"oneseed-engine/internal/worker/model"
	"oneseed-engine/internal/worker/monitor"
	"oneseed-engine/internal/worker/price"
	"oneseed-engine/internal/worker/repository"
	"oneseed-engine/internal/worker/service"
	"oneseed-engine/internal/worker/slippage"
	"oneseed-engine/internal/worker/writer"
	"oneseed-engine/internal/worker/writer/snapshot"
	"oneseed-engine/pkg/utils"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	snapshotBatchSize     = 50
	snapshotFlushInterval = 2 * time.Second
)

type Core struct {
	cfg       config.Config
	tl        *zap.Logger
	repo      repository.Repository
	scheduler *job.Scheduler
	metrics   *monitor.MetricsServer
	mirror    *writer.AsyncBatchWriter[model.Snapshot]
	refresh   *job.LedgerRefresh

	activity  *service.ActivityService
	analytics *service.AnalyticsService
	dashboard *service.DashboardService
	portfolio *service.PortfolioService
}

func New(cfg config.Config, logger *zap.Logger) (*Core, error) {
	// 初始化repo
	repo := repository.New(cfg, logger)
	client := repo.GetEvmClient()

	activitySpecs, analyticsSpecs, err := service.BuildSpecs(cfg.Contracts)
	if err != nil {
		return nil, err
	}

	f := fetcher.New(client, logger, fetcher.Options{
		QueryTimeout:            cfg.Fetch.QueryTimeout(),
		MaxParallel:             cfg.Fetch.MaxParallel,
		AverageBlockTimeSeconds: cfg.Chain.AverageBlockTimeSeconds,
	})
	tokens := contract.NewTokenDirectory(client, cfg.Tokens, logger)

	core := &Core{
		cfg:       cfg,
		repo:      repo,
		tl:        logger,
		scheduler: job.NewScheduler(logger),
		metrics:   monitor.NewMetricsServer(cfg.Monitor, logger),
	}

	// 查询结果镜像到 redis，多实例共享
	var ledgerOpts []cache.Option[model.LedgerView]
	var reportOpts []cache.Option[model.SlippageReport]
	if rdb := repo.GetMainRDB(); rdb != nil && cfg.Cache.RedisMirror {
		core.mirror = writer.NewAsyncBatchWriter[model.Snapshot](logger,
			snapshot.NewRedisSnapshotWriter(rdb, logger, cfg.Cache.Retention()),
			snapshotBatchSize, snapshotFlushInterval, "query_snapshot", 1)
		ledgerOpts = append(ledgerOpts, cache.WithRedis[model.LedgerView](rdb), cache.WithMirror[model.LedgerView](core.mirror))
		reportOpts = append(reportOpts, cache.WithRedis[model.SlippageReport](rdb), cache.WithMirror[model.SlippageReport](core.mirror))
	}

	core.activity = service.NewActivityService(cfg, logger, f, tokens, activitySpecs, ledgerOpts...)
	core.analytics = service.NewAnalyticsService(cfg, logger, f, tokens, analyticsSpecs, reportOpts...)

	lookups := []price.Lookup{price.NewStaticLookup(cfg.Price)}
	if prdb := repo.GetPriceRDB(); prdb != nil {
		lookups = append(lookups, price.NewRedisLookup(prdb))
	}
	prices := price.NewChain(logger, decimal.NewFromFloat(cfg.Estimate.AssumedAssetPriceUSD), lookups...)

	settings, err := service.SettingsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	core.dashboard = service.NewDashboardService(logger, core.activity, prices, settings)

	vaultAddr, ok := utils.ParseAddress(cfg.Contracts.Vault)
	if !ok {
		vaultAddr, ok = utils.ParseAddress(cfg.Contracts.Savings)
		if !ok {
			return nil, fmt.Errorf("invalid vault contract address %q", cfg.Contracts.Vault)
		}
	}
	relay := contract.NewRelay(cfg.Relay, cfg.Chain.ChainID, vaultAddr, logger)
	core.portfolio, err = service.NewPortfolioService(cfg, logger, contract.NewVault(vaultAddr, client), tokens, relay, core.activity)
	if err != nil {
		return nil, err
	}

	// 新确认块到来时所有查询缓存过期
	watcher := job.NewBlockWatcher(client, cfg.Chain.Confirmations, logger)
	watcher.OnNewBlock(core.activity.OnNewBlock)
	watcher.OnNewBlock(core.analytics.OnNewBlock)
	core.scheduler.RegisterLoopJob("block_watcher", cfg.Chain.PollInterval(), cfg.Fetch.QueryTimeout(), watcher.Run)

	// 定时刷新关注用户和最近活跃用户
	core.refresh = job.NewLedgerRefresh(core.activity, cfg.Watch.Users, cfg.Fetch.MaxParallel, logger).
		Add("activity", func(ctx context.Context, user common.Address) error {
			_, err := core.activity.Refresh(ctx, user)
			return err
		}).
		Add("analytics", func(ctx context.Context, user common.Address) error {
			_, err := core.analytics.Refresh(ctx, user)
			return err
		})
	core.scheduler.RegisterJob("ledger_refresh", cfg.Cache.RefreshInterval(), core.refresh.Run)

	return core, nil
}

func (c *Core) Activity() *service.ActivityService {
	return c.activity
}

func (c *Core) Analytics() *service.AnalyticsService {
	return c.analytics
}

func (c *Core) Dashboard() *service.DashboardService {
	return c.dashboard
}

func (c *Core) Portfolio() *service.PortfolioService {
	return c.portfolio
}

// Reload 配置热更新：告警阈值、面板参数、关注列表
func (c *Core) Reload(cfg config.Config) {
	c.analytics.SetThresholds(slippage.ThresholdsFromConfig(cfg.Slippage))
	if settings, err := service.SettingsFromConfig(cfg); err == nil {
		c.dashboard.SetSettings(settings)
	}
	c.refresh.SetWatched(cfg.Watch.Users)
	c.tl.Info("config reloaded", zap.String("log_level", cfg.Log.Level), zap.Int("watch_users", len(cfg.Watch.Users)))
}

// StartWriters 启动 redis 镜像写入
func (c *Core) StartWriters(ctx context.Context) {
	if c.mirror != nil {
		c.mirror.Start(ctx)
	}
}

func (c *Core) Start(ctx context.Context) {
	c.tl.Info("Starting worker core...")
	// 启动监控服务
	if c.metrics != nil {
		c.metrics.Run()
	}

	c.StartWriters(ctx)

	// 启动调度器
	c.scheduler.Start(ctx)
	c.tl.Info("Worker started successfully", zap.Strings("jobs", c.scheduler.Jobs()))

	// 等待外部关闭信号
	<-ctx.Done()
	c.tl.Info("Shutting down worker due to context cancellation...")
}

// Stop 优雅关闭 Core 的所有资源
func (c *Core) Stop(ctx context.Context) {
	c.tl.Info("Stopping worker core...")

	// 停止调度器
	if c.scheduler != nil {
		c.scheduler.Stop(ctx)
	}

	if c.mirror != nil {
		c.mirror.Close()
	}

	// 停止 Prometheus 监控服务
	if c.metrics != nil {
		_ = c.metrics.Stop(ctx)
	}

	c.repo.Close()

	c.tl.Info("Worker core stopped.")
}
