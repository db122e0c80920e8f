package monitor

import "github.com/prometheus/client_golang/prometheus"

var (
	// LogQueriesTotal 日志查询相关
	LogQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "log_queries_total",
			Help: "Total number of per-kind log queries by result.",
		},
		[]string{"kind", "result"},
	)
	LogQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "log_query_duration_seconds",
			Help:    "Time taken by a single per-kind log query.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
		},
		[]string{"kind"},
	)
	LogsFetched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logs_fetched_total",
			Help: "Total number of confirmed logs returned per kind.",
		},
		[]string{"kind"},
	)
	BlockTimestampEstimated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "block_timestamp_estimated_total",
			Help: "Block timestamps estimated from average block time after header lookup failed.",
		},
	)
	NormalizationErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "normalization_errors_total",
			Help: "Malformed logs normalized to zeroed best-effort records.",
		},
		[]string{"kind"},
	)

	// QueryCacheLookups 查询缓存
	QueryCacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "query_cache_lookups_total",
			Help: "Query cache lookups by result (hit, stale, miss).",
		},
		[]string{"query", "result"},
	)
	StaleGenerationDiscarded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stale_generation_discarded_total",
			Help: "Refetch results discarded because a newer refetch started.",
		},
		[]string{"query"},
	)
	LedgerRefreshDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ledger_refresh_duration_seconds",
			Help:    "Time taken by a full fetch/normalize/aggregate pass.",
			Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
		},
		[]string{"query"},
	)

	// WithdrawalSubmissions 提现
	WithdrawalSubmissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "withdrawal_submissions_total",
			Help: "Batch withdrawal submissions by result.",
		},
		[]string{"result"},
	)
	SlippageAlerts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slippage_alerts_total",
			Help: "Slippage alerts generated by level.",
		},
		[]string{"level"},
	)

	// 定时任务
	JobRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "job_runs_total",
			Help: "Scheduled job executions by result.",
		},
		[]string{"job", "result"},
	)
	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "job_duration_seconds",
			Help:    "Time taken by a single scheduled job execution.",
			Buckets: []float64{0.1, 0.5, 1.0, 5.0, 10.0, 30.0, 60.0},
		},
		[]string{"job"},
	)
	ChainHead = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chain_head_block",
			Help: "Latest confirmed block seen by the block watcher.",
		},
	)

	// AsyncWriter 指标
	AsyncWriterMessagesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "async_writer_messages_dropped_total",
			Help: "Total number of messages dropped due to full queue.",
		},
		[]string{"writer_id"},
	)
	AsyncWriterBatchSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "async_writer_batch_size",
			Help:    "Number of items in each batch submitted to the writer.",
			Buckets: []float64{1, 5, 10, 50, 100, 500},
		},
		[]string{"writer_id"},
	)
	AsyncWriterFlushDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "async_writer_flush_duration_seconds",
			Help:    "Time taken to flush a batch.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.2, 0.5, 1.0, 2.0, 5.0},
		},
		[]string{"writer_id"},
	)
	AsyncWriterFlushErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "async_writer_flush_errors_total",
			Help: "Total number of batch flushes that returned an error.",
		},
		[]string{"writer_id"},
	)
)

func init() {
	prometheus.MustRegister(
		// 日志拉取指标
		LogQueriesTotal,
		LogQueryDuration,
		LogsFetched,
		BlockTimestampEstimated,
		NormalizationErrors,

		// 缓存 / 刷新指标
		QueryCacheLookups,
		StaleGenerationDiscarded,
		LedgerRefreshDuration,

		WithdrawalSubmissions,
		SlippageAlerts,

		JobRuns,
		JobDuration,
		ChainHead,

		// async 写入指标
		AsyncWriterMessagesDropped,
		AsyncWriterBatchSize,
		AsyncWriterFlushDuration,
		AsyncWriterFlushErrors,
	)
}
