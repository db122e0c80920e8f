package fetcher

import (
	"context"
	"fmt"
	"iter"
	"math/big"
	"slices"
	"sync"
	"time"

	"oneseed-engine/internal/worker/model"
	"oneseed-engine/internal/worker/monitor"
	"oneseed-engine/pkg/logger"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/patrickmn/go-cache"
	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// LogQuerier 日志查询接口，ethclient.Client 直接满足
type LogQuerier interface {
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// ChainReader 拉取一个窗口需要的全部链上读接口
type ChainReader interface {
	LogQuerier
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// QuerySpec 一个 (合约, 事件签名) 组合，用户地址作为第一个 indexed 参数过滤
type QuerySpec struct {
	Kind     model.Kind
	Contract common.Address
	Topic0   common.Hash
}

// Window 闭区间 [FromBlock, ToBlock]
type Window struct {
	FromBlock uint64 `json:"from_block"`
	ToBlock   uint64 `json:"to_block"`
}

func (w Window) String() string {
	return fmt.Sprintf("%d-%d", w.FromBlock, w.ToBlock)
}

type Options struct {
	QueryTimeout            time.Duration
	MaxParallel             int
	AverageBlockTimeSeconds uint64
}

type Fetcher struct {
	client  ChainReader
	tl      *zap.Logger
	opts    Options
	tsCache *cache.Cache // block number -> timestamp
	nowFn   func() time.Time
}

func New(client ChainReader, tl *zap.Logger, opts Options) *Fetcher {
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = 5
	}
	if opts.AverageBlockTimeSeconds == 0 {
		opts.AverageBlockTimeSeconds = 2
	}
	return &Fetcher{
		client:  client,
		tl:      tl,
		opts:    opts,
		tsCache: cache.New(30*time.Minute, 5*time.Minute),
		nowFn:   time.Now,
	}
}

// LatestWindow 以最新确认块为终点，向前回看 lookback 个块
func (f *Fetcher) LatestWindow(ctx context.Context, lookback, confirmations uint64) (Window, error) {
	head, err := f.client.BlockNumber(ctx)
	if err != nil {
		return Window{}, fmt.Errorf("get block number: %w", err)
	}
	return WindowFor(head, lookback, confirmations), nil
}

// WindowFor 计算窗口，链高度不足时从 0 开始
func WindowFor(head, lookback, confirmations uint64) Window {
	to := uint64(0)
	if head > confirmations {
		to = head - confirmations
	}
	from := uint64(0)
	if lookback > 0 && to+1 > lookback {
		from = to + 1 - lookback
	}
	return Window{FromBlock: from, ToBlock: to}
}

// Query 查询单个事件类型，失败时返回 *LogQueryError
func (f *Fetcher) Query(ctx context.Context, spec QuerySpec, user common.Address, window Window) ([]types.Log, error) {
	ctx, span := logger.StartSpanWithAttrs(ctx, "fetcher", "log_query",
		attribute.String("kind", spec.Kind.String()),
		attribute.String("window", window.String()))
	defer span.End()

	if f.opts.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.opts.QueryTimeout)
		defer cancel()
	}

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(window.FromBlock),
		ToBlock:   new(big.Int).SetUint64(window.ToBlock),
		Addresses: []common.Address{spec.Contract},
		Topics:    [][]common.Hash{{spec.Topic0}, {common.BytesToHash(user.Bytes())}},
	}

	start := time.Now()
	logs, err := f.client.FilterLogs(ctx, query)
	monitor.LogQueryDuration.WithLabelValues(spec.Kind.String()).Observe(time.Since(start).Seconds())
	if err != nil {
		monitor.LogQueriesTotal.WithLabelValues(spec.Kind.String(), "error").Inc()
		return nil, &LogQueryError{Kind: spec.Kind, Contract: spec.Contract, Window: window, Reason: classify(err), Err: err}
	}

	// reorg 移除的日志不进入账本
	confirmed := make([]types.Log, 0, len(logs))
	for _, l := range logs {
		if l.Removed {
			continue
		}
		confirmed = append(confirmed, l)
	}
	monitor.LogQueriesTotal.WithLabelValues(spec.Kind.String(), "ok").Inc()
	monitor.LogsFetched.WithLabelValues(spec.Kind.String()).Add(float64(len(confirmed)))
	return confirmed, nil
}

// FetchResult 一轮拉取的结果，失败的类型记在 Failures 里，按 0 条结果处理
type FetchResult struct {
	Window     Window
	Order      []model.Kind
	Logs       map[model.Kind][]types.Log
	Failures   map[model.Kind]*LogQueryError
	Timestamps map[uint64]uint64 // block number -> unix seconds
}

// All 按查询顺序惰性遍历成功类型的日志
func (r FetchResult) All() iter.Seq2[model.Kind, types.Log] {
	return func(yield func(model.Kind, types.Log) bool) {
		for _, kind := range r.Order {
			for _, l := range r.Logs[kind] {
				if !yield(kind, l) {
					return
				}
			}
		}
	}
}

// FailedKinds 排序后的失败类型
func (r FetchResult) FailedKinds() []model.Kind {
	kinds := make([]model.Kind, 0, len(r.Failures))
	for kind := range r.Failures {
		kinds = append(kinds, kind)
	}
	slices.Sort(kinds)
	return kinds
}

// Partial 是否有类型拉取失败
func (r FetchResult) Partial() bool {
	return len(r.Failures) > 0
}

// FetchAll 并发查询所有类型，每个查询独立失败，互不影响
func (f *Fetcher) FetchAll(ctx context.Context, user common.Address, window Window, specs []QuerySpec) FetchResult {
	result := FetchResult{
		Window:   window,
		Order:    make([]model.Kind, 0, len(specs)),
		Logs:     make(map[model.Kind][]types.Log, len(specs)),
		Failures: make(map[model.Kind]*LogQueryError),
	}
	for _, spec := range specs {
		result.Order = append(result.Order, spec.Kind)
	}

	var mu sync.Mutex
	worker := pool.New().WithMaxGoroutines(f.opts.MaxParallel)
	for _, spec := range specs {
		worker.Go(func() {
			logs, err := f.safeQuery(ctx, spec, user, window)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				qe, ok := err.(*LogQueryError)
				if !ok {
					qe = &LogQueryError{Kind: spec.Kind, Contract: spec.Contract, Window: window, Reason: classify(err), Err: err}
				}
				result.Failures[spec.Kind] = qe
				f.tl.Warn("log query failed, treat as empty for this cycle",
					zap.String("kind", spec.Kind.String()),
					zap.String("user", user.Hex()),
					zap.String("reason", string(qe.Reason)),
					zap.Error(qe.Err))
				return
			}
			result.Logs[spec.Kind] = logs
		})
	}
	worker.Wait()

	result.Timestamps = f.ResolveTimestamps(ctx, window, result.blockNumbers())
	return result
}

// safeQuery 单个查询 panic 也只算该类型失败
func (f *Fetcher) safeQuery(ctx context.Context, spec QuerySpec, user common.Address, window Window) (logs []types.Log, err error) {
	defer func() {
		if r := recover(); r != nil {
			monitor.LogQueriesTotal.WithLabelValues(spec.Kind.String(), "panic").Inc()
			logs = nil
			err = &LogQueryError{Kind: spec.Kind, Contract: spec.Contract, Window: window, Reason: ReasonRPC, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return f.Query(ctx, spec, user, window)
}

func (r FetchResult) blockNumbers() []uint64 {
	seen := make(map[uint64]struct{})
	numbers := make([]uint64, 0)
	for _, logs := range r.Logs {
		for _, l := range logs {
			if _, ok := seen[l.BlockNumber]; ok {
				continue
			}
			seen[l.BlockNumber] = struct{}{}
			numbers = append(numbers, l.BlockNumber)
		}
	}
	slices.Sort(numbers)
	return numbers
}
