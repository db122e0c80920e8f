package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"oneseed-engine/internal/worker/model"
	"oneseed-engine/internal/worker/monitor"

	"github.com/bytedance/sonic"
	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	QUERY_CACHE_STALE_AFTER = 30 * time.Second // 超过这个时间需要重新拉取
	QUERY_CACHE_RETENTION   = 30 * time.Minute // 本地缓存保留时间
)

var ErrStaleGeneration = errors.New("stale generation")

// Mirror 提交后的快照镜像，writer.AsyncBatchWriter 直接满足
type Mirror interface {
	Submit(item model.Snapshot)
}

// Ticket 一次拉取开始时领取的代数，提交时必须带回
type Ticket struct {
	Key        string
	Generation uint64
	epoch      uint64
}

// Entry 缓存值和它的拉取时间、代数
type Entry[T any] struct {
	Value      T
	FetchedAt  time.Time
	Generation uint64
	epoch      uint64
	forced     bool
}

type envelope[T any] struct {
	Generation uint64 `json:"generation"`
	FetchedAt  int64  `json:"fetched_at"`
	Value      T      `json:"value"`
}

// QueryCache key -> (value, fetchedAt, generation)，旧代数的结果不会覆盖新代数
type QueryCache[T any] struct {
	id         string
	tl         *zap.Logger
	localCache *cache.Cache
	redis      *redis.Client
	mirror     Mirror
	staleAfter time.Duration

	mu     sync.Mutex
	latest map[string]uint64 // key -> 最近一次 Begin 的代数
	seq    atomic.Uint64
	epoch  atomic.Uint64 // 新区块到来时递增
	nowFn  func() time.Time
}

type Option[T any] func(*QueryCache[T])

// WithRedis 本地未命中时从 redis 读取镜像
func WithRedis[T any](rdb *redis.Client) Option[T] {
	return func(c *QueryCache[T]) { c.redis = rdb }
}

// WithMirror 提交成功后写入镜像
func WithMirror[T any](m Mirror) Option[T] {
	return func(c *QueryCache[T]) { c.mirror = m }
}

func NewQueryCache[T any](id string, tl *zap.Logger, staleAfter, retention time.Duration, opts ...Option[T]) *QueryCache[T] {
	if staleAfter <= 0 {
		staleAfter = QUERY_CACHE_STALE_AFTER
	}
	if retention <= 0 {
		retention = QUERY_CACHE_RETENTION
	}
	c := &QueryCache[T]{
		id:         id,
		tl:         tl,
		localCache: cache.New(retention, time.Minute),
		staleAfter: staleAfter,
		latest:     make(map[string]uint64),
		nowFn:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.localCache.OnEvicted(c.evicted)
	return c
}

// evicted 过期清理时删掉代数记录；之后又开始了新的拉取则保留
func (c *QueryCache[T]) evicted(key string, value interface{}) {
	entry, ok := value.(Entry[T])
	if !ok {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.latest[key] <= entry.Generation {
		delete(c.latest, key)
	}
}

// Begin 开始一次拉取，之前领取的代数全部作废；只在确实要拉取时调用
func (c *QueryCache[T]) Begin(key string) Ticket {
	gen := c.seq.Add(1)
	c.mu.Lock()
	c.latest[key] = gen
	c.mu.Unlock()
	return Ticket{Key: key, Generation: gen, epoch: c.epoch.Load()}
}

// Commit 只接受最新代数的结果，否则返回 ErrStaleGeneration
func (c *QueryCache[T]) Commit(t Ticket, value T) error {
	c.mu.Lock()
	if latest := c.latest[t.Key]; t.Generation < latest {
		c.mu.Unlock()
		monitor.StaleGenerationDiscarded.WithLabelValues(c.id).Inc()
		c.tl.Debug("discard stale result", zap.String("key", t.Key), zap.Uint64("generation", t.Generation), zap.Uint64("latest", latest))
		return ErrStaleGeneration
	}
	entry := Entry[T]{Value: value, FetchedAt: c.nowFn(), Generation: t.Generation, epoch: t.epoch}
	c.localCache.SetDefault(t.Key, entry)
	c.mu.Unlock()

	if c.mirror != nil {
		c.mirror.Submit(model.Snapshot{Key: t.Key, Generation: t.Generation, FetchedAt: entry.FetchedAt.Unix(), Value: value})
	}
	return nil
}

// Get 本地优先，未命中再查 redis 镜像；镜像数据一律视为过期
func (c *QueryCache[T]) Get(ctx context.Context, key string) (Entry[T], bool) {
	if cached, found := c.localCache.Get(key); found {
		if entry, ok := cached.(Entry[T]); ok {
			monitor.QueryCacheLookups.WithLabelValues(c.id, "hit").Inc()
			return entry, true
		}
	}
	if c.redis != nil {
		if entry, ok := c.loadMirror(ctx, key); ok {
			monitor.QueryCacheLookups.WithLabelValues(c.id, "redis_hit").Inc()
			return entry, true
		}
	}
	monitor.QueryCacheLookups.WithLabelValues(c.id, "miss").Inc()
	return Entry[T]{}, false
}

func (c *QueryCache[T]) loadMirror(ctx context.Context, key string) (Entry[T], bool) {
	raw, err := c.redis.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.tl.Warn("read snapshot mirror failed", zap.String("key", key), zap.Error(err))
		}
		return Entry[T]{}, false
	}
	var env envelope[T]
	if err := sonic.UnmarshalString(raw, &env); err != nil {
		c.tl.Warn("decode snapshot mirror failed", zap.String("key", key), zap.Error(err))
		return Entry[T]{}, false
	}
	return Entry[T]{Value: env.Value, FetchedAt: time.Unix(env.FetchedAt, 0), Generation: env.Generation, forced: true}, true
}

// IsStale 同步判断是否需要重新拉取：不存在、超时、被标记失效、或者之后有新区块
func (c *QueryCache[T]) IsStale(key string, now time.Time) bool {
	cached, found := c.localCache.Get(key)
	if !found {
		return true
	}
	entry, ok := cached.(Entry[T])
	if !ok {
		return true
	}
	return entry.stale(now, c.staleAfter, c.epoch.Load())
}

func (e Entry[T]) stale(now time.Time, staleAfter time.Duration, epoch uint64) bool {
	return e.forced || e.epoch < epoch || now.Sub(e.FetchedAt) > staleAfter
}

// Invalidate 标记单个 key 失效，值保留给展示使用
func (c *QueryCache[T]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cached, found := c.localCache.Get(key)
	if !found {
		return
	}
	if entry, ok := cached.(Entry[T]); ok {
		entry.forced = true
		c.localCache.SetDefault(key, entry)
	}
}

// InvalidateAll 新区块到来，之前的结果全部过期
func (c *QueryCache[T]) InvalidateAll() uint64 {
	return c.epoch.Add(1)
}

// Keys 当前缓存的 key
func (c *QueryCache[T]) Keys() []string {
	items := c.localCache.Items()
	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	return keys
}

func (c *QueryCache[T]) ID() string {
	return c.id
}
