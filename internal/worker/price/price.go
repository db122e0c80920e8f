package price

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"oneseed-engine/internal/worker/config"
	"oneseed-engine/pkg/utils"

	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	QuoteUSD        = "USD"
	PRICE_CACHE_TTL = time.Minute
)

var ErrPriceNotFound = errors.New("price not found")

// Lookup 资产的美元价格，只用于估算
type Lookup interface {
	PriceUSD(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// StaticLookup 配置里的固定价格
type StaticLookup map[string]decimal.Decimal

func NewStaticLookup(cfg config.PriceConfig) StaticLookup {
	prices := make(StaticLookup, len(cfg.Static))
	for symbol, p := range cfg.Static {
		prices[strings.ToUpper(symbol)] = decimal.NewFromFloat(p)
	}
	return prices
}

func (s StaticLookup) PriceUSD(_ context.Context, symbol string) (decimal.Decimal, error) {
	if p, ok := s[strings.ToUpper(symbol)]; ok {
		return p, nil
	}
	return decimal.Zero, fmt.Errorf("%w: %s", ErrPriceNotFound, symbol)
}

// RedisLookup 读取价格服务写入 redis 的价格，本地缓存一分钟
type RedisLookup struct {
	redis      *redis.Client
	localCache *cache.Cache
}

func NewRedisLookup(rdb *redis.Client) *RedisLookup {
	return &RedisLookup{redis: rdb, localCache: cache.New(PRICE_CACHE_TTL, time.Minute)}
}

func (r *RedisLookup) PriceUSD(ctx context.Context, symbol string) (decimal.Decimal, error) {
	key := utils.PriceKey(strings.ToUpper(symbol), QuoteUSD)
	if cached, found := r.localCache.Get(key); found {
		if p, ok := cached.(decimal.Decimal); ok {
			return p, nil
		}
	}
	raw, err := r.redis.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrPriceNotFound, symbol)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("get %s: %w", key, err)
	}
	p, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse price %q: %w", raw, err)
	}
	r.localCache.SetDefault(key, p)
	return p, nil
}

// Chain 依次尝试，全部失败时返回 fallback
type Chain struct {
	lookups  []Lookup
	fallback decimal.Decimal
	tl       *zap.Logger
}

func NewChain(tl *zap.Logger, fallback decimal.Decimal, lookups ...Lookup) *Chain {
	return &Chain{lookups: lookups, fallback: fallback, tl: tl}
}

// PriceUSD 返回价格以及是否用了 fallback
func (c *Chain) PriceUSD(ctx context.Context, symbol string) (decimal.Decimal, bool) {
	for _, l := range c.lookups {
		p, err := l.PriceUSD(ctx, symbol)
		if err == nil && p.IsPositive() {
			return p, false
		}
		if err != nil && !errors.Is(err, ErrPriceNotFound) {
			c.tl.Debug("price lookup failed", zap.String("symbol", symbol), zap.Error(err))
		}
	}
	return c.fallback, true
}
