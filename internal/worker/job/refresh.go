package job

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"oneseed-engine/internal/worker/cache"
	"oneseed-engine/pkg/utils"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

// RefreshFunc 刷新单个用户的一类查询
type RefreshFunc func(ctx context.Context, user common.Address) error

// UserSource 最近被查询过的用户
type UserSource interface {
	Tracked() []common.Address
}

// LedgerRefresh 周期刷新关注用户和最近活跃用户的账本
type LedgerRefresh struct {
	tl          *zap.Logger
	source      UserSource
	refreshers  map[string]RefreshFunc
	maxParallel int

	mu      sync.RWMutex
	watched []common.Address
}

func NewLedgerRefresh(source UserSource, watched []string, maxParallel int, logger *zap.Logger) *LedgerRefresh {
	j := &LedgerRefresh{
		tl:          logger,
		source:      source,
		refreshers:  make(map[string]RefreshFunc),
		maxParallel: max(maxParallel, 1),
	}
	j.SetWatched(watched)
	return j
}

// Add 注册一类刷新，name 用于日志
func (j *LedgerRefresh) Add(name string, fn RefreshFunc) *LedgerRefresh {
	j.refreshers[name] = fn
	return j
}

// SetWatched 配置热更新时替换关注列表，非法地址跳过
func (j *LedgerRefresh) SetWatched(raw []string) {
	users := make([]common.Address, 0, len(raw))
	for _, s := range raw {
		addr, ok := utils.ParseAddress(s)
		if !ok {
			j.tl.Warn("skip invalid watch address", zap.String("address", s))
			continue
		}
		users = append(users, addr)
	}
	j.mu.Lock()
	j.watched = users
	j.mu.Unlock()
}

// Users 本轮需要刷新的用户，去重
func (j *LedgerRefresh) Users() []common.Address {
	j.mu.RLock()
	users := append([]common.Address(nil), j.watched...)
	j.mu.RUnlock()
	if j.source != nil {
		users = append(users, j.source.Tracked()...)
	}

	seen := make(map[common.Address]struct{}, len(users))
	out := make([]common.Address, 0, len(users))
	for _, u := range users {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

func (j *LedgerRefresh) Run(ctx context.Context) error {
	users := j.Users()
	if len(users) == 0 {
		return nil
	}

	p := pool.New().WithErrors().WithContext(ctx).WithMaxGoroutines(j.maxParallel)
	for _, user := range users {
		for name, fn := range j.refreshers {
			p.Go(func(ctx context.Context) error {
				err := fn(ctx, user)
				// 被更新的刷新覆盖不算失败
				if err == nil || errors.Is(err, cache.ErrStaleGeneration) {
					return nil
				}
				return fmt.Errorf("%s %s: %w", name, user.Hex(), err)
			})
		}
	}
	err := p.Wait()
	j.tl.Debug("ledger refresh finished", zap.Int("users", len(users)), zap.Error(err))
	return err
}
