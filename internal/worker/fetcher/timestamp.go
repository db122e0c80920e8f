package fetcher

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"sync"

	"oneseed-engine/internal/worker/monitor"
	"oneseed-engine/pkg/utils"

	"github.com/patrickmn/go-cache"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

// ResolveTimestamps 按区块查询时间戳，失败的区块用窗口终点时间和平均出块时间估算
func (f *Fetcher) ResolveTimestamps(ctx context.Context, window Window, blocks []uint64) map[uint64]uint64 {
	timestamps := make(map[uint64]uint64, len(blocks))
	if len(blocks) == 0 {
		return timestamps
	}

	var mu sync.Mutex
	var missing []uint64
	worker := pool.New().WithMaxGoroutines(f.opts.MaxParallel)
	for _, bn := range blocks {
		if ts, ok := f.cachedTimestamp(bn); ok {
			mu.Lock()
			timestamps[bn] = ts
			mu.Unlock()
			continue
		}
		worker.Go(func() {
			ts, err := f.headerTimestamp(ctx, bn)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				missing = append(missing, bn)
				f.tl.Debug("block header lookup failed", zap.Uint64("block", bn), zap.Error(err))
				return
			}
			timestamps[bn] = ts
		})
	}
	worker.Wait()

	if len(missing) == 0 {
		return timestamps
	}

	// 估算基准：窗口终点块的时间，拿不到就用当前时间
	anchorTs, err := f.headerTimestamp(ctx, window.ToBlock)
	if err != nil {
		anchorTs = uint64(f.nowFn().Unix())
	}
	for _, bn := range missing {
		timestamps[bn] = EstimateTimestamp(anchorTs, window.ToBlock, bn, f.opts.AverageBlockTimeSeconds)
		monitor.BlockTimestampEstimated.Inc()
	}
	f.tl.Warn("estimated block timestamps", zap.Int("blocks", len(missing)), zap.Uint64("anchor_block", window.ToBlock))
	return timestamps
}

// EstimateTimestamp anchorBlock 之前的块按平均出块时间倒推
func EstimateTimestamp(anchorTs, anchorBlock, block, avgBlockTime uint64) uint64 {
	if block >= anchorBlock {
		return anchorTs
	}
	back := (anchorBlock - block) * avgBlockTime
	if back > anchorTs {
		return 0
	}
	return anchorTs - back
}

func (f *Fetcher) headerTimestamp(ctx context.Context, bn uint64) (uint64, error) {
	if ts, ok := f.cachedTimestamp(bn); ok {
		return ts, nil
	}
	header, err := f.client.HeaderByNumber(ctx, new(big.Int).SetUint64(bn))
	if err != nil {
		return 0, err
	}
	// 毫秒级或异常的时间戳当作查询失败，走估算
	if !utils.IsUnixSeconds(int64(header.Time)) {
		return 0, fmt.Errorf("implausible header time %d for block %d", header.Time, bn)
	}
	f.tsCache.Set(strconv.FormatUint(bn, 10), header.Time, cache.DefaultExpiration)
	return header.Time, nil
}

func (f *Fetcher) cachedTimestamp(bn uint64) (uint64, bool) {
	if cached, found := f.tsCache.Get(strconv.FormatUint(bn, 10)); found {
		if ts, ok := cached.(uint64); ok {
			return ts, true
		}
	}
	return 0, false
}
