package job

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"oneseed-engine/internal/worker/monitor"

	"go.uber.org/zap"
)

// HeadReader 读取最新区块高度，ethclient.Client 直接满足
type HeadReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// BlockWatcher 轮询链高度，确认块前进时通知缓存失效
type BlockWatcher struct {
	client        HeadReader
	confirmations uint64
	tl            *zap.Logger

	mu        sync.Mutex
	last      uint64
	listeners []func(block uint64)
}

func NewBlockWatcher(client HeadReader, confirmations uint64, logger *zap.Logger) *BlockWatcher {
	return &BlockWatcher{client: client, confirmations: confirmations, tl: logger}
}

// OnNewBlock 注册回调
func (w *BlockWatcher) OnNewBlock(fn func(block uint64)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, fn)
}

func (w *BlockWatcher) Last() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}

func (w *BlockWatcher) Run(ctx context.Context) error {
	head, err := w.client.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("get block number: %w", err)
	}
	confirmed := uint64(0)
	if head > w.confirmations {
		confirmed = head - w.confirmations
	}

	w.mu.Lock()
	if confirmed <= w.last {
		w.mu.Unlock()
		return nil
	}
	w.last = confirmed
	listeners := slices.Clone(w.listeners)
	w.mu.Unlock()

	monitor.ChainHead.Set(float64(confirmed))
	w.tl.Debug("new confirmed block", zap.Uint64("block", confirmed))
	for _, fn := range listeners {
		fn(confirmed)
	}
	return nil
}
