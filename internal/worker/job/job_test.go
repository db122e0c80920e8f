package job

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"oneseed-engine/internal/worker/cache"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

type staticSource []common.Address

func (s staticSource) Tracked() []common.Address {
	return s
}

func TestScheduler_OnceAndPeriodic(t *testing.T) {
	s := NewScheduler(zap.NewNop())
	var once, periodic atomic.Int32
	s.RegisterOnceJob("warmup", func(context.Context) error {
		once.Add(1)
		return nil
	})
	s.RegisterJob("tick", 10*time.Millisecond, func(context.Context) error {
		periodic.Add(1)
		return errors.New("tick failed")
	})
	assert.Equal(t, []string{"tick", "warmup"}, s.Jobs())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	assert.Eventually(t, func() bool { return periodic.Load() >= 3 }, time.Second, 5*time.Millisecond)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	s.Stop(stopCtx)
	assert.Equal(t, int32(1), once.Load())

	// 停止后不再执行
	n := periodic.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, periodic.Load())
}

func TestLedgerRefresh_Users(t *testing.T) {
	j := NewLedgerRefresh(staticSource{bob, alice}, []string{alice.Hex(), "bogus"}, 2, zap.NewNop())
	assert.Equal(t, []common.Address{alice, bob}, j.Users())

	j.SetWatched(nil)
	assert.Equal(t, []common.Address{bob, alice}, j.Users())
}

func TestLedgerRefresh_Run(t *testing.T) {
	var mu sync.Mutex
	calls := make(map[string]int)
	record := func(name string) RefreshFunc {
		return func(_ context.Context, user common.Address) error {
			mu.Lock()
			defer mu.Unlock()
			calls[name+":"+user.Hex()]++
			return nil
		}
	}

	j := NewLedgerRefresh(staticSource{alice, bob}, nil, 4, zap.NewNop()).
		Add("activity", record("activity")).
		Add("analytics", record("analytics"))
	require.NoError(t, j.Run(context.Background()))
	assert.Len(t, calls, 4)
	assert.Equal(t, 1, calls["activity:"+alice.Hex()])
	assert.Equal(t, 1, calls["analytics:"+bob.Hex()])
}

func TestLedgerRefresh_Errors(t *testing.T) {
	boom := errors.New("rpc down")
	j := NewLedgerRefresh(staticSource{alice, bob}, nil, 1, zap.NewNop()).
		Add("activity", func(_ context.Context, user common.Address) error {
			if user == alice {
				return cache.ErrStaleGeneration
			}
			return boom
		})
	err := j.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), bob.Hex())
	assert.NotContains(t, err.Error(), alice.Hex())

	empty := NewLedgerRefresh(nil, nil, 1, zap.NewNop())
	assert.NoError(t, empty.Run(context.Background()))
}

type fakeHead struct {
	head atomic.Uint64
	err  error
}

func (f *fakeHead) BlockNumber(context.Context) (uint64, error) {
	return f.head.Load(), f.err
}

func TestBlockWatcher(t *testing.T) {
	head := &fakeHead{}
	head.head.Store(100)
	w := NewBlockWatcher(head, 2, zap.NewNop())

	var seen []uint64
	w.OnNewBlock(func(block uint64) { seen = append(seen, block) })

	ctx := context.Background()
	require.NoError(t, w.Run(ctx))
	require.NoError(t, w.Run(ctx))
	assert.Equal(t, []uint64{98}, seen)

	head.head.Store(103)
	require.NoError(t, w.Run(ctx))
	assert.Equal(t, []uint64{98, 101}, seen)
	assert.Equal(t, uint64(101), w.Last())

	// 高度回退不触发
	head.head.Store(99)
	require.NoError(t, w.Run(ctx))
	assert.Len(t, seen, 2)

	head.err = errors.New("dial tcp: connection refused")
	assert.Error(t, w.Run(ctx))
}
