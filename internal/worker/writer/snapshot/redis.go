package snapshot

import (
	"context"
	"time"

	"oneseed-engine/internal/worker/model"
	"oneseed-engine/internal/worker/writer"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	REDIS_SNAPSHOT_TTL = 10 * time.Minute
	RETRY_COUNT        = 3
)

// RedisSnapshotWriter 把查询缓存的快照镜像到 redis，供其他实例冷启动读取
type RedisSnapshotWriter struct {
	redis *redis.Client
	tl    *zap.Logger
	ttl   time.Duration
}

func NewRedisSnapshotWriter(rdb *redis.Client, tl *zap.Logger, ttl time.Duration) writer.BatchWriter[model.Snapshot] {
	if ttl <= 0 {
		ttl = REDIS_SNAPSHOT_TTL
	}
	return &RedisSnapshotWriter{redis: rdb, tl: tl, ttl: ttl}
}

func (w *RedisSnapshotWriter) BWrite(ctx context.Context, snapshots []model.Snapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	// 同一个 key 只保留代数最大的
	latest := Latest(snapshots)

	pipe := w.redis.Pipeline()
	for _, s := range latest {
		data, err := Encode(s)
		if err != nil {
			w.tl.Warn("encode snapshot failed", zap.String("key", s.Key), zap.Error(err))
			continue
		}
		pipe.Set(ctx, s.Key, data, w.ttl)
	}

	// 执行 Pipeline 并添加重试机制
	var err error
	for attempt := 0; attempt < RETRY_COUNT; attempt++ {
		_, err = pipe.Exec(ctx)
		if err == nil {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if err != nil {
		w.tl.Warn("Redis pipeline exec failed, exceeded the maximum number of retries", zap.Error(err))
		return err
	}
	return nil
}

func (w *RedisSnapshotWriter) Close() error {
	return nil
}

// Encode 快照序列化，Key 不写入 value
func Encode(s model.Snapshot) (string, error) {
	return sonic.MarshalString(struct {
		Generation uint64      `json:"generation"`
		FetchedAt  int64       `json:"fetched_at"`
		Value      interface{} `json:"value"`
	}{s.Generation, s.FetchedAt, s.Value})
}

// Latest 按 key 去重，保留代数最大的快照，顺序按首次出现
func Latest(snapshots []model.Snapshot) []model.Snapshot {
	out := make([]model.Snapshot, 0, len(snapshots))
	index := make(map[string]int, len(snapshots))
	for _, s := range snapshots {
		if i, ok := index[s.Key]; ok {
			if s.Generation >= out[i].Generation {
				out[i] = s
			}
			continue
		}
		index[s.Key] = len(out)
		out = append(out, s)
	}
	return out
}
