package model

// Snapshot 查询缓存镜像到 redis 的一条记录
type Snapshot struct {
	Key        string      `json:"key"`
	Generation uint64      `json:"generation"`
	FetchedAt  int64       `json:"fetched_at"`
	Value      interface{} `json:"value"`
}
