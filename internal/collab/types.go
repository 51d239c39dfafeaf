package collab

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// RoomState 是单个房间的权威状态。
// version 单调不减，每成功应用一个操作恰好 +1；只有显式 clear 才会回零。
// snapshot 是不透明的序列化文档，本层只存储转发，从不解析内部结构。
type RoomState struct {
	ProjectID string    `json:"projectId"`
	Version   uint64    `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
	Snapshot  string    `json:"snapshot,omitempty"`
}

// Operation 是操作日志里的一条记录，version 是它被应用后产生的版本号
type Operation struct {
	Version   uint64          `json:"version"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	SenderID  string          `json:"senderId,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	// 幂等令牌，客户端没带时服务端生成
	OpID string `json:"opId,omitempty"`
}

// Applied 是 ApplyOperation 的返回：新版本号和补全后的操作记录
type Applied struct {
	Version uint64    `json:"version"`
	Op      Operation `json:"op"`
}

// ApplyOptions：Snapshot 非空时覆盖当前快照；为空保持不变
// （单个操作不要求携带全量快照）
type ApplyOptions struct {
	Snapshot string
}

var (
	ErrMissingProject = errors.New("PROJECT_ID_REQUIRED")
	ErrMissingOpType  = errors.New("OP_TYPE_REQUIRED")
)

// SnapshotRecord 是持久层返回的最近一次落盘的快照
type SnapshotRecord struct {
	ProjectID string    `json:"projectId"`
	Version   uint64    `json:"version"`
	Snapshot  string    `json:"snapshot"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DurableStore 是持久存储的消费侧接口：冷加载和周期性落盘时才碰，
// 实现在 store 包（MySQL）
type DurableStore interface {
	Upsert(ctx context.Context, projectID string, version uint64, snapshot string) error
	FindLatest(ctx context.Context, projectID string) (*SnapshotRecord, error)
}

// MetricsSink 是埋点的消费侧接口：只管发，不关心结果，绝不报错
type MetricsSink interface {
	Record(event string, payload map[string]any)
}
