package ws

import (
	"encoding/json"

	"github.com/Phuonglp03/melodyhub-dev-sub005/internal/cache"
	"github.com/Phuonglp03/melodyhub-dev-sub005/internal/collab"
)

type ClientMessage struct {
	Type      string `json:"type"`
	ProjectID string `json:"projectId"`
	// 编辑操作
	OpType  string          `json:"opType,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	// 操作可以携带整份快照（比如定期的全量检查点）
	Snapshot string `json:"snapshot,omitempty"`
	// 幂等令牌，可选
	OpID string `json:"opId,omitempty"`
	// presence
	Profile json.RawMessage `json:"profile,omitempty"`
	Cursor  json.RawMessage `json:"cursor,omitempty"`
	// 断线追平
	FromVersion uint64 `json:"fromVersion"`
}

type ServerMessage struct {
	Type      string               `json:"type"`
	ProjectID string               `json:"projectId,omitempty"`
	Version   uint64               `json:"version,omitempty"`
	State     *collab.RoomState    `json:"state,omitempty"`
	Ops       []collab.Operation   `json:"ops,omitempty"`
	Members   []cache.PresenceView `json:"members,omitempty"`
	Content   string               `json:"content,omitempty"`
}

// 广播给同房间其他连接的“已应用操作”事件
// 与 op_applied(ack) 区分：这里是推送给其他协作者，收到后在本地重放并对齐版本
type OpBroadcastMessage struct {
	Type      string           `json:"type"` // 固定 "op_broadcast"
	ProjectID string           `json:"projectId"`
	Op        collab.Operation `json:"op"`
}

type CursorBroadcastMessage struct {
	Type      string          `json:"type"` // 固定 "cursor"
	ProjectID string          `json:"projectId"`
	UserID    string          `json:"userId"`
	Cursor    json.RawMessage `json:"cursor,omitempty"`
}
