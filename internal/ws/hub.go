package ws

import (
	"sync"

	"github.com/Phuonglp03/melodyhub-dev-sub005/internal/cache"
	"github.com/Phuonglp03/melodyhub-dev-sub005/internal/collab"
)

// Hub 维护 projectID -> 连接集合 的路由表。
// 房间里存的是连接而不是 userID：一个用户可开多个标签页/设备，广播要逐连接发。
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Conn]struct{}
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*Conn]struct{})}
}

// Join 将连接加入指定房间
func (h *Hub) Join(projectID string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[projectID] == nil {
		h.rooms[projectID] = make(map[*Conn]struct{})
	}
	h.rooms[projectID][c] = struct{}{}
}

// Leave 将连接从指定房间移除
func (h *Hub) Leave(projectID string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.rooms[projectID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.rooms, projectID)
		}
	}
}

func (h *Hub) conns(projectID string) []*Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Conn, 0, len(h.rooms[projectID]))
	for c := range h.rooms[projectID] {
		out = append(out, c)
	}
	return out
}

// BroadcastOp 把已应用的操作推给房间内除发起者以外的所有连接
func (h *Hub) BroadcastOp(projectID string, from *Conn, op collab.Operation) {
	msg := OpBroadcastMessage{Type: "op_broadcast", ProjectID: projectID, Op: op}
	for _, c := range h.conns(projectID) {
		if c == from {
			continue
		}
		c.enqueue(msg)
	}
}

// BroadcastPresence 把最新的成员列表推给房间内所有连接
func (h *Hub) BroadcastPresence(projectID string, members []cache.PresenceView) {
	msg := ServerMessage{Type: "presence", ProjectID: projectID, Members: members}
	for _, c := range h.conns(projectID) {
		c.enqueue(msg)
	}
}

// BroadcastCursor 把光标更新推给房间内除发起者以外的连接
func (h *Hub) BroadcastCursor(projectID string, from *Conn, userID string, cursor []byte) {
	msg := CursorBroadcastMessage{Type: "cursor", ProjectID: projectID, UserID: userID, Cursor: cursor}
	for _, c := range h.conns(projectID) {
		if c == from {
			continue
		}
		c.enqueue(msg)
	}
}
