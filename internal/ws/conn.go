package ws

import (
	"context"
	"log"

	"github.com/gorilla/websocket"

	"github.com/Phuonglp03/melodyhub-dev-sub005/internal/cache"
	"github.com/Phuonglp03/melodyhub-dev-sub005/internal/collab"
)

type Conn struct {
	ws        *websocket.Conn
	hub       *Hub
	projectID string
	userID    string
	socketID  string

	send chan any

	state    *collab.StateStore
	presence *cache.Presence
}

func NewConn(ws *websocket.Conn, hub *Hub, userID, socketID string, state *collab.StateStore, presence *cache.Presence) *Conn {
	return &Conn{
		ws:       ws,
		hub:      hub,
		userID:   userID,
		socketID: socketID,
		send:     make(chan any, 32),
		state:    state,
		presence: presence,
	}
}

func (c *Conn) enqueue(msg any) {
	select {
	case c.send <- msg:
	default:
		// 队列满则丢弃，慢消费者不拖累广播
	}
}

func (c *Conn) readLoop(ctx context.Context) {
	defer close(c.send)
	defer c.drop(ctx)
	for {
		var msg ClientMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			log.Printf("read json error (user=%s, project=%s): %v", c.userID, c.projectID, err)
			return
		}
		switch msg.Type {
		case "join":
			c.handleJoin(ctx, msg)

		case "leave":
			c.handleLeave(ctx)

		case "op":
			c.handleOp(ctx, msg)

		case "cursor":
			if c.projectID == "" {
				continue
			}
			rec := c.presence.UpdateCursor(ctx, c.projectID, c.userID, msg.Cursor)
			if rec != nil {
				c.hub.BroadcastCursor(c.projectID, c, c.userID, msg.Cursor)
			}

		case "heartbeat":
			if c.projectID == "" {
				continue
			}
			c.presence.Heartbeat(ctx, c.projectID, c.userID)
			c.enqueue(ServerMessage{Type: "feedback", Content: "Heartbeat received"})

		case "resync":
			if msg.ProjectID == "" {
				c.enqueue(ServerMessage{Type: "error", Content: collab.ErrMissingProject.Error()})
				continue
			}
			ops, err := c.state.GetMissingOps(ctx, msg.ProjectID, msg.FromVersion)
			if err != nil {
				c.enqueue(ServerMessage{Type: "error", Content: err.Error()})
				continue
			}
			// ops 可能为空：空列表就是“已追平”，不是错误
			c.enqueue(ServerMessage{Type: "resync", ProjectID: msg.ProjectID, Ops: ops})

		default:
			c.enqueue(ServerMessage{Type: "ignored", Content: "Unknown message type"})
		}
	}
}

func (c *Conn) handleJoin(ctx context.Context, msg ClientMessage) {
	if msg.ProjectID == "" {
		c.enqueue(ServerMessage{Type: "error", Content: collab.ErrMissingProject.Error()})
		return
	}
	if c.projectID != "" && c.projectID != msg.ProjectID {
		// 先离开旧房间
		c.handleLeave(ctx)
	}
	c.projectID = msg.ProjectID
	c.hub.Join(c.projectID, c)
	c.presence.AddPresence(ctx, c.projectID, c.userID, msg.Profile, c.socketID)

	st, err := c.state.GetState(ctx, c.projectID)
	if err != nil {
		c.enqueue(ServerMessage{Type: "error", Content: err.Error()})
		return
	}
	c.enqueue(ServerMessage{Type: "joined", ProjectID: c.projectID, Version: st.Version, State: &st})
	c.hub.BroadcastPresence(c.projectID, c.presence.ListPresence(ctx, c.projectID))
}

func (c *Conn) handleLeave(ctx context.Context) {
	if c.projectID == "" {
		return
	}
	projectID := c.projectID
	c.hub.Leave(projectID, c)
	c.presence.RemovePresence(ctx, projectID, c.userID, c.socketID)
	c.hub.BroadcastPresence(projectID, c.presence.ListPresence(ctx, projectID))
	c.projectID = ""
}

func (c *Conn) handleOp(ctx context.Context, msg ClientMessage) {
	projectID := msg.ProjectID
	if projectID == "" {
		projectID = c.projectID
	}
	op := collab.Operation{
		Type:     msg.OpType,
		Payload:  msg.Payload,
		SenderID: c.userID,
		OpID:     msg.OpID,
	}
	applied, err := c.state.ApplyOperation(ctx, projectID, op, collab.ApplyOptions{Snapshot: msg.Snapshot})
	if err != nil {
		c.enqueue(ServerMessage{Type: "error", ProjectID: projectID, Content: err.Error()})
		return
	}
	c.enqueue(ServerMessage{Type: "op_applied", ProjectID: projectID, Version: applied.Version})
	c.hub.BroadcastOp(projectID, c, applied.Op)
}

// drop：连接断开时的收尾，等价于一次 leave
func (c *Conn) drop(ctx context.Context) {
	c.handleLeave(ctx)
}

func (c *Conn) writeLoop() {
	// 持续消费通道中的出站消息
	for msg := range c.send {
		_ = c.ws.WriteJSON(msg)
	}
}
