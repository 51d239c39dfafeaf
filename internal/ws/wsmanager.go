package ws

import (
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Phuonglp03/melodyhub-dev-sub005/internal/cache"
	"github.com/Phuonglp03/melodyhub-dev-sub005/internal/collab"
)

// 全局的WebSocket upgrader（允许本地开发环境的来源）
var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || origin == "null" {
		return true
	}
	allowedPrefixes := []string{
		"http://localhost",
		"http://127.0.0.1",
		"https://localhost",
		"https://127.0.0.1",
	}
	for _, p := range allowedPrefixes {
		if strings.HasPrefix(origin, p) {
			return true
		}
	}
	return false
}}

type Manager struct {
	hub      *Hub
	state    *collab.StateStore
	presence *cache.Presence
}

func NewManager(hub *Hub, state *collab.StateStore, presence *cache.Presence) *Manager {
	return &Manager{hub: hub, state: state, presence: presence}
}

func (m *Manager) WebSocketConnect(c *gin.Context) {
	userID := c.Query("userId")
	if userID == "" {
		c.String(http.StatusBadRequest, "missing userId")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v (origin=%s)", err, c.Request.Header.Get("Origin"))
		return
	}
	defer conn.Close()

	// 每个连接一个 socketID，presence 按它区分同一用户的多端
	wsConn := NewConn(conn, m.hub, userID, uuid.NewString(), m.state, m.presence)

	// 先启动写循环，确保后续写入 send 通道的消息可以被及时发送
	go wsConn.writeLoop()
	wsConn.enqueue(ServerMessage{Type: "welcome"})

	// 读循环阻塞至连接关闭
	wsConn.readLoop(c.Request.Context())
}
