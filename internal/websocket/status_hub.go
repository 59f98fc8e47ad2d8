package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/wfunc/spectro-head/internal/head"
	"github.com/wfunc/spectro-head/internal/logger"
	"go.uber.org/zap"
)

// StatusMessage 推送给订阅者的消息
type StatusMessage struct {
	Type      string               `json:"type"` // "status" / "operation_complete"
	Timestamp int64                `json:"timestamp"`
	Snapshot  *head.StatusSnapshot `json:"snapshot,omitempty"`
}

// StatusHub 状态订阅中心
// 每次操作完成时向所有连接的客户端推送状态快照
type StatusHub struct {
	mu      sync.RWMutex
	clients map[*StatusClient]bool

	register   chan *StatusClient
	unregister chan *StatusClient
	broadcast  chan *StatusMessage

	logger *zap.Logger
}

// NewStatusHub 创建状态订阅中心
func NewStatusHub() *StatusHub {
	return &StatusHub{
		clients:    make(map[*StatusClient]bool),
		register:   make(chan *StatusClient, 8),
		unregister: make(chan *StatusClient, 8),
		broadcast:  make(chan *StatusMessage, 64),
		logger:     logger.GetModuleLogger("websocket"),
	}
}

// Run 事件循环，应在独立协程中运行
func (h *StatusHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("状态订阅者接入", zap.Int("total", count))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("状态订阅者断开", zap.Int("total", count))

		case msg := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- msg:
				default:
					// 发送队列已满的客户端直接放弃本条消息
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Register 注册客户端
func (h *StatusHub) Register(client *StatusClient) {
	h.register <- client
}

// Unregister 注销客户端
func (h *StatusHub) Unregister(client *StatusClient) {
	h.unregister <- client
}

// PushSnapshot 推送一份状态快照
func (h *StatusHub) PushSnapshot(msgType string, snap head.StatusSnapshot) {
	msg := &StatusMessage{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Snapshot:  &snap,
	}
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("状态广播队列已满，丢弃消息")
	}
}

// ClientCount 当前订阅者数量
func (h *StatusHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// StatusClient 一个WebSocket订阅者连接
type StatusClient struct {
	hub  *StatusHub
	conn *websocket.Conn
	send chan *StatusMessage
}

// NewStatusClient 创建订阅者
func NewStatusClient(hub *StatusHub, conn *websocket.Conn) *StatusClient {
	return &StatusClient{
		hub:  hub,
		conn: conn,
		send: make(chan *StatusMessage, 16),
	}
}

// WritePump 向客户端写消息，由调用方启动协程
func (c *StatusClient) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ReadPump 消化客户端消息并处理断开，由调用方启动协程
// 状态流是单向的，收到的内容一律丢弃
func (c *StatusClient) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
