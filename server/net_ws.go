package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	writeWait    = 5 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
	sendQueueLen = 64
)

// ClientConn 负责发送（写）数据到对端的轻量包装
type ClientConn struct {
	ws   *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
}

func NewClientConn(ws *websocket.Conn) *ClientConn {
	return &ClientConn{
		ws:   ws,
		send: make(chan []byte, sendQueueLen),
	}
}

// Enqueue 将要发送的消息压入队列（非阻塞，满或已关闭返回 false）
func (c *ClientConn) Enqueue(b []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}

// Close 关闭底层连接与发送队列
func (c *ClientConn) Close() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		// 关闭发送通道以结束写协程
		close(c.send)
	}
	c.mu.Unlock()
	if c.ws != nil {
		_ = c.ws.Close()
	}
}

// writePump 独立协程，负责从 send 队列写出到 WS，并定期发送 ping
func (c *ClientConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.BinaryMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump 读取对端批次，交给房间（应用 + 转发）；超出限速的批次直接丢弃
func (c *ClientConn) readPump(room *Room, peerID PeerID, limiter *rate.Limiter) {
	defer c.ws.Close()
	// 读泵退出时，通知房间在 Tick 线程中移除该对端
	defer room.RequestLeave(peerID, c)
	c.ws.SetReadLimit(int64(room.cfg.Replication.MaxBatchBytes))
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error { return c.ws.SetReadDeadline(time.Now().Add(pongWait)) })

	for {
		mt, payload, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				room.log.Warnf("peer %s read error: %v", peerID, err)
			}
			return
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		if limiter != nil && !limiter.Allow() {
			room.metrics.IncInboundDropped()
			room.log.Warnf("peer %s over rate limit, dropped %d bytes", peerID, len(payload))
			continue
		}
		room.OnBatch(peerID, payload)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// 演示环境：允许所有来源（生产环境需严格限制）
		return true
	},
}

// HandleWS WebSocket 接入：?room=room-1&peer=alice（peer 缺省时分配 UUID）
func (m *RoomManager) HandleWS(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room")
	if roomID == "" {
		roomID = m.cfg.DefaultRoom
	}
	peerID := r.URL.Query().Get("peer")
	if peerID == "" {
		peerID = uuid.New().String()
	}

	room, err := m.GetOrCreateRoom(roomID)
	if err != nil {
		Log.Errorf("room %s: %v", roomID, err)
		http.Error(w, "room unavailable", http.StatusServiceUnavailable)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		Log.Warnf("upgrade error: %v", err)
		return
	}

	client := NewClientConn(ws)
	room.JoinPeer(PeerID(peerID), client)

	var limiter *rate.Limiter
	if rc := m.cfg.Replication; rc.InboundPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(rc.InboundPerSecond), rc.InboundBurst)
	}

	go client.writePump()
	go client.readPump(room, PeerID(peerID), limiter)
}
