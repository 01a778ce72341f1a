// Package peer 以对端身份连接到另一台主机：出站批次写入上游 websocket，
// 上游转发来的批次交给调用方应用。
package peer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	// ErrNotConnected 连接已关闭
	ErrNotConnected = errors.New("peer: not connected")
	// ErrBacklog 发送队列已满
	ErrBacklog = errors.New("peer: send queue full")
)

const (
	handshakeTimeout = 5 * time.Second
	writeWait        = 5 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = pongWait * 9 / 10
	sendQueueLen     = 64
)

// Client 上游连接。Send 不阻塞模拟协程，实际写出在独立协程中完成。
type Client struct {
	conn *websocket.Conn
	log  *zap.SugaredLogger
	send chan []byte

	mu     sync.Mutex
	closed bool
	broken atomic.Bool
	done   chan struct{}
}

// Dial 连接上游主机，url 形如 ws://host:8080/ws?room=room-1&peer=bob
func Dial(ctx context.Context, url string, log *zap.SugaredLogger) (*Client, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	d := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, resp, err := d.DialContext(ctx, url, http.Header{})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	c := &Client{
		conn: conn,
		log:  log.With("upstream", url),
		send: make(chan []byte, sendQueueLen),
		done: make(chan struct{}),
	}
	go c.writeLoop()
	return c, nil
}

// Send 实现 replication.Channel：只入队，队列满或已关闭时返回错误
func (c *Client) Send(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.broken.Load() {
		return ErrNotConnected
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return ErrBacklog
	}
}

// Run 读取上游消息直到 ctx 结束或连接断开；每个二进制消息交给 deliver
func (c *Client) Run(ctx context.Context, deliver func([]byte)) error {
	stop := context.AfterFunc(ctx, c.Close)
	defer stop()
	defer c.Close()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { return c.conn.SetReadDeadline(time.Now().Add(pongWait)) })
	for {
		mt, msg, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %v", ErrNotConnected, err)
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		deliver(msg)
	}
}

// Close 关闭连接，可重复调用
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()
	<-c.done
	_ = c.conn.Close()
}

func (c *Client) writeLoop() {
	defer close(c.done)
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
				c.log.Warnf("upstream write failed: %v", err)
				_ = c.conn.Close()
				c.drain()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.conn.Close()
				c.drain()
				return
			}
		}
	}
}

// drain 写失败后丢弃剩余消息，直到 Close 关闭通道
func (c *Client) drain() {
	c.broken.Store(true)
	for range c.send {
	}
}
