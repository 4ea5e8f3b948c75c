package chartgw

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	maxMessageSize = 4 * 1024
	sendBuffer     = 256
)

// wsClient 单个图表连接；发送队列满时丢弃，慢客户端不阻塞广播。
type wsClient struct {
	id   string
	conn *websocket.Conn
	hub  *Hub
	send chan []byte

	mu      sync.Mutex
	closed  bool
	dropped atomic.Int64

	writeWait  time.Duration
	pongWait   time.Duration
	pingPeriod time.Duration
}

func newClient(conn *websocket.Conn, h *Hub) *wsClient {
	return &wsClient{
		id:         uuid.NewString(),
		conn:       conn,
		hub:        h,
		send:       make(chan []byte, sendBuffer),
		writeWait:  5 * time.Second,
		pongWait:   60 * time.Second,
		pingPeriod: 50 * time.Second,
	}
}

func (c *wsClient) ID() string { return c.id }

func (c *wsClient) Start() {
	go c.writePump()
	go c.readPump()
}

func (c *wsClient) SendJSON(v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.SendBytes(b)
}

func (c *wsClient) SendBytes(b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- b:
	default:
		c.dropped.Add(1)
	}
}

// Close 只关闭发送队列，连接由 writePump 关闭。
func (c *wsClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *wsClient) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug("chart client read", zap.String("client", c.id), zap.Error(err))
			}
			return
		}
		var req Request
		if err := json.Unmarshal(payload, &req); err != nil {
			c.SendJSON(Envelope{Type: TypeError, Message: "invalid JSON"})
			continue
		}
		c.hub.HandleCommand(c, req)
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
		if n := c.dropped.Load(); n > 0 {
			c.hub.log.Info("chart client dropped messages", zap.String("client", c.id), zap.Int64("dropped", n))
		}
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
