// Package push 维护 websocket 连接，按订单或店员终端推送消息。
package push

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"kiosk/internal/pkg/logger"
	"kiosk/internal/pkg/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBufferSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// 终端与服务同源部署，这里不做跨域限制
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub 维护所有活跃的连接。连接在开始读消息之前就已登记，所有状态由同一把锁保护。
type Hub struct {
	lock    sync.RWMutex
	closed  bool
	clients map[*Client]struct{}
	byOrder map[string]map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		byOrder: make(map[string]map[*Client]struct{}),
	}
}

// Run 阻塞到 ctx 取消，然后拒绝新连接并关闭全部现有连接。
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.lock.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.lock.Unlock()

	for _, client := range clients {
		h.remove(client)
		_ = client.conn.Close()
	}
	logger.Ctx(ctx).Info().Int("connections", len(clients)).Msg("push hub stopped")
}

// add 登记连接，Hub 已关闭时返回 false。
func (h *Hub) add(client *Client) bool {
	h.lock.Lock()
	defer h.lock.Unlock()
	if h.closed {
		return false
	}
	h.clients[client] = struct{}{}
	metrics.PushConnections.Inc()
	return true
}

func (h *Hub) remove(client *Client) {
	h.lock.Lock()
	defer h.lock.Unlock()
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	h.detach(client)
	close(client.send)
	metrics.PushConnections.Dec()
}

// detach 要求持有写锁。
func (h *Hub) detach(client *Client) {
	if client.orderID == "" {
		return
	}
	if set, ok := h.byOrder[client.orderID]; ok {
		delete(set, client)
		if len(set) == 0 {
			delete(h.byOrder, client.orderID)
		}
	}
}

func (h *Hub) subscribe(client *Client, orderID string) {
	h.lock.Lock()
	defer h.lock.Unlock()
	if _, ok := h.clients[client]; !ok {
		return
	}
	h.detach(client)
	client.orderID = orderID
	if orderID == "" {
		return
	}
	set, ok := h.byOrder[orderID]
	if !ok {
		set = make(map[*Client]struct{})
		h.byOrder[orderID] = set
	}
	set[client] = struct{}{}
}

func (h *Hub) setAdmin(client *Client, admin bool) {
	h.lock.Lock()
	client.admin = admin
	h.lock.Unlock()
}

// PushOrder 推送给订阅了 orderID 的连接，返回成功入队的连接数。
func (h *Hub) PushOrder(orderID string, msg []byte) int {
	h.lock.RLock()
	defer h.lock.RUnlock()
	sent := 0
	for client := range h.byOrder[orderID] {
		if client.enqueue(msg) {
			sent++
		}
	}
	metrics.PushedMessages.WithLabelValues("order").Add(float64(sent))
	return sent
}

// PushAdmin 推送给所有店员终端。
func (h *Hub) PushAdmin(msg []byte) int {
	h.lock.RLock()
	defer h.lock.RUnlock()
	sent := 0
	for client := range h.clients {
		if client.admin && client.enqueue(msg) {
			sent++
		}
	}
	metrics.PushedMessages.WithLabelValues("admin").Add(float64(sent))
	return sent
}

// Connections 返回当前连接数。
func (h *Hub) Connections() int {
	h.lock.RLock()
	defer h.lock.RUnlock()
	return len(h.clients)
}

// ServeWS 把 HTTP 请求升级为 websocket 并注册到 Hub。
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Ctx(r.Context()).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &Client{
		id:   uuid.NewString(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}
	if !h.add(client) {
		_ = conn.Close()
		return
	}
	logger.Ctx(r.Context()).Debug().Str("conn_id", client.id).Msg("client registered")

	go client.writePump()
	go client.readPump()
}

// Client 是一个 websocket 连接。orderID 和 admin 由 Hub 的锁保护。
type Client struct {
	id      string
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	orderID string
	admin   bool
}

// enqueue 要求持有读锁。缓冲区满说明对端太慢，直接丢弃这条消息。
func (c *Client) enqueue(msg []byte) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// clientMessage 是终端发来的控制消息。
type clientMessage struct {
	SetOrderID *string `json:"setOrderId"`
	SetAdmin   *bool   `json:"setAdmin"`
}

func (c *Client) readPump() {
	defer func() {
		c.hub.remove(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.SetOrderID != nil {
			c.hub.subscribe(c, *msg.SetOrderID)
		}
		if msg.SetAdmin != nil {
			c.hub.setAdmin(c, *msg.SetAdmin)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
