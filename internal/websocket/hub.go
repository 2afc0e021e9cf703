package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"viralindex/backend/internal/domain"
	"viralindex/backend/internal/monitoring"
)

// SubscribeAll 订阅全部模型的特殊 slug
const SubscribeAll = "*"

// maxSubscriptions 单连接的订阅上限
const maxSubscriptions = 100

// upgraderFactory 创建带有 Origin 验证的 WebSocket 升级器
func upgraderFactory(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// 如果允许所有来源
			for _, origin := range allowedOrigins {
				if origin == "*" {
					return true
				}
			}

			// 获取请求的 Origin
			requestOrigin := r.Header.Get("Origin")
			if requestOrigin == "" {
				// 没有 Origin 的按同源请求处理
				return true
			}

			// 检查 Origin 是否在允许列表中
			for _, origin := range allowedOrigins {
				if requestOrigin == origin {
					return true
				}
			}

			return false
		},
	}
}

// MessageType 定义WebSocket消息类型
type MessageType string

const (
	MessageTypeEvent       MessageType = "event"
	MessageTypeConnected   MessageType = "connected"
	MessageTypePing        MessageType = "ping"
	MessageTypePong        MessageType = "pong"
	MessageTypeSubscribe   MessageType = "subscribe"
	MessageTypeUnsubscribe MessageType = "unsubscribe"
	MessageTypeSubscribed  MessageType = "subscribed"
	MessageTypeError       MessageType = "error"
)

// Message 定义WebSocket消息结构
type Message struct {
	Type      MessageType     `json:"type"`
	Slugs     []string        `json:"slugs,omitempty"` // subscribe/unsubscribe 的模型 slug 列表
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Client 代表一个WebSocket客户端连接
type Client struct {
	ID   string
	Tier domain.UserTier // 网关解析出的订阅等级

	conn  *websocket.Conn
	send  chan []byte
	hub   *Hub
	slugs map[string]bool // 订阅的模型 slug
	mu    sync.RWMutex
	log   *zap.Logger
}

// Hub 管理所有WebSocket连接
//
// 分数和信号摄入后由这里推给订阅方。订阅按模型 slug 分组，
// SubscribeAll 订阅全量流。
type Hub struct {
	clients        map[string]*Client            // clientID -> Client
	slugs          map[string]map[string]*Client // slug -> clientID -> Client
	register       chan *Client
	unregister     chan *Client
	broadcast      chan *domain.FeedEvent
	mu             sync.RWMutex
	log            *zap.Logger
	allowedOrigins []string
	metrics        *monitoring.Metrics // 可为 nil
}

// NewHub 创建WebSocket Hub
//
// 参数:
//   - allowedOrigins: 允许的 Origin 列表，用于连接验证
//   - metrics: 指标收集器，可为 nil
//   - log: 日志记录器，可为 nil
func NewHub(allowedOrigins []string, metrics *monitoring.Metrics, log *zap.Logger) *Hub {
	// 如果没有配置，默认允许所有
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Hub{
		clients:        make(map[string]*Client),
		slugs:          make(map[string]map[string]*Client),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		broadcast:      make(chan *domain.FeedEvent, 256),
		log:            log,
		allowedOrigins: allowedOrigins,
		metrics:        metrics,
	}
}

// Run 启动Hub
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.log.Info("websocket hub stopped")
			h.closeAllClients()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			h.mu.Unlock()
			if h.metrics != nil {
				h.metrics.WSConnectionOpened()
			}
			h.log.Info("feed client registered",
				zap.String("id", client.ID),
				zap.String("tier", string(client.Tier)))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				// 从所有 slug 订阅中移除
				for slug := range client.slugs {
					if clients, exists := h.slugs[slug]; exists {
						delete(clients, client.ID)
						if len(clients) == 0 {
							delete(h.slugs, slug)
						}
					}
				}
				delete(h.clients, client.ID)
				close(client.send)
				if h.metrics != nil {
					h.metrics.WSConnectionClosed()
				}
				h.log.Info("feed client unregistered", zap.String("id", client.ID))
			}
			h.mu.Unlock()

		case event := <-h.broadcast:
			h.broadcastEvent(event)

		case <-ticker.C:
			// 定期ping所有客户端
			h.pingAllClients()
		}
	}
}

// BroadcastFeedEvent 推送一条更新事件
//
// 摄入路径直接调用，队列满时丢弃并记日志，推送不阻塞摄入。
func (h *Hub) BroadcastFeedEvent(event *domain.FeedEvent) {
	select {
	case h.broadcast <- event:
	default:
		h.log.Warn("feed broadcast queue full, dropping event",
			zap.String("type", event.Type),
			zap.String("slug", event.ModelSlug))
	}
}

// broadcastEvent 向订阅方分发事件
func (h *Hub) broadcastEvent(event *domain.FeedEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.Error("failed to marshal feed event", zap.Error(err))
		return
	}

	msg, err := json.Marshal(&Message{
		Type:      MessageTypeEvent,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return
	}

	h.mu.RLock()
	// 同时订阅了具体 slug 和全量流的客户端只收一次
	targets := make(map[string]*Client, len(h.slugs[event.ModelSlug])+len(h.slugs[SubscribeAll]))
	for id, client := range h.slugs[event.ModelSlug] {
		targets[id] = client
	}
	for id, client := range h.slugs[SubscribeAll] {
		targets[id] = client
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	delivered := 0
	for _, client := range targets {
		select {
		case client.send <- msg:
			delivered++
		default:
			// 客户端阻塞，跳过
			h.log.Warn("client channel blocked, skipping", zap.String("clientID", client.ID))
		}
	}

	if h.metrics != nil && delivered > 0 {
		h.metrics.RecordWSEvent()
	}
}

// pingAllClients 向所有客户端发送ping
func (h *Hub) pingAllClients() {
	msg := &Message{
		Type:      MessageTypePing,
		Timestamp: time.Now().UTC(),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients {
		select {
		case client.send <- data:
		default:
			// 跳过阻塞的客户端
		}
	}
}

// closeAllClients 关闭所有客户端连接
func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, client := range h.clients {
		close(client.send)
	}
	h.clients = make(map[string]*Client)
	h.slugs = make(map[string]map[string]*Client)
}

// ClientCount 当前连接数
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleFeed 处理实时推送连接
//
// 挂在 /v1 网关后面，认证、套餐解析和限流都已完成，这里
// 只读取上下文里的等级并升级连接。
func HandleFeed(hub *Hub) gin.HandlerFunc {
	upgrader := upgraderFactory(hub.allowedOrigins)

	return func(c *gin.Context) {
		tier := domain.TierFree
		if v, exists := c.Get("tier"); exists {
			if t, ok := v.(domain.UserTier); ok {
				tier = t
			}
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			hub.log.Error("failed to upgrade connection",
				zap.Error(err),
				zap.String("origin", c.Request.Header.Get("Origin")),
				zap.String("remote_addr", c.ClientIP()))
			return
		}

		client := &Client{
			ID:    uuid.New().String(),
			Tier:  tier,
			conn:  conn,
			send:  make(chan []byte, 256),
			hub:   hub,
			slugs: make(map[string]bool),
			log:   hub.log,
		}

		// 注册客户端
		hub.register <- client

		client.sendMessage(&Message{
			Type:      MessageTypeConnected,
			Timestamp: time.Now().UTC(),
		})

		// 启动读写协程
		go client.writePump()
		go client.readPump()
	}
}

// readPump 处理客户端消息
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		var msg Message
		err := c.conn.ReadJSON(&msg)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Error("websocket error", zap.Error(err))
			}
			break
		}

		// 处理消息
		c.handleMessage(&msg)
	}
}

// writePump 发送消息给客户端
func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			c.conn.WriteMessage(websocket.TextMessage, message)

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage 处理接收到的消息
func (c *Client) handleMessage(msg *Message) {
	switch msg.Type {
	case MessageTypeSubscribe:
		c.subscribe(msg.Slugs)
	case MessageTypeUnsubscribe:
		c.unsubscribe(msg.Slugs)
	case MessageTypePong:
		// 客户端响应pong，更新活动时间
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	default:
		c.log.Warn("unknown message type", zap.String("type", string(msg.Type)))
	}
}

// subscribe 订阅模型更新
func (c *Client) subscribe(slugs []string) {
	if len(slugs) == 0 {
		c.sendError("slugs is required")
		return
	}

	c.mu.Lock()
	if len(c.slugs)+len(slugs) > maxSubscriptions {
		c.mu.Unlock()
		c.sendError("too many subscriptions")
		return
	}
	for _, slug := range slugs {
		if slug == "" {
			continue
		}
		c.slugs[slug] = true
	}
	c.mu.Unlock()

	c.hub.mu.Lock()
	for _, slug := range slugs {
		if slug == "" {
			continue
		}
		if c.hub.slugs[slug] == nil {
			c.hub.slugs[slug] = make(map[string]*Client)
		}
		c.hub.slugs[slug][c.ID] = c
	}
	c.hub.mu.Unlock()

	c.log.Info("subscribed",
		zap.String("clientID", c.ID),
		zap.Strings("slugs", slugs))

	// 发送订阅成功确认
	c.sendMessage(&Message{
		Type:      MessageTypeSubscribed,
		Slugs:     slugs,
		Timestamp: time.Now().UTC(),
	})
}

// unsubscribe 取消订阅
func (c *Client) unsubscribe(slugs []string) {
	c.mu.Lock()
	for _, slug := range slugs {
		delete(c.slugs, slug)
	}
	c.mu.Unlock()

	c.hub.mu.Lock()
	for _, slug := range slugs {
		if clients, exists := c.hub.slugs[slug]; exists {
			delete(clients, c.ID)
			if len(clients) == 0 {
				delete(c.hub.slugs, slug)
			}
		}
	}
	c.hub.mu.Unlock()

	c.log.Info("unsubscribed",
		zap.String("clientID", c.ID),
		zap.Strings("slugs", slugs))
}

// sendError 发送错误消息给客户端
func (c *Client) sendError(errMsg string) {
	msg := &Message{
		Type:      MessageTypeError,
		Error:     errMsg,
		Timestamp: time.Now().UTC(),
	}
	c.sendMessage(msg)
}

// sendMessage 发送消息给客户端
func (c *Client) sendMessage(msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.log.Error("failed to marshal message", zap.Error(err))
		return
	}

	select {
	case c.send <- data:
	default:
		c.log.Warn("client channel blocked", zap.String("clientID", c.ID))
	}
}
