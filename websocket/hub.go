package websocket

import (
	"context"
	"errors"
	"sync"

	"planning-poker-backend/model"

	"go.uber.org/zap"
)

var (
	ErrUnknownConnection  = errors.New("unknown connection")
	ErrTooManyConnections = errors.New("too many connections")
)

// Hub 维护活跃的客户端集合，按会话PIN分组广播
type Hub struct {
	// 互斥锁保护clients和groups
	mu sync.RWMutex

	// 已注册的客户端，按连接ID
	clients map[string]*Client

	// 分组，PIN -> 连接ID -> 客户端
	groups map[string]map[string]*Client

	maxConnections int
	logger         *zap.Logger
}

// NewHub 创建一个新的Hub，maxConnections<=0 表示不限制
func NewHub(maxConnections int, logger *zap.Logger) *Hub {
	return &Hub{
		clients:        make(map[string]*Client),
		groups:         make(map[string]map[string]*Client),
		maxConnections: maxConnections,
		logger:         logger.With(zap.String("component", "hub")),
	}
}

// Register 注册客户端
func (h *Hub) Register(client *Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.maxConnections > 0 && len(h.clients) >= h.maxConnections {
		return ErrTooManyConnections
	}
	h.clients[client.ID] = client
	return nil
}

// Unregister 注销客户端，移出所有分组并关闭发送通道；可重复调用
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(client)
}

// AddToGroup 把连接加入PIN分组，重复加入无副作用
func (h *Hub) AddToGroup(connID, pin string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	client, ok := h.clients[connID]
	if !ok {
		return ErrUnknownConnection
	}
	members, ok := h.groups[pin]
	if !ok {
		members = make(map[string]*Client)
		h.groups[pin] = members
	}
	members[connID] = client
	client.groups[pin] = struct{}{}
	return nil
}

// RemoveFromGroup 把连接移出PIN分组，重复移除无副作用
func (h *Hub) RemoveFromGroup(connID, pin string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if client, ok := h.clients[connID]; ok {
		delete(client.groups, pin)
	}
	h.removeMemberLocked(pin, connID)
}

// Broadcast 向PIN分组推送事件
func (h *Hub) Broadcast(_ context.Context, pin, event string, payload interface{}) error {
	msg := &model.Message{Type: event, PIN: pin, Payload: payload}
	data, err := msg.ToJSON()
	if err != nil {
		return err
	}
	h.Deliver(pin, data)
	return nil
}

// Deliver 把已编码的消息放入分组内每个客户端的发送队列
//
// 投递在 h.mu 内完成，同一分组的消息对每个成员保持发送顺序。
// 发送队列已满的客户端被断开。
func (h *Hub) Deliver(pin string, data []byte) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	delivered := 0
	for _, client := range h.groups[pin] {
		select {
		case client.send <- data:
			delivered++
		default:
			h.logger.Warn("send buffer full, dropping client",
				zap.String("conn", client.ID),
				zap.String("pin", pin))
			h.dropLocked(client)
		}
	}
	return delivered
}

// GroupSize 分组内连接数
func (h *Hub) GroupSize(pin string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[pin])
}

// ConnectionCount 已注册连接数
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) dropLocked(client *Client) {
	for pin := range client.groups {
		h.removeMemberLocked(pin, client.ID)
	}
	client.groups = make(map[string]struct{})
	delete(h.clients, client.ID)
	if !client.closed {
		client.closed = true
		close(client.send)
	}
}

func (h *Hub) removeMemberLocked(pin, connID string) {
	members, ok := h.groups[pin]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(h.groups, pin)
	}
}

// SendTo 向单个连接发送消息，连接已注销或队列已满时返回false
func (h *Hub) SendTo(connID string, data []byte) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	client, ok := h.clients[connID]
	if !ok {
		return false
	}
	select {
	case client.send <- data:
		return true
	default:
		return false
	}
}
