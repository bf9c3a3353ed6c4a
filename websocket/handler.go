package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"planning-poker-backend/model"
	"planning-poker-backend/service"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// 写入超时
	writeWait = 10 * time.Second

	// 读取超时
	pongWait = 60 * time.Second

	// 发送ping间隔时间，必须小于pongWait
	pingPeriod = (pongWait * 9) / 10

	// 最大消息大小
	maxMessageSize = 512

	// 单条客户端指令的处理超时
	operationTimeout = 10 * time.Second
)

// 客户端发来的消息类型
const (
	MessageJoinGroup  = "JoinGroup"
	MessageLeaveGroup = "LeaveGroup"
	MessageWatchGroup = "WatchGroup"
	MessagePing       = "PING"
)

// 服务端回复的消息类型
const (
	ReplyJoinedGroup   = "JoinedGroup"
	ReplyLeftGroup     = "LeftGroup"
	ReplyWatchingGroup = "WatchingGroup"
	ReplyPong          = "PONG"
	ReplyError         = "Error"
)

var errUnknownMessage = errors.New("unknown message type")

// GroupRegistry 连接与参与者、分组的绑定
type GroupRegistry interface {
	JoinGroup(ctx context.Context, connID, pin string, participantID uint, name string) error
	WatchGroup(ctx context.Context, connID, pin string) error
	LeaveGroup(ctx context.Context, connID, pin string) error
	Disconnect(ctx context.Context, connID string)
}

// InboundMessage 客户端指令
type InboundMessage struct {
	Type          string `json:"type"`
	PIN           string `json:"pin"`
	ParticipantID uint   `json:"participantId,omitempty"`
	Name          string `json:"name,omitempty"`
}

// ErrorPayload 错误回复内容
type ErrorPayload struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Handler WebSocket处理器
type Handler struct {
	// 进程生命周期上下文，连接上的操作不跟随HTTP请求上下文
	ctx      context.Context
	hub      *Hub
	registry GroupRegistry
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewHandler 创建WebSocket处理器，allowedOrigins 为空或含 "*" 时不校验来源
func NewHandler(ctx context.Context, hub *Hub, registry GroupRegistry, allowedOrigins []string, logger *zap.Logger) *Handler {
	return &Handler{
		ctx:      ctx,
		hub:      hub,
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger: logger.With(zap.String("component", "websocket")),
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *Handler) RegisterRoutes(router gin.IRouter) {
	router.GET("/ws", h.HandleConnection)
}

// HandleConnection 处理WebSocket连接请求
func (h *Handler) HandleConnection(c *gin.Context) {
	// 升级HTTP连接为WebSocket
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(conn)
	if err := h.hub.Register(client); err != nil {
		h.logger.Warn("websocket connection rejected", zap.Error(err))
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	// 启动客户端goroutine
	go h.writePump(client)
	go h.readPump(client)

	h.logger.Debug("websocket connection established", zap.String("conn", client.ID))
}

// readPump 从WebSocket连接读取客户端指令
func (h *Handler) readPump(client *Client) {
	defer func() {
		h.hub.Unregister(client)
		h.registry.Disconnect(h.ctx, client.ID)
		_ = client.conn.Close()
		h.logger.Debug("websocket connection closed", zap.String("conn", client.ID))
	}()

	client.conn.SetReadLimit(maxMessageSize)
	_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket read failed", zap.String("conn", client.ID), zap.Error(err))
			}
			return
		}
		h.handleMessage(client, data)
	}
}

func (h *Handler) handleMessage(client *Client, data []byte) {
	var msg InboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.reply(client, ReplyError, "", ErrorPayload{Error: "malformed message", Code: service.CodeInternal})
		return
	}

	ctx, cancel := context.WithTimeout(h.ctx, operationTimeout)
	defer cancel()

	var (
		reply string
		err   error
	)
	switch msg.Type {
	case MessageJoinGroup:
		err = h.registry.JoinGroup(ctx, client.ID, msg.PIN, msg.ParticipantID, msg.Name)
		reply = ReplyJoinedGroup
	case MessageWatchGroup:
		err = h.registry.WatchGroup(ctx, client.ID, msg.PIN)
		reply = ReplyWatchingGroup
	case MessageLeaveGroup:
		err = h.registry.LeaveGroup(ctx, client.ID, msg.PIN)
		reply = ReplyLeftGroup
	case MessagePing:
		reply = ReplyPong
	default:
		err = errUnknownMessage
	}

	if err != nil {
		h.reply(client, ReplyError, msg.PIN, ErrorPayload{Error: err.Error(), Code: service.ErrorCode(err)})
		return
	}
	h.reply(client, reply, msg.PIN, nil)
}

func (h *Handler) reply(client *Client, kind, pin string, payload interface{}) {
	msg := &model.Message{Type: kind, PIN: pin, Payload: payload}
	data, err := msg.ToJSON()
	if err != nil {
		h.logger.Error("encode reply failed", zap.Error(err))
		return
	}
	if !h.hub.SendTo(client.ID, data) {
		h.logger.Debug("reply dropped", zap.String("conn", client.ID), zap.String("type", kind))
	}
}

// writePump 向WebSocket连接发送消息，每条消息一个帧
func (h *Handler) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = client.conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// 通道已关闭
				_ = client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = true
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// 非浏览器客户端不带Origin
		return origin == "" || set[origin]
	}
}
