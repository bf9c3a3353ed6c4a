package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"planning-poker-backend/model"
	"planning-poker-backend/websocket"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SSE心跳间隔
const defaultHeartbeat = 15 * time.Second

// EventsController 以SSE推送会话事件，连接同样注册在Hub上
type EventsController struct {
	ctx       context.Context
	hub       *websocket.Hub
	registry  websocket.GroupRegistry
	heartbeat time.Duration
	logger    *zap.Logger
}

// NewEventsController 创建SSE控制器，ctx 为进程生命周期上下文
func NewEventsController(ctx context.Context, hub *websocket.Hub, registry websocket.GroupRegistry, logger *zap.Logger) *EventsController {
	return &EventsController{
		ctx:       ctx,
		hub:       hub,
		registry:  registry,
		heartbeat: defaultHeartbeat,
		logger:    logger.With(zap.String("component", "sse")),
	}
}

// RegisterRoutes 注册SSE路由
func (c *EventsController) RegisterRoutes(api gin.IRouter) {
	api.GET("/sessions/:pin/events", c.Stream)
}

// Stream 订阅会话事件
//
// 带 participantId 时连接绑定到该参与者，最后一个连接断开会移除参与者；
// 否则只旁观。
func (c *EventsController) Stream(ctx *gin.Context) {
	pin := ctx.Param("pin")

	var participantID uint
	if raw := ctx.Query("participantId"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil || id == 0 {
			ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid participant ID"})
			return
		}
		participantID = uint(id)
	}

	client := websocket.NewClient(nil)
	if err := c.hub.Register(client); err != nil {
		ctx.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "Too many connections"})
		return
	}
	defer func() {
		c.hub.Unregister(client)
		c.registry.Disconnect(c.ctx, client.ID)
	}()

	var (
		reply string
		err   error
	)
	if participantID != 0 {
		err = c.registry.JoinGroup(c.ctx, client.ID, pin, participantID, ctx.Query("name"))
		reply = websocket.ReplyJoinedGroup
	} else {
		err = c.registry.WatchGroup(c.ctx, client.ID, pin)
		reply = websocket.ReplyWatchingGroup
	}
	if err != nil {
		status, message := httpError(err)
		ctx.JSON(status, ErrorResponse{Error: message})
		return
	}

	// 设置SSE所需的HTTP头
	header := ctx.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no") // 禁用Nginx缓冲
	ctx.Status(http.StatusOK)

	// 发送订阅确认
	first, err := (&model.Message{Type: reply, PIN: pin}).ToJSON()
	if err != nil || writeEvent(ctx.Writer, first) != nil {
		return
	}
	c.logger.Debug("sse client subscribed",
		zap.String("conn", client.ID),
		zap.String("pin", pin),
		zap.Uint("participant", participantID))

	heartbeat := time.NewTicker(c.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Request.Context().Done():
			return
		case <-c.ctx.Done():
			// 进程退出，结束响应以便 Shutdown 能等到连接空闲
			return
		case data, ok := <-client.Send():
			if !ok {
				// Hub已断开该连接
				return
			}
			if err := writeEvent(ctx.Writer, data); err != nil {
				return
			}
		case <-heartbeat.C:
			if _, err := fmt.Fprint(ctx.Writer, ": ping\n\n"); err != nil {
				return
			}
			ctx.Writer.Flush()
		}
	}
}

func writeEvent(w gin.ResponseWriter, data []byte) error {
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	w.Flush()
	return nil
}
