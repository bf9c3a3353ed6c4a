package mq

import (
	"context"
	"encoding/json"

	"planning-poker-backend/model"

	"go.uber.org/zap"
)

// Deliverer 本实例的分组投递，由 websocket.Hub 实现
type Deliverer interface {
	Deliver(pin string, data []byte) int
}

// Relay 把会话事件发布到总线，再把总线上的事件投递给本实例的连接
type Relay struct {
	bus    Bus
	local  Deliverer
	logger *zap.Logger
}

// NewRelay 创建事件中继
func NewRelay(bus Bus, local Deliverer, logger *zap.Logger) *Relay {
	return &Relay{
		bus:    bus,
		local:  local,
		logger: logger.With(zap.String("component", "relay")),
	}
}

// Start 订阅总线
func (r *Relay) Start(ctx context.Context) error {
	return r.bus.Subscribe(ctx, r.deliver)
}

// Broadcast 编码事件并以PIN为分区键发布
func (r *Relay) Broadcast(ctx context.Context, pin, event string, payload interface{}) error {
	msg := &model.Message{Type: event, PIN: pin, Payload: payload}
	data, err := msg.ToJSON()
	if err != nil {
		return err
	}
	return r.bus.Publish(ctx, pin, data)
}

// Close 关闭总线
func (r *Relay) Close() error {
	return r.bus.Close()
}

func (r *Relay) deliver(data []byte) {
	var envelope struct {
		PIN string `json:"pin"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil || envelope.PIN == "" {
		r.logger.Warn("dropping malformed event", zap.ByteString("data", data), zap.Error(err))
		return
	}
	r.local.Deliver(envelope.PIN, data)
}
