package mq

import (
	"context"
	"fmt"
	"sync"
	"time"

	"planning-poker-backend/config"

	"github.com/apache/rocketmq-client-go/v2"
	"github.com/apache/rocketmq-client-go/v2/consumer"
	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/apache/rocketmq-client-go/v2/producer"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// 会话事件的消息标签
const eventTag = "session_event"

// RocketMQBus 基于RocketMQ的事件总线
//
// 生产者按PIN做哈希选队列，消费者以广播模式顺序消费，
// 因此每个实例都能按发布顺序收到同一会话的事件。
type RocketMQBus struct {
	cfg      config.RocketMQConfig
	producer rocketmq.Producer
	logger   *zap.Logger

	mu        sync.Mutex
	consumers []rocketmq.PushConsumer
	closed    bool
}

// NewRocketMQBus 创建并启动生产者
func NewRocketMQBus(cfg config.RocketMQConfig, logger *zap.Logger) (*RocketMQBus, error) {
	p, err := rocketmq.NewProducer(
		producer.WithNameServer(cfg.NameServers),
		producer.WithGroupName(cfg.Group+"_producer"),
		producer.WithRetry(2),
		producer.WithSendMsgTimeout(10*time.Second),
		producer.WithVIPChannel(false),
		producer.WithQueueSelector(producer.NewHashQueueSelector()),
	)
	if err != nil {
		return nil, fmt.Errorf("create rocketmq producer: %w", err)
	}
	if err := p.Start(); err != nil {
		return nil, fmt.Errorf("start rocketmq producer: %w", err)
	}

	logger = logger.With(zap.String("component", "rocketmq_bus"), zap.String("topic", cfg.Topic))
	logger.Info("rocketmq producer started", zap.Strings("nameservers", cfg.NameServers))
	return &RocketMQBus{cfg: cfg, producer: p, logger: logger}, nil
}

// Publish 同步发送，key 作为分区键
func (b *RocketMQBus) Publish(ctx context.Context, key string, data []byte) error {
	msg := primitive.NewMessage(b.cfg.Topic, data)
	msg.WithTag(eventTag)
	msg.WithKeys([]string{key})
	msg.WithShardingKey(key)

	res, err := b.producer.SendSync(ctx, msg)
	if err != nil {
		return fmt.Errorf("send event for %s: %w", key, err)
	}
	if res.Status != primitive.SendOK {
		return fmt.Errorf("send event for %s: status %d", key, res.Status)
	}
	return nil
}

// Subscribe 启动广播模式的顺序消费者
func (b *RocketMQBus) Subscribe(_ context.Context, handler func([]byte)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}

	c, err := rocketmq.NewPushConsumer(
		consumer.WithNameServer(b.cfg.NameServers),
		consumer.WithGroupName(b.cfg.Group),
		// 同组的每个实例都要收到全部事件
		consumer.WithConsumerModel(consumer.BroadCasting),
		consumer.WithConsumeFromWhere(consumer.ConsumeFromLastOffset),
		consumer.WithConsumerOrder(true),
		consumer.WithInstance(uuid.NewString()),
	)
	if err != nil {
		return fmt.Errorf("create rocketmq consumer: %w", err)
	}

	err = c.Subscribe(b.cfg.Topic, consumer.MessageSelector{
		Type:       consumer.TAG,
		Expression: eventTag,
	}, func(_ context.Context, msgs ...*primitive.MessageExt) (consumer.ConsumeResult, error) {
		for _, msg := range msgs {
			handler(msg.Body)
		}
		return consumer.ConsumeSuccess, nil
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", b.cfg.Topic, err)
	}
	if err := c.Start(); err != nil {
		return fmt.Errorf("start rocketmq consumer: %w", err)
	}

	b.consumers = append(b.consumers, c)
	b.logger.Info("rocketmq consumer started", zap.String("group", b.cfg.Group))
	return nil
}

// Close 关闭消费者和生产者
func (b *RocketMQBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	var firstErr error
	for _, c := range b.consumers {
		if err := c.Shutdown(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	b.consumers = nil
	if err := b.producer.Shutdown(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
