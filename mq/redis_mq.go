package mq

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBus 基于Redis发布订阅的事件总线
//
// 所有事件走同一个频道，单个发布连接上的消息顺序不变。
type RedisBus struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger

	mu     sync.Mutex
	subs   []*redis.PubSub
	wg     sync.WaitGroup
	closed bool
}

// NewRedisBus 创建Redis事件总线
func NewRedisBus(client *redis.Client, channel string, logger *zap.Logger) *RedisBus {
	return &RedisBus{
		client:  client,
		channel: channel,
		logger:  logger.With(zap.String("component", "redis_bus"), zap.String("channel", channel)),
	}
}

// Publish 发布事件，key 只用于日志
func (b *RedisBus) Publish(ctx context.Context, key string, data []byte) error {
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("publish event for %s: %w", key, err)
	}
	return nil
}

// Subscribe 订阅频道，确认订阅成功后才返回
func (b *RedisBus) Subscribe(ctx context.Context, handler func([]byte)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}

	pubsub := b.client.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	b.subs = append(b.subs, pubsub)

	ch := pubsub.Channel()
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for msg := range ch {
			handler([]byte(msg.Payload))
		}
	}()

	b.logger.Info("subscribed to event channel")
	return nil
}

// Close 取消所有订阅并等待消费goroutine退出，不关闭Redis客户端
func (b *RedisBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	var firstErr error
	for _, s := range subs {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	b.wg.Wait()
	return firstErr
}
