package mq

import (
	"context"
	"errors"
	"sync"
)

// ErrBusClosed 总线已关闭
var ErrBusClosed = errors.New("event bus closed")

// Bus 跨实例的事件总线
//
// Publish 的 key 用于分区，同一 key 的消息按发布顺序投递。
// 每个订阅者都会收到全部消息，包括本实例发布的。
type Bus interface {
	Publish(ctx context.Context, key string, data []byte) error
	Subscribe(ctx context.Context, handler func(data []byte)) error
	Close() error
}

// LocalBus 进程内总线，发布时同步调用订阅者
type LocalBus struct {
	mu       sync.RWMutex
	handlers []func([]byte)
	closed   bool
}

// NewLocalBus 创建进程内总线
func NewLocalBus() *LocalBus {
	return &LocalBus{}
}

func (b *LocalBus) Publish(_ context.Context, _ string, data []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrBusClosed
	}
	for _, h := range b.handlers {
		h(data)
	}
	return nil
}

func (b *LocalBus) Subscribe(_ context.Context, handler func([]byte)) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	b.handlers = append(b.handlers, handler)
	return nil
}

func (b *LocalBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.handlers = nil
	return nil
}
