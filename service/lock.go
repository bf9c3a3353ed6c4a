package service

import (
	"context"
	"sync"
)

// Locker 按会话PIN串行化修改
type Locker interface {
	// Lock 阻塞直到获得key的锁，返回释放函数
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

type keyedLock struct {
	ch   chan struct{}
	refs int
}

// LocalLocker 进程内按key加锁，无人持有的key会被回收
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

// NewLocalLocker 创建进程内锁
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*keyedLock)}
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	lk, ok := l.locks[key]
	if !ok {
		lk = &keyedLock{ch: make(chan struct{}, 1)}
		l.locks[key] = lk
	}
	lk.refs++
	l.mu.Unlock()

	select {
	case lk.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, lk)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-lk.ch
			l.release(key, lk)
		})
	}, nil
}

func (l *LocalLocker) release(key string, lk *keyedLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk.refs--
	if lk.refs == 0 {
		delete(l.locks, key)
	}
}

// size 当前登记的key数量
func (l *LocalLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
