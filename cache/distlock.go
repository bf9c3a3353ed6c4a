package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	lockKeyPrefix  = "poker:lock:session:"
	lockExpiry     = 8 * time.Second
	lockTries      = 100
	lockRetryDelay = 25 * time.Millisecond
)

// DistributedLockService 基于Redsync的会话锁，多实例部署时替代进程内锁
type DistributedLockService struct {
	rs     *redsync.Redsync
	logger *zap.Logger
}

// NewDistributedLockService 创建分布式锁服务
func NewDistributedLockService(client *redis.Client, logger *zap.Logger) *DistributedLockService {
	// 创建Redis连接池
	pool := goredis.NewPool(client)
	return &DistributedLockService{
		rs:     redsync.New(pool),
		logger: logger.With(zap.String("component", "distlock")),
	}
}

// Lock 获取会话锁，返回释放函数
func (s *DistributedLockService) Lock(ctx context.Context, key string) (func(), error) {
	mutex := s.rs.NewMutex(LockName(key),
		redsync.WithExpiry(lockExpiry),
		redsync.WithTries(lockTries),           // 最大重试次数
		redsync.WithRetryDelay(lockRetryDelay), // 重试延迟
		redsync.WithDriftFactor(0.01),          // 时钟漂移因子
	)

	if err := mutex.LockContext(ctx); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrLockNotAcquired, key, err)
	}

	return func() {
		// 请求可能已取消，释放锁不跟随请求上下文
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if ok, err := mutex.UnlockContext(ctx); err != nil || !ok {
			s.logger.Warn("release lock failed", zap.String("key", key), zap.Error(err))
		}
	}, nil
}

// LockName 会话锁在Redis中的键名
func LockName(key string) string {
	return lockKeyPrefix + key
}
