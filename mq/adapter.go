package mq

import (
	"errors"
	"fmt"

	"planning-poker-backend/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// NewBus 按 BROADCAST_BACKEND 选择事件总线
func NewBus(cfg config.Config, client *redis.Client, logger *zap.Logger) (Bus, error) {
	switch cfg.BroadcastBackend {
	case config.BackendLocal, "":
		return NewLocalBus(), nil
	case config.BackendRedis:
		if client == nil {
			return nil, errors.New("redis broadcast backend requires a redis client")
		}
		return NewRedisBus(client, cfg.Redis.EventsChannel, logger), nil
	case config.BackendRocketMQ:
		return NewRocketMQBus(cfg.RocketMQ, logger)
	default:
		return nil, fmt.Errorf("unsupported broadcast backend %q", cfg.BroadcastBackend)
	}
}
