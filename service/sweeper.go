package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ExpirationSweeper 定期结束超过TTL的会话
type ExpirationSweeper struct {
	sessions *SessionService
	interval time.Duration
	ttl      time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// NewExpirationSweeper 创建过期清理任务
func NewExpirationSweeper(sessions *SessionService, interval, ttl time.Duration, logger *zap.Logger) *ExpirationSweeper {
	return &ExpirationSweeper{
		sessions: sessions,
		interval: interval,
		ttl:      ttl,
		logger:   logger.With(zap.String("component", "expiration_sweeper")),
		now:      sessions.now,
	}
}

// Run 按固定间隔清理，ctx 取消后返回
func (s *ExpirationSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("expiration sweeper started",
		zap.Duration("interval", s.interval),
		zap.Duration("ttl", s.ttl))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("expiration sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep 执行一轮清理，返回结束的会话数
func (s *ExpirationSweeper) Sweep(ctx context.Context) int {
	cutoff := s.now().Add(-s.ttl)
	pins, err := s.sessions.ExpiredSessions(ctx, cutoff)
	if err != nil {
		s.logger.Error("list expired sessions failed", zap.Error(err))
		return 0
	}

	ended := 0
	for _, pin := range pins {
		if ctx.Err() != nil {
			break
		}
		if err := s.expire(ctx, pin); err != nil {
			s.logger.Warn("expire session skipped", zap.String("pin", pin), zap.Error(err))
			continue
		}
		ended++
	}

	if ended > 0 {
		s.logger.Info("expired sessions ended", zap.Int("count", ended))
	}
	return ended
}

// expire 单个会话的panic不影响其他会话和后续调度
func (s *ExpirationSweeper) expire(ctx context.Context, pin string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.sessions.ExpireSession(ctx, pin)
}
