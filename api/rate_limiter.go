package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// 被限流时的提示
const tooManyRequests = "Too many requests. Please try again later."

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter 按客户端IP的令牌桶限流
type RateLimiter struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	limit     rate.Limit
	burst     int
	idle      time.Duration
	lastPrune time.Time
	now       func() time.Time
}

// NewRateLimiter 创建限流器，空闲超过 idle 的客户端记录会被清理
func NewRateLimiter(limit rate.Limit, burst int, idle time.Duration) *RateLimiter {
	return &RateLimiter{
		visitors: make(map[string]*visitor),
		limit:    limit,
		burst:    burst,
		idle:     idle,
		now:      time.Now,
	}
}

// PerHour 每小时 n 次，可一次用完
func PerHour(n int) *RateLimiter {
	return NewRateLimiter(rate.Every(time.Hour/time.Duration(n)), n, time.Hour)
}

// PerSecond 每秒 n 次
func PerSecond(n int) *RateLimiter {
	return NewRateLimiter(rate.Limit(n), n, time.Minute)
}

// Allow 判断该客户端本次请求是否放行
func (l *RateLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.pruneLocked(now)

	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

func (l *RateLimiter) pruneLocked(now time.Time) {
	if now.Sub(l.lastPrune) < l.idle {
		return
	}
	for key, v := range l.visitors {
		if now.Sub(v.lastSeen) >= l.idle {
			delete(l.visitors, key)
		}
	}
	l.lastPrune = now
}

func (l *RateLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}

// Middleware 限流中间件，nil 限流器直接放行
func (l *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if l != nil && !l.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{Error: tooManyRequests})
			return
		}
		c.Next()
	}
}
