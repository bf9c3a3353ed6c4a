package api

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"planning-poker-backend/config"

	"github.com/gin-gonic/gin"
)

// 应用版本，可通过构建参数注入
var version = "0.1.0"

// Pinger 存储可达性检查
type Pinger interface {
	Ping(ctx context.Context) error
}

// ConnectionCounter 当前实时连接数
type ConnectionCounter interface {
	ConnectionCount() int
}

// SystemInfo 系统状态
type SystemInfo struct {
	Status           string    `json:"status"`
	Version          string    `json:"version"`
	Uptime           string    `json:"uptime"`
	StartTime        time.Time `json:"start_time"`
	CurrentTime      time.Time `json:"current_time"`
	GoVersion        string    `json:"go_version"`
	NumGoroutine     int       `json:"num_goroutine"`
	NumCPU           int       `json:"num_cpu"`
	Store            string    `json:"store"`
	StoreStatus      string    `json:"store_status"`
	LockBackend      string    `json:"lock_backend"`
	BroadcastBackend string    `json:"broadcast_backend"`
	Connections      int       `json:"connections"`
}

// HealthController 健康检查与系统状态
type HealthController struct {
	store     Pinger
	conns     ConnectionCounter
	cfg       config.Config
	startTime time.Time
}

// NewHealthController 创建健康检查控制器
func NewHealthController(store Pinger, conns ConnectionCounter, cfg config.Config) *HealthController {
	return &HealthController{store: store, conns: conns, cfg: cfg, startTime: time.Now()}
}

// RegisterRoutes 注册健康检查路由
func (h *HealthController) RegisterRoutes(api gin.IRouter) {
	api.GET("/health", h.Health)
	api.GET("/status", h.Status)
}

// Health 基本健康检查
func (h *HealthController) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// Status 详细的系统状态，存储不可达时返回503
func (h *HealthController) Status(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c, 2*time.Second)
	defer cancel()

	status, storeStatus, code := "ok", "ok", http.StatusOK
	if err := h.store.Ping(ctx); err != nil {
		status, storeStatus, code = "degraded", "error", http.StatusServiceUnavailable
	}

	c.JSON(code, SystemInfo{
		Status:           status,
		Version:          version,
		Uptime:           time.Since(h.startTime).String(),
		StartTime:        h.startTime,
		CurrentTime:      time.Now(),
		GoVersion:        runtime.Version(),
		NumGoroutine:     runtime.NumGoroutine(),
		NumCPU:           runtime.NumCPU(),
		Store:            h.cfg.Store.Driver,
		StoreStatus:      storeStatus,
		LockBackend:      h.cfg.LockBackend,
		BroadcastBackend: h.cfg.BroadcastBackend,
		Connections:      h.conns.ConnectionCount(),
	})
}
