package routes

import (
	"context"
	"errors"
	"net/http"
	"time"

	"planning-poker-backend/api"
	"planning-poker-backend/config"
	"planning-poker-backend/service"
	"planning-poker-backend/websocket"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Dependencies 路由需要的组件
type Dependencies struct {
	// 进程生命周期上下文，实时连接上的操作使用它
	Context  context.Context
	Config   config.Config
	Logger   *zap.Logger
	Sessions *service.SessionService
	Registry *service.ConnectionRegistry
	Hub      *websocket.Hub
	Store    api.Pinger
}

// SetupRouter 设置和配置Gin路由
func SetupRouter(deps Dependencies) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), api.CorrelationID(), api.RequestLogger(deps.Logger))

	router.Use(cors.New(corsConfig(deps.Config.CORSOrigins)))

	var createLimit, voteLimit *api.RateLimiter
	if deps.Config.RateLimit.Enabled {
		createLimit = api.PerHour(deps.Config.RateLimit.CreatePerHour)
		voteLimit = api.PerSecond(deps.Config.RateLimit.VotePerSecond)
	}

	// 定义API路由
	apiGroup := router.Group("/api")
	{
		api.NewHealthController(deps.Store, deps.Hub, deps.Config).RegisterRoutes(apiGroup)
		api.NewSessionController(deps.Sessions, createLimit, voteLimit, deps.Logger).RegisterRoutes(apiGroup)
		api.NewEventsController(deps.Context, deps.Hub, deps.Registry, deps.Logger).RegisterRoutes(apiGroup)
	}

	// 实时通道
	websocket.NewHandler(deps.Context, deps.Hub, deps.Registry, deps.Config.CORSOrigins, deps.Logger).RegisterRoutes(router)

	return router
}

// corsConfig 配置CORS，未配置来源时放开所有来源
func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", api.CorrelationIDHeader},
		ExposeHeaders:    []string{"Content-Length", api.CorrelationIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowOrigins = nil
		cfg.AllowAllOrigins = true
		cfg.AllowCredentials = false
	}
	return cfg
}

// StartServer 在单独的goroutine中启动HTTP服务器
func StartServer(router http.Handler, port string, logger *zap.Logger) *http.Server {
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	return srv
}
