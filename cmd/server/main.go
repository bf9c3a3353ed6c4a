package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"planning-poker-backend/cache"
	"planning-poker-backend/config"
	"planning-poker-backend/database"
	"planning-poker-backend/mq"
	"planning-poker-backend/repository"
	"planning-poker-backend/routes"
	"planning-poker-backend/service"
	"planning-poker-backend/websocket"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped with error", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	// 收到中断信号时取消
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 初始化存储
	repo, closeStore, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	// 初始化Redis连接
	var redisClient *redis.Client
	if cfg.NeedsRedis() {
		redisClient, err = cache.NewRedisClient(ctx, cfg.Redis, logger)
		if err != nil {
			return err
		}
		defer func() { _ = redisClient.Close() }()
	}

	var opts []service.Option
	if cfg.LockBackend == config.BackendRedis {
		opts = append(opts, service.WithLocker(cache.NewDistributedLockService(redisClient, logger)))
	}

	if cfg.MultiInstance() {
		logger.Warn("participant eviction only counts connections on this instance; route each participant to one instance (sticky sessions)",
			zap.String("broadcast_backend", cfg.BroadcastBackend),
			zap.String("lock_backend", cfg.LockBackend))
	}

	// 事件经总线中继后投递到本实例的Hub
	hub := websocket.NewHub(cfg.MaxConnections, logger)
	bus, err := mq.NewBus(cfg, redisClient, logger)
	if err != nil {
		return err
	}
	relay := mq.NewRelay(bus, hub, logger)
	defer func() {
		if err := relay.Close(); err != nil {
			logger.Warn("close event bus failed", zap.Error(err))
		}
	}()
	if err := relay.Start(ctx); err != nil {
		return err
	}

	sessions := service.NewSessionService(repo, relay, logger, opts...)
	registry := service.NewConnectionRegistry(sessions, hub, logger)

	// 启动过期会话清理
	sweeper := service.NewExpirationSweeper(sessions, cfg.Session.SweepInterval, cfg.Session.TTL, logger)
	go sweeper.Run(ctx)

	router := routes.SetupRouter(routes.Dependencies{
		Context:  ctx,
		Config:   cfg,
		Logger:   logger,
		Sessions: sessions,
		Registry: registry,
		Hub:      hub,
		Store:    repo,
	})
	srv := routes.StartServer(router, cfg.Port, logger)

	logger.Info("planning poker backend started",
		zap.String("environment", cfg.Environment),
		zap.String("store", cfg.Store.Driver),
		zap.String("lock_backend", cfg.LockBackend),
		zap.String("broadcast_backend", cfg.BroadcastBackend))

	// 等待中断信号以优雅地关闭服务器
	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 不接受新请求并等待现有请求完成
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("server exited gracefully")
	return nil
}

// openStore 按 STORE 选择内存、SQLite或MySQL存储
func openStore(cfg config.Config, logger *zap.Logger) (repository.SessionRepository, func(), error) {
	if cfg.Store.Driver == config.StoreMemory {
		return repository.NewMemorySessionRepository(), func() {}, nil
	}

	db, err := database.Open(cfg.Store, logger)
	if err != nil {
		return nil, nil, err
	}
	closeDB := func() {
		if err := database.Close(db); err != nil {
			logger.Warn("close database failed", zap.Error(err))
		}
	}
	return repository.NewGormSessionRepository(db), closeDB, nil
}
