package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// 存储后端
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreMySQL  = "mysql"
)

// 锁与广播后端
const (
	BackendLocal    = "local"
	BackendRedis    = "redis"
	BackendRocketMQ = "rocketmq"
)

// StoreConfig 数据存储配置
type StoreConfig struct {
	Driver     string
	SQLitePath string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
}

// MySQLDSN 构建MySQL连接串
func (c StoreConfig) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

// RedisConfig Redis连接配置
type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	EventsChannel string
}

// RocketMQConfig RocketMQ配置
type RocketMQConfig struct {
	NameServers []string
	Topic       string
	Group       string
}

// SessionConfig 会话过期配置
type SessionConfig struct {
	TTL           time.Duration
	SweepInterval time.Duration
}

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	Enabled       bool
	CreatePerHour int
	VotePerSecond int
}

// Config 服务配置
type Config struct {
	Environment      string
	LogLevel         string
	Port             string
	Store            StoreConfig
	Redis            RedisConfig
	RocketMQ         RocketMQConfig
	LockBackend      string
	BroadcastBackend string
	Session          SessionConfig
	CORSOrigins      []string
	RateLimit        RateLimitConfig
	MaxConnections   int
}

// IsProduction 是否生产环境
func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

// NeedsRedis 是否有组件依赖Redis
func (c Config) NeedsRedis() bool {
	return c.LockBackend == BackendRedis || c.BroadcastBackend == BackendRedis
}

// MultiInstance 事件经外部总线转发，可能有多个实例共享会话
//
// 连接绑定只在本实例内统计，同一参与者连到多个实例时需要粘性会话。
func (c Config) MultiInstance() bool {
	return c.BroadcastBackend != BackendLocal
}

// Load 读取 .env 和环境变量
func Load() (Config, error) {
	// .env 可选
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv 只从环境变量构建配置
func FromEnv() (Config, error) {
	var errs []error

	cfg := Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Port:        getEnv("PORT", "8080"),
		Store: StoreConfig{
			Driver:     strings.ToLower(getEnv("STORE", StoreMemory)),
			SQLitePath: getEnv("SQLITE_PATH", "planning_poker.db"),
			DBHost:     getEnv("DB_HOST", "mysql"),
			DBPort:     getEnv("DB_PORT", "3306"),
			DBUser:     getEnv("DB_USER", "poker"),
			DBPassword: getEnv("DB_PASSWORD", "poker"),
			DBName:     getEnv("DB_NAME", "planning_poker"),
		},
		Redis: RedisConfig{
			Addr:          getEnv("REDIS_ADDR", "localhost:6379"),
			Password:      getEnv("REDIS_PASSWORD", ""),
			DB:            getInt("REDIS_DB", 0, &errs),
			EventsChannel: getEnv("REDIS_EVENTS_CHANNEL", "poker:events"),
		},
		RocketMQ: RocketMQConfig{
			NameServers: splitList(getEnv("ROCKETMQ_NAMESRV_ADDR", "127.0.0.1:9876")),
			Topic:       getEnv("ROCKETMQ_TOPIC", "poker_events"),
			Group:       getEnv("ROCKETMQ_GROUP", "poker_event_relay"),
		},
		LockBackend:      strings.ToLower(getEnv("LOCK_BACKEND", BackendLocal)),
		BroadcastBackend: strings.ToLower(getEnv("BROADCAST_BACKEND", BackendLocal)),
		Session: SessionConfig{
			TTL:           getDuration("SESSION_TTL", 60*time.Minute, &errs),
			SweepInterval: getDuration("SWEEP_INTERVAL", time.Minute, &errs),
		},
		CORSOrigins: splitList(getEnv("CORS_ORIGINS",
			"http://localhost:5173,http://localhost:3000,http://localhost:8080")),
		RateLimit: RateLimitConfig{
			Enabled:       getBool("RATE_LIMIT_ENABLED", true, &errs),
			CreatePerHour: getInt("RATE_LIMIT_CREATE_PER_HOUR", 50, &errs),
			VotePerSecond: getInt("RATE_LIMIT_VOTE_PER_SECOND", 1, &errs),
		},
		MaxConnections: getInt("MAX_CONNECTIONS", 1000, &errs),
	}

	errs = append(errs, cfg.validate()...)
	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	return cfg, nil
}

func (c Config) validate() []error {
	var errs []error
	switch c.Store.Driver {
	case StoreMemory, StoreSQLite, StoreMySQL:
	default:
		errs = append(errs, fmt.Errorf("STORE: unsupported value %q", c.Store.Driver))
	}
	switch c.LockBackend {
	case BackendLocal, BackendRedis:
	default:
		errs = append(errs, fmt.Errorf("LOCK_BACKEND: unsupported value %q", c.LockBackend))
	}
	switch c.BroadcastBackend {
	case BackendLocal, BackendRedis, BackendRocketMQ:
	default:
		errs = append(errs, fmt.Errorf("BROADCAST_BACKEND: unsupported value %q", c.BroadcastBackend))
	}
	if c.Session.TTL <= 0 {
		errs = append(errs, errors.New("SESSION_TTL: must be positive"))
	}
	if c.Session.SweepInterval <= 0 {
		errs = append(errs, errors.New("SWEEP_INTERVAL: must be positive"))
	}
	if c.RateLimit.Enabled && (c.RateLimit.CreatePerHour <= 0 || c.RateLimit.VotePerSecond <= 0) {
		errs = append(errs, errors.New("rate limits must be positive when RATE_LIMIT_ENABLED is set"))
	}
	if c.BroadcastBackend == BackendRocketMQ && len(c.RocketMQ.NameServers) == 0 {
		errs = append(errs, errors.New("ROCKETMQ_NAMESRV_ADDR: required for rocketmq broadcast"))
	}
	return errs
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getInt(key string, defaultValue int, errs *[]error) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return v
}

func getBool(key string, defaultValue bool, errs *[]error) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return v
}

func getDuration(key string, defaultValue time.Duration, errs *[]error) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return v
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
