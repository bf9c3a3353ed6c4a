package database

import (
	"fmt"
	"strings"
	"time"

	"planning-poker-backend/config"
	"planning-poker-backend/migrations"
	"planning-poker-backend/models"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open 按配置连接SQLite或MySQL并完成迁移
func Open(cfg config.StoreConfig, log *zap.Logger) (*gorm.DB, error) {
	// 配置GORM，日志写入zap
	gormLogger := logger.New(
		zap.NewStdLog(log.Named("gorm")),
		logger.Config{
			SlowThreshold:             time.Second, // 慢SQL阈值
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	var dialector gorm.Dialector
	switch cfg.Driver {
	case config.StoreSQLite:
		dialector = sqlite.Open(sqliteDSN(cfg.SQLitePath))
	case config.StoreMySQL:
		dialector = mysql.Open(cfg.MySQLDSN())
	default:
		return nil, fmt.Errorf("不支持的数据库驱动: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormLogger,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	if cfg.Driver == config.StoreSQLite {
		// SQLite 单写者，串行化连接避免 database is locked
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := Migrate(db, log); err != nil {
		return nil, err
	}

	log.Info("database connected and migrated", zap.String("driver", cfg.Driver))
	return db, nil
}

// Migrate 先清理历史重复投票，再自动迁移模型
func Migrate(db *gorm.DB, log *zap.Logger) error {
	if err := migrations.DedupeVotes(db, log); err != nil {
		return fmt.Errorf("清理重复投票失败: %w", err)
	}
	if err := db.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("迁移模型失败: %w", err)
	}
	return nil
}

// Close 关闭数据库连接
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// sqliteDSN 打开外键约束，让级联删除在SQLite下生效
func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path + "&_foreign_keys=1"
	}
	return path + "?_foreign_keys=1"
}
