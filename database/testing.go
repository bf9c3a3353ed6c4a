package database

import (
	"fmt"

	"planning-poker-backend/config"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OpenInMemory 打开独立的内存SQLite库，供测试和本地试用
func OpenInMemory(log *zap.Logger) (*gorm.DB, error) {
	return Open(config.StoreConfig{
		Driver:     config.StoreSQLite,
		SQLitePath: fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
	}, log)
}
