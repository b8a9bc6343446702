package db

import (
	"github.com/pattersondev/voynich-client/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connect 打开 devserver 的 sqlite 数据库，":memory:" 用于测试。
func Connect(path string) (*gorm.DB, error) {
	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, err
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	// sqlite serializes writers anyway; one connection avoids locking noise.
	sqlDB.SetMaxOpenConns(1)
	return gdb, nil
}

// Migrate 自动迁移 devserver 涉及的全部表结构。
func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(&models.Chat{}, &models.ChatMessage{})
}
