package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"sitebot-go/internal/model"
	"sitebot-go/pkg/log"
)

var DB *gorm.DB

// Open 按驱动名打开数据库连接并配置连接池。
// sqlite 只允许单个写连接，dsn 为数据库文件路径。
func Open(driver, dsn string) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	}

	var dialector gorm.Dialector
	switch driver {
	case "mysql":
		dialector = mysql.Open(dsn)
	case "sqlite":
		if dir := filepath.Dir(dsn); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dialector = sqlite.Open(dsn + sep + "_busy_timeout=5000")
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if driver == "sqlite" {
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(10)           // 空闲连接池中连接的最大数量
		sqlDB.SetMaxOpenConns(100)          // 打开数据库连接的最大数量
		sqlDB.SetConnMaxLifetime(time.Hour) // 连接可复用的最大时间
	}
	return db, nil
}

// InitDB 初始化全局 DB，失败时退出进程。
func InitDB(driver, dsn string) {
	db, err := Open(driver, dsn)
	if err != nil {
		log.Fatal("failed to init database", err)
	}
	DB = db
	log.Infof("[Database] %s database connected successfully", driver)
}

// AutoMigrate 创建或更新全部业务表。
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&model.Project{}, &model.ScrapedItem{}, &model.ChatSession{})
}
