package database

import (
	"fmt"
	"strings"
	"time"

	"github.com/SlpAus/uvbunny-backend/internal/platform/config"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	sqliteBusyTimeoutMS = 5000
)

// gormLogLevel 把配置里的字符串转换为GORM的日志级别
func gormLogLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "error":
		return logger.Error
	case "warn":
		return logger.Warn
	case "info":
		return logger.Info
	default:
		return logger.Silent
	}
}

// sqliteDSN 为SQLite连接串补上忙等待超时
func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_busy_timeout") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s_busy_timeout=%d", dsn, sep, sqliteBusyTimeoutMS)
}

// Open 根据配置连接SQLite或PostgreSQL，GORM的日志转发到zap
func Open(cfg config.DatabaseConfig, zl *zap.Logger) (*gorm.DB, error) {
	newLogger := logger.New(
		zap.NewStdLog(zl.Named("gorm")),
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormLogLevel(cfg.LogLevel),
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	gormCfg := &gorm.Config{Logger: newLogger}

	switch cfg.Driver {
	case DriverPostgres:
		db, err := gorm.Open(postgres.Open(cfg.DSN), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("连接PostgreSQL失败: %w", err)
		}
		return db, nil
	case DriverSQLite, "":
		db, err := gorm.Open(sqlite.Open(sqliteDSN(cfg.DSN)), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("连接SQLite失败: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		// SQLite只有一个写者，单连接让事务天然串行化
		sqlDB.SetMaxOpenConns(1)
		return db, nil
	default:
		return nil, fmt.Errorf("不支持的数据库驱动: %s", cfg.Driver)
	}
}

// Close 关闭底层连接池
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
