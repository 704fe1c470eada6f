package storage

import (
	"context"
	"database/sql"
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"espdata/internal/config"
)

// InitMySQL 打开到 MySQL 的 GORM 连接，配置连接池，并通过 AutoMigrate 确保表结构存在。
func InitMySQL(ctx context.Context, cfg config.Config) (*gorm.DB, error) {
	gcfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}
	db, err := gorm.Open(mysql.Open(cfg.MySQL.DSN()), gcfg)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sql db: %w", err)
	}
	configurePool(sqlDB, cfg.MySQL)
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}

	if err := AutoMigrate(db.WithContext(ctx)); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return db, nil
}

func configurePool(sqlDB *sql.DB, m config.MySQLConfig) {
	if m.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(m.MaxOpenConns)
	}
	if m.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(m.MaxIdleConns)
	}
	if m.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(m.ConnMaxLifetime)
	}
}

// Ping 检查底层连接是否可用。
func Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("sql db: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// SessionTimeZone 返回当前连接会话的 time_zone（例如 "+07:00" 或 "SYSTEM"）。
func SessionTimeZone(ctx context.Context, db *gorm.DB) (string, error) {
	var tz string
	if err := db.WithContext(ctx).Raw("SELECT @@session.time_zone").Scan(&tz).Error; err != nil {
		return "", fmt.Errorf("query session time_zone: %w", err)
	}
	return tz, nil
}

// VerifyTimeZone 确认会话时区与期望偏移一致。
func VerifyTimeZone(ctx context.Context, db *gorm.DB, want string) error {
	got, err := SessionTimeZone(ctx, db)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("session time_zone is %q, want %q", got, want)
	}
	return nil
}

// CloseMySQL 关闭底层 sql.DB 连接。
func CloseMySQL(db *gorm.DB) {
	if db == nil {
		return
	}
	if s, err := db.DB(); err == nil && s != nil {
		_ = s.Close()
	}
}
