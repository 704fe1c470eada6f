package services

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"espdata/internal/storage"
)

// HealthService 提供就绪检查：数据库可达且会话时区符合预期。
type HealthService struct {
	db       *gorm.DB
	tzOffset string
}

func NewHealthService(db *gorm.DB, tzOffset string) *HealthService {
	return &HealthService{db: db, tzOffset: tzOffset}
}

// Check 返回第一个失败的检查项。
func (s *HealthService) Check(ctx context.Context) error {
	if err := storage.Ping(ctx, s.db); err != nil {
		return fmt.Errorf("mysql: %w", err)
	}
	if s.tzOffset == "" {
		return nil
	}
	if err := storage.VerifyTimeZone(ctx, s.db, s.tzOffset); err != nil {
		return fmt.Errorf("timezone: %w", err)
	}
	return nil
}
