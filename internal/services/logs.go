package services

import (
	"context"
	"time"

	"gorm.io/gorm"

	"espdata/internal/storage"
)

// LogService 将上报审计记录持久化到数据库。
type LogService struct{ db *gorm.DB }

func NewLogService(db *gorm.DB) *LogService { return &LogService{db: db} }

// Write 写入一条审计记录；失败时静默忽略，不影响请求处理。
func (s *LogService) Write(ctx context.Context, rec *storage.IngestLog) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	_ = s.db.WithContext(ctx).Create(rec).Error
}

// Recent 返回最近的审计记录。
func (s *LogService) Recent(ctx context.Context, limit int) ([]storage.IngestLog, error) {
	if limit <= 0 || limit > MaxListLimit {
		limit = DefaultListLimit
	}
	var out []storage.IngestLog
	if err := s.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
