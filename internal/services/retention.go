package services

// 数据保留：按 cron 表达式定期删除超过保留期的读数。

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

// Pruner 删除早于指定时间的读数。
type Pruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// RetentionService 调度保留期清理任务。
type RetentionService struct {
	pruner  Pruner
	maxAge  time.Duration
	cron    *cron.Cron
	now     func() time.Time
	timeout time.Duration
}

// NewRetentionService 校验调度表达式并注册清理任务；需调用 Start 才会运行。
func NewRetentionService(p Pruner, maxAge time.Duration, schedule string, loc *time.Location) (*RetentionService, error) {
	if maxAge <= 0 {
		return nil, fmt.Errorf("retention max_age must be positive")
	}
	if loc == nil {
		loc = time.Local
	}
	s := &RetentionService{
		pruner:  p,
		maxAge:  maxAge,
		cron:    cron.New(cron.WithLocation(loc)),
		now:     time.Now,
		timeout: 5 * time.Minute,
	}
	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		return nil, fmt.Errorf("retention schedule %q: %w", schedule, err)
	}
	return s, nil
}

func (s *RetentionService) SetClock(fn func() time.Time) { s.now = fn }

// RunOnce 立即执行一次清理。
func (s *RetentionService) RunOnce(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.maxAge)
	return s.pruner.Prune(ctx, cutoff)
}

func (s *RetentionService) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	n, err := s.RunOnce(ctx)
	if err != nil {
		log.WithError(err).Error("retention prune failed")
		return
	}
	log.WithFields(log.Fields{"deleted": n, "max_age": s.maxAge.String()}).Info("retention prune completed")
}

func (s *RetentionService) Start() { s.cron.Start() }

// Stop 停止调度并等待正在执行的任务结束。
func (s *RetentionService) Stop() context.Context { return s.cron.Stop() }
