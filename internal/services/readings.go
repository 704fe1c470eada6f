package services

// 读数服务：设备上报的写入、按条件查询、最新值与统计。

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"espdata/internal/storage"
)

// ErrNotFound 表示查询的 galon 没有任何读数。
var ErrNotFound = errors.New("not found")

const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

// ReadingFilter 描述列表查询条件；From 含、To 不含。
type ReadingFilter struct {
	Galon     string
	From      *time.Time
	To        *time.Time
	Limit     int
	Offset    int
	Ascending bool
}

// GalonSummary 为某个 galon 的概要：读数条数与最新一条。
type GalonSummary struct {
	Galon    string    `json:"galon"`
	Count    int64     `json:"count"`
	LastSeen time.Time `json:"last_seen"`
	Last     float64   `json:"last_value"`
}

// Stats 为时间窗口内的聚合结果。Count 为 0 时其余字段为零值。
type Stats struct {
	Galon string     `json:"galon"`
	Count int64      `json:"count"`
	Min   float64    `json:"min"`
	Max   float64    `json:"max"`
	Avg   float64    `json:"avg"`
	First *time.Time `json:"first,omitempty"`
	Last  *time.Time `json:"last,omitempty"`
}

// ReadingService 负责 galon_data 的读写；时间戳统一按 loc 生成与返回。
type ReadingService struct {
	db    *gorm.DB
	loc   *time.Location
	cache *LatestCache
	now   func() time.Time
}

// NewReadingService 构造读数服务；cache 可为 nil（未启用 Redis）。
func NewReadingService(db *gorm.DB, loc *time.Location, cache *LatestCache) *ReadingService {
	if loc == nil {
		loc = time.Local
	}
	return &ReadingService{db: db, loc: loc, cache: cache, now: time.Now}
}

// SetClock 替换时间来源（测试使用）。
func (s *ReadingService) SetClock(fn func() time.Time) { s.now = fn }

// Location 返回读数时间戳所在时区。
func (s *ReadingService) Location() *time.Location { return s.loc }

// Insert 写入一条读数，时间戳取服务端当前时间。
func (s *ReadingService) Insert(ctx context.Context, galon string, value float64) (*storage.GalonData, error) {
	rec := &storage.GalonData{Galon: galon, Value: value, Timestamp: s.now().In(s.loc)}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return nil, fmt.Errorf("insert galon_data: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.Put(ctx, *rec); err != nil {
			log.WithError(err).WithField("galon", galon).Warn("latest cache update failed")
		}
	}
	return rec, nil
}

// List 按过滤条件返回读数，默认按时间倒序。
func (s *ReadingService) List(ctx context.Context, f ReadingFilter) ([]storage.GalonData, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	q := s.window(s.db.WithContext(ctx).Model(&storage.GalonData{}), f.Galon, f.From, f.To)
	if f.Ascending {
		q = q.Order("timestamp ASC").Order("id ASC")
	} else {
		q = q.Order("timestamp DESC").Order("id DESC")
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}
	var out []storage.GalonData
	if err := q.Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list galon_data: %w", err)
	}
	s.localize(out)
	return out, nil
}

// Latest 返回某个 galon 的最新读数；优先读取缓存。
func (s *ReadingService) Latest(ctx context.Context, galon string) (*storage.GalonData, error) {
	if s.cache != nil {
		if rec, ok, err := s.cache.Get(ctx, galon); err == nil && ok {
			rec.Timestamp = rec.Timestamp.In(s.loc)
			return rec, nil
		} else if err != nil {
			log.WithError(err).Warn("latest cache read failed")
		}
	}
	var rec storage.GalonData
	err := s.db.WithContext(ctx).Where("galon = ?", galon).Order("id DESC").First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest galon_data: %w", err)
	}
	rec.Timestamp = rec.Timestamp.In(s.loc)
	if s.cache != nil {
		_ = s.cache.Put(ctx, rec)
	}
	return &rec, nil
}

// LatestAll 返回每个 galon 的最新读数（按 galon 排序）。
// 自增主键与写入顺序一致，因此取每组 MAX(id)。缓存仅在标记完整时直接使用。
func (s *ReadingService) LatestAll(ctx context.Context) ([]storage.GalonData, error) {
	if s.cache != nil {
		recs, complete, err := s.cache.All(ctx)
		if err != nil {
			log.WithError(err).Warn("latest cache read failed")
		} else if complete {
			s.localize(recs)
			return recs, nil
		}
	}
	out, err := s.latestFromDB(ctx)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.Merge(ctx, out); err != nil {
			log.WithError(err).Warn("latest cache refill failed")
		}
	}
	return out, nil
}

func (s *ReadingService) latestFromDB(ctx context.Context) ([]storage.GalonData, error) {
	sub := s.db.Model(&storage.GalonData{}).Select("MAX(id)").Group("galon")
	var out []storage.GalonData
	if err := s.db.WithContext(ctx).Where("id IN (?)", sub).Order("galon ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("latest per galon: %w", err)
	}
	s.localize(out)
	return out, nil
}

// Galons 返回全部 galon 及其读数条数与最新读数。
func (s *ReadingService) Galons(ctx context.Context) ([]GalonSummary, error) {
	type agg struct {
		Galon string
		Cnt   int64
	}
	var aggs []agg
	if err := s.db.WithContext(ctx).Model(&storage.GalonData{}).
		Select("galon, COUNT(*) AS cnt").Group("galon").Order("galon ASC").
		Scan(&aggs).Error; err != nil {
		return nil, fmt.Errorf("count per galon: %w", err)
	}
	latest, err := s.latestFromDB(ctx)
	if err != nil {
		return nil, err
	}
	byGalon := make(map[string]storage.GalonData, len(latest))
	for _, rec := range latest {
		byGalon[rec.Galon] = rec
	}
	out := make([]GalonSummary, 0, len(aggs))
	for _, a := range aggs {
		sum := GalonSummary{Galon: a.Galon, Count: a.Cnt}
		if rec, ok := byGalon[a.Galon]; ok {
			sum.LastSeen = rec.Timestamp
			sum.Last = rec.Value
		}
		out = append(out, sum)
	}
	return out, nil
}

// Stats 计算某个 galon 在 [from, to) 内的 count/min/max/avg 以及首末时间。
func (s *ReadingService) Stats(ctx context.Context, galon string, from, to *time.Time) (*Stats, error) {
	type agg struct {
		Cnt      int64
		MinValue *float64
		MaxValue *float64
		AvgValue *float64
	}
	var a agg
	q := s.window(s.db.WithContext(ctx).Model(&storage.GalonData{}), galon, from, to)
	if err := q.Select("COUNT(*) AS cnt, MIN(value) AS min_value, MAX(value) AS max_value, AVG(value) AS avg_value").Scan(&a).Error; err != nil {
		return nil, fmt.Errorf("stats galon_data: %w", err)
	}
	out := &Stats{Galon: galon, Count: a.Cnt}
	if a.Cnt == 0 {
		return out, nil
	}
	if a.MinValue != nil {
		out.Min = *a.MinValue
	}
	if a.MaxValue != nil {
		out.Max = *a.MaxValue
	}
	if a.AvgValue != nil {
		out.Avg = *a.AvgValue
	}
	// 首末时间单独查询，避免各驱动对 MIN/MAX(datetime) 返回类型不一致
	var first, last storage.GalonData
	if err := s.window(s.db.WithContext(ctx), galon, from, to).Order("timestamp ASC").Order("id ASC").First(&first).Error; err == nil {
		t := first.Timestamp.In(s.loc)
		out.First = &t
	}
	if err := s.window(s.db.WithContext(ctx), galon, from, to).Order("timestamp DESC").Order("id DESC").First(&last).Error; err == nil {
		t := last.Timestamp.In(s.loc)
		out.Last = &t
	}
	return out, nil
}

// Prune 删除早于 before 的读数，返回删除条数。
func (s *ReadingService) Prune(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("timestamp < ?", before.In(s.loc)).Delete(&storage.GalonData{})
	if res.Error != nil {
		return 0, fmt.Errorf("prune galon_data: %w", res.Error)
	}
	if res.RowsAffected > 0 && s.cache != nil {
		if err := s.WarmCache(ctx); err != nil {
			log.WithError(err).Warn("rebuild latest cache after prune failed")
		}
	}
	return res.RowsAffected, nil
}

// WarmCache 以数据库中的最新读数重建缓存（启动时与清理后调用）。
// 先清空再读库，保证期间写入的读数不会被旧快照覆盖。
func (s *ReadingService) WarmCache(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	if err := s.cache.Invalidate(ctx); err != nil {
		return err
	}
	recs, err := s.latestFromDB(ctx)
	if err != nil {
		return err
	}
	return s.cache.Merge(ctx, recs)
}

func (s *ReadingService) window(q *gorm.DB, galon string, from, to *time.Time) *gorm.DB {
	if galon != "" {
		q = q.Where("galon = ?", galon)
	}
	if from != nil {
		q = q.Where("timestamp >= ?", from.In(s.loc))
	}
	if to != nil {
		q = q.Where("timestamp < ?", to.In(s.loc))
	}
	return q
}

func (s *ReadingService) localize(recs []storage.GalonData) {
	for i := range recs {
		recs[i].Timestamp = recs[i].Timestamp.In(s.loc)
	}
}
