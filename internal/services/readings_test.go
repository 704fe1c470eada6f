package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"espdata/internal/storage"
)

var jakarta = time.FixedZone("WIB", 7*3600)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// 内存库按连接隔离，固定为单连接
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, storage.AutoMigrate(db))
	return db
}

// steppingClock 每次调用前进一秒，保证写入顺序与时间顺序一致。
func steppingClock(start time.Time) func() time.Time {
	cur := start.Add(-time.Second)
	return func() time.Time {
		cur = cur.Add(time.Second)
		return cur
	}
}

func newTestReadingService(t *testing.T, cache *LatestCache) *ReadingService {
	t.Helper()
	svc := NewReadingService(newTestDB(t), jakarta, cache)
	svc.SetClock(steppingClock(time.Date(2024, 5, 1, 1, 0, 0, 0, time.UTC)))
	return svc
}

func mustInsert(t *testing.T, svc *ReadingService, galon string, value float64) *storage.GalonData {
	t.Helper()
	rec, err := svc.Insert(context.Background(), galon, value)
	require.NoError(t, err)
	return rec
}

func TestInsertUsesLocalTimestamp(t *testing.T) {
	svc := newTestReadingService(t, nil)
	rec := mustInsert(t, svc, "galon-1", 42)

	require.NotZero(t, rec.ID)
	require.Equal(t, 8, rec.Timestamp.Hour())
	require.Equal(t, jakarta, rec.Timestamp.Location())

	got, err := svc.Latest(context.Background(), "galon-1")
	require.NoError(t, err)
	require.Equal(t, 42.0, got.Value)
	require.True(t, got.Timestamp.Equal(rec.Timestamp))
	require.Equal(t, 8, got.Timestamp.Hour())
}

func TestInsertRejectsOverlongGalon(t *testing.T) {
	svc := newTestReadingService(t, nil)
	_, err := svc.Insert(context.Background(), strings.Repeat("g", storage.MaxGalonLength+1), 1)
	require.Error(t, err)
}

func TestLatestNotFound(t *testing.T) {
	svc := newTestReadingService(t, nil)
	_, err := svc.Latest(context.Background(), "missing")
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestListFiltersAndOrder(t *testing.T) {
	svc := newTestReadingService(t, nil)
	ctx := context.Background()
	a1 := mustInsert(t, svc, "a", 1)
	mustInsert(t, svc, "b", 10)
	a2 := mustInsert(t, svc, "a", 2)
	a3 := mustInsert(t, svc, "a", 3)

	out, err := svc.List(ctx, ReadingFilter{Galon: "a"})
	require.NoError(t, err)
	require.Len(t, out, 3)
	require.Equal(t, a3.ID, out[0].ID)
	require.Equal(t, a1.ID, out[2].ID)

	out, err = svc.List(ctx, ReadingFilter{Galon: "a", Ascending: true, Limit: 2})
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, a1.ID, out[0].ID)
	require.Equal(t, a2.ID, out[1].ID)

	out, err = svc.List(ctx, ReadingFilter{Galon: "a", Ascending: true, Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, a3.ID, out[0].ID)

	from := a2.Timestamp
	out, err = svc.List(ctx, ReadingFilter{Galon: "a", From: &from})
	require.NoError(t, err)
	require.Len(t, out, 2)

	to := a2.Timestamp
	out, err = svc.List(ctx, ReadingFilter{To: &to, Ascending: true})
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, "a", out[0].Galon)
	require.Equal(t, "b", out[1].Galon)

	out, err = svc.List(ctx, ReadingFilter{})
	require.NoError(t, err)
	require.Len(t, out, 4)
}

func TestLatestAllAndGalons(t *testing.T) {
	svc := newTestReadingService(t, nil)
	ctx := context.Background()
	mustInsert(t, svc, "b", 10)
	mustInsert(t, svc, "a", 1)
	mustInsert(t, svc, "b", 11)
	mustInsert(t, svc, "a", 2)
	mustInsert(t, svc, "b", 12)

	latest, err := svc.LatestAll(ctx)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	require.Equal(t, "a", latest[0].Galon)
	require.Equal(t, 2.0, latest[0].Value)
	require.Equal(t, "b", latest[1].Galon)
	require.Equal(t, 12.0, latest[1].Value)

	sums, err := svc.Galons(ctx)
	require.NoError(t, err)
	require.Len(t, sums, 2)
	require.Equal(t, "a", sums[0].Galon)
	require.Equal(t, int64(2), sums[0].Count)
	require.Equal(t, 2.0, sums[0].Last)
	require.True(t, sums[0].LastSeen.Equal(latest[0].Timestamp))
	require.Equal(t, int64(3), sums[1].Count)
	require.Equal(t, 12.0, sums[1].Last)
}

func TestStats(t *testing.T) {
	svc := newTestReadingService(t, nil)
	ctx := context.Background()
	first := mustInsert(t, svc, "a", 4)
	mustInsert(t, svc, "a", 8)
	last := mustInsert(t, svc, "a", 6)
	mustInsert(t, svc, "b", 100)

	st, err := svc.Stats(ctx, "a", nil, nil)
	require.NoError(t, err)
	require.Equal(t, int64(3), st.Count)
	require.Equal(t, 4.0, st.Min)
	require.Equal(t, 8.0, st.Max)
	require.InDelta(t, 6.0, st.Avg, 1e-9)
	require.NotNil(t, st.First)
	require.True(t, st.First.Equal(first.Timestamp))
	require.True(t, st.Last.Equal(last.Timestamp))

	from := last.Timestamp.Add(time.Hour)
	empty, err := svc.Stats(ctx, "a", &from, nil)
	require.NoError(t, err)
	require.Equal(t, int64(0), empty.Count)
	require.Nil(t, empty.First)
}

func TestPrune(t *testing.T) {
	svc := newTestReadingService(t, nil)
	ctx := context.Background()
	mustInsert(t, svc, "a", 1)
	mustInsert(t, svc, "a", 2)
	keep := mustInsert(t, svc, "a", 3)

	n, err := svc.Prune(ctx, keep.Timestamp)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	out, err := svc.List(ctx, ReadingFilter{})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, keep.ID, out[0].ID)
}

func newTestCache(t *testing.T) (*LatestCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewLatestCache(rdb), mr
}

func TestInsertUpdatesLatestCache(t *testing.T) {
	cache, mr := newTestCache(t)
	svc := newTestReadingService(t, cache)
	ctx := context.Background()
	mustInsert(t, svc, "a", 1)
	rec := mustInsert(t, svc, "a", 5)

	require.True(t, mr.Exists(latestKey))
	cached, ok, err := cache.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, rec.ID, cached.ID)
	require.Equal(t, 5.0, cached.Value)

	got, err := svc.Latest(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, jakarta, got.Timestamp.Location())
	require.True(t, got.Timestamp.Equal(rec.Timestamp))
}

func TestLatestCacheIgnoresOlderReading(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, cache.Put(ctx, storage.GalonData{ID: 5, Galon: "a", Value: 5, Timestamp: now}))
	require.NoError(t, cache.Put(ctx, storage.GalonData{ID: 3, Galon: "a", Value: 3, Timestamp: now}))

	got, ok, err := cache.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(5), got.ID)
}

func TestWarmCacheRebuildsFromDatabase(t *testing.T) {
	cache, mr := newTestCache(t)
	svc := newTestReadingService(t, cache)
	ctx := context.Background()
	mustInsert(t, svc, "a", 1)
	mustInsert(t, svc, "b", 2)

	mr.FlushAll()
	latest, err := svc.LatestAll(ctx)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	require.True(t, mr.Exists(latestKey))

	require.NoError(t, cache.Invalidate(ctx))
	require.False(t, mr.Exists(latestKey))
	require.NoError(t, svc.WarmCache(ctx))
	all, complete, err := cache.All(ctx)
	require.NoError(t, err)
	require.True(t, complete)
	require.Len(t, all, 2)
	require.Equal(t, "a", all[0].Galon)
}

func TestLatestAllIgnoresPartialCache(t *testing.T) {
	cache, mr := newTestCache(t)
	svc := newTestReadingService(t, cache)
	ctx := context.Background()
	mustInsert(t, svc, "a", 1)
	mustInsert(t, svc, "b", 2)

	// Redis 重启后只剩新写入的 galon
	mr.FlushAll()
	mustInsert(t, svc, "c", 3)
	partial, complete, err := cache.All(ctx)
	require.NoError(t, err)
	require.False(t, complete)
	require.Len(t, partial, 1)

	latest, err := svc.LatestAll(ctx)
	require.NoError(t, err)
	require.Len(t, latest, 3)
	require.Equal(t, []string{"a", "b", "c"}, []string{latest[0].Galon, latest[1].Galon, latest[2].Galon})

	// 回填后缓存完整，后续读取直接命中
	all, complete, err := cache.All(ctx)
	require.NoError(t, err)
	require.True(t, complete)
	require.Len(t, all, 3)
}

func TestLatestAllServesCompleteCache(t *testing.T) {
	cache, _ := newTestCache(t)
	svc := newTestReadingService(t, cache)
	ctx := context.Background()
	mustInsert(t, svc, "a", 1)
	require.NoError(t, svc.WarmCache(ctx))
	mustInsert(t, svc, "b", 2)

	latest, err := svc.LatestAll(ctx)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	require.Equal(t, jakarta, latest[1].Timestamp.Location())
}

func TestLatestCacheConcurrentPutKeepsNewest(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()
	now := time.Now()
	for round := 0; round < 50; round++ {
		mr.FlushAll()
		var wg sync.WaitGroup
		for id := uint64(1); id <= 8; id++ {
			wg.Add(1)
			go func(id uint64) {
				defer wg.Done()
				assert.NoError(t, cache.Put(ctx, storage.GalonData{ID: id, Galon: "a", Value: float64(id), Timestamp: now}))
			}(id)
		}
		wg.Wait()
		got, ok, err := cache.Get(ctx, "a")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, uint64(8), got.ID, "round %d", round)
	}
}

func TestPruneRebuildsCache(t *testing.T) {
	cache, _ := newTestCache(t)
	svc := newTestReadingService(t, cache)
	ctx := context.Background()
	mustInsert(t, svc, "old", 1)
	keep := mustInsert(t, svc, "new", 2)

	_, err := svc.Prune(ctx, keep.Timestamp)
	require.NoError(t, err)
	all, complete, err := cache.All(ctx)
	require.NoError(t, err)
	require.True(t, complete)
	require.Len(t, all, 1)
	require.Equal(t, "new", all[0].Galon)
}
