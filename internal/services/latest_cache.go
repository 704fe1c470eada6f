package services

// 最新读数缓存：Redis 哈希 esp:latest。
//   g:<galon>  读数 JSON
//   i:<galon>  该读数的 id，用于原子比较
//   complete   存在时表示哈希覆盖了数据库中的全部 galon
// 标记与数据同在一个键内，键被淘汰或清空时两者一起消失。

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/go-redis/redis/v8"

	"espdata/internal/storage"
)

const (
	latestKey     = "esp:latest"
	fieldReading  = "g:"
	fieldComplete = "complete"
)

// putIfNewer 仅当缓存中没有更大的 id 时写入，HGET 与 HSET 在同一脚本内原子执行。
var putIfNewer = redis.NewScript(`
local raw = redis.call('HGET', KEYS[1], 'i:' .. ARGV[1])
local cur = raw and tonumber(raw)
if cur and cur > tonumber(ARGV[3]) then
  return 0
end
redis.call('HSET', KEYS[1], 'g:' .. ARGV[1], ARGV[2], 'i:' .. ARGV[1], ARGV[3])
return 1
`)

// LatestCache 保存每个 galon 的最新读数，供仪表盘高频轮询。
type LatestCache struct {
	rdb redis.Cmdable
	key string
}

func NewLatestCache(rdb redis.Cmdable) *LatestCache { return &LatestCache{rdb: rdb, key: latestKey} }

// Put 写入某个 galon 的最新读数；较旧的读数不会覆盖较新的。
func (c *LatestCache) Put(ctx context.Context, rec storage.GalonData) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return putIfNewer.Run(ctx, c.rdb, []string{c.key}, rec.Galon, string(b), strconv.FormatUint(rec.ID, 10)).Err()
}

// Get 读取某个 galon 的缓存；不存在时 ok=false。
func (c *LatestCache) Get(ctx context.Context, galon string) (*storage.GalonData, bool, error) {
	raw, err := c.rdb.HGet(ctx, c.key, fieldReading+galon).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var rec storage.GalonData
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, false, fmt.Errorf("decode cached reading: %w", err)
	}
	return &rec, true, nil
}

// All 返回全部缓存读数（按 galon 排序）以及缓存是否完整。
// complete=false 时调用方不能把结果当作全部 galon。
func (c *LatestCache) All(ctx context.Context) (recs []storage.GalonData, complete bool, err error) {
	m, err := c.rdb.HGetAll(ctx, c.key).Result()
	if err != nil {
		return nil, false, err
	}
	_, complete = m[fieldComplete]
	out := make([]storage.GalonData, 0, len(m)/2)
	for field, raw := range m {
		if !strings.HasPrefix(field, fieldReading) {
			continue
		}
		var rec storage.GalonData
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, false, fmt.Errorf("decode cached reading: %w", err)
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Galon < out[j].Galon })
	return out, complete, nil
}

// Merge 逐条写入（保持较新者），随后标记缓存完整。
// recs 必须是写入前从数据库读取的全部 galon 最新读数。
func (c *LatestCache) Merge(ctx context.Context, recs []storage.GalonData) error {
	for _, rec := range recs {
		if err := c.Put(ctx, rec); err != nil {
			return err
		}
	}
	return c.rdb.HSet(ctx, c.key, fieldComplete, "1").Err()
}

// Invalidate 清空缓存（含完整标记）。
func (c *LatestCache) Invalidate(ctx context.Context) error {
	return c.rdb.Del(ctx, c.key).Err()
}
