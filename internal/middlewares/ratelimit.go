package middlewares

import (
	"fmt"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// KeyFunc 构建请求者唯一键（如按 IP）；返回空串表示不限流。
type KeyFunc func(*gin.Context) string

// ClientIPKey 以客户端 IP 作为限流键。
func ClientIPKey(c *gin.Context) string { return c.ClientIP() }

func rejectRateLimited(c *gin.Context, window time.Duration) {
	c.Header("Retry-After", fmt.Sprintf("%d", int(window.Seconds())))
	c.AbortWithStatusJSON(429, gin.H{"status": "error", "message": "rate_limited"})
}

// RateLimit 返回一个使用 Redis INCR+TTL 的固定窗口限流中间件，多实例部署时共享计数。
// Redis 不可用时放行。
func RateLimit(rdb redis.Cmdable, prefix string, limit int, window time.Duration, keyFn KeyFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limit <= 0 {
			c.Next()
			return
		}
		key := keyFn(c)
		if key == "" {
			c.Next()
			return
		}
		rkey := fmt.Sprintf("rl:%s:%s", prefix, key)
		var (
			incr *redis.IntCmd
			ttl  *redis.DurationCmd
		)
		_, err := rdb.TxPipelined(c, func(p redis.Pipeliner) error {
			incr = p.Incr(c, rkey)
			ttl = p.TTL(c, rkey)
			return nil
		})
		// 键没有过期时间（首次自增，或上次 EXPIRE 失败）时补设窗口
		if err == nil && ttl.Val() < 0 {
			if err := rdb.Expire(c, rkey, window).Err(); err != nil {
				log.WithError(err).WithField("key", rkey).Warn("rate limit expire failed")
			}
		}
		if err == nil && incr.Val() > int64(limit) {
			rejectRateLimited(c, window)
			return
		}
		c.Next()
	}
}

// LocalRateLimit 为未启用 Redis 的单实例部署提供进程内令牌桶限流：
// 每个键在 window 内平均允许 limit 次，突发上限为 limit。
func LocalRateLimit(limit int, window time.Duration, keyFn KeyFunc) gin.HandlerFunc {
	if limit <= 0 || window <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	l := &localLimiter{
		limiters: make(map[string]*localEntry),
		every:    rate.Every(window / time.Duration(limit)),
		burst:    limit,
		idle:     window * 2,
	}
	return func(c *gin.Context) {
		key := keyFn(c)
		if key == "" {
			c.Next()
			return
		}
		if !l.allow(key, time.Now()) {
			rejectRateLimited(c, window)
			return
		}
		c.Next()
	}
}

type localEntry struct {
	lim  *rate.Limiter
	seen time.Time
}

type localLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*localEntry
	every     rate.Limit
	burst     int
	idle      time.Duration
	lastSweep time.Time
}

func (l *localLimiter) allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	// 定期清理长时间未出现的键，防止 map 无界增长
	if now.Sub(l.lastSweep) > l.idle {
		for k, e := range l.limiters {
			if now.Sub(e.seen) > l.idle {
				delete(l.limiters, k)
			}
		}
		l.lastSweep = now
	}
	e, ok := l.limiters[key]
	if !ok {
		e = &localEntry{lim: rate.NewLimiter(l.every, l.burst)}
		l.limiters[key] = e
	}
	e.seen = now
	return e.lim.AllowN(now, 1)
}
