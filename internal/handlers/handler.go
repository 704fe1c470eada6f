package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"

	"espdata/internal/config"
	"espdata/internal/metrics"
	"espdata/internal/middlewares"
	"espdata/internal/services"
	"espdata/internal/storage"
)

// Readings 为读数服务在 HTTP 层所需的能力。
type Readings interface {
	Insert(ctx context.Context, galon string, value float64) (*storage.GalonData, error)
	List(ctx context.Context, f services.ReadingFilter) ([]storage.GalonData, error)
	Latest(ctx context.Context, galon string) (*storage.GalonData, error)
	LatestAll(ctx context.Context) ([]storage.GalonData, error)
	Galons(ctx context.Context) ([]services.GalonSummary, error)
	Stats(ctx context.Context, galon string, from, to *time.Time) (*services.Stats, error)
}

// Auditor 记录被拒绝的上报。
type Auditor interface {
	Write(ctx context.Context, rec *storage.IngestLog)
	Recent(ctx context.Context, limit int) ([]storage.IngestLog, error)
}

// Checker 执行就绪检查。
type Checker interface {
	Check(ctx context.Context) error
}

// Handler 聚合所有依赖（配置、服务）并注册 HTTP 路由。
type Handler struct {
	cfg      config.Config
	readings Readings
	audit    Auditor
	health   Checker
	loc      *time.Location
	rdb      redis.Cmdable
}

// New 构造 Handler。audit 与 rdb 可为 nil：前者关闭审计，后者使限流退化为进程内实现。
func New(cfg config.Config, readings Readings, audit Auditor, health Checker, loc *time.Location, rdb redis.Cmdable) *Handler {
	if loc == nil {
		loc = time.Local
	}
	return &Handler{cfg: cfg, readings: readings, audit: audit, health: health, loc: loc, rdb: rdb}
}

// RegisterRoutes 在 Gin 路由上挂载设备上报、查询与运维端点。
// galon 标识可能包含 "/"，路由按原始路径匹配，参数再解码（客户端需将其编码为 %2F）。
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.UseRawPath = true
	r.UnescapePathValues = true

	// 设备上报：先限流再校验设备密钥
	r.POST("/data", h.ingestLimiter(), middlewares.DeviceKey(h.cfg.Ingest.DeviceKey), h.ingest)

	// 查询
	r.GET("/data", h.listReadings)
	r.GET("/data/latest", h.latestAll)
	r.GET("/galons", h.listGalons)
	r.GET("/galons/:galon/latest", h.latestOne)
	r.GET("/galons/:galon/stats", h.stats)

	// 运维端点
	r.GET("/metrics", h.metrics)
	r.GET("/healthz", h.healthz)
	r.GET("/readyz", h.readyz)

	// 开发辅助：查看最近被拒绝的上报
	if h.cfg.Env != "prod" && h.audit != nil {
		r.GET("/dev/ingest-logs", h.devIngestLogs)
	}
}

func (h *Handler) ingestLimiter() gin.HandlerFunc {
	window := h.cfg.Limits.Window
	if window <= 0 {
		window = time.Minute
	}
	if h.rdb != nil {
		return middlewares.RateLimit(h.rdb, "ingest", h.cfg.Limits.IngestPerWindow, window, middlewares.ClientIPKey)
	}
	return middlewares.LocalRateLimit(h.cfg.Limits.IngestPerWindow, window, middlewares.ClientIPKey)
}

func (h *Handler) metrics(c *gin.Context) { metrics.Exposer()(c) }
