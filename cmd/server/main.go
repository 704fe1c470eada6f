package main

// @title           ESP Galon Data API
// @version         0.1.0
// @description     接收 ESP 设备上报的 galon 读数并写入 MySQL（esp_data.galon_data），提供查询、统计与运维端点。
// @schemes         http
// @BasePath        /
// @securityDefinitions.apikey DeviceKey
// @in header
// @name X-Device-Key

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/sethvargo/go-retry"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"espdata/internal/config"
	"espdata/internal/handlers"
	"espdata/internal/logging"
	"espdata/internal/metrics"
	"espdata/internal/middlewares"
	"espdata/internal/services"
	"espdata/internal/storage"
	"espdata/internal/utils"
)

// main 为服务入口：加载配置、初始化日志/存储/服务、注册路由并启动 HTTP 服务。
func main() {
	cfg := config.Load()
	closer := logging.Setup(cfg.Log)
	defer func() { _ = closer.Close() }()

	// 生产环境基线检查：禁止默认弱口令进入生产。
	if cfg.Env == "prod" {
		if cfg.MySQL.Password == "123456" || cfg.MySQL.Password == "password" || cfg.MySQL.Password == "" {
			log.Fatal("insecure mysql password in prod; configure mysql.password or MYSQL_PASSWORD")
		}
		if strings.Contains(cfg.MySQL.User, "root") {
			log.Warn("using MySQL root in prod is discouraged")
		}
	}

	loc, err := utils.LoadLocation(cfg.TimeZone.Name, cfg.TimeZone.Offset)
	if err != nil {
		log.WithError(err).Fatal("invalid time zone")
	}
	log.WithFields(log.Fields{
		"env":        cfg.Env,
		"http_addr":  cfg.HTTPAddr,
		"mysql_dsn":  cfg.MySQL.DSNMasked(),
		"redis":      cfg.Redis.Enable,
		"time_zone":  loc.String(),
		"device_key": cfg.Ingest.DeviceKey != "",
	}).Info("configuration loaded")

	// MySQL 可能晚于本服务就绪，连接失败时指数退避重试
	db, err := connectMySQL(context.Background(), cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to connect mysql")
	}
	defer storage.CloseMySQL(db)
	if err := storage.VerifyTimeZone(context.Background(), db, cfg.TimeZone.Offset); err != nil {
		log.WithError(err).Warn("mysql session time zone mismatch")
	}

	// Redis 可选：不可用时退化为直查数据库与进程内限流
	var (
		cache *services.LatestCache
		rdb   redis.Cmdable
	)
	if cfg.Redis.Enable {
		client, err := storage.InitRedis(context.Background(), cfg)
		if err != nil {
			log.WithError(err).Warn("redis unavailable, falling back to local cache and limiter")
		} else {
			defer func() { _ = client.Close() }()
			rdb = client
			cache = services.NewLatestCache(client)
		}
	}

	// 初始化核心服务
	readingSvc := services.NewReadingService(db, loc, cache)
	if cache != nil {
		if err := readingSvc.WarmCache(context.Background()); err != nil {
			log.WithError(err).Warn("warm latest cache")
		}
	}
	logSvc := services.NewLogService(db)
	healthSvc := services.NewHealthService(db, cfg.TimeZone.Offset)

	var retention *services.RetentionService
	if cfg.Retention.Enable {
		retention, err = services.NewRetentionService(readingSvc, cfg.Retention.MaxAge, cfg.Retention.Schedule, loc)
		if err != nil {
			log.WithError(err).Fatal("invalid retention schedule")
		}
		retention.Start()
		log.WithFields(log.Fields{"max_age": cfg.Retention.MaxAge.String(), "schedule": cfg.Retention.Schedule}).Info("retention enabled")
	}

	// HTTP 路由与中间件
	if cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middlewares.RequestID())
	router.Use(middlewares.RequestLogger())
	router.Use(middlewares.SecurityHeaders(cfg))
	router.Use(metrics.Handler())
	if cfg.CORS.Enable {
		router.Use(middlewares.CORS(cfg.CORS))
	}

	h := handlers.New(cfg, readingSvc, logSvc, healthSvc, loc, rdb)
	h.RegisterRoutes(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("starting http server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("listen")
		}
	}()

	// 优雅退出
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	if retention != nil {
		<-retention.Stop().Done()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Error("server shutdown")
	} else {
		log.Info("server stopped")
	}
}

// connectMySQL 在 connect_timeout 内以指数退避重试建立连接。
func connectMySQL(ctx context.Context, cfg config.Config) (*gorm.DB, error) {
	timeout := cfg.MySQL.ConnectTimeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	b := retry.NewExponential(500 * time.Millisecond)
	b = retry.WithCappedDuration(5*time.Second, b)
	b = retry.WithMaxDuration(timeout, b)

	var db *gorm.DB
	attempt := 0
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		pingCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		conn, err := storage.InitMySQL(pingCtx, cfg)
		if err != nil {
			log.WithError(err).WithField("attempt", attempt).Warn("mysql not ready")
			return retry.RetryableError(err)
		}
		db = conn
		return nil
	})
	return db, err
}
