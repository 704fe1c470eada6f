package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	yaml "gopkg.in/yaml.v3"
)

// Config 保存进程级配置。
// 字段提供与 docker-compose 部署一致的默认值；本地开发可通过 config.yaml 或环境变量覆盖。
type Config struct {
	Env       string
	HTTPAddr  string
	TimeZone  TimeZoneConfig
	MySQL     MySQLConfig
	Redis     RedisConfig
	Log       LogConfig
	CORS      CORSConfig
	Ingest    IngestConfig
	Limits    LimitConfig
	Security  SecurityConfig
	Retention RetentionConfig
}

// TimeZoneConfig 定义读数时间戳所使用的时区。
type TimeZoneConfig struct {
	// IANA 名称，例如 Asia/Jakarta
	Name string
	// 数据库会话时区偏移，例如 +07:00
	Offset string
}

type MySQLConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	// 追加到 DSN 末尾的额外参数（不含 loc 与 time_zone）
	Params string
	// loc 与 time_zone 由 TimeZone 推导，Load 时回填
	Location        string
	SessionTimeZone string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// 启动时等待 MySQL 可用的最长时间
	ConnectTimeout time.Duration
}

func (m MySQLConfig) DSN() string {
	port := m.Port
	if port == 0 {
		port = 3306
	}
	host := m.Host
	if host == "" {
		host = "127.0.0.1"
	}
	db := m.DBName
	if db == "" {
		db = "esp_data"
	}
	params := m.Params
	if params == "" {
		params = "charset=utf8mb4&parseTime=true"
	}
	if m.Location != "" {
		params += "&loc=" + url.QueryEscape(m.Location)
	}
	if m.SessionTimeZone != "" {
		params += "&time_zone=" + url.QueryEscape("'"+m.SessionTimeZone+"'")
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s", m.User, m.Password, host, port, db, params)
}

func (m MySQLConfig) DSNMasked() string {
	masked := m
	if masked.Password != "" {
		masked.Password = "******"
	}
	return masked.DSN()
}

type RedisConfig struct {
	// 未启用时最新读数缓存关闭，限流退化为进程内令牌桶
	Enable   bool
	Addr     string
	DB       int
	Password string
}

type LogConfig struct {
	Level string
	// 非空时同时写入滚动日志文件
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

type CORSConfig struct {
	Enable         bool
	AllowedOrigins []string
}

type IngestConfig struct {
	// 设备共享密钥：非空时 POST /data 必须携带 X-Device-Key
	DeviceKey string
	// 审计被拒绝的上报
	Audit bool
}

type LimitConfig struct {
	// 每个客户端 IP 在窗口内允许的上报次数，0 表示不限流
	IngestPerWindow int
	Window          time.Duration
}

type SecurityConfig struct {
	HSTS struct {
		Enabled           bool
		MaxAgeSeconds     int
		IncludeSubdomains bool
	}
}

type RetentionConfig struct {
	Enable   bool
	MaxAge   time.Duration
	Schedule string
}

// Load 生成配置：默认值 -> 配置文件（config.yaml/yml/json）-> .env -> 环境变量。
func Load() Config {
	cfg := Default()

	if path := FirstExisting("config.yaml", "config.yml", "config.json"); path != "" {
		_ = loadFromFile(path, &cfg)
	}

	// .env 仅作为环境变量的补充来源，已存在的环境变量不会被覆盖
	_ = godotenv.Load()
	_ = loadFromEnv(&cfg)

	cfg.MySQL.Location = cfg.TimeZone.Name
	cfg.MySQL.SessionTimeZone = cfg.TimeZone.Offset
	return cfg
}

// Default 返回与部署描述一致的内置默认值。
func Default() Config {
	cfg := Config{
		Env:      "dev",
		HTTPAddr: ":8080",
		TimeZone: TimeZoneConfig{Name: "Asia/Jakarta", Offset: "+07:00"},
		MySQL: MySQLConfig{
			Host: "mysql-container", Port: 3306, User: "user", Password: "password", DBName: "esp_data",
			Params:       "charset=utf8mb4&parseTime=true",
			MaxOpenConns: 10, MaxIdleConns: 5, ConnMaxLifetime: 30 * time.Minute, ConnectTimeout: time.Minute,
		},
		Redis:     RedisConfig{Enable: false, Addr: "127.0.0.1:6379"},
		Log:       LogConfig{Level: "info", MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 30},
		CORS:      CORSConfig{Enable: true, AllowedOrigins: []string{"*"}},
		Ingest:    IngestConfig{Audit: true},
		Limits:    LimitConfig{IngestPerWindow: 120, Window: time.Minute},
		Retention: RetentionConfig{Enable: false, MaxAge: 365 * 24 * time.Hour, Schedule: "@daily"},
	}
	cfg.Security.HSTS.Enabled = false
	cfg.Security.HSTS.MaxAgeSeconds = 31536000
	cfg.MySQL.Location = cfg.TimeZone.Name
	cfg.MySQL.SessionTimeZone = cfg.TimeZone.Offset
	return cfg
}

// 配置文件格式：YAML 或 JSON。仅非零值会覆盖现有字段。
func loadFromFile(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	ext := strings.ToLower(filepath.Ext(path))
	var fm fileModel
	if ext == ".yaml" || ext == ".yml" {
		if err := yaml.Unmarshal(b, &fm); err != nil {
			return err
		}
	} else if ext == ".json" || ext == "" {
		if err := json.Unmarshal(b, &fm); err != nil {
			return err
		}
	} else {
		return errors.New("unsupported config file format")
	}
	fm.apply(cfg)
	return nil
}

// --- 环境变量覆盖（容器编排注入）---

type envModel struct {
	Env         string `env:"ESP_ENV"`
	HTTPAddr    string `env:"ESP_HTTP_ADDR"`
	TimeZone    string `env:"ESP_TIMEZONE"`
	TZOffset    string `env:"ESP_TZ_OFFSET"`
	MySQLHost   string `env:"MYSQL_HOST"`
	MySQLPort   int    `env:"MYSQL_PORT"`
	MySQLUser   string `env:"MYSQL_USER"`
	MySQLPass   string `env:"MYSQL_PASSWORD"`
	MySQLDB     string `env:"MYSQL_DATABASE"`
	RedisEnable string `env:"REDIS_ENABLE"`
	RedisAddr   string `env:"REDIS_ADDR"`
	LogLevel    string `env:"ESP_LOG_LEVEL"`
	DeviceKey   string `env:"ESP_DEVICE_KEY"`
}

func loadFromEnv(cfg *Config) error {
	var em envModel
	if err := envdecode.Decode(&em); err != nil {
		if errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
			return nil
		}
		return err
	}
	em.apply(cfg)
	return nil
}

func (em *envModel) apply(cfg *Config) {
	if em.Env != "" {
		cfg.Env = em.Env
	}
	if em.HTTPAddr != "" {
		cfg.HTTPAddr = em.HTTPAddr
	}
	if em.TimeZone != "" {
		cfg.TimeZone.Name = em.TimeZone
	}
	if em.TZOffset != "" {
		cfg.TimeZone.Offset = em.TZOffset
	}
	if em.MySQLHost != "" {
		cfg.MySQL.Host = em.MySQLHost
	}
	if em.MySQLPort != 0 {
		cfg.MySQL.Port = em.MySQLPort
	}
	if em.MySQLUser != "" {
		cfg.MySQL.User = em.MySQLUser
	}
	if em.MySQLPass != "" {
		cfg.MySQL.Password = em.MySQLPass
	}
	if em.MySQLDB != "" {
		cfg.MySQL.DBName = em.MySQLDB
	}
	if em.RedisEnable != "" {
		if v, err := strconv.ParseBool(em.RedisEnable); err == nil {
			cfg.Redis.Enable = v
		}
	}
	if em.RedisAddr != "" {
		cfg.Redis.Addr = em.RedisAddr
	}
	if em.LogLevel != "" {
		cfg.Log.Level = em.LogLevel
	}
	if em.DeviceKey != "" {
		cfg.Ingest.DeviceKey = em.DeviceKey
	}
}

// --- 配置文件模型与合并逻辑 ---

type fileModel struct {
	Env       string         `yaml:"env" json:"env"`
	HTTPAddr  string         `yaml:"http_addr" json:"http_addr"`
	TimeZone  *fileTimeZone  `yaml:"timezone" json:"timezone"`
	MySQL     *fileMySQL     `yaml:"mysql" json:"mysql"`
	Redis     *fileRedis     `yaml:"redis" json:"redis"`
	Log       *fileLog       `yaml:"log" json:"log"`
	CORS      *fileCORS      `yaml:"cors" json:"cors"`
	Ingest    *fileIngest    `yaml:"ingest" json:"ingest"`
	Limits    *fileLimits    `yaml:"limits" json:"limits"`
	Security  *fileSecurity  `yaml:"security" json:"security"`
	Retention *fileRetention `yaml:"retention" json:"retention"`
}

type fileTimeZone struct {
	Name   string `yaml:"name" json:"name"`
	Offset string `yaml:"offset" json:"offset"`
}
type fileMySQL struct {
	Host            string `yaml:"host" json:"host"`
	Port            int    `yaml:"port" json:"port"`
	User            string `yaml:"user" json:"user"`
	Password        string `yaml:"password" json:"password"`
	DBName          string `yaml:"db" json:"db"`
	Params          string `yaml:"params" json:"params"`
	MaxOpenConns    int    `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime string `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	ConnectTimeout  string `yaml:"connect_timeout" json:"connect_timeout"`
}
type fileRedis struct {
	Enable   *bool  `yaml:"enable" json:"enable"`
	Addr     string `yaml:"addr" json:"addr"`
	DB       int    `yaml:"db" json:"db"`
	Password string `yaml:"password" json:"password"`
}
type fileLog struct {
	Level      string `yaml:"level" json:"level"`
	File       string `yaml:"file" json:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days"`
}
type fileCORS struct {
	Enable         *bool    `yaml:"enable" json:"enable"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
}
type fileIngest struct {
	DeviceKey string `yaml:"device_key" json:"device_key"`
	Audit     *bool  `yaml:"audit" json:"audit"`
}
type fileLimits struct {
	IngestPerWindow int    `yaml:"ingest_per_window" json:"ingest_per_window"`
	Window          string `yaml:"window" json:"window"`
}
type fileSecurity struct {
	HSTS struct {
		Enabled           *bool `yaml:"enabled" json:"enabled"`
		MaxAge            int   `yaml:"max_age" json:"max_age"`
		IncludeSubdomains *bool `yaml:"include_subdomains" json:"include_subdomains"`
	} `yaml:"hsts" json:"hsts"`
}
type fileRetention struct {
	Enable   *bool  `yaml:"enable" json:"enable"`
	MaxAge   string `yaml:"max_age" json:"max_age"`
	Schedule string `yaml:"schedule" json:"schedule"`
}

func (fm *fileModel) apply(cfg *Config) {
	if fm.Env != "" {
		cfg.Env = fm.Env
	}
	if fm.HTTPAddr != "" {
		cfg.HTTPAddr = fm.HTTPAddr
	}
	if fm.TimeZone != nil {
		if fm.TimeZone.Name != "" {
			cfg.TimeZone.Name = fm.TimeZone.Name
		}
		if fm.TimeZone.Offset != "" {
			cfg.TimeZone.Offset = fm.TimeZone.Offset
		}
	}
	if fm.MySQL != nil {
		if fm.MySQL.Host != "" {
			cfg.MySQL.Host = fm.MySQL.Host
		}
		if fm.MySQL.Port != 0 {
			cfg.MySQL.Port = fm.MySQL.Port
		}
		if fm.MySQL.User != "" {
			cfg.MySQL.User = fm.MySQL.User
		}
		if fm.MySQL.Password != "" {
			cfg.MySQL.Password = fm.MySQL.Password
		}
		if fm.MySQL.DBName != "" {
			cfg.MySQL.DBName = fm.MySQL.DBName
		}
		if fm.MySQL.Params != "" {
			cfg.MySQL.Params = fm.MySQL.Params
		}
		if fm.MySQL.MaxOpenConns != 0 {
			cfg.MySQL.MaxOpenConns = fm.MySQL.MaxOpenConns
		}
		if fm.MySQL.MaxIdleConns != 0 {
			cfg.MySQL.MaxIdleConns = fm.MySQL.MaxIdleConns
		}
		if d, ok := parseDuration(fm.MySQL.ConnMaxLifetime); ok {
			cfg.MySQL.ConnMaxLifetime = d
		}
		if d, ok := parseDuration(fm.MySQL.ConnectTimeout); ok {
			cfg.MySQL.ConnectTimeout = d
		}
	}
	if fm.Redis != nil {
		if fm.Redis.Enable != nil {
			cfg.Redis.Enable = *fm.Redis.Enable
		}
		if fm.Redis.Addr != "" {
			cfg.Redis.Addr = fm.Redis.Addr
		}
		if fm.Redis.DB != 0 {
			cfg.Redis.DB = fm.Redis.DB
		}
		if fm.Redis.Password != "" {
			cfg.Redis.Password = fm.Redis.Password
		}
	}
	if fm.Log != nil {
		if fm.Log.Level != "" {
			cfg.Log.Level = fm.Log.Level
		}
		if fm.Log.File != "" {
			cfg.Log.File = fm.Log.File
		}
		if fm.Log.MaxSizeMB != 0 {
			cfg.Log.MaxSizeMB = fm.Log.MaxSizeMB
		}
		if fm.Log.MaxBackups != 0 {
			cfg.Log.MaxBackups = fm.Log.MaxBackups
		}
		if fm.Log.MaxAgeDays != 0 {
			cfg.Log.MaxAgeDays = fm.Log.MaxAgeDays
		}
	}
	if fm.CORS != nil {
		if fm.CORS.Enable != nil {
			cfg.CORS.Enable = *fm.CORS.Enable
		}
		if len(fm.CORS.AllowedOrigins) > 0 {
			cfg.CORS.AllowedOrigins = fm.CORS.AllowedOrigins
		}
	}
	if fm.Ingest != nil {
		if fm.Ingest.DeviceKey != "" {
			cfg.Ingest.DeviceKey = fm.Ingest.DeviceKey
		}
		if fm.Ingest.Audit != nil {
			cfg.Ingest.Audit = *fm.Ingest.Audit
		}
	}
	if fm.Limits != nil {
		if fm.Limits.IngestPerWindow != 0 {
			cfg.Limits.IngestPerWindow = fm.Limits.IngestPerWindow
		}
		if d, ok := parseDuration(fm.Limits.Window); ok {
			cfg.Limits.Window = d
		}
	}
	if fm.Security != nil {
		if fm.Security.HSTS.Enabled != nil {
			cfg.Security.HSTS.Enabled = *fm.Security.HSTS.Enabled
		}
		if fm.Security.HSTS.MaxAge != 0 {
			cfg.Security.HSTS.MaxAgeSeconds = fm.Security.HSTS.MaxAge
		}
		if fm.Security.HSTS.IncludeSubdomains != nil {
			cfg.Security.HSTS.IncludeSubdomains = *fm.Security.HSTS.IncludeSubdomains
		}
	}
	if fm.Retention != nil {
		if fm.Retention.Enable != nil {
			cfg.Retention.Enable = *fm.Retention.Enable
		}
		if d, ok := parseDuration(fm.Retention.MaxAge); ok {
			cfg.Retention.MaxAge = d
		}
		if fm.Retention.Schedule != "" {
			cfg.Retention.Schedule = fm.Retention.Schedule
		}
	}
}

func parseDuration(s string) (time.Duration, bool) {
	if s == "" {
		return 0, false
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, false
	}
	return d, true
}

// FirstExisting 按顺序返回第一个存在的文件路径；若都不存在则返回空字符串。
func FirstExisting(paths ...string) string {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
