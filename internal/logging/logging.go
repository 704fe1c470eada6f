// Package logging 配置进程级 logrus：JSON 格式输出到标准输出，可选同时写入滚动日志文件。
package logging

import (
	"io"
	"os"
	"time"

	"github.com/natefinch/lumberjack"
	log "github.com/sirupsen/logrus"

	"espdata/internal/config"
)

// Setup 按配置初始化全局 logger，返回需在退出时关闭的写入器；未配置文件时返回空操作的 Closer。
func Setup(cfg config.LogConfig) io.Closer {
	log.SetFormatter(&log.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	lvl, err := log.ParseLevel(cfg.Level)
	if err != nil {
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)

	if cfg.File == "" {
		log.SetOutput(os.Stdout)
		return nopCloser{}
	}
	rotator := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stdout, rotator))
	return rotator
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
