package metrics

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 指标定义：
// - http_requests_total：按路径与方法统计请求次数（附带状态码标签）
// - http_request_duration_seconds：按路径与方法统计请求耗时分布
// - readings_ingested_total：成功落库的读数数量
// - ingest_errors_total：被拒绝或失败的上报（按原因）
// - galon_value：每个 galon 最近一次上报的值
var (
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "HTTP 请求计数（按路径/方法/状态）"},
		[]string{"path", "method", "status"},
	)
	HTTPLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP 请求耗时（秒）", Buckets: prometheus.DefBuckets},
		[]string{"path", "method"},
	)
	ReadingsIngested = prometheus.NewCounter(prometheus.CounterOpts{Name: "readings_ingested_total", Help: "成功写入的读数总数"})
	IngestErrors     = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ingest_errors_total", Help: "上报错误计数（按原因）"},
		[]string{"reason"},
	)
	GalonValue = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "galon_value", Help: "各 galon 最近一次上报的值"},
		[]string{"galon"},
	)
)

func init() {
	prometheus.MustRegister(HTTPRequests, HTTPLatency, ReadingsIngested, IngestErrors, GalonValue)
}

// Handler 返回记录基础 HTTP 指标的中间件（QPS/耗时）。
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		dur := time.Since(start).Seconds()
		path := c.FullPath()
		if path == "" {
			// 未匹配路由统一归类，避免任意路径撑大标签基数
			path = "unmatched"
		}
		HTTPLatency.WithLabelValues(path, c.Request.Method).Observe(dur)
		HTTPRequests.WithLabelValues(path, c.Request.Method, fmt.Sprintf("%d", c.Writer.Status())).Inc()
	}
}

// Exposer 返回标准 Prometheus 暴露处理器。
func Exposer() gin.HandlerFunc { return gin.WrapH(promhttp.Handler()) }
