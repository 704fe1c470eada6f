package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"espdata/internal/metrics"
	"espdata/internal/middlewares"
	"espdata/internal/storage"
)

const (
	msgStored        = "Data received and stored successfully!"
	msgInvalidJSON   = "Invalid JSON payload"
	msgInvalidFormat = "Invalid data format"
	msgInvalidTypes  = "Invalid data types"

	maxIngestBody = 64 << 10
)

// ingestRequest 保留原始 JSON 类型，以便区分缺失、null 与类型错误。
type ingestRequest struct {
	Galon interface{} `json:"galon"`
	Value interface{} `json:"value"`
}

var errNullBody = errors.New("request body is null")

// UnmarshalJSON 拒绝顶层 null，其余按普通对象解码。
func (r *ingestRequest) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		return errNullBody
	}
	type plain ingestRequest
	return json.Unmarshal(b, (*plain)(r))
}

// @Summary      设备上报读数
// @Description  ESP 设备上报 galon 读数，服务端以配置时区的当前时间作为时间戳写入 galon_data
// @Tags         data
// @Accept       json
// @Produce      json
// @Param        body  body  object  true  "{galon: string, value: number}"
// @Success      200 {object} map[string]string
// @Failure      400 {object} map[string]string
// @Failure      401 {object} map[string]string
// @Failure      429 {object} map[string]string
// @Failure      500 {object} map[string]string
// @Router       /data [post]
func (h *Handler) ingest(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxIngestBody)
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.rejectIngest(c, http.StatusBadRequest, "invalid_json", msgInvalidJSON, nil, err.Error())
		return
	}
	if req.Galon == nil || req.Value == nil {
		h.rejectIngest(c, http.StatusBadRequest, "invalid_format", msgInvalidFormat, nil, "galon or value missing")
		return
	}
	galon, okGalon := req.Galon.(string)
	// encoding/json 将所有 JSON 数字解码为 float64，布尔值不视为数字
	value, okValue := req.Value.(float64)
	if !okGalon || !okValue {
		var gp *string
		if okGalon {
			gp = &galon
		}
		h.rejectIngest(c, http.StatusBadRequest, "invalid_types", msgInvalidTypes, gp, "galon must be string and value a number")
		return
	}
	if utf8.RuneCountInString(galon) > storage.MaxGalonLength {
		h.rejectIngest(c, http.StatusBadRequest, "invalid_types", msgInvalidTypes, nil, "galon too long")
		return
	}

	rec, err := h.readings.Insert(c, galon, value)
	if err != nil {
		log.WithError(err).WithFields(log.Fields{"galon": galon, "request_id": c.GetString(middlewares.RequestIDKey)}).Error("store reading")
		h.rejectIngest(c, http.StatusInternalServerError, "store_failed", err.Error(), &galon, err.Error())
		return
	}

	metrics.ReadingsIngested.Inc()
	metrics.GalonValue.WithLabelValues(galon).Set(value)
	log.WithFields(log.Fields{"galon": galon, "value": value, "id": rec.ID}).Debug("reading stored")
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": msgStored})
}

// rejectIngest 写错误响应，同时记录指标与审计日志。
func (h *Handler) rejectIngest(c *gin.Context, code int, reason, message string, galon *string, detail string) {
	metrics.IngestErrors.WithLabelValues(reason).Inc()
	if h.audit != nil && h.cfg.Ingest.Audit {
		level := "WARN"
		if code >= 500 {
			level = "ERROR"
		}
		h.audit.Write(c, &storage.IngestLog{
			Level:       level,
			Event:       reason,
			Galon:       galon,
			Description: detail,
			IPAddress:   c.ClientIP(),
			RequestID:   c.GetString(middlewares.RequestIDKey),
			Status:      code,
		})
	}
	respondError(c, code, message)
}
