package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// @Summary      存活探针
// @Tags         ops
// @Success      200 {object} map[string]string
// @Router       /healthz [get]
func (h *Handler) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// @Summary      就绪探针
// @Description  MySQL 可连通且会话时区与配置一致时返回 200
// @Tags         ops
// @Success      200 {object} map[string]string
// @Failure      503 {object} map[string]string
// @Router       /readyz [get]
func (h *Handler) readyz(c *gin.Context) {
	if h.health == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	if err := h.health.Check(ctx); err != nil {
		respondError(c, http.StatusServiceUnavailable, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// devIngestLogs 返回最近的上报拒绝记录，仅非生产环境注册。
func (h *Handler) devIngestLogs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	logs, err := h.audit.Recent(c, limit)
	if err != nil {
		h.internalError(c, "ingest logs", err)
		return
	}
	respondOK(c, logs)
}
