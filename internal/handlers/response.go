package handlers

import (
	"github.com/gin-gonic/gin"
)

// 响应信封沿用设备固件已适配的格式：{"status": "success"|"error", "message"|"data": ...}

func respondOK(c *gin.Context, data interface{}) {
	c.JSON(200, gin.H{"status": "success", "data": data})
}

func respondError(c *gin.Context, code int, message string) {
	c.JSON(code, gin.H{"status": "error", "message": message})
}

// setNoCache 为实时数据响应添加禁止缓存的响应头。
func setNoCache(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	c.Header("Pragma", "no-cache")
}
