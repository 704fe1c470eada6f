package middlewares

import (
	"crypto/subtle"

	"github.com/gin-gonic/gin"
)

// DeviceKeyHeader 为设备上报时携带共享密钥的请求头。
const DeviceKeyHeader = "X-Device-Key"

// DeviceKey 要求请求携带与配置一致的设备密钥；key 为空时不校验。
func DeviceKey(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key == "" {
			c.Next()
			return
		}
		got := c.GetHeader(DeviceKeyHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			c.AbortWithStatusJSON(401, gin.H{"status": "error", "message": "Invalid device key"})
			return
		}
		c.Next()
	}
}
