package middleware

import (
	"crypto/subtle"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// ClientIDHeader 网关鉴权后注入的客户 ID
const ClientIDHeader = "X-Client-ID"

const clientIDKey = "client_id"

// RequireClient 要求请求携带合法的客户 ID
func RequireClient() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.GetHeader(ClientIDHeader), 10, 64)
		if err != nil || id <= 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid client id"})
			return
		}
		c.Set(clientIDKey, id)
		c.Next()
	}
}

// ClientID 取出 RequireClient 写入的客户 ID
func ClientID(c *gin.Context) int64 {
	return c.GetInt64(clientIDKey)
}

// ServiceTokenHeader 内部服务间调用携带的令牌
const ServiceTokenHeader = "X-Service-Token"

// RequireServiceToken 校验内部回调的共享令牌
func RequireServiceToken(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(ServiceTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid service token"})
			return
		}
		c.Next()
	}
}
