package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/banksettlement/pkg/ratelimit"
)

// KeyFunc 决定请求计入哪个限流桶
type KeyFunc func(c *gin.Context) string

// ByClient 有客户 ID 时按客户限流，否则按来源 IP
func ByClient(c *gin.Context) string {
	if id := c.GetHeader(ClientIDHeader); id != "" {
		return "client:" + id
	}
	return "ip:" + c.ClientIP()
}

// ByIP 按来源 IP 限流，用于对手行回调
func ByIP(c *gin.Context) string {
	return "ip:" + c.ClientIP()
}

// RateLimit 限流中间件，限流器故障时放行
func RateLimit(limiter ratelimit.Limiter, scope string, limit ratelimit.Limit, keyFn KeyFunc, log *slog.Logger) gin.HandlerFunc {
	if keyFn == nil {
		keyFn = ByIP
	}
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		res, err := limiter.Allow(ctx, "ratelimit:"+scope+":"+keyFn(c), limit)
		if err != nil {
			log.WarnContext(ctx, "rate limiter unavailable", "scope", scope, "error", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(limit.Burst))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		if res.Allowed {
			c.Next()
			return
		}

		retry := int64(res.RetryAfter/time.Second) + 1
		c.Header("Retry-After", strconv.FormatInt(retry, 10))
		log.WarnContext(ctx, "request throttled", "scope", scope, "path", c.FullPath())
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
	}
}
