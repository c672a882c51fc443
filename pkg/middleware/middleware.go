// Package middleware 提供 Gin 与 gRPC 的通用中间件（请求 ID、日志、panic recover、指标、限流）
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/wyfcoding/banksettlement/pkg/metrics"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// RequestIDHeader 请求 ID 头
const RequestIDHeader = "X-Request-ID"

// RequestIDKey gin 上下文中的请求 ID 键
const RequestIDKey = "request_id"

type requestIDContextKey struct{}

// RequestIDFrom 从 context 中取出请求 ID
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDContextKey{}).(string)
	return id
}

// WithRequestID 将请求 ID 写入 context
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDContextKey{}, id)
}

// GinRequestID 透传或生成请求 ID
func GinRequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Request = c.Request.WithContext(WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

// GinLogging 记录请求日志并采集 HTTP 指标
func GinLogging(log *slog.Logger, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		duration := time.Since(start)
		statusCode := c.Writer.Status()
		if m != nil {
			m.HTTPRequests.WithLabelValues(c.Request.Method, path, strconv.Itoa(statusCode)).Inc()
			m.HTTPDuration.WithLabelValues(c.Request.Method, path).Observe(duration.Seconds())
		}

		level := slog.LevelInfo
		if statusCode >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		log.Log(c.Request.Context(), level, "http request",
			"request_id", RequestIDFrom(c.Request.Context()),
			"method", c.Request.Method,
			"path", path,
			"status", statusCode,
			"client_ip", c.ClientIP(),
			"duration", duration,
		)
	}
}

// GinRecovery panic 恢复
func GinRecovery(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.ErrorContext(c.Request.Context(), "http request panicked",
					"request_id", RequestIDFrom(c.Request.Context()),
					"panic", fmt.Sprint(r),
					"stack", string(debug.Stack()),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":      "internal server error",
					"request_id": RequestIDFrom(c.Request.Context()),
				})
			}
		}()
		c.Next()
	}
}

// GRPCLogging gRPC 日志拦截器
func GRPCLogging(log *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		id := ""
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if v := md.Get("x-request-id"); len(v) > 0 {
				id = v[0]
			}
		}
		if id == "" {
			id = uuid.NewString()
		}
		ctx = WithRequestID(ctx, id)

		start := time.Now()
		resp, err := handler(ctx, req)
		if err != nil {
			st, _ := status.FromError(err)
			log.WarnContext(ctx, "grpc request failed",
				"request_id", id,
				"method", info.FullMethod,
				"code", st.Code().String(),
				"error", st.Message(),
				"duration", time.Since(start),
			)
			return resp, err
		}
		log.InfoContext(ctx, "grpc request", "request_id", id, "method", info.FullMethod, "duration", time.Since(start))
		return resp, nil
	}
}

// GRPCRecovery gRPC panic 恢复拦截器
func GRPCRecovery(log *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				log.ErrorContext(ctx, "grpc request panicked",
					"method", info.FullMethod,
					"panic", fmt.Sprint(r),
					"stack", string(debug.Stack()),
				)
				err = status.Error(codes.Internal, "internal server error")
			}
		}()
		return handler(ctx, req)
	}
}
