// Package grpcclient 提供 gRPC 客户端工厂：连接退避、keepalive、请求超时与 trace 注入
package grpcclient

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
)

// ClientConfig gRPC 客户端配置
type ClientConfig struct {
	Target string
	// 连接超时（秒）
	ConnTimeout int
	// 请求超时（秒），0 表示不限制
	RequestTimeout int
	// Keepalive 间隔（秒），0 表示关闭
	KeepaliveInterval int
	// 编解码子类型，为空时使用 proto
	ContentSubtype string
}

// NewClient 创建 gRPC 客户端连接。连接是惰性建立的，不会阻塞。
func NewClient(cfg ClientConfig, log *slog.Logger) (*grpc.ClientConn, error) {
	callOpts := []grpc.CallOption{grpc.MaxCallRecvMsgSize(4 << 20)}
	if cfg.ContentSubtype != "" {
		callOpts = append(callOpts, grpc.CallContentSubtype(cfg.ContentSubtype))
	}
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithDefaultCallOptions(callOpts...),
		grpc.WithUnaryInterceptor(timeoutInterceptor(cfg, log)),
	}

	if cfg.ConnTimeout > 0 {
		opts = append(opts, grpc.WithConnectParams(grpc.ConnectParams{
			Backoff: backoff.Config{
				BaseDelay:  100 * time.Millisecond,
				MaxDelay:   time.Duration(cfg.ConnTimeout) * time.Second,
				Multiplier: 1.6,
				Jitter:     0.2,
			},
			MinConnectTimeout: time.Duration(cfg.ConnTimeout) * time.Second,
		}))
	}
	if cfg.KeepaliveInterval > 0 {
		opts = append(opts, grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                time.Duration(cfg.KeepaliveInterval) * time.Second,
			Timeout:             10 * time.Second,
			PermitWithoutStream: true,
		}))
	}

	conn, err := grpc.NewClient(cfg.Target, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc client for %s: %w", cfg.Target, err)
	}
	log.Info("grpc client created", "target", cfg.Target, "codec", cfg.ContentSubtype)
	return conn, nil
}

func timeoutInterceptor(cfg ClientConfig, log *slog.Logger) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		if cfg.RequestTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, time.Duration(cfg.RequestTimeout)*time.Second)
			defer cancel()
		}
		start := time.Now()
		err := invoker(ctx, method, req, reply, cc, opts...)
		if err != nil {
			log.WarnContext(ctx, "grpc call failed", "method", method, "duration", time.Since(start), "error", err)
			return err
		}
		log.DebugContext(ctx, "grpc call", "method", method, "duration", time.Since(start))
		return nil
	}
}
