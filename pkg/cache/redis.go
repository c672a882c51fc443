// Package cache 提供 Redis 客户端封装与 JSON 序列化的读写助手
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss 缓存未命中
var ErrMiss = errors.New("cache miss")

// Config Redis 配置
type Config struct {
	Host         string
	Port         int
	Password     string
	DB           int
	MaxPoolSize  int
	ConnTimeout  int
	ReadTimeout  int
	WriteTimeout int
	// 键前缀，通常为服务名，避免多个服务共用实例时冲突
	Namespace string
}

// RedisCache Redis 缓存实现
type RedisCache struct {
	client    *redis.Client
	namespace string
	log       *slog.Logger
}

// New 创建 Redis 缓存实例并检查连通性
func New(cfg Config, log *slog.Logger) (*RedisCache, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.MaxPoolSize,
		DialTimeout:  time.Duration(cfg.ConnTimeout) * time.Second,
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Info("redis connected", "addr", addr, "namespace", cfg.Namespace)
	return &RedisCache{client: client, namespace: cfg.Namespace, log: log}, nil
}

// GetJSON 读取 JSON 值，未命中返回 ErrMiss
func (rc *RedisCache) GetJSON(ctx context.Context, key string, dest any) error {
	val, err := rc.client.Get(ctx, rc.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrMiss
	}
	if err != nil {
		rc.log.WarnContext(ctx, "redis get failed", "key", key, "error", err)
		return err
	}
	return json.Unmarshal(val, dest)
}

// SetJSON 写入 JSON 值
func (rc *RedisCache) SetJSON(ctx context.Context, key string, value any, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if err := rc.client.Set(ctx, rc.key(key), data, expiration).Err(); err != nil {
		rc.log.WarnContext(ctx, "redis set failed", "key", key, "error", err)
		return err
	}
	return nil
}

func (rc *RedisCache) key(k string) string {
	if rc.namespace == "" {
		return k
	}
	return rc.namespace + ":" + k
}

// Close 关闭 Redis 连接
func (rc *RedisCache) Close() error {
	return rc.client.Close()
}

// GetClient 底层客户端，限流器直接使用
func (rc *RedisCache) GetClient() *redis.Client {
	return rc.client
}
