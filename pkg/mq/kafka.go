// Package mq 提供 Kafka producer/consumer 通用实现，消费端在处理完成后提交位点（至少一次投递）
package mq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// Config Kafka 配置
type Config struct {
	Brokers        []string
	GroupID        string
	SessionTimeout int
	MaxRetries     int
	// 毫秒
	RetryBackoff int
}

// Producer Kafka 生产者
type Producer struct {
	writer *kafka.Writer
	log    *slog.Logger
}

// NewProducer 创建 Kafka 生产者
func NewProducer(cfg Config, log *slog.Logger) *Producer {
	backoff := time.Duration(cfg.RetryBackoff) * time.Millisecond
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            cfg.MaxRetries,
		WriteBackoffMin:        backoff,
		WriteBackoffMax:        backoff * 10,
	}
	log.Info("kafka producer created", "brokers", cfg.Brokers)
	return &Producer{writer: writer, log: log}
}

// Send 发送单条消息
func (p *Producer) Send(ctx context.Context, topic, key string, value []byte) error {
	err := p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
		Time:  time.Now(),
	})
	if err != nil {
		return fmt.Errorf("kafka write to %s: %w", topic, err)
	}
	p.log.DebugContext(ctx, "kafka message sent", "topic", topic, "key", key)
	return nil
}

// Close 关闭生产者
func (p *Producer) Close() error {
	return p.writer.Close()
}

// Handler 消息处理函数
type Handler func(ctx context.Context, msg kafka.Message) error

// Consumer Kafka 消费者
type Consumer struct {
	reader *kafka.Reader
	topic  string
	delay  time.Duration
	log    *slog.Logger
}

// ConsumerOption 消费者选项
type ConsumerOption func(*Consumer)

// WithDelay 消息在写入时间 + d 之后才交给处理函数
func WithDelay(d time.Duration) ConsumerOption {
	return func(c *Consumer) { c.delay = d }
}

// NewConsumer 创建 Kafka 消费者
func NewConsumer(cfg Config, topic string, log *slog.Logger, opts ...ConsumerOption) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          topic,
		GroupID:        cfg.GroupID,
		SessionTimeout: time.Duration(cfg.SessionTimeout) * time.Second,
		StartOffset:    kafka.FirstOffset,
		MaxBytes:       10e6,
	})
	c := &Consumer{reader: reader, topic: topic, log: log}
	for _, opt := range opts {
		opt(c)
	}
	log.Info("kafka consumer created", "topic", topic, "group_id", cfg.GroupID, "delay", c.delay)
	return c
}

// Run 循环拉取消息直到 ctx 结束。处理函数返回后无论成败都提交位点，
// 错误由处理函数自己记录，重试由业务状态机负责。
func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				return nil
			}
			c.log.ErrorContext(ctx, "kafka fetch failed", "topic", c.topic, "error", err)
			return err
		}

		if !c.wait(ctx, msg.Time) {
			// 未提交，重启后会重新投递
			return nil
		}

		_ = handle(ctx, msg)
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.log.ErrorContext(ctx, "kafka commit failed", "topic", msg.Topic, "offset", msg.Offset, "error", err)
		}
	}
}

func (c *Consumer) wait(ctx context.Context, written time.Time) bool {
	if c.delay <= 0 {
		return true
	}
	d := time.Until(written.Add(c.delay))
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Close 关闭消费者
func (c *Consumer) Close() error {
	return c.reader.Close()
}
