// Package kafka 基于 Kafka 的持久化交易队列
package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/wyfcoding/banksettlement/internal/settlement/domain"
)

// Publisher 消息发送端，由 mq.Producer 实现
type Publisher interface {
	Send(ctx context.Context, topic, key string, value []byte) error
}

// Queue 将命令封装为信封写入主题；延迟消息写入延迟主题，由带延迟的消费者处理
type Queue struct {
	pub        Publisher
	topic      string
	delayTopic string
	logger     *slog.Logger
	now        func() time.Time
}

var _ domain.TransactionQueue = (*Queue)(nil)

// NewQueue 创建 Kafka 交易队列
func NewQueue(pub Publisher, topic, delayTopic string, logger *slog.Logger) *Queue {
	return &Queue{pub: pub, topic: topic, delayTopic: delayTopic, logger: logger, now: time.Now}
}

func (q *Queue) Enqueue(ctx context.Context, cmd domain.Command, userID int64) {
	q.publish(ctx, q.topic, cmd, userID)
}

func (q *Queue) EnqueueDelayed(ctx context.Context, cmd domain.Command, userID int64) {
	q.publish(ctx, q.delayTopic, cmd, userID)
}

// 失败只记日志：待确认记录保持原状，待重试记录由恢复任务重新投递
func (q *Queue) publish(ctx context.Context, topic string, cmd domain.Command, userID int64) {
	env, err := domain.NewEnvelope(cmd, userID, q.now())
	if err != nil {
		q.logger.ErrorContext(ctx, "failed to build envelope", "kind", cmd.Kind(), "target_id", cmd.TargetID(), "error", err)
		return
	}
	raw, err := json.Marshal(env)
	if err != nil {
		q.logger.ErrorContext(ctx, "failed to marshal envelope", "kind", cmd.Kind(), "target_id", cmd.TargetID(), "error", err)
		return
	}
	key := strconv.FormatInt(cmd.TargetID(), 10)
	if err := q.pub.Send(context.WithoutCancel(ctx), topic, key, raw); err != nil {
		q.logger.ErrorContext(ctx, "failed to enqueue transaction", "topic", topic, "kind", cmd.Kind(), "target_id", cmd.TargetID(), "error", err)
		return
	}
	q.logger.InfoContext(ctx, "transaction enqueued", "topic", topic, "kind", cmd.Kind(), "target_id", cmd.TargetID())
}
