// Package memory 进程内交易队列，用于开发与测试：带缓冲的通道加固定数量的 worker
package memory

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/wyfcoding/banksettlement/internal/settlement/domain"
	"golang.org/x/sync/errgroup"
)

// Handler 处理一条序列化后的信封
type Handler func(ctx context.Context, raw []byte) error

// Queue 进程内队列。消息以与 Kafka 相同的 JSON 信封传递。
type Queue struct {
	ch     chan []byte
	delay  time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	timers   map[*time.Timer]struct{}
	closed   bool
	done     chan struct{}
	inflight sync.WaitGroup
}

var _ domain.TransactionQueue = (*Queue)(nil)

// NewQueue 创建内存队列，delay 为延迟消息的投递延迟
func NewQueue(buffer int, delay time.Duration, logger *slog.Logger) *Queue {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Queue{
		ch:     make(chan []byte, buffer),
		delay:  delay,
		logger: logger,
		now:    time.Now,
		timers: make(map[*time.Timer]struct{}),
		done:   make(chan struct{}),
	}
}

func (q *Queue) Enqueue(ctx context.Context, cmd domain.Command, userID int64) {
	raw, ok := q.encode(ctx, cmd, userID)
	if !ok {
		return
	}
	q.push(ctx, raw, cmd)
}

func (q *Queue) EnqueueDelayed(ctx context.Context, cmd domain.Command, userID int64) {
	raw, ok := q.encode(ctx, cmd, userID)
	if !ok {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.logger.WarnContext(ctx, "queue closed, delayed message dropped", "kind", cmd.Kind(), "target_id", cmd.TargetID())
		return
	}
	var timer *time.Timer
	timer = time.AfterFunc(q.delay, func() {
		q.mu.Lock()
		delete(q.timers, timer)
		if q.closed {
			q.mu.Unlock()
			return
		}
		q.inflight.Add(1)
		q.mu.Unlock()
		defer q.inflight.Done()
		q.push(context.Background(), raw, cmd)
	})
	q.timers[timer] = struct{}{}
}

// Run 启动 workers 个消费者直到 ctx 结束。返回后队列关闭，
// 未投递的延迟消息与之后的入队都被丢弃。处理函数自己记录错误。
func (q *Queue) Run(ctx context.Context, workers int, handle Handler) error {
	if workers <= 0 {
		workers = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	for range workers {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case raw := <-q.ch:
					_ = handle(ctx, raw)
				}
			}
		})
	}
	err := g.Wait()
	q.stopTimers()
	q.inflight.Wait()
	return err
}

// Pending 队列中等待处理的消息数
func (q *Queue) Pending() int {
	return len(q.ch)
}

func (q *Queue) encode(ctx context.Context, cmd domain.Command, userID int64) ([]byte, bool) {
	env, err := domain.NewEnvelope(cmd, userID, q.now())
	if err != nil {
		q.logger.ErrorContext(ctx, "failed to build envelope", "kind", cmd.Kind(), "target_id", cmd.TargetID(), "error", err)
		return nil, false
	}
	raw, err := json.Marshal(env)
	if err != nil {
		q.logger.ErrorContext(ctx, "failed to marshal envelope", "kind", cmd.Kind(), "target_id", cmd.TargetID(), "error", err)
		return nil, false
	}
	return raw, true
}

func (q *Queue) push(ctx context.Context, raw []byte, cmd domain.Command) {
	select {
	case <-q.done:
		q.logger.WarnContext(ctx, "queue closed, message dropped", "kind", cmd.Kind(), "target_id", cmd.TargetID())
		return
	default:
	}
	select {
	case q.ch <- raw:
	case <-q.done:
		q.logger.WarnContext(ctx, "queue closed, message dropped", "kind", cmd.Kind(), "target_id", cmd.TargetID())
	case <-ctx.Done():
		q.logger.WarnContext(ctx, "enqueue aborted", "kind", cmd.Kind(), "target_id", cmd.TargetID(), "error", ctx.Err())
	}
}

func (q *Queue) stopTimers() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
	for t := range q.timers {
		t.Stop()
	}
	clear(q.timers)
}
