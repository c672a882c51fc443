package partner

import (
	"context"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	clearing "github.com/wyfcoding/banksettlement/internal/clearing/domain"
)

// BreakerConfig 熔断参数
type BreakerConfig struct {
	// 连续失败达到该次数后打开
	Failures uint32
	// 打开状态持续时长，之后进入半开
	OpenTimeout time.Duration
}

// Breaker 为对手行调用加熔断。只有传输错误计为失败，业务上的 ready=false / success=false 不计。
// 熔断打开时直接返回 gobreaker.ErrOpenState，由调用方计为一次失败的尝试。
type Breaker struct {
	next clearing.Protocol
	cb   *gobreaker.CircuitBreaker
}

var _ clearing.Protocol = (*Breaker)(nil)

// NewBreaker 包装对手行客户端
func NewBreaker(name string, next clearing.Protocol, cfg BreakerConfig, logger *slog.Logger) *Breaker {
	failures := cfg.Failures
	if failures == 0 {
		failures = 5
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("partner circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return &Breaker{next: next, cb: cb}
}

// State 当前熔断状态
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

func (b *Breaker) Prepare(ctx context.Context, req *clearing.TransferRequest) (*clearing.NegotiationResult, error) {
	return call(b, func() (*clearing.NegotiationResult, error) { return b.next.Prepare(ctx, req) })
}

func (b *Breaker) Commit(ctx context.Context, req *clearing.TransferRequest) (*clearing.CommitResult, error) {
	return call(b, func() (*clearing.CommitResult, error) { return b.next.Commit(ctx, req) })
}

func (b *Breaker) Cancel(ctx context.Context, req *clearing.TransferRequest) (*clearing.CancelResult, error) {
	return call(b, func() (*clearing.CancelResult, error) { return b.next.Cancel(ctx, req) })
}

func call[R any](b *Breaker, fn func() (*R, error)) (*R, error) {
	res, err := b.cb.Execute(func() (any, error) { return fn() })
	if err != nil {
		return nil, err
	}
	return res.(*R), nil
}
