// Package retry 提供无状态的有限次重试，不依赖任何单例或进程级状态
package retry

import (
	"context"
	"time"
)

// Result 重试结论
type Result int

const (
	// Succeeded 某次尝试成功
	Succeeded Result = iota + 1
	// Exhausted 全部尝试均失败
	Exhausted
	// Aborted 等待下次尝试时 context 结束
	Aborted
)

func (r Result) String() string {
	switch r {
	case Succeeded:
		return "SUCCEEDED"
	case Exhausted:
		return "EXHAUSTED"
	case Aborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// Policy 重试策略
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
	// 大于 1 时按倍数退避，MaxDelay 为上限
	Multiplier float64
	MaxDelay   time.Duration
}

// Outcome 一次重试过程的结果
type Outcome struct {
	Result   Result
	Attempts int
	// 最后一次失败的错误，尝试返回 false 且无错误时为 nil
	LastErr error
}

// Op 单次尝试。返回 true 表示成功；返回 false 或错误都视为一次失败的尝试。
type Op func(ctx context.Context, attempt int) (bool, error)

// Do 依次执行 op，失败之间等待 Delay，不持有任何锁
func Do(ctx context.Context, p Policy, op Op) Outcome {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	delay := p.Delay

	var out Outcome
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			out.Result = Aborted
			return out
		}
		out.Attempts = attempt
		ok, err := op(ctx, attempt)
		if err == nil && ok {
			out.Result = Succeeded
			out.LastErr = nil
			return out
		}
		out.LastErr = err

		if attempt == attempts {
			break
		}
		if !sleep(ctx, delay) {
			out.Result = Aborted
			return out
		}
		delay = next(p, delay)
	}
	out.Result = Exhausted
	return out
}

func next(p Policy, d time.Duration) time.Duration {
	if p.Multiplier <= 1 {
		return d
	}
	d = time.Duration(float64(d) * p.Multiplier)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
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
