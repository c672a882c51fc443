// Package barrier 跨行提交与撤销的分支屏障：SQL 实现基于 dtm 子事务屏障，内存实现用于开发与测试
package barrier

import (
	"context"
	"sync"

	"github.com/wyfcoding/banksettlement/internal/clearing/domain"
)

// MemoryGuard 进程内的分支屏障，语义与 dtm 屏障一致：
// 同一阶段只执行一次；撤销先于提交到达时为空补偿，并阻止随后的提交。
type MemoryGuard struct {
	mu     sync.Mutex
	ledger domain.GuardedLedger
	done   map[string]map[domain.Phase]bool
}

// NewMemoryGuard 创建内存屏障，fn 中使用 ledger 变更余额
func NewMemoryGuard(ledger domain.GuardedLedger) *MemoryGuard {
	return &MemoryGuard{ledger: ledger, done: make(map[string]map[domain.Phase]bool)}
}

func (g *MemoryGuard) Run(ctx context.Context, transactionID string, phase domain.Phase, fn func(ctx context.Context, ledger domain.GuardedLedger) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	phases, ok := g.done[transactionID]
	if !ok {
		phases = make(map[domain.Phase]bool, 2)
		g.done[transactionID] = phases
	}
	if phases[phase] {
		return domain.ErrDuplicate
	}
	phases[phase] = true

	if phase == domain.PhaseCancel && !phases[domain.PhaseCommit] {
		// 空补偿：占住提交分支
		phases[domain.PhaseCommit] = true
		return domain.ErrDuplicate
	}

	if err := fn(ctx, g.ledger); err != nil {
		delete(phases, phase)
		return err
	}
	return nil
}
