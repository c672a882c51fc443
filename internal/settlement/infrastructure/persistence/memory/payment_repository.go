// Package memory 进程内划转记录仓储
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/wyfcoding/banksettlement/internal/settlement/domain"
)

// PaymentRepository 基于 map 的仓储实现
type PaymentRepository struct {
	mu       sync.RWMutex
	payments map[int64]*domain.Payment
	now      func() time.Time
}

// NewPaymentRepository 创建内存仓储
func NewPaymentRepository() *PaymentRepository {
	return &PaymentRepository{payments: make(map[int64]*domain.Payment), now: time.Now}
}

// WithClock 替换时钟
func (r *PaymentRepository) WithClock(now func() time.Time) *PaymentRepository {
	r.now = now
	return r
}

func (r *PaymentRepository) Save(ctx context.Context, p *domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	r.payments[p.ID] = clone(p)
	return nil
}

func (r *PaymentRepository) Get(ctx context.Context, id int64) (*domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.payments[id]
	if !ok {
		return nil, domain.ErrPaymentNotFound
	}
	return clone(p), nil
}

func (r *PaymentRepository) ListByClient(ctx context.Context, clientID int64, limit, offset int) ([]*domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Payment
	for _, p := range r.payments {
		if p.ClientID == clientID {
			out = append(out, clone(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return page(out, limit, offset), nil
}

func (r *PaymentRepository) CompareAndSet(ctx context.Context, id int64, from, to domain.PaymentStatus, t domain.Transition) error {
	if !from.CanTransitionTo(to) {
		return domain.ErrInvalidTransition
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[id]
	if !ok {
		return domain.ErrPaymentNotFound
	}
	if p.Status != from {
		return domain.ErrStaleStatus
	}
	p.Status = to
	if t.Quote != nil {
		q := *t.Quote
		p.Quote = &q
	}
	if t.FailReason != "" {
		p.FailReason = t.FailReason
	}
	p.UpdatedAt = r.now()
	return nil
}

func (r *PaymentRepository) FindStale(ctx context.Context, status domain.PaymentStatus, before time.Time, limit int) ([]*domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Payment
	for _, p := range r.payments {
		if p.Status == status && p.UpdatedAt.Before(before) {
			out = append(out, clone(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return page(out, limit, 0), nil
}

func clone(p *domain.Payment) *domain.Payment {
	cp := *p
	if p.Quote != nil {
		q := *p.Quote
		cp.Quote = &q
	}
	return &cp
}

func page(in []*domain.Payment, limit, offset int) []*domain.Payment {
	if offset >= len(in) {
		return nil
	}
	in = in[offset:]
	if limit > 0 && limit < len(in) {
		in = in[:limit]
	}
	return in
}
