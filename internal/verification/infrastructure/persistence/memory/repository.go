// Package memory 进程内验证请求仓储
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/wyfcoding/banksettlement/internal/verification/domain"
)

// Repository 基于 map 的实现
type Repository struct {
	mu       sync.Mutex
	requests map[int64]*domain.Request
	now      func() time.Time
}

// NewRepository 创建内存仓储
func NewRepository() *Repository {
	return &Repository{requests: make(map[int64]*domain.Request), now: time.Now}
}

func (r *Repository) Create(ctx context.Context, req *domain.Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.requests {
		if existing.Status == domain.StatusPending && existing.TargetID == req.TargetID && existing.Kind == req.Kind {
			return domain.ErrAlreadyPending
		}
	}
	now := r.now()
	req.CreatedAt, req.UpdatedAt = now, now
	cp := *req
	r.requests[req.ID] = &cp
	return nil
}

func (r *Repository) Get(ctx context.Context, id int64) (*domain.Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok {
		return nil, domain.ErrRequestNotFound
	}
	cp := *req
	return &cp, nil
}

func (r *Repository) AddAttempt(ctx context.Context, id int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok {
		return 0, domain.ErrRequestNotFound
	}
	if req.Status != domain.StatusPending {
		return 0, domain.ErrNotPending
	}
	req.Attempts++
	req.UpdatedAt = r.now()
	return req.Attempts, nil
}

func (r *Repository) Resolve(ctx context.Context, id int64, to domain.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok {
		return domain.ErrRequestNotFound
	}
	if req.Status != domain.StatusPending {
		return domain.ErrNotPending
	}
	req.Status = to
	req.UpdatedAt = r.now()
	return nil
}

func (r *Repository) ListPending(ctx context.Context, userID int64) ([]*domain.Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Request
	for _, req := range r.requests {
		if req.UserID == userID && req.Status == domain.StatusPending {
			cp := *req
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *Repository) FindExpired(ctx context.Context, now time.Time, limit int) ([]*domain.Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Request
	for _, req := range r.requests {
		if req.ExpiredAt(now) {
			cp := *req
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
