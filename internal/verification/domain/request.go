// Package domain 二次验证领域模型：每笔付款或转账在结算前须由客户本人确认
package domain

import (
	"context"
	"errors"
	"time"
)

var (
	ErrRequestNotFound = errors.New("verification request not found")
	ErrAlreadyPending  = errors.New("a pending verification already exists for this target")
	ErrNotPending      = errors.New("verification request is no longer pending")
	ErrExpired         = errors.New("verification request expired")
	ErrForbidden       = errors.New("verification request belongs to another user")
	ErrTooManyAttempts = errors.New("verification attempts exhausted")
)

// Status 验证请求状态
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusDenied   Status = "DENIED"
	StatusExpired  Status = "EXPIRED"
)

// Request 二次验证请求，同一目标同一时刻至多一条待处理请求。Attempts 为客户审批或拒绝的次数。
type Request struct {
	ID        int64
	UserID    int64
	TargetID  int64
	Kind      string
	Status    Status
	Attempts  int
	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ExpiredAt 在 now 时刻是否已过期
func (r *Request) ExpiredAt(now time.Time) bool {
	return r.Status == StatusPending && !now.Before(r.ExpiresAt)
}

// Repository 验证请求仓储
type Repository interface {
	// Create 同一 (TargetID, Kind) 已有待处理请求时返回 ErrAlreadyPending
	Create(ctx context.Context, r *Request) error
	Get(ctx context.Context, id int64) (*Request, error)
	// AddAttempt 仅对 PENDING 请求累加尝试次数并返回新值，否则返回 ErrNotPending
	AddAttempt(ctx context.Context, id int64) (int, error)
	// Resolve 仅当请求仍为 PENDING 时迁移，否则返回 ErrNotPending
	Resolve(ctx context.Context, id int64, to Status) error
	ListPending(ctx context.Context, userID int64) ([]*Request, error)
	FindExpired(ctx context.Context, now time.Time, limit int) ([]*Request, error)
}
