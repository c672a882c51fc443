// Package application 二次验证流程：创建请求、客户审批、过期清扫，结果交给 Decider 处理
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wyfcoding/banksettlement/internal/verification/domain"
	"github.com/wyfcoding/banksettlement/pkg/idgen"
)

// Decider 接收验证结果
type Decider interface {
	Confirm(ctx context.Context, targetID, userID int64) error
	Reject(ctx context.Context, targetID, userID int64) error
}

// Config 验证参数。MaxAttempts 为审批交付失败的累计上限，达到后请求按拒绝处理。
type Config struct {
	TTL           time.Duration
	MaxAttempts   int
	SweepInterval time.Duration
	SweepBatch    int
}

// DefaultConfig 默认参数
func DefaultConfig() Config {
	return Config{TTL: 5 * time.Minute, MaxAttempts: 3, SweepInterval: 30 * time.Second, SweepBatch: 100}
}

// RequestDTO 验证请求
type RequestDTO struct {
	ID        string    `json:"id"`
	TargetID  string    `json:"targetId"`
	Kind      string    `json:"verificationType"`
	Status    string    `json:"status"`
	Attempts  int       `json:"attempts"`
	ExpiresAt time.Time `json:"expiresAt"`
	CreatedAt time.Time `json:"createdAt"`
}

// Service 二次验证服务
type Service struct {
	repo    domain.Repository
	decider Decider
	ids     idgen.Generator
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time
}

// NewService 创建验证服务，Decider 通过 SetDecider 注入
func NewService(repo domain.Repository, ids idgen.Generator, cfg Config, logger *slog.Logger) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultConfig().TTL
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = DefaultConfig().SweepBatch
	}
	return &Service{repo: repo, ids: ids, cfg: cfg, logger: logger, now: time.Now}
}

// SetDecider 注入结果处理方。付款受理依赖本服务，结果处理又回到付款受理，只能在构造后装配。
func (s *Service) SetDecider(d Decider) {
	s.decider = d
}

// Create 为目标创建待处理请求
func (s *Service) Create(ctx context.Context, userID, targetID int64, kind string) (*RequestDTO, error) {
	if userID <= 0 || targetID <= 0 || kind == "" {
		return nil, fmt.Errorf("invalid verification request: user=%d target=%d kind=%q", userID, targetID, kind)
	}
	now := s.now()
	req := &domain.Request{
		ID:        s.ids.NextID(),
		UserID:    userID,
		TargetID:  targetID,
		Kind:      kind,
		Status:    domain.StatusPending,
		ExpiresAt: now.Add(s.cfg.TTL),
	}
	if err := s.repo.Create(ctx, req); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "verification requested", "request_id", req.ID, "target_id", targetID, "kind", kind)
	return toDTO(req), nil
}

// Approve 客户确认。先把结果交给 Decider，成功后才落 APPROVED；
// 交付失败时请求保持待处理，可重试，累计达到上限后按拒绝处理。
func (s *Service) Approve(ctx context.Context, id, userID int64) error {
	req, err := s.owned(ctx, id, userID)
	if err != nil {
		return err
	}
	if req.ExpiredAt(s.now()) {
		if err := s.resolve(ctx, req, domain.StatusExpired); err != nil {
			return err
		}
		return domain.ErrExpired
	}
	attempts, err := s.repo.AddAttempt(ctx, id)
	if err != nil {
		return err
	}

	if s.decider != nil {
		if err := s.decider.Confirm(ctx, req.TargetID, req.UserID); err != nil {
			s.logger.WarnContext(ctx, "verification approval not delivered", "request_id", id,
				"target_id", req.TargetID, "attempt", attempts, "error", err)
			if attempts < s.cfg.MaxAttempts {
				return fmt.Errorf("confirm target %d: %w", req.TargetID, err)
			}
			if rerr := s.resolve(ctx, req, domain.StatusDenied); rerr != nil {
				s.logger.ErrorContext(ctx, "failed to deny exhausted verification", "request_id", id, "error", rerr)
			}
			return domain.ErrTooManyAttempts
		}
	}
	if err := s.repo.Resolve(ctx, id, domain.StatusApproved); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "verification approved", "request_id", id, "target_id", req.TargetID, "attempt", attempts)
	return nil
}

// Deny 客户拒绝
func (s *Service) Deny(ctx context.Context, id, userID int64) error {
	req, err := s.owned(ctx, id, userID)
	if err != nil {
		return err
	}
	if _, err := s.repo.AddAttempt(ctx, id); err != nil {
		return err
	}
	return s.resolve(ctx, req, domain.StatusDenied)
}

// ListPending 列出客户待处理的请求，已过期但尚未清扫的不返回
func (s *Service) ListPending(ctx context.Context, userID int64) ([]*RequestDTO, error) {
	reqs, err := s.repo.ListPending(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]*RequestDTO, 0, len(reqs))
	for _, r := range reqs {
		if !r.ExpiredAt(now) {
			out = append(out, toDTO(r))
		}
	}
	return out, nil
}

// ExpireStale 将过期请求标记为 EXPIRED 并通知拒绝，返回处理条数
func (s *Service) ExpireStale(ctx context.Context) (int, error) {
	reqs, err := s.repo.FindExpired(ctx, s.now(), s.cfg.SweepBatch)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, r := range reqs {
		err := s.resolve(ctx, r, domain.StatusExpired)
		switch {
		case err == nil:
			n++
		case errors.Is(err, domain.ErrNotPending):
		default:
			s.logger.ErrorContext(ctx, "failed to expire verification", "request_id", r.ID, "error", err)
		}
	}
	return n, nil
}

// RunSweeper 周期执行 ExpireStale 直到 ctx 结束
func (s *Service) RunSweeper(ctx context.Context) error {
	interval := s.cfg.SweepInterval
	if interval <= 0 {
		interval = DefaultConfig().SweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := s.ExpireStale(ctx)
			if err != nil {
				s.logger.ErrorContext(ctx, "verification sweep failed", "error", err)
			} else if n > 0 {
				s.logger.InfoContext(ctx, "expired verifications", "count", n)
			}
		}
	}
}

func (s *Service) owned(ctx context.Context, id, userID int64) (*domain.Request, error) {
	req, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.UserID != userID {
		return nil, domain.ErrForbidden
	}
	if req.Status != domain.StatusPending {
		return nil, domain.ErrNotPending
	}
	return req, nil
}

// resolve 以拒绝、过期结束请求：先落状态再通知，同一请求只会通知一次
func (s *Service) resolve(ctx context.Context, req *domain.Request, to domain.Status) error {
	if err := s.repo.Resolve(ctx, req.ID, to); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "verification resolved", "request_id", req.ID, "target_id", req.TargetID, "status", to)
	if s.decider == nil {
		return nil
	}
	if err := s.decider.Reject(ctx, req.TargetID, req.UserID); err != nil {
		return fmt.Errorf("notify %s for target %d: %w", to, req.TargetID, err)
	}
	return nil
}

func toDTO(r *domain.Request) *RequestDTO {
	return &RequestDTO{
		ID:        fmt.Sprint(r.ID),
		TargetID:  fmt.Sprint(r.TargetID),
		Kind:      r.Kind,
		Status:    string(r.Status),
		Attempts:  r.Attempts,
		ExpiresAt: r.ExpiresAt,
		CreatedAt: r.CreatedAt,
	}
}
