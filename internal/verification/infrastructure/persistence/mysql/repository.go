// Package mysql 基于 GORM 的验证请求仓储，MySQL 与 PostgreSQL 通用
package mysql

import (
	"context"
	"errors"
	"time"

	"github.com/wyfcoding/banksettlement/internal/verification/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RequestModel 二次验证请求表
type RequestModel struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement:false"`
	UserID    int64     `gorm:"column:user_id;index;not null"`
	TargetID  int64     `gorm:"column:target_id;index:idx_target_kind,priority:1;not null"`
	Kind      string    `gorm:"column:kind;type:varchar(16);index:idx_target_kind,priority:2;not null"`
	Status    string    `gorm:"column:status;type:varchar(16);index:idx_status_expires,priority:1;not null"`
	Attempts  int       `gorm:"column:attempts;not null;default:0"`
	ExpiresAt time.Time `gorm:"column:expires_at;index:idx_status_expires,priority:2;not null"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

// TableName 表名
func (RequestModel) TableName() string {
	return "verification_requests"
}

type repository struct {
	db *gorm.DB
}

// NewRepository 创建验证请求仓储
func NewRepository(db *gorm.DB) domain.Repository {
	return &repository{db: db}
}

// Create 检查与插入放在同一事务里，并锁住同目标的待处理行
func (r *repository) Create(ctx context.Context, req *domain.Request) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		err := tx.Model(&RequestModel{}).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("target_id = ? AND kind = ? AND status = ?", req.TargetID, req.Kind, string(domain.StatusPending)).
			Count(&n).Error
		if err != nil {
			return err
		}
		if n > 0 {
			return domain.ErrAlreadyPending
		}
		m := toModel(req)
		if err := tx.Create(m).Error; err != nil {
			return err
		}
		req.CreatedAt, req.UpdatedAt = m.CreatedAt, m.UpdatedAt
		return nil
	})
}

func (r *repository) Get(ctx context.Context, id int64) (*domain.Request, error) {
	var m RequestModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrRequestNotFound
		}
		return nil, err
	}
	return toRequest(&m), nil
}

// AddAttempt 条件累加后回读，两步之间其他请求的累加只会让回读值更大
func (r *repository) AddAttempt(ctx context.Context, id int64) (int, error) {
	res := r.db.WithContext(ctx).Model(&RequestModel{}).
		Where("id = ? AND status = ?", id, string(domain.StatusPending)).
		Updates(map[string]any{"attempts": gorm.Expr("attempts + ?", 1), "updated_at": time.Now()})
	if res.Error != nil {
		return 0, res.Error
	}
	req, err := r.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	if res.RowsAffected == 0 {
		return 0, domain.ErrNotPending
	}
	return req.Attempts, nil
}

func (r *repository) Resolve(ctx context.Context, id int64, to domain.Status) error {
	res := r.db.WithContext(ctx).Model(&RequestModel{}).
		Where("id = ? AND status = ?", id, string(domain.StatusPending)).
		Updates(map[string]any{"status": string(to), "updated_at": time.Now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}
	var n int64
	if err := r.db.WithContext(ctx).Model(&RequestModel{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrRequestNotFound
	}
	return domain.ErrNotPending
}

func (r *repository) ListPending(ctx context.Context, userID int64) ([]*domain.Request, error) {
	var models []*RequestModel
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, string(domain.StatusPending)).
		Order("id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return toRequests(models), nil
}

func (r *repository) FindExpired(ctx context.Context, now time.Time, limit int) ([]*domain.Request, error) {
	var models []*RequestModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at <= ?", string(domain.StatusPending), now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return toRequests(models), nil
}

func toModel(r *domain.Request) *RequestModel {
	return &RequestModel{
		ID:        r.ID,
		UserID:    r.UserID,
		TargetID:  r.TargetID,
		Kind:      r.Kind,
		Status:    string(r.Status),
		Attempts:  r.Attempts,
		ExpiresAt: r.ExpiresAt,
	}
}

func toRequest(m *RequestModel) *domain.Request {
	return &domain.Request{
		ID:        m.ID,
		UserID:    m.UserID,
		TargetID:  m.TargetID,
		Kind:      m.Kind,
		Status:    domain.Status(m.Status),
		Attempts:  m.Attempts,
		ExpiresAt: m.ExpiresAt,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func toRequests(models []*RequestModel) []*domain.Request {
	out := make([]*domain.Request, len(models))
	for i, m := range models {
		out[i] = toRequest(m)
	}
	return out
}
