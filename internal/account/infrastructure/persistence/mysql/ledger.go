// Package mysql 分类账的 GORM 实现，所有余额变更都是单条条件 UPDATE
package mysql

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/banksettlement/internal/account/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ledger struct {
	db *gorm.DB
}

// NewLedger 创建分类账仓储
func NewLedger(db *gorm.DB) domain.Ledger {
	return &ledger{db: db}
}

func (r *ledger) FindByNumber(ctx context.Context, number string) (*domain.Account, error) {
	var m AccountModel
	if err := r.db.WithContext(ctx).Where("account_number = ?", number).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, err
	}
	return toAccount(&m), nil
}

func (r *ledger) FindBankAccount(ctx context.Context, currency string) (*domain.Account, error) {
	var m AccountModel
	err := r.db.WithContext(ctx).
		Where("kind = ? AND currency = ?", string(domain.AccountKindBank), currency).
		Order("id").
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, err
	}
	return toAccount(&m), nil
}

func (r *ledger) ListByClient(ctx context.Context, clientID int64) ([]*domain.Account, error) {
	var models []*AccountModel
	err := r.db.WithContext(ctx).
		Where("client_id = ? AND kind = ?", clientID, string(domain.AccountKindClient)).
		Order("account_number").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Account, len(models))
	for i, m := range models {
		out[i] = toAccount(m)
	}
	return out, nil
}

func (r *ledger) Save(ctx context.Context, account *domain.Account) error {
	m := toAccountModel(account)
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "account_number"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"client_id", "owner_name", "currency", "balance", "available_balance", "status", "kind", "updated_at",
		}),
	}).Create(m).Error
}

func (r *ledger) Debit(ctx context.Context, number string, amount decimal.Decimal) error {
	return r.guarded(ctx, number, amount, "available_balance >= ?", map[string]any{
		"balance":           gorm.Expr("balance - ?", amount),
		"available_balance": gorm.Expr("available_balance - ?", amount),
	})
}

func (r *ledger) Credit(ctx context.Context, number string, amount decimal.Decimal) error {
	return r.guarded(ctx, number, amount, "", map[string]any{
		"balance":           gorm.Expr("balance + ?", amount),
		"available_balance": gorm.Expr("available_balance + ?", amount),
	})
}

func (r *ledger) Reserve(ctx context.Context, number string, amount decimal.Decimal) error {
	return r.guarded(ctx, number, amount, "available_balance >= ?", map[string]any{
		"available_balance": gorm.Expr("available_balance - ?", amount),
	})
}

func (r *ledger) Release(ctx context.Context, number string, amount decimal.Decimal) error {
	return r.guarded(ctx, number, amount, "", map[string]any{
		"available_balance": gorm.Expr("available_balance + ?", amount),
	})
}

func (r *ledger) CaptureReserved(ctx context.Context, number string, amount decimal.Decimal) error {
	return r.guarded(ctx, number, amount, "", map[string]any{
		"balance": gorm.Expr("balance - ?", amount),
	})
}

func (r *ledger) ReverseCredit(ctx context.Context, number string, amount decimal.Decimal) (bool, error) {
	err := r.guarded(ctx, number, amount, "balance >= ?", map[string]any{
		"balance":           gorm.Expr("balance - ?", amount),
		"available_balance": gorm.Expr("available_balance - ?", amount),
	})
	if errors.Is(err, domain.ErrInsufficientFunds) {
		return false, nil
	}
	return err == nil, err
}

// guarded 执行单条 UPDATE；cond 非空时以 amount 作为条件参数。
// 未命中行时再查一次以区分账户不存在与余额不足。
func (r *ledger) guarded(ctx context.Context, number string, amount decimal.Decimal, cond string, updates map[string]any) error {
	if !amount.IsPositive() {
		return domain.ErrInvalidAmount
	}
	q := r.db.WithContext(ctx).Model(&AccountModel{}).Where("account_number = ?", number)
	if cond != "" {
		q = q.Where(cond, amount)
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var count int64
	if err := r.db.WithContext(ctx).Model(&AccountModel{}).Where("account_number = ?", number).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return domain.ErrAccountNotFound
	}
	return domain.ErrInsufficientFunds
}
