package mysql

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/banksettlement/internal/settlement/domain"
	"gorm.io/gorm"
)

// PaymentModel 划转记录表
type PaymentModel struct {
	ID                    int64               `gorm:"column:id;primaryKey;autoIncrement:false"`
	ClientID              int64               `gorm:"column:client_id;index;not null"`
	Kind                  string              `gorm:"column:kind;type:varchar(16);not null"`
	SenderAccountNumber   string              `gorm:"column:sender_account_number;type:varchar(32);index;not null"`
	SenderCurrency        string              `gorm:"column:sender_currency;type:char(3);not null"`
	SenderName            string              `gorm:"column:sender_name;type:varchar(128)"`
	ReceiverAccountNumber string              `gorm:"column:receiver_account_number;type:varchar(32);not null"`
	ReceiverName          string              `gorm:"column:receiver_name;type:varchar(128)"`
	ReceiverCurrency      string              `gorm:"column:receiver_currency;type:char(3)"`
	External              bool                `gorm:"column:external;not null;default:false"`
	Amount                decimal.Decimal     `gorm:"column:amount;type:decimal(20,2);not null"`
	PaymentCode           string              `gorm:"column:payment_code;type:varchar(8)"`
	Purpose               string              `gorm:"column:purpose;type:varchar(255)"`
	ReferenceNumber       string              `gorm:"column:reference_number;type:varchar(64)"`
	OutAmount             decimal.NullDecimal `gorm:"column:out_amount;type:decimal(20,2)"`
	OutCurrency           string              `gorm:"column:out_currency;type:char(3)"`
	ExchangeRate          decimal.NullDecimal `gorm:"column:exchange_rate;type:decimal(24,8)"`
	Fee                   decimal.NullDecimal `gorm:"column:fee;type:decimal(20,2)"`
	Status                string              `gorm:"column:status;type:varchar(32);not null;index:idx_status_updated,priority:1"`
	FailReason            string              `gorm:"column:fail_reason;type:varchar(512)"`
	CreatedAt             time.Time           `gorm:"column:created_at"`
	UpdatedAt             time.Time           `gorm:"column:updated_at;index:idx_status_updated,priority:2"`
}

// TableName 表名
func (PaymentModel) TableName() string {
	return "payments"
}

type paymentRepository struct {
	db *gorm.DB
}

// NewPaymentRepository 创建划转记录仓储
func NewPaymentRepository(db *gorm.DB) domain.PaymentRepository {
	return &paymentRepository{db: db}
}

func (r *paymentRepository) Save(ctx context.Context, p *domain.Payment) error {
	m := toModel(p)
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return err
	}
	p.CreatedAt, p.UpdatedAt = m.CreatedAt, m.UpdatedAt
	return nil
}

func (r *paymentRepository) Get(ctx context.Context, id int64) (*domain.Payment, error) {
	var m PaymentModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrPaymentNotFound
		}
		return nil, err
	}
	return toPayment(&m), nil
}

func (r *paymentRepository) ListByClient(ctx context.Context, clientID int64, limit, offset int) ([]*domain.Payment, error) {
	var models []*PaymentModel
	err := r.db.WithContext(ctx).
		Where("client_id = ?", clientID).
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return toPayments(models), nil
}

// CompareAndSet 以 status 作为条件的单条 UPDATE，未命中行时区分不存在与状态已变化
func (r *paymentRepository) CompareAndSet(ctx context.Context, id int64, from, to domain.PaymentStatus, t domain.Transition) error {
	if !from.CanTransitionTo(to) {
		return domain.ErrInvalidTransition
	}
	updates := map[string]any{
		"status":     string(to),
		"updated_at": time.Now(),
	}
	if t.Quote != nil {
		updates["out_amount"] = decimal.NewNullDecimal(t.Quote.OutAmount)
		updates["out_currency"] = t.Quote.OutCurrency
		updates["exchange_rate"] = decimal.NewNullDecimal(t.Quote.ExchangeRate)
		updates["fee"] = decimal.NewNullDecimal(t.Quote.Fee)
	}
	if t.FailReason != "" {
		updates["fail_reason"] = truncate(t.FailReason, 512)
	}

	res := r.db.WithContext(ctx).Model(&PaymentModel{}).
		Where("id = ? AND status = ?", id, string(from)).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}

	var count int64
	if err := r.db.WithContext(ctx).Model(&PaymentModel{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return domain.ErrPaymentNotFound
	}
	return domain.ErrStaleStatus
}

func (r *paymentRepository) FindStale(ctx context.Context, status domain.PaymentStatus, before time.Time, limit int) ([]*domain.Payment, error) {
	var models []*PaymentModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", string(status), before).
		Order("updated_at").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return toPayments(models), nil
}

func toModel(p *domain.Payment) *PaymentModel {
	m := &PaymentModel{
		ID:                    p.ID,
		ClientID:              p.ClientID,
		Kind:                  string(p.Kind),
		SenderAccountNumber:   p.SenderAccountNumber,
		SenderCurrency:        p.SenderCurrency,
		SenderName:            p.SenderName,
		ReceiverAccountNumber: p.ReceiverAccountNumber,
		ReceiverName:          p.ReceiverName,
		ReceiverCurrency:      p.ReceiverCurrency,
		External:              p.External,
		Amount:                p.Amount,
		PaymentCode:           p.PaymentCode,
		Purpose:               p.Purpose,
		ReferenceNumber:       p.ReferenceNumber,
		Status:                string(p.Status),
		FailReason:            p.FailReason,
	}
	if q := p.Quote; q != nil {
		m.OutAmount = decimal.NewNullDecimal(q.OutAmount)
		m.OutCurrency = q.OutCurrency
		m.ExchangeRate = decimal.NewNullDecimal(q.ExchangeRate)
		m.Fee = decimal.NewNullDecimal(q.Fee)
	}
	return m
}

func toPayment(m *PaymentModel) *domain.Payment {
	p := &domain.Payment{
		ID:                    m.ID,
		ClientID:              m.ClientID,
		Kind:                  domain.PaymentKind(m.Kind),
		SenderAccountNumber:   m.SenderAccountNumber,
		SenderCurrency:        m.SenderCurrency,
		SenderName:            m.SenderName,
		ReceiverAccountNumber: m.ReceiverAccountNumber,
		ReceiverName:          m.ReceiverName,
		ReceiverCurrency:      m.ReceiverCurrency,
		External:              m.External,
		Amount:                m.Amount,
		PaymentCode:           m.PaymentCode,
		Purpose:               m.Purpose,
		ReferenceNumber:       m.ReferenceNumber,
		Status:                domain.PaymentStatus(m.Status),
		FailReason:            m.FailReason,
		CreatedAt:             m.CreatedAt,
		UpdatedAt:             m.UpdatedAt,
	}
	if m.OutAmount.Valid {
		p.Quote = &domain.Quote{
			OutAmount:    m.OutAmount.Decimal,
			OutCurrency:  m.OutCurrency,
			ExchangeRate: m.ExchangeRate.Decimal,
			Fee:          m.Fee.Decimal,
		}
	}
	return p
}

func toPayments(models []*PaymentModel) []*domain.Payment {
	out := make([]*domain.Payment, len(models))
	for i, m := range models {
		out[i] = toPayment(m)
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
