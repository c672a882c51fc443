package mysql

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/banksettlement/internal/treasury/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ExchangeRateModel 汇率表
type ExchangeRateModel struct {
	gorm.Model
	FromCurrency string          `gorm:"column:from_currency;type:char(3);not null;uniqueIndex:uk_pair,priority:1"`
	ToCurrency   string          `gorm:"column:to_currency;type:char(3);not null;uniqueIndex:uk_pair,priority:2"`
	Rate         decimal.Decimal `gorm:"column:rate;type:decimal(24,8);not null"`
	EffectiveAt  time.Time       `gorm:"column:effective_at;not null"`
	ExpiresAt    *time.Time      `gorm:"column:expires_at"`
	Source       string          `gorm:"column:source;type:varchar(32)"`
}

// TableName 表名
func (ExchangeRateModel) TableName() string {
	return "exchange_rates"
}

type rateRepository struct {
	db *gorm.DB
}

// NewRateRepository 创建汇率仓储
func NewRateRepository(db *gorm.DB) domain.RateRepository {
	return &rateRepository{db: db}
}

func (r *rateRepository) Get(ctx context.Context, from, to string) (*domain.ExchangeRate, error) {
	var m ExchangeRateModel
	err := r.db.WithContext(ctx).Where("from_currency = ? AND to_currency = ?", from, to).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrRateNotFound
		}
		return nil, err
	}
	return toRate(&m), nil
}

func (r *rateRepository) Save(ctx context.Context, rate *domain.ExchangeRate) error {
	m := &ExchangeRateModel{
		FromCurrency: rate.FromCurrency,
		ToCurrency:   rate.ToCurrency,
		Rate:         rate.Rate,
		EffectiveAt:  rate.EffectiveAt,
		ExpiresAt:    rate.ExpiresAt,
		Source:       rate.Source,
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "from_currency"}, {Name: "to_currency"}},
		DoUpdates: clause.AssignmentColumns([]string{"rate", "effective_at", "expires_at", "source", "updated_at"}),
	}).Create(m).Error
}

func (r *rateRepository) List(ctx context.Context) ([]*domain.ExchangeRate, error) {
	var models []*ExchangeRateModel
	if err := r.db.WithContext(ctx).Order("from_currency, to_currency").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.ExchangeRate, len(models))
	for i, m := range models {
		out[i] = toRate(m)
	}
	return out, nil
}

func toRate(m *ExchangeRateModel) *domain.ExchangeRate {
	return &domain.ExchangeRate{
		FromCurrency: m.FromCurrency,
		ToCurrency:   m.ToCurrency,
		Rate:         m.Rate,
		EffectiveAt:  m.EffectiveAt,
		ExpiresAt:    m.ExpiresAt,
		Source:       m.Source,
	}
}
