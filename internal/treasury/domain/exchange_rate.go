// Package domain 汇率领域模型
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrRateNotFound 直接汇率与经本币桥接的汇率都不存在
	ErrRateNotFound = errors.New("exchange rate not found")
	// ErrInvalidRate 汇率必须为正
	ErrInvalidRate = errors.New("exchange rate must be positive")
)

// ExchangeRate 有向汇率：1 单位 From 兑换 Rate 单位 To
type ExchangeRate struct {
	FromCurrency string
	ToCurrency   string
	Rate         decimal.Decimal
	EffectiveAt  time.Time
	// 为空表示长期有效
	ExpiresAt *time.Time
	Source    string
}

// ValidAt 汇率在 t 时刻是否生效
func (r *ExchangeRate) ValidAt(t time.Time) bool {
	if t.Before(r.EffectiveAt) {
		return false
	}
	return r.ExpiresAt == nil || t.Before(*r.ExpiresAt)
}

// Inverse 反向汇率，保留 8 位小数
func (r *ExchangeRate) Inverse() *ExchangeRate {
	return &ExchangeRate{
		FromCurrency: r.ToCurrency,
		ToCurrency:   r.FromCurrency,
		Rate:         decimal.NewFromInt(1).DivRound(r.Rate, 8),
		EffectiveAt:  r.EffectiveAt,
		ExpiresAt:    r.ExpiresAt,
		Source:       r.Source,
	}
}

// RateRepository 汇率仓储，每个货币对只保留当前一条
type RateRepository interface {
	// Get 不存在返回 ErrRateNotFound
	Get(ctx context.Context, from, to string) (*ExchangeRate, error)
	Save(ctx context.Context, rate *ExchangeRate) error
	List(ctx context.Context) ([]*ExchangeRate, error)
}
