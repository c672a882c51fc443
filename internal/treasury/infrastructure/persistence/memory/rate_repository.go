// Package memory 进程内汇率仓储
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/wyfcoding/banksettlement/internal/treasury/domain"
)

// RateRepository 基于 map 的汇率仓储
type RateRepository struct {
	mu    sync.RWMutex
	rates map[[2]string]domain.ExchangeRate
}

// NewRateRepository 创建内存汇率仓储
func NewRateRepository() *RateRepository {
	return &RateRepository{rates: make(map[[2]string]domain.ExchangeRate)}
}

func (r *RateRepository) Get(ctx context.Context, from, to string) (*domain.ExchangeRate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rate, ok := r.rates[[2]string{from, to}]
	if !ok {
		return nil, domain.ErrRateNotFound
	}
	return &rate, nil
}

func (r *RateRepository) Save(ctx context.Context, rate *domain.ExchangeRate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rates[[2]string{rate.FromCurrency, rate.ToCurrency}] = *rate
	return nil
}

func (r *RateRepository) List(ctx context.Context) ([]*domain.ExchangeRate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.ExchangeRate, 0, len(r.rates))
	for _, rate := range r.rates {
		cp := rate
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FromCurrency != out[j].FromCurrency {
			return out[i].FromCurrency < out[j].FromCurrency
		}
		return out[i].ToCurrency < out[j].ToCurrency
	})
	return out, nil
}
