package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wyfcoding/banksettlement/internal/treasury/domain"
	"github.com/wyfcoding/banksettlement/pkg/cache"
)

// JSONCache 汇率缓存所需的最小能力，由 cache.RedisCache 实现
type JSONCache interface {
	GetJSON(ctx context.Context, key string, dest any) error
	SetJSON(ctx context.Context, key string, value any, expiration time.Duration) error
}

type rateCache struct {
	cache JSONCache
	ttl   time.Duration
}

// NewRateCache 创建汇率缓存仓储，只支持按货币对读写
func NewRateCache(c JSONCache, ttl time.Duration) domain.RateRepository {
	return &rateCache{cache: c, ttl: ttl}
}

func rateKey(from, to string) string {
	return fmt.Sprintf("fx:rate:%s:%s", from, to)
}

func (r *rateCache) Get(ctx context.Context, from, to string) (*domain.ExchangeRate, error) {
	var rate domain.ExchangeRate
	if err := r.cache.GetJSON(ctx, rateKey(from, to), &rate); err != nil {
		if errors.Is(err, cache.ErrMiss) {
			return nil, domain.ErrRateNotFound
		}
		return nil, err
	}
	return &rate, nil
}

func (r *rateCache) Save(ctx context.Context, rate *domain.ExchangeRate) error {
	return r.cache.SetJSON(ctx, rateKey(rate.FromCurrency, rate.ToCurrency), rate, r.ttl)
}

func (r *rateCache) List(ctx context.Context) ([]*domain.ExchangeRate, error) {
	return nil, errors.New("rate cache does not support listing")
}
