package persistence

import (
	"context"
	"errors"
	"log/slog"

	"github.com/wyfcoding/banksettlement/internal/treasury/domain"
)

type compositeRateRepository struct {
	store  domain.RateRepository
	cache  domain.RateRepository
	logger *slog.Logger
}

// NewCompositeRateRepository 数据库为准、缓存加速；缓存故障不影响读写
func NewCompositeRateRepository(store, cache domain.RateRepository, logger *slog.Logger) domain.RateRepository {
	return &compositeRateRepository{store: store, cache: cache, logger: logger}
}

func (r *compositeRateRepository) Get(ctx context.Context, from, to string) (*domain.ExchangeRate, error) {
	rate, err := r.cache.Get(ctx, from, to)
	if err == nil {
		return rate, nil
	}
	if !errors.Is(err, domain.ErrRateNotFound) {
		r.logger.WarnContext(ctx, "rate cache read failed", "from", from, "to", to, "error", err)
	}

	rate, err = r.store.Get(ctx, from, to)
	if err != nil {
		return nil, err
	}
	if err := r.cache.Save(ctx, rate); err != nil {
		r.logger.WarnContext(ctx, "rate cache backfill failed", "from", from, "to", to, "error", err)
	}
	return rate, nil
}

func (r *compositeRateRepository) Save(ctx context.Context, rate *domain.ExchangeRate) error {
	if err := r.store.Save(ctx, rate); err != nil {
		return err
	}
	if err := r.cache.Save(ctx, rate); err != nil {
		r.logger.WarnContext(ctx, "rate cache write failed", "from", rate.FromCurrency, "to", rate.ToCurrency, "error", err)
	}
	return nil
}

func (r *compositeRateRepository) List(ctx context.Context) ([]*domain.ExchangeRate, error) {
	return r.store.List(ctx)
}
