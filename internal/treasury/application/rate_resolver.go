package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/banksettlement/internal/treasury/domain"
)

var one = decimal.NewFromInt(1)

// legScale 推导出的桥接腿保留的小数位，与反向汇率一致
const legScale = 8

// ResolverConfig 汇率解析参数
type ResolverConfig struct {
	// 桥接货币（本币）
	HomeCurrency string
	// 佣金系数，作用于解析后的汇率一次
	Commission decimal.Decimal
	// 换算金额保留的小数位
	AmountScale int32
}

// RateResolver 汇率解析：直接汇率优先，否则经本币桥接
type RateResolver struct {
	repo   domain.RateRepository
	cfg    ResolverConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewRateResolver 创建汇率解析器
func NewRateResolver(repo domain.RateRepository, cfg ResolverConfig, logger *slog.Logger) *RateResolver {
	return &RateResolver{repo: repo, cfg: cfg, logger: logger, now: time.Now}
}

// HomeCurrency 返回桥接货币
func (s *RateResolver) HomeCurrency() string {
	return s.cfg.HomeCurrency
}

// Rate 含佣金的客户汇率，相同货币恒为 1
func (s *RateResolver) Rate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	if sameCurrency(from, to) {
		return one, nil
	}
	raw, err := s.MarketRate(ctx, from, to)
	if err != nil {
		return decimal.Zero, err
	}
	return raw.Mul(s.cfg.Commission), nil
}

// MarketRate 不含佣金的市场汇率
func (s *RateResolver) MarketRate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	from, to = strings.ToUpper(from), strings.ToUpper(to)
	if from == to {
		return one, nil
	}

	direct, err := s.lookup(ctx, from, to)
	if err == nil {
		return direct, nil
	}
	if !errors.Is(err, domain.ErrRateNotFound) {
		return decimal.Zero, err
	}

	home := s.cfg.HomeCurrency
	if from == home || to == home {
		return decimal.Zero, fmt.Errorf("%w: %s->%s", domain.ErrRateNotFound, from, to)
	}
	toHome, err := s.lookup(ctx, from, home)
	if err != nil {
		return decimal.Zero, fmt.Errorf("bridge leg %s->%s: %w", from, home, err)
	}
	fromHome, err := s.lookup(ctx, home, to)
	if err != nil {
		return decimal.Zero, fmt.Errorf("bridge leg %s->%s: %w", home, to, err)
	}
	return toHome.Mul(fromHome), nil
}

// Convert 按客户汇率换算金额并按配置小数位舍入
func (s *RateResolver) Convert(ctx context.Context, amount decimal.Decimal, from, to string) (decimal.Decimal, decimal.Decimal, error) {
	rate, err := s.Rate(ctx, from, to)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return amount.Mul(rate).Round(s.cfg.AmountScale), rate, nil
}

// ConvertAtMarket 按市场汇率换算，不含佣金
func (s *RateResolver) ConvertAtMarket(ctx context.Context, amount decimal.Decimal, from, to string) (decimal.Decimal, error) {
	rate, err := s.MarketRate(ctx, from, to)
	if err != nil {
		return decimal.Zero, err
	}
	return amount.Mul(rate).Round(s.cfg.AmountScale), nil
}

// SaveRateCommand 维护汇率命令
type SaveRateCommand struct {
	From      string
	To        string
	Rate      decimal.Decimal
	ExpiresAt *time.Time
	Source    string
}

// SaveRate 保存汇率；一端为本币时同时保存反向汇率，
// 交叉货币对只缺一条本币腿时补出该腿及其反向
func (s *RateResolver) SaveRate(ctx context.Context, cmd SaveRateCommand) error {
	if !cmd.Rate.IsPositive() {
		return domain.ErrInvalidRate
	}
	from, to := strings.ToUpper(cmd.From), strings.ToUpper(cmd.To)
	if len(from) != 3 || len(to) != 3 || from == to {
		return fmt.Errorf("invalid currency pair %s->%s", cmd.From, cmd.To)
	}

	rate := &domain.ExchangeRate{
		FromCurrency: from,
		ToCurrency:   to,
		Rate:         cmd.Rate,
		EffectiveAt:  s.now(),
		ExpiresAt:    cmd.ExpiresAt,
		Source:       cmd.Source,
	}
	if err := s.repo.Save(ctx, rate); err != nil {
		return fmt.Errorf("save rate %s->%s: %w", from, to, err)
	}
	if from == s.cfg.HomeCurrency || to == s.cfg.HomeCurrency {
		if err := s.repo.Save(ctx, rate.Inverse()); err != nil {
			return fmt.Errorf("save rate %s->%s: %w", to, from, err)
		}
	} else if err := s.deriveBridgeLeg(ctx, rate); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "exchange rate saved", "from", from, "to", to, "rate", cmd.Rate.String())
	return nil
}

// deriveBridgeLeg 按 from->to = (from->home)·(home->to) 补出缺失的一条腿。
// 两条腿都在或都缺时不做任何事。
func (s *RateResolver) deriveBridgeLeg(ctx context.Context, r *domain.ExchangeRate) error {
	home := s.cfg.HomeCurrency
	toHome, errTo := s.lookup(ctx, r.FromCurrency, home)
	if errTo != nil && !errors.Is(errTo, domain.ErrRateNotFound) {
		return errTo
	}
	fromHome, errFrom := s.lookup(ctx, home, r.ToCurrency)
	if errFrom != nil && !errors.Is(errFrom, domain.ErrRateNotFound) {
		return errFrom
	}

	leg := &domain.ExchangeRate{
		EffectiveAt: r.EffectiveAt,
		ExpiresAt:   r.ExpiresAt,
		Source:      r.Source,
	}
	switch {
	case errTo == nil && errFrom != nil:
		leg.FromCurrency, leg.ToCurrency = home, r.ToCurrency
		leg.Rate = r.Rate.DivRound(toHome, legScale)
	case errFrom == nil && errTo != nil:
		leg.FromCurrency, leg.ToCurrency = r.FromCurrency, home
		leg.Rate = r.Rate.DivRound(fromHome, legScale)
	default:
		return nil
	}
	if !leg.Rate.IsPositive() {
		return fmt.Errorf("%w: derived %s->%s", domain.ErrInvalidRate, leg.FromCurrency, leg.ToCurrency)
	}
	for _, x := range []*domain.ExchangeRate{leg, leg.Inverse()} {
		if err := s.repo.Save(ctx, x); err != nil {
			return fmt.Errorf("save derived rate %s->%s: %w", x.FromCurrency, x.ToCurrency, err)
		}
	}
	s.logger.InfoContext(ctx, "bridge leg derived", "from", leg.FromCurrency, "to", leg.ToCurrency, "rate", leg.Rate.String())
	return nil
}

// ListRates 列出当前汇率
func (s *RateResolver) ListRates(ctx context.Context) ([]*domain.ExchangeRate, error) {
	return s.repo.List(ctx)
}

func (s *RateResolver) lookup(ctx context.Context, from, to string) (decimal.Decimal, error) {
	r, err := s.repo.Get(ctx, from, to)
	if err != nil {
		return decimal.Zero, err
	}
	if !r.ValidAt(s.now()) {
		s.logger.WarnContext(ctx, "exchange rate outside validity window", "from", from, "to", to)
		return decimal.Zero, fmt.Errorf("%w: %s->%s expired", domain.ErrRateNotFound, from, to)
	}
	return r.Rate, nil
}

func sameCurrency(a, b string) bool {
	return strings.EqualFold(a, b)
}
