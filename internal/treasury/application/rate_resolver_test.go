package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/banksettlement/internal/treasury/domain"
	"github.com/wyfcoding/banksettlement/internal/treasury/infrastructure/persistence/memory"
	"github.com/wyfcoding/banksettlement/pkg/logger"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newResolver(t *testing.T) (*RateResolver, *memory.RateRepository) {
	t.Helper()
	repo := memory.NewRateRepository()
	r := NewRateResolver(repo, ResolverConfig{HomeCurrency: "RSD", Commission: d("0.99"), AmountScale: 2}, logger.Discard())
	ctx := context.Background()
	for _, cmd := range []SaveRateCommand{
		{From: "EUR", To: "RSD", Rate: d("117.2")},
		{From: "USD", To: "RSD", Rate: d("108.5")},
		{From: "EUR", To: "USD", Rate: d("1.08")},
	} {
		if err := r.SaveRate(ctx, cmd); err != nil {
			t.Fatalf("SaveRate: %v", err)
		}
	}
	return r, repo
}

func TestRateIdentity(t *testing.T) {
	r, _ := newResolver(t)
	for _, c := range []string{"RSD", "EUR", "XAU"} {
		rate, err := r.Rate(context.Background(), c, c)
		if err != nil || !rate.Equal(decimal.NewFromInt(1)) {
			t.Fatalf("Rate(%s,%s) = %s, %v", c, c, rate, err)
		}
	}
}

func TestRateDirectAppliesCommissionOnce(t *testing.T) {
	r, _ := newResolver(t)
	rate, err := r.Rate(context.Background(), "EUR", "USD")
	if err != nil {
		t.Fatal(err)
	}
	if !rate.Equal(d("1.0692")) {
		t.Fatalf("rate = %s, want 1.0692", rate)
	}
	market, _ := r.MarketRate(context.Background(), "EUR", "USD")
	if !market.Equal(d("1.08")) {
		t.Fatalf("market = %s", market)
	}
}

func TestRateBridged(t *testing.T) {
	r, repo := newResolver(t)
	ctx := context.Background()
	_ = repo.Save(ctx, &domain.ExchangeRate{FromCurrency: "CHF", ToCurrency: "RSD", Rate: d("125"), EffectiveAt: time.Now().Add(-time.Hour)})

	rate, err := r.Rate(ctx, "CHF", "USD")
	if err != nil {
		t.Fatal(err)
	}
	rsdUSD, _ := repo.Get(ctx, "RSD", "USD")
	legs := d("125").Mul(rsdUSD.Rate)
	if !rate.Equal(legs.Mul(d("0.99"))) {
		t.Fatalf("bridged = %s, want legs·0.99 = %s", rate, legs.Mul(d("0.99")))
	}
	if !rate.LessThan(legs) {
		t.Fatalf("bridged %s must be below raw product %s", rate, legs)
	}
}

func TestRateNotFound(t *testing.T) {
	r, _ := newResolver(t)
	ctx := context.Background()
	for _, pair := range [][2]string{{"JPY", "USD"}, {"RSD", "JPY"}, {"JPY", "RSD"}} {
		if _, err := r.Rate(ctx, pair[0], pair[1]); !errors.Is(err, domain.ErrRateNotFound) {
			t.Errorf("Rate(%s,%s) err = %v", pair[0], pair[1], err)
		}
	}
}

func TestRateExpired(t *testing.T) {
	r, repo := newResolver(t)
	ctx := context.Background()
	past := time.Now().Add(-time.Minute)
	_ = repo.Save(ctx, &domain.ExchangeRate{FromCurrency: "GBP", ToCurrency: "RSD", Rate: d("140"), EffectiveAt: past.Add(-time.Hour), ExpiresAt: &past})

	if _, err := r.Rate(ctx, "GBP", "RSD"); !errors.Is(err, domain.ErrRateNotFound) {
		t.Fatalf("expired rate err = %v", err)
	}
}

func TestSaveRateDerivesBridgeInverse(t *testing.T) {
	r, repo := newResolver(t)
	inv, err := repo.Get(context.Background(), "RSD", "EUR")
	if err != nil {
		t.Fatal(err)
	}
	if !inv.Rate.Equal(decimal.NewFromInt(1).DivRound(d("117.2"), 8)) {
		t.Fatalf("inverse = %s", inv.Rate)
	}
	// 非本币货币对不生成反向汇率
	if _, err := repo.Get(context.Background(), "USD", "EUR"); !errors.Is(err, domain.ErrRateNotFound) {
		t.Fatalf("unexpected inverse for cross pair: %v", err)
	}

	if err := r.SaveRate(context.Background(), SaveRateCommand{From: "EUR", To: "USD", Rate: d("0")}); !errors.Is(err, domain.ErrInvalidRate) {
		t.Fatalf("zero rate err = %v", err)
	}
	if err := r.SaveRate(context.Background(), SaveRateCommand{From: "EUR", To: "eur", Rate: d("1")}); err == nil {
		t.Fatal("same currency pair accepted")
	}
}

func TestSaveRateDerivesMissingBridgeLeg(t *testing.T) {
	r, repo := newResolver(t)
	ctx := context.Background()
	if err := r.SaveRate(ctx, SaveRateCommand{From: "GBP", To: "RSD", Rate: d("140")}); err != nil {
		t.Fatal(err)
	}
	// 只有 GBP->RSD，保存 GBP->CHF 后补出 RSD->CHF 与 CHF->RSD
	if err := r.SaveRate(ctx, SaveRateCommand{From: "GBP", To: "CHF", Rate: d("1.12")}); err != nil {
		t.Fatal(err)
	}
	leg, err := repo.Get(ctx, "RSD", "CHF")
	if err != nil || !leg.Rate.Equal(d("0.008")) {
		t.Fatalf("RSD->CHF = %+v, %v", leg, err)
	}
	back, err := repo.Get(ctx, "CHF", "RSD")
	if err != nil || !back.Rate.Equal(d("125")) {
		t.Fatalf("CHF->RSD = %+v, %v", back, err)
	}

	// 反方向经本币桥接
	rate, err := r.MarketRate(ctx, "CHF", "GBP")
	if err != nil {
		t.Fatal(err)
	}
	want := d("125").Mul(decimal.NewFromInt(1).DivRound(d("140"), 8))
	if !rate.Equal(want) {
		t.Fatalf("CHF->GBP = %s, want %s", rate, want)
	}

	// 两条腿都缺时不推导
	if err := r.SaveRate(ctx, SaveRateCommand{From: "JPY", To: "KRW", Rate: d("9.1")}); err != nil {
		t.Fatal(err)
	}
	for _, pair := range [][2]string{{"JPY", "RSD"}, {"RSD", "KRW"}} {
		if _, err := repo.Get(ctx, pair[0], pair[1]); !errors.Is(err, domain.ErrRateNotFound) {
			t.Fatalf("%s->%s derived without a leg: %v", pair[0], pair[1], err)
		}
	}
}

func TestConvertAtMarketSkipsCommission(t *testing.T) {
	r, _ := newResolver(t)
	amount, err := r.ConvertAtMarket(context.Background(), d("100"), "EUR", "RSD")
	if err != nil || !amount.Equal(d("11720")) {
		t.Fatalf("amount = %s, %v", amount, err)
	}
	same, err := r.ConvertAtMarket(context.Background(), d("10"), "EUR", "EUR")
	if err != nil || !same.Equal(d("10")) {
		t.Fatalf("identity = %s, %v", same, err)
	}
}

func TestConvertRounds(t *testing.T) {
	r, _ := newResolver(t)
	amount, rate, err := r.Convert(context.Background(), d("100"), "EUR", "RSD")
	if err != nil {
		t.Fatal(err)
	}
	// 100 * 117.2 * 0.99 = 11602.8
	if !amount.Equal(d("11602.80")) || !rate.Equal(d("116.028")) {
		t.Fatalf("amount = %s rate = %s", amount, rate)
	}

	same, rate, _ := r.Convert(context.Background(), d("12.345"), "RSD", "RSD")
	if !same.Equal(d("12.35")) || !rate.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("identity convert = %s @ %s", same, rate)
	}
}
