package main

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	accountdomain "github.com/wyfcoding/banksettlement/internal/account/domain"
	treasuryapp "github.com/wyfcoding/banksettlement/internal/treasury/application"
)

var seedCurrencies = []string{"RSD", "EUR", "USD", "CHF"}

// seedAccounts 内存模式下的演示数据：每种货币一个本行账户，两个客户各一个本币账户
func seedAccounts(home string) []*accountdomain.Account {
	home = strings.ToUpper(home)
	var out []*accountdomain.Account
	for i, cur := range seedCurrencies {
		out = append(out, &accountdomain.Account{
			AccountNumber:    "111000000000000" + string(rune('1'+i)),
			OwnerName:        "Bank",
			Currency:         cur,
			Balance:          decimal.NewFromInt(1_000_000_000),
			AvailableBalance: decimal.NewFromInt(1_000_000_000),
			Status:           accountdomain.AccountStatusActive,
			Kind:             accountdomain.AccountKindBank,
		})
	}
	clients := []struct {
		number string
		id     int64
		name   string
	}{
		{"1110001000000011", 1, "Ana Petrović"},
		{"1110001000000022", 2, "Marko Jovanović"},
	}
	for _, c := range clients {
		out = append(out, &accountdomain.Account{
			AccountNumber:    c.number,
			ClientID:         c.id,
			OwnerName:        c.name,
			Currency:         home,
			Balance:          decimal.NewFromInt(100_000),
			AvailableBalance: decimal.NewFromInt(100_000),
			Status:           accountdomain.AccountStatusActive,
			Kind:             accountdomain.AccountKindClient,
		})
	}
	return out
}

func seedRates(ctx context.Context, resolver *treasuryapp.RateResolver) error {
	if resolver.HomeCurrency() != "RSD" {
		return nil
	}
	for _, cmd := range []treasuryapp.SaveRateCommand{
		{From: "EUR", To: "RSD", Rate: decimal.RequireFromString("117.20"), Source: "seed"},
		{From: "USD", To: "RSD", Rate: decimal.RequireFromString("108.50"), Source: "seed"},
		{From: "CHF", To: "RSD", Rate: decimal.RequireFromString("125.30"), Source: "seed"},
	} {
		if err := resolver.SaveRate(ctx, cmd); err != nil {
			return err
		}
	}
	return nil
}
