package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/banksettlement/internal/account/domain"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestLedger() *Ledger {
	return NewLedger(
		&domain.Account{AccountNumber: "111-A", ClientID: 1, Currency: "RSD", Balance: d("1000"), AvailableBalance: d("1000"), Status: domain.AccountStatusActive, Kind: domain.AccountKindClient},
		&domain.Account{AccountNumber: "111-BANK-RSD", Currency: "RSD", Balance: d("1000000"), AvailableBalance: d("1000000"), Status: domain.AccountStatusActive, Kind: domain.AccountKindBank},
	)
}

func TestDebitCredit(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger()

	if err := l.Debit(ctx, "111-A", d("400")); err != nil {
		t.Fatal(err)
	}
	if err := l.Debit(ctx, "111-A", d("700")); !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	if err := l.Credit(ctx, "111-A", d("50.25")); err != nil {
		t.Fatal(err)
	}
	a, _ := l.FindByNumber(ctx, "111-A")
	if !a.Balance.Equal(d("650.25")) || !a.AvailableBalance.Equal(d("650.25")) {
		t.Fatalf("balance = %s / %s", a.Balance, a.AvailableBalance)
	}

	if err := l.Credit(ctx, "nope", d("1")); !errors.Is(err, domain.ErrAccountNotFound) {
		t.Fatalf("err = %v, want ErrAccountNotFound", err)
	}
	if err := l.Credit(ctx, "111-A", d("0")); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Fatalf("err = %v, want ErrInvalidAmount", err)
	}
}

func TestReserveReleaseCapture(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger()

	if err := l.Reserve(ctx, "111-A", d("300")); err != nil {
		t.Fatal(err)
	}
	a, _ := l.FindByNumber(ctx, "111-A")
	if !a.Balance.Equal(d("1000")) || !a.AvailableBalance.Equal(d("700")) || !a.Reserved().Equal(d("300")) {
		t.Fatalf("after reserve: %s / %s", a.Balance, a.AvailableBalance)
	}

	if err := l.Reserve(ctx, "111-A", d("701")); !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("err = %v", err)
	}

	if err := l.Release(ctx, "111-A", d("300")); err != nil {
		t.Fatal(err)
	}
	a, _ = l.FindByNumber(ctx, "111-A")
	if !a.AvailableBalance.Equal(d("1000")) {
		t.Fatalf("release did not restore: %s", a.AvailableBalance)
	}

	_ = l.Reserve(ctx, "111-A", d("200"))
	if err := l.CaptureReserved(ctx, "111-A", d("200")); err != nil {
		t.Fatal(err)
	}
	a, _ = l.FindByNumber(ctx, "111-A")
	if !a.Balance.Equal(d("800")) || !a.AvailableBalance.Equal(d("800")) {
		t.Fatalf("after capture: %s / %s", a.Balance, a.AvailableBalance)
	}
}

func TestReverseCredit(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger()

	ok, err := l.ReverseCredit(ctx, "111-A", d("1500"))
	if err != nil || ok {
		t.Fatalf("reverse beyond balance: ok=%v err=%v", ok, err)
	}
	ok, err = l.ReverseCredit(ctx, "111-A", d("1000"))
	if err != nil || !ok {
		t.Fatalf("reverse: ok=%v err=%v", ok, err)
	}
	a, _ := l.FindByNumber(ctx, "111-A")
	if !a.Balance.IsZero() {
		t.Fatalf("balance = %s", a.Balance)
	}
}

func TestFindBankAccountAndCopies(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger()

	bank, err := l.FindBankAccount(ctx, "RSD")
	if err != nil || bank.AccountNumber != "111-BANK-RSD" {
		t.Fatalf("bank account = %+v, %v", bank, err)
	}
	if _, err := l.FindBankAccount(ctx, "JPY"); !errors.Is(err, domain.ErrAccountNotFound) {
		t.Fatalf("err = %v", err)
	}

	a, _ := l.FindByNumber(ctx, "111-A")
	a.Balance = d("1")
	again, _ := l.FindByNumber(ctx, "111-A")
	if !again.Balance.Equal(d("1000")) {
		t.Fatal("FindByNumber must return a copy")
	}

	accs, _ := l.ListByClient(ctx, 1)
	if len(accs) != 1 {
		t.Fatalf("ListByClient = %d accounts", len(accs))
	}
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger()

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Debit(ctx, "111-A", d("100")); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != 10 {
		t.Fatalf("succeeded = %d, want 10", succeeded)
	}
	a, _ := l.FindByNumber(ctx, "111-A")
	if !a.Balance.IsZero() {
		t.Fatalf("balance = %s", a.Balance)
	}
}
