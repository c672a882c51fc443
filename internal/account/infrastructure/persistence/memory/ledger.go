// Package memory 进程内分类账，用于开发环境与测试
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/banksettlement/internal/account/domain"
)

// Ledger 基于 map 的分类账实现
type Ledger struct {
	mu       sync.RWMutex
	accounts map[string]*domain.Account
}

// NewLedger 创建内存分类账
func NewLedger(accounts ...*domain.Account) *Ledger {
	l := &Ledger{accounts: make(map[string]*domain.Account)}
	for _, a := range accounts {
		cp := *a
		l.accounts[a.AccountNumber] = &cp
	}
	return l
}

func (l *Ledger) FindByNumber(ctx context.Context, number string) (*domain.Account, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	a, ok := l.accounts[number]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (l *Ledger) FindBankAccount(ctx context.Context, currency string) (*domain.Account, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, a := range l.accounts {
		if a.Kind == domain.AccountKindBank && a.Currency == currency {
			cp := *a
			return &cp, nil
		}
	}
	return nil, domain.ErrAccountNotFound
}

func (l *Ledger) ListByClient(ctx context.Context, clientID int64) ([]*domain.Account, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []*domain.Account
	for _, a := range l.accounts {
		if a.Kind == domain.AccountKindClient && a.ClientID == clientID {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountNumber < out[j].AccountNumber })
	return out, nil
}

func (l *Ledger) Save(ctx context.Context, account *domain.Account) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := *account
	now := time.Now()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	l.accounts[account.AccountNumber] = &cp
	return nil
}

func (l *Ledger) Debit(ctx context.Context, number string, amount decimal.Decimal) error {
	return l.mutate(number, amount, func(a *domain.Account) error {
		if !a.CanCover(amount) {
			return domain.ErrInsufficientFunds
		}
		a.Balance = a.Balance.Sub(amount)
		a.AvailableBalance = a.AvailableBalance.Sub(amount)
		return nil
	})
}

func (l *Ledger) Credit(ctx context.Context, number string, amount decimal.Decimal) error {
	return l.mutate(number, amount, func(a *domain.Account) error {
		a.Balance = a.Balance.Add(amount)
		a.AvailableBalance = a.AvailableBalance.Add(amount)
		return nil
	})
}

func (l *Ledger) Reserve(ctx context.Context, number string, amount decimal.Decimal) error {
	return l.mutate(number, amount, func(a *domain.Account) error {
		if !a.CanCover(amount) {
			return domain.ErrInsufficientFunds
		}
		a.AvailableBalance = a.AvailableBalance.Sub(amount)
		return nil
	})
}

func (l *Ledger) Release(ctx context.Context, number string, amount decimal.Decimal) error {
	return l.mutate(number, amount, func(a *domain.Account) error {
		a.AvailableBalance = a.AvailableBalance.Add(amount)
		return nil
	})
}

func (l *Ledger) CaptureReserved(ctx context.Context, number string, amount decimal.Decimal) error {
	return l.mutate(number, amount, func(a *domain.Account) error {
		a.Balance = a.Balance.Sub(amount)
		return nil
	})
}

func (l *Ledger) ReverseCredit(ctx context.Context, number string, amount decimal.Decimal) (bool, error) {
	applied := false
	err := l.mutate(number, amount, func(a *domain.Account) error {
		if a.Balance.LessThan(amount) {
			return nil
		}
		a.Balance = a.Balance.Sub(amount)
		a.AvailableBalance = a.AvailableBalance.Sub(amount)
		applied = true
		return nil
	})
	return applied, err
}

func (l *Ledger) mutate(number string, amount decimal.Decimal, fn func(*domain.Account) error) error {
	if !amount.IsPositive() {
		return domain.ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.accounts[number]
	if !ok {
		return domain.ErrAccountNotFound
	}
	if err := fn(a); err != nil {
		return err
	}
	a.UpdatedAt = time.Now()
	return nil
}
