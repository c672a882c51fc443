// Package domain 账户与分类账的领域模型
package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrAccountNotFound 账户不存在
	ErrAccountNotFound = errors.New("account not found")
	// ErrInsufficientFunds 可用余额不足
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrInvalidAmount 金额必须为正
	ErrInvalidAmount = errors.New("amount must be positive")
)

// AccountStatus 账户状态
type AccountStatus string

const (
	AccountStatusActive   AccountStatus = "ACTIVE"
	AccountStatusInactive AccountStatus = "INACTIVE"
)

// AccountKind 账户类型
type AccountKind string

const (
	// AccountKindClient 客户账户
	AccountKindClient AccountKind = "CLIENT"
	// AccountKindBank 本行自有账户，每种货币一个，本币账户为清算账户
	AccountKindBank AccountKind = "BANK"
)

// Account 账户实体
// Balance 为账面余额，AvailableBalance 为扣除预留后的可用余额。
type Account struct {
	AccountNumber    string
	ClientID         int64
	OwnerName        string
	Currency         string
	Balance          decimal.Decimal
	AvailableBalance decimal.Decimal
	Status           AccountStatus
	Kind             AccountKind
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsActive 是否为活跃账户
func (a *Account) IsActive() bool {
	return a.Status == AccountStatusActive
}

// OwnedBy 是否属于指定客户
func (a *Account) OwnedBy(clientID int64) bool {
	return a.Kind == AccountKindClient && a.ClientID == clientID
}

// CanCover 可用余额是否足以支付 amount
func (a *Account) CanCover(amount decimal.Decimal) bool {
	return a.AvailableBalance.GreaterThanOrEqual(amount)
}

// Reserved 已预留但未扣账的金额
func (a *Account) Reserved() decimal.Decimal {
	return a.Balance.Sub(a.AvailableBalance)
}
